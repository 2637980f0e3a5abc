package services

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/docuhealth/docpipe/internal/models"
	"github.com/docuhealth/docpipe/internal/store"
)

// ValidationQueue serves the human-review worklist.
type ValidationQueue struct {
	store store.Store
}

func NewValidationQueue(st store.Store) *ValidationQueue {
	return &ValidationQueue{store: st}
}

// List returns open tickets ordered High before Normal, earliest due
// first within a priority, each joined with its document summary. A
// limit of 0 returns the whole queue.
func (q *ValidationQueue) List(ctx context.Context, limit int) ([]models.QueuedTicket, error) {
	tickets, err := q.store.ListOpenTickets(ctx)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(tickets, func(i, j int) bool {
		if tickets[i].Priority != tickets[j].Priority {
			return tickets[i].Priority == models.PriorityHigh
		}
		return tickets[i].DueAt.Before(tickets[j].DueAt)
	})
	if limit > 0 && len(tickets) > limit {
		tickets = tickets[:limit]
	}

	queue := make([]models.QueuedTicket, 0, len(tickets))
	for _, t := range tickets {
		doc, err := q.store.GetDocument(ctx, t.DocumentID)
		if errors.Is(err, store.ErrNotFound) {
			// A ticket without its document is a data defect; skip it
			// rather than fail the whole queue.
			slog.Warn("Ticket references missing document.", "ticketId", t.ID, "documentId", t.DocumentID)
			continue
		}
		if err != nil {
			return nil, err
		}
		queue = append(queue, models.QueuedTicket{Ticket: t, Document: doc})
	}
	return queue, nil
}
