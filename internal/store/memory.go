package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/docuhealth/docpipe/internal/models"
)

// Memory is an in-process Store used by tests and local development. One
// mutex spans each commit, giving it the same all-or-nothing visibility as
// the Firestore transaction.
type Memory struct {
	mu        sync.RWMutex
	documents map[string]models.Document
	records   map[string]models.ProcessingRecord
	tickets   map[string]models.ValidationTicket
	audit     []models.AuditEvent
}

func NewMemory() *Memory {
	return &Memory{
		documents: make(map[string]models.Document),
		records:   make(map[string]models.ProcessingRecord),
		tickets:   make(map[string]models.ValidationTicket),
	}
}

func (s *Memory) CreateDocument(_ context.Context, doc models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[doc.ID]; ok {
		return fmt.Errorf("create document %s: already exists", doc.ID)
	}
	s.documents[doc.ID] = doc
	return nil
}

func (s *Memory) GetDocument(_ context.Context, id string) (models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return models.Document{}, fmt.Errorf("%w: document %s", ErrNotFound, id)
	}
	return doc, nil
}

func (s *Memory) CommitOutcome(_ context.Context, rec models.ProcessingRecord, ticket *models.ValidationTicket, audit models.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.DocumentID]; ok {
		return fmt.Errorf("%w: document %s", ErrDuplicateRecord, rec.DocumentID)
	}
	s.records[rec.DocumentID] = cloneRecord(rec)
	if ticket != nil {
		s.tickets[ticket.ID] = *ticket
	}
	s.audit = append(s.audit, audit)
	return nil
}

func (s *Memory) FinalizeRecord(_ context.Context, rec models.ProcessingRecord, ticket *models.ValidationTicket, audit models.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.records[rec.DocumentID]
	if !ok {
		return fmt.Errorf("%w: record %s", ErrNotFound, rec.DocumentID)
	}
	if existing.Status != models.StatusQueued {
		return fmt.Errorf("%w: record %s already %s", ErrDuplicateRecord, rec.DocumentID, existing.Status)
	}
	s.records[rec.DocumentID] = cloneRecord(rec)
	if ticket != nil {
		s.tickets[ticket.ID] = *ticket
	}
	s.audit = append(s.audit, audit)
	return nil
}

func (s *Memory) GetRecord(_ context.Context, documentID string) (models.ProcessingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[documentID]
	if !ok {
		return models.ProcessingRecord{}, fmt.Errorf("%w: record %s", ErrNotFound, documentID)
	}
	return cloneRecord(rec), nil
}

func (s *Memory) ListRecords(_ context.Context, since time.Time) ([]models.ProcessingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := make([]models.ProcessingRecord, 0, len(s.records))
	for _, rec := range s.records {
		if since.IsZero() || !rec.StartedAt.Before(since) {
			recs = append(recs, cloneRecord(rec))
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].StartedAt.Before(recs[j].StartedAt) })
	return recs, nil
}

func (s *Memory) ListOpenTickets(_ context.Context) ([]models.ValidationTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var tickets []models.ValidationTicket
	for _, t := range s.tickets {
		if t.Status != models.TicketResolved {
			tickets = append(tickets, t)
		}
	}
	sort.Slice(tickets, func(i, j int) bool { return tickets[i].CreatedAt.Before(tickets[j].CreatedAt) })
	return tickets, nil
}

// ReadAggregates serves the dashboard from a single lock hold; the view
// it returns is the store at one instant.
func (s *Memory) ReadAggregates(_ context.Context, since time.Time) (Aggregates, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg := Aggregates{
		AllRecords:    make([]models.ProcessingRecord, 0, len(s.records)),
		WindowRecords: make([]models.ProcessingRecord, 0, len(s.records)),
	}
	for _, rec := range s.records {
		clone := cloneRecord(rec)
		agg.AllRecords = append(agg.AllRecords, clone)
		if since.IsZero() || !rec.StartedAt.Before(since) {
			agg.WindowRecords = append(agg.WindowRecords, clone)
		}
	}
	sort.Slice(agg.AllRecords, func(i, j int) bool {
		return agg.AllRecords[i].StartedAt.Before(agg.AllRecords[j].StartedAt)
	})
	sort.Slice(agg.WindowRecords, func(i, j int) bool {
		return agg.WindowRecords[i].StartedAt.Before(agg.WindowRecords[j].StartedAt)
	})

	for _, t := range s.tickets {
		if t.Status != models.TicketResolved {
			agg.OpenTickets = append(agg.OpenTickets, t)
		}
	}
	sort.Slice(agg.OpenTickets, func(i, j int) bool {
		return agg.OpenTickets[i].CreatedAt.Before(agg.OpenTickets[j].CreatedAt)
	})
	return agg, nil
}

func (s *Memory) AppendAudit(_ context.Context, ev models.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, ev)
	return nil
}

func (s *Memory) ListAudit(_ context.Context, limit int) ([]models.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := make([]models.AuditEvent, len(s.audit))
	copy(events, s.audit)
	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.After(events[j].CreatedAt) })
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// cloneRecord copies pointer fields so callers cannot alias stored state.
func cloneRecord(rec models.ProcessingRecord) models.ProcessingRecord {
	if rec.ConfidenceScore != nil {
		v := *rec.ConfidenceScore
		rec.ConfidenceScore = &v
	}
	if rec.CompletedAt != nil {
		t := *rec.CompletedAt
		rec.CompletedAt = &t
	}
	return rec
}

var _ Store = (*Memory)(nil)
var _ Store = (*Firestore)(nil)
