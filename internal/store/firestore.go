package store

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/docuhealth/docpipe/internal/config"
	"github.com/docuhealth/docpipe/internal/models"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Firestore is the production Store. Processing records are keyed by
// document id and written with create semantics, which is what enforces
// the 1:1 Document->ProcessingRecord relationship.
type Firestore struct {
	client    *firestore.Client
	documents string
	records   string
	tickets   string
	audit     string
}

func NewFirestore(client *firestore.Client, inf config.Infra) *Firestore {
	return &Firestore{
		client:    client,
		documents: inf.DocumentsCollection,
		records:   inf.RecordsCollection,
		tickets:   inf.TicketsCollection,
		audit:     inf.AuditCollection,
	}
}

func (s *Firestore) CreateDocument(ctx context.Context, doc models.Document) error {
	_, err := s.client.Collection(s.documents).Doc(doc.ID).Create(ctx, doc)
	if err != nil {
		return fmt.Errorf("create document %s: %w", doc.ID, err)
	}
	return nil
}

func (s *Firestore) GetDocument(ctx context.Context, id string) (models.Document, error) {
	snap, err := s.client.Collection(s.documents).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return models.Document{}, fmt.Errorf("%w: document %s", ErrNotFound, id)
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("get document %s: %w", id, err)
	}
	var doc models.Document
	if err := snap.DataTo(&doc); err != nil {
		return models.Document{}, fmt.Errorf("decode document %s: %w", id, err)
	}
	return doc, nil
}

func (s *Firestore) CommitOutcome(ctx context.Context, rec models.ProcessingRecord, ticket *models.ValidationTicket, audit models.AuditEvent) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Create(s.client.Collection(s.records).Doc(rec.DocumentID), rec); err != nil {
			return err
		}
		if ticket != nil {
			if err := tx.Create(s.client.Collection(s.tickets).Doc(ticket.ID), *ticket); err != nil {
				return err
			}
		}
		return tx.Create(s.client.Collection(s.audit).Doc(audit.ID), audit)
	})
	if status.Code(err) == codes.AlreadyExists {
		return fmt.Errorf("%w: document %s", ErrDuplicateRecord, rec.DocumentID)
	}
	if err != nil {
		return fmt.Errorf("commit outcome for %s: %w", rec.DocumentID, err)
	}
	return nil
}

func (s *Firestore) FinalizeRecord(ctx context.Context, rec models.ProcessingRecord, ticket *models.ValidationTicket, audit models.AuditEvent) error {
	recRef := s.client.Collection(s.records).Doc(rec.DocumentID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(recRef)
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: record %s", ErrNotFound, rec.DocumentID)
		}
		if err != nil {
			return err
		}
		var existing models.ProcessingRecord
		if err := snap.DataTo(&existing); err != nil {
			return err
		}
		if existing.Status != models.StatusQueued {
			return fmt.Errorf("%w: record %s already %s", ErrDuplicateRecord, rec.DocumentID, existing.Status)
		}
		if err := tx.Set(recRef, rec); err != nil {
			return err
		}
		if ticket != nil {
			if err := tx.Create(s.client.Collection(s.tickets).Doc(ticket.ID), *ticket); err != nil {
				return err
			}
		}
		return tx.Create(s.client.Collection(s.audit).Doc(audit.ID), audit)
	})
	if err != nil {
		return fmt.Errorf("finalize record %s: %w", rec.DocumentID, err)
	}
	return nil
}

func (s *Firestore) GetRecord(ctx context.Context, documentID string) (models.ProcessingRecord, error) {
	snap, err := s.client.Collection(s.records).Doc(documentID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return models.ProcessingRecord{}, fmt.Errorf("%w: record %s", ErrNotFound, documentID)
	}
	if err != nil {
		return models.ProcessingRecord{}, fmt.Errorf("get record %s: %w", documentID, err)
	}
	var rec models.ProcessingRecord
	if err := snap.DataTo(&rec); err != nil {
		return models.ProcessingRecord{}, fmt.Errorf("decode record %s: %w", documentID, err)
	}
	return rec, nil
}

func (s *Firestore) ListRecords(ctx context.Context, since time.Time) ([]models.ProcessingRecord, error) {
	q := s.client.Collection(s.records).Query
	if !since.IsZero() {
		q = q.Where("startedAt", ">=", since)
	}
	snaps, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	recs := make([]models.ProcessingRecord, 0, len(snaps))
	for _, snap := range snaps {
		var rec models.ProcessingRecord
		if err := snap.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", snap.Ref.ID, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (s *Firestore) ListOpenTickets(ctx context.Context) ([]models.ValidationTicket, error) {
	q := s.client.Collection(s.tickets).
		Where("status", "in", []string{string(models.TicketPending), string(models.TicketInReview)})
	snaps, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("list open tickets: %w", err)
	}
	tickets := make([]models.ValidationTicket, 0, len(snaps))
	for _, snap := range snaps {
		var t models.ValidationTicket
		if err := snap.DataTo(&t); err != nil {
			return nil, fmt.Errorf("decode ticket %s: %w", snap.Ref.ID, err)
		}
		tickets = append(tickets, t)
	}
	return tickets, nil
}

// ReadAggregates runs both queries inside one read-only transaction, so
// every slice reflects the same database snapshot. The window slice is
// carved out of the full record read rather than queried separately.
func (s *Firestore) ReadAggregates(ctx context.Context, since time.Time) (Aggregates, error) {
	var agg Aggregates
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		agg = Aggregates{}

		snaps, err := tx.Documents(s.client.Collection(s.records).Query).GetAll()
		if err != nil {
			return fmt.Errorf("list records: %w", err)
		}
		for _, snap := range snaps {
			var rec models.ProcessingRecord
			if err := snap.DataTo(&rec); err != nil {
				return fmt.Errorf("decode record %s: %w", snap.Ref.ID, err)
			}
			agg.AllRecords = append(agg.AllRecords, rec)
			if since.IsZero() || !rec.StartedAt.Before(since) {
				agg.WindowRecords = append(agg.WindowRecords, rec)
			}
		}

		ticketQ := s.client.Collection(s.tickets).
			Where("status", "in", []string{string(models.TicketPending), string(models.TicketInReview)})
		tsnaps, err := tx.Documents(ticketQ).GetAll()
		if err != nil {
			return fmt.Errorf("list open tickets: %w", err)
		}
		for _, snap := range tsnaps {
			var t models.ValidationTicket
			if err := snap.DataTo(&t); err != nil {
				return fmt.Errorf("decode ticket %s: %w", snap.Ref.ID, err)
			}
			agg.OpenTickets = append(agg.OpenTickets, t)
		}
		return nil
	}, firestore.ReadOnly)
	if err != nil {
		return Aggregates{}, fmt.Errorf("read aggregates: %w", err)
	}
	return agg, nil
}

func (s *Firestore) AppendAudit(ctx context.Context, ev models.AuditEvent) error {
	if _, err := s.client.Collection(s.audit).Doc(ev.ID).Create(ctx, ev); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *Firestore) ListAudit(ctx context.Context, limit int) ([]models.AuditEvent, error) {
	q := s.client.Collection(s.audit).OrderBy("createdAt", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	snaps, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	events := make([]models.AuditEvent, 0, len(snaps))
	for _, snap := range snaps {
		var ev models.AuditEvent
		if err := snap.DataTo(&ev); err != nil {
			return nil, fmt.Errorf("decode audit event %s: %w", snap.Ref.ID, err)
		}
		events = append(events, ev)
	}
	return events, nil
}
