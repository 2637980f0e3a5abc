// Package store is the durable append/query layer for documents,
// processing records, validation tickets, and audit events.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/docuhealth/docpipe/internal/models"
)

var (
	// ErrDuplicateRecord means a processing record for the document id
	// already committed. Callers treat it as "already processed", not as
	// a failure.
	ErrDuplicateRecord = errors.New("duplicate processing record")
	// ErrNotFound marks a missing document, record, or ticket.
	ErrNotFound = errors.New("not found")
)

// Aggregates is the data the dashboard derives its figures from, read as
// one consistent snapshot.
type Aggregates struct {
	WindowRecords []models.ProcessingRecord
	AllRecords    []models.ProcessingRecord
	OpenTickets   []models.ValidationTicket
}

// Store is implemented by the Firestore store and the in-memory store.
// All methods are safe for concurrent use; writes for different document
// ids never block each other.
type Store interface {
	// CreateDocument persists an immutable document record.
	CreateDocument(ctx context.Context, doc models.Document) error
	GetDocument(ctx context.Context, id string) (models.Document, error)

	// CommitOutcome atomically writes one processing record, an optional
	// validation ticket, and one audit event. The record keyed by
	// DocumentID is create-only: the first writer wins and later commits
	// fail with ErrDuplicateRecord. A concurrent reader sees either all
	// three writes or none.
	CommitOutcome(ctx context.Context, rec models.ProcessingRecord, ticket *models.ValidationTicket, audit models.AuditEvent) error

	// FinalizeRecord replaces a Queued record with its terminal form,
	// again atomically with the optional ticket and the audit event.
	// Finalizing a record that is already terminal fails with
	// ErrDuplicateRecord.
	FinalizeRecord(ctx context.Context, rec models.ProcessingRecord, ticket *models.ValidationTicket, audit models.AuditEvent) error

	GetRecord(ctx context.Context, documentID string) (models.ProcessingRecord, error)
	// ListRecords returns records with StartedAt >= since; a zero since
	// returns everything.
	ListRecords(ctx context.Context, since time.Time) ([]models.ProcessingRecord, error)

	// ListOpenTickets returns tickets not yet Resolved.
	ListOpenTickets(ctx context.Context) ([]models.ValidationTicket, error)

	// ReadAggregates returns one point-in-time view of every record, the
	// records with StartedAt >= since, and the open tickets. A concurrent
	// CommitOutcome or FinalizeRecord is either fully visible in the view
	// or absent from it entirely.
	ReadAggregates(ctx context.Context, since time.Time) (Aggregates, error)

	// AppendAudit writes a standalone audit event (for state changes that
	// do not ride a record commit).
	AppendAudit(ctx context.Context, ev models.AuditEvent) error
	// ListAudit returns the newest events first.
	ListAudit(ctx context.Context, limit int) ([]models.AuditEvent, error)
}
