package services

import (
	"context"
	"testing"
	"time"

	"github.com/docuhealth/docpipe/internal/models"
	"github.com/docuhealth/docpipe/internal/store"
)

func seedTicketWithDocument(t *testing.T, mem *store.Memory, ticketID string, priority models.TicketPriority, dueAt time.Time) {
	t.Helper()
	docID := "doc-" + ticketID
	doc := models.Document{
		ID:           docID,
		Filename:     ticketID + ".pdf",
		MimeType:     "application/pdf",
		DeclaredType: models.DocTypeLab,
		Department:   "pathology",
		UploadedBy:   "megha.rao",
		CreatedAt:    dueAt.Add(-2 * time.Hour),
	}
	if err := mem.CreateDocument(context.Background(), doc); err != nil {
		t.Fatalf("seed document: %v", err)
	}
	completedAt := dueAt.Add(-time.Hour)
	rec := models.ProcessingRecord{
		DocumentID:  docID,
		Mode:        models.ModeInline,
		Status:      models.StatusCompleted,
		StartedAt:   completedAt.Add(-time.Minute),
		CompletedAt: &completedAt,
	}
	ticket := &models.ValidationTicket{
		ID:         ticketID,
		DocumentID: docID,
		Priority:   priority,
		DueAt:      dueAt,
		Status:     models.TicketPending,
		CreatedAt:  completedAt,
	}
	audit := models.AuditEvent{ID: "audit-" + ticketID, EventType: "document.processed", Actor: "seed", CreatedAt: completedAt}
	if err := mem.CommitOutcome(context.Background(), rec, ticket, audit); err != nil {
		t.Fatalf("seed ticket: %v", err)
	}
}

func TestValidationQueueOrdering(t *testing.T) {
	mem := store.NewMemory()
	base := time.Date(2024, time.March, 13, 9, 0, 0, 0, time.UTC)

	seedTicketWithDocument(t, mem, "normal-early", models.PriorityNormal, base.Add(time.Hour))
	seedTicketWithDocument(t, mem, "high-late", models.PriorityHigh, base.Add(3*time.Hour))
	seedTicketWithDocument(t, mem, "high-early", models.PriorityHigh, base.Add(30*time.Minute))
	seedTicketWithDocument(t, mem, "normal-late", models.PriorityNormal, base.Add(4*time.Hour))

	q := NewValidationQueue(mem)
	queue, err := q.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	wantOrder := []string{"high-early", "high-late", "normal-early", "normal-late"}
	if len(queue) != len(wantOrder) {
		t.Fatalf("queue length = %d, want %d", len(queue), len(wantOrder))
	}
	for i, want := range wantOrder {
		if queue[i].Ticket.ID != want {
			t.Errorf("queue[%d] = %s, want %s", i, queue[i].Ticket.ID, want)
		}
	}
	if queue[0].Document.Filename != "high-early.pdf" {
		t.Errorf("joined document filename = %q", queue[0].Document.Filename)
	}
}

func TestValidationQueueLimit(t *testing.T) {
	mem := store.NewMemory()
	base := time.Date(2024, time.March, 13, 9, 0, 0, 0, time.UTC)
	seedTicketWithDocument(t, mem, "a", models.PriorityHigh, base)
	seedTicketWithDocument(t, mem, "b", models.PriorityNormal, base)
	seedTicketWithDocument(t, mem, "c", models.PriorityNormal, base.Add(time.Hour))

	q := NewValidationQueue(mem)
	queue, err := q.List(context.Background(), 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(queue) != 2 {
		t.Fatalf("queue length = %d, want 2", len(queue))
	}
	if queue[0].Ticket.ID != "a" || queue[1].Ticket.ID != "b" {
		t.Errorf("queue = [%s %s], want [a b]", queue[0].Ticket.ID, queue[1].Ticket.ID)
	}
}

func TestValidationQueueSkipsOrphanedTickets(t *testing.T) {
	mem := store.NewMemory()
	base := time.Date(2024, time.March, 13, 9, 0, 0, 0, time.UTC)
	seedTicketWithDocument(t, mem, "good", models.PriorityNormal, base)

	// Ticket whose document was never written.
	rec := models.ProcessingRecord{DocumentID: "ghost-doc", Mode: models.ModeInline, Status: models.StatusCompleted, StartedAt: base, CompletedAt: &base}
	orphan := &models.ValidationTicket{ID: "orphan", DocumentID: "ghost-doc", Priority: models.PriorityHigh, DueAt: base, Status: models.TicketPending, CreatedAt: base}
	audit := models.AuditEvent{ID: "audit-orphan", EventType: "document.processed", Actor: "seed", CreatedAt: base}
	if err := mem.CommitOutcome(context.Background(), rec, orphan, audit); err != nil {
		t.Fatalf("seed orphan: %v", err)
	}

	q := NewValidationQueue(mem)
	queue, err := q.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(queue) != 1 || queue[0].Ticket.ID != "good" {
		t.Errorf("queue = %+v, want only the ticket with a document", queue)
	}
}
