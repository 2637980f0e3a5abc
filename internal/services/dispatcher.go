package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/docuhealth/docpipe/internal/config"
	"github.com/docuhealth/docpipe/internal/docai"
	"github.com/docuhealth/docpipe/internal/models"
	"github.com/docuhealth/docpipe/internal/stager"
	"github.com/docuhealth/docpipe/internal/store"
	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// ErrPayloadTooLargeForSync is returned when a caller forces synchronous
// handling of an object that exceeds the inline ceiling. No upstream call
// is attempted; the caller must re-submit without the sync flag.
var ErrPayloadTooLargeForSync = errors.New("payload too large for synchronous processing")

// DispatchInput is one document to route, either as raw bytes or as a
// locator into the staging store. Exactly one of Content and Locator is set.
type DispatchInput struct {
	Content      []byte
	Locator      string
	Filename     string
	MimeType     string
	DeclaredType models.DocumentType
	Department   string
	UploadedBy   string
	Channel      models.IngestionChannel
	SyncHint     bool
	// Await applies to the batch path only: when false the dispatcher
	// returns a Queued record right after starting the job.
	Await bool
}

// Dispatcher routes documents through inline or batch processing and
// commits exactly one ProcessingRecord and one AuditEvent per terminal
// outcome. Invocations share no mutable state, so any number may run
// concurrently.
type Dispatcher struct {
	stager     ObjectStager
	processor  DocumentProcessor
	store      store.Store
	policy     *config.Policy
	outputBase string

	now   func() time.Time
	newID func() string
}

// NewDispatcher wires the dispatcher's collaborators. outputBase is the
// gs:// prefix under which batch output areas are allocated.
func NewDispatcher(stg ObjectStager, proc DocumentProcessor, st store.Store, policy *config.Policy, outputBase string) *Dispatcher {
	return &Dispatcher{
		stager:     stg,
		processor:  proc,
		store:      st,
		policy:     policy,
		outputBase: strings.TrimSuffix(outputBase, "/"),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Dispatch ingests one document and drives it to its record. Synchronous
// paths return the terminal record; the non-awaited batch path returns a
// Queued record the caller may resolve later.
func (d *Dispatcher) Dispatch(ctx context.Context, in DispatchInput) (models.Document, models.ProcessingRecord, error) {
	if (len(in.Content) == 0) == (in.Locator == "") {
		return models.Document{}, models.ProcessingRecord{}, fmt.Errorf("dispatch requires exactly one of content and locator")
	}
	if in.MimeType == "" {
		return models.Document{}, models.ProcessingRecord{}, fmt.Errorf("dispatch requires a mime type")
	}

	now := d.now()
	doc := models.Document{
		ID:               d.newID(),
		Filename:         in.Filename,
		MimeType:         in.MimeType,
		SizeBytes:        int64(len(in.Content)),
		DeclaredType:     in.DeclaredType,
		Department:       in.Department,
		IngestionChannel: in.Channel,
		UploadedBy:       in.UploadedBy,
		PageCount:        pdfPageCount(in.Content, in.MimeType),
		CreatedAt:        now,
	}
	if err := d.store.CreateDocument(ctx, doc); err != nil {
		return models.Document{}, models.ProcessingRecord{}, err
	}

	log := slog.With("documentId", doc.ID, "filename", doc.Filename)

	// Decision table, first match wins.
	switch {
	case in.Locator != "" && in.SyncHint:
		rec, err := d.inlineFromLocator(ctx, log, doc, in)
		return doc, rec, err
	case in.Locator != "":
		rec, err := d.batch(ctx, log, doc, in, in.Locator, now)
		return doc, rec, err
	case doc.SizeBytes <= d.policy.SyncLimitBytes:
		// Fast path: no staging I/O.
		log.Info("Dispatching inline.", "sizeBytes", doc.SizeBytes)
		ex, err := d.processor.ProcessInline(ctx, in.Content, in.MimeType)
		if err != nil {
			return doc, d.failed(ctx, log, doc, in, models.ModeInline, "", now, err), err
		}
		rec, err := d.completed(ctx, log, doc, in.UploadedBy, models.ModeInline, "", now, ex)
		return doc, rec, err
	default:
		log.Info("Staging for batch.", "sizeBytes", doc.SizeBytes)
		inputLocator, err := d.stager.Stage(ctx, in.Content, in.Filename, in.MimeType)
		if err != nil {
			return doc, d.failed(ctx, log, doc, in, models.ModeBatch, "", now, err), err
		}
		rec, err := d.batch(ctx, log, doc, in, inputLocator, now)
		return doc, rec, err
	}
}

// inlineFromLocator handles the forced-synchronous locator path. Objects
// above the inline ceiling are rejected outright instead of being batched
// behind the caller's back.
func (d *Dispatcher) inlineFromLocator(ctx context.Context, log *slog.Logger, doc models.Document, in DispatchInput) (models.ProcessingRecord, error) {
	startedAt := d.now()
	content, mimeType, err := d.stager.Fetch(ctx, in.Locator)
	if err != nil {
		return d.failed(ctx, log, doc, in, models.ModeInline, "", startedAt, err), err
	}
	if int64(len(content)) > d.policy.InlineLimitBytes {
		err := fmt.Errorf("%w: %s is %d bytes, inline ceiling is %d",
			ErrPayloadTooLargeForSync, in.Locator, len(content), d.policy.InlineLimitBytes)
		return d.failed(ctx, log, doc, in, models.ModeInline, "", startedAt, err), err
	}

	log.Info("Dispatching inline from locator.", "locator", in.Locator, "sizeBytes", len(content))
	ex, err := d.processor.ProcessInline(ctx, content, mimeType)
	if err != nil {
		return d.failed(ctx, log, doc, in, models.ModeInline, "", startedAt, err), err
	}
	return d.completed(ctx, log, doc, in.UploadedBy, models.ModeInline, "", startedAt, ex)
}

// batch starts a job against a fresh output area and either awaits it or
// parks a Queued record for later resolution.
func (d *Dispatcher) batch(ctx context.Context, log *slog.Logger, doc models.Document, in DispatchInput, inputLocator string, startedAt time.Time) (models.ProcessingRecord, error) {
	// A fresh suffix per call keeps concurrent jobs from colliding on
	// output objects, even for identical filenames.
	outputURI := fmt.Sprintf("%s/%d-%s/", d.outputBase, d.now().UnixMilli(), d.newID())

	handle, err := d.processor.StartBatch(ctx, inputLocator, outputURI, in.MimeType)
	if err != nil {
		return d.failed(ctx, log, doc, in, models.ModeBatch, "", startedAt, err), err
	}
	opLocator := docai.EncodeHandle(handle)
	log.Info("Batch started.", "operation", handle.Name, "outputUri", outputURI)

	if !in.Await {
		rec := models.ProcessingRecord{
			DocumentID:       doc.ID,
			Mode:             models.ModeBatch,
			Status:           models.StatusQueued,
			StartedAt:        startedAt,
			OperationLocator: opLocator,
		}
		audit := d.auditEvent("document.queued", in.UploadedBy,
			fmt.Sprintf("Queued batch processing for %s", doc.Filename),
			map[string]string{
				"documentId":       doc.ID,
				"operationLocator": opLocator,
			})
		if err := d.store.CommitOutcome(ctx, rec, nil, audit); err != nil {
			return models.ProcessingRecord{}, err
		}
		return rec, nil
	}

	wctx, cancel := context.WithTimeout(ctx, d.policy.BatchWait())
	defer cancel()
	ex, err := d.processor.AwaitBatch(wctx, handle)
	if err != nil {
		// On timeout the upstream job keeps running; the operation
		// locator in the record and audit payload is the hook for the
		// out-of-band reconciliation sweep.
		return d.failed(ctx, log, doc, in, models.ModeBatch, opLocator, startedAt, err), err
	}
	return d.completed(ctx, log, doc, in.UploadedBy, models.ModeBatch, opLocator, startedAt, ex)
}

// Resolve finalizes a Queued batch record. Resolving an already-terminal
// record returns it unchanged, so polling is idempotent.
func (d *Dispatcher) Resolve(ctx context.Context, documentID string) (models.ProcessingRecord, error) {
	rec, err := d.store.GetRecord(ctx, documentID)
	if err != nil {
		return models.ProcessingRecord{}, err
	}
	if rec.Status != models.StatusQueued {
		return rec, nil
	}

	handle, err := docai.ParseHandle(rec.OperationLocator)
	if err != nil {
		return models.ProcessingRecord{}, err
	}

	actor := "system"
	doc, err := d.store.GetDocument(ctx, documentID)
	if err == nil {
		actor = doc.UploadedBy
	}
	log := slog.With("documentId", documentID, "operation", handle.Name)

	wctx, cancel := context.WithTimeout(ctx, d.policy.BatchWait())
	defer cancel()
	ex, waitErr := d.processor.AwaitBatch(wctx, handle)

	completedAt := d.now()
	final := rec
	final.CompletedAt = &completedAt

	var ticket *models.ValidationTicket
	var audit models.AuditEvent
	if waitErr != nil {
		log.Warn("Batch resolution failed.", "error", waitErr)
		final.Status = models.StatusFailed
		audit = d.auditEvent("document.failed", actor,
			fmt.Sprintf("Batch processing failed for document %s", documentID),
			map[string]string{
				"documentId":       documentID,
				"errorKind":        errorKind(waitErr),
				"message":          waitErr.Error(),
				"operationLocator": rec.OperationLocator,
			})
	} else {
		final.Status = models.StatusCompleted
		final.ExtractedText = ex.Text
		final.ConfidenceScore = ex.Confidence
		ticket = d.ticketFor(documentID, ex.Confidence, completedAt)
		final.HISSynced = ticket == nil
		audit = d.auditEvent("document.processed", actor,
			fmt.Sprintf("Batch processing completed for document %s", documentID),
			auditPayloadForSuccess(documentID, models.ModeBatch, ex.Confidence))
	}

	if err := d.store.FinalizeRecord(ctx, final, ticket, audit); err != nil {
		if errors.Is(err, store.ErrDuplicateRecord) {
			// Lost a race with another resolver; their outcome stands.
			return d.store.GetRecord(ctx, documentID)
		}
		return models.ProcessingRecord{}, err
	}
	return final, waitErr
}

// completed commits the success outcome: one record, one audit event, and
// a validation ticket iff confidence fell below the acceptance threshold.
func (d *Dispatcher) completed(ctx context.Context, log *slog.Logger, doc models.Document, actor string, mode models.ProcessingMode, opLocator string, startedAt time.Time, ex *models.Extraction) (models.ProcessingRecord, error) {
	completedAt := d.now()
	ticket := d.ticketFor(doc.ID, ex.Confidence, completedAt)

	rec := models.ProcessingRecord{
		DocumentID:       doc.ID,
		Mode:             mode,
		Status:           models.StatusCompleted,
		ConfidenceScore:  ex.Confidence,
		ExtractedText:    ex.Text,
		HISSynced:        ticket == nil,
		StartedAt:        startedAt,
		CompletedAt:      &completedAt,
		OperationLocator: opLocator,
	}
	audit := d.auditEvent("document.processed", actor,
		fmt.Sprintf("Processed %s via %s", doc.Filename, mode),
		auditPayloadForSuccess(doc.ID, mode, ex.Confidence))

	if err := d.store.CommitOutcome(ctx, rec, ticket, audit); err != nil {
		// A started batch job or staged object is deliberately left
		// as-is for out-of-band reconciliation; no compensating deletes.
		return models.ProcessingRecord{}, err
	}
	if ticket != nil {
		log.Info("Validation ticket created.", "ticketId", ticket.ID, "priority", ticket.Priority)
	}
	return rec, nil
}

// failed commits the failure outcome and returns the failed record. The
// original error is surfaced by the caller; a commit error here is logged
// but does not mask it.
func (d *Dispatcher) failed(ctx context.Context, log *slog.Logger, doc models.Document, in DispatchInput, mode models.ProcessingMode, opLocator string, startedAt time.Time, cause error) models.ProcessingRecord {
	completedAt := d.now()
	rec := models.ProcessingRecord{
		DocumentID:       doc.ID,
		Mode:             mode,
		Status:           models.StatusFailed,
		StartedAt:        startedAt,
		CompletedAt:      &completedAt,
		OperationLocator: opLocator,
	}
	payload := map[string]string{
		"documentId": doc.ID,
		"errorKind":  errorKind(cause),
		"message":    cause.Error(),
	}
	if opLocator != "" {
		payload["operationLocator"] = opLocator
	}
	audit := d.auditEvent("document.failed", in.UploadedBy,
		fmt.Sprintf("Processing failed for %s", doc.Filename), payload)

	log.Error("Dispatch failed.", "errorKind", payload["errorKind"], "error", cause)
	if err := d.store.CommitOutcome(ctx, rec, nil, audit); err != nil {
		log.Error("Failed to commit failure outcome.", "error", err)
	}
	return rec
}

// ticketFor returns the validation ticket a confidence score demands, or
// nil when the score clears the acceptance threshold. Unscored results
// (nil confidence) create no ticket; they are surfaced through the nil
// confidence itself, never through a fabricated 0.
func (d *Dispatcher) ticketFor(documentID string, confidence *float64, now time.Time) *models.ValidationTicket {
	if confidence == nil || *confidence >= d.policy.ValidationThreshold {
		return nil
	}
	priority := models.PriorityNormal
	sla := d.policy.NormalSLA()
	if *confidence < d.policy.HighThreshold {
		priority = models.PriorityHigh
		sla = d.policy.HighSLA()
	}
	return &models.ValidationTicket{
		ID:         d.newID(),
		DocumentID: documentID,
		Priority:   priority,
		DueAt:      now.Add(sla),
		Status:     models.TicketPending,
		CreatedAt:  now,
	}
}

func (d *Dispatcher) auditEvent(eventType, actor, summary string, payload map[string]string) models.AuditEvent {
	return models.AuditEvent{
		ID:        d.newID(),
		EventType: eventType,
		Actor:     actor,
		Summary:   summary,
		Payload:   payload,
		CreatedAt: d.now(),
	}
}

func auditPayloadForSuccess(documentID string, mode models.ProcessingMode, confidence *float64) map[string]string {
	payload := map[string]string{
		"documentId": documentID,
		"mode":       string(mode),
	}
	if confidence != nil {
		payload["confidenceScore"] = fmt.Sprintf("%.4f", *confidence)
	}
	return payload
}

// errorKind names the failure class recorded in audit payloads.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrPayloadTooLargeForSync):
		return "PayloadTooLargeForSync"
	case errors.Is(err, stager.ErrQuotaExceeded):
		return "QuotaExceeded"
	case errors.Is(err, stager.ErrNotFound):
		return "NotFound"
	case errors.Is(err, stager.ErrStorageUnavailable):
		return "StorageUnavailable"
	case errors.Is(err, docai.ErrTimeout):
		return "Timeout"
	case errors.Is(err, docai.ErrOperationFailed):
		return "OperationFailed"
	case errors.Is(err, docai.ErrUpstream):
		return "UpstreamError"
	default:
		return "Internal"
	}
}

// pdfPageCount counts pages for PDF payloads; other mime types and
// unreadable PDFs report zero.
func pdfPageCount(content []byte, mimeType string) int {
	if mimeType != "application/pdf" || len(content) == 0 {
		return 0
	}
	count, err := api.PageCount(bytes.NewReader(content), nil)
	if err != nil {
		return 0
	}
	return count
}
