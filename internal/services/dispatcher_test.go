package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/docuhealth/docpipe/internal/config"
	"github.com/docuhealth/docpipe/internal/docai"
	"github.com/docuhealth/docpipe/internal/models"
	"github.com/docuhealth/docpipe/internal/stager"
	"github.com/docuhealth/docpipe/internal/store"
)

const mib = 1024 * 1024

func testPolicy(t *testing.T) *config.Policy {
	t.Helper()
	p := &config.Policy{
		SyncLimitBytes:      10 * mib,
		InlineLimitBytes:    10 * mib,
		ValidationThreshold: 0.92,
		HighThreshold:       0.88,
		NormalSLAMinutes:    180,
		HighSLAMinutes:      60,
		BatchWaitSeconds:    5,
		ReportingTimezone:   "UTC",
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("test policy invalid: %v", err)
	}
	return p
}

func ptr(f float64) *float64 { return &f }

type fakeStager struct {
	stageCalls int
	fetchCalls int
	stageErr   error
	fetchErr   error
	content    []byte
	mimeType   string
}

func (f *fakeStager) Stage(_ context.Context, _ []byte, _, _ string) (string, error) {
	f.stageCalls++
	if f.stageErr != nil {
		return "", f.stageErr
	}
	return fmt.Sprintf("gs://test-bucket/uploads/staged-%d", f.stageCalls), nil
}

func (f *fakeStager) Fetch(_ context.Context, _ string) ([]byte, string, error) {
	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, "", f.fetchErr
	}
	mimeType := f.mimeType
	if mimeType == "" {
		mimeType = "application/pdf"
	}
	return f.content, mimeType, nil
}

type fakeProcessor struct {
	inlineCalls int
	startCalls  int
	awaitCalls  int

	inlineResult *models.Extraction
	inlineErr    error
	startErr     error
	awaitResult  *models.Extraction
	awaitErr     error

	inputURIs  []string
	outputURIs []string
}

func (f *fakeProcessor) ProcessInline(_ context.Context, _ []byte, _ string) (*models.Extraction, error) {
	f.inlineCalls++
	if f.inlineErr != nil {
		return nil, f.inlineErr
	}
	return f.inlineResult, nil
}

func (f *fakeProcessor) StartBatch(_ context.Context, inputURI, outputURI, _ string) (docai.OperationHandle, error) {
	f.startCalls++
	if f.startErr != nil {
		return docai.OperationHandle{}, f.startErr
	}
	f.inputURIs = append(f.inputURIs, inputURI)
	f.outputURIs = append(f.outputURIs, outputURI)
	return docai.OperationHandle{
		Name:      fmt.Sprintf("projects/p/locations/l/operations/%d", f.startCalls),
		OutputURI: outputURI,
	}, nil
}

func (f *fakeProcessor) AwaitBatch(_ context.Context, _ docai.OperationHandle) (*models.Extraction, error) {
	f.awaitCalls++
	if f.awaitErr != nil {
		return nil, f.awaitErr
	}
	return f.awaitResult, nil
}

func newTestDispatcher(t *testing.T, stg *fakeStager, proc *fakeProcessor) (*Dispatcher, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	d := NewDispatcher(stg, proc, mem, testPolicy(t), "gs://test-bucket/output")
	return d, mem
}

func bytesInput(size int) DispatchInput {
	return DispatchInput{
		Content:      make([]byte, size),
		Filename:     "opd-form.pdf",
		MimeType:     "application/pdf",
		DeclaredType: models.DocTypeOPD,
		Department:   "cardiology",
		UploadedBy:   "ravi.singh",
		Channel:      models.ChannelUpload,
		Await:        true,
	}
}

func TestDispatchInlineFastPath(t *testing.T) {
	stg := &fakeStager{}
	proc := &fakeProcessor{inlineResult: &models.Extraction{Text: "Patient: A. Kumar", Confidence: ptr(0.97)}}
	d, mem := newTestDispatcher(t, stg, proc)

	doc, rec, err := d.Dispatch(context.Background(), bytesInput(2*mib))
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if rec.Mode != models.ModeInline {
		t.Errorf("mode = %s, want Inline", rec.Mode)
	}
	if rec.Status != models.StatusCompleted {
		t.Errorf("status = %s, want Completed", rec.Status)
	}
	if rec.CompletedAt == nil {
		t.Error("completed record must carry CompletedAt")
	}
	if stg.stageCalls != 0 || stg.fetchCalls != 0 {
		t.Errorf("fast path touched the stager: stage=%d fetch=%d", stg.stageCalls, stg.fetchCalls)
	}
	if !rec.HISSynced {
		t.Error("high-confidence record should be HIS synced")
	}

	stored, err := mem.GetRecord(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("record not persisted: %v", err)
	}
	if stored.ExtractedText != "Patient: A. Kumar" {
		t.Errorf("extractedText = %q", stored.ExtractedText)
	}
	events, _ := mem.ListAudit(context.Background(), 0)
	if len(events) != 1 {
		t.Fatalf("audit events = %d, want 1", len(events))
	}
	if events[0].EventType != "document.processed" {
		t.Errorf("eventType = %s", events[0].EventType)
	}
}

func TestDispatchLargeBytesStagesThenBatches(t *testing.T) {
	stg := &fakeStager{}
	proc := &fakeProcessor{awaitResult: &models.Extraction{Text: "ward census", Confidence: ptr(0.95)}}
	d, _ := newTestDispatcher(t, stg, proc)

	_, rec, err := d.Dispatch(context.Background(), bytesInput(15*mib))
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if rec.Mode != models.ModeBatch {
		t.Errorf("mode = %s, want Batch", rec.Mode)
	}
	if rec.Status != models.StatusCompleted {
		t.Errorf("status = %s, want Completed", rec.Status)
	}
	if stg.stageCalls != 1 {
		t.Errorf("stage calls = %d, want 1", stg.stageCalls)
	}
	if proc.startCalls != 1 || proc.awaitCalls != 1 {
		t.Errorf("start/await = %d/%d, want 1/1", proc.startCalls, proc.awaitCalls)
	}
	if proc.inputURIs[0] != "gs://test-bucket/uploads/staged-1" {
		t.Errorf("batch ran against %q, not the staged object", proc.inputURIs[0])
	}
}

func TestBatchOutputLocatorUniquePerCall(t *testing.T) {
	stg := &fakeStager{}
	proc := &fakeProcessor{awaitResult: &models.Extraction{Text: "x", Confidence: ptr(0.99)}}
	d, _ := newTestDispatcher(t, stg, proc)

	// Identical filenames submitted twice.
	if _, _, err := d.Dispatch(context.Background(), bytesInput(15*mib)); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	if _, _, err := d.Dispatch(context.Background(), bytesInput(15*mib)); err != nil {
		t.Fatalf("second dispatch: %v", err)
	}

	if len(proc.outputURIs) != 2 {
		t.Fatalf("output URIs recorded = %d, want 2", len(proc.outputURIs))
	}
	if proc.outputURIs[0] == proc.outputURIs[1] {
		t.Errorf("output locator reused across calls: %q", proc.outputURIs[0])
	}
	for _, uri := range proc.outputURIs {
		if !strings.HasPrefix(uri, "gs://test-bucket/output/") {
			t.Errorf("output URI %q outside configured area", uri)
		}
	}
}

func TestLowConfidenceCreatesHighPriorityTicket(t *testing.T) {
	stg := &fakeStager{}
	proc := &fakeProcessor{inlineResult: &models.Extraction{Text: "lab report", Confidence: ptr(0.80)}}
	d, mem := newTestDispatcher(t, stg, proc)

	start := time.Now()
	doc, rec, err := d.Dispatch(context.Background(), bytesInput(1*mib))
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if rec.HISSynced {
		t.Error("record needing validation must not be HIS synced")
	}

	tickets, _ := mem.ListOpenTickets(context.Background())
	if len(tickets) != 1 {
		t.Fatalf("tickets = %d, want 1", len(tickets))
	}
	tk := tickets[0]
	if tk.DocumentID != doc.ID {
		t.Errorf("ticket documentId = %s, want %s", tk.DocumentID, doc.ID)
	}
	if tk.Priority != models.PriorityHigh {
		t.Errorf("priority = %s, want High", tk.Priority)
	}
	if tk.Status != models.TicketPending {
		t.Errorf("status = %s, want Pending", tk.Status)
	}
	due := tk.DueAt.Sub(start)
	if due <= 0 || due > 61*time.Minute {
		t.Errorf("dueAt %v after start, want within the 60 minute High SLA", due)
	}
}

func TestTicketPriorityThresholds(t *testing.T) {
	cases := []struct {
		name          string
		highThreshold float64
		confidence    float64
		wantTicket    bool
		wantPriority  models.TicketPriority
	}{
		{"below validation above high", 0.80, 0.85, true, models.PriorityNormal},
		{"below both", 0.88, 0.85, true, models.PriorityHigh},
		{"above validation", 0.88, 0.95, false, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stg := &fakeStager{}
			proc := &fakeProcessor{inlineResult: &models.Extraction{Text: "t", Confidence: ptr(tc.confidence)}}
			d, mem := newTestDispatcher(t, stg, proc)
			d.policy.HighThreshold = tc.highThreshold

			_, rec, err := d.Dispatch(context.Background(), bytesInput(mib))
			if err != nil {
				t.Fatalf("Dispatch failed: %v", err)
			}
			tickets, _ := mem.ListOpenTickets(context.Background())
			if !tc.wantTicket {
				if len(tickets) != 0 {
					t.Fatalf("tickets = %d, want 0", len(tickets))
				}
				if !rec.HISSynced {
					t.Error("record without ticket should be HIS synced")
				}
				return
			}
			if len(tickets) != 1 {
				t.Fatalf("tickets = %d, want 1", len(tickets))
			}
			if tickets[0].Priority != tc.wantPriority {
				t.Errorf("priority = %s, want %s", tickets[0].Priority, tc.wantPriority)
			}
		})
	}
}

func TestUpstreamErrorRecordsFailure(t *testing.T) {
	stg := &fakeStager{}
	proc := &fakeProcessor{inlineErr: fmt.Errorf("%w: processor exploded", docai.ErrUpstream)}
	d, mem := newTestDispatcher(t, stg, proc)

	doc, rec, err := d.Dispatch(context.Background(), bytesInput(mib))
	if !errors.Is(err, docai.ErrUpstream) {
		t.Fatalf("err = %v, want ErrUpstream", err)
	}
	if rec.Status != models.StatusFailed {
		t.Errorf("status = %s, want Failed", rec.Status)
	}
	if rec.ConfidenceScore != nil {
		t.Errorf("failed record must have nil confidence, got %v", *rec.ConfidenceScore)
	}

	stored, err := mem.GetRecord(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("failure record not persisted: %v", err)
	}
	if stored.Status != models.StatusFailed {
		t.Errorf("stored status = %s, want Failed", stored.Status)
	}

	events, _ := mem.ListAudit(context.Background(), 0)
	if len(events) != 1 {
		t.Fatalf("audit events = %d, want 1", len(events))
	}
	if events[0].EventType != "document.failed" {
		t.Errorf("eventType = %s, want document.failed", events[0].EventType)
	}
	if events[0].Payload["errorKind"] != "UpstreamError" {
		t.Errorf("errorKind = %s, want UpstreamError", events[0].Payload["errorKind"])
	}

	tickets, _ := mem.ListOpenTickets(context.Background())
	if len(tickets) != 0 {
		t.Errorf("tickets = %d, want 0 after failure", len(tickets))
	}
}

func TestStorageUnavailableDuringStaging(t *testing.T) {
	stg := &fakeStager{stageErr: fmt.Errorf("%w: bucket gone", stager.ErrStorageUnavailable)}
	proc := &fakeProcessor{}
	d, mem := newTestDispatcher(t, stg, proc)

	_, rec, err := d.Dispatch(context.Background(), bytesInput(15*mib))
	if !errors.Is(err, stager.ErrStorageUnavailable) {
		t.Fatalf("err = %v, want ErrStorageUnavailable", err)
	}
	if rec.Status != models.StatusFailed {
		t.Errorf("status = %s, want Failed", rec.Status)
	}
	if proc.startCalls != 0 {
		t.Errorf("batch started despite staging failure")
	}
	events, _ := mem.ListAudit(context.Background(), 0)
	if len(events) != 1 || events[0].Payload["errorKind"] != "StorageUnavailable" {
		t.Errorf("expected one StorageUnavailable audit event, got %+v", events)
	}
}

func TestSyncLocatorTooLargeFailsFast(t *testing.T) {
	stg := &fakeStager{content: make([]byte, 20*mib)}
	proc := &fakeProcessor{}
	d, _ := newTestDispatcher(t, stg, proc)

	in := DispatchInput{
		Locator:      "gs://test-bucket/uploads/huge.pdf",
		Filename:     "huge.pdf",
		MimeType:     "application/pdf",
		DeclaredType: models.DocTypeIPD,
		UploadedBy:   "kavya.menon",
		Channel:      models.ChannelGCSReference,
		SyncHint:     true,
	}
	_, rec, err := d.Dispatch(context.Background(), in)
	if !errors.Is(err, ErrPayloadTooLargeForSync) {
		t.Fatalf("err = %v, want ErrPayloadTooLargeForSync", err)
	}
	if rec.Status != models.StatusFailed {
		t.Errorf("status = %s, want Failed", rec.Status)
	}
	if proc.inlineCalls != 0 || proc.startCalls != 0 {
		t.Errorf("upstream called despite size rejection: inline=%d start=%d", proc.inlineCalls, proc.startCalls)
	}
}

func TestSyncLocatorProcessesInline(t *testing.T) {
	stg := &fakeStager{content: make([]byte, 3*mib)}
	proc := &fakeProcessor{inlineResult: &models.Extraction{Text: "discharge summary", Confidence: ptr(0.96)}}
	d, _ := newTestDispatcher(t, stg, proc)

	in := DispatchInput{
		Locator:    "gs://test-bucket/uploads/summary.pdf",
		Filename:   "summary.pdf",
		MimeType:   "application/pdf",
		UploadedBy: "kavya.menon",
		Channel:    models.ChannelGCSReference,
		SyncHint:   true,
	}
	_, rec, err := d.Dispatch(context.Background(), in)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if rec.Mode != models.ModeInline {
		t.Errorf("mode = %s, want Inline", rec.Mode)
	}
	if stg.fetchCalls != 1 {
		t.Errorf("fetch calls = %d, want 1", stg.fetchCalls)
	}
	if proc.startCalls != 0 {
		t.Error("sync locator path must never start a batch job")
	}
}

func TestLocatorWithoutSyncHintGoesBatch(t *testing.T) {
	stg := &fakeStager{}
	proc := &fakeProcessor{awaitResult: &models.Extraction{Text: "x", Confidence: ptr(0.93)}}
	d, _ := newTestDispatcher(t, stg, proc)

	in := DispatchInput{
		Locator:    "gs://archive/batch/scan-042.pdf",
		Filename:   "scan-042.pdf",
		MimeType:   "application/pdf",
		UploadedBy: "akash.patel",
		Channel:    models.ChannelGCSReference,
		Await:      true,
	}
	_, rec, err := d.Dispatch(context.Background(), in)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if rec.Mode != models.ModeBatch {
		t.Errorf("mode = %s, want Batch", rec.Mode)
	}
	if stg.fetchCalls != 0 || stg.stageCalls != 0 {
		t.Error("locator batch path must not touch the stager")
	}
	if proc.inputURIs[0] != in.Locator {
		t.Errorf("batch input = %q, want the caller's locator", proc.inputURIs[0])
	}
}

func TestAsyncBatchQueuedThenResolved(t *testing.T) {
	stg := &fakeStager{}
	proc := &fakeProcessor{awaitResult: &models.Extraction{Text: "resolved text", Confidence: ptr(0.95)}}
	d, mem := newTestDispatcher(t, stg, proc)

	in := DispatchInput{
		Locator:    "gs://archive/batch/nightly.pdf",
		Filename:   "nightly.pdf",
		MimeType:   "application/pdf",
		UploadedBy: "system/scan-watcher",
		Channel:    models.ChannelScanner,
		Await:      false,
	}
	doc, rec, err := d.Dispatch(context.Background(), in)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if rec.Status != models.StatusQueued {
		t.Fatalf("status = %s, want Queued", rec.Status)
	}
	if rec.OperationLocator == "" {
		t.Fatal("queued batch record must carry an operation locator")
	}
	if _, err := docai.ParseHandle(rec.OperationLocator); err != nil {
		t.Fatalf("operation locator does not parse: %v", err)
	}
	if proc.awaitCalls != 0 {
		t.Errorf("await called on async path: %d", proc.awaitCalls)
	}

	final, err := d.Resolve(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if final.Status != models.StatusCompleted {
		t.Errorf("resolved status = %s, want Completed", final.Status)
	}
	if final.ExtractedText != "resolved text" {
		t.Errorf("resolved text = %q", final.ExtractedText)
	}
	if proc.awaitCalls != 1 {
		t.Errorf("await calls = %d, want 1", proc.awaitCalls)
	}

	// Resolving a terminal record is an idempotent no-op.
	again, err := d.Resolve(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("second Resolve failed: %v", err)
	}
	if proc.awaitCalls != 1 {
		t.Errorf("await re-invoked for terminal record")
	}
	if again.Status != models.StatusCompleted {
		t.Errorf("second resolve status = %s", again.Status)
	}

	events, _ := mem.ListAudit(context.Background(), 0)
	if len(events) != 2 {
		t.Errorf("audit events = %d, want queued + processed", len(events))
	}
}

func TestBatchTimeoutLeavesOperationLocator(t *testing.T) {
	stg := &fakeStager{}
	proc := &fakeProcessor{awaitErr: fmt.Errorf("%w: wait ceiling hit", docai.ErrTimeout)}
	d, mem := newTestDispatcher(t, stg, proc)

	_, rec, err := d.Dispatch(context.Background(), bytesInput(15*mib))
	if !errors.Is(err, docai.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if rec.Status != models.StatusFailed {
		t.Errorf("status = %s, want Failed", rec.Status)
	}
	if rec.OperationLocator == "" {
		t.Error("timed-out batch record must keep the operation locator for reconciliation")
	}
	events, _ := mem.ListAudit(context.Background(), 0)
	if len(events) != 1 {
		t.Fatalf("audit events = %d, want 1", len(events))
	}
	if events[0].Payload["errorKind"] != "Timeout" {
		t.Errorf("errorKind = %s, want Timeout", events[0].Payload["errorKind"])
	}
	if events[0].Payload["operationLocator"] == "" {
		t.Error("failure audit must carry the operation locator")
	}
}

func TestDispatchRejectsAmbiguousInput(t *testing.T) {
	d, _ := newTestDispatcher(t, &fakeStager{}, &fakeProcessor{})

	if _, _, err := d.Dispatch(context.Background(), DispatchInput{MimeType: "application/pdf"}); err == nil {
		t.Error("expected error for input with neither content nor locator")
	}
	in := bytesInput(mib)
	in.Locator = "gs://b/o"
	if _, _, err := d.Dispatch(context.Background(), in); err == nil {
		t.Error("expected error for input with both content and locator")
	}
	in = bytesInput(mib)
	in.MimeType = ""
	if _, _, err := d.Dispatch(context.Background(), in); err == nil {
		t.Error("expected error for input without mime type")
	}
}
