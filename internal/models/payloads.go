package models

// These structs define the JSON payloads exchanged with the thin HTTP
// entry points in cmd/.

// IngestRequest is the input to the ingest function. Exactly one of
// ContentBase64 or GCSUri must be set.
type IngestRequest struct {
	ContentBase64 string           `json:"contentBase64,omitempty"`
	GCSUri        string           `json:"gcsUri,omitempty"`
	Filename      string           `json:"filename"`
	MimeType      string           `json:"mimeType"`
	DeclaredType  DocumentType     `json:"declaredType"`
	Department    string           `json:"department"`
	UploadedBy    string           `json:"uploadedBy"`
	Channel       IngestionChannel `json:"channel"`
	SyncHint      bool             `json:"syncHint"`
	// Await controls the batch path only: when false the caller gets a
	// Queued record back immediately and may poll via the resolve call.
	Await bool `json:"await"`
}

// IngestResponse returns the document and its processing record. Queued
// records expose the operation locator the caller may poll with.
type IngestResponse struct {
	Document Document         `json:"document"`
	Record   ProcessingRecord `json:"record"`
}

// QueuedTicket is a validation ticket joined with its document summary,
// as served by the validation-queue function.
type QueuedTicket struct {
	Ticket   ValidationTicket `json:"ticket"`
	Document Document         `json:"document"`
}

// TrendBucket is one calendar day's processed-document volume.
type TrendBucket struct {
	DayLabel string `json:"dayLabel"`
	Volume   int    `json:"volume"`
}

// MetricsSnapshot is derived on demand from records and tickets; it is
// never persisted. Two snapshots taken with no intervening writes are
// identical.
type MetricsSnapshot struct {
	DocumentsToday     int           `json:"documentsToday"`
	PendingValidations int           `json:"pendingValidations"`
	AvgAccuracy        *float64      `json:"avgAccuracy"`
	HISSyncRatio       float64       `json:"hisSyncRatio"`
	Trend              []TrendBucket `json:"trend"`
}
