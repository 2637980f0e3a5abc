package models

import "time"

// Declared document classes routed through the platform.
type DocumentType string

const (
	DocTypeOPD       DocumentType = "OPD"
	DocTypeIPD       DocumentType = "IPD"
	DocTypeLab       DocumentType = "Lab"
	DocTypeInventory DocumentType = "Inventory"
	DocTypeGeneral   DocumentType = "General"
)

type IngestionChannel string

const (
	ChannelScanner      IngestionChannel = "scanner"
	ChannelUpload       IngestionChannel = "upload"
	ChannelGCSReference IngestionChannel = "gcsReference"
)

type ProcessingMode string

const (
	ModeInline ProcessingMode = "Inline"
	ModeBatch  ProcessingMode = "Batch"
)

type ProcessingStatus string

const (
	StatusCompleted ProcessingStatus = "Completed"
	StatusQueued    ProcessingStatus = "Queued"
	StatusFailed    ProcessingStatus = "Failed"
)

type TicketPriority string

const (
	PriorityNormal TicketPriority = "Normal"
	PriorityHigh   TicketPriority = "High"
)

type TicketStatus string

const (
	TicketPending  TicketStatus = "Pending"
	TicketInReview TicketStatus = "InReview"
	TicketResolved TicketStatus = "Resolved"
)

// Document is the immutable record of one ingested artifact.
type Document struct {
	ID               string           `firestore:"id" json:"id"`
	Filename         string           `firestore:"filename" json:"filename"`
	MimeType         string           `firestore:"mimeType" json:"mimeType"`
	SizeBytes        int64            `firestore:"sizeBytes" json:"sizeBytes"`
	DeclaredType     DocumentType     `firestore:"declaredType" json:"declaredType"`
	Department       string           `firestore:"department" json:"department"`
	IngestionChannel IngestionChannel `firestore:"ingestionChannel" json:"ingestionChannel"`
	UploadedBy       string           `firestore:"uploadedBy" json:"uploadedBy"`
	PageCount        int              `firestore:"pageCount" json:"pageCount"`
	CreatedAt        time.Time        `firestore:"createdAt" json:"createdAt"`
}

// ProcessingRecord is the outcome of one dispatch attempt, 1:1 with a Document.
// Completed records always carry CompletedAt; Queued batch records always
// carry OperationLocator.
type ProcessingRecord struct {
	DocumentID       string           `firestore:"documentId" json:"documentId"`
	Mode             ProcessingMode   `firestore:"mode" json:"mode"`
	Status           ProcessingStatus `firestore:"status" json:"status"`
	ConfidenceScore  *float64         `firestore:"confidenceScore" json:"confidenceScore"`
	ExtractedText    string           `firestore:"extractedText" json:"extractedText"`
	HISSynced        bool             `firestore:"hisSynced" json:"hisSynced"`
	StartedAt        time.Time        `firestore:"startedAt" json:"startedAt"`
	CompletedAt      *time.Time       `firestore:"completedAt" json:"completedAt"`
	OperationLocator string           `firestore:"operationLocator,omitempty" json:"operationLocator,omitempty"`
}

// ValidationTicket is a human-review task created when automated confidence
// falls below the acceptance threshold. Status transitions after creation are
// human actions, never automatic.
type ValidationTicket struct {
	ID         string         `firestore:"id" json:"id"`
	DocumentID string         `firestore:"documentId" json:"documentId"`
	Priority   TicketPriority `firestore:"priority" json:"priority"`
	AssignedTo string         `firestore:"assignedTo" json:"assignedTo"`
	DueAt      time.Time      `firestore:"dueAt" json:"dueAt"`
	Status     TicketStatus   `firestore:"status" json:"status"`
	CreatedAt  time.Time      `firestore:"createdAt" json:"createdAt"`
}

// AuditEvent is append-only; events are never mutated or deleted.
type AuditEvent struct {
	ID        string            `firestore:"id" json:"id"`
	EventType string            `firestore:"eventType" json:"eventType"`
	Actor     string            `firestore:"actor" json:"actor"`
	Summary   string            `firestore:"summary" json:"summary"`
	Payload   map[string]string `firestore:"payload" json:"payload"`
	CreatedAt time.Time         `firestore:"createdAt" json:"createdAt"`
}

// Extraction is the normalized result of one document-intelligence call.
// Confidence is nil when the provider returned nothing scoreable; writers
// never use 0 as an "unscored" placeholder.
type Extraction struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence"`
}
