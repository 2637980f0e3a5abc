package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// GetEnv reads an environment variable or returns a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// Infra holds the Google Cloud wiring the services need. All of it comes
// from the environment; missing values are a startup error, never silently
// replaced with a demo stand-in.
type Infra struct {
	ProjectID        string
	DocAILocation    string
	DocAIProcessorID string
	Bucket           string
	UploadPrefix     string
	OutputPrefix     string
	ScanPrefix       string

	DocumentsCollection string
	RecordsCollection   string
	TicketsCollection   string
	AuditCollection     string
}

// LoadInfra reads infrastructure config from the environment.
func LoadInfra() (Infra, error) {
	inf := Infra{
		ProjectID:        GetEnv("PROJECT_ID", ""),
		DocAILocation:    GetEnv("DOC_AI_LOCATION", ""),
		DocAIProcessorID: GetEnv("DOC_AI_PROCESSOR_ID", ""),
		Bucket:           GetEnv("DOC_AI_BUCKET", ""),
		UploadPrefix:     GetEnv("DOC_AI_UPLOAD_PREFIX", "document-ai-uploads"),
		OutputPrefix:     GetEnv("DOC_AI_OUTPUT_PREFIX", "document-ai-output"),
		ScanPrefix:       GetEnv("SCAN_PREFIX", "scans"),

		DocumentsCollection: GetEnv("DOCUMENTS_COLLECTION", "documents"),
		RecordsCollection:   GetEnv("RECORDS_COLLECTION", "processingRecords"),
		TicketsCollection:   GetEnv("TICKETS_COLLECTION", "validationTickets"),
		AuditCollection:     GetEnv("AUDIT_COLLECTION", "auditEvents"),
	}

	var missing []string
	if inf.ProjectID == "" {
		missing = append(missing, "PROJECT_ID")
	}
	if inf.DocAILocation == "" {
		missing = append(missing, "DOC_AI_LOCATION")
	}
	if inf.DocAIProcessorID == "" {
		missing = append(missing, "DOC_AI_PROCESSOR_ID")
	}
	if inf.Bucket == "" {
		missing = append(missing, "DOC_AI_BUCKET")
	}
	if len(missing) > 0 {
		return Infra{}, fmt.Errorf("missing required environment variables: %v", missing)
	}
	return inf, nil
}

// ProcessorName returns the full Document AI processor resource name.
func (i Infra) ProcessorName() string {
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s",
		i.ProjectID, i.DocAILocation, i.DocAIProcessorID)
}

// Policy is the processing policy surface consumed by the dispatcher and
// aggregator, supplied as a yaml file by the deployment.
type Policy struct {
	// SyncLimitBytes is the inline/batch boundary for byte uploads.
	SyncLimitBytes int64 `yaml:"sync_limit_bytes"`
	// InlineLimitBytes is the hard ceiling for any inline call; fetched
	// objects above it are rejected rather than silently batched.
	InlineLimitBytes int64 `yaml:"inline_limit_bytes"`

	ValidationThreshold float64 `yaml:"validation_threshold"`
	HighThreshold       float64 `yaml:"high_threshold"`

	NormalSLAMinutes int `yaml:"normal_sla_minutes"`
	HighSLAMinutes   int `yaml:"high_sla_minutes"`

	BatchWaitSeconds int `yaml:"batch_wait_seconds"`

	ReportingTimezone string `yaml:"reporting_timezone"`

	location *time.Location
}

// LoadPolicy reads and validates the policy file at path.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file %s: %w", path, err)
	}
	return ParsePolicy(data)
}

// ParsePolicy parses and validates yaml policy content.
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if p.InlineLimitBytes == 0 {
		p.InlineLimitBytes = p.SyncLimitBytes
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate ensures every knob is explicitly and sanely set.
func (p *Policy) Validate() error {
	if p.SyncLimitBytes <= 0 {
		return fmt.Errorf("policy.sync_limit_bytes must be a positive byte count")
	}
	if p.InlineLimitBytes < p.SyncLimitBytes {
		return fmt.Errorf("policy.inline_limit_bytes must be >= sync_limit_bytes")
	}
	if p.ValidationThreshold <= 0 || p.ValidationThreshold > 1 {
		return fmt.Errorf("policy.validation_threshold must be in (0, 1]")
	}
	if p.HighThreshold <= 0 || p.HighThreshold >= p.ValidationThreshold {
		return fmt.Errorf("policy.high_threshold must be in (0, validation_threshold)")
	}
	if p.NormalSLAMinutes <= 0 || p.HighSLAMinutes <= 0 {
		return fmt.Errorf("policy SLA windows must be positive")
	}
	if p.HighSLAMinutes >= p.NormalSLAMinutes {
		return fmt.Errorf("policy.high_sla_minutes must be shorter than normal_sla_minutes")
	}
	if p.BatchWaitSeconds <= 0 {
		return fmt.Errorf("policy.batch_wait_seconds must be positive")
	}
	loc, err := time.LoadLocation(p.ReportingTimezone)
	if err != nil {
		return fmt.Errorf("policy.reporting_timezone: %w", err)
	}
	p.location = loc
	return nil
}

// Location returns the parsed reporting timezone. Validate must have
// succeeded first.
func (p *Policy) Location() *time.Location {
	return p.location
}

func (p *Policy) NormalSLA() time.Duration {
	return time.Duration(p.NormalSLAMinutes) * time.Minute
}

func (p *Policy) HighSLA() time.Duration {
	return time.Duration(p.HighSLAMinutes) * time.Minute
}

func (p *Policy) BatchWait() time.Duration {
	return time.Duration(p.BatchWaitSeconds) * time.Second
}
