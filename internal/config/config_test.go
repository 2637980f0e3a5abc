package config

import (
	"strings"
	"testing"
	"time"
)

const validPolicy = `
sync_limit_bytes: 10485760
validation_threshold: 0.92
high_threshold: 0.88
normal_sla_minutes: 180
high_sla_minutes: 60
batch_wait_seconds: 300
reporting_timezone: Asia/Kolkata
`

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy([]byte(validPolicy))
	if err != nil {
		t.Fatalf("ParsePolicy failed: %v", err)
	}
	if p.SyncLimitBytes != 10*1024*1024 {
		t.Errorf("syncLimitBytes = %d", p.SyncLimitBytes)
	}
	if p.InlineLimitBytes != p.SyncLimitBytes {
		t.Errorf("inlineLimitBytes should default to syncLimitBytes, got %d", p.InlineLimitBytes)
	}
	if p.NormalSLA() != 180*time.Minute || p.HighSLA() != 60*time.Minute {
		t.Errorf("SLA windows = %v/%v", p.NormalSLA(), p.HighSLA())
	}
	if p.BatchWait() != 300*time.Second {
		t.Errorf("batchWait = %v", p.BatchWait())
	}
	if p.Location().String() != "Asia/Kolkata" {
		t.Errorf("location = %v", p.Location())
	}
}

func TestParsePolicyRejectsInvalid(t *testing.T) {
	cases := []struct {
		name    string
		mutate  string
		replace string
	}{
		{"missing sync limit", "sync_limit_bytes: 10485760", "sync_limit_bytes: 0"},
		{"threshold above one", "validation_threshold: 0.92", "validation_threshold: 1.5"},
		{"high above validation", "high_threshold: 0.88", "high_threshold: 0.95"},
		{"high SLA not shorter", "high_sla_minutes: 60", "high_sla_minutes: 240"},
		{"zero batch wait", "batch_wait_seconds: 300", "batch_wait_seconds: 0"},
		{"bad timezone", "reporting_timezone: Asia/Kolkata", "reporting_timezone: Mars/Olympus"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := strings.Replace(validPolicy, tc.mutate, tc.replace, 1)
			if _, err := ParsePolicy([]byte(body)); err == nil {
				t.Errorf("ParsePolicy accepted %s", tc.name)
			}
		})
	}
}

func TestParsePolicyInlineCeilingBelowSyncLimit(t *testing.T) {
	body := validPolicy + "inline_limit_bytes: 1024\n"
	if _, err := ParsePolicy([]byte(body)); err == nil {
		t.Error("expected error when inline ceiling is below the sync limit")
	}
}

func TestLoadInfraRequiresCoreVariables(t *testing.T) {
	t.Setenv("PROJECT_ID", "")
	t.Setenv("DOC_AI_LOCATION", "")
	t.Setenv("DOC_AI_PROCESSOR_ID", "")
	t.Setenv("DOC_AI_BUCKET", "")

	if _, err := LoadInfra(); err == nil {
		t.Fatal("LoadInfra succeeded with no environment, want error")
	}
}

func TestLoadInfraDefaults(t *testing.T) {
	t.Setenv("PROJECT_ID", "med-records-prod")
	t.Setenv("DOC_AI_LOCATION", "us")
	t.Setenv("DOC_AI_PROCESSOR_ID", "abc123")
	t.Setenv("DOC_AI_BUCKET", "med-docs")

	inf, err := LoadInfra()
	if err != nil {
		t.Fatalf("LoadInfra failed: %v", err)
	}
	if inf.UploadPrefix != "document-ai-uploads" || inf.OutputPrefix != "document-ai-output" {
		t.Errorf("prefix defaults = %q/%q", inf.UploadPrefix, inf.OutputPrefix)
	}
	if got, want := inf.ProcessorName(), "projects/med-records-prod/locations/us/processors/abc123"; got != want {
		t.Errorf("processorName = %q, want %q", got, want)
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("DOCPIPE_TEST_KEY", "set")
	if got := GetEnv("DOCPIPE_TEST_KEY", "fallback"); got != "set" {
		t.Errorf("GetEnv = %q", got)
	}
	if got := GetEnv("DOCPIPE_TEST_KEY_MISSING", "fallback"); got != "fallback" {
		t.Errorf("GetEnv fallback = %q", got)
	}
}
