package services

import (
	"context"

	"github.com/docuhealth/docpipe/internal/docai"
	"github.com/docuhealth/docpipe/internal/models"
)

// ObjectStager is satisfied by stager.Stager and by test fakes.
type ObjectStager interface {
	Stage(ctx context.Context, content []byte, filename, mimeType string) (string, error)
	Fetch(ctx context.Context, locator string) ([]byte, string, error)
}

// DocumentProcessor is satisfied by docai.Client and by test fakes.
type DocumentProcessor interface {
	ProcessInline(ctx context.Context, content []byte, mimeType string) (*models.Extraction, error)
	StartBatch(ctx context.Context, inputURI, outputURI, mimeType string) (docai.OperationHandle, error)
	AwaitBatch(ctx context.Context, handle docai.OperationHandle) (*models.Extraction, error)
}
