package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/docuhealth/docpipe/internal/config"
	"github.com/docuhealth/docpipe/internal/models"
	"github.com/docuhealth/docpipe/internal/services"
)

var (
	dispatcher *services.Dispatcher
	scanPrefix string
	once       sync.Once
	initErr    error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("WatchScans", watchScans)
}

// main is required by the Go Functions Framework.
func main() {}

// gcsEvent is the payload of a GCS object-finalize event.
type gcsEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
}

// watchScans dispatches freshly scanned objects dropped under the scan
// prefix. Scanner batches are large multi-page files, so they take the
// non-awaited batch path and surface as Queued records.
func watchScans(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		dispatcher, initErr = services.NewDispatcherFromEnv(context.Background())
		if initErr == nil {
			inf, err := config.LoadInfra()
			if err != nil {
				initErr = err
				return
			}
			scanPrefix = inf.ScanPrefix
		}
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var ev gcsEvent
	if err := json.Unmarshal(e.Data(), &ev); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	if !strings.HasPrefix(ev.Name, scanPrefix+"/") {
		// Staged uploads and batch output land in the same bucket; only
		// the scan drop area triggers ingestion.
		return nil
	}

	mimeType := ev.ContentType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	_, rec, err := dispatcher.Dispatch(ctx, services.DispatchInput{
		Locator:      fmt.Sprintf("gs://%s/%s", ev.Bucket, ev.Name),
		Filename:     path.Base(ev.Name),
		MimeType:     mimeType,
		DeclaredType: models.DocTypeGeneral,
		Department:   "central-scanning",
		UploadedBy:   "system/scan-watcher",
		Channel:      models.ChannelScanner,
		Await:        false,
	})
	if err != nil {
		return err
	}

	slog.Info("Scan queued for processing.", "documentId", rec.DocumentID, "object", ev.Name)
	return nil
}
