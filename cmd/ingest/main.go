package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/docuhealth/docpipe/internal/docai"
	"github.com/docuhealth/docpipe/internal/models"
	"github.com/docuhealth/docpipe/internal/services"
	"github.com/docuhealth/docpipe/internal/stager"
	"github.com/docuhealth/docpipe/internal/store"
)

var (
	dispatcher *services.Dispatcher
	once       sync.Once
	initErr    error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleIngest", handleIngest)
}

// main is required by the Go Functions Framework.
func main() {}

// handleIngest accepts POSTed documents for dispatch and GET polls that
// resolve queued batch records.
func handleIngest(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		dispatcher, initErr = services.NewDispatcherFromEnv(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: dispatcher initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	switch r.Method {
	case http.MethodPost:
		ingest(w, r)
	case http.MethodGet:
		resolve(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func ingest(w http.ResponseWriter, r *http.Request) {
	var req models.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	in := services.DispatchInput{
		Locator:      req.GCSUri,
		Filename:     req.Filename,
		MimeType:     req.MimeType,
		DeclaredType: req.DeclaredType,
		Department:   req.Department,
		UploadedBy:   req.UploadedBy,
		Channel:      req.Channel,
		SyncHint:     req.SyncHint,
		Await:        req.Await,
	}
	if req.ContentBase64 != "" {
		content, err := base64.StdEncoding.DecodeString(req.ContentBase64)
		if err != nil {
			http.Error(w, "Bad Request: contentBase64 is not valid base64", http.StatusBadRequest)
			return
		}
		in.Content = content
	}
	if in.Channel == "" {
		in.Channel = models.ChannelUpload
	}

	doc, rec, err := dispatcher.Dispatch(r.Context(), in)
	if err != nil {
		writeDispatchError(w, err)
		return
	}
	writeJSON(w, models.IngestResponse{Document: doc, Record: rec})
}

func resolve(w http.ResponseWriter, r *http.Request) {
	documentID := r.URL.Query().Get("documentId")
	if documentID == "" {
		http.Error(w, "Bad Request: documentId is required", http.StatusBadRequest)
		return
	}
	rec, err := dispatcher.Resolve(r.Context(), documentID)
	if err != nil {
		writeDispatchError(w, err)
		return
	}
	writeJSON(w, rec)
}

// writeDispatchError maps domain failures onto HTTP statuses. A failed
// dispatch still committed its record, so the body carries the error kind
// rather than a generic 500 where a more precise status exists.
func writeDispatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrDuplicateRecord):
		http.Error(w, "document already processed", http.StatusConflict)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, stager.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, services.ErrPayloadTooLargeForSync):
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
	case errors.Is(err, docai.ErrTimeout):
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
	case errors.Is(err, stager.ErrQuotaExceeded):
		http.Error(w, err.Error(), http.StatusInsufficientStorage)
	default:
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
