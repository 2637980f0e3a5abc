package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/docuhealth/docpipe/internal/services"
)

var (
	queue   *services.ValidationQueue
	once    sync.Once
	initErr error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleValidationQueue", handleValidationQueue)
}

// main is required by the Go Functions Framework.
func main() {}

func handleValidationQueue(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		queue, initErr = services.NewValidationQueueFromEnv(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: validation queue initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "Bad Request: limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	tickets, err := queue.List(r.Context(), limit)
	if err != nil {
		slog.Error("Listing validation queue failed", "error", err)
		http.Error(w, "Internal Server Error: listing queue failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(tickets); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
