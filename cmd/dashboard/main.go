package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/docuhealth/docpipe/internal/services"
)

var (
	metrics *services.Metrics
	once    sync.Once
	initErr error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleDashboard", handleDashboard)
}

// main is required by the Go Functions Framework.
func main() {}

func handleDashboard(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		metrics, initErr = services.NewMetricsFromEnv(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: metrics initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	snap, err := metrics.Snapshot(r.Context())
	if err != nil {
		slog.Error("Snapshot failed", "error", err)
		http.Error(w, "Internal Server Error: snapshot failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
