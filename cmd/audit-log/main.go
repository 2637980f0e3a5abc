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
	"github.com/docuhealth/docpipe/internal/store"
)

var (
	st      store.Store
	once    sync.Once
	initErr error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleAuditLog", handleAuditLog)
}

// main is required by the Go Functions Framework.
func main() {}

const defaultLimit = 100

func handleAuditLog(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		st, initErr = services.NewStoreFromEnv(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: store initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "Bad Request: limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	events, err := st.ListAudit(r.Context(), limit)
	if err != nil {
		slog.Error("Listing audit events failed", "error", err)
		http.Error(w, "Internal Server Error: listing audit events failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(events); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
