package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/docuhealth/docpipe/internal/config"
	"github.com/docuhealth/docpipe/internal/docai"
	"github.com/docuhealth/docpipe/internal/gcp"
	"github.com/docuhealth/docpipe/internal/stager"
	"github.com/docuhealth/docpipe/internal/store"
)

// Constructors for the cmd/ entry points. Each builds its own clients
// from the environment; a missing or invalid configuration is a startup
// error, never a silent demo fallback.

func loadConfig() (config.Infra, *config.Policy, error) {
	inf, err := config.LoadInfra()
	if err != nil {
		return config.Infra{}, nil, err
	}
	policy, err := config.LoadPolicy(config.GetEnv("POLICY_FILE", "policy.yaml"))
	if err != nil {
		return config.Infra{}, nil, err
	}
	return inf, policy, nil
}

// NewDispatcherFromEnv builds a fully wired production dispatcher.
func NewDispatcherFromEnv(ctx context.Context) (*Dispatcher, error) {
	inf, policy, err := loadConfig()
	if err != nil {
		return nil, err
	}

	storageClient, err := gcp.NewStorageClient(ctx)
	if err != nil {
		return nil, err
	}
	firestoreClient, err := gcp.NewFirestoreClient(ctx, inf.ProjectID)
	if err != nil {
		return nil, err
	}
	docClient, err := gcp.NewDocAIClient(ctx, inf.DocAILocation)
	if err != nil {
		return nil, err
	}

	stg := stager.New(storageClient, inf.Bucket, inf.UploadPrefix)
	proc := docai.New(docClient, storageClient, inf.ProcessorName())
	st := store.NewFirestore(firestoreClient, inf)
	outputBase := fmt.Sprintf("gs://%s/%s", inf.Bucket, inf.OutputPrefix)

	slog.Info("Dispatcher initialized.", "processor", inf.ProcessorName(), "bucket", inf.Bucket)
	return NewDispatcher(stg, proc, st, policy, outputBase), nil
}

// NewMetricsFromEnv builds the aggregator over the production store.
func NewMetricsFromEnv(ctx context.Context) (*Metrics, error) {
	inf, policy, err := loadConfig()
	if err != nil {
		return nil, err
	}
	firestoreClient, err := gcp.NewFirestoreClient(ctx, inf.ProjectID)
	if err != nil {
		return nil, err
	}
	return NewMetrics(store.NewFirestore(firestoreClient, inf), policy), nil
}

// NewValidationQueueFromEnv builds the review-queue reader.
func NewValidationQueueFromEnv(ctx context.Context) (*ValidationQueue, error) {
	inf, err := config.LoadInfra()
	if err != nil {
		return nil, err
	}
	firestoreClient, err := gcp.NewFirestoreClient(ctx, inf.ProjectID)
	if err != nil {
		return nil, err
	}
	return NewValidationQueue(store.NewFirestore(firestoreClient, inf)), nil
}

// NewStoreFromEnv exposes the production store to entry points that read
// it directly, such as the audit log.
func NewStoreFromEnv(ctx context.Context) (store.Store, error) {
	inf, err := config.LoadInfra()
	if err != nil {
		return nil, err
	}
	firestoreClient, err := gcp.NewFirestoreClient(ctx, inf.ProjectID)
	if err != nil {
		return nil, err
	}
	return store.NewFirestore(firestoreClient, inf), nil
}
