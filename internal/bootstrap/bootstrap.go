// Package bootstrap builds the relay dependencies shared by the commands.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"refiner/internal/adapter/repo"
	"refiner/internal/cache"
	"refiner/internal/infra"
	"refiner/internal/observability"
	"refiner/internal/providers/runpod"
	"refiner/internal/relay"
	"refiner/internal/storage"
	"refiner/pkg/backoff"
)

// Relay groups the services built from one Config.
type Relay struct {
	Store      relay.ObjectStore
	RunPod     *runpod.Client
	Status     relay.StatusSource
	Reconciler *relay.Reconciler
	Metrics    *observability.Metrics
	Close      func()
}

// NewObjectStore selects the storage driver named in cfg.
func NewObjectStore(cfg *infra.Config, logger *infra.Logger) (relay.ObjectStore, error) {
	switch cfg.StorageDriver {
	case infra.StorageDriverFilesystem:
		fs, err := storage.NewFileStore(cfg.StoragePath)
		if err != nil {
			return nil, err
		}
		return filesystemStore{FileStore: fs, bucket: cfg.BucketName()}, nil
	case infra.StorageDriverB2:
		return storage.NewB2Client(storage.B2Options{
			KeyID:          cfg.B2KeyID,
			ApplicationKey: cfg.B2ApplicationKey,
			BucketID:       cfg.B2BucketID,
			BucketName:     cfg.B2BucketName,
			AuthURL:        cfg.B2AuthURL,
			HTTPClient:     &http.Client{Timeout: 2 * time.Minute},
			Logger:         logger,
			Retry:          &backoff.Config{},
		}), nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
}

// filesystemStore reports the configured bucket name for local uploads.
type filesystemStore struct {
	*storage.FileStore
	bucket string
}

func (s filesystemStore) Bucket() string { return s.bucket }

// NewRelay wires storage, RunPod, the optional Redis status cache and the
// shared Reconciler.
func NewRelay(ctx context.Context, cfg *infra.Config, sql infra.SQLExecutor, logger *infra.Logger, metrics *observability.Metrics) (*Relay, error) {
	store, err := NewObjectStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	client := runpod.NewClient(runpod.Options{
		APIKey:     cfg.RunPodAPIKey,
		EndpointID: cfg.RunPodEndpointID,
		BaseURL:    cfg.RunPodBaseURL,
		Logger:     logger,
		Retry:      &backoff.Config{},
	})

	rdb, err := cache.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	closeFn := func() {}
	if rdb != nil {
		closeFn = func() { _ = rdb.Close() }
	} else {
		logger.Info().Msg("redis not configured, status cache disabled")
	}
	status := cache.NewStatusCache(rdb, client, cfg.StatusCacheTTL, logger)

	var opts []relay.ReconcilerOption
	if metrics != nil {
		opts = append(opts, relay.WithMetrics(metrics))
	}
	reconciler := relay.NewReconciler(repo.NewProjectRepository(sql), logger, opts...)
	return &Relay{
		Store:      store,
		RunPod:     client,
		Status:     status,
		Reconciler: reconciler,
		Metrics:    metrics,
		Close:      closeFn,
	}, nil
}
