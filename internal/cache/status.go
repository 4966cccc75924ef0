// Package cache keeps recent RunPod job statuses in Redis so bursts of
// client polling do not each reach the remote API.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"refiner/internal/domain"
	"refiner/internal/infra"
	"refiner/internal/providers/runpod"
)

const (
	keyPrefix   = "refiner:runpod:status:"
	terminalTTL = time.Hour
)

// StatusSource is the uncached lookup.
type StatusSource interface {
	Status(ctx context.Context, jobID string) (*runpod.JobStatus, error)
}

// StatusCache is a read-through cache in front of a StatusSource. Terminal
// statuses are kept longer since they no longer change.
type StatusCache struct {
	rdb    *redis.Client
	next   StatusSource
	ttl    time.Duration
	logger *infra.Logger
}

// NewStatusCache wraps next. A nil rdb disables caching.
func NewStatusCache(rdb *redis.Client, next StatusSource, ttl time.Duration, logger *infra.Logger) *StatusCache {
	logger = infra.LoggerOrNop(logger)
	if ttl <= 0 {
		ttl = 3 * time.Second
	}
	return &StatusCache{rdb: rdb, next: next, ttl: ttl, logger: logger}
}

// NewRedisClient parses a redis:// URL. An empty URL returns nil.
func NewRedisClient(ctx context.Context, rawURL string) (*redis.Client, error) {
	if rawURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// Status returns a cached status when fresh, otherwise asks next and stores
// the answer. Redis failures fall through to next.
func (c *StatusCache) Status(ctx context.Context, jobID string) (*runpod.JobStatus, error) {
	if c.rdb == nil {
		return c.next.Status(ctx, jobID)
	}
	key := keyPrefix + jobID
	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var st runpod.JobStatus
		if jsonErr := json.Unmarshal(raw, &st); jsonErr == nil {
			return &st, nil
		}
	case !errors.Is(err, redis.Nil):
		c.logger.Warn().Err(err).Str("runpod_job_id", jobID).Msg("cache: read failed")
	}

	st, err := c.next.Status(ctx, jobID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, st)
	return st, nil
}

func (c *StatusCache) store(ctx context.Context, key string, st *runpod.JobStatus) {
	body, err := json.Marshal(st)
	if err != nil {
		return
	}
	ttl := c.ttl
	if st.Status == domain.RemoteCompleted || st.Status == domain.RemoteFailed {
		ttl = terminalTTL
	}
	if err := c.rdb.Set(ctx, key, body, ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache: write failed")
	}
}
