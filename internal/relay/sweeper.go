package relay

import (
	"context"
	"time"

	"refiner/internal/domain"
	"refiner/internal/infra"
	"refiner/internal/providers/runpod"
)

const timeoutMessage = "job timed out"

// SweeperConfig wires a Sweeper.
type SweeperConfig struct {
	Repo       domain.ProjectRepository
	Source     StatusSource
	Reconciler *Reconciler
	Logger     *infra.Logger
	Metrics    Metrics
	StaleAfter time.Duration
	Timeout    time.Duration
	Batch      int
	Now        func() time.Time
}

// Sweeper finishes projects whose webhook never arrived and expires the
// ones that ran past the timeout.
type Sweeper struct {
	repo       domain.ProjectRepository
	source     StatusSource
	reconciler *Reconciler
	logger     *infra.Logger
	metrics    Metrics
	staleAfter time.Duration
	timeout    time.Duration
	batch      int
	now        func() time.Time
}

// SweepStats summarises one pass.
type SweepStats struct {
	Checked   int
	Completed int
	Failed    int
	Expired   int
	Errors    int
}

// NewSweeper constructs a Sweeper.
func NewSweeper(cfg SweeperConfig) *Sweeper {
	logger := infra.LoggerOrNop(cfg.Logger)
	var metrics Metrics = nopMetrics{}
	if cfg.Metrics != nil {
		metrics = cfg.Metrics
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	batch := cfg.Batch
	if batch <= 0 {
		batch = 50
	}
	return &Sweeper{
		repo:       cfg.Repo,
		source:     cfg.Source,
		reconciler: cfg.Reconciler,
		logger:     logger,
		metrics:    metrics,
		staleAfter: cfg.StaleAfter,
		timeout:    cfg.Timeout,
		batch:      batch,
		now:        now,
	}
}

// Sweep makes one pass over stale processing projects.
func (s *Sweeper) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	now := s.now()
	projects, err := s.repo.ListStale(ctx, domain.ToolSkinRefiner, now.Add(-s.staleAfter), s.batch)
	if err != nil {
		return stats, domain.InternalError("projects.list_stale", err)
	}
	for i := range projects {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		project := &projects[i]
		stats.Checked++
		current := project
		if jobID := project.RemoteJobID(); jobID != "" && s.source != nil {
			var status *runpod.JobStatus
			err := timed(ctx, s.metrics, "runpod.status", func() error {
				var err error
				status, err = s.source.Status(ctx, jobID)
				return err
			})
			if err != nil {
				stats.Errors++
				s.logger.Warn().Err(err).Str("project_id", project.ID).Str("runpod_job_id", jobID).Msg("sweeper: status lookup failed")
			} else {
				updated, applied, err := s.reconciler.Apply(ctx, project, resultFromStatus(status), ChannelSweep)
				if err != nil {
					stats.Errors++
					s.logger.Error().Err(err).Str("project_id", project.ID).Msg("sweeper: reconcile failed")
					continue
				}
				current = updated
				if applied {
					switch updated.Status {
					case domain.JobStatusCompleted:
						stats.Completed++
					case domain.JobStatusFailed:
						stats.Failed++
					}
					continue
				}
			}
		}
		if s.timeout > 0 && current.Status == domain.JobStatusProcessing && now.Sub(current.CreatedAt) > s.timeout {
			_, applied, err := s.reconciler.Fail(ctx, current, timeoutMessage, ChannelSweep)
			if err != nil {
				stats.Errors++
				s.logger.Error().Err(err).Str("project_id", current.ID).Msg("sweeper: expire failed")
				continue
			}
			if applied {
				stats.Expired++
			}
		}
	}
	return stats, nil
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		stats, err := s.Sweep(ctx)
		if err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("sweeper: pass failed")
		} else if stats.Checked > 0 {
			s.logger.Info().
				Int("checked", stats.Checked).
				Int("completed", stats.Completed).
				Int("failed", stats.Failed).
				Int("expired", stats.Expired).
				Int("errors", stats.Errors).
				Msg("sweeper: pass finished")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
