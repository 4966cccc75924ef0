package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"refiner/internal/domain"
	"refiner/internal/infra"
)

const defaultReconcileAttempts = 4

// ErrTooManyConflicts is returned when a project kept changing under a transition.
var ErrTooManyConflicts = errors.New("project changed concurrently too many times")

// Reconciler applies remote results to projects. It is safe for concurrent use.
type Reconciler struct {
	repo     domain.ProjectRepository
	logger   *infra.Logger
	metrics  Metrics
	now      func() time.Time
	attempts int
}

// ReconcilerOption customises a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) { r.now = now }
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) ReconcilerOption {
	return func(r *Reconciler) {
		if m != nil {
			r.metrics = m
		}
	}
}

// NewReconciler builds a Reconciler over repo.
func NewReconciler(repo domain.ProjectRepository, logger *infra.Logger, opts ...ReconcilerOption) *Reconciler {
	logger = infra.LoggerOrNop(logger)
	r := &Reconciler{
		repo:     repo,
		logger:   logger,
		metrics:  nopMetrics{},
		now:      time.Now,
		attempts: defaultReconcileAttempts,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type plan func(p *domain.Project) (domain.JobStatus, domain.ProjectData, bool)

// Apply converges project towards result. It returns the resulting project
// and whether this call performed the transition.
func (r *Reconciler) Apply(ctx context.Context, project *domain.Project, result RemoteResult, channel Channel) (*domain.Project, bool, error) {
	return r.transition(ctx, project, channel, func(p *domain.Project) (domain.JobStatus, domain.ProjectData, bool) {
		if p.Status != domain.JobStatusProcessing {
			return "", nil, false
		}
		at := r.now().UTC().Format(time.RFC3339)
		switch strings.ToUpper(strings.TrimSpace(result.Status)) {
		case domain.RemoteCompleted:
			return domain.JobStatusCompleted, domain.ProjectData{
				domain.KeyRefinedImageURL: refinedImageURL(result.Output),
				domain.KeyCompletedAt:     at,
				domain.KeyRemoteStatus:    domain.RemoteCompleted,
				domain.KeyCompletedVia:    string(channel),
			}, true
		case domain.RemoteFailed:
			return domain.JobStatusFailed, domain.ProjectData{
				domain.KeyErrorMessage: errorMessage(result),
				domain.KeyFailedAt:     at,
				domain.KeyRemoteStatus: domain.RemoteFailed,
				domain.KeyFailedVia:    string(channel),
			}, true
		}
		return "", nil, false
	})
}

// Fail moves a processing project to failed with message, regardless of the
// remote state. Used for submission compensation and timeouts.
func (r *Reconciler) Fail(ctx context.Context, project *domain.Project, message string, channel Channel) (*domain.Project, bool, error) {
	return r.transition(ctx, project, channel, func(p *domain.Project) (domain.JobStatus, domain.ProjectData, bool) {
		if p.Status != domain.JobStatusProcessing {
			return "", nil, false
		}
		return domain.JobStatusFailed, domain.ProjectData{
			domain.KeyErrorMessage: message,
			domain.KeyFailedAt:     r.now().UTC().Format(time.RFC3339),
			domain.KeyFailedVia:    string(channel),
		}, true
	})
}

func (r *Reconciler) transition(ctx context.Context, project *domain.Project, channel Channel, decide plan) (*domain.Project, bool, error) {
	current := project
	for attempt := 0; attempt < r.attempts; attempt++ {
		status, patch, ok := decide(current)
		if !ok {
			return current, false, nil
		}
		applied, err := r.repo.Transition(ctx, current.ID, current.Version, status, patch)
		if err != nil {
			return current, false, domain.InternalError("projects.transition", err)
		}
		if applied {
			updated := current.Clone()
			updated.Status = status
			for k, v := range patch {
				updated.Data[k] = v
			}
			updated.Version++
			r.metrics.Transitioned(ctx, string(channel), string(status))
			r.logger.Info().
				Str("project_id", updated.ID).
				Str("runpod_job_id", updated.RemoteJobID()).
				Str("channel", string(channel)).
				Str("status", string(status)).
				Msg("relay: project transitioned")
			return updated, true, nil
		}
		r.logger.Debug().
			Str("project_id", current.ID).
			Int("version", current.Version).
			Str("channel", string(channel)).
			Msg("relay: transition lost race, reloading")
		reloaded, err := r.repo.GetByID(ctx, current.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return current, false, domain.InputError("project not found")
			}
			return current, false, domain.InternalError("projects.get", err)
		}
		current = reloaded
	}
	return current, false, domain.InternalError("relay.reconcile", fmt.Errorf("%s: %w", current.ID, ErrTooManyConflicts))
}

// outputString reads the first non-empty string among keys when output is an
// object, or output itself when it is a bare string.
func outputString(output any, keys ...string) string {
	switch v := output.(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		for _, key := range keys {
			if s, ok := v[key].(string); ok && strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	return ""
}

func refinedImageURL(output any) string {
	return outputString(output, "refined_image_url", "image_url")
}

func errorMessage(result RemoteResult) string {
	if v := outputString(result.Output, "error"); v != "" {
		return v
	}
	if strings.TrimSpace(result.Error) != "" {
		return result.Error
	}
	return "remote job failed"
}
