package relay

import (
	"context"
	"errors"
	"strings"

	"refiner/internal/domain"
	"refiner/internal/infra"
	"refiner/internal/providers/runpod"
)

// StatusResult is returned to a polling caller.
type StatusResult struct {
	ProjectStatus domain.JobStatus `json:"projectStatus"`
	RunPodStatus  string           `json:"runpodStatus"`
	Output        any              `json:"output"`
}

// Poller answers status requests by asking RunPod and reconciling locally.
type Poller struct {
	repo       domain.ProjectRepository
	source     StatusSource
	reconciler *Reconciler
	logger     *infra.Logger
	metrics    Metrics
}

// NewPoller constructs a Poller.
func NewPoller(repo domain.ProjectRepository, source StatusSource, reconciler *Reconciler, logger *infra.Logger, metrics Metrics) *Poller {
	logger = infra.LoggerOrNop(logger)
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Poller{repo: repo, source: source, reconciler: reconciler, logger: logger, metrics: metrics}
}

// Poll returns the caller's project status after one pull reconciliation.
// Projects owned by someone else are reported as not found.
func (p *Poller) Poll(ctx context.Context, userID, projectID string) (*StatusResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.AuthError("unauthorized")
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, domain.InputError("projectId is required")
	}
	project, err := p.repo.GetForUser(ctx, projectID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.InputError("project not found")
		}
		return nil, domain.InternalError("projects.get", err)
	}
	jobID := project.RemoteJobID()
	if jobID == "" {
		return nil, domain.InputError("project has no remote job")
	}

	var status *runpod.JobStatus
	err = timed(ctx, p.metrics, "runpod.status", func() error {
		var err error
		status, err = p.source.Status(ctx, jobID)
		return err
	})
	if err != nil {
		return nil, domain.ServiceError("runpod.status", err)
	}

	updated, _, err := p.reconciler.Apply(ctx, project, resultFromStatus(status), ChannelPoll)
	if err != nil {
		return nil, err
	}
	p.logger.Debug().
		Str("project_id", project.ID).
		Str("runpod_job_id", jobID).
		Str("runpod_status", status.Status).
		Str("project_status", string(updated.Status)).
		Msg("relay: polled")
	return &StatusResult{
		ProjectStatus: updated.Status,
		RunPodStatus:  status.Status,
		Output:        status.Output,
	}, nil
}
