package relay

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"refiner/internal/domain"
	"refiner/internal/infra"
	"refiner/internal/providers/runpod"
	"refiner/internal/storage"
)

const compensationTimeout = 10 * time.Second

// SubmitRequest carries one upload from an authenticated caller.
type SubmitRequest struct {
	UserID      string
	Filename    string
	ContentType string
	Data        []byte
	Options     string // raw JSON object of booleans
}

// SubmitResult is returned to the caller on success.
type SubmitResult struct {
	Message        string `json:"message"`
	ImageObjectKey string `json:"image_object_key"`
	ProjectID      string `json:"projectId"`
	RunPodJobID    string `json:"runpodJobId"`
}

// SubmitterConfig wires a Submitter.
type SubmitterConfig struct {
	Repo       domain.ProjectRepository
	Store      ObjectStore
	Runner     Runner
	Reconciler *Reconciler
	WebhookURL string
	Logger     *infra.Logger
	Metrics    Metrics
	Now        func() time.Time
}

// Submitter uploads inputs, records projects and dispatches remote jobs.
type Submitter struct {
	repo       domain.ProjectRepository
	store      ObjectStore
	runner     Runner
	reconciler *Reconciler
	webhookURL string
	logger     *infra.Logger
	metrics    Metrics
	now        func() time.Time
}

// NewSubmitter constructs a Submitter.
func NewSubmitter(cfg SubmitterConfig) *Submitter {
	logger := infra.LoggerOrNop(cfg.Logger)
	var metrics Metrics = nopMetrics{}
	if cfg.Metrics != nil {
		metrics = cfg.Metrics
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	reconciler := cfg.Reconciler
	if reconciler == nil {
		reconciler = NewReconciler(cfg.Repo, logger, WithMetrics(metrics), WithClock(now))
	}
	return &Submitter{
		repo:       cfg.Repo,
		store:      cfg.Store,
		runner:     cfg.Runner,
		reconciler: reconciler,
		webhookURL: cfg.WebhookURL,
		logger:     logger,
		metrics:    metrics,
		now:        now,
	}
}

// Submit runs upload, insert, remote submission and job id attachment in
// order. Failures after the insert leave the project failed.
func (s *Submitter) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	res, err := s.submit(ctx, req)
	s.metrics.SubmissionFinished(ctx, outcome(err))
	return res, err
}

func (s *Submitter) submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if s.runner == nil || !s.runner.HasCredentials() {
		return nil, domain.ConfigError("relay.submit", "RunPod API key is not configured")
	}
	if s.store == nil || !s.store.Configured() {
		return nil, domain.ConfigError("relay.submit", "object storage credentials are not configured")
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, domain.AuthError("unauthorized")
	}
	if len(req.Data) == 0 {
		return nil, domain.InputError("No image file provided")
	}
	options, err := ParseOptions(req.Options)
	if err != nil {
		return nil, err
	}

	key := storage.ObjectKey(userID, s.now(), req.Filename)
	var obj storage.Object
	err = timed(ctx, s.metrics, "storage.upload", func() error {
		var err error
		obj, err = s.store.Put(ctx, key, req.ContentType, req.Data)
		return err
	})
	if err != nil {
		return nil, domain.StorageError("storage.upload", err)
	}
	log := s.logger.With().Str("user_id", userID).Str("image_key", obj.Key).Logger()
	log.Debug().Int64("bytes", obj.Size).Msg("relay: image stored")

	project := &domain.Project{
		ID:     uuid.NewString(),
		UserID: userID,
		Name:   req.Filename,
		Tool:   domain.ToolSkinRefiner,
		Status: domain.JobStatusProcessing,
		Data: domain.ProjectData{
			domain.KeyOriginalImageKey:   obj.Key,
			domain.KeyFaceParsingOptions: options,
		},
	}
	if err := s.repo.Create(ctx, project); err != nil {
		s.discardObject(ctx, obj)
		return nil, domain.InternalError("projects.create", err)
	}
	log = log.With().Str("project_id", project.ID).Logger()

	var job *runpod.Job
	err = timed(ctx, s.metrics, "runpod.submit", func() error {
		var err error
		job, err = s.runner.Submit(ctx, runpod.JobInput{
			ImageKey:    obj.Key,
			Bucket:      s.store.Bucket(),
			FaceParsing: options,
			ProjectID:   project.ID,
		}, s.webhookURL)
		return err
	})
	if err != nil {
		log.Error().Err(err).Msg("relay: remote submission failed")
		s.markFailed(ctx, project, "remote submission failed: "+err.Error())
		return nil, domain.ServiceError("runpod.submit", err)
	}
	log = log.With().Str("runpod_job_id", job.ID).Logger()

	if err := s.repo.MergeData(ctx, project.ID, domain.ProjectData{domain.KeyRunPodJobID: job.ID}); err != nil {
		log.Error().Err(err).Msg("relay: attaching remote job id failed")
		s.markFailed(ctx, project, "could not record remote job id")
		return nil, domain.InternalError("projects.attach_job", err)
	}
	log.Info().Msg("relay: job submitted")

	return &SubmitResult{
		Message:        "Image uploaded and processing started",
		ImageObjectKey: obj.Key,
		ProjectID:      project.ID,
		RunPodJobID:    job.ID,
	}, nil
}

// ParseOptions decodes the face parsing options. Empty input yields an empty map.
func ParseOptions(raw string) (map[string]bool, error) {
	raw = strings.TrimSpace(raw)
	options := map[string]bool{}
	if raw == "" {
		return options, nil
	}
	if err := json.Unmarshal([]byte(raw), &options); err != nil {
		return nil, domain.InputError("options must be a JSON object of booleans")
	}
	if options == nil {
		options = map[string]bool{}
	}
	return options, nil
}

func (s *Submitter) markFailed(ctx context.Context, project *domain.Project, message string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	if _, _, err := s.reconciler.Fail(ctx, project, message, ChannelSubmit); err != nil {
		s.logger.Error().Err(err).Str("project_id", project.ID).Msg("relay: could not mark project failed")
	}
}

func (s *Submitter) discardObject(ctx context.Context, obj storage.Object) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	if err := s.store.Delete(ctx, obj); err != nil {
		s.logger.Warn().Err(err).Str("image_key", obj.Key).Msg("relay: could not delete orphaned upload")
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrConfig):
		return "config_error"
	case errors.Is(err, domain.ErrAuth):
		return "auth_error"
	case errors.Is(err, domain.ErrInput):
		return "input_error"
	case errors.Is(err, domain.ErrUpstreamStorage):
		return "storage_error"
	case errors.Is(err, domain.ErrUpstreamService):
		return "service_error"
	default:
		return "internal_error"
	}
}
