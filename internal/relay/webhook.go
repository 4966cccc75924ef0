package relay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	"refiner/internal/domain"
	"refiner/internal/infra"
)

// SignatureHeader carries "sha256=<hex HMAC-SHA256 of the body>".
const SignatureHeader = "X-Signature-256"

// WebhookPayload is the body RunPod posts to the webhook.
type WebhookPayload struct {
	ProjectID string `json:"project_id"`
	ID        string `json:"id,omitempty"`
	Status    string `json:"status"`
	Output    any    `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`
}

// WebhookCredentials are the caller-supplied proofs of origin.
type WebhookCredentials struct {
	Token     string
	Signature string
}

// WebhookReceiver verifies and applies push notifications.
type WebhookReceiver struct {
	repo       domain.ProjectRepository
	reconciler *Reconciler
	secret     []byte
	logger     *infra.Logger
}

// NewWebhookReceiver constructs a WebhookReceiver that trusts secret.
func NewWebhookReceiver(repo domain.ProjectRepository, reconciler *Reconciler, secret string, logger *infra.Logger) *WebhookReceiver {
	logger = infra.LoggerOrNop(logger)
	return &WebhookReceiver{repo: repo, reconciler: reconciler, secret: []byte(secret), logger: logger}
}

// Verify accepts either the shared token or an HMAC signature over body.
func (w *WebhookReceiver) Verify(body []byte, creds WebhookCredentials) error {
	if len(w.secret) == 0 {
		return domain.ConfigError("relay.webhook", "webhook secret is not configured")
	}
	if creds.Token != "" && subtle.ConstantTimeCompare([]byte(creds.Token), w.secret) == 1 {
		return nil
	}
	if sig, ok := strings.CutPrefix(strings.TrimSpace(creds.Signature), "sha256="); ok {
		got, err := hex.DecodeString(sig)
		if err == nil && hmac.Equal(got, Sign(w.secret, body)) {
			return nil
		}
	}
	return domain.AuthError("invalid webhook signature")
}

// Sign computes the HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

// Receive verifies body and reconciles the referenced project.
func (w *WebhookReceiver) Receive(ctx context.Context, body []byte, creds WebhookCredentials) (*domain.Project, error) {
	if err := w.Verify(body, creds); err != nil {
		w.logger.Warn().Msg("relay: webhook rejected")
		return nil, err
	}
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, domain.InputError("invalid webhook payload")
	}
	projectID := strings.TrimSpace(payload.ProjectID)
	if projectID == "" {
		return nil, domain.InputError("project_id is required")
	}
	project, err := w.repo.GetByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.InputError("project not found")
		}
		return nil, domain.InternalError("projects.get", err)
	}
	updated, applied, err := w.reconciler.Apply(ctx, project, RemoteResult{
		Status: payload.Status,
		Output: payload.Output,
		Error:  payload.Error,
	}, ChannelWebhook)
	if err != nil {
		return nil, err
	}
	w.logger.Debug().
		Str("project_id", projectID).
		Str("runpod_job_id", payload.ID).
		Str("runpod_status", payload.Status).
		Bool("applied", applied).
		Msg("relay: webhook received")
	return updated, nil
}
