package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"refiner/internal/domain"
	"refiner/internal/infra"
	"refiner/internal/middleware"
	"refiner/internal/relay"
)

// Submitter is satisfied by relay.Submitter.
type Submitter interface {
	Submit(ctx context.Context, req relay.SubmitRequest) (*relay.SubmitResult, error)
}

// Poller is satisfied by relay.Poller.
type Poller interface {
	Poll(ctx context.Context, userID, projectID string) (*relay.StatusResult, error)
}

// WebhookReceiver is satisfied by relay.WebhookReceiver.
type WebhookReceiver interface {
	Receive(ctx context.Context, body []byte, creds relay.WebhookCredentials) (*domain.Project, error)
}

// App holds the dependencies shared by HTTP handlers.
type App struct {
	Config    *infra.Config
	Logger    *infra.Logger
	SQL       infra.SQLExecutor
	Submitter Submitter
	Poller    Poller
	Webhooks  WebhookReceiver
}

func NewApp(cfg *infra.Config, logger *infra.Logger, sql infra.SQLExecutor, sub Submitter, poller Poller, webhooks WebhookReceiver) *App {
	logger = infra.LoggerOrNop(logger)
	return &App{Config: cfg, Logger: logger, SQL: sql, Submitter: sub, Poller: poller, Webhooks: webhooks}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, message string) {
	a.json(w, code, map[string]string{"error": message})
}

// fail renders err with the status of its kind. Server-side failures are
// logged with their cause.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.HTTPStatus(err)
	message := err.Error()
	var de *domain.Error
	if !errors.As(err, &de) {
		message = "internal error"
	}
	if code >= http.StatusInternalServerError {
		ev := a.Logger.Error().Err(err).
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Str("path", r.URL.Path)
		if de != nil && de.Op != "" {
			ev = ev.Str("op", de.Op)
		}
		ev.Msg("request failed")
	}
	a.error(w, code, message)
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}
