package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"refiner/internal/http/handlers"
	"refiner/internal/middleware"
)

// Options controls the cross-cutting middleware around the routes.
type Options struct {
	JWTSecret       string
	RateLimitPerMin int
	Recorder        middleware.HTTPRecorder
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		middleware.Logger(*app.Logger, opts.Recorder),
		chimw.Recoverer,
		middleware.CORS(),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)

	r.Route("/v1/skin-refiner", func(r chi.Router) {
		r.Post("/webhook", app.SkinRefinerWebhook)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthJWT(opts.JWTSecret))
			r.With(middleware.RateLimit(opts.RateLimitPerMin, time.Minute)).Post("/", app.SkinRefinerSubmit)
			r.Post("/status", app.SkinRefinerStatus)
		})
	})

	return r
}
