package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// HTTPRecorder receives one observation per request.
type HTTPRecorder interface {
	RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, durationSeconds float64)
}

// Logger logs each request and, when rec is non-nil, records it.
func Logger(l zerolog.Logger, rec HTTPRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			route := ""
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				route = rctx.RoutePattern()
			}
			if rec != nil {
				rec.RecordHTTPRequest(r.Context(), r.Method, route, status, elapsed.Seconds())
			}

			event := l.Info()
			if status >= http.StatusInternalServerError {
				event = l.Error()
			} else if status >= http.StatusBadRequest {
				event = l.Warn()
			}
			event.
				Str("request_id", chimw.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", elapsed).
				Msg("http request")
		})
	}
}
