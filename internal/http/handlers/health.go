package handlers

import (
	"context"
	"net/http"
	"time"

	"refiner/internal/sqlinline"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	if a.SQL != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		var one int
		if err := a.SQL.QueryRow(ctx, sqlinline.QPing).Scan(&one); err != nil {
			a.Logger.Warn().Err(err).Msg("health: database ping failed")
			a.json(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": "unreachable"})
			return
		}
	}
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}
