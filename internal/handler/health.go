package handler

import (
	"context"
	"net/http"
	"time"

	"parley/internal/httputil"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health reports liveness and database reachability
// GET /health
func Health(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"status": "ok", "database": "ok"}
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				status["status"] = "degraded"
				status["database"] = err.Error()
				httputil.RespondJSON(w, http.StatusServiceUnavailable, status)
				return
			}
		}
		httputil.RespondJSON(w, http.StatusOK, status)
	}
}
