package handle

import (
	"context"
	"net/http"
	"time"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type HealthHandler struct {
	checks map[string]HealthCheck
}

func NewHealthHandler(checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks}
}

func (hh *HealthHandler) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := "ok"
		deps := make(map[string]string, len(hh.checks))
		for name, c := range hh.checks {
			if err := c(ctx); err != nil {
				deps[name] = "down"
				status = "degraded"
				continue
			}
			deps[name] = "up"
		}

		code := http.StatusOK
		if status != "ok" {
			code = http.StatusServiceUnavailable
		}
		jsonResponse(w, code, map[string]any{
			"status":       status,
			"dependencies": deps,
		})
	}
}
