package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/iago/analytics-audio-reports/internal/policy"
)

const healthCheckTimeout = 2 * time.Second

func (api *API) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := make(map[string]string, len(api.checks))
	healthy := true
	for name, check := range api.checks {
		if err := check.Ping(ctx); err != nil {
			zerolog.Ctx(r.Context()).Warn().Str("dependency", name).Str("error", policy.SanitizeError(err)).Msg("health check failed")
			checks[name] = "unavailable"
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	if !healthy {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "checks": checks})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "checks": checks})
}
