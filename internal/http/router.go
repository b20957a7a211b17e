package httpserver

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/iago/analytics-audio-reports/internal/http/handlers"
	"github.com/iago/analytics-audio-reports/internal/http/middleware"
)

type RouterDependencies struct {
	API            *handlers.API
	Logger         zerolog.Logger
	AuthToken      string
	CORS           middleware.CORSConfig
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter builds the HTTP handler. ctx bounds background helpers such as
// the rate limiter sweeper.
func NewRouter(ctx context.Context, deps RouterDependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Trace(deps.Logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(deps.CORS))
	r.Use(middleware.RateLimit(ctx, middleware.RateLimitConfig{RPS: deps.RateLimitRPS, Burst: deps.RateLimitBurst}))
	r.Use(middleware.Auth(deps.AuthToken))

	r.Get("/healthz", deps.API.Health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/reports", deps.API.CreateReport)
		r.Get("/jobs/{jobID}", deps.API.JobStatus)
		r.Delete("/jobs/{jobID}", deps.API.CancelJob)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, r, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	return r
}
