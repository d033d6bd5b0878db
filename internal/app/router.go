package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/merlion-labs/einvois/internal/inbound"
	"github.com/merlion-labs/einvois/internal/ingest"
	"github.com/merlion-labs/einvois/internal/observability"
	"github.com/merlion-labs/einvois/internal/status"
	"github.com/merlion-labs/einvois/internal/submission"
	"github.com/merlion-labs/einvois/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	Pool              *pgxpool.Pool
	IngestHandler     *ingest.Handler
	StatusHandler     *status.Handler
	SubmissionHandler *submission.Handler
	InboundHandler    *inbound.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with pipeline defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)
	if params.Metrics != nil {
		r.Use(params.Metrics.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.Pool != nil {
			if err := params.Pool.Ping(r.Context()); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded","database":"unreachable"}`))
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		if params.IngestHandler != nil {
			params.IngestHandler.MountRoutes(r)
		}
		if params.StatusHandler != nil {
			params.StatusHandler.MountRoutes(r)
		}
		if params.SubmissionHandler != nil {
			params.SubmissionHandler.MountRoutes(r)
		}
		if params.InboundHandler != nil {
			r.Route("/inbound", params.InboundHandler.MountRoutes)
		}
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
