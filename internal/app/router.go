package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/khovattu/khovattu/internal/auth"
	"github.com/khovattu/khovattu/internal/catalog"
	"github.com/khovattu/khovattu/internal/counting"
	"github.com/khovattu/khovattu/internal/importer"
	"github.com/khovattu/khovattu/internal/observability"
	"github.com/khovattu/khovattu/internal/platform/httpx"
	"github.com/khovattu/khovattu/internal/stock"
	"github.com/khovattu/khovattu/jobs"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	Metrics         *observability.Metrics
	RateLimit       int
	AuthHandler     *auth.Handler
	CatalogHandler  *catalog.Handler
	StockHandler    *stock.Handler
	CountingHandler *counting.Handler
	ImportHandler   *importer.Handler
	JobHandler      *jobs.Handler
	// Health lists the dependencies checked by /healthz, keyed by name.
	Health map[string]Pinger
}

// NewRouter constructs the chi.Router serving /healthz, /metrics and /api.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:    params.Logger,
		Config:    params.Config,
		Metrics:   params.Metrics,
		RateLimit: params.RateLimit,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", healthHandler(params.Health))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		params.AuthHandler.MountPublic(r)
		r.Group(func(r chi.Router) {
			r.Use(params.AuthHandler.RequireSession)
			params.AuthHandler.MountRoutes(r)
			if params.CatalogHandler != nil {
				params.CatalogHandler.MountRoutes(r)
			}
			if params.StockHandler != nil {
				params.StockHandler.MountRoutes(r)
			}
			if params.CountingHandler != nil {
				params.CountingHandler.MountRoutes(r)
			}
			if params.ImportHandler != nil {
				params.ImportHandler.MountRoutes(r)
			}
			if params.JobHandler != nil {
				params.JobHandler.MountRoutes(r)
			}
		})
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no route for "+r.URL.Path)
	})
	return r
}

func healthHandler(checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		body := map[string]string{"status": "ok"}
		for name, check := range checks {
			if err := check.Ping(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
				body[name] = err.Error()
				continue
			}
			body[name] = "ok"
		}
		httpx.JSON(w, status, body)
	}
}
