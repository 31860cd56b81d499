package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lendcore/lendcore/internal/loans"
	"github.com/lendcore/lendcore/internal/observability"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger      *slog.Logger
	Config      *Config
	LoanHandler *loans.Handler
	Metrics     *observability.Metrics
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	if params.LoanHandler != nil {
		r.Route("/api/v1", params.LoanHandler.MountRoutes)
	}

	return r
}
