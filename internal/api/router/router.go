package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/lca-filing-automation/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/lca-filing-automation/internal/http/middleware"
	"github.com/wolfman30/lca-filing-automation/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	Filings        *handlers.FilingsHandler
	ProgressStream http.Handler
	Health         *handlers.Health
	MetricsHandler http.Handler

	// OperatorSecret signs operator JWTs; empty disables auth.
	OperatorSecret     string
	CORSAllowedOrigins []string

	// SubmitRatePerSec limits filing submissions per client IP; zero disables it.
	SubmitRatePerSec float64
	SubmitBurst      int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	health := cfg.Health
	if health == nil {
		health = handlers.NewHealth(nil)
	}
	r.Group(func(public chi.Router) {
		public.Get("/health", health.Live)
		public.Get("/ready", health.Ready)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	if cfg.Filings == nil {
		return r
	}
	r.Route("/v1/filings", func(v1 chi.Router) {
		v1.Use(httpmiddleware.OperatorJWT(cfg.OperatorSecret))

		submit := http.HandlerFunc(cfg.Filings.Submit)
		if cfg.SubmitRatePerSec > 0 {
			v1.With(httpmiddleware.RateLimit(cfg.SubmitRatePerSec, cfg.SubmitBurst)).Post("/", submit)
		} else {
			v1.Post("/", submit)
		}
		v1.Get("/", cfg.Filings.List)
		v1.Get("/active", cfg.Filings.Active)

		v1.Route("/{filingID}", func(f chi.Router) {
			f.Get("/", cfg.Filings.GetResult)
			f.Delete("/", cfg.Filings.Cancel)
			f.Get("/progress", cfg.Filings.GetProgress)
			if cfg.ProgressStream != nil {
				f.Get("/progress/stream", cfg.ProgressStream.ServeHTTP)
			}
			f.Get("/interaction", cfg.Filings.GetInteraction)
			f.Post("/interaction", cfg.Filings.ResolveInteraction)
			f.Get("/interactions", cfg.Filings.InteractionHistory)
		})
	})

	return r
}
