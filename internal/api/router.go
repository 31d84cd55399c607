package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/RaphaelLcs-financial/openclaw-hub/internal/access"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/api/middleware"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/apierr"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/handlers"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/ratelimit"
)

// Options wires the router's collaborators.
type Options struct {
	Handlers        handlers.Deps
	Access          *access.List
	Limiter         *ratelimit.Limiter // per API key
	RegisterLimiter *ratelimit.Limiter // per client IP on /register
	TrustedIPs      []string
	MaxBodyBytes    int64
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, opts Options) *chi.Mux {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 64 * 1024
	}

	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(opts.MaxBodyBytes))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// CORS - allow all origins (agents call from anywhere)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.APIKeyHeader},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(opts.Handlers)
	auth := middleware.NewAuth(opts.Access, opts.Handlers.Keys, opts.Limiter, logger)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apierr.Write(w, apierr.NotFound("no such route"))
	})

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no auth required)
	r.Get("/api", h.Root)
	r.Get("/health", h.Health)
	r.Get("/agents", h.Agents)
	r.Get("/api/agents", h.Agents)
	r.Get("/agents/{ai_id}", h.Who)

	r.Group(func(r chi.Router) {
		if opts.RegisterLimiter != nil {
			ipLimiter := middleware.NewIPRateLimiter(opts.RegisterLimiter, opts.TrustedIPs, logger)
			r.Use(ipLimiter.Middleware)
		}
		r.Post("/register", h.Register)
		r.Post("/api/register", h.Register)
	})

	// Authenticated routes (require X-API-Key)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAPIKey)

		r.Post("/send", h.Send)
		r.Get("/inbox/{ai_id}", h.Inbox)
		r.Delete("/messages/{message_id}", h.DeleteMessage)
	})

	return r
}
