package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/teamchat/internal/api/middleware"
	"github.com/eldtechnologies/teamchat/internal/chat"
	"github.com/eldtechnologies/teamchat/internal/events"
	"github.com/eldtechnologies/teamchat/internal/handlers"
	"github.com/eldtechnologies/teamchat/internal/store"
)

// Options carries the router dependencies. Redis and Events may be nil.
type Options struct {
	Service        *chat.Service
	Store          store.DataStore
	Redis          *store.RedisStore
	Events         events.Publisher
	JWTSecret      []byte
	RequestTimeout time.Duration
	RateLimit      middleware.RateLimiterConfig
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, opts Options) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(64 * 1024))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting needs Redis
	if opts.Redis != nil {
		limiter := middleware.NewRateLimiter(opts.Redis.Client(), logger, opts.RateLimit)
		r.Use(limiter.Middleware)
	} else {
		logger.Warn().Msg("redis not configured, rate limiting disabled")
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(opts.Service, opts.Store, opts.Redis, opts.Events, logger)
	auth := middleware.NewAuthMiddleware(opts.JWTSecret, logger)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/", h.Root)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth)
			if opts.RequestTimeout > 0 {
				r.Use(chimw.Timeout(opts.RequestTimeout))
			}

			r.Route("/messages", func(r chi.Router) {
				r.Get("/{id}", h.GetTeamMessages)
				r.Post("/{id}", h.PostTeamMessage)
				r.Patch("/{id}/read", h.MarkTeamRead)
				r.Get("/{id}/stats", h.TeamStats)
				r.Delete("/{id}", h.DeleteMessage)
			})

			r.Route("/direct-messages", func(r chi.Router) {
				r.Get("/users", h.ListMessageableUsers)
				r.Get("/conversations", h.ListConversations)
				r.Get("/{id}", h.GetDirectMessages)
				r.Post("/{id}", h.SendDirectMessage)
				r.Patch("/{id}/read", h.MarkDirectRead)
				r.Get("/{id}/stats", h.DirectStats)
				r.Delete("/{id}", h.DeleteMessage)
			})

			r.Get("/users/{id}", h.Who)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.Error(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		h.Error(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}
