package rest

import (
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/erpcore/automation-engine/internal/api/rest/handlers"
	customMiddleware "github.com/erpcore/automation-engine/internal/api/rest/middleware"
	"github.com/erpcore/automation-engine/pkg/auth"
	"github.com/erpcore/automation-engine/pkg/logger"
)

// Router holds the HTTP router and dependencies
type Router struct {
	router   *chi.Mux
	logger   *logger.Logger
	handlers *handlers.Handlers
	verifier *auth.TokenVerifier
}

// NewRouter creates a new HTTP router
func NewRouter(log *logger.Logger, h *handlers.Handlers, verifier *auth.TokenVerifier) *Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	allowedOrigins := []string{"http://localhost:3000"}
	if originsEnv := os.Getenv("ALLOWED_ORIGINS"); originsEnv != "" {
		allowedOrigins = strings.Split(originsEnv, ",")
		for i := range allowedOrigins {
			allowedOrigins[i] = strings.TrimSpace(allowedOrigins[i])
		}
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Webhook-Secret"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	return &Router{
		router:   r,
		logger:   log,
		handlers: h,
		verifier: verifier,
	}
}

// SetupRoutes configures all API routes
func (r *Router) SetupRoutes() {
	// Health endpoints (no auth required)
	r.router.Get("/health", r.handlers.Health.Health)
	r.router.Get("/ready", r.handlers.Health.Ready)

	// Webhook intake, authenticated by the per-webhook shared secret
	r.router.Post("/hooks/{webhook_id}", r.handlers.Webhook.Receive)

	rateLimiter := customMiddleware.NewRateLimiter(100, 200, r.logger)

	r.router.Route("/api/v1", func(router chi.Router) {
		router.Use(customMiddleware.JWTAuth(r.verifier, r.logger))
		router.Use(rateLimiter.Middleware())

		router.Route("/events", func(router chi.Router) {
			router.Post("/", r.handlers.Event.Publish)
		})

		router.Route("/automations", func(router chi.Router) {
			router.With(customMiddleware.RequireCapability(auth.CapabilityReadRuns, r.logger)).
				Get("/{id}/runs", r.handlers.Run.ListByAutomation)
		})

		router.Route("/instances", func(router chi.Router) {
			router.With(customMiddleware.RequireCapability(auth.CapabilityReadRuns, r.logger)).
				Get("/{id}", r.handlers.Approval.Get)
			router.With(customMiddleware.RequireCapability(auth.CapabilityDecide, r.logger)).
				Post("/{id}/decision", r.handlers.Approval.Decide)
			router.With(customMiddleware.RequireCapability(auth.CapabilityDecide, r.logger)).
				Post("/{id}/cancel", r.handlers.Approval.Cancel)
		})
	})
}

// Handler returns the underlying HTTP handler
func (r *Router) Handler() http.Handler {
	return r.router
}
