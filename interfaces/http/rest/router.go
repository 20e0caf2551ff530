package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"chat-backend/application/ports"
	"chat-backend/infrastructure/config"
	"chat-backend/interfaces/http/rest/handlers"
	"chat-backend/interfaces/http/rest/middleware"
	"chat-backend/pkg/auth"
	"chat-backend/pkg/common"
	pkgerrors "chat-backend/pkg/errors"
	"chat-backend/pkg/observability"
	"chat-backend/pkg/utils"
)

const readyTimeout = 2 * time.Second

// Pinger reports whether a backing dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Router creates and configures the HTTP router
type Router struct {
	cfg         *config.Config
	chat        handlers.ChatService
	store       Pinger
	verifier    ports.IdentityVerifier
	metrics     *observability.Collector
	errHandler  *pkgerrors.ErrorHandler
	ipLimiter   *auth.IPRateLimiter
	userLimiter *auth.UserRateLimiter
	clock       ports.Clock
	logger      *zap.Logger
}

// NewRouter creates a new router instance. metrics may be nil.
func NewRouter(
	cfg *config.Config,
	chat handlers.ChatService,
	store Pinger,
	verifier ports.IdentityVerifier,
	metrics *observability.Collector,
	errHandler *pkgerrors.ErrorHandler,
	ipLimiter *auth.IPRateLimiter,
	userLimiter *auth.UserRateLimiter,
	clock ports.Clock,
	logger *zap.Logger,
) *Router {
	return &Router{
		cfg:         cfg,
		chat:        chat,
		store:       store,
		verifier:    verifier,
		metrics:     metrics,
		errHandler:  errHandler,
		ipLimiter:   ipLimiter,
		userLimiter: userLimiter,
		clock:       clock,
		logger:      logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	// Global middleware
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.Logger(rt.logger))
	router.Use(rt.errHandler.Middleware)
	if rt.metrics != nil {
		router.Use(rt.metrics.Middleware)
	}

	if rt.cfg.EnableCORS {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   rt.cfg.CORSOrigins(),
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		rt.errHandler.HandleStatus(w, r, http.StatusNotFound, "Route not found")
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		rt.errHandler.HandleStatus(w, r, http.StatusMethodNotAllowed, "Method not allowed")
	})

	router.Get("/health", rt.healthCheck)
	router.Get("/ready", rt.readinessCheck)
	if rt.metrics != nil && rt.cfg.EnableMetrics {
		router.Method(http.MethodGet, "/metrics", rt.metrics.Handler())
	}

	authHandler := handlers.NewAuthHandler(rt.verifier, rt.errHandler, rt.logger)
	chatHandler := handlers.NewChatHandler(rt.chat, rt.errHandler, rt.logger)
	authenticate := middleware.Authenticate(rt.verifier, rt.userLimiter, rt.errHandler, rt.logger)

	router.Route("/api", func(r chi.Router) {
		if rt.ipLimiter != nil {
			r.Use(middleware.RateLimitByIP(rt.ipLimiter, rt.errHandler))
		}

		r.Route("/auth", func(r chi.Router) {
			r.Post("/verify", authHandler.Verify)
			r.With(authenticate).Get("/profile", authHandler.Profile)
		})

		r.Route("/chat", func(r chi.Router) {
			r.Use(authenticate)

			r.Get("/", chatHandler.ListChats)
			r.Post("/", chatHandler.CreateChat)
			r.Get("/{chatId}", chatHandler.GetChat)
			r.Put("/{chatId}", chatHandler.UpdateChat)
			r.Delete("/{chatId}", chatHandler.DeleteChat)
			r.Get("/{chatId}/messages", chatHandler.ListMessages)
			r.Post("/{chatId}/messages", chatHandler.SendMessage)
		})
	})

	return router
}

// healthCheck handles GET /health
func (rt *Router) healthCheck(w http.ResponseWriter, r *http.Request) {
	common.RespondJSON(w, http.StatusOK, map[string]string{
		"status":      "OK",
		"timestamp":   utils.FormatTimestamp(rt.clock.Now()),
		"environment": rt.cfg.Environment,
	})
}

// readinessCheck handles GET /ready by pinging the store
func (rt *Router) readinessCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if err := rt.store.Ping(ctx); err != nil {
		rt.logger.Warn("Readiness check failed", zap.Error(err))
		rt.errHandler.HandleStatus(w, r, http.StatusServiceUnavailable, "Store unavailable")
		return
	}
	common.RespondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
