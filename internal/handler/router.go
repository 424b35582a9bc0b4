package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/psicoconnect/server-go/internal/config"
	"github.com/psicoconnect/server-go/internal/httputil"
	"github.com/psicoconnect/server-go/internal/middleware"
	"github.com/psicoconnect/server-go/internal/service"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps collects what the router needs. RateLimiter, LoginLimiter, Recorder,
// MetricsHandler, Socket and DB are optional.
type Deps struct {
	AuthService         *service.AuthService
	UserService         *service.UserService
	NotificationService *service.NotificationService
	AuthMiddleware      *middleware.AuthMiddleware

	RateLimiter    middleware.Limiter
	LoginLimiter   *middleware.LoginRateLimiter
	Recorder       middleware.HTTPRecorder
	MetricsHandler http.Handler
	Socket         http.Handler
	DB             Pinger

	FrontendURL  string
	IsProduction bool
}

func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	if deps.Recorder != nil {
		r.Use(middleware.Metrics(deps.Recorder))
	}
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.IsProduction).Handler)
	r.Use(middleware.NewCORSMiddleware(deps.FrontendURL))
	r.Use(middleware.NewBodyLimitMiddleware(0).Handler)

	r.NotFound(routeNotFound(http.StatusNotFound))
	r.MethodNotAllowed(routeNotFound(http.StatusMethodNotAllowed))

	r.Get("/health", healthHandler(deps.DB))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// The socket outlives any request timeout, so it stays outside /api.
	if deps.Socket != nil {
		r.Method(http.MethodGet, "/socket", deps.Socket)
	}

	loginGuard := passthrough
	if deps.LoginLimiter != nil {
		loginGuard = deps.LoginLimiter.Handler
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthMiddleware.Handler, loginGuard)
	userHandler := NewUserHandler(deps.UserService, deps.AuthMiddleware.Handler)
	notificationHandler := NewNotificationHandler(deps.NotificationService)

	r.Route("/api", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
		if deps.RateLimiter != nil {
			r.Use(middleware.NewRateLimitMiddleware(deps.RateLimiter, "api").Handler)
		}

		r.Mount("/auth", authHandler.Routes())
		r.Mount("/users", userHandler.Routes())
		r.Group(func(r chi.Router) {
			r.Use(deps.AuthMiddleware.Handler)
			r.Mount("/notifications", notificationHandler.Routes())
		})
	})

	return r
}

func passthrough(next http.Handler) http.Handler {
	return next
}

func routeNotFound(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, status, map[string]any{
			"success": false,
			"message": "Route not found",
		})
	}
}

func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		}

		if db != nil {
			if err := db.Ping(r.Context()); err != nil {
				log.Error().Err(err).Msg("health check: database unreachable")
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
				body["database"] = "unreachable"
			}
		}

		httputil.WriteJSON(w, status, body)
	}
}
