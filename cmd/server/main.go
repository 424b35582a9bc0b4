package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/psicoconnect/server-go/internal/config"
	"github.com/psicoconnect/server-go/internal/database"
	"github.com/psicoconnect/server-go/internal/handler"
	"github.com/psicoconnect/server-go/internal/httputil"
	"github.com/psicoconnect/server-go/internal/jobs"
	"github.com/psicoconnect/server-go/internal/metrics"
	"github.com/psicoconnect/server-go/internal/middleware"
	"github.com/psicoconnect/server-go/internal/realtime"
	"github.com/psicoconnect/server-go/internal/redis"
	"github.com/psicoconnect/server-go/internal/repository"
	"github.com/psicoconnect/server-go/internal/service"
	"github.com/psicoconnect/server-go/internal/token"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	setLogLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	httputil.ExposeErrorCauses(!cfg.IsProduction())

	if cfg.MigrateOnStart {
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.Ping(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	log.Info().Msg("database connected")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	hubOpts := []realtime.Option{
		realtime.WithRecorder(collector),
		realtime.WithInboundRate(cfg.SocketEventsPerSecond, cfg.SocketEventBurst),
	}
	var apiLimiter middleware.Limiter = middleware.NewMemoryRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow)

	if cfg.RedisURL != "" {
		redisClient, err := redis.NewClient(context.Background(), cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected")

		hubOpts = append(hubOpts, realtime.WithFanout(realtime.NewRedisFanout(redisClient.Client)))
		apiLimiter = middleware.NewRedisRateLimiter(redisClient.Client, cfg.RateLimitMax, cfg.RateLimitWindow)
	} else {
		log.Info().Msg("REDIS_URL not set: realtime delivery and rate limiting are local to this instance")
	}

	hub := realtime.NewHub(hubOpts...)
	hub.Start()

	userRepo := repository.NewUserRepository(db.DB)
	notifRepo := repository.NewNotificationRepository(db.DB)

	tokens := token.NewService(cfg.JWTSecret, cfg.JWTExpiresIn)
	hasher := service.NewPasswordHasher(cfg.HashConcurrency(), cfg.BcryptCost)

	authService := service.NewAuthService(userRepo, hasher, tokens)
	userService := service.NewUserService(userRepo)
	notificationService := service.NewNotificationService(notifRepo, userRepo, hub)

	router := handler.NewRouter(handler.Deps{
		AuthService:         authService,
		UserService:         userService,
		NotificationService: notificationService,
		AuthMiddleware:      middleware.NewAuthMiddleware(tokens, userRepo),
		RateLimiter:         apiLimiter,
		LoginLimiter:        middleware.NewLoginRateLimiter(),
		Recorder:            collector,
		MetricsHandler:      metrics.Handler(registry),
		Socket:              realtime.NewHandler(hub, tokens, cfg.FrontendURL),
		DB:                  db,
		FrontendURL:         cfg.FrontendURL,
		IsProduction:        cfg.IsProduction(),
	})

	cleanupJob := jobs.NewCleanupJob(notifRepo, collector, cfg.NotificationRetention(), config.CleanupJobInterval)
	cleanupJob.Start()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Str("env", cfg.AppEnv).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	// Closing the hub ends every socket so Shutdown does not wait on them.
	hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	cleanupJob.Stop()

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
