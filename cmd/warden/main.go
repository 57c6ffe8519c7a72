package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warden-auth/warden/internal/app"
	"github.com/warden-auth/warden/internal/observability"
	"github.com/warden-auth/warden/internal/platform/cache"
	"github.com/warden-auth/warden/internal/platform/db"
	"github.com/warden-auth/warden/internal/rbac"
	"github.com/warden-auth/warden/internal/session"
	"github.com/warden-auth/warden/internal/shared"
	"github.com/warden-auth/warden/internal/users"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	userDirectory := users.NewService(users.NewRepository(pool))

	version := rbac.NewVersion()
	store := rbac.NewPGStore(pool, func() { version.Bump() })
	auditLogger := shared.NewAuditLogger(pool)
	authzService := rbac.NewService(rbac.ServiceConfig{
		Store:        store,
		Version:      version,
		Accounts:     userDirectory,
		Audit:        auditLogger,
		Logger:       logger,
		Metrics:      metrics,
		StoreTimeout: cfg.StoreTimeout,
	})
	if err := authzService.Load(ctx); err != nil {
		logger.Error("load role graph", slog.Any("error", err))
		os.Exit(1)
	}

	sessionRepo := session.NewRepository(pool)
	sessionManager := session.NewManager(redisClient, sessionRepo, logger, metrics, session.Config{
		TTL:          cfg.SessionTTL,
		ExtendedTTL:  cfg.SessionExtendedTTL,
		Retention:    cfg.SessionRetention,
		StoreTimeout: cfg.StoreTimeout,
	}, nil)
	sessionMiddleware := session.Middleware{Manager: sessionManager, Logger: logger}

	guard := rbac.Middleware{Service: authzService, Logger: logger}
	authzHandler := rbac.NewHandler(logger, authzService, guard)
	sessionHandler := session.NewHandler(logger, sessionManager, userDirectory)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Sessions:       sessionMiddleware,
		SessionHandler: sessionHandler,
		AuthzHandler:   authzHandler,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
