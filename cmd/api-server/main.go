package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/consultation-escrow/internal/api"
	"github.com/hackgods/consultation-escrow/internal/app"
	"github.com/hackgods/consultation-escrow/internal/config"
	"github.com/hackgods/consultation-escrow/internal/logging"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("api-server starting up",
		zap.String("http_port", cfg.HTTPPort),
		zap.String("rail", cfg.Rail.Kind),
		zap.String("scheduling_tz", cfg.Scheduling.Location.String()))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	health := api.NewHealthHandler(
		api.PingFunc(a.Pool.Ping),
		api.PingFunc(func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }),
		cfg.Env, version)

	router := api.NewRouter(api.RouterConfig{
		Service:     a.Engine,
		Health:      health,
		Logger:      logger,
		RateLimiter: api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, 10*time.Minute),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if cfg.Rail.Kind == "memory" {
		c, err := app.StartSweeper(rootCtx, a.Engine, cfg.SweepSchedule, logger)
		if err != nil {
			logger.Fatal("sweeper start failed", zap.Error(err))
		}
		defer func() { <-c.Stop().Done() }()
		logger.Info("in-process sweeper started", zap.String("schedule", cfg.SweepSchedule))
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("http server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	logger.Info("api-server stopped")
}
