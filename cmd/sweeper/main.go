package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/hackgods/consultation-escrow/internal/app"
	"github.com/hackgods/consultation-escrow/internal/config"
	"github.com/hackgods/consultation-escrow/internal/logging"
)

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

	// Holds on the memory rail live inside the api-server process, which
	// runs its own sweep in that mode.
	if cfg.Rail.Kind == "memory" {
		logger.Fatal("the standalone sweeper needs RAIL=stripe; the api-server sweeps in-process with RAIL=memory")
	}

	logger.Info("sweeper starting up", zap.String("schedule", cfg.SweepSchedule))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	c, err := app.StartSweeper(rootCtx, a.Engine, cfg.SweepSchedule, logger)
	if err != nil {
		logger.Fatal("sweeper start failed", zap.Error(err))
	}

	<-rootCtx.Done()
	logger.Info("shutdown signal received, stopping sweeper")
	<-c.Stop().Done()
}
