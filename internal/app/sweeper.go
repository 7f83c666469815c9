package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hackgods/consultation-escrow/internal/engine"
)

// Sweeper is the part of the engine the cron job drives.
type Sweeper interface {
	Sweep(ctx context.Context) (engine.SweepReport, error)
}

// StartSweeper runs one sweep immediately and then on schedule. Overlapping
// runs are skipped. Stop the returned cron to end the loop.
func StartSweeper(ctx context.Context, s Sweeper, schedule string, logger *zap.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, func() { RunSweep(ctx, s, logger) }); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	RunSweep(ctx, s, logger)
	c.Start()
	return c, nil
}

func RunSweep(ctx context.Context, s Sweeper, logger *zap.Logger) {
	if ctx.Err() != nil {
		return
	}
	runCtx, cancel := context.WithTimeout(ctx, 50*time.Second)
	defer cancel()

	start := time.Now()
	report, err := s.Sweep(runCtx)
	if err != nil {
		logger.Error("sweep run error", zap.Error(err))
		return
	}
	logger.Info("sweep run complete",
		zap.Duration("took", time.Since(start)),
		zap.Int("cancelled_pending", report.CancelledPending),
		zap.Int("cancelled_unstarted", report.CancelledUnstarted),
		zap.Int("auto_stopped", report.AutoStopped),
		zap.Int("settled", report.Settled),
		zap.Int("failed", report.Failed))
}
