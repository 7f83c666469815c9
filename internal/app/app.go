// Package app wires configuration into a running engine. The API server and
// the sweeper share it.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/consultation-escrow/internal/availability"
	"github.com/hackgods/consultation-escrow/internal/booking"
	"github.com/hackgods/consultation-escrow/internal/clock"
	"github.com/hackgods/consultation-escrow/internal/config"
	"github.com/hackgods/consultation-escrow/internal/db"
	"github.com/hackgods/consultation-escrow/internal/engine"
	"github.com/hackgods/consultation-escrow/internal/escrow"
	"github.com/hackgods/consultation-escrow/internal/memstore"
	"github.com/hackgods/consultation-escrow/internal/rail/striperail"
	redisclient "github.com/hackgods/consultation-escrow/internal/redis"
	"github.com/hackgods/consultation-escrow/internal/scheduler"
	"github.com/hackgods/consultation-escrow/internal/session"
	"github.com/hackgods/consultation-escrow/internal/settlement"
)

type App struct {
	Engine *engine.Engine
	Pool   *pgxpool.Pool
	Redis  *redis.Client
	logger *zap.Logger
}

// Build connects Postgres and Redis, applies migrations when configured and
// assembles the engine. Close releases what Build opened.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	pgCtx, cancelPg := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{})
	cancelPg()
	if err != nil {
		return nil, err
	}
	logger.Info("connected to postgres")

	if cfg.MigrateOnStart {
		if err := db.RunMigrations(pool, logger); err != nil {
			pool.Close()
			return nil, err
		}
	}

	rdb, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))

	rail, err := newRail(cfg, logger)
	if err != nil {
		pool.Close()
		_ = rdb.Close()
		return nil, err
	}

	clk := clock.System()
	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait)

	avail := availability.NewCachedStore(availability.NewPgStore(pool), rdb, cfg.AvailabilityTTL, logger)
	ledger := booking.NewLedger(booking.NewPgRepository(pool), clk, logger)
	esc := escrow.NewManager(escrow.NewPgRepository(pool), rail, locker, clk, logger)
	meter := session.NewMeter(session.NewPgRepository(pool), ledger, locker, clk, logger)

	eng := engine.New(engine.Deps{
		Availability: avail,
		Scheduler:    scheduler.New(avail, ledger, clk, cfg.Scheduling.Location, cfg.Billing.MinMinutes),
		Ledger:       ledger,
		Escrow:       esc,
		Meter:        meter,
		Settlement:   settlement.NewEngine(ledger, meter, esc, locker, cfg.Billing, logger),
		Locker:       locker,
		Clock:        clk,
		Logger:       logger,
	}, engine.Options{
		Billing:     cfg.Billing,
		PendingTTL:  cfg.Scheduling.PendingTTL,
		GraceWindow: cfg.Scheduling.GraceWindow,
	})

	return &App{Engine: eng, Pool: pool, Redis: rdb, logger: logger}, nil
}

func newRail(cfg config.Config, logger *zap.Logger) (escrow.Rail, error) {
	switch cfg.Rail.Kind {
	case "stripe":
		logger.Info("using stripe payment rail", zap.String("currency", cfg.Billing.Currency))
		return striperail.New(cfg.Rail.StripeSecretKey, cfg.Billing.Currency, cfg.Rail.StripePaymentMethod, logger), nil
	case "memory":
		logger.Warn("using in-memory payment rail, holds do not survive restarts",
			zap.Int64("payer_balance", cfg.Rail.MemoryBalance))
		return memstore.NewRail(cfg.Rail.MemoryBalance), nil
	default:
		return nil, fmt.Errorf("unknown rail %q", cfg.Rail.Kind)
	}
}

func (a *App) Close() {
	if err := a.Redis.Close(); err != nil {
		a.logger.Warn("error closing redis", zap.Error(err))
	}
	a.Pool.Close()
}
