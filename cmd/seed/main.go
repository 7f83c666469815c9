package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"

	"github.com/hackgods/consultation-escrow/internal/availability"
	"github.com/hackgods/consultation-escrow/internal/config"
	"github.com/hackgods/consultation-escrow/internal/db"
	"github.com/hackgods/consultation-escrow/internal/logging"
)

func main() {
	count := flag.Int("providers", 50, "number of providers to create")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{})
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	gofakeit.Seed(time.Now().UnixNano())

	store := availability.NewPgStore(pool)
	if err := seedProviders(ctx, store, *count, logger); err != nil {
		logger.Fatal("seed providers", zap.Error(err))
	}

	logger.Info("seed complete")
}

func seedProviders(ctx context.Context, store *availability.PgStore, count int, logger *zap.Logger) error {
	logger.Info("seeding providers", zap.Int("count", count))

	for i := 0; i < count; i++ {
		p, err := store.CreateProvider(ctx, availability.Provider{
			Name:          fmt.Sprintf("%s, %s", gofakeit.Name(), gofakeit.JobTitle()),
			RatePerMinute: int64(gofakeit.Number(10, 40)) * 5,
		})
		if err != nil {
			return err
		}

		weekly := randomWeekly()
		if err := store.Replace(ctx, p.ID, weekly); err != nil {
			return fmt.Errorf("provider %s availability: %w", p.ID, err)
		}

		logger.Debug("provider seeded",
			zap.String("provider_id", p.ID.String()),
			zap.Int64("rate_per_minute", p.RatePerMinute),
			zap.Int("open_days", len(weekly)))
	}

	return nil
}

// randomWeekly opens most weekdays and some weekend days, each on a
// half-hour aligned window of four to ten hours.
func randomWeekly() availability.Weekly {
	weekly := make(availability.Weekly)
	for day := time.Sunday; day <= time.Saturday; day++ {
		weekend := day == time.Saturday || day == time.Sunday
		if weekend && gofakeit.Number(0, 3) > 0 {
			continue
		}
		if !weekend && gofakeit.Number(0, 9) == 0 {
			continue
		}

		start := gofakeit.Number(12, 22) * 30
		length := gofakeit.Number(8, 20) * 30
		end := start + length
		if end > availability.MinutesPerDay {
			end = availability.MinutesPerDay
		}
		weekly[day] = availability.Window{StartMinute: start, EndMinute: end}
	}
	return weekly
}
