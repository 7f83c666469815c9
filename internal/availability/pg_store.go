package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) GetWeeklyWindow(ctx context.Context, providerID uuid.UUID, day time.Weekday) (Window, bool, error) {
	var w Window
	err := s.pool.QueryRow(ctx, `
		SELECT start_minute, end_minute
		FROM provider_availability
		WHERE provider_id = $1 AND weekday = $2
	`, providerID, int(day)).Scan(&w.StartMinute, &w.EndMinute)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Window{}, false, nil
		}
		return Window{}, false, fmt.Errorf("query weekly window: %w", err)
	}
	return w, true, nil
}

func (s *PgStore) GetWeekly(ctx context.Context, providerID uuid.UUID) (Weekly, error) {
	if err := s.ensureProvider(ctx, s.pool, providerID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT weekday, start_minute, end_minute
		FROM provider_availability
		WHERE provider_id = $1
		ORDER BY weekday
	`, providerID)
	if err != nil {
		return nil, fmt.Errorf("query weekly availability: %w", err)
	}
	defer rows.Close()

	weekly := make(Weekly)
	for rows.Next() {
		var day int
		var w Window
		if err := rows.Scan(&day, &w.StartMinute, &w.EndMinute); err != nil {
			return nil, err
		}
		weekly[time.Weekday(day)] = w
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return weekly, nil
}

func (s *PgStore) Replace(ctx context.Context, providerID uuid.UUID, weekly Weekly) error {
	if err := weekly.Validate(); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := s.ensureProvider(ctx, tx, providerID); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM provider_availability WHERE provider_id = $1`, providerID); err != nil {
		return fmt.Errorf("clear availability: %w", err)
	}

	batch := &pgx.Batch{}
	for day, w := range weekly {
		batch.Queue(`
			INSERT INTO provider_availability (provider_id, weekday, start_minute, end_minute, updated_at)
			VALUES ($1, $2, $3, $4, now())
		`, providerID, int(day), w.StartMinute, w.EndMinute)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert availability: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PgStore) RatePerMinute(ctx context.Context, providerID uuid.UUID) (int64, error) {
	var rate int64
	err := s.pool.QueryRow(ctx, `SELECT rate_per_minute FROM providers WHERE id = $1`, providerID).Scan(&rate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrProviderNotFound
		}
		return 0, fmt.Errorf("query provider rate: %w", err)
	}
	return rate, nil
}

func (s *PgStore) CreateProvider(ctx context.Context, p Provider) (*Provider, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO providers (id, name, rate_per_minute, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		RETURNING created_at, updated_at
	`, p.ID, p.Name, p.RatePerMinute).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert provider: %w", err)
	}
	return &p, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PgStore) ensureProvider(ctx context.Context, q querier, providerID uuid.UUID) error {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM providers WHERE id = $1)`, providerID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check provider: %w", err)
	}
	if !exists {
		return ErrProviderNotFound
	}
	return nil
}
