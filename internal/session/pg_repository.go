package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	if err := row.Scan(&s.ID, &s.BookingID, &s.StartedAt, &s.EndedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (p *PgRepository) Insert(ctx context.Context, s *Session) (*Session, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}

	row := p.pool.QueryRow(ctx, `
		INSERT INTO call_sessions (id, booking_id, started_at)
		VALUES ($1, $2, $3)
		RETURNING id, booking_id, started_at, ended_at`,
		s.ID, s.BookingID, s.StartedAt)

	created, err := scanSession(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrAlreadyStarted
		}
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return created, nil
}

func (p *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	return scanSession(p.pool.QueryRow(ctx, `
		SELECT id, booking_id, started_at, ended_at FROM call_sessions WHERE id = $1`, id))
}

func (p *PgRepository) GetByBooking(ctx context.Context, bookingID uuid.UUID) (*Session, error) {
	return scanSession(p.pool.QueryRow(ctx, `
		SELECT id, booking_id, started_at, ended_at FROM call_sessions WHERE booking_id = $1`, bookingID))
}

func (p *PgRepository) MarkEnded(ctx context.Context, id uuid.UUID, endedAt time.Time) (*Session, error) {
	s, err := scanSession(p.pool.QueryRow(ctx, `
		UPDATE call_sessions
		SET ended_at = $2
		WHERE id = $1 AND ended_at IS NULL
		RETURNING id, booking_id, started_at, ended_at`,
		id, endedAt))
	if errors.Is(err, ErrSessionNotFound) {
		if _, getErr := p.GetByID(ctx, id); getErr == nil {
			return nil, ErrAlreadyStopped
		}
	}
	return s, err
}

func (p *PgRepository) ListLive(ctx context.Context) ([]Session, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, booking_id, started_at, ended_at
		FROM call_sessions
		WHERE ended_at IS NULL
		ORDER BY started_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
