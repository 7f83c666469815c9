package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const reservationColumns = `
	id, booking_id, payer_id, provider_id, hold_id, cap_amount,
	captured_amount, released_amount, status, created_at, updated_at, settled_at`

func scanReservation(row pgx.Row) (*Reservation, error) {
	var r Reservation
	var status string

	err := row.Scan(
		&r.ID,
		&r.BookingID,
		&r.PayerID,
		&r.ProviderID,
		&r.HoldID,
		&r.CapAmount,
		&r.CapturedAmount,
		&r.ReleasedAmount,
		&status,
		&r.CreatedAt,
		&r.UpdatedAt,
		&r.SettledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}

	if r.Status, err = ParseStatus(status); err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *PgRepository) Insert(ctx context.Context, r *Reservation) (*Reservation, error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}

	row := p.pool.QueryRow(ctx, `
		INSERT INTO reservations (id, booking_id, payer_id, provider_id, hold_id, cap_amount,
		                          captured_amount, released_amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, 0, 'reserved', now(), now())
		RETURNING `+reservationColumns,
		r.ID, r.BookingID, r.PayerID, r.ProviderID, r.HoldID, r.CapAmount)

	created, err := scanReservation(row)
	if err != nil {
		return nil, fmt.Errorf("insert reservation: %w", err)
	}
	return created, nil
}

func (p *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id)
	return scanReservation(row)
}

func (p *PgRepository) GetByBooking(ctx context.Context, bookingID uuid.UUID) (*Reservation, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE booking_id = $1`, bookingID)
	return scanReservation(row)
}

func (p *PgRepository) MarkSettled(ctx context.Context, id uuid.UUID, status Status, captured, released int64, at time.Time) (*Reservation, error) {
	row := p.pool.QueryRow(ctx, `
		UPDATE reservations
		SET status          = $2,
		    captured_amount = $3,
		    released_amount = $4,
		    settled_at      = $5,
		    updated_at      = now()
		WHERE id = $1
		  AND status = 'reserved'
		  AND $3 >= 0
		  AND $3 + $4 = cap_amount
		RETURNING `+reservationColumns,
		id, status.String(), captured, released, at)

	r, err := scanReservation(row)
	if errors.Is(err, ErrReservationNotFound) {
		return nil, ErrStatusChanged
	}
	return r, err
}

func (p *PgRepository) MarkVoided(ctx context.Context, id uuid.UUID, at time.Time) (*Reservation, error) {
	row := p.pool.QueryRow(ctx, `
		UPDATE reservations
		SET status          = 'voided',
		    released_amount = cap_amount,
		    settled_at      = $2,
		    updated_at      = now()
		WHERE id = $1
		  AND status = 'reserved'
		RETURNING `+reservationColumns,
		id, at)

	r, err := scanReservation(row)
	if errors.Is(err, ErrReservationNotFound) {
		return nil, ErrStatusChanged
	}
	return r, err
}
