package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/consultation-escrow/internal/scheduler"
)

// SQLSTATE exclusion_violation, raised by bookings_no_overlap.
const pgExclusionViolation = "23P01"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const bookingColumns = `
	id, payer_id, provider_id, slot_start, slot_end, status, reservation_id,
	rate_per_minute, cap_amount, cost,
	minutes_billed, gross_charge, platform_fee, provider_payout, refund_amount,
	created_at, updated_at`

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var status string
	var minutes, gross, fee, payout, refund *int64

	err := row.Scan(
		&b.ID,
		&b.PayerID,
		&b.ProviderID,
		&b.SlotStart,
		&b.SlotEnd,
		&status,
		&b.ReservationID,
		&b.RatePerMinute,
		&b.CapAmount,
		&b.Cost,
		&minutes,
		&gross,
		&fee,
		&payout,
		&refund,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}

	if b.Status, err = ParseStatus(status); err != nil {
		return nil, err
	}

	if minutes != nil {
		b.Settlement = &SettlementRecord{
			MinutesBilled:  *minutes,
			GrossCharge:    deref(gross),
			PlatformFee:    deref(fee),
			ProviderPayout: deref(payout),
			RefundAmount:   deref(refund),
		}
	}

	return &b, nil
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func collectBookings(rows pgx.Rows) ([]Booking, error) {
	defer rows.Close()

	var result []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) Insert(ctx context.Context, b *Booking) (*Booking, error) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO bookings (id, payer_id, provider_id, slot_start, slot_end, status,
		                      rate_per_minute, cap_amount, cost, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, COALESCE($9, now()), COALESCE($10, now()))
		RETURNING `+bookingColumns,
		b.ID, b.PayerID, b.ProviderID, b.SlotStart, b.SlotEnd, StatusPending.String(),
		b.RatePerMinute, b.CapAmount, nullableTime(b.CreatedAt), nullableTime(b.UpdatedAt))

	created, err := scanBooking(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgExclusionViolation {
			return nil, scheduler.ErrSlotConflict
		}
		return nil, fmt.Errorf("insert booking: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	return scanBooking(row)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, upd Update) (*Booking, error) {
	var minutes, gross, fee, payout, refund *int64
	if s := upd.Settlement; s != nil {
		minutes, gross, fee, payout, refund = &s.MinutesBilled, &s.GrossCharge, &s.PlatformFee, &s.ProviderPayout, &s.RefundAmount
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE bookings
		SET status          = $2,
		    reservation_id  = COALESCE($4, reservation_id),
		    minutes_billed  = COALESCE($5, minutes_billed),
		    gross_charge    = COALESCE($6, gross_charge),
		    platform_fee    = COALESCE($7, platform_fee),
		    provider_payout = COALESCE($8, provider_payout),
		    refund_amount   = COALESCE($9, refund_amount),
		    cost            = COALESCE($6, cost),
		    updated_at      = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+bookingColumns,
		id, to.String(), from.String(), upd.ReservationID, minutes, gross, fee, payout, refund)

	b, err := scanBooking(row)
	if errors.Is(err, ErrBookingNotFound) {
		return nil, ErrStatusChanged
	}
	return b, err
}

func (r *PgRepository) ActiveIntervals(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]scheduler.Interval, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT slot_start, slot_end
		FROM bookings
		WHERE provider_id = $1
		  AND status IN ('pending', 'confirmed', 'in-progress')
		  AND slot_start < $3
		  AND slot_end > $2
		ORDER BY slot_start
	`, providerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []scheduler.Interval
	for rows.Next() {
		var iv scheduler.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		result = append(result, iv)
	}
	return result, rows.Err()
}

func (r *PgRepository) ListPendingCreatedBefore(ctx context.Context, before time.Time) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'pending'
		  AND created_at < $1
	`, before)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PgRepository) ListConfirmedStartingBefore(ctx context.Context, before time.Time) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'confirmed'
		  AND slot_start < $1
	`, before)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PgRepository) ListInProgress(ctx context.Context) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'in-progress'
	`)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, booking_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.BookingID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
