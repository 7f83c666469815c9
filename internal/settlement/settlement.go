// Package settlement turns a stopped call into a final charge, a platform
// fee and a refund, and drives the escrow capture and the booking's
// completion.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/consultation-escrow/internal/booking"
	"github.com/hackgods/consultation-escrow/internal/config"
	"github.com/hackgods/consultation-escrow/internal/escrow"
	"github.com/hackgods/consultation-escrow/internal/lock"
	"github.com/hackgods/consultation-escrow/internal/metrics"
	"github.com/hackgods/consultation-escrow/internal/reason"
	"github.com/hackgods/consultation-escrow/internal/session"
)

var ErrNotSettleable = reason.New(reason.CodeNotSettleable, reason.KindConflict, "booking cannot be settled in its current state")

type Record = booking.SettlementRecord

type Ledger interface {
	Get(ctx context.Context, id uuid.UUID) (*booking.Booking, error)
	Complete(ctx context.Context, id uuid.UUID, rec booking.SettlementRecord) (*booking.Booking, error)
}

type Sessions interface {
	GetByBooking(ctx context.Context, bookingID uuid.UUID) (*session.Session, error)
}

type Escrow interface {
	Settle(ctx context.Context, reservationID uuid.UUID, captureAmount int64) (escrow.Outcome, error)
}

type Engine struct {
	ledger   Ledger
	sessions Sessions
	escrow   Escrow
	locker   lock.Locker
	billing  config.Billing
	logger   *zap.Logger
}

func NewEngine(ledger Ledger, sessions Sessions, esc Escrow, locker lock.Locker, billing config.Billing, logger *zap.Logger) *Engine {
	return &Engine{
		ledger:   ledger,
		sessions: sessions,
		escrow:   esc,
		locker:   locker,
		billing:  billing,
		logger:   logger,
	}
}

// Settle computes and applies the settlement of an in-progress booking whose
// call has stopped. A completed booking returns its stored record. Every step
// is safe to repeat after a crash: the computation is pure, the capture is
// idempotent per reservation and completion is a conditional update.
func (e *Engine) Settle(ctx context.Context, bookingID uuid.UUID) (Record, error) {
	var rec Record
	err := e.locker.WithLock(ctx, lock.BookingKey(bookingID.String()), func(ctx context.Context) error {
		var err error
		rec, err = e.settleLocked(ctx, bookingID)
		return err
	})
	return rec, err
}

func (e *Engine) settleLocked(ctx context.Context, bookingID uuid.UUID) (Record, error) {
	b, err := e.ledger.Get(ctx, bookingID)
	if err != nil {
		return Record{}, err
	}

	switch b.Status {
	case booking.StatusCompleted:
		if b.Settlement == nil {
			return Record{}, fmt.Errorf("%w: completed booking %s has no settlement record", escrow.ErrInvariantViolation, b.ID)
		}
		return *b.Settlement, nil
	case booking.StatusInProgress:
	default:
		return Record{}, fmt.Errorf("%w: booking is %s", ErrNotSettleable, b.Status)
	}

	if b.ReservationID == nil {
		e.logger.Error("in-progress booking without reservation", zap.Stringer("booking_id", b.ID))
		return Record{}, fmt.Errorf("%w: booking %s has no reservation", escrow.ErrInvariantViolation, b.ID)
	}

	s, err := e.sessions.GetByBooking(ctx, bookingID)
	if err != nil {
		return Record{}, err
	}
	if s.Live() {
		return Record{}, fmt.Errorf("%w: call is still running", ErrNotSettleable)
	}

	ceiling := CeilingMinutes(e.billing, b.SlotEnd.Sub(b.SlotStart))
	minutes := session.BillableMinutes(s.DurationSeconds(), e.billing.MinMinutes, ceiling)
	rec := Compute(minutes, b.RatePerMinute, b.CapAmount, e.billing.FeeBasisPoints)
	if rec.GrossCharge < b.RatePerMinute*minutes {
		e.logger.Warn("gross charge clamped to reservation cap",
			zap.Stringer("booking_id", b.ID),
			zap.Int64("minutes_billed", minutes),
			zap.Int64("rate_per_minute", b.RatePerMinute),
			zap.Int64("cap_amount", b.CapAmount))
	}

	outcome, err := e.escrow.Settle(ctx, *b.ReservationID, rec.GrossCharge)
	if err != nil {
		return Record{}, err
	}
	if outcome.CapturedAmount != rec.GrossCharge {
		// An earlier attempt captured under different inputs; the record
		// follows what was actually captured.
		e.logger.Warn("stored capture differs from recomputed charge",
			zap.Stringer("booking_id", b.ID),
			zap.Int64("captured", outcome.CapturedAmount),
			zap.Int64("recomputed", rec.GrossCharge))
		fee := PlatformFee(outcome.CapturedAmount, e.billing.FeeBasisPoints)
		rec = Record{
			MinutesBilled:  minutes,
			GrossCharge:    outcome.CapturedAmount,
			PlatformFee:    fee,
			ProviderPayout: outcome.CapturedAmount - fee,
			RefundAmount:   outcome.ReleasedAmount,
		}
	}

	completed, err := e.ledger.Complete(ctx, bookingID, rec)
	if err != nil {
		if errors.Is(err, booking.ErrInvalidTransition) {
			if cur, getErr := e.ledger.Get(ctx, bookingID); getErr == nil && cur.Settlement != nil {
				return *cur.Settlement, nil
			}
		}
		return Record{}, err
	}

	metrics.RecordSettlement(rec.GrossCharge, rec.PlatformFee, rec.ProviderPayout, rec.RefundAmount)
	e.logger.Info("booking settled",
		zap.Stringer("booking_id", completed.ID),
		zap.Int64("minutes_billed", rec.MinutesBilled),
		zap.Int64("gross_charge", rec.GrossCharge),
		zap.Int64("platform_fee", rec.PlatformFee),
		zap.Int64("provider_payout", rec.ProviderPayout),
		zap.Int64("refund_amount", rec.RefundAmount))

	return rec, nil
}

// Compute is the pure part of settlement. The gross charge never exceeds
// the cap, so the refund is never negative.
func Compute(minutesBilled, ratePerMinute, capAmount, feeBasisPoints int64) Record {
	gross := ratePerMinute * minutesBilled
	if gross > capAmount {
		gross = capAmount
	}
	fee := PlatformFee(gross, feeBasisPoints)

	return Record{
		MinutesBilled:  minutesBilled,
		GrossCharge:    gross,
		PlatformFee:    fee,
		ProviderPayout: gross - fee,
		RefundAmount:   capAmount - gross,
	}
}

// PlatformFee is floor(gross * bps / 10000).
func PlatformFee(gross, feeBasisPoints int64) int64 {
	return gross * feeBasisPoints / 10000
}

// CeilingMinutes is the most a booking can bill: the platform ceiling or the
// booked slot length in whole minutes, whichever is smaller, but never below
// the platform floor.
func CeilingMinutes(b config.Billing, slot time.Duration) int64 {
	slotMinutes := int64(slot / time.Minute)
	if slot%time.Minute != 0 {
		slotMinutes++
	}

	ceiling := b.MaxMinutes
	if slotMinutes < ceiling {
		ceiling = slotMinutes
	}
	if ceiling < b.MinMinutes {
		ceiling = b.MinMinutes
	}
	return ceiling
}

// CapAmount is the hold placed at booking time. It covers the largest
// charge the booking can produce.
func CapAmount(b config.Billing, ratePerMinute int64, slot time.Duration) int64 {
	return ratePerMinute * CeilingMinutes(b, slot)
}
