// Package engine is the entry point callers use. It combines the scheduler,
// ledger, escrow manager, session meter and settlement engine, and owns the
// per-provider and per-booking critical sections.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/consultation-escrow/internal/availability"
	"github.com/hackgods/consultation-escrow/internal/booking"
	"github.com/hackgods/consultation-escrow/internal/clock"
	"github.com/hackgods/consultation-escrow/internal/config"
	"github.com/hackgods/consultation-escrow/internal/escrow"
	"github.com/hackgods/consultation-escrow/internal/lock"
	"github.com/hackgods/consultation-escrow/internal/metrics"
	"github.com/hackgods/consultation-escrow/internal/reason"
	"github.com/hackgods/consultation-escrow/internal/scheduler"
	"github.com/hackgods/consultation-escrow/internal/session"
	"github.com/hackgods/consultation-escrow/internal/settlement"
)

type Deps struct {
	Availability availability.Store
	Scheduler    *scheduler.Scheduler
	Ledger       *booking.Ledger
	Escrow       *escrow.Manager
	Meter        *session.Meter
	Settlement   *settlement.Engine
	Locker       lock.Locker
	Clock        clock.Clock
	Logger       *zap.Logger
}

type Options struct {
	Billing     config.Billing
	PendingTTL  time.Duration
	GraceWindow time.Duration

	// Transient failures are retried up to RetryAttempts times, starting at
	// RetryInterval and backing off exponentially.
	RetryAttempts uint
	RetryInterval time.Duration
}

type Engine struct {
	availability availability.Store
	scheduler    *scheduler.Scheduler
	ledger       *booking.Ledger
	escrow       *escrow.Manager
	meter        *session.Meter
	settlement   *settlement.Engine
	locker       lock.Locker
	clock        clock.Clock
	logger       *zap.Logger
	opts         Options
}

func New(d Deps, opts Options) *Engine {
	if opts.RetryAttempts == 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 200 * time.Millisecond
	}
	return &Engine{
		availability: d.Availability,
		scheduler:    d.Scheduler,
		ledger:       d.Ledger,
		escrow:       d.Escrow,
		meter:        d.Meter,
		settlement:   d.Settlement,
		locker:       d.Locker,
		clock:        d.Clock,
		logger:       d.Logger,
		opts:         opts,
	}
}

type BookingRequest struct {
	PayerID    uuid.UUID
	ProviderID uuid.UUID
	SlotStart  time.Time
	SlotEnd    time.Time
}

// RequestBooking accepts or rejects a slot and, once accepted, reserves the
// payer's funds. The availability check and booking creation run under the
// provider lock so overlapping proposals cannot both win.
//
// When the rail rejects the hold for lack of funds the booking is cancelled.
// When the rail stays unavailable the booking is returned alongside the
// error, still pending, and RetryReservation may complete it before the
// sweep cancels it.
func (e *Engine) RequestBooking(ctx context.Context, req BookingRequest) (*booking.Booking, error) {
	b, err := e.createBooking(ctx, req)
	if err != nil {
		metrics.RecordBookingDecision("rejected", string(reason.CodeOf(err)))
		e.logger.Info("booking rejected",
			zap.Stringer("provider_id", req.ProviderID),
			zap.Time("slot_start", req.SlotStart),
			zap.Time("slot_end", req.SlotEnd),
			zap.String("reason", string(reason.CodeOf(err))))
		return nil, err
	}
	metrics.RecordBookingDecision("accepted", "ok")

	var confirmed *booking.Booking
	err = e.locker.WithLock(ctx, lock.BookingKey(b.ID.String()), func(ctx context.Context) error {
		var err error
		confirmed, err = e.reserveAndConfirm(ctx, b)
		return err
	})
	if err != nil {
		if current, getErr := e.ledger.Get(ctx, b.ID); getErr == nil {
			return current, err
		}
		return b, err
	}
	return confirmed, nil
}

func (e *Engine) createBooking(ctx context.Context, req BookingRequest) (*booking.Booking, error) {
	rate, err := e.availability.RatePerMinute(ctx, req.ProviderID)
	if err != nil {
		return nil, err
	}
	if rate <= 0 {
		return nil, fmt.Errorf("%w: provider has no rate", escrow.ErrInvalidAmount)
	}
	capAmount := settlement.CapAmount(e.opts.Billing, rate, req.SlotEnd.Sub(req.SlotStart))

	var created *booking.Booking
	err = e.locker.WithLock(ctx, lock.ProviderKey(req.ProviderID.String()), func(ctx context.Context) error {
		if err := e.scheduler.ProposeSlot(ctx, req.ProviderID, req.SlotStart, req.SlotEnd); err != nil {
			return err
		}

		var err error
		created, err = e.ledger.Create(ctx, booking.NewSlot{
			PayerID:       req.PayerID,
			ProviderID:    req.ProviderID,
			Start:         req.SlotStart,
			End:           req.SlotEnd,
			RatePerMinute: rate,
			CapAmount:     capAmount,
		})
		return err
	})
	return created, err
}

// reserveAndConfirm must run under the booking lock.
func (e *Engine) reserveAndConfirm(ctx context.Context, b *booking.Booking) (*booking.Booking, error) {
	var res *escrow.Reservation
	err := e.retry(ctx, func() error {
		var err error
		res, err = e.escrow.Reserve(ctx, b.PayerID, b.ProviderID, b.ID, b.CapAmount)
		return err
	})
	if err != nil {
		if errors.Is(err, escrow.ErrInsufficientFunds) || errors.Is(err, escrow.ErrInvalidAmount) {
			if _, cancelErr := e.ledger.Cancel(ctx, b.ID); cancelErr != nil {
				e.logger.Error("failed to cancel unfunded booking",
					zap.Stringer("booking_id", b.ID),
					zap.Error(cancelErr))
			}
		}
		return nil, err
	}

	confirmed, err := e.ledger.Confirm(ctx, b.ID, res.ID)
	if err != nil {
		e.releaseOrphanedHold(ctx, b.ID, err)
		return nil, err
	}
	return confirmed, nil
}

// releaseOrphanedHold voids a hold whose booking was cancelled while the
// hold was being placed. Nothing else would release it: the sweep only
// visits pending and confirmed bookings.
func (e *Engine) releaseOrphanedHold(ctx context.Context, bookingID uuid.UUID, confirmErr error) {
	current, err := e.ledger.Get(ctx, bookingID)
	if err != nil || !current.Status.Terminal() {
		return
	}
	if err := e.voidFor(ctx, current); err != nil {
		e.logger.Error("failed to void hold of cancelled booking",
			zap.Stringer("booking_id", bookingID),
			zap.NamedError("confirm_error", confirmErr),
			zap.Error(err))
		return
	}
	e.logger.Warn("booking cancelled during reservation, hold voided",
		zap.Stringer("booking_id", bookingID),
		zap.Stringer("status", current.Status))
}

// RetryReservation re-attempts the hold for a booking left pending by a rail
// outage. A booking that is already confirmed is returned as is.
func (e *Engine) RetryReservation(ctx context.Context, bookingID uuid.UUID) (*booking.Booking, error) {
	var out *booking.Booking
	err := e.locker.WithLock(ctx, lock.BookingKey(bookingID.String()), func(ctx context.Context) error {
		b, err := e.ledger.Get(ctx, bookingID)
		if err != nil {
			return err
		}
		switch b.Status {
		case booking.StatusConfirmed:
			out = b
			return nil
		case booking.StatusPending:
		default:
			return fmt.Errorf("%w: reserve on %s booking", booking.ErrInvalidTransition, b.Status)
		}

		out, err = e.reserveAndConfirm(ctx, b)
		return err
	})
	return out, err
}

// BeginCall starts metering a confirmed booking and moves it to in-progress.
func (e *Engine) BeginCall(ctx context.Context, bookingID uuid.UUID) (*session.Session, error) {
	var out *session.Session
	err := e.locker.WithLock(ctx, lock.BookingKey(bookingID.String()), func(ctx context.Context) error {
		b, err := e.ledger.Get(ctx, bookingID)
		if err != nil {
			return err
		}

		s, err := e.meter.Start(ctx, bookingID)
		if errors.Is(err, session.ErrAlreadyStarted) && b.Status == booking.StatusConfirmed {
			// The session was recorded but the booking never left confirmed.
			return e.repairStartedCall(ctx, b, &out)
		}
		if err != nil {
			return err
		}

		if _, err := e.ledger.StartCall(ctx, bookingID); err != nil {
			return err
		}
		out = s
		return nil
	})
	return out, err
}

func (e *Engine) repairStartedCall(ctx context.Context, b *booking.Booking, out **session.Session) error {
	s, err := e.meter.GetByBooking(ctx, b.ID)
	if err != nil {
		return err
	}
	if _, err := e.ledger.StartCall(ctx, b.ID); err != nil {
		return err
	}
	e.logger.Warn("repaired booking with orphaned call session",
		zap.Stringer("booking_id", b.ID),
		zap.Stringer("session_id", s.ID))

	if !s.Live() {
		return session.ErrAlreadyStarted
	}
	*out = s
	return nil
}

// EndCall stops the session and settles the booking. Ending an already
// stopped session settles it again, which returns the stored record.
func (e *Engine) EndCall(ctx context.Context, sessionID uuid.UUID) (settlement.Record, error) {
	s, err := e.meter.Stop(ctx, sessionID)
	if err != nil && (s == nil || !errors.Is(err, session.ErrAlreadyStopped)) {
		return settlement.Record{}, err
	}
	return e.settle(ctx, s.BookingID)
}

func (e *Engine) settle(ctx context.Context, bookingID uuid.UUID) (settlement.Record, error) {
	var rec settlement.Record
	err := e.retry(ctx, func() error {
		var err error
		rec, err = e.settlement.Settle(ctx, bookingID)
		return err
	})
	return rec, err
}

// CancelBooking cancels a pending or confirmed booking whose call never
// started and voids its reservation.
func (e *Engine) CancelBooking(ctx context.Context, bookingID uuid.UUID) (*booking.Booking, error) {
	var out *booking.Booking
	err := e.locker.WithLock(ctx, lock.BookingKey(bookingID.String()), func(ctx context.Context) error {
		var err error
		out, err = e.cancelLocked(ctx, bookingID)
		return err
	})
	return out, err
}

func (e *Engine) cancelLocked(ctx context.Context, bookingID uuid.UUID) (*booking.Booking, error) {
	b, err := e.ledger.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if _, err := booking.Next(b.Status, booking.EventCancel); err != nil {
		return nil, fmt.Errorf("%w: cancel on %s", err, b.Status)
	}

	if _, err := e.meter.GetByBooking(ctx, bookingID); err == nil {
		return nil, fmt.Errorf("%w: call already started", booking.ErrInvalidTransition)
	} else if !errors.Is(err, session.ErrSessionNotFound) {
		return nil, err
	}

	if err := e.voidFor(ctx, b); err != nil {
		return nil, err
	}
	return e.ledger.Cancel(ctx, bookingID)
}

// voidFor releases the booking's hold, if any. A pending booking may have
// a hold that was placed before its confirmation failed.
func (e *Engine) voidFor(ctx context.Context, b *booking.Booking) error {
	var resID uuid.UUID
	if b.ReservationID != nil {
		resID = *b.ReservationID
	} else {
		res, err := e.escrow.GetByBooking(ctx, b.ID)
		if errors.Is(err, escrow.ErrReservationNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		resID = res.ID
	}

	res, err := e.escrow.Get(ctx, resID)
	if err != nil {
		return err
	}
	if res.Status == escrow.StatusVoided {
		return nil
	}

	return e.retry(ctx, func() error {
		return e.escrow.Void(ctx, resID)
	})
}

func (e *Engine) GetBooking(ctx context.Context, id uuid.UUID) (*booking.Booking, error) {
	return e.ledger.Get(ctx, id)
}

func (e *Engine) GetSession(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	return e.meter.Get(ctx, id)
}

// SetAvailability replaces a provider's weekly windows wholesale.
func (e *Engine) SetAvailability(ctx context.Context, providerID uuid.UUID, weekly availability.Weekly) error {
	if err := weekly.Validate(); err != nil {
		return err
	}
	if err := e.availability.Replace(ctx, providerID, weekly); err != nil {
		return err
	}
	e.logger.Info("availability replaced",
		zap.Stringer("provider_id", providerID),
		zap.Int("days", len(weekly)))
	return nil
}

func (e *Engine) GetAvailability(ctx context.Context, providerID uuid.UUID) (availability.Weekly, error) {
	return e.availability.GetWeekly(ctx, providerID)
}

// retry runs fn until it succeeds, fails with a non-transient error or
// runs out of attempts.
func (e *Engine) retry(ctx context.Context, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.opts.RetryInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn()
		if err != nil && !reason.Retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(e.opts.RetryAttempts))
	return err
}
