package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/consultation-escrow/internal/booking"
	"github.com/hackgods/consultation-escrow/internal/lock"
	"github.com/hackgods/consultation-escrow/internal/metrics"
	"github.com/hackgods/consultation-escrow/internal/session"
	"github.com/hackgods/consultation-escrow/internal/settlement"
)

// SweepReport counts what one sweep pass did.
type SweepReport struct {
	CancelledPending   int
	CancelledUnstarted int
	AutoStopped        int
	Settled            int
	Failed             int
}

// Sweep runs one pass of background maintenance:
//   - pending bookings older than PendingTTL are cancelled and any stray hold voided
//   - confirmed bookings not started within GraceWindow of slot start are cancelled and voided
//   - live calls that reached their billing ceiling are stopped and settled
//   - in-progress bookings whose call already stopped are settled
//
// Each item is handled on its own; one failure does not stop the pass.
func (e *Engine) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	now := e.clock.Now()

	stale, err := e.ledger.ListStalePending(ctx, now.Add(-e.opts.PendingTTL))
	if err != nil {
		return report, err
	}
	for _, b := range stale {
		e.sweepCancel(ctx, b.ID, booking.StatusPending, "cancel_pending", &report.CancelledPending, &report.Failed)
	}

	unstarted, err := e.ledger.ListUnstarted(ctx, now.Add(-e.opts.GraceWindow))
	if err != nil {
		return report, err
	}
	for _, b := range unstarted {
		e.sweepCancel(ctx, b.ID, booking.StatusConfirmed, "cancel_unstarted", &report.CancelledUnstarted, &report.Failed)
	}

	live, err := e.meter.ListLive(ctx)
	if err != nil {
		return report, err
	}
	for _, s := range live {
		stopped, err := e.autoStop(ctx, s, now)
		if err != nil {
			report.Failed++
			metrics.RecordSweep("auto_stop", "error")
			e.logger.Warn("auto-stop failed", zap.Stringer("session_id", s.ID), zap.Error(err))
			continue
		}
		if stopped {
			report.AutoStopped++
			metrics.RecordSweep("auto_stop", "ok")
		}
	}

	inProgress, err := e.ledger.ListInProgress(ctx)
	if err != nil {
		return report, err
	}
	for _, b := range inProgress {
		s, err := e.meter.GetByBooking(ctx, b.ID)
		if err != nil || s.Live() {
			continue
		}
		if _, err := e.settle(ctx, b.ID); err != nil {
			report.Failed++
			metrics.RecordSweep("settle", "error")
			e.logger.Warn("sweep settlement failed", zap.Stringer("booking_id", b.ID), zap.Error(err))
			continue
		}
		report.Settled++
		metrics.RecordSweep("settle", "ok")
	}

	if report != (SweepReport{}) {
		e.logger.Info("sweep finished",
			zap.Int("cancelled_pending", report.CancelledPending),
			zap.Int("cancelled_unstarted", report.CancelledUnstarted),
			zap.Int("auto_stopped", report.AutoStopped),
			zap.Int("settled", report.Settled),
			zap.Int("failed", report.Failed))
	}
	return report, nil
}

func (e *Engine) sweepCancel(ctx context.Context, id uuid.UUID, want booking.Status, action string, done, failed *int) {
	err := e.locker.WithLock(ctx, lock.BookingKey(id.String()), func(ctx context.Context) error {
		b, err := e.ledger.Get(ctx, id)
		if err != nil {
			return err
		}
		if b.Status != want {
			return errSkip
		}
		if b.Status == booking.StatusConfirmed {
			if _, err := e.meter.GetByBooking(ctx, id); err == nil {
				if _, err := e.ledger.StartCall(ctx, id); err != nil {
					return err
				}
				return errRepaired
			}
		}
		_, err = e.cancelLocked(ctx, id)
		return err
	})

	switch {
	case errors.Is(err, errSkip):
	case errors.Is(err, errRepaired):
		metrics.RecordSweep(action, "repaired")
		e.logger.Warn("booking with orphaned call session moved to in-progress", zap.Stringer("booking_id", id))
	case errors.Is(err, booking.ErrInvalidTransition):
		// A call was started in the meantime; settlement owns the booking now.
		metrics.RecordSweep(action, "skipped")
	case err != nil:
		*failed++
		metrics.RecordSweep(action, "error")
		e.logger.Warn("sweep cancel failed",
			zap.String("action", action),
			zap.Stringer("booking_id", id),
			zap.Error(err))
	default:
		*done++
		metrics.RecordSweep(action, "ok")
		e.logger.Info("booking cancelled by sweep",
			zap.String("action", action),
			zap.Stringer("booking_id", id))
	}
}

var (
	errSkip     = errors.New("skip")
	errRepaired = errors.New("repaired")
)

// autoStop ends a live call that reached its billing ceiling, at the ceiling,
// and settles it.
func (e *Engine) autoStop(ctx context.Context, s session.Session, now time.Time) (bool, error) {
	b, err := e.ledger.Get(ctx, s.BookingID)
	if err != nil {
		return false, err
	}

	ceiling := settlement.CeilingMinutes(e.opts.Billing, b.SlotEnd.Sub(b.SlotStart))
	cutoff := s.StartedAt.Add(time.Duration(ceiling) * time.Minute)
	if now.Before(cutoff) {
		return false, nil
	}

	if _, err := e.meter.StopAt(ctx, s.ID, cutoff); err != nil && !errors.Is(err, session.ErrAlreadyStopped) {
		return false, err
	}
	e.logger.Info("call reached billing ceiling",
		zap.Stringer("booking_id", b.ID),
		zap.Stringer("session_id", s.ID),
		zap.Int64("ceiling_minutes", ceiling))

	if b.Status != booking.StatusInProgress {
		// Settled later by the in-progress pass once the booking catches up.
		return true, nil
	}
	if _, err := e.settle(ctx, b.ID); err != nil {
		return true, err
	}
	return true, nil
}
