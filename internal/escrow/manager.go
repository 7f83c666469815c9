package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/consultation-escrow/internal/clock"
	"github.com/hackgods/consultation-escrow/internal/lock"
	"github.com/hackgods/consultation-escrow/internal/metrics"
)

// Manager owns reservations. Bookings only ever reference them by id.
type Manager struct {
	repo   Repository
	rail   Rail
	locker lock.Locker
	clock  clock.Clock
	logger *zap.Logger
}

func NewManager(repo Repository, rail Rail, locker lock.Locker, clk clock.Clock, logger *zap.Logger) *Manager {
	return &Manager{repo: repo, rail: rail, locker: locker, clock: clk, logger: logger}
}

// Reserve places a hold of exactly capAmount against the payer. A booking
// has at most one reservation; repeating Reserve for the same booking
// returns the existing one without contacting the rail.
func (m *Manager) Reserve(ctx context.Context, payerID, providerID, bookingID uuid.UUID, capAmount int64) (*Reservation, error) {
	if capAmount <= 0 {
		return nil, ErrInvalidAmount
	}

	var out *Reservation
	err := m.locker.WithLock(ctx, lock.EscrowBookingKey(bookingID.String()), func(ctx context.Context) error {
		existing, err := m.repo.GetByBooking(ctx, bookingID)
		switch {
		case err == nil:
			out = existing
			return nil
		case !errors.Is(err, ErrReservationNotFound):
			return fmt.Errorf("load reservation: %w", err)
		}

		holdID, err := m.rail.Hold(ctx, HoldRequest{
			IdempotencyKey: "hold:" + bookingID.String(),
			BookingID:      bookingID,
			PayerID:        payerID,
			ProviderID:     providerID,
			Amount:         capAmount,
		})
		if err != nil {
			err = railError(err)
			metrics.RecordEscrow("reserve", resultLabel(err))
			return err
		}

		created, err := m.repo.Insert(ctx, &Reservation{
			ID:         uuid.New(),
			BookingID:  bookingID,
			PayerID:    payerID,
			ProviderID: providerID,
			HoldID:     holdID,
			CapAmount:  capAmount,
			Status:     StatusReserved,
		})
		if err != nil {
			// The hold exists on the rail; a retry reuses it through the
			// idempotency key.
			m.logger.Error("hold placed but reservation not stored",
				zap.Stringer("booking_id", bookingID),
				zap.String("hold_id", holdID),
				zap.Error(err))
			metrics.RecordEscrow("reserve", "store_error")
			return fmt.Errorf("store reservation: %w", err)
		}

		metrics.RecordEscrow("reserve", "ok")
		m.logger.Info("reservation placed",
			zap.Stringer("reservation_id", created.ID),
			zap.Stringer("booking_id", bookingID),
			zap.Int64("cap_amount", capAmount))
		out = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	return m.repo.GetByID(ctx, id)
}

func (m *Manager) GetByBooking(ctx context.Context, bookingID uuid.UUID) (*Reservation, error) {
	return m.repo.GetByBooking(ctx, bookingID)
}

// Settle captures captureAmount and releases the rest of the cap in one
// terminal step. Once settled, further calls return the stored outcome and
// never reach the rail.
func (m *Manager) Settle(ctx context.Context, reservationID uuid.UUID, captureAmount int64) (Outcome, error) {
	var out Outcome
	err := m.locker.WithLock(ctx, lock.ReservationKey(reservationID.String()), func(ctx context.Context) error {
		res, err := m.repo.GetByID(ctx, reservationID)
		if err != nil {
			return err
		}

		switch res.Status {
		case StatusCaptured, StatusReleased:
			out = res.Outcome()
			return nil
		case StatusReserved:
		default:
			return fmt.Errorf("%w: settle on %s", ErrReservationState, res.Status)
		}

		if captureAmount < 0 || captureAmount > res.CapAmount {
			m.logger.Error("capture outside reservation cap",
				zap.Stringer("reservation_id", reservationID),
				zap.Int64("capture_amount", captureAmount),
				zap.Int64("cap_amount", res.CapAmount))
			return fmt.Errorf("%w: capture %d outside [0, %d]", ErrInvariantViolation, captureAmount, res.CapAmount)
		}
		release := res.CapAmount - captureAmount

		err = m.rail.Capture(ctx, CaptureRequest{
			IdempotencyKey: "capture:" + reservationID.String(),
			HoldID:         res.HoldID,
			Amount:         captureAmount,
			ReleaseAmount:  release,
		})
		if err != nil {
			err = railError(err)
			metrics.RecordEscrow("settle", resultLabel(err))
			return err
		}

		status := StatusCaptured
		if captureAmount == 0 {
			status = StatusReleased
		}

		settled, err := m.repo.MarkSettled(ctx, reservationID, status, captureAmount, release, m.clock.Now())
		if err != nil {
			metrics.RecordEscrow("settle", "store_error")
			return fmt.Errorf("store settlement: %w", err)
		}

		metrics.RecordEscrow("settle", "ok")
		m.logger.Info("reservation settled",
			zap.Stringer("reservation_id", reservationID),
			zap.Int64("captured", captureAmount),
			zap.Int64("released", release))
		out = settled.Outcome()
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	return out, nil
}

// Void releases the full cap. Only a reservation that was never settled can
// be voided.
func (m *Manager) Void(ctx context.Context, reservationID uuid.UUID) error {
	return m.locker.WithLock(ctx, lock.ReservationKey(reservationID.String()), func(ctx context.Context) error {
		res, err := m.repo.GetByID(ctx, reservationID)
		if err != nil {
			return err
		}
		if res.Status != StatusReserved {
			return fmt.Errorf("%w: void on %s", ErrReservationState, res.Status)
		}

		err = m.rail.Release(ctx, ReleaseRequest{
			IdempotencyKey: "void:" + reservationID.String(),
			HoldID:         res.HoldID,
			Amount:         res.CapAmount,
		})
		if err != nil {
			err = railError(err)
			metrics.RecordEscrow("void", resultLabel(err))
			return err
		}

		if _, err := m.repo.MarkVoided(ctx, reservationID, m.clock.Now()); err != nil {
			metrics.RecordEscrow("void", "store_error")
			return fmt.Errorf("store void: %w", err)
		}

		metrics.RecordEscrow("void", "ok")
		m.logger.Info("reservation voided",
			zap.Stringer("reservation_id", reservationID),
			zap.Int64("released", res.CapAmount))
		return nil
	})
}

// railError keeps the two rail sentinels and folds anything else into
// ErrRailUnavailable.
func railError(err error) error {
	if errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrRailUnavailable) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrRailUnavailable, err)
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrRailUnavailable):
		return "rail_unavailable"
	default:
		return "error"
	}
}
