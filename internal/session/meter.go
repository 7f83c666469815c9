package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/consultation-escrow/internal/booking"
	"github.com/hackgods/consultation-escrow/internal/clock"
	"github.com/hackgods/consultation-escrow/internal/lock"
)

type BookingSource interface {
	Get(ctx context.Context, id uuid.UUID) (*booking.Booking, error)
}

// Meter records call start and stop. Start and stop for the same booking
// are serialized through the session lock.
type Meter struct {
	repo     Repository
	bookings BookingSource
	locker   lock.Locker
	clock    clock.Clock
	logger   *zap.Logger
}

func NewMeter(repo Repository, bookings BookingSource, locker lock.Locker, clk clock.Clock, logger *zap.Logger) *Meter {
	return &Meter{repo: repo, bookings: bookings, locker: locker, clock: clk, logger: logger}
}

// Start opens the single session a confirmed booking may have. A booking
// whose session already stopped cannot be restarted.
func (m *Meter) Start(ctx context.Context, bookingID uuid.UUID) (*Session, error) {
	var out *Session
	err := m.locker.WithLock(ctx, lock.SessionKey(bookingID.String()), func(ctx context.Context) error {
		if _, err := m.repo.GetByBooking(ctx, bookingID); err == nil {
			return ErrAlreadyStarted
		} else if !errors.Is(err, ErrSessionNotFound) {
			return fmt.Errorf("load session: %w", err)
		}

		b, err := m.bookings.Get(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.Status != booking.StatusConfirmed {
			return fmt.Errorf("%w: booking is %s", ErrNotConfirmed, b.Status)
		}

		created, err := m.repo.Insert(ctx, &Session{
			ID:        uuid.New(),
			BookingID: bookingID,
			StartedAt: m.clock.Now(),
		})
		if err != nil {
			return err
		}

		m.logger.Info("call session started",
			zap.Stringer("session_id", created.ID),
			zap.Stringer("booking_id", bookingID))
		out = created
		return nil
	})
	return out, err
}

func (m *Meter) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	return m.repo.GetByID(ctx, id)
}

func (m *Meter) GetByBooking(ctx context.Context, bookingID uuid.UUID) (*Session, error) {
	return m.repo.GetByBooking(ctx, bookingID)
}

// Stop ends a live session now. The stopped session carries the duration.
// ErrAlreadyStopped comes back together with the stored session.
func (m *Meter) Stop(ctx context.Context, id uuid.UUID) (*Session, error) {
	return m.stop(ctx, id, func(*Session) time.Time { return m.clock.Now() })
}

// StopAt ends a live session at a fixed instant, capped by now. The sweep
// uses it to enforce the billing ceiling as a hard cutoff.
func (m *Meter) StopAt(ctx context.Context, id uuid.UUID, at time.Time) (*Session, error) {
	return m.stop(ctx, id, func(*Session) time.Time {
		if now := m.clock.Now(); now.Before(at) {
			return now
		}
		return at
	})
}

func (m *Meter) ListLive(ctx context.Context) ([]Session, error) {
	return m.repo.ListLive(ctx)
}

func (m *Meter) stop(ctx context.Context, id uuid.UUID, endAt func(*Session) time.Time) (*Session, error) {
	s, err := m.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrNotStarted
		}
		return nil, err
	}

	var out *Session
	err = m.locker.WithLock(ctx, lock.SessionKey(s.BookingID.String()), func(ctx context.Context) error {
		current, err := m.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !current.Live() {
			out = current
			return ErrAlreadyStopped
		}

		ended := endAt(current)
		if ended.Before(current.StartedAt) {
			ended = current.StartedAt
		}

		stopped, err := m.repo.MarkEnded(ctx, id, ended)
		if err != nil {
			return err
		}

		m.logger.Info("call session stopped",
			zap.Stringer("session_id", id),
			zap.Stringer("booking_id", stopped.BookingID),
			zap.Int64("duration_seconds", stopped.DurationSeconds()))
		out = stopped
		return nil
	})
	return out, err
}
