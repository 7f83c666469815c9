package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/consultation-escrow/internal/booking"
	"github.com/hackgods/consultation-escrow/internal/clock"
	"github.com/hackgods/consultation-escrow/internal/scheduler"
)

// Bookings enforces the same no-overlap rule as the Postgres exclusion
// constraint, so a caller that skipped the provider lock still cannot
// double-book.
type Bookings struct {
	mu     sync.RWMutex
	clock  clock.Clock
	rows   map[uuid.UUID]booking.Booking
	events []booking.EventLog
}

func NewBookings(clk clock.Clock) *Bookings {
	return &Bookings{clock: clk, rows: make(map[uuid.UUID]booking.Booking)}
}

func (s *Bookings) Insert(_ context.Context, b *booking.Booking) (*booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	iv := scheduler.Interval{Start: b.SlotStart, End: b.SlotEnd}
	for _, other := range s.rows {
		if other.ProviderID != b.ProviderID || !other.Status.Active() {
			continue
		}
		if iv.Overlaps(scheduler.Interval{Start: other.SlotStart, End: other.SlotEnd}) {
			return nil, scheduler.ErrSlotConflict
		}
	}

	row := *b
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = s.clock.Now()
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = row.CreatedAt
	}
	s.rows[row.ID] = row

	return copyBooking(row), nil
}

func (s *Bookings) GetByID(_ context.Context, id uuid.UUID) (*booking.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[id]
	if !ok {
		return nil, booking.ErrBookingNotFound
	}
	return copyBooking(row), nil
}

func (s *Bookings) UpdateStatus(_ context.Context, id uuid.UUID, from, to booking.Status, upd booking.Update) (*booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok || row.Status != from {
		return nil, booking.ErrStatusChanged
	}

	row.Status = to
	if upd.ReservationID != nil {
		rid := *upd.ReservationID
		row.ReservationID = &rid
	}
	if upd.Settlement != nil {
		rec := *upd.Settlement
		row.Settlement = &rec
		row.Cost = rec.GrossCharge
	}
	row.UpdatedAt = s.clock.Now()
	s.rows[id] = row

	return copyBooking(row), nil
}

func (s *Bookings) ActiveIntervals(_ context.Context, providerID uuid.UUID, from, to time.Time) ([]scheduler.Interval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	window := scheduler.Interval{Start: from, End: to}
	var out []scheduler.Interval
	for _, row := range s.rows {
		if row.ProviderID != providerID || !row.Status.Active() {
			continue
		}
		iv := scheduler.Interval{Start: row.SlotStart, End: row.SlotEnd}
		if iv.Overlaps(window) {
			out = append(out, iv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (s *Bookings) ListPendingCreatedBefore(_ context.Context, before time.Time) ([]booking.Booking, error) {
	return s.filter(func(b booking.Booking) bool {
		return b.Status == booking.StatusPending && b.CreatedAt.Before(before)
	}), nil
}

func (s *Bookings) ListConfirmedStartingBefore(_ context.Context, before time.Time) ([]booking.Booking, error) {
	return s.filter(func(b booking.Booking) bool {
		return b.Status == booking.StatusConfirmed && b.SlotStart.Before(before)
	}), nil
}

func (s *Bookings) ListInProgress(_ context.Context) ([]booking.Booking, error) {
	return s.filter(func(b booking.Booking) bool {
		return b.Status == booking.StatusInProgress
	}), nil
}

func (s *Bookings) InsertEvent(_ context.Context, ev booking.EventLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev.ID = int64(len(s.events) + 1)
	s.events = append(s.events, ev)
	return nil
}

// Events returns the audit log in insertion order.
func (s *Bookings) Events() []booking.EventLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]booking.EventLog(nil), s.events...)
}

// All returns every booking ordered by slot start.
func (s *Bookings) All() []booking.Booking {
	return s.filter(func(booking.Booking) bool { return true })
}

func (s *Bookings) filter(keep func(booking.Booking) bool) []booking.Booking {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []booking.Booking
	for _, row := range s.rows {
		if keep(row) {
			out = append(out, *copyBooking(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlotStart.Before(out[j].SlotStart) })
	return out
}

func copyBooking(b booking.Booking) *booking.Booking {
	if b.ReservationID != nil {
		rid := *b.ReservationID
		b.ReservationID = &rid
	}
	if b.Settlement != nil {
		rec := *b.Settlement
		b.Settlement = &rec
	}
	return &b
}
