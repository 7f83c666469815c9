package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/consultation-escrow/internal/clock"
	"github.com/hackgods/consultation-escrow/internal/escrow"
)

type Reservations struct {
	mu        sync.RWMutex
	clock     clock.Clock
	rows      map[uuid.UUID]escrow.Reservation
	byBooking map[uuid.UUID]uuid.UUID
}

func NewReservations(clk clock.Clock) *Reservations {
	return &Reservations{
		clock:     clk,
		rows:      make(map[uuid.UUID]escrow.Reservation),
		byBooking: make(map[uuid.UUID]uuid.UUID),
	}
}

func (s *Reservations) Insert(_ context.Context, r *escrow.Reservation) (*escrow.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byBooking[r.BookingID]; ok {
		return nil, fmt.Errorf("reservation for booking %s already exists", r.BookingID)
	}

	row := *r
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	now := s.clock.Now()
	row.Status = escrow.StatusReserved
	row.CapturedAmount, row.ReleasedAmount = 0, 0
	row.CreatedAt, row.UpdatedAt = now, now

	s.rows[row.ID] = row
	s.byBooking[row.BookingID] = row.ID
	return copyReservation(row), nil
}

func (s *Reservations) GetByID(_ context.Context, id uuid.UUID) (*escrow.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[id]
	if !ok {
		return nil, escrow.ErrReservationNotFound
	}
	return copyReservation(row), nil
}

func (s *Reservations) GetByBooking(_ context.Context, bookingID uuid.UUID) (*escrow.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byBooking[bookingID]
	if !ok {
		return nil, escrow.ErrReservationNotFound
	}
	return copyReservation(s.rows[id]), nil
}

func (s *Reservations) MarkSettled(_ context.Context, id uuid.UUID, status escrow.Status, captured, released int64, at time.Time) (*escrow.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok || row.Status != escrow.StatusReserved || captured < 0 || captured+released != row.CapAmount {
		return nil, escrow.ErrStatusChanged
	}

	row.Status = status
	row.CapturedAmount, row.ReleasedAmount = captured, released
	row.SettledAt = &at
	row.UpdatedAt = s.clock.Now()
	s.rows[id] = row
	return copyReservation(row), nil
}

func (s *Reservations) MarkVoided(_ context.Context, id uuid.UUID, at time.Time) (*escrow.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok || row.Status != escrow.StatusReserved {
		return nil, escrow.ErrStatusChanged
	}

	row.Status = escrow.StatusVoided
	row.ReleasedAmount = row.CapAmount
	row.SettledAt = &at
	row.UpdatedAt = s.clock.Now()
	s.rows[id] = row
	return copyReservation(row), nil
}

func copyReservation(r escrow.Reservation) *escrow.Reservation {
	if r.SettledAt != nil {
		t := *r.SettledAt
		r.SettledAt = &t
	}
	return &r
}
