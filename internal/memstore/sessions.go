package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/consultation-escrow/internal/session"
)

type Sessions struct {
	mu        sync.RWMutex
	rows      map[uuid.UUID]session.Session
	byBooking map[uuid.UUID]uuid.UUID
}

func NewSessions() *Sessions {
	return &Sessions{
		rows:      make(map[uuid.UUID]session.Session),
		byBooking: make(map[uuid.UUID]uuid.UUID),
	}
}

func (s *Sessions) Insert(_ context.Context, in *session.Session) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byBooking[in.BookingID]; ok {
		return nil, session.ErrAlreadyStarted
	}

	row := *in
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	s.rows[row.ID] = row
	s.byBooking[row.BookingID] = row.ID
	return copySession(row), nil
}

func (s *Sessions) GetByID(_ context.Context, id uuid.UUID) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return copySession(row), nil
}

func (s *Sessions) GetByBooking(_ context.Context, bookingID uuid.UUID) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byBooking[bookingID]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return copySession(s.rows[id]), nil
}

func (s *Sessions) MarkEnded(_ context.Context, id uuid.UUID, endedAt time.Time) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	if row.EndedAt != nil {
		return nil, session.ErrAlreadyStopped
	}
	row.EndedAt = &endedAt
	s.rows[id] = row
	return copySession(row), nil
}

func (s *Sessions) ListLive(_ context.Context) ([]session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []session.Session
	for _, row := range s.rows {
		if row.EndedAt == nil {
			out = append(out, *copySession(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func copySession(s session.Session) *session.Session {
	if s.EndedAt != nil {
		t := *s.EndedAt
		s.EndedAt = &t
	}
	return &s
}
