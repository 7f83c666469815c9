package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/consultation-escrow/internal/reason"
)

var (
	ErrAlreadyStarted  = reason.New(reason.CodeAlreadyStarted, reason.KindConflict, "a call session already exists for this booking")
	ErrNotConfirmed    = reason.New(reason.CodeNotConfirmed, reason.KindConflict, "booking is not confirmed")
	ErrNotStarted      = reason.New(reason.CodeNotStarted, reason.KindConflict, "call session was never started")
	ErrAlreadyStopped  = reason.New(reason.CodeAlreadyStopped, reason.KindConflict, "call session already stopped")
	ErrSessionNotFound = reason.New(reason.CodeNotFound, reason.KindNotFound, "call session not found")
)

// Session is the metered call for a booking. EndedAt is nil while live.
type Session struct {
	ID        uuid.UUID
	BookingID uuid.UUID
	StartedAt time.Time
	EndedAt   *time.Time
}

func (s *Session) Live() bool {
	return s.EndedAt == nil
}

// DurationSeconds is the elapsed whole seconds of a stopped session, 0 while live.
func (s *Session) DurationSeconds() int64 {
	if s.EndedAt == nil || !s.EndedAt.After(s.StartedAt) {
		return 0
	}
	return int64(s.EndedAt.Sub(s.StartedAt) / time.Second)
}

// BillableMinutes rounds seconds up to whole minutes and clamps the result
// to [minMinutes, maxMinutes].
func BillableMinutes(durationSeconds, minMinutes, maxMinutes int64) int64 {
	if durationSeconds < 0 {
		durationSeconds = 0
	}

	minutes := durationSeconds / 60
	if durationSeconds%60 != 0 {
		minutes++
	}

	if minutes < minMinutes {
		minutes = minMinutes
	}
	if minutes > maxMinutes {
		minutes = maxMinutes
	}
	return minutes
}
