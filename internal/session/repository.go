package session

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// Insert fails with ErrAlreadyStarted when the booking already has a session.
	Insert(ctx context.Context, s *Session) (*Session, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	GetByBooking(ctx context.Context, bookingID uuid.UUID) (*Session, error)

	// MarkEnded fails with ErrAlreadyStopped when the session is not live.
	MarkEnded(ctx context.Context, id uuid.UUID, endedAt time.Time) (*Session, error)
	ListLive(ctx context.Context) ([]Session, error)
}
