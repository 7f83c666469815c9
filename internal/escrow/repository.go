package escrow

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Insert(ctx context.Context, r *Reservation) (*Reservation, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Reservation, error)
	GetByBooking(ctx context.Context, bookingID uuid.UUID) (*Reservation, error)

	// MarkSettled and MarkVoided only apply to a reservation still in
	// StatusReserved and return ErrStatusChanged otherwise.
	MarkSettled(ctx context.Context, id uuid.UUID, status Status, captured, released int64, at time.Time) (*Reservation, error)
	MarkVoided(ctx context.Context, id uuid.UUID, at time.Time) (*Reservation, error)
}
