package booking

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/consultation-escrow/internal/scheduler"
)

// Repository contains all storage interactions needed by the ledger.
type Repository interface {
	// Insert stores a new pending booking. Implementations reject an insert
	// that would overlap an active booking of the same provider with
	// scheduler.ErrSlotConflict.
	Insert(ctx context.Context, b *Booking) (*Booking, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Booking, error)

	// UpdateStatus moves a booking from -> to only if it is still in from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, upd Update) (*Booking, error)

	// For conflict checks
	ActiveIntervals(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]scheduler.Interval, error)

	// Sweeps
	ListPendingCreatedBefore(ctx context.Context, before time.Time) ([]Booking, error)
	ListConfirmedStartingBefore(ctx context.Context, before time.Time) ([]Booking, error)
	ListInProgress(ctx context.Context) ([]Booking, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
