package availability

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the query surface over provider availability and pricing.
type Store interface {
	// GetWeeklyWindow returns ok=false when the provider is closed on that weekday.
	GetWeeklyWindow(ctx context.Context, providerID uuid.UUID, day time.Weekday) (w Window, ok bool, err error)
	GetWeekly(ctx context.Context, providerID uuid.UUID) (Weekly, error)

	// Replace swaps the whole weekly schedule; there is no partial merge.
	Replace(ctx context.Context, providerID uuid.UUID, weekly Weekly) error

	RatePerMinute(ctx context.Context, providerID uuid.UUID) (int64, error)
}
