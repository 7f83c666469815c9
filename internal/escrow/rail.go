package escrow

import (
	"context"

	"github.com/google/uuid"

	"github.com/hackgods/consultation-escrow/internal/reason"
)

// Errors a Rail implementation reports. Anything else coming back from a
// rail is treated as ErrRailUnavailable.
var (
	ErrInsufficientFunds = reason.New(reason.CodeInsufficientFunds, reason.KindResource, "insufficient funds for reservation")
	ErrRailUnavailable   = reason.New(reason.CodeRailUnavailable, reason.KindTransient, "value-transfer rail unavailable, retry later")
)

// Rail is the external value-transfer system. Every call carries an
// idempotency key; repeating a call with the same key must not move funds twice.
type Rail interface {
	// Hold places a hold of exactly Amount against the payer and returns the
	// rail's opaque hold id.
	Hold(ctx context.Context, req HoldRequest) (holdID string, err error)

	// Capture converts Amount of the hold into a final charge and releases
	// ReleaseAmount back to the payer in the same step.
	Capture(ctx context.Context, req CaptureRequest) error

	// Release returns the whole hold to the payer.
	Release(ctx context.Context, req ReleaseRequest) error
}

type HoldRequest struct {
	IdempotencyKey string
	BookingID      uuid.UUID
	PayerID        uuid.UUID
	ProviderID     uuid.UUID
	Amount         int64
}

type CaptureRequest struct {
	IdempotencyKey string
	HoldID         string
	Amount         int64
	ReleaseAmount  int64
}

type ReleaseRequest struct {
	IdempotencyKey string
	HoldID         string
	Amount         int64
}
