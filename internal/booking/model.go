package booking

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/consultation-escrow/internal/reason"
)

var (
	ErrBookingNotFound   = reason.New(reason.CodeNotFound, reason.KindNotFound, "booking not found")
	ErrInvalidTransition = reason.New(reason.CodeInvalidTransition, reason.KindConflict, "invalid booking status transition")

	// ErrStatusChanged is returned by conditional updates when the row is no
	// longer in the expected status.
	ErrStatusChanged = reason.New(reason.CodeInvalidTransition, reason.KindConflict, "booking status changed concurrently")
)

const (
	EventBookingCreated   = "BOOKING_CREATED"
	EventBookingConfirmed = "BOOKING_CONFIRMED"
	EventCallBegan        = "CALL_STARTED"
	EventBookingCompleted = "BOOKING_COMPLETED"
	EventBookingCancelled = "BOOKING_CANCELLED"
)

// SettlementRecord is the audit copy of the end-of-call computation.
// All amounts are minor currency units.
type SettlementRecord struct {
	MinutesBilled  int64 `json:"minutes_billed"`
	GrossCharge    int64 `json:"gross_charge"`
	PlatformFee    int64 `json:"platform_fee"`
	ProviderPayout int64 `json:"provider_payout"`
	RefundAmount   int64 `json:"refund_amount"`
}

type Booking struct {
	ID            uuid.UUID
	PayerID       uuid.UUID
	ProviderID    uuid.UUID
	SlotStart     time.Time
	SlotEnd       time.Time
	Status        Status
	ReservationID *uuid.UUID
	RatePerMinute int64
	CapAmount     int64
	Cost          int64
	Settlement    *SettlementRecord
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Update carries the fields a transition may set alongside the status.
type Update struct {
	ReservationID *uuid.UUID
	Settlement    *SettlementRecord
}

type EventLog struct {
	ID        int64
	EventType string
	BookingID *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}
