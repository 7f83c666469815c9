package escrow

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/consultation-escrow/internal/reason"
)

var (
	ErrReservationNotFound = reason.New(reason.CodeNotFound, reason.KindNotFound, "reservation not found")
	ErrReservationState    = reason.New(reason.CodeReservationState, reason.KindConflict, "reservation is not in a state that allows this operation")
	ErrInvalidAmount       = reason.New(reason.CodeInvalidAmount, reason.KindValidation, "reservation cap must be positive")
	ErrInvariantViolation  = reason.New(reason.CodeInvariantViolation, reason.KindInvariant, "escrow invariant violated")

	// ErrStatusChanged is returned by conditional updates that lost a race.
	ErrStatusChanged = reason.New(reason.CodeReservationState, reason.KindConflict, "reservation status changed concurrently")
)

type Status uint8

const (
	StatusUnknown Status = iota
	StatusReserved
	StatusCaptured
	StatusReleased
	StatusVoided
)

var statusNames = map[Status]string{
	StatusReserved: "reserved",
	StatusCaptured: "captured",
	StatusReleased: "released",
	StatusVoided:   "voided",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

func ParseStatus(v string) (Status, error) {
	for s, n := range statusNames {
		if n == v {
			return s, nil
		}
	}
	return StatusUnknown, fmt.Errorf("unknown reservation status %q", v)
}

func (s Status) MarshalText() ([]byte, error) {
	if _, ok := statusNames[s]; !ok {
		return nil, fmt.Errorf("cannot marshal %s", s)
	}
	return []byte(s.String()), nil
}

// Reservation is a capped hold against a payer, owned by the escrow manager.
// Amounts are minor currency units.
type Reservation struct {
	ID             uuid.UUID
	BookingID      uuid.UUID
	PayerID        uuid.UUID
	ProviderID     uuid.UUID
	HoldID         string
	CapAmount      int64
	CapturedAmount int64
	ReleasedAmount int64
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
	SettledAt      *time.Time
}

// Outcome is the terminal result of a reservation. Captured and released
// amounts are reported together.
type Outcome struct {
	ReservationID  uuid.UUID `json:"reservation_id"`
	Status         Status    `json:"status"`
	CapAmount      int64     `json:"cap_amount"`
	CapturedAmount int64     `json:"captured_amount"`
	ReleasedAmount int64     `json:"released_amount"`
}

func (r *Reservation) Outcome() Outcome {
	return Outcome{
		ReservationID:  r.ID,
		Status:         r.Status,
		CapAmount:      r.CapAmount,
		CapturedAmount: r.CapturedAmount,
		ReleasedAmount: r.ReleasedAmount,
	}
}
