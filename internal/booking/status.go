package booking

import (
	"fmt"
)

// Status is the closed set of booking states.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusPending
	StatusConfirmed
	StatusInProgress
	StatusCompleted
	StatusCancelled
)

var statusNames = map[Status]string{
	StatusPending:    "pending",
	StatusConfirmed:  "confirmed",
	StatusInProgress: "in-progress",
	StatusCompleted:  "completed",
	StatusCancelled:  "cancelled",
}

// ActiveStatuses hold their slot against other proposals.
var ActiveStatuses = []Status{StatusPending, StatusConfirmed, StatusInProgress}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusInProgress
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func ParseStatus(v string) (Status, error) {
	for s, n := range statusNames {
		if n == v {
			return s, nil
		}
	}
	return StatusUnknown, fmt.Errorf("unknown booking status %q", v)
}

func (s Status) MarshalText() ([]byte, error) {
	if _, ok := statusNames[s]; !ok {
		return nil, fmt.Errorf("cannot marshal %s", s)
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Event drives the booking state machine.
type Event uint8

const (
	EventReserved Event = iota + 1
	EventCallStarted
	EventSettled
	EventCancel
)

func (e Event) String() string {
	switch e {
	case EventReserved:
		return "escrow_reserved"
	case EventCallStarted:
		return "call_started"
	case EventSettled:
		return "settled"
	case EventCancel:
		return "cancel"
	default:
		return fmt.Sprintf("event(%d)", uint8(e))
	}
}

var transitions = map[Status]map[Event]Status{
	StatusPending: {
		EventReserved: StatusConfirmed,
		EventCancel:   StatusCancelled,
	},
	StatusConfirmed: {
		EventCallStarted: StatusInProgress,
		EventCancel:      StatusCancelled,
	},
	StatusInProgress: {
		EventSettled: StatusCompleted,
	},
}

// Next returns the state reached from s on ev, or ErrInvalidTransition.
func Next(s Status, ev Event) (Status, error) {
	if to, ok := transitions[s][ev]; ok {
		return to, nil
	}
	return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, s)
}
