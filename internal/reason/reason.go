// Package reason carries the stable rejection codes surfaced to callers.
//
// Domain packages declare their sentinel errors with New so that every
// rejection, however deeply wrapped, can be mapped back to a code and a
// kind. The kind tells the caller whether to retry, change input or give up.
package reason

import (
	"errors"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindResource
	KindTransient
	KindInvariant
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindResource:
		return "resource"
	case KindTransient:
		return "transient"
	case KindInvariant:
		return "invariant"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

type Code string

const (
	CodePastSlot            Code = "past_slot"
	CodeOutsideAvailability Code = "outside_availability"
	CodeInvalidDuration     Code = "invalid_duration"
	CodeInvalidWindow       Code = "invalid_availability_window"
	CodeSlotConflict        Code = "slot_conflict"
	CodeAlreadyStarted      Code = "already_started"
	CodeAlreadyStopped      Code = "already_stopped"
	CodeNotStarted          Code = "not_started"
	CodeNotConfirmed        Code = "not_confirmed"
	CodeInvalidTransition   Code = "invalid_transition"
	CodeNotSettleable       Code = "not_settleable"
	CodeReservationState    Code = "invalid_reservation_state"
	CodeInvalidAmount       Code = "invalid_amount"
	CodeInsufficientFunds   Code = "insufficient_funds"
	CodeRailUnavailable     Code = "rail_unavailable"
	CodeBusy                Code = "resource_busy"
	CodeInvariantViolation  Code = "invariant_violation"
	CodeNotFound            Code = "not_found"
	CodeInternal            Code = "internal_error"
)

// Error is a rejection with a stable code. Sentinels are compared by identity.
type Error struct {
	Code Code
	Kind Kind
	msg  string
}

func New(code Code, kind Kind, msg string) *Error {
	return &Error{Code: code, Kind: kind, msg: msg}
}

func (e *Error) Error() string {
	return e.msg
}

// CodeOf returns the code of the first reason.Error in err's chain.
func CodeOf(err error) Code {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	return CodeInternal
}

// KindOf returns the kind of the first reason.Error in err's chain.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindInternal
}

// Retryable reports whether the caller may retry the same request unchanged.
func Retryable(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}
