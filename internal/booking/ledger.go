package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/consultation-escrow/internal/clock"
	"github.com/hackgods/consultation-escrow/internal/metrics"
	"github.com/hackgods/consultation-escrow/internal/scheduler"
)

// Ledger is the authoritative record of booking state.
type Ledger struct {
	repo   Repository
	clock  clock.Clock
	logger *zap.Logger
}

func NewLedger(repo Repository, clk clock.Clock, logger *zap.Logger) *Ledger {
	return &Ledger{repo: repo, clock: clk, logger: logger}
}

// NewSlot is a validated request to hold a provider's time.
type NewSlot struct {
	PayerID       uuid.UUID
	ProviderID    uuid.UUID
	Start         time.Time
	End           time.Time
	RatePerMinute int64
	CapAmount     int64
}

// Create inserts a pending booking. It must run inside the provider's
// critical section, right after the scheduler accepted the slot.
func (l *Ledger) Create(ctx context.Context, slot NewSlot) (*Booking, error) {
	if !slot.End.After(slot.Start) {
		return nil, scheduler.ErrInvalidDuration
	}
	now := l.clock.Now()
	if !slot.Start.After(now) {
		return nil, scheduler.ErrPastSlot
	}

	// Stale-pending expiry compares created_at against the same clock.
	created, err := l.repo.Insert(ctx, &Booking{
		PayerID:       slot.PayerID,
		ProviderID:    slot.ProviderID,
		SlotStart:     slot.Start,
		SlotEnd:       slot.End,
		Status:        StatusPending,
		RatePerMinute: slot.RatePerMinute,
		CapAmount:     slot.CapAmount,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		if errors.Is(err, scheduler.ErrSlotConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("create booking: %w", err)
	}

	l.logEvent(ctx, created.ID, EventBookingCreated, map[string]any{
		"payer_id":    slot.PayerID.String(),
		"provider_id": slot.ProviderID.String(),
		"slot_start":  slot.Start,
		"slot_end":    slot.End,
		"cap_amount":  slot.CapAmount,
	})

	return created, nil
}

func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return l.repo.GetByID(ctx, id)
}

// ActiveIntervals exposes the ledger as the scheduler's occupancy source.
func (l *Ledger) ActiveIntervals(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]scheduler.Interval, error) {
	return l.repo.ActiveIntervals(ctx, providerID, from, to)
}

// Transition applies ev to the booking. Illegal transitions fail with
// ErrInvalidTransition and leave the booking untouched. EventReserved and
// EventSettled carry data and only go through Confirm and Complete.
func (l *Ledger) Transition(ctx context.Context, id uuid.UUID, ev Event) (*Booking, error) {
	return l.apply(ctx, id, ev, Update{})
}

// Confirm records the escrow reservation and moves pending -> confirmed.
func (l *Ledger) Confirm(ctx context.Context, id, reservationID uuid.UUID) (*Booking, error) {
	return l.apply(ctx, id, EventReserved, Update{ReservationID: &reservationID})
}

func (l *Ledger) StartCall(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return l.apply(ctx, id, EventCallStarted, Update{})
}

// Complete moves in-progress -> completed and attaches the settlement record.
func (l *Ledger) Complete(ctx context.Context, id uuid.UUID, rec SettlementRecord) (*Booking, error) {
	return l.apply(ctx, id, EventSettled, Update{Settlement: &rec})
}

func (l *Ledger) Cancel(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return l.apply(ctx, id, EventCancel, Update{})
}

func (l *Ledger) ListStalePending(ctx context.Context, before time.Time) ([]Booking, error) {
	return l.repo.ListPendingCreatedBefore(ctx, before)
}

func (l *Ledger) ListUnstarted(ctx context.Context, slotStartBefore time.Time) ([]Booking, error) {
	return l.repo.ListConfirmedStartingBefore(ctx, slotStartBefore)
}

func (l *Ledger) ListInProgress(ctx context.Context) ([]Booking, error) {
	return l.repo.ListInProgress(ctx)
}

func (l *Ledger) apply(ctx context.Context, id uuid.UUID, ev Event, upd Update) (*Booking, error) {
	if err := checkPayload(ev, upd); err != nil {
		return nil, err
	}

	current, err := l.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load booking: %w", err)
	}

	next, err := Next(current.Status, ev)
	if err != nil {
		return nil, err
	}

	updated, err := l.repo.UpdateStatus(ctx, id, current.Status, next, upd)
	if err != nil {
		if errors.Is(err, ErrStatusChanged) {
			return nil, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, current.Status)
		}
		return nil, fmt.Errorf("update booking status: %w", err)
	}

	metrics.RecordTransition(current.Status.String(), next.String())
	l.logEvent(ctx, id, eventTypeFor(next), transitionPayload(current.Status, upd))

	return updated, nil
}

// checkPayload keeps a booking from reaching confirmed without its
// reservation or completed without its settlement record.
func checkPayload(ev Event, upd Update) error {
	switch {
	case ev == EventReserved && upd.ReservationID == nil:
		return fmt.Errorf("%w: %s without reservation", ErrInvalidTransition, ev)
	case ev == EventSettled && upd.Settlement == nil:
		return fmt.Errorf("%w: %s without settlement record", ErrInvalidTransition, ev)
	}
	return nil
}

func eventTypeFor(s Status) string {
	switch s {
	case StatusConfirmed:
		return EventBookingConfirmed
	case StatusInProgress:
		return EventCallBegan
	case StatusCompleted:
		return EventBookingCompleted
	case StatusCancelled:
		return EventBookingCancelled
	default:
		return EventBookingCreated
	}
}

func transitionPayload(from Status, upd Update) map[string]any {
	payload := map[string]any{"from": from.String()}
	if upd.ReservationID != nil {
		payload["reservation_id"] = upd.ReservationID.String()
	}
	if upd.Settlement != nil {
		payload["settlement"] = upd.Settlement
	}
	return payload
}

func (l *Ledger) logEvent(ctx context.Context, bookingID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		l.logger.Warn("failed to marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	id := bookingID
	ev := EventLog{
		EventType: eventType,
		BookingID: &id,
		Payload:   data,
		CreatedAt: l.clock.Now(),
	}

	if err := l.repo.InsertEvent(ctx, ev); err != nil {
		l.logger.Warn("failed to insert event log",
			zap.String("event", eventType),
			zap.Stringer("booking_id", bookingID),
			zap.Error(err))
	}
}
