package api

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/consultation-escrow/internal/availability"
	"github.com/hackgods/consultation-escrow/internal/booking"
	"github.com/hackgods/consultation-escrow/internal/session"
	"github.com/hackgods/consultation-escrow/internal/settlement"
)

type CreateBookingRequest struct {
	PayerID    string    `json:"payer_id" validate:"required,uuid"`
	ProviderID string    `json:"provider_id" validate:"required,uuid"`
	SlotStart  time.Time `json:"slot_start" validate:"required"`
	SlotEnd    time.Time `json:"slot_end" validate:"required"`
}

type BookingResponse struct {
	ID            uuid.UUID                 `json:"id"`
	PayerID       uuid.UUID                 `json:"payer_id"`
	ProviderID    uuid.UUID                 `json:"provider_id"`
	SlotStart     time.Time                 `json:"slot_start"`
	SlotEnd       time.Time                 `json:"slot_end"`
	Status        booking.Status            `json:"status"`
	ReservationID *uuid.UUID                `json:"reservation_id,omitempty"`
	RatePerMinute int64                     `json:"rate_per_minute"`
	CapAmount     int64                     `json:"cap_amount"`
	Cost          int64                     `json:"cost"`
	Settlement    *booking.SettlementRecord `json:"settlement,omitempty"`
	CreatedAt     time.Time                 `json:"created_at"`
	UpdatedAt     time.Time                 `json:"updated_at"`
}

func toBookingResponse(b *booking.Booking) BookingResponse {
	return BookingResponse{
		ID:            b.ID,
		PayerID:       b.PayerID,
		ProviderID:    b.ProviderID,
		SlotStart:     b.SlotStart,
		SlotEnd:       b.SlotEnd,
		Status:        b.Status,
		ReservationID: b.ReservationID,
		RatePerMinute: b.RatePerMinute,
		CapAmount:     b.CapAmount,
		Cost:          b.Cost,
		Settlement:    b.Settlement,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

type SessionResponse struct {
	ID        uuid.UUID  `json:"id"`
	BookingID uuid.UUID  `json:"booking_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

func toSessionResponse(s *session.Session) SessionResponse {
	return SessionResponse{
		ID:        s.ID,
		BookingID: s.BookingID,
		StartedAt: s.StartedAt,
		EndedAt:   s.EndedAt,
	}
}

type SettlementResponse struct {
	SessionID uuid.UUID         `json:"session_id"`
	Record    settlement.Record `json:"settlement"`
}

// WindowDTO is one weekday's hours as "HH:MM" strings; end may be "24:00".
type WindowDTO struct {
	Start string `json:"start" validate:"required"`
	End   string `json:"end" validate:"required"`
}

type AvailabilityRequest struct {
	Windows map[string]WindowDTO `json:"windows" validate:"required,dive"`
}

type AvailabilityResponse struct {
	ProviderID uuid.UUID            `json:"provider_id"`
	Windows    map[string]WindowDTO `json:"windows"`
}

func toWeekly(req AvailabilityRequest) (availability.Weekly, error) {
	weekly := make(availability.Weekly, len(req.Windows))
	for name, w := range req.Windows {
		day, err := availability.ParseWeekday(name)
		if err != nil {
			return nil, err
		}
		start, err := availability.ParseClock(w.Start)
		if err != nil {
			return nil, err
		}
		end, err := availability.ParseClock(w.End)
		if err != nil {
			return nil, err
		}
		weekly[day] = availability.Window{StartMinute: start, EndMinute: end}
	}
	return weekly, nil
}

func toAvailabilityResponse(providerID uuid.UUID, weekly availability.Weekly) AvailabilityResponse {
	windows := make(map[string]WindowDTO, len(weekly))
	for day, w := range weekly {
		windows[strings.ToLower(day.String())] = WindowDTO{
			Start: availability.FormatClock(w.StartMinute),
			End:   availability.FormatClock(w.EndMinute),
		}
	}
	return AvailabilityResponse{ProviderID: providerID, Windows: windows}
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	BookingID string `json:"booking_id,omitempty"`
}
