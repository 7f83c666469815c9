package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/consultation-escrow/internal/availability"
	"github.com/hackgods/consultation-escrow/internal/booking"
	"github.com/hackgods/consultation-escrow/internal/engine"
	"github.com/hackgods/consultation-escrow/internal/session"
	"github.com/hackgods/consultation-escrow/internal/settlement"
)

// Service is the engine surface the HTTP layer adapts.
type Service interface {
	RequestBooking(ctx context.Context, req engine.BookingRequest) (*booking.Booking, error)
	GetBooking(ctx context.Context, id uuid.UUID) (*booking.Booking, error)
	CancelBooking(ctx context.Context, id uuid.UUID) (*booking.Booking, error)
	RetryReservation(ctx context.Context, id uuid.UUID) (*booking.Booking, error)
	BeginCall(ctx context.Context, bookingID uuid.UUID) (*session.Session, error)
	EndCall(ctx context.Context, sessionID uuid.UUID) (settlement.Record, error)
	SetAvailability(ctx context.Context, providerID uuid.UUID, weekly availability.Weekly) error
	GetAvailability(ctx context.Context, providerID uuid.UUID) (availability.Weekly, error)
}

func urlID(w http.ResponseWriter, r *http.Request, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func createBookingHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateBookingRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}

		b, err := svc.RequestBooking(r.Context(), engine.BookingRequest{
			PayerID:    uuid.MustParse(req.PayerID),
			ProviderID: uuid.MustParse(req.ProviderID),
			SlotStart:  req.SlotStart,
			SlotEnd:    req.SlotEnd,
		})
		if err != nil {
			bookingID := ""
			if b != nil {
				bookingID = b.ID.String()
			}
			writeDomainError(w, err, bookingID)
			return
		}

		writeJSON(w, http.StatusCreated, toBookingResponse(b))
	}
}

func getBookingHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(w, r, "invalid_booking_id")
		if !ok {
			return
		}

		b, err := svc.GetBooking(r.Context(), id)
		if err != nil {
			writeDomainError(w, err, "")
			return
		}
		writeJSON(w, http.StatusOK, toBookingResponse(b))
	}
}

func cancelBookingHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(w, r, "invalid_booking_id")
		if !ok {
			return
		}

		b, err := svc.CancelBooking(r.Context(), id)
		if err != nil {
			writeDomainError(w, err, id.String())
			return
		}
		writeJSON(w, http.StatusOK, toBookingResponse(b))
	}
}

func retryReservationHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(w, r, "invalid_booking_id")
		if !ok {
			return
		}

		b, err := svc.RetryReservation(r.Context(), id)
		if err != nil {
			writeDomainError(w, err, id.String())
			return
		}
		writeJSON(w, http.StatusOK, toBookingResponse(b))
	}
}

func beginCallHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(w, r, "invalid_booking_id")
		if !ok {
			return
		}

		s, err := svc.BeginCall(r.Context(), id)
		if err != nil {
			writeDomainError(w, err, id.String())
			return
		}
		writeJSON(w, http.StatusCreated, toSessionResponse(s))
	}
}

func endCallHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(w, r, "invalid_session_id")
		if !ok {
			return
		}

		rec, err := svc.EndCall(r.Context(), id)
		if err != nil {
			writeDomainError(w, err, "")
			return
		}
		writeJSON(w, http.StatusOK, SettlementResponse{SessionID: id, Record: rec})
	}
}

func putAvailabilityHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(w, r, "invalid_provider_id")
		if !ok {
			return
		}

		var req AvailabilityRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}

		weekly, err := toWeekly(req)
		if err != nil {
			writeDomainError(w, err, "")
			return
		}

		if err := svc.SetAvailability(r.Context(), id, weekly); err != nil {
			writeDomainError(w, err, "")
			return
		}
		writeJSON(w, http.StatusOK, toAvailabilityResponse(id, weekly))
	}
}

func getAvailabilityHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(w, r, "invalid_provider_id")
		if !ok {
			return
		}

		weekly, err := svc.GetAvailability(r.Context(), id)
		if err != nil {
			writeDomainError(w, err, "")
			return
		}
		writeJSON(w, http.StatusOK, toAvailabilityResponse(id, weekly))
	}
}
