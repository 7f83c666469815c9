package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/consultation-escrow/internal/availability"
	"github.com/hackgods/consultation-escrow/internal/booking"
	"github.com/hackgods/consultation-escrow/internal/engine"
	"github.com/hackgods/consultation-escrow/internal/escrow"
	"github.com/hackgods/consultation-escrow/internal/scheduler"
	"github.com/hackgods/consultation-escrow/internal/session"
	"github.com/hackgods/consultation-escrow/internal/settlement"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) RequestBooking(ctx context.Context, req engine.BookingRequest) (*booking.Booking, error) {
	args := m.Called(ctx, req)
	b, _ := args.Get(0).(*booking.Booking)
	return b, args.Error(1)
}

func (m *mockService) GetBooking(ctx context.Context, id uuid.UUID) (*booking.Booking, error) {
	args := m.Called(ctx, id)
	b, _ := args.Get(0).(*booking.Booking)
	return b, args.Error(1)
}

func (m *mockService) CancelBooking(ctx context.Context, id uuid.UUID) (*booking.Booking, error) {
	args := m.Called(ctx, id)
	b, _ := args.Get(0).(*booking.Booking)
	return b, args.Error(1)
}

func (m *mockService) RetryReservation(ctx context.Context, id uuid.UUID) (*booking.Booking, error) {
	args := m.Called(ctx, id)
	b, _ := args.Get(0).(*booking.Booking)
	return b, args.Error(1)
}

func (m *mockService) BeginCall(ctx context.Context, bookingID uuid.UUID) (*session.Session, error) {
	args := m.Called(ctx, bookingID)
	s, _ := args.Get(0).(*session.Session)
	return s, args.Error(1)
}

func (m *mockService) EndCall(ctx context.Context, sessionID uuid.UUID) (settlement.Record, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).(settlement.Record), args.Error(1)
}

func (m *mockService) SetAvailability(ctx context.Context, providerID uuid.UUID, weekly availability.Weekly) error {
	return m.Called(ctx, providerID, weekly).Error(0)
}

func (m *mockService) GetAvailability(ctx context.Context, providerID uuid.UUID) (availability.Weekly, error) {
	args := m.Called(ctx, providerID)
	w, _ := args.Get(0).(availability.Weekly)
	return w, args.Error(1)
}

func newTestRouter(svc Service) http.Handler {
	return NewRouter(RouterConfig{
		Service: svc,
		Health:  NewHealthHandler(nil, nil, "test", "dev"),
		Logger:  zap.NewNop(),
	})
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		switch v := body.(type) {
		case string:
			buf.WriteString(v)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(v))
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func sampleBooking(status booking.Status) *booking.Booking {
	start := time.Date(2030, 1, 7, 9, 0, 0, 0, time.UTC)
	return &booking.Booking{
		ID:            uuid.New(),
		PayerID:       uuid.New(),
		ProviderID:    uuid.New(),
		SlotStart:     start,
		SlotEnd:       start.Add(30 * time.Minute),
		Status:        status,
		RatePerMinute: 50,
		CapAmount:     1500,
	}
}

func TestCreateBooking(t *testing.T) {
	svc := new(mockService)
	b := sampleBooking(booking.StatusConfirmed)

	svc.On("RequestBooking", mock.Anything, engine.BookingRequest{
		PayerID:    b.PayerID,
		ProviderID: b.ProviderID,
		SlotStart:  b.SlotStart,
		SlotEnd:    b.SlotEnd,
	}).Return(b, nil)

	rec := do(t, newTestRouter(svc), http.MethodPost, "/bookings", map[string]any{
		"payer_id":    b.PayerID,
		"provider_id": b.ProviderID,
		"slot_start":  b.SlotStart,
		"slot_end":    b.SlotEnd,
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp BookingResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, b.ID, resp.ID)
	assert.Equal(t, booking.StatusConfirmed, resp.Status)
	assert.Equal(t, int64(1500), resp.CapAmount)
	svc.AssertExpectations(t)
}

func TestCreateBookingRejectsBadBody(t *testing.T) {
	svc := new(mockService)
	h := newTestRouter(svc)

	tests := []struct {
		name string
		body any
		code string
	}{
		{"malformed json", "{", "invalid_request_body"},
		{"unknown field", `{"payer_id":"x","extra":1}`, "invalid_request_body"},
		{"missing payer", map[string]any{
			"provider_id": uuid.New(),
			"slot_start":  time.Now(),
			"slot_end":    time.Now().Add(time.Hour),
		}, "validation_failed"},
		{"bad uuid", map[string]any{
			"payer_id":    "nope",
			"provider_id": uuid.New(),
			"slot_start":  time.Now(),
			"slot_end":    time.Now().Add(time.Hour),
		}, "validation_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/bookings", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Error)
		})
	}
	svc.AssertNotCalled(t, "RequestBooking", mock.Anything, mock.Anything)
}

func TestCreateBookingMapsDomainErrors(t *testing.T) {
	tests := []struct {
		err        error
		status     int
		code       string
		retryAfter bool
	}{
		{scheduler.ErrPastSlot, http.StatusUnprocessableEntity, "past_slot", false},
		{scheduler.ErrOutsideAvailability, http.StatusUnprocessableEntity, "outside_availability", false},
		{scheduler.ErrSlotConflict, http.StatusConflict, "slot_conflict", false},
		{escrow.ErrInsufficientFunds, http.StatusPaymentRequired, "insufficient_funds", false},
		{fmt.Errorf("hold: %w", escrow.ErrRailUnavailable), http.StatusServiceUnavailable, "rail_unavailable", true},
		{errors.New("pool exhausted"), http.StatusInternalServerError, "internal_error", false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			svc := new(mockService)
			svc.On("RequestBooking", mock.Anything, mock.Anything).Return(nil, tt.err)

			rec := do(t, newTestRouter(svc), http.MethodPost, "/bookings", map[string]any{
				"payer_id":    uuid.New(),
				"provider_id": uuid.New(),
				"slot_start":  time.Now(),
				"slot_end":    time.Now().Add(time.Hour),
			})

			assert.Equal(t, tt.status, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tt.code, resp.Error)
			if tt.status == http.StatusInternalServerError {
				assert.Equal(t, "internal error", resp.Details)
			}
			assert.Equal(t, tt.retryAfter, rec.Header().Get("Retry-After") != "")
		})
	}
}

func TestCreateBookingReportsBookingOnFailure(t *testing.T) {
	svc := new(mockService)
	b := sampleBooking(booking.StatusCancelled)
	svc.On("RequestBooking", mock.Anything, mock.Anything).Return(b, escrow.ErrInsufficientFunds)

	rec := do(t, newTestRouter(svc), http.MethodPost, "/bookings", map[string]any{
		"payer_id":    b.PayerID,
		"provider_id": b.ProviderID,
		"slot_start":  b.SlotStart,
		"slot_end":    b.SlotEnd,
	})

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, b.ID.String(), decodeError(t, rec).BookingID)
}

func TestGetBooking(t *testing.T) {
	svc := new(mockService)
	b := sampleBooking(booking.StatusPending)
	svc.On("GetBooking", mock.Anything, b.ID).Return(b, nil)
	missing := uuid.New()
	svc.On("GetBooking", mock.Anything, missing).Return(nil, booking.ErrBookingNotFound)
	h := newTestRouter(svc)

	rec := do(t, h, http.MethodGet, "/bookings/"+b.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "pending", resp["status"])

	rec = do(t, h, http.MethodGet, "/bookings/"+missing.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/bookings/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_booking_id", decodeError(t, rec).Error)
}

func TestCancelAndRetryReservation(t *testing.T) {
	svc := new(mockService)
	cancelled := sampleBooking(booking.StatusCancelled)
	svc.On("CancelBooking", mock.Anything, cancelled.ID).Return(cancelled, nil)
	confirmed := sampleBooking(booking.StatusConfirmed)
	svc.On("RetryReservation", mock.Anything, confirmed.ID).Return(confirmed, nil)
	done := uuid.New()
	svc.On("CancelBooking", mock.Anything, done).Return(nil, booking.ErrInvalidTransition)
	h := newTestRouter(svc)

	rec := do(t, h, http.MethodPost, "/bookings/"+cancelled.ID.String()+"/cancel", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/bookings/"+confirmed.ID.String()+"/reserve", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/bookings/"+done.String()+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "invalid_transition", resp.Error)
	assert.Equal(t, done.String(), resp.BookingID)
	svc.AssertExpectations(t)
}

func TestBeginAndEndCall(t *testing.T) {
	svc := new(mockService)
	bookingID := uuid.New()
	started := time.Date(2030, 1, 7, 9, 0, 0, 0, time.UTC)
	s := &session.Session{ID: uuid.New(), BookingID: bookingID, StartedAt: started}
	svc.On("BeginCall", mock.Anything, bookingID).Return(s, nil)

	rec := settlement.Record{MinutesBilled: 13, GrossCharge: 650, PlatformFee: 32, ProviderPayout: 618, RefundAmount: 350}
	svc.On("EndCall", mock.Anything, s.ID).Return(rec, nil)
	h := newTestRouter(svc)

	resp := do(t, h, http.MethodPost, "/bookings/"+bookingID.String()+"/calls", nil)
	require.Equal(t, http.StatusCreated, resp.Code)
	var sr SessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sr))
	assert.Equal(t, s.ID, sr.ID)
	assert.Nil(t, sr.EndedAt)

	resp = do(t, h, http.MethodPost, "/sessions/"+s.ID.String()+"/end", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var settled SettlementResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&settled))
	assert.Equal(t, rec, settled.Record)
	assert.Equal(t, s.ID, settled.SessionID)
}

func TestBeginCallConflicts(t *testing.T) {
	svc := new(mockService)
	pending := uuid.New()
	svc.On("BeginCall", mock.Anything, pending).Return(nil, session.ErrNotConfirmed)
	started := uuid.New()
	svc.On("BeginCall", mock.Anything, started).Return(nil, session.ErrAlreadyStarted)
	h := newTestRouter(svc)

	rec := do(t, h, http.MethodPost, "/bookings/"+pending.String()+"/calls", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not_confirmed", decodeError(t, rec).Error)

	rec = do(t, h, http.MethodPost, "/bookings/"+started.String()+"/calls", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_started", decodeError(t, rec).Error)
}

func TestEndCallUnknownSession(t *testing.T) {
	svc := new(mockService)
	id := uuid.New()
	svc.On("EndCall", mock.Anything, id).Return(settlement.Record{}, session.ErrNotStarted)

	rec := do(t, newTestRouter(svc), http.MethodPost, "/sessions/"+id.String()+"/end", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not_started", decodeError(t, rec).Error)
}

func TestAvailabilityRoundTrip(t *testing.T) {
	svc := new(mockService)
	providerID := uuid.New()
	want := availability.Weekly{
		time.Monday:  {StartMinute: 9 * 60, EndMinute: 17 * 60},
		time.Tuesday: {StartMinute: 8*60 + 30, EndMinute: 24 * 60},
	}
	svc.On("SetAvailability", mock.Anything, providerID, want).Return(nil)
	svc.On("GetAvailability", mock.Anything, providerID).Return(want, nil)
	h := newTestRouter(svc)

	rec := do(t, h, http.MethodPut, "/providers/"+providerID.String()+"/availability", map[string]any{
		"windows": map[string]any{
			"monday":  map[string]string{"start": "09:00", "end": "17:00"},
			"Tuesday": map[string]string{"start": "08:30", "end": "24:00"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/providers/"+providerID.String()+"/availability", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp AvailabilityResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, WindowDTO{Start: "09:00", End: "17:00"}, resp.Windows["monday"])
	assert.Equal(t, WindowDTO{Start: "08:30", End: "24:00"}, resp.Windows["tuesday"])
	svc.AssertExpectations(t)
}

func TestAvailabilityRejectsBadWindows(t *testing.T) {
	svc := new(mockService)
	providerID := uuid.New()
	svc.On("SetAvailability", mock.Anything, providerID, mock.Anything).Return(availability.ErrInvalidWindow)
	h := newTestRouter(svc)
	path := "/providers/" + providerID.String() + "/availability"

	rec := do(t, h, http.MethodPut, path, map[string]any{
		"windows": map[string]any{"funday": map[string]string{"start": "09:00", "end": "17:00"}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_availability_window", decodeError(t, rec).Error)

	rec = do(t, h, http.MethodPut, path, map[string]any{
		"windows": map[string]any{"monday": map[string]string{"start": "9am", "end": "17:00"}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodPut, path, map[string]any{
		"windows": map[string]any{"monday": map[string]string{"start": "17:00", "end": "09:00"}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	svc.AssertNumberOfCalls(t, "SetAvailability", 1)
}

func TestHealthEndpoints(t *testing.T) {
	down := PingFunc(func(context.Context) error { return errors.New("refused") })
	up := PingFunc(func(context.Context) error { return nil })

	tests := []struct {
		name     string
		postgres Pinger
		redis    Pinger
		status   int
		want     string
	}{
		{"all up", up, up, http.StatusOK, "ok"},
		{"redis down", up, down, http.StatusOK, "degraded"},
		{"postgres down", down, up, http.StatusServiceUnavailable, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouter(RouterConfig{
				Service: new(mockService),
				Health:  NewHealthHandler(tt.postgres, tt.redis, "test", "dev"),
				Logger:  zap.NewNop(),
			})

			rec := do(t, h, http.MethodGet, "/health/ready", nil)
			assert.Equal(t, tt.status, rec.Code)
			var resp ReadinessResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.want, resp.Status)
		})
	}

	rec := do(t, newTestRouter(new(mockService)), http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	svc := new(mockService)
	id := uuid.New()
	svc.On("GetBooking", mock.Anything, id).Return(sampleBooking(booking.StatusPending), nil)

	h := NewRouter(RouterConfig{
		Service:     svc,
		Health:      NewHealthHandler(nil, nil, "test", "dev"),
		Logger:      zap.NewNop(),
		RateLimiter: NewRateLimiter(0.001, 2, time.Minute),
	})

	for i := 0; i < 2; i++ {
		rec := do(t, h, http.MethodGet, "/bookings/"+id.String(), nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	rec := do(t, h, http.MethodGet, "/bookings/"+id.String(), nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	rec = do(t, h, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDPropagates(t *testing.T) {
	h := newTestRouter(new(mockService))

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))

	rec = do(t, h, http.MethodGet, "/health/live", nil)
	_, err := uuid.Parse(rec.Header().Get("X-Request-ID"))
	assert.NoError(t, err)
}
