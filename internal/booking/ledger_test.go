package booking

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/consultation-escrow/internal/clock"
	"github.com/hackgods/consultation-escrow/internal/reason"
	"github.com/hackgods/consultation-escrow/internal/scheduler"
)

type MockRepo struct{ mock.Mock }

func (m *MockRepo) Insert(ctx context.Context, b *Booking) (*Booking, error) {
	args := m.Called(ctx, b)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Booking), args.Error(1)
}

func (m *MockRepo) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Booking), args.Error(1)
}

func (m *MockRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, upd Update) (*Booking, error) {
	args := m.Called(ctx, id, from, to, upd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Booking), args.Error(1)
}

func (m *MockRepo) ActiveIntervals(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]scheduler.Interval, error) {
	args := m.Called(ctx, providerID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]scheduler.Interval), args.Error(1)
}

func (m *MockRepo) ListPendingCreatedBefore(ctx context.Context, before time.Time) ([]Booking, error) {
	args := m.Called(ctx, before)
	return args.Get(0).([]Booking), args.Error(1)
}

func (m *MockRepo) ListConfirmedStartingBefore(ctx context.Context, before time.Time) ([]Booking, error) {
	args := m.Called(ctx, before)
	return args.Get(0).([]Booking), args.Error(1)
}

func (m *MockRepo) ListInProgress(ctx context.Context) ([]Booking, error) {
	args := m.Called(ctx)
	return args.Get(0).([]Booking), args.Error(1)
}

func (m *MockRepo) InsertEvent(ctx context.Context, ev EventLog) error {
	return m.Called(ctx, ev).Error(0)
}

var now = time.Date(2030, 1, 6, 12, 0, 0, 0, time.UTC)

func newLedger(repo *MockRepo) *Ledger {
	return NewLedger(repo, clock.NewManual(now), zap.NewNop())
}

func TestNextTransitions(t *testing.T) {
	tests := []struct {
		from Status
		ev   Event
		want Status
		ok   bool
	}{
		{StatusPending, EventReserved, StatusConfirmed, true},
		{StatusPending, EventCancel, StatusCancelled, true},
		{StatusPending, EventCallStarted, StatusPending, false},
		{StatusConfirmed, EventCallStarted, StatusInProgress, true},
		{StatusConfirmed, EventCancel, StatusCancelled, true},
		{StatusConfirmed, EventSettled, StatusConfirmed, false},
		{StatusInProgress, EventSettled, StatusCompleted, true},
		{StatusInProgress, EventCancel, StatusInProgress, false},
		{StatusCompleted, EventCancel, StatusCompleted, false},
		{StatusCompleted, EventSettled, StatusCompleted, false},
		{StatusCancelled, EventReserved, StatusCancelled, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+tt.ev.String(), func(t *testing.T) {
			got, err := Next(tt.from, tt.ev)
			assert.Equal(t, tt.want, got)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, reason.CodeInvalidTransition, reason.CodeOf(err))
			}
		})
	}
}

func TestStatusTextRoundTrip(t *testing.T) {
	data, err := json.Marshal(StatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, `"in-progress"`, string(data))

	var s Status
	require.NoError(t, json.Unmarshal([]byte(`"cancelled"`), &s))
	assert.Equal(t, StatusCancelled, s)

	assert.Error(t, json.Unmarshal([]byte(`"archived"`), &s))
	_, err = json.Marshal(StatusUnknown)
	assert.Error(t, err)
}

func TestCreateInsertsPending(t *testing.T) {
	repo := &MockRepo{}
	l := newLedger(repo)
	slot := NewSlot{
		PayerID:       uuid.New(),
		ProviderID:    uuid.New(),
		Start:         now.Add(time.Hour),
		End:           now.Add(time.Hour + 20*time.Minute),
		RatePerMinute: 50,
		CapAmount:     1000,
	}
	stored := &Booking{ID: uuid.New(), Status: StatusPending, CapAmount: 1000}

	repo.On("Insert", mock.Anything, mock.MatchedBy(func(b *Booking) bool {
		return b.Status == StatusPending && b.CapAmount == 1000 && b.ProviderID == slot.ProviderID &&
			b.CreatedAt.Equal(now) && b.UpdatedAt.Equal(now)
	})).Return(stored, nil)
	repo.On("InsertEvent", mock.Anything, mock.MatchedBy(func(ev EventLog) bool {
		return ev.EventType == EventBookingCreated && *ev.BookingID == stored.ID
	})).Return(nil)

	b, err := l.Create(context.Background(), slot)
	require.NoError(t, err)
	assert.Equal(t, stored, b)
	repo.AssertExpectations(t)
}

func TestCreateRejectsPastAndEmptySlots(t *testing.T) {
	repo := &MockRepo{}
	l := newLedger(repo)

	_, err := l.Create(context.Background(), NewSlot{Start: now.Add(-time.Minute), End: now.Add(time.Hour)})
	assert.ErrorIs(t, err, scheduler.ErrPastSlot)

	_, err = l.Create(context.Background(), NewSlot{Start: now.Add(time.Hour), End: now.Add(time.Hour)})
	assert.ErrorIs(t, err, scheduler.ErrInvalidDuration)

	repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestCreateSurfacesStorageConflict(t *testing.T) {
	repo := &MockRepo{}
	l := newLedger(repo)

	repo.On("Insert", mock.Anything, mock.Anything).Return(nil, scheduler.ErrSlotConflict)

	_, err := l.Create(context.Background(), NewSlot{Start: now.Add(time.Hour), End: now.Add(2 * time.Hour)})
	assert.ErrorIs(t, err, scheduler.ErrSlotConflict)
}

func TestConfirmAttachesReservation(t *testing.T) {
	repo := &MockRepo{}
	l := newLedger(repo)
	id, resID := uuid.New(), uuid.New()

	repo.On("GetByID", mock.Anything, id).Return(&Booking{ID: id, Status: StatusPending}, nil)
	repo.On("UpdateStatus", mock.Anything, id, StatusPending, StatusConfirmed, Update{ReservationID: &resID}).
		Return(&Booking{ID: id, Status: StatusConfirmed, ReservationID: &resID}, nil)
	repo.On("InsertEvent", mock.Anything, mock.Anything).Return(nil)

	b, err := l.Confirm(context.Background(), id, resID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, b.Status)
	assert.Equal(t, resID, *b.ReservationID)
}

func TestIllegalTransitionDoesNotWrite(t *testing.T) {
	repo := &MockRepo{}
	l := newLedger(repo)
	id := uuid.New()

	repo.On("GetByID", mock.Anything, id).Return(&Booking{ID: id, Status: StatusInProgress}, nil)

	_, err := l.Cancel(context.Background(), id)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestTransitionRejectsEventsThatNeedPayload(t *testing.T) {
	repo := &MockRepo{}
	l := newLedger(repo)
	id := uuid.New()

	for _, ev := range []Event{EventReserved, EventSettled} {
		_, err := l.Transition(context.Background(), id, ev)
		assert.ErrorIs(t, err, ErrInvalidTransition, ev.String())
	}
	repo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	repo.On("GetByID", mock.Anything, id).Return(&Booking{ID: id, Status: StatusPending}, nil)
	repo.On("UpdateStatus", mock.Anything, id, StatusPending, StatusCancelled, Update{}).
		Return(&Booking{ID: id, Status: StatusCancelled}, nil)
	repo.On("InsertEvent", mock.Anything, mock.Anything).Return(nil)

	b, err := l.Transition(context.Background(), id, EventCancel)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, b.Status)
}

func TestConcurrentStatusChangeIsInvalidTransition(t *testing.T) {
	repo := &MockRepo{}
	l := newLedger(repo)
	id := uuid.New()

	repo.On("GetByID", mock.Anything, id).Return(&Booking{ID: id, Status: StatusConfirmed}, nil)
	repo.On("UpdateStatus", mock.Anything, id, StatusConfirmed, StatusInProgress, Update{}).Return(nil, ErrStatusChanged)

	_, err := l.StartCall(context.Background(), id)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestEventLogFailureDoesNotFailTransition(t *testing.T) {
	repo := &MockRepo{}
	l := newLedger(repo)
	id := uuid.New()
	rec := SettlementRecord{MinutesBilled: 13, GrossCharge: 650, PlatformFee: 32, ProviderPayout: 618, RefundAmount: 350}

	repo.On("GetByID", mock.Anything, id).Return(&Booking{ID: id, Status: StatusInProgress}, nil)
	repo.On("UpdateStatus", mock.Anything, id, StatusInProgress, StatusCompleted, Update{Settlement: &rec}).
		Return(&Booking{ID: id, Status: StatusCompleted, Settlement: &rec, Cost: 650}, nil)
	repo.On("InsertEvent", mock.Anything, mock.Anything).Return(assert.AnError)

	b, err := l.Complete(context.Background(), id, rec)
	require.NoError(t, err)
	assert.Equal(t, int64(650), b.Cost)
}
