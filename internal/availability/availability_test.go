package availability

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWeeklyValidate(t *testing.T) {
	tests := []struct {
		name    string
		weekly  Weekly
		wantErr bool
	}{
		{"empty week", Weekly{}, false},
		{"office hours", Weekly{time.Monday: {9 * 60, 17 * 60}}, false},
		{"until midnight", Weekly{time.Friday: {20 * 60, MinutesPerDay}}, false},
		{"start equals end", Weekly{time.Monday: {600, 600}}, true},
		{"start after end", Weekly{time.Monday: {700, 600}}, true},
		{"negative start", Weekly{time.Monday: {-1, 600}}, true},
		{"past midnight", Weekly{time.Monday: {600, MinutesPerDay + 1}}, true},
		{"bad weekday", Weekly{time.Weekday(9): {600, 700}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.weekly.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidWindow)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseWeekdayAndClock(t *testing.T) {
	d, err := ParseWeekday("Mon")
	require.NoError(t, err)
	assert.Equal(t, time.Monday, d)

	d, err = ParseWeekday("saturday")
	require.NoError(t, err)
	assert.Equal(t, time.Saturday, d)

	_, err = ParseWeekday("someday")
	assert.ErrorIs(t, err, ErrInvalidWindow)

	m, err := ParseClock("09:30")
	require.NoError(t, err)
	assert.Equal(t, 570, m)

	m, err = ParseClock("24:00")
	require.NoError(t, err)
	assert.Equal(t, MinutesPerDay, m)

	_, err = ParseClock("9am")
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

type mockStore struct{ mock.Mock }

func (m *mockStore) GetWeeklyWindow(ctx context.Context, providerID uuid.UUID, day time.Weekday) (Window, bool, error) {
	args := m.Called(ctx, providerID, day)
	return args.Get(0).(Window), args.Bool(1), args.Error(2)
}

func (m *mockStore) GetWeekly(ctx context.Context, providerID uuid.UUID) (Weekly, error) {
	args := m.Called(ctx, providerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(Weekly), args.Error(1)
}

func (m *mockStore) Replace(ctx context.Context, providerID uuid.UUID, weekly Weekly) error {
	return m.Called(ctx, providerID, weekly).Error(0)
}

func (m *mockStore) RatePerMinute(ctx context.Context, providerID uuid.UUID) (int64, error) {
	args := m.Called(ctx, providerID)
	return args.Get(0).(int64), args.Error(1)
}

func TestCachedStoreHit(t *testing.T) {
	db, rmock := redismock.NewClientMock()
	next := &mockStore{}
	providerID := uuid.New()
	weekly := Weekly{time.Monday: {540, 1020}}
	data, _ := json.Marshal(weekly)

	rmock.ExpectGet(cacheKey(providerID)).SetVal(string(data))

	c := NewCachedStore(next, db, time.Minute, zap.NewNop())
	w, ok, err := c.GetWeeklyWindow(context.Background(), providerID, time.Monday)

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Window{540, 1020}, w)
	next.AssertNotCalled(t, "GetWeekly", mock.Anything, mock.Anything)
	assert.NoError(t, rmock.ExpectationsWereMet())
}

func TestCachedStoreMissFillsCache(t *testing.T) {
	db, rmock := redismock.NewClientMock()
	next := &mockStore{}
	providerID := uuid.New()
	weekly := Weekly{time.Tuesday: {600, 660}}
	data, _ := json.Marshal(weekly)

	rmock.ExpectGet(cacheKey(providerID)).RedisNil()
	rmock.ExpectSet(cacheKey(providerID), data, time.Minute).SetVal("OK")
	next.On("GetWeekly", mock.Anything, providerID).Return(weekly, nil).Once()

	c := NewCachedStore(next, db, time.Minute, zap.NewNop())
	_, ok, err := c.GetWeeklyWindow(context.Background(), providerID, time.Monday)

	require.NoError(t, err)
	assert.False(t, ok)
	next.AssertExpectations(t)
	assert.NoError(t, rmock.ExpectationsWereMet())
}

func TestCachedStoreReplaceInvalidates(t *testing.T) {
	db, rmock := redismock.NewClientMock()
	next := &mockStore{}
	providerID := uuid.New()
	weekly := Weekly{time.Monday: {540, 1020}}

	next.On("Replace", mock.Anything, providerID, weekly).Return(nil).Once()
	rmock.ExpectDel(cacheKey(providerID)).SetVal(1)

	c := NewCachedStore(next, db, time.Minute, zap.NewNop())
	require.NoError(t, c.Replace(context.Background(), providerID, weekly))

	next.AssertExpectations(t)
	assert.NoError(t, rmock.ExpectationsWereMet())
}
