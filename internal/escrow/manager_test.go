package escrow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/consultation-escrow/internal/clock"
	"github.com/hackgods/consultation-escrow/internal/escrow"
	"github.com/hackgods/consultation-escrow/internal/lock"
	"github.com/hackgods/consultation-escrow/internal/memstore"
	"github.com/hackgods/consultation-escrow/internal/reason"
)

type fixture struct {
	mgr   *escrow.Manager
	rail  *memstore.Rail
	repo  *memstore.Reservations
	payer uuid.UUID
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	clk := clock.NewManual(time.Date(2030, 1, 7, 8, 0, 0, 0, time.UTC))
	rail := memstore.NewRail(10_000)
	repo := memstore.NewReservations(clk)
	return fixture{
		mgr:   escrow.NewManager(repo, rail, lock.NewLocal(), clk, zap.NewNop()),
		rail:  rail,
		repo:  repo,
		payer: uuid.New(),
	}
}

func TestReserveHoldsExactCap(t *testing.T) {
	f := newFixture(t)
	bookingID := uuid.New()

	res, err := f.mgr.Reserve(context.Background(), f.payer, uuid.New(), bookingID, 1000)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusReserved, res.Status)
	assert.Equal(t, int64(1000), res.CapAmount)
	assert.Equal(t, int64(9_000), f.rail.BalanceOf(f.payer))

	hold, ok := f.rail.HoldFor(res.HoldID)
	require.True(t, ok)
	assert.Equal(t, int64(1000), hold.Amount)
}

func TestReserveIsIdempotentPerBooking(t *testing.T) {
	f := newFixture(t)
	bookingID := uuid.New()

	first, err := f.mgr.Reserve(context.Background(), f.payer, uuid.New(), bookingID, 1000)
	require.NoError(t, err)
	second, err := f.mgr.Reserve(context.Background(), f.payer, uuid.New(), bookingID, 1000)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, f.rail.Calls("hold"))
	assert.Equal(t, int64(9_000), f.rail.BalanceOf(f.payer))
}

func TestReserveRejections(t *testing.T) {
	f := newFixture(t)

	_, err := f.mgr.Reserve(context.Background(), f.payer, uuid.New(), uuid.New(), 0)
	assert.ErrorIs(t, err, escrow.ErrInvalidAmount)

	f.rail.SetBalance(f.payer, 500)
	_, err = f.mgr.Reserve(context.Background(), f.payer, uuid.New(), uuid.New(), 1000)
	assert.ErrorIs(t, err, escrow.ErrInsufficientFunds)
	assert.Equal(t, reason.KindResource, reason.KindOf(err))
	assert.False(t, reason.Retryable(err))

	f.rail.FailNext(1)
	_, err = f.mgr.Reserve(context.Background(), f.payer, uuid.New(), uuid.New(), 100)
	assert.ErrorIs(t, err, escrow.ErrRailUnavailable)
	assert.True(t, reason.Retryable(err))
}

func TestSettleCapturesAndReleases(t *testing.T) {
	f := newFixture(t)
	res, err := f.mgr.Reserve(context.Background(), f.payer, uuid.New(), uuid.New(), 1000)
	require.NoError(t, err)

	out, err := f.mgr.Settle(context.Background(), res.ID, 650)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusCaptured, out.Status)
	assert.Equal(t, int64(650), out.CapturedAmount)
	assert.Equal(t, int64(350), out.ReleasedAmount)
	assert.Equal(t, out.CapAmount, out.CapturedAmount+out.ReleasedAmount)
	assert.Equal(t, int64(9_350), f.rail.BalanceOf(f.payer))
}

func TestSettleTwiceContactsRailOnce(t *testing.T) {
	f := newFixture(t)
	res, err := f.mgr.Reserve(context.Background(), f.payer, uuid.New(), uuid.New(), 1000)
	require.NoError(t, err)

	first, err := f.mgr.Settle(context.Background(), res.ID, 650)
	require.NoError(t, err)
	// A retried settle with a different amount still returns the stored outcome.
	second, err := f.mgr.Settle(context.Background(), res.ID, 100)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.rail.Calls("capture"))
}

func TestConcurrentSettleCapturesOnce(t *testing.T) {
	f := newFixture(t)
	res, err := f.mgr.Reserve(context.Background(), f.payer, uuid.New(), uuid.New(), 1000)
	require.NoError(t, err)

	var wg sync.WaitGroup
	outcomes := make([]escrow.Outcome, 8)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := f.mgr.Settle(context.Background(), res.ID, 400)
			assert.NoError(t, err)
			outcomes[i] = out
		}(i)
	}
	wg.Wait()

	for _, out := range outcomes {
		assert.Equal(t, outcomes[0], out)
	}
	assert.Equal(t, 1, f.rail.Calls("capture"))
}

func TestSettleZeroCaptureReleasesEverything(t *testing.T) {
	f := newFixture(t)
	res, err := f.mgr.Reserve(context.Background(), f.payer, uuid.New(), uuid.New(), 1000)
	require.NoError(t, err)

	out, err := f.mgr.Settle(context.Background(), res.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusReleased, out.Status)
	assert.Equal(t, int64(1000), out.ReleasedAmount)
	assert.Equal(t, int64(10_000), f.rail.BalanceOf(f.payer))
}

func TestSettleOutsideCapIsInvariantViolation(t *testing.T) {
	f := newFixture(t)
	res, err := f.mgr.Reserve(context.Background(), f.payer, uuid.New(), uuid.New(), 1000)
	require.NoError(t, err)

	for _, amount := range []int64{-1, 1001} {
		_, err := f.mgr.Settle(context.Background(), res.ID, amount)
		assert.ErrorIs(t, err, escrow.ErrInvariantViolation)
	}

	stored, err := f.repo.GetByID(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusReserved, stored.Status)
	assert.Zero(t, f.rail.Calls("capture"))
}

func TestSettleRetriesAfterRailOutage(t *testing.T) {
	f := newFixture(t)
	res, err := f.mgr.Reserve(context.Background(), f.payer, uuid.New(), uuid.New(), 1000)
	require.NoError(t, err)

	f.rail.FailNext(1)
	_, err = f.mgr.Settle(context.Background(), res.ID, 650)
	require.ErrorIs(t, err, escrow.ErrRailUnavailable)

	out, err := f.mgr.Settle(context.Background(), res.ID, 650)
	require.NoError(t, err)
	assert.Equal(t, int64(650), out.CapturedAmount)
}

func TestVoid(t *testing.T) {
	f := newFixture(t)
	res, err := f.mgr.Reserve(context.Background(), f.payer, uuid.New(), uuid.New(), 1000)
	require.NoError(t, err)

	require.NoError(t, f.mgr.Void(context.Background(), res.ID))

	stored, err := f.repo.GetByID(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusVoided, stored.Status)
	assert.Equal(t, int64(1000), stored.ReleasedAmount)
	assert.Equal(t, int64(10_000), f.rail.BalanceOf(f.payer))

	err = f.mgr.Void(context.Background(), res.ID)
	assert.ErrorIs(t, err, escrow.ErrReservationState)

	_, err = f.mgr.Settle(context.Background(), res.ID, 10)
	assert.ErrorIs(t, err, escrow.ErrReservationState)
}

func TestVoidAfterSettleFails(t *testing.T) {
	f := newFixture(t)
	res, err := f.mgr.Reserve(context.Background(), f.payer, uuid.New(), uuid.New(), 1000)
	require.NoError(t, err)
	_, err = f.mgr.Settle(context.Background(), res.ID, 1000)
	require.NoError(t, err)

	assert.ErrorIs(t, f.mgr.Void(context.Background(), res.ID), escrow.ErrReservationState)
	assert.Zero(t, f.rail.Calls("release"))
}

func TestStatusText(t *testing.T) {
	for _, s := range []escrow.Status{escrow.StatusReserved, escrow.StatusCaptured, escrow.StatusReleased, escrow.StatusVoided} {
		parsed, err := escrow.ParseStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	_, err := escrow.ParseStatus("refunded")
	assert.Error(t, err)
}
