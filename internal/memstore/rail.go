package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/hackgods/consultation-escrow/internal/escrow"
)

type HoldState struct {
	PayerID  uuid.UUID
	Amount   int64
	Captured int64
	Released int64
	Closed   bool
}

// Rail is an in-memory value-transfer rail. Payers start with Balance unless
// SetBalance overrides it. Calls are deduplicated by idempotency key.
type Rail struct {
	mu sync.Mutex

	Balance     int64
	balances    map[uuid.UUID]int64
	holds       map[string]*HoldState
	seen        map[string]string
	unavailable int
	calls       map[string]int
}

func NewRail(defaultBalance int64) *Rail {
	return &Rail{
		Balance:  defaultBalance,
		balances: make(map[uuid.UUID]int64),
		holds:    make(map[string]*HoldState),
		seen:     make(map[string]string),
		calls:    make(map[string]int),
	}
}

func (r *Rail) SetBalance(payerID uuid.UUID, amount int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[payerID] = amount
}

// FailNext makes the next n rail calls fail with ErrRailUnavailable.
func (r *Rail) FailNext(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unavailable = n
}

// Calls returns how many times op reached the rail, counting failures.
func (r *Rail) Calls(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

func (r *Rail) Hold(ctx context.Context, req escrow.HoldRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.enter(ctx, "hold"); err != nil {
		return "", err
	}
	if id, ok := r.seen[req.IdempotencyKey]; ok {
		return id, nil
	}

	balance := r.balanceOf(req.PayerID)
	if balance < req.Amount {
		return "", fmt.Errorf("%w: balance %d below hold %d", escrow.ErrInsufficientFunds, balance, req.Amount)
	}

	id := "hold_" + uuid.NewString()
	r.balances[req.PayerID] = balance - req.Amount
	r.holds[id] = &HoldState{PayerID: req.PayerID, Amount: req.Amount}
	r.seen[req.IdempotencyKey] = id
	return id, nil
}

func (r *Rail) Capture(ctx context.Context, req escrow.CaptureRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.enter(ctx, "capture"); err != nil {
		return err
	}
	if _, ok := r.seen[req.IdempotencyKey]; ok {
		return nil
	}

	h, ok := r.holds[req.HoldID]
	if !ok || h.Closed {
		return fmt.Errorf("hold %s is not open", req.HoldID)
	}
	if req.Amount+req.ReleaseAmount != h.Amount {
		return fmt.Errorf("capture %d + release %d does not match hold %d", req.Amount, req.ReleaseAmount, h.Amount)
	}

	h.Captured, h.Released, h.Closed = req.Amount, req.ReleaseAmount, true
	r.balances[h.PayerID] = r.balanceOf(h.PayerID) + req.ReleaseAmount
	r.seen[req.IdempotencyKey] = req.HoldID
	return nil
}

func (r *Rail) Release(ctx context.Context, req escrow.ReleaseRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.enter(ctx, "release"); err != nil {
		return err
	}
	if _, ok := r.seen[req.IdempotencyKey]; ok {
		return nil
	}

	h, ok := r.holds[req.HoldID]
	if !ok || h.Closed {
		return fmt.Errorf("hold %s is not open", req.HoldID)
	}

	h.Released, h.Closed = h.Amount, true
	r.balances[h.PayerID] = r.balanceOf(h.PayerID) + h.Amount
	r.seen[req.IdempotencyKey] = req.HoldID
	return nil
}

// HoldFor returns a copy of the hold's state.
func (r *Rail) HoldFor(holdID string) (HoldState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.holds[holdID]
	if !ok {
		return HoldState{}, false
	}
	return *h, true
}

func (r *Rail) BalanceOf(payerID uuid.UUID) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balanceOf(payerID)
}

func (r *Rail) balanceOf(payerID uuid.UUID) int64 {
	if b, ok := r.balances[payerID]; ok {
		return b
	}
	return r.Balance
}

func (r *Rail) enter(ctx context.Context, op string) error {
	r.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.unavailable > 0 {
		r.unavailable--
		return escrow.ErrRailUnavailable
	}
	return nil
}
