package lock

import (
	"context"
	"errors"
	"sync"

	"github.com/hackgods/consultation-escrow/internal/reason"
)

var ErrNotAcquired = reason.New(reason.CodeBusy, reason.KindTransient, "lock not acquired, please retry")

// Locker guards critical sections keyed by an entity id.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

func ProviderKey(id string) string       { return "provider:" + id }
func BookingKey(id string) string        { return "booking:" + id }
func ReservationKey(id string) string    { return "reservation:" + id }
func SessionKey(bookingID string) string { return "session:" + bookingID }
func EscrowBookingKey(id string) string  { return "escrow-booking:" + id }

// Local is an in-process keyed mutex. It serializes callers within one
// process only and is meant for single-node deployments and tests.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

func (l *Local) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	s := l.acquireSlot(key)
	defer l.releaseSlot(key, s)

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrNotAcquired
		}
		return ctx.Err()
	}
	defer func() { <-s.ch }()

	return fn(ctx)
}

func (l *Local) acquireSlot(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *Local) releaseSlot(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}
