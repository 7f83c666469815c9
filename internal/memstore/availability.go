// Package memstore holds in-process implementations of the storage and rail
// interfaces. The Rail backs RAIL=memory deployments; the stores back the
// engine tests.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/consultation-escrow/internal/availability"
)

type Availability struct {
	mu        sync.RWMutex
	providers map[uuid.UUID]availability.Provider
	weekly    map[uuid.UUID]availability.Weekly
}

func NewAvailability() *Availability {
	return &Availability{
		providers: make(map[uuid.UUID]availability.Provider),
		weekly:    make(map[uuid.UUID]availability.Weekly),
	}
}

func (a *Availability) CreateProvider(_ context.Context, p availability.Provider) (*availability.Provider, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	a.providers[p.ID] = p
	return &p, nil
}

func (a *Availability) GetWeeklyWindow(_ context.Context, providerID uuid.UUID, day time.Weekday) (availability.Window, bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if _, ok := a.providers[providerID]; !ok {
		return availability.Window{}, false, availability.ErrProviderNotFound
	}
	w, ok := a.weekly[providerID][day]
	return w, ok, nil
}

func (a *Availability) GetWeekly(_ context.Context, providerID uuid.UUID) (availability.Weekly, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if _, ok := a.providers[providerID]; !ok {
		return nil, availability.ErrProviderNotFound
	}
	out := make(availability.Weekly, len(a.weekly[providerID]))
	for d, w := range a.weekly[providerID] {
		out[d] = w
	}
	return out, nil
}

func (a *Availability) Replace(_ context.Context, providerID uuid.UUID, weekly availability.Weekly) error {
	if err := weekly.Validate(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.providers[providerID]; !ok {
		return availability.ErrProviderNotFound
	}
	cp := make(availability.Weekly, len(weekly))
	for d, w := range weekly {
		cp[d] = w
	}
	a.weekly[providerID] = cp
	return nil
}

func (a *Availability) RatePerMinute(_ context.Context, providerID uuid.UUID) (int64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	p, ok := a.providers[providerID]
	if !ok {
		return 0, availability.ErrProviderNotFound
	}
	return p.RatePerMinute, nil
}
