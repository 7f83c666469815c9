package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CachedStore is a read-through Redis cache in front of another Store.
// Availability is read on every proposal and written rarely, so the whole
// weekly map is cached per provider and dropped on Replace.
type CachedStore struct {
	next   Store
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedStore(next Store, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedStore {
	return &CachedStore{next: next, rdb: rdb, ttl: ttl, logger: logger}
}

func cacheKey(providerID uuid.UUID) string {
	return fmt.Sprintf("availability:%s", providerID)
}

func (c *CachedStore) GetWeeklyWindow(ctx context.Context, providerID uuid.UUID, day time.Weekday) (Window, bool, error) {
	weekly, err := c.GetWeekly(ctx, providerID)
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return Window{}, false, nil
		}
		return Window{}, false, err
	}
	w, ok := weekly[day]
	return w, ok, nil
}

func (c *CachedStore) GetWeekly(ctx context.Context, providerID uuid.UUID) (Weekly, error) {
	key := cacheKey(providerID)

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var weekly Weekly
		if jsonErr := json.Unmarshal(raw, &weekly); jsonErr == nil {
			return weekly, nil
		}
		c.logger.Warn("dropping unreadable availability cache entry", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		// cache outage degrades to the backing store
		c.logger.Warn("availability cache read failed", zap.String("key", key), zap.Error(err))
	}

	weekly, err := c.next.GetWeekly(ctx, providerID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(weekly); err == nil {
		if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("availability cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return weekly, nil
}

func (c *CachedStore) Replace(ctx context.Context, providerID uuid.UUID, weekly Weekly) error {
	if err := c.next.Replace(ctx, providerID, weekly); err != nil {
		return err
	}
	if err := c.rdb.Del(ctx, cacheKey(providerID)).Err(); err != nil {
		c.logger.Warn("availability cache invalidation failed", zap.Stringer("provider_id", providerID), zap.Error(err))
	}
	return nil
}

func (c *CachedStore) RatePerMinute(ctx context.Context, providerID uuid.UUID) (int64, error) {
	return c.next.RatePerMinute(ctx, providerID)
}
