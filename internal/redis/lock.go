package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/consultation-escrow/internal/lock"
)

const lockRetryInterval = 25 * time.Millisecond

type redisLocker struct {
	client   *redis.Client
	ttl      time.Duration
	wait     time.Duration
	newToken func() string
}

// NewRedisLocker creates a locker that uses one Redis key per guarded entity.
// A caller that finds the key taken polls until wait elapses, so concurrent
// proposals queue up instead of failing fast.
func NewRedisLocker(client *redis.Client, ttl, wait time.Duration) lock.Locker {
	return &redisLocker{
		client:   client,
		ttl:      ttl,
		wait:     wait,
		newToken: uuid.NewString,
	}
}

func (l *redisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	redisKey := fmt.Sprintf("lock:%s", key)
	token := l.newToken()

	if err := l.acquire(ctx, redisKey, token); err != nil {
		return err
	}

	defer func() {
		// release on a fresh context so a cancelled request still frees the key
		relCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = l.release(relCtx, redisKey, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisLocker) acquire(ctx context.Context, key, token string) error {
	var b backoff.BackOff = backoff.NewConstantBackOff(lockRetryInterval)
	if l.wait <= 0 {
		b = &backoff.StopBackOff{}
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("acquire lock %s: %w", key, err))
		}
		if !ok {
			return struct{}{}, lock.ErrNotAcquired
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(l.wait))
	return err
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}
