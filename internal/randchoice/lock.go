package randchoice

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"quora/internal/types"
)

// Lock is a held named lock.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker hands out named, timeout-bounded mutual-exclusion locks.
type Locker interface {
	// Acquire blocks until the lock is held or timeout elapses. A timeout
	// yields a conflict_choice_lock_timeout AppError.
	Acquire(ctx context.Context, name string, timeout time.Duration) (Lock, error)
}

const (
	lockKeyPrefix     = "quora:lock:"
	defaultLockTTL    = 30 * time.Second
	defaultRetryEvery = 25 * time.Millisecond
)

// releaseScript deletes the key only while it still holds our token, so a
// holder whose lock expired cannot release someone else's.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX. The TTL bounds how long a
// crashed holder blocks others.
type RedisLocker struct {
	client     redis.UniversalClient
	ttl        time.Duration
	retryEvery time.Duration
	logger     *slog.Logger
}

// NewRedisLocker creates a RedisLocker. ttl <= 0 uses 30s.
func NewRedisLocker(client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{client: client, ttl: ttl, retryEvery: defaultRetryEvery, logger: logger}
}

// Acquire implements Locker.
func (l *RedisLocker) Acquire(ctx context.Context, name string, timeout time.Duration) (Lock, error) {
	key := lockKeyPrefix + name
	token := uuid.NewString()
	deadline := time.Now().Add(timeout)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeUpstreamUnavailable, "failed to acquire lock", err)
		}
		if ok {
			return &redisLock{client: l.client, key: key, token: token}, nil
		}

		wait := l.retryEvery
		if remaining := time.Until(deadline); remaining <= 0 {
			l.logger.WarnContext(ctx, "lock acquisition timed out", "lock", name, "timeout", timeout)
			return nil, types.NewAppError(types.ErrCodeConflictLockTimeout,
				"another submission is in progress, please try again", nil)
		} else if remaining < wait {
			wait = remaining
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

type redisLock struct {
	client redis.UniversalClient
	key    string
	token  string
}

func (l *redisLock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("releasing %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("releasing %s: lock expired before release", l.key)
	}
	return nil
}

var _ Locker = (*RedisLocker)(nil)
