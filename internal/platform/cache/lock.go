package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/milkround/internal/platform/httpx"
)

// ErrLockBusy indicates another holder kept the key for the whole wait window.
var ErrLockBusy = fmt.Errorf("platform/cache: lock busy: %w", httpx.ErrLocked)

// Locker hands out short-lived Redis locks keyed by string.
type Locker struct {
	client *redislock.Client
	ttl    time.Duration
	wait   time.Duration
	logger *slog.Logger
}

// NewLocker wraps client. ttl bounds how long a crashed holder blocks others;
// wait bounds how long Lock retries before giving up.
func NewLocker(client *redis.Client, ttl, wait time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if wait < 0 {
		wait = 0
	}
	return &Locker{client: redislock.New(client), ttl: ttl, wait: wait, logger: slog.Default()}
}

// WithLogger sets the logger used for release failures.
func (l *Locker) WithLogger(logger *slog.Logger) *Locker {
	if logger != nil {
		l.logger = logger
	}
	return l
}

// Lock obtains key and returns its release func.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	if l == nil || l.client == nil {
		return func() {}, nil
	}
	opts := &redislock.Options{}
	if l.wait > 0 {
		attempts := int(l.wait / (50 * time.Millisecond))
		if attempts < 1 {
			attempts = 1
		}
		opts.RetryStrategy = redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), attempts)
	}
	lock, err := l.client.Obtain(ctx, key, l.ttl, opts)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrLockBusy, key)
	}
	if err != nil {
		return nil, fmt.Errorf("platform/cache: obtain %s: %w", key, err)
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			l.logger.Warn("lock release failed", slog.String("key", key), slog.Any("error", err))
		}
	}, nil
}
