// Package lock keeps two runs from writing the same destination at once.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockNotAcquired is returned when another holder owns the lock
	ErrLockNotAcquired = errors.New("lock not acquired")
	// ErrLockNotHeld is returned when releasing or extending a lock that expired or was taken over
	ErrLockNotHeld = errors.New("lock not held")
)

var (
	releaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)
	extendScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// Locker runs fn while holding key. The lock is renewed until fn returns.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// Client is the subset of go-redis the lock needs.
type Client interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

// RedisLocker is a SET NX lock with owner-checked release.
type RedisLocker struct {
	client    Client
	keyPrefix string
	logger    ectologger.Logger
	// minRenew bounds how often a held lock is extended.
	minRenew time.Duration
}

func NewRedisLocker(client Client, keyPrefix string, logger ectologger.Logger) *RedisLocker {
	if keyPrefix == "" {
		keyPrefix = "lock:"
	}
	return &RedisLocker{client: client, keyPrefix: keyPrefix, logger: logger, minRenew: time.Second}
}

// Lock is one acquired lock.
type Lock struct {
	client Client
	key    string
	value  string
}

// Acquire attempts to acquire a lock once.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	lockKey := l.keyPrefix + key
	lockValue := uuid.New().String()

	ok, err := l.client.SetNX(ctx, lockKey, lockValue, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrLockNotAcquired)
	}

	l.logger.WithContext(ctx).Debugf("Acquired lock: %s", key)
	return &Lock{client: l.client, key: lockKey, value: lockValue}, nil
}

// Release deletes the lock if it is still ours.
func (lock *Lock) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, lock.client, []string{lock.key}, lock.value).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Extend resets the TTL if the lock is still ours.
func (lock *Lock) Extend(ctx context.Context, ttl time.Duration) error {
	result, err := extendScript.Run(ctx, lock.client, []string{lock.key}, lock.value, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// WithLock runs fn while the lock is held. If the lock is lost, fn's context
// is cancelled with ErrLockNotHeld as its cause.
func (l *RedisLocker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	lock, err := l.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			l.logger.WithContext(ctx).WithError(err).Warnf("Failed to release lock: %s", key)
		}
	}()

	ctx, cancel := context.WithCancelCause(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.keepAlive(ctx, lock, ttl, cancel)
	}()
	defer func() {
		cancel(nil)
		wg.Wait()
	}()

	err = fn(ctx)
	if cause := context.Cause(ctx); errors.Is(cause, ErrLockNotHeld) {
		return errors.Join(err, cause)
	}
	return err
}

// keepAlive extends the lock at a third of its TTL until ctx ends. Losing the
// lock cancels ctx.
func (l *RedisLocker) keepAlive(ctx context.Context, lock *Lock, ttl time.Duration, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(max(ttl/3, l.minRenew))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := lock.Extend(ctx, ttl)
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrLockNotHeld) {
				l.logger.WithContext(ctx).WithError(err).Errorf("Lost lock: %s", lock.key)
				cancel(fmt.Errorf("%s: %w", lock.key, ErrLockNotHeld))
				return
			}
			l.logger.WithContext(ctx).WithError(err).Warnf("Failed to extend lock: %s", lock.key)
		}
	}
}

// LocalLocker serializes runs inside one process. It is used when no Redis
// is configured.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: map[string]bool{}}
}

func (l *LocalLocker) WithLock(ctx context.Context, key string, _ time.Duration, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	if l.held[key] {
		l.mu.Unlock()
		return fmt.Errorf("%s: %w", key, ErrLockNotAcquired)
	}
	l.held[key] = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}()
	return fn(ctx)
}
