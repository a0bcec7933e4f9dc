package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/internal/logging"
)

// fakeRedis understands SETNX and the two lock scripts.
type fakeRedis struct {
	mu      sync.Mutex
	values  map[string]string
	extends int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}}
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewBoolCmd(ctx)
	if _, ok := f.values[key]; ok {
		cmd.SetVal(false)
		return cmd
	}
	f.values[key] = value.(string)
	cmd.SetVal(true)
	return cmd
}

func (f *fakeRedis) run(ctx context.Context, sha string, keys []string, args ...any) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewCmd(ctx)
	if f.values[keys[0]] != args[0] {
		cmd.SetVal(int64(0))
		return cmd
	}
	switch sha {
	case releaseScript.Hash():
		delete(f.values, keys[0])
	case extendScript.Hash():
		f.extends++
	}
	cmd.SetVal(int64(1))
	return cmd
}

func (f *fakeRedis) EvalSha(ctx context.Context, sha string, keys []string, args ...any) *redis.Cmd {
	return f.run(ctx, sha, keys, args...)
}

func (f *fakeRedis) EvalShaRO(ctx context.Context, sha string, keys []string, args ...any) *redis.Cmd {
	return f.run(ctx, sha, keys, args...)
}

func (f *fakeRedis) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	return f.run(ctx, redis.NewScript(script).Hash(), keys, args...)
}

func (f *fakeRedis) EvalRO(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	return f.Eval(ctx, script, keys, args...)
}

func (f *fakeRedis) ScriptExists(ctx context.Context, hashes ...string) *redis.BoolSliceCmd {
	cmd := redis.NewBoolSliceCmd(ctx)
	cmd.SetVal(make([]bool, len(hashes)))
	return cmd
}

func (f *fakeRedis) ScriptLoad(ctx context.Context, script string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	cmd.SetVal(redis.NewScript(script).Hash())
	return cmd
}

func TestRedisLockerWithLock(t *testing.T) {
	client := newFakeRedis()
	locker := NewRedisLocker(client, "", logging.Nop())

	var ran bool
	err := locker.WithLock(context.Background(), "run:production", time.Minute, func(ctx context.Context) error {
		ran = true
		assert.Contains(t, client.values, "lock:run:production")

		err := locker.WithLock(ctx, "run:production", time.Minute, func(context.Context) error { return nil })
		assert.ErrorIs(t, err, ErrLockNotAcquired)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Empty(t, client.values)
}

func TestRedisLockerReturnsFnError(t *testing.T) {
	client := newFakeRedis()
	locker := NewRedisLocker(client, "clover:", logging.Nop())
	boom := errors.New("boom")

	err := locker.WithLock(context.Background(), "run:staging", time.Minute, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, client.values)
}

func (f *fakeRedis) set(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
}

func TestRedisLockerCancelsWhenLockIsLost(t *testing.T) {
	client := newFakeRedis()
	locker := NewRedisLocker(client, "", logging.Nop())
	locker.minRenew = 10 * time.Millisecond

	err := locker.WithLock(context.Background(), "run:production", 30*time.Millisecond, func(ctx context.Context) error {
		client.set("lock:run:production", "another-run")
		select {
		case <-ctx.Done():
			assert.ErrorIs(t, context.Cause(ctx), ErrLockNotHeld)
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return errors.New("context was not cancelled")
		}
	})

	assert.ErrorIs(t, err, ErrLockNotHeld)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "another-run", client.values["lock:run:production"])
}

func TestRedisLockerExtendsWhileHeld(t *testing.T) {
	client := newFakeRedis()
	locker := NewRedisLocker(client, "", logging.Nop())
	locker.minRenew = 10 * time.Millisecond

	err := locker.WithLock(context.Background(), "run:production", 30*time.Millisecond, func(ctx context.Context) error {
		time.Sleep(60 * time.Millisecond)
		return ctx.Err()
	})
	require.NoError(t, err)

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Positive(t, client.extends)
}

func TestLockReleaseNotHeld(t *testing.T) {
	client := newFakeRedis()
	locker := NewRedisLocker(client, "", logging.Nop())

	lock, err := locker.Acquire(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	client.values["lock:k"] = "someone-else"

	assert.ErrorIs(t, lock.Release(context.Background()), ErrLockNotHeld)
	assert.ErrorIs(t, lock.Extend(context.Background(), time.Minute), ErrLockNotHeld)
}

func TestLocalLocker(t *testing.T) {
	locker := NewLocalLocker()

	err := locker.WithLock(context.Background(), "production", 0, func(ctx context.Context) error {
		inner := locker.WithLock(ctx, "production", 0, func(context.Context) error { return nil })
		assert.ErrorIs(t, inner, ErrLockNotAcquired)
		return locker.WithLock(ctx, "staging", 0, func(context.Context) error { return nil })
	})
	require.NoError(t, err)

	require.NoError(t, locker.WithLock(context.Background(), "production", 0, func(context.Context) error { return nil }))
}
