package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyCache struct {
	inner *MemoryBlockCache
	fail  bool
	calls int
}

func (f *flakyCache) GetBlocked(ctx context.Context, serviceID int64) (bool, bool, error) {
	f.calls++
	if f.fail {
		return false, false, errors.New("connection refused")
	}
	return f.inner.GetBlocked(ctx, serviceID)
}

func (f *flakyCache) SetBlocked(ctx context.Context, serviceID int64, blocked bool, ttl time.Duration) error {
	f.calls++
	if f.fail {
		return errors.New("connection refused")
	}
	return f.inner.SetBlocked(ctx, serviceID, blocked, ttl)
}

func (f *flakyCache) Invalidate(ctx context.Context, serviceID int64) error {
	f.calls++
	if f.fail {
		return errors.New("connection refused")
	}
	return f.inner.Invalidate(ctx, serviceID)
}

func (f *flakyCache) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	f.calls++
	if f.fail {
		return false, errors.New("connection refused")
	}
	return f.inner.CheckRateLimit(ctx, key, limit, window)
}

func newFailover(t *testing.T) (*FailoverBlockCache, *flakyCache, *MemoryBlockCache) {
	t.Helper()
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	primary := &flakyCache{inner: NewMemoryBlockCache()}
	fallback := NewMemoryBlockCache()
	return NewFailoverBlockCache(primary, fallback, &logger), primary, fallback
}

func TestFailoverUsesPrimaryWhenHealthy(t *testing.T) {
	cache, primary, _ := newFailover(t)
	ctx := context.Background()

	require.NoError(t, cache.SetBlocked(ctx, 10, true, time.Minute))
	blocked, found, err := cache.GetBlocked(ctx, 10)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, blocked)
	assert.Equal(t, 2, primary.calls)
}

func TestFailoverFallsBackOnError(t *testing.T) {
	cache, primary, fallback := newFailover(t)
	ctx := context.Background()

	primary.fail = true
	require.NoError(t, cache.SetBlocked(ctx, 10, true, time.Minute))

	// The write landed in the fallback.
	blocked, found, err := fallback.GetBlocked(ctx, 10)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, blocked)

	// Subsequent calls skip the dead primary entirely.
	calls := primary.calls
	_, _, err = cache.GetBlocked(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, calls, primary.calls)
}

func TestFailoverRecoversAfterProbe(t *testing.T) {
	cache, primary, _ := newFailover(t)
	ctx := context.Background()

	primary.fail = true
	require.NoError(t, cache.SetBlocked(ctx, 10, true, time.Minute))
	assert.True(t, cache.isDown.Load())

	// Backdate the last check so the next call probes the primary again.
	primary.fail = false
	cache.lastCheck.Store(time.Now().Add(-2 * time.Minute).UnixNano())

	require.NoError(t, cache.SetBlocked(ctx, 20, true, time.Minute))
	assert.False(t, cache.isDown.Load())

	blocked, found, err := primary.inner.GetBlocked(ctx, 20)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, blocked)
}

func TestFailoverRateLimit(t *testing.T) {
	cache, primary, _ := newFailover(t)
	ctx := context.Background()

	primary.fail = true
	for i := 0; i < 2; i++ {
		allowed, err := cache.CheckRateLimit(ctx, "client-a", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, err := cache.CheckRateLimit(ctx, "client-a", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed, "fallback still enforces the limit")
}
