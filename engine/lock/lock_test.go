package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chenyingqiao/pipeline-engine/engine"
)

func newTestRedis(t *testing.T) redis.UniversalClient {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestTryLock_SecondHolderRejected(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	first := NewBuildIDLock(client, "b1")
	second := NewBuildIDLock(client, "b1")

	require.NoError(t, first.TryLock(ctx))
	err := second.TryLock(ctx)
	assert.ErrorIs(t, err, engine.ErrLockNotAcquired)

	require.NoError(t, first.Unlock(ctx))
	assert.NoError(t, second.TryLock(ctx))
}

func TestUnlock_OnlyOwnerReleases(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	first := NewBuildIDLock(client, "b1")
	second := NewBuildIDLock(client, "b1")

	require.NoError(t, first.TryLock(ctx))
	// 非持有者解锁是空操作
	require.NoError(t, second.Unlock(ctx))
	assert.ErrorIs(t, second.TryLock(ctx), engine.ErrLockNotAcquired)
}

func TestLock_WaitsForRelease(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	first := NewRedisLock(client, "engine:lock:test", time.Second)
	second := NewRedisLock(client, "engine:lock:test", time.Second)

	require.NoError(t, first.TryLock(ctx))
	go func() {
		time.Sleep(200 * time.Millisecond)
		_ = first.Unlock(context.Background())
	}()
	assert.NoError(t, second.Lock(ctx))
}

func TestLock_CanceledContext(t *testing.T) {
	client := newTestRedis(t)
	first := NewRedisLock(client, "engine:lock:test", time.Second)
	second := NewRedisLock(client, "engine:lock:test", time.Second)

	require.NoError(t, first.TryLock(context.Background()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, second.Lock(ctx))
}

func TestDifferentKeysDoNotCollide(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	buildLock := NewBuildIDLock(client, "b1")
	containerLock := NewContainerIDLock(client, "b1", "c1")
	startLock := NewPipelineStartLock(client, "pl1")

	assert.NoError(t, buildLock.TryLock(ctx))
	assert.NoError(t, containerLock.TryLock(ctx))
	assert.NoError(t, startLock.TryLock(ctx))
}
