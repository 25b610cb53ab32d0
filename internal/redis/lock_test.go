package redisclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLocker_ExcludesSecondWriter(t *testing.T) {
	mr, client := setupTestRedis(t)
	locker := NewRedisLocker(client, 5*time.Second)
	ctx := context.Background()

	err := locker.WithLock(ctx, "clinic:write", func(ctx context.Context) error {
		assert.True(t, mr.Exists("lock:clinic:write"))

		inner := locker.WithLock(ctx, "clinic:write", func(context.Context) error {
			t.Fatal("second writer must not enter")
			return nil
		})
		assert.ErrorIs(t, inner, ErrLockNotAcquired)
		return nil
	})
	require.NoError(t, err)

	assert.False(t, mr.Exists("lock:clinic:write"), "lock released after fn returns")
}

func TestRedisLocker_ReleasesOnError(t *testing.T) {
	mr, client := setupTestRedis(t)
	locker := NewRedisLocker(client, 5*time.Second)

	boom := errors.New("boom")
	err := locker.WithLock(context.Background(), "clinic:write", func(context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("lock:clinic:write"))
}

func TestRedisLocker_DoesNotDeleteForeignToken(t *testing.T) {
	mr, client := setupTestRedis(t)
	locker := NewRedisLocker(client, 5*time.Second)

	err := locker.WithLock(context.Background(), "clinic:write", func(context.Context) error {
		// lock expired and another writer took it over
		require.NoError(t, mr.Set("lock:clinic:write", "someone-else"))
		return nil
	})
	require.NoError(t, err)

	val, err := mr.Get("lock:clinic:write")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", val)
}

func TestLocalLocker_Serializes(t *testing.T) {
	locker := NewLocalLocker()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = locker.WithLock(context.Background(), "clinic:write", func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestLocalLocker_HonoursContext(t *testing.T) {
	locker := NewLocalLocker()
	held := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = locker.WithLock(context.Background(), "k", func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := locker.WithLock(ctx, "k", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestNewWriterLocker(t *testing.T) {
	ctx := context.Background()

	local, closeFn, err := NewWriterLocker(ctx, "", "", "", time.Second)
	require.NoError(t, err)
	require.NoError(t, closeFn())
	assert.IsType(t, &localLocker{}, local)

	mr, _ := setupTestRedis(t)
	remote, closeFn, err := NewWriterLocker(ctx, mr.Addr(), "", "", time.Second)
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &redisLocker{}, remote)

	_, _, err = NewWriterLocker(ctx, "127.0.0.1:1", "", "", time.Second)
	assert.Error(t, err)
}
