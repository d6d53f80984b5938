// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClock is a settable clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testBackendOps(t *testing.T, b Backend) {
	t.Helper()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()

	_, err := b.Get(ctx, "missing")
	assert.ErrorIs(err, ErrNotFound)
	_, err = b.Take(ctx, "missing")
	assert.ErrorIs(err, ErrNotFound)

	require.NoError(b.Set(ctx, "k", []byte("v1"), time.Minute))
	got, err := b.Get(ctx, "k")
	require.NoError(err)
	assert.Equal([]byte("v1"), got)

	require.NoError(b.Set(ctx, "k", []byte("v2"), time.Minute))
	got, err = b.Take(ctx, "k")
	require.NoError(err)
	assert.Equal([]byte("v2"), got)
	_, err = b.Take(ctx, "k")
	assert.ErrorIs(err, ErrNotFound)

	require.NoError(b.Set(ctx, "d", []byte("x"), time.Minute))
	require.NoError(b.Delete(ctx, "d"))
	_, err = b.Get(ctx, "d")
	assert.ErrorIs(err, ErrNotFound)
}

func TestMemoryBackend(t *testing.T) {
	t.Parallel()
	t.Run("ops", func(t *testing.T) {
		t.Parallel()
		b, err := NewMemoryBackend(10)
		require.NoError(t, err)
		testBackendOps(t, b)
	})
	t.Run("expiry", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		clock := &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
		b, err := NewMemoryBackend(10, WithNow(clock.Now))
		require.NoError(err)
		ctx := context.Background()
		require.NoError(b.Set(ctx, "k", []byte("v"), time.Minute))
		require.NoError(b.Set(ctx, "forever", []byte("v"), 0))

		clock.Add(59 * time.Second)
		_, err = b.Get(ctx, "k")
		assert.NoError(err)

		clock.Add(time.Second)
		_, err = b.Get(ctx, "k")
		assert.ErrorIs(err, ErrNotFound)
		_, err = b.Take(ctx, "k")
		assert.ErrorIs(err, ErrNotFound)

		clock.Add(24 * time.Hour)
		_, err = b.Get(ctx, "forever")
		assert.NoError(err)
	})
	t.Run("eviction", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		b, err := NewMemoryBackend(2)
		require.NoError(err)
		ctx := context.Background()
		require.NoError(b.Set(ctx, "a", []byte("1"), 0))
		require.NoError(b.Set(ctx, "b", []byte("2"), 0))
		require.NoError(b.Set(ctx, "c", []byte("3"), 0))
		assert.Equal(2, b.Len())
		_, err = b.Get(ctx, "a")
		assert.ErrorIs(err, ErrNotFound)
	})
	t.Run("copies-value", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		b, err := NewMemoryBackend(2)
		require.NoError(err)
		v := []byte("abc")
		require.NoError(b.Set(context.Background(), "k", v, 0))
		v[0] = 'x'
		got, err := b.Get(context.Background(), "k")
		require.NoError(err)
		assert.Equal([]byte("abc"), got)
	})
	t.Run("invalid-size", func(t *testing.T) {
		t.Parallel()
		_, err := NewMemoryBackend(0)
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
}

func TestRedisBackend(t *testing.T) {
	t.Parallel()
	t.Run("ops", func(t *testing.T) {
		t.Parallel()
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		testBackendOps(t, NewRedisBackendWithClient(client))
	})
	t.Run("ttl", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		b := NewRedisBackendWithClient(client)
		ctx := context.Background()

		require.NoError(b.Set(ctx, "k", []byte("v"), time.Minute))
		assert.Equal(time.Minute, mr.TTL("k"))
		mr.FastForward(time.Minute)
		_, err := b.Get(ctx, "k")
		assert.ErrorIs(err, ErrNotFound)
	})
	t.Run("connect", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		mr := miniredis.RunT(t)
		b, err := NewRedisBackend(context.Background(), "redis://"+mr.Addr())
		require.NoError(err)
		t.Cleanup(func() { _ = b.Close() })
		assert.NoError(b.Ping(context.Background()))

		_, err = NewRedisBackend(context.Background(), "")
		assert.ErrorIs(err, ErrInvalidParameter)

		addr := mr.Addr()
		mr.Close()
		_, err = NewRedisBackend(context.Background(), "redis://"+addr)
		assert.ErrorIs(err, ErrBackendFailed)
	})
	t.Run("concurrent-take", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		b := NewRedisBackendWithClient(client)
		ctx := context.Background()
		require.NoError(b.Set(ctx, "tx", []byte("v"), time.Minute))

		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			taken int
		)
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := b.Take(ctx, "tx"); err == nil {
					mu.Lock()
					taken++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(1, taken)
	})
}
