// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientCache(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		size      int
		opts      []Option
		wantIsErr error
	}{
		{name: "valid", size: 2},
		{name: "valid-max-age", size: 2, opts: []Option{WithMaxAge(time.Minute)}},
		{name: "zero-size", size: 0, wantIsErr: ErrInvalidParameter},
		{name: "negative-max-age", size: 2, opts: []Option{WithMaxAge(-time.Minute)}, wantIsErr: ErrInvalidParameter},
		{name: "negative-release-delay", size: 2, opts: []Option{WithReleaseDelay(-time.Second)}, wantIsErr: ErrInvalidParameter},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := NewClientCache(tt.size, tt.opts...)
			if tt.wantIsErr != nil {
				require.ErrorIs(err, tt.wantIsErr)
				assert.Nil(got)
				return
			}
			require.NoError(err)
			assert.Equal(0, got.Len())
		})
	}
	t.Run("default", func(t *testing.T) {
		assert.Same(t, DefaultClientCache(), DefaultClientCache())
	})
}

func TestClientCache_Get(t *testing.T) {
	t.Parallel()

	t.Run("cached", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := testStartProvider(t)
		cc, err := NewClientCache(2)
		require.NoError(err)
		defer cc.Purge()

		first, err := cc.Get(context.Background(), testClientConfig(t, tp))
		require.NoError(err)
		second, err := cc.Get(context.Background(), testClientConfig(t, tp))
		require.NoError(err)
		assert.Same(first, second)
		assert.Equal(1, cc.Len())
	})

	t.Run("keyed-by-client-id", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := testStartProvider(t)
		cc, err := NewClientCache(2)
		require.NoError(err)
		defer cc.Purge()

		first, err := cc.Get(context.Background(), testClientConfig(t, tp))
		require.NoError(err)
		other := testClientConfig(t, tp)
		other.ClientID = "another-client"
		second, err := cc.Get(context.Background(), other)
		require.NoError(err)
		assert.NotSame(first, second)
		assert.Equal(2, cc.Len())
	})

	t.Run("max-age", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := testStartProvider(t)
		var (
			mu  sync.Mutex
			now = time.Now()
		)
		clock := func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		}
		cc, err := NewClientCache(2, WithMaxAge(time.Hour), WithNow(clock))
		require.NoError(err)
		defer cc.Purge()

		first, err := cc.Get(context.Background(), testClientConfig(t, tp))
		require.NoError(err)

		mu.Lock()
		now = now.Add(30 * time.Minute)
		mu.Unlock()
		second, err := cc.Get(context.Background(), testClientConfig(t, tp))
		require.NoError(err)
		assert.Same(first, second)

		// a per call max age overrides the cache's
		third, err := cc.Get(context.Background(), testClientConfig(t, tp), WithMaxAge(10*time.Minute))
		require.NoError(err)
		assert.NotSame(first, third)

		mu.Lock()
		now = now.Add(2 * time.Hour)
		mu.Unlock()
		fourth, err := cc.Get(context.Background(), testClientConfig(t, tp))
		require.NoError(err)
		assert.NotSame(third, fourth)
		assert.Equal(1, cc.Len())
	})

	t.Run("evicted", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := testStartProvider(t)
		cc, err := NewClientCache(1, WithReleaseDelay(0))
		require.NoError(err)
		defer cc.Purge()

		first, err := cc.Get(context.Background(), testClientConfig(t, tp))
		require.NoError(err)
		other := testClientConfig(t, tp)
		other.ClientID = "another-client"
		_, err = cc.Get(context.Background(), other)
		require.NoError(err)
		assert.Equal(1, cc.Len())
		assert.Error(first.backgroundCtx.Err())
	})

	t.Run("evicted-in-use", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := testStartProvider(t)
		cc, err := NewClientCache(1, WithReleaseDelay(2*time.Second))
		require.NoError(err)
		defer cc.Purge()

		inUse, err := cc.Get(context.Background(), testClientConfig(t, tp))
		require.NoError(err)
		other := testClientConfig(t, tp)
		other.ClientID = "another-client"
		_, err = cc.Get(context.Background(), other)
		require.NoError(err)

		// a request holding the evicted client can still finish
		require.NoError(inUse.backgroundCtx.Err())
		params, checks := testAuthParams(t, "code")
		authURL, err := inUse.AuthURL(context.Background(), params)
		require.NoError(err)
		resp, err := ParseAuthResponse(testAuthorize(t, tp, authURL))
		require.NoError(err)
		_, err = inUse.Exchange(context.Background(), resp, checks, nil)
		require.NoError(err)

		assert.Eventually(func() bool { return inUse.backgroundCtx.Err() != nil }, 10*time.Second, 10*time.Millisecond)
	})

	t.Run("errors-not-cached", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := testStartProvider(t)
		cc, err := NewClientCache(2)
		require.NoError(err)
		defer cc.Purge()

		bad := testClientConfig(t, tp)
		bad.ProviderCA = ""
		_, err = cc.Get(context.Background(), bad)
		require.ErrorIs(err, ErrDiscoveryFailed)
		assert.Equal(0, cc.Len())

		_, err = cc.Get(context.Background(), nil)
		assert.ErrorIs(err, ErrNilParameter)
	})

	t.Run("concurrent", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := testStartProvider(t)
		cc, err := NewClientCache(2)
		require.NoError(err)
		defer cc.Purge()

		const n = 10
		var wg sync.WaitGroup
		got := make([]*Client, n)
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				got[i], errs[i] = cc.Get(context.Background(), testClientConfig(t, tp))
			}(i)
		}
		wg.Wait()
		for i := 0; i < n; i++ {
			require.NoError(errs[i])
			assert.Same(got[0], got[i])
		}
	})

	t.Run("canceled-caller", func(t *testing.T) {
		tp := testStartProvider(t)
		cc, err := NewClientCache(2)
		require.NoError(t, err)
		defer cc.Purge()

		ctx, cancel := context.WithCancel(context.Background())
		cl, err := cc.Get(ctx, testClientConfig(t, tp))
		require.NoError(t, err)
		cancel()
		assert.NoError(t, cl.backgroundCtx.Err())
	})
}
