// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryBackend is a Backend keeping at most size values in process memory.
// The least recently used values are evicted first. It's meant for single
// instance deployments and tests.
type MemoryBackend struct {
	mu     sync.Mutex
	values *lru.Cache[string, memoryValue]
	now    func() time.Time
}

var _ Backend = (*MemoryBackend)(nil)

type memoryValue struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryBackend creates a MemoryBackend.
//
// Supported options: WithNow
func NewMemoryBackend(size int, opt ...Option) (*MemoryBackend, error) {
	const op = "session.NewMemoryBackend"
	values, err := lru.New[string, memoryValue](size)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidParameter, err)
	}
	opts := getStoreOpts(opt...)
	return &MemoryBackend{values: values, now: opts.withNow}, nil
}

// get must be called with the lock held.
func (b *MemoryBackend) get(key string) ([]byte, bool) {
	v, ok := b.values.Get(key)
	if !ok {
		return nil, false
	}
	if !v.expiresAt.IsZero() && !b.now().Before(v.expiresAt) {
		b.values.Remove(key)
		return nil, false
	}
	return v.value, true
}

// Get implements Backend.
func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	const op = "MemoryBackend.Get"
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.get(key)
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return v, nil
}

// Set implements Backend. A ttl of zero never expires.
func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	v := memoryValue{value: append([]byte(nil), value...)}
	if ttl > 0 {
		v.expiresAt = b.now().Add(ttl)
	}
	b.values.Add(key, v)
	return nil
}

// Take implements Backend.
func (b *MemoryBackend) Take(_ context.Context, key string) ([]byte, error) {
	const op = "MemoryBackend.Take"
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.get(key)
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	b.values.Remove(key)
	return v, nil
}

// Delete implements Backend.
func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values.Remove(key)
	return nil
}

// Len returns the number of stored values, including expired ones not yet
// removed.
func (b *MemoryBackend) Len() int { return b.values.Len() }
