package testutils

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/tech-arch1tect/tokenauth/internal/clock"
	"github.com/tech-arch1tect/tokenauth/services/cache"
)

var ErrBackendDown = errors.New("connection refused")

// FlakyBackend is an in-memory cache backend that fails every call while
// Down is set, to simulate a cache outage.
type FlakyBackend struct {
	*cache.MemoryBackend
	Down  atomic.Bool
	Calls atomic.Int64
}

func NewFlakyBackend(c clock.Clock) *FlakyBackend {
	return &FlakyBackend{MemoryBackend: cache.NewMemoryBackend(c)}
}

func (f *FlakyBackend) check() error {
	f.Calls.Add(1)
	if f.Down.Load() {
		return ErrBackendDown
	}
	return nil
}

func (f *FlakyBackend) Get(ctx context.Context, key string) (string, bool, error) {
	if err := f.check(); err != nil {
		return "", false, err
	}
	return f.MemoryBackend.Get(ctx, key)
}

func (f *FlakyBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := f.check(); err != nil {
		return err
	}
	return f.MemoryBackend.Set(ctx, key, value, ttl)
}

func (f *FlakyBackend) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := f.check(); err != nil {
		return false, err
	}
	return f.MemoryBackend.SetNX(ctx, key, value, ttl)
}

func (f *FlakyBackend) Delete(ctx context.Context, key string) error {
	if err := f.check(); err != nil {
		return err
	}
	return f.MemoryBackend.Delete(ctx, key)
}

func (f *FlakyBackend) Exists(ctx context.Context, key string) (bool, error) {
	if err := f.check(); err != nil {
		return false, err
	}
	return f.MemoryBackend.Exists(ctx, key)
}

func (f *FlakyBackend) Ping(ctx context.Context) error {
	if err := f.check(); err != nil {
		return err
	}
	return f.MemoryBackend.Ping(ctx)
}
