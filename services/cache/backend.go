// Package cache defines the narrow protocol the token authority speaks to its
// external key-value cache, with a Redis implementation for deployments and
// an in-process implementation for development and tests.
//
// Nothing outside services/resilient should hold a Backend directly.
package cache

import (
	"context"
	"errors"
	"time"
)

var ErrUnsupportedDriver = errors.New("unsupported cache driver")

// Backend is the capability set the resilient store needs. A ttl of zero
// means the key never expires.
type Backend interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX writes the key only when it is absent and reports whether this
	// call created it. Implementations must make the check-and-set atomic.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}
