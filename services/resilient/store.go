// Package resilient fronts the cache backend with a circuit breaker and a
// bounded in-process fallback cache. Backend failures never reach callers:
// reads degrade to the last value this process saw for the key, or to the
// caller's default.
//
// The fallback cache evicts the least recently written entry. Reads use Peek
// and do not refresh recency, so under pressure the values that survive an
// outage are the ones written most recently rather than the ones read most
// often.
package resilient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tech-arch1tect/tokenauth/internal/clock"
	"github.com/tech-arch1tect/tokenauth/services/cache"
	"github.com/tech-arch1tect/tokenauth/services/logging"
	"go.uber.org/zap"
)

type Options struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	HalfOpenMaxCalls int
	FallbackSize     int
	OperationTimeout time.Duration
}

type SetResult int

const (
	Acquired SetResult = iota
	AlreadySet
)

func (r SetResult) String() string {
	if r == Acquired {
		return "acquired"
	}
	return "already_set"
}

type Stats struct {
	State           string    `json:"state"`
	FailureCount    int       `json:"failure_count"`
	TotalCalls      int64     `json:"total_calls"`
	TotalFailures   int64     `json:"total_failures"`
	FallbackHits    int64     `json:"fallback_hits"`
	RejectedCalls   int64     `json:"rejected_calls"`
	LastFailureTime time.Time `json:"last_failure_time,omitzero"`
	FallbackSize    int       `json:"fallback_size"`
}

type fallbackEntry struct {
	value     any
	expiresAt time.Time
}

type lookup struct {
	value string
	found bool
}

type Store struct {
	backend  cache.Backend
	breaker  *Breaker
	fallback *lru.Cache[string, fallbackEntry]
	timeout  time.Duration
	clock    clock.Clock
	logger   *logging.Service

	// serialises the local set-if-absent used while the backend is out
	localMu      sync.Mutex
	fallbackHits atomic.Int64
}

func NewStore(backend cache.Backend, opts Options, logger *logging.Service, c clock.Clock) (*Store, error) {
	if backend == nil {
		return nil, errors.New("resilient: backend is required")
	}

	fallback, err := lru.New[string, fallbackEntry](opts.FallbackSize)
	if err != nil {
		return nil, err
	}

	c = clock.OrReal(c)
	logger = logger.Named("resilient")

	breaker := NewBreaker(BreakerSettings{
		FailureThreshold: opts.FailureThreshold,
		RecoveryTimeout:  opts.RecoveryTimeout,
		HalfOpenMaxCalls: opts.HalfOpenMaxCalls,
	}, c)
	breaker.OnStateChange(func(from, to State) {
		logger.Warn("circuit state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	})

	timeout := opts.OperationTimeout
	if timeout <= 0 {
		timeout = 250 * time.Millisecond
	}

	return &Store{
		backend:  backend,
		breaker:  breaker,
		fallback: fallback,
		timeout:  timeout,
		clock:    c,
		logger:   logger,
	}, nil
}

// Execute runs op against the backend under the breaker. On success the
// result is remembered under cacheKey, when one is given, and returned. On
// any failure, or while the circuit is open, the remembered value for
// cacheKey is returned if there is one, otherwise fallback.
func Execute[T any](ctx context.Context, s *Store, op func(context.Context, cache.Backend) (T, error), fallback T, cacheKey string) T {
	result, ok := execute(ctx, s, op)
	if !ok {
		return fallbackFor(s, cacheKey, fallback)
	}
	if cacheKey != "" {
		s.remember(cacheKey, result, 0)
	}
	return result
}

// execute reports false when the backend could not produce a result.
func execute[T any](ctx context.Context, s *Store, op func(context.Context, cache.Backend) (T, error)) (T, bool) {
	var zero T

	generation, allowed := s.breaker.Allow()
	if !allowed {
		return zero, false
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	result, err := op(opCtx, s.backend)
	cancel()

	if err != nil {
		// the caller gave up; that says nothing about the backend
		if ctx.Err() != nil {
			s.breaker.Release(generation)
			return zero, false
		}
		s.breaker.Failure(generation)
		s.logger.Debug("cache backend call failed", zap.Error(err))
		return zero, false
	}

	s.breaker.Success(generation)
	return result, true
}

func fallbackFor[T any](s *Store, cacheKey string, fallback T) T {
	if cacheKey == "" {
		return fallback
	}
	entry, ok := s.peek(cacheKey)
	if !ok {
		return fallback
	}
	value, ok := entry.value.(T)
	if !ok {
		return fallback
	}
	s.fallbackHits.Add(1)
	return value
}

// Get returns the value stored under key. found is false for a miss and for
// an unreachable backend with nothing remembered locally.
func (s *Store) Get(ctx context.Context, key string) (value string, found bool) {
	res := Execute(ctx, s, func(ctx context.Context, b cache.Backend) (lookup, error) {
		v, ok, err := b.Get(ctx, key)
		return lookup{value: v, found: ok}, err
	}, lookup{}, getKey(key))
	return res.value, res.found
}

func (s *Store) Exists(ctx context.Context, key string) bool {
	return Execute(ctx, s, func(ctx context.Context, b cache.Backend) (bool, error) {
		return b.Exists(ctx, key)
	}, false, existsKey(key))
}

// Set writes key to the backend and reports whether the backend accepted it.
// The value is remembered locally either way, so a marker written during an
// outage is still honoured by this process.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) bool {
	_, ok := execute(ctx, s, func(ctx context.Context, b cache.Backend) (struct{}, error) {
		return struct{}{}, b.Set(ctx, key, value, ttl)
	})
	s.prime(key, value, ttl)
	return ok
}

// SetIfAbsent atomically claims key. When the backend cannot be consulted
// the claim is made against the local fallback cache instead, which keeps
// the guarantee within this process only.
func (s *Store) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) SetResult {
	acquired, ok := execute(ctx, s, func(ctx context.Context, b cache.Backend) (bool, error) {
		return b.SetNX(ctx, key, value, ttl)
	})
	if ok {
		if acquired {
			s.prime(key, value, ttl)
			return Acquired
		}
		s.remember(existsKey(key), true, ttl)
		return AlreadySet
	}

	s.logger.Warn("cache backend unavailable, claiming key locally", zap.String("key", key))

	s.localMu.Lock()
	defer s.localMu.Unlock()

	if s.locallyPresent(key) {
		return AlreadySet
	}
	s.prime(key, value, ttl)
	return Acquired
}

func (s *Store) Delete(ctx context.Context, key string) bool {
	_, ok := execute(ctx, s, func(ctx context.Context, b cache.Backend) (struct{}, error) {
		return struct{}{}, b.Delete(ctx, key)
	})
	s.fallback.Remove(getKey(key))
	s.fallback.Remove(existsKey(key))
	return ok
}

func (s *Store) Stats() Stats {
	snap := s.breaker.Snapshot()
	return Stats{
		State:           snap.State.String(),
		FailureCount:    snap.FailureCount,
		TotalCalls:      snap.TotalCalls,
		TotalFailures:   snap.TotalFailures,
		FallbackHits:    s.fallbackHits.Load(),
		RejectedCalls:   snap.RejectedCalls,
		LastFailureTime: snap.LastFailureTime,
		FallbackSize:    s.fallback.Len(),
	}
}

func (s *Store) State() State {
	return s.breaker.State()
}

// Ping checks the backend directly, bypassing the breaker.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.backend.Ping(ctx)
}

func (s *Store) locallyPresent(key string) bool {
	if entry, ok := s.peek(existsKey(key)); ok {
		if present, _ := entry.value.(bool); present {
			return true
		}
	}
	if entry, ok := s.peek(getKey(key)); ok {
		if l, _ := entry.value.(lookup); l.found {
			return true
		}
	}
	return false
}

func (s *Store) prime(key, value string, ttl time.Duration) {
	s.remember(getKey(key), lookup{value: value, found: true}, ttl)
	s.remember(existsKey(key), true, ttl)
}

func (s *Store) remember(cacheKey string, value any, ttl time.Duration) {
	entry := fallbackEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = s.clock.Now().Add(ttl)
	}
	s.fallback.Add(cacheKey, entry)
}

func (s *Store) peek(cacheKey string) (fallbackEntry, bool) {
	entry, ok := s.fallback.Peek(cacheKey)
	if !ok {
		return fallbackEntry{}, false
	}
	if !entry.expiresAt.IsZero() && !s.clock.Now().Before(entry.expiresAt) {
		s.fallback.Remove(cacheKey)
		return fallbackEntry{}, false
	}
	return entry, true
}

func getKey(key string) string    { return "get:" + key }
func existsKey(key string) string { return "exists:" + key }
