package cache

import (
	"context"
	"sync"
	"time"

	"github.com/tech-arch1tect/tokenauth/internal/clock"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryBackend keeps entries in a mutex-guarded map. It is only suitable for
// a single process; multi-instance deployments need Redis.
type MemoryBackend struct {
	mu    sync.Mutex
	data  map[string]memoryEntry
	clock clock.Clock
	stop  chan struct{}
	once  sync.Once
}

func NewMemoryBackend(c clock.Clock) *MemoryBackend {
	return &MemoryBackend{
		data:  make(map[string]memoryEntry),
		clock: clock.OrReal(c),
		stop:  make(chan struct{}),
	}
}

// StartCleanup purges expired entries every interval until Close.
func (m *MemoryBackend) StartCleanup(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.Cleanup()
			case <-m.stop:
				return
			}
		}
	}()
}

// Cleanup removes expired entries and returns how many were dropped.
func (m *MemoryBackend) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	removed := 0
	for key, entry := range m.data {
		if entry.expired(now) {
			delete(m.data, key)
			removed++
		}
	}
	return removed
}

func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

func (m *MemoryBackend) lookup(key string) (memoryEntry, bool) {
	entry, ok := m.data[key]
	if !ok {
		return memoryEntry{}, false
	}
	if entry.expired(m.clock.Now()) {
		delete(m.data, key)
		return memoryEntry{}, false
	}
	return entry, true
}

func (m *MemoryBackend) entry(value string, ttl time.Duration) memoryEntry {
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = m.clock.Now().Add(ttl)
	}
	return e
}

func (m *MemoryBackend) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.lookup(key)
	return entry.value, ok, nil
}

func (m *MemoryBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = m.entry(value, ttl)
	return nil
}

func (m *MemoryBackend) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.lookup(key); ok {
		return false, nil
	}
	m.data[key] = m.entry(value, ttl)
	return true, nil
}

func (m *MemoryBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

func (m *MemoryBackend) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.lookup(key)
	return ok, nil
}

func (m *MemoryBackend) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryBackend) Close() error {
	m.once.Do(func() { close(m.stop) })
	return nil
}
