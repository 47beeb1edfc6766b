package ratelimit

import (
	"sync"
	"time"

	"github.com/tech-arch1tect/tokenauth/internal/clock"
)

// Store keeps one fixed window counter per key.
type Store interface {
	Get(key string) (count int, resetTime time.Time, exists bool)
	Set(key string, count int, resetTime time.Time)
	Increment(key string, resetTime time.Time) (count int)
	Reset(key string)
}

type MemoryStore struct {
	mu    sync.RWMutex
	data  map[string]*window
	clock clock.Clock

	stop     chan struct{}
	stopOnce sync.Once
}

type window struct {
	count     int
	resetTime time.Time
}

func NewMemoryStore(c clock.Clock) *MemoryStore {
	return &MemoryStore{
		data:  make(map[string]*window),
		clock: clock.OrReal(c),
		stop:  make(chan struct{}),
	}
}

func (s *MemoryStore) Get(key string) (int, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if w, ok := s.data[key]; ok && s.clock.Now().Before(w.resetTime) {
		return w.count, w.resetTime, true
	}
	return 0, time.Time{}, false
}

func (s *MemoryStore) Set(key string, count int, resetTime time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = &window{count: count, resetTime: resetTime}
}

// Increment bumps the live window for key, or opens a new one ending at
// resetTime.
func (s *MemoryStore) Increment(key string, resetTime time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.data[key]; ok && s.clock.Now().Before(w.resetTime) {
		w.count++
		return w.count
	}
	s.data[key] = &window{count: 1, resetTime: resetTime}
	return 1
}

func (s *MemoryStore) Reset(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

// Cleanup drops closed windows and returns how many were removed.
func (s *MemoryStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	removed := 0
	for key, w := range s.data {
		if !now.Before(w.resetTime) {
			delete(s.data, key)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) StartCleanup(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Cleanup()
			case <-s.stop:
				return
			}
		}
	}()
}

func (s *MemoryStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}
