package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tech-arch1tect/tokenauth/testutils"
)

func TestMemoryStore(t *testing.T) {
	t.Run("get non-existent key", func(t *testing.T) {
		store := NewMemoryStore(testutils.FakeClock())

		count, resetTime, exists := store.Get("missing")

		assert.False(t, exists)
		assert.Zero(t, count)
		assert.True(t, resetTime.IsZero())
	})

	t.Run("set and get", func(t *testing.T) {
		clk := testutils.FakeClock()
		store := NewMemoryStore(clk)
		reset := clk.Now().Add(time.Minute)

		store.Set("k", 5, reset)

		count, resetTime, exists := store.Get("k")
		assert.True(t, exists)
		assert.Equal(t, 5, count)
		assert.Equal(t, reset, resetTime)
	})

	t.Run("increment opens and extends a window", func(t *testing.T) {
		clk := testutils.FakeClock()
		store := NewMemoryStore(clk)
		reset := clk.Now().Add(time.Minute)

		assert.Equal(t, 1, store.Increment("k", reset))
		assert.Equal(t, 2, store.Increment("k", reset))
		assert.Equal(t, 3, store.Increment("k", reset))
	})

	t.Run("window closes at reset time", func(t *testing.T) {
		clk := testutils.FakeClock()
		store := NewMemoryStore(clk)
		store.Increment("k", clk.Now().Add(time.Minute))

		clk.Advance(time.Minute)

		_, _, exists := store.Get("k")
		assert.False(t, exists)
		assert.Equal(t, 1, store.Increment("k", clk.Now().Add(time.Minute)), "a new window starts")
	})

	t.Run("reset", func(t *testing.T) {
		clk := testutils.FakeClock()
		store := NewMemoryStore(clk)
		store.Increment("k", clk.Now().Add(time.Minute))

		store.Reset("k")

		_, _, exists := store.Get("k")
		assert.False(t, exists)
	})

	t.Run("cleanup drops closed windows", func(t *testing.T) {
		clk := testutils.FakeClock()
		store := NewMemoryStore(clk)
		store.Increment("short", clk.Now().Add(time.Second))
		store.Increment("long", clk.Now().Add(time.Hour))

		clk.Advance(time.Minute)

		assert.Equal(t, 1, store.Cleanup())
		_, _, exists := store.Get("long")
		assert.True(t, exists)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		store := NewMemoryStore(nil)
		store.StartCleanup(time.Millisecond)
		store.Close()
		store.Close()
	})
}
