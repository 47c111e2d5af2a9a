package utils_test

import (
	"sync"
	"testing"
	"time"

	"github.com/robalyx/resonance/pkg/utils"
	"github.com/stretchr/testify/assert"
)

func TestTTLMap(t *testing.T) {
	t.Parallel()

	ttl := 100 * time.Millisecond

	t.Run("basic set and get", func(t *testing.T) {
		t.Parallel()

		m := utils.NewTTLMap[string, int](ttl)
		defer m.Close()

		m.Set("key", 123)
		value, exists := m.Get("key")
		assert.True(t, exists)
		assert.Equal(t, 123, value)

		m.Set("key", 456)
		value, _ = m.Get("key")
		assert.Equal(t, 456, value)
	})

	t.Run("expiration", func(t *testing.T) {
		t.Parallel()

		m := utils.NewTTLMap[string, int](ttl)
		defer m.Close()

		m.Set("key", 456)
		time.Sleep(ttl + 50*time.Millisecond)

		_, exists := m.Get("key")
		assert.False(t, exists)
	})

	t.Run("delete", func(t *testing.T) {
		t.Parallel()

		m := utils.NewTTLMap[string, int](ttl)
		defer m.Close()

		m.Set("key", 789)
		m.Delete("key")

		_, exists := m.Get("key")
		assert.False(t, exists)
		assert.Zero(t, m.Len())
	})

	t.Run("get or set", func(t *testing.T) {
		t.Parallel()

		m := utils.NewTTLMap[string, int](ttl)
		defer m.Close()

		calls := 0
		create := func() int {
			calls++
			return calls
		}

		assert.Equal(t, 1, m.GetOrSet("key", create))
		assert.Equal(t, 1, m.GetOrSet("key", create))
		assert.Equal(t, 1, calls)

		time.Sleep(ttl + 50*time.Millisecond)
		assert.Equal(t, 2, m.GetOrSet("key", create))
	})
}

func TestTTLMapConcurrent(t *testing.T) {
	t.Parallel()

	m := utils.NewTTLMap[string, int](100 * time.Millisecond)
	defer m.Close()

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		for i := range 100 {
			m.Set("key", i)
		}
	}()

	go func() {
		defer wg.Done()
		for range 100 {
			m.Get("key")
		}
	}()

	go func() {
		defer wg.Done()
		for range 100 {
			m.GetOrSet("other", func() int { return 1 })
		}
	}()

	wg.Wait()

	_, exists := m.Get("other")
	assert.True(t, exists)
}
