package state

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreate(t *testing.T) {
	m := NewExpiringMap[string, *int](time.Minute, 0)

	calls := 0
	v, created := m.GetOrCreate("a", func() *int { calls++; n := 7; return &n })
	require.True(t, created)
	require.Equal(t, 7, *v)

	v2, created := m.GetOrCreate("a", func() *int { calls++; n := 9; return &n })
	assert.False(t, created)
	assert.Same(t, v, v2)
	assert.Equal(t, 1, calls)
}

func TestGetOrCreateConcurrent(t *testing.T) {
	m := NewExpiringMap[string, *int](time.Minute, 0)

	var wg sync.WaitGroup
	results := make([]*int, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _ := m.GetOrCreate("key", func() *int { n := i; return &n })
			results[i] = v
		}(i)
	}
	wg.Wait()

	for _, v := range results {
		assert.Same(t, results[0], v, "all goroutines must observe one value")
	}
	assert.Equal(t, 1, m.Len())
}

func TestSweepRemovesIdle(t *testing.T) {
	m := NewExpiringMap[string, int](50*time.Millisecond, 0)
	m.Set("stale", 1)
	m.Set("fresh", 2)

	time.Sleep(60 * time.Millisecond)
	m.Touch("fresh")

	removed := m.Sweep(time.Now(), nil)
	assert.Equal(t, 1, removed)

	_, ok := m.Peek("stale")
	assert.False(t, ok)
	_, ok = m.Peek("fresh")
	assert.True(t, ok)
}

func TestSweepRespectsVeto(t *testing.T) {
	m := NewExpiringMap[string, int](time.Nanosecond, 0)
	m.Set("held", 1)
	m.Set("free", 2)

	time.Sleep(time.Millisecond)
	removed := m.Sweep(time.Now(), func(k string, _ int) bool { return k != "held" })

	assert.Equal(t, 1, removed)
	_, ok := m.Peek("held")
	assert.True(t, ok)
}

func TestCompareAndDelete(t *testing.T) {
	m := NewExpiringMap[string, *int](time.Minute, 0)
	n := 0
	m.Set("k", &n)

	// Condition false: entry stays.
	assert.False(t, m.CompareAndDelete("k", func(v *int) bool { return *v == 1 }))
	_, ok := m.Peek("k")
	assert.True(t, ok)

	assert.True(t, m.CompareAndDelete("k", func(v *int) bool { return *v == 0 }))
	_, ok = m.Peek("k")
	assert.False(t, ok)

	assert.False(t, m.CompareAndDelete("k", func(*int) bool { return true }))
}

func TestSizeCapEvictsOldest(t *testing.T) {
	m := NewExpiringMap[string, int](time.Hour, 3)

	for i := 0; i < 3; i++ {
		m.Set(fmt.Sprintf("k%d", i), i)
		time.Sleep(time.Millisecond)
	}
	m.Touch("k0") // k1 is now the oldest

	m.Set("k3", 3)
	assert.Equal(t, 3, m.Len())

	_, ok := m.Peek("k1")
	assert.False(t, ok, "least recently touched entry should be evicted")
	_, ok = m.Peek("k0")
	assert.True(t, ok)
}

func TestRange(t *testing.T) {
	m := NewExpiringMap[string, int](time.Hour, 0)
	m.Set("a", 1)
	m.Set("b", 2)

	seen := make(map[string]int)
	m.Range(func(k string, v int) bool {
		seen[k] = v
		return true
	})
	assert.Equal(t, map[string]int{"a": 1, "b": 2}, seen)

	// Early exit stops iteration.
	count := 0
	m.Range(func(string, int) bool {
		count++
		return false
	})
	assert.Equal(t, 1, count)
}
