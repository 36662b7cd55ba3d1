// Package state provides the shared concurrent tables the pipeline keys
// by source. Entries carry per-entry atomic activity stamps so hot-path
// reads never take the write lock.
package state

import (
	"sync"
	"sync/atomic"
	"time"
)

type entry[V any] struct {
	value    V
	lastSeen atomic.Int64 // unix nanos
}

// ExpiringMap is a concurrent map with idle-based expiry and a hard size
// cap. Expiry is driven externally through Sweep so the owning component
// controls the cadence; the cap evicts the least recently touched entry.
type ExpiringMap[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]*entry[V]
	idleTTL time.Duration
	maxSize int
}

// NewExpiringMap creates a map whose entries become sweepable after
// idleTTL without activity. maxSize 0 means unbounded.
func NewExpiringMap[K comparable, V any](idleTTL time.Duration, maxSize int) *ExpiringMap[K, V] {
	return &ExpiringMap[K, V]{
		entries: make(map[K]*entry[V]),
		idleTTL: idleTTL,
		maxSize: maxSize,
	}
}

// Get returns the value and refreshes its activity stamp.
func (m *ExpiringMap[K, V]) Get(key K) (V, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		var zero V
		return zero, false
	}
	e.lastSeen.Store(time.Now().UnixNano())
	return e.value, true
}

// Peek returns the value without touching the activity stamp.
func (m *ExpiringMap[K, V]) Peek(key K) (V, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// GetOrCreate returns the existing value or inserts the one produced by
// create. The boolean reports whether an insert happened. Concurrent
// callers race through the read path first, so create runs at most once
// per missing key.
func (m *ExpiringMap[K, V]) GetOrCreate(key K, create func() V) (V, bool) {
	now := time.Now().UnixNano()

	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if ok {
		e.lastSeen.Store(now)
		return e.value, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok {
		e.lastSeen.Store(now)
		return e.value, false
	}

	if m.maxSize > 0 && len(m.entries) >= m.maxSize {
		m.evictOldestLocked()
	}

	e = &entry[V]{value: create()}
	e.lastSeen.Store(now)
	m.entries[key] = e
	return e.value, true
}

// Set inserts or replaces a value.
func (m *ExpiringMap[K, V]) Set(key K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxSize > 0 && len(m.entries) >= m.maxSize {
		if _, exists := m.entries[key]; !exists {
			m.evictOldestLocked()
		}
	}

	e := &entry[V]{value: value}
	e.lastSeen.Store(time.Now().UnixNano())
	m.entries[key] = e
}

// Delete removes a key.
func (m *ExpiringMap[K, V]) Delete(key K) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

// CompareAndDelete removes key only while cond holds, evaluated under the
// write lock. This closes the decrement-to-zero versus re-create race on
// counter-carrying records.
func (m *ExpiringMap[K, V]) CompareAndDelete(key K, cond func(V) bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || !cond(e.value) {
		return false
	}
	delete(m.entries, key)
	return true
}

// Touch refreshes the activity stamp without reading the value.
func (m *ExpiringMap[K, V]) Touch(key K) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if ok {
		e.lastSeen.Store(time.Now().UnixNano())
	}
}

// Len returns the number of live entries.
func (m *ExpiringMap[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Range calls fn for every entry until it returns false. The callback
// must not call back into the map.
func (m *ExpiringMap[K, V]) Range(fn func(K, V) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for k, e := range m.entries {
		if !fn(k, e.value) {
			return
		}
	}
}

// Sweep removes entries idle longer than the TTL. When evictable is
// non-nil it can veto individual removals (records still holding live
// resources). Returns the number removed.
func (m *ExpiringMap[K, V]) Sweep(now time.Time, evictable func(K, V) bool) int {
	if m.idleTTL <= 0 {
		return 0
	}
	cutoff := now.Add(-m.idleTTL).UnixNano()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, e := range m.entries {
		if e.lastSeen.Load() > cutoff {
			continue
		}
		if evictable != nil && !evictable(k, e.value) {
			continue
		}
		delete(m.entries, k)
		removed++
	}
	return removed
}

func (m *ExpiringMap[K, V]) evictOldestLocked() {
	var oldestKey K
	oldest := int64(1<<63 - 1)
	found := false

	for k, e := range m.entries {
		if seen := e.lastSeen.Load(); seen < oldest {
			oldest = seen
			oldestKey = k
			found = true
		}
	}
	if found {
		delete(m.entries, oldestKey)
	}
}
