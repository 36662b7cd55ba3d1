// Package limiter implements the sliding-window counters behind every
// per-source rate rule, plus the optional global token-bucket budget.
package limiter

import (
	"sync/atomic"
	"time"

	"github.com/wardstone/wardstone/internal/state"
)

// Window is one sliding window: an event count and an error count over a
// start timestamp. Rotation is lock-free; concurrent hits during a
// rotation may land in either window, which keeps observed counts within
// one of the true value.
type Window struct {
	count       atomic.Int64
	errors      atomic.Int64
	windowStart atomic.Int64 // unix nanos
}

// NewWindow returns a window starting now.
func NewWindow() *Window {
	w := &Window{}
	w.windowStart.Store(time.Now().UnixNano())
	return w
}

func (w *Window) rotateIfStale(now time.Time, width time.Duration) {
	nowNs := now.UnixNano()
	start := w.windowStart.Load()
	// A clock running backwards yields a negative delta; treat as zero
	// and keep the current window so the start stays monotone.
	if nowNs-start < int64(width) {
		return
	}
	if w.windowStart.CompareAndSwap(start, nowNs) {
		w.count.Store(0)
		w.errors.Store(0)
	}
}

// Hit registers one event and returns the in-window count including it.
func (w *Window) Hit(now time.Time, width time.Duration) int64 {
	w.rotateIfStale(now, width)
	return w.count.Add(1)
}

// HitError registers one error and returns the in-window error count.
func (w *Window) HitError(now time.Time, width time.Duration) int64 {
	w.rotateIfStale(now, width)
	return w.errors.Add(1)
}

// Counts returns the current window's event and error counts.
func (w *Window) Counts() (hits, errs int64) {
	return w.count.Load(), w.errors.Load()
}

// WindowStart returns when the current window began.
func (w *Window) WindowStart() time.Time {
	return time.Unix(0, w.windowStart.Load())
}

// PerKey tracks one Window per source key. Window width is supplied per
// call so a config reload applies to the next hit without rebuilding the
// table.
type PerKey struct {
	windows *state.ExpiringMap[string, *Window]
}

// NewPerKey creates a per-key tracker whose idle windows expire after
// idleTTL. maxKeys caps the table against source-address spray.
func NewPerKey(idleTTL time.Duration, maxKeys int) *PerKey {
	return &PerKey{
		windows: state.NewExpiringMap[string, *Window](idleTTL, maxKeys),
	}
}

// Hit registers an event for key and returns the in-window count.
func (p *PerKey) Hit(key string, width time.Duration) int64 {
	w, _ := p.windows.GetOrCreate(key, NewWindow)
	return w.Hit(time.Now(), width)
}

// HitError registers an error for key and returns the in-window error
// count.
func (p *PerKey) HitError(key string, width time.Duration) int64 {
	w, _ := p.windows.GetOrCreate(key, NewWindow)
	return w.HitError(time.Now(), width)
}

// Counts reports the current counts for key without registering a hit.
func (p *PerKey) Counts(key string) (hits, errs int64) {
	w, ok := p.windows.Peek(key)
	if !ok {
		return 0, 0
	}
	return w.Counts()
}

// Forget drops all state for key.
func (p *PerKey) Forget(key string) {
	p.windows.Delete(key)
}

// Len returns the number of tracked keys.
func (p *PerKey) Len() int {
	return p.windows.Len()
}

// Sweep removes idle windows and returns how many were dropped.
func (p *PerKey) Sweep(now time.Time) int {
	return p.windows.Sweep(now, nil)
}
