// Package breaker guards the proxy's outbound dependencies, the DNS
// resolver behind the host check and the blocklist mirror, so a dead
// dependency degrades its caller instead of stalling the login path.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// State represents the breaker state
type State int

const (
	StateClosed   State = iota // Normal operation, calls pass through
	StateOpen                  // Tripped, calls fail fast
	StateHalfOpen              // Probing whether the dependency recovered
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrOpen          = errors.New("breaker is open")
	ErrTooManyProbes = errors.New("too many probes in half-open state")
)

// ============================================================================
// CONFIGURATION
// ============================================================================

// Config holds breaker tuning.
type Config struct {
	// Name identifies this breaker in logs and stats
	Name string

	// MaxProbes is how many calls may run while half-open
	MaxProbes uint32

	// Interval is the cyclic period for clearing counts while closed
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing
	Timeout time.Duration

	// ReadyToTrip is consulted with a copy of Counts after each failure
	// while closed; returning true trips the breaker
	ReadyToTrip func(counts Counts) bool

	// OnStateChange, when set, observes every transition
	OnStateChange func(name string, from State, to State)
}

// ResolverConfig tunes a breaker for the DNS resolver behind the host
// check. Lookups are on the login path, so it trips fast and probes
// sparingly.
func ResolverConfig() *Config {
	return &Config{
		Name:      "resolver",
		MaxProbes: 2,
		Interval:  60 * time.Second,
		Timeout:   30 * time.Second,
		ReadyToTrip: func(c Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
	}
}

// MirrorConfig tunes a breaker for the blocklist mirror. Mirror writes
// are off the hot path, so it tolerates a noisier failure ratio.
func MirrorConfig() *Config {
	return &Config{
		Name:      "mirror",
		MaxProbes: 3,
		Interval:  120 * time.Second,
		Timeout:   15 * time.Second,
		ReadyToTrip: func(c Counts) bool {
			return c.Requests >= 5 && c.FailureRatio() > 0.5
		},
	}
}

// ============================================================================
// COUNTS
// ============================================================================

// Counts holds call outcome tallies for the current generation.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// FailureRatio returns failures over requests, zero when idle.
func (c Counts) FailureRatio() float64 {
	if c.Requests == 0 {
		return 0.0
	}
	return float64(c.TotalFailures) / float64(c.Requests)
}

func (c *Counts) clear() {
	*c = Counts{}
}

// Requests is tallied at call admission, the outcome counters here.
func (c *Counts) onSuccess() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// ============================================================================
// BREAKER
// ============================================================================

// Breaker is a three-state circuit breaker. Outcomes are tagged with the
// generation seen before the call so results from a previous state cannot
// pollute the current counts.
type Breaker struct {
	cfg *Config

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	expiry     time.Time
}

// New creates a breaker in the closed state.
func New(cfg *Config) *Breaker {
	if cfg == nil {
		cfg = ResolverConfig()
	}
	return &Breaker{cfg: cfg, state: StateClosed}
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.cfg.Name
}

// State returns the current state, advancing open to half-open when the
// timeout has passed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, _ := b.currentState(time.Now())
	return state
}

// Counts returns a copy of the current generation's tallies.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Run executes fn under the breaker.
func (b *Breaker) Run(fn func() error) error {
	_, err := Do(b, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Do executes fn under breaker b, returning ErrOpen or ErrTooManyProbes
// without calling fn when the breaker refuses. A panic in fn counts as a
// failure and is re-thrown.
func Do[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T

	generation, err := b.beforeCall()
	if err != nil {
		return zero, err
	}

	defer func() {
		if r := recover(); r != nil {
			b.afterCall(generation, false)
			panic(r)
		}
	}()

	result, err := fn()
	b.afterCall(generation, err == nil)
	if err != nil {
		return zero, err
	}
	return result, nil
}

func (b *Breaker) beforeCall() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, generation := b.currentState(now)

	if state == StateOpen {
		return generation, ErrOpen
	}
	if state == StateHalfOpen && b.counts.Requests >= b.cfg.MaxProbes {
		return generation, ErrTooManyProbes
	}

	b.counts.Requests++
	return generation, nil
}

func (b *Breaker) afterCall(generation uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, current := b.currentState(now)
	if generation != current {
		return
	}

	if success {
		b.onSuccess(state, now)
	} else {
		b.onFailure(state, now)
	}
}

func (b *Breaker) onSuccess(state State, now time.Time) {
	switch state {
	case StateClosed:
		b.counts.onSuccess()
	case StateHalfOpen:
		b.counts.onSuccess()
		if b.counts.ConsecutiveSuccesses >= b.cfg.MaxProbes {
			b.setState(StateClosed, now)
		}
	}
}

func (b *Breaker) onFailure(state State, now time.Time) {
	switch state {
	case StateClosed:
		b.counts.onFailure()
		if b.cfg.ReadyToTrip(b.counts) {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		b.setState(StateOpen, now)
	}
}

func (b *Breaker) currentState(now time.Time) (State, uint64) {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.toNewGeneration(now)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.setState(StateHalfOpen, now)
		}
	}
	return b.state, b.generation
}

func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}

	prev := b.state
	b.state = state
	b.toNewGeneration(now)

	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, prev, state)
	}
}

func (b *Breaker) toNewGeneration(now time.Time) {
	b.generation++
	b.counts.clear()

	var expiry time.Time
	switch b.state {
	case StateClosed:
		if b.cfg.Interval > 0 {
			expiry = now.Add(b.cfg.Interval)
		}
	case StateOpen:
		expiry = now.Add(b.cfg.Timeout)
	}
	b.expiry = expiry
}
