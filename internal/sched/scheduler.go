// Package sched runs the background loops: periodic maintenance sweeps,
// status reports, and one-shot deadlines for verification sessions.
package sched

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/wardstone/wardstone/internal/monitoring"
)

// Scheduler owns every background goroutine so Stop can drain them in one
// place. Task panics are contained per tick; a panicking task stays
// scheduled.
type Scheduler struct {
	log zerolog.Logger

	mu      sync.Mutex
	stopped bool
	stopCh  chan struct{}
	timers  map[*time.Timer]struct{}
	wg      sync.WaitGroup
}

// New creates an idle scheduler.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		log:    log.With().Str("component", "sched").Logger(),
		stopCh: make(chan struct{}),
		timers: make(map[*time.Timer]struct{}),
	}
}

// Every runs fn on a fixed interval until Stop. A tick is skipped when
// the previous run of the same task is still going.
func (s *Scheduler) Every(name string, interval time.Duration, fn func()) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	var running atomic.Bool
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				if !running.CompareAndSwap(false, true) {
					s.log.Warn().Str("task", name).Msg("tick skipped, previous run still active")
					continue
				}
				s.runTask(name, fn)
				running.Store(false)
			}
		}
	}()
}

// After runs fn once after d. The returned cancel reports true when it
// prevented the run. Stop cancels all pending timers.
func (s *Scheduler) After(name string, d time.Duration, fn func()) (cancel func() bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return func() bool { return false }
	}

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.forget(t)
		s.runTask(name, fn)
	})
	s.timers[t] = struct{}{}

	return func() bool {
		s.forget(t)
		return t.Stop()
	}
}

func (s *Scheduler) runTask(name string, fn func()) {
	defer monitoring.RecoverPanic(s.log, "task "+name)
	fn()
}

func (s *Scheduler) forget(t *time.Timer) {
	s.mu.Lock()
	delete(s.timers, t)
	s.mu.Unlock()
}

// Stop cancels pending timers, stops every loop, and waits for in-flight
// runs to finish. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopCh)
	for t := range s.timers {
		t.Stop()
	}
	s.timers = map[*time.Timer]struct{}{}
	s.mu.Unlock()

	s.wg.Wait()
}
