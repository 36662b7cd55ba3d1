// Package blocklist maintains the table of temporarily blocked source
// addresses shared by every enforcement stage, and fans block decisions
// out to the optional mirrors (Redis for sibling proxies, an XDP map for
// in-kernel drops).
package blocklist

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wardstone/wardstone/internal/events"
	"github.com/wardstone/wardstone/internal/monitoring"
)

// Entry is one blocked address.
type Entry struct {
	IP        string    `json:"ip"`
	Source    string    `json:"source"`
	Reason    string    `json:"reason"`
	BlockedAt time.Time `json:"blocked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the block has lapsed at now.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Mirror propagates block decisions to an external enforcement point.
// Mirrors are best effort: a failing mirror never blocks the pipeline.
type Mirror interface {
	Name() string
	Block(ctx context.Context, e Entry) error
	Unblock(ctx context.Context, ip string) error
	Close() error
}

// Listener is implemented by mirrors that also carry decisions made by
// sibling proxies back to this one.
type Listener interface {
	Listen(ctx context.Context, apply func(action string, e Entry)) (func(), error)
}

type mirrorOp struct {
	entry   Entry
	unblock bool
}

// Blocklist is the authoritative in-memory block table. Mirror writes go
// through a single worker fed by a bounded queue so the packet path never
// waits on Redis or the kernel.
type Blocklist struct {
	log     zerolog.Logger
	metrics *monitoring.Metrics
	bus     *events.Bus
	mirrors []Mirror

	mu      sync.RWMutex
	entries map[string]Entry

	queue  chan mirrorOp
	stopCh chan struct{}
	wg     sync.WaitGroup
	unsubs []func()
}

// New creates an empty blocklist with the given mirrors.
func New(log zerolog.Logger, m *monitoring.Metrics, bus *events.Bus, mirrors ...Mirror) *Blocklist {
	return &Blocklist{
		log:     log.With().Str("component", "blocklist").Logger(),
		metrics: m,
		bus:     bus,
		mirrors: mirrors,
		entries: make(map[string]Entry),
		queue:   make(chan mirrorOp, 1024),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the mirror worker and subscribes to mirrors that relay
// sibling decisions. Without mirrors it is a no-op.
func (b *Blocklist) Start() {
	if len(b.mirrors) == 0 {
		return
	}
	b.wg.Add(1)
	go b.mirrorLoop()

	for _, m := range b.mirrors {
		l, ok := m.(Listener)
		if !ok {
			continue
		}
		unsub, err := l.Listen(context.Background(), b.applyRemote)
		if err != nil {
			b.log.Warn().Err(err).Str("mirror", m.Name()).Msg("mirror subscribe failed")
			continue
		}
		b.unsubs = append(b.unsubs, unsub)
	}
}

// Stop detaches the listeners, drains the mirror worker and closes the
// mirrors.
func (b *Blocklist) Stop() {
	for _, unsub := range b.unsubs {
		unsub()
	}
	close(b.stopCh)
	b.wg.Wait()
	for _, m := range b.mirrors {
		if err := m.Close(); err != nil {
			b.log.Warn().Err(err).Str("mirror", m.Name()).Msg("mirror close failed")
		}
	}
}

// Block places ip on the blocklist for d. Re-blocking an address that is
// already blocked is a no-op and keeps the original expiry, so racing
// stages cannot extend each other's blocks. Returns true when the entry
// is new.
func (b *Blocklist) Block(ip string, d time.Duration, source, reason string) bool {
	now := time.Now()

	b.mu.Lock()
	if cur, ok := b.entries[ip]; ok && !cur.Expired(now) {
		b.mu.Unlock()
		return false
	}
	e := Entry{
		IP:        ip,
		Source:    source,
		Reason:    reason,
		BlockedAt: now,
		ExpiresAt: now.Add(d),
	}
	b.entries[ip] = e
	size := len(b.entries)
	b.mu.Unlock()

	b.log.Warn().
		Str("ip", ip).
		Str("source", source).
		Str("reason", reason).
		Dur("duration", d).
		Msg("ip blocked")
	b.metrics.RecordBlock(source)
	b.metrics.SetBlockedIPs(size)
	b.publish(events.New(events.TypeIPBlocked, source, events.SeverityWarning).
		WithIP(ip).
		WithReason(reason).
		WithData("expires_at", e.ExpiresAt))
	b.enqueue(mirrorOp{entry: e})
	return true
}

// IsBlocked reports whether ip is currently blocked. An expired entry is
// removed on the way out.
func (b *Blocklist) IsBlocked(ip string) bool {
	now := time.Now()

	b.mu.RLock()
	e, ok := b.entries[ip]
	b.mu.RUnlock()
	if !ok {
		return false
	}
	if !e.Expired(now) {
		return true
	}

	b.mu.Lock()
	// Another caller may have swept or re-blocked while upgrading.
	if cur, ok := b.entries[ip]; ok && cur.Expired(now) {
		delete(b.entries, ip)
		size := len(b.entries)
		b.mu.Unlock()
		b.expired(cur, size)
		return false
	}
	cur, ok := b.entries[ip]
	b.mu.Unlock()
	return ok && !cur.Expired(now)
}

// Unblock removes ip immediately, regardless of expiry. Used by the ops
// API. Returns true when an entry was removed.
func (b *Blocklist) Unblock(ip string) bool {
	b.mu.Lock()
	e, ok := b.entries[ip]
	if ok {
		delete(b.entries, ip)
	}
	size := len(b.entries)
	b.mu.Unlock()
	if !ok {
		return false
	}

	b.log.Info().Str("ip", ip).Msg("ip unblocked")
	b.metrics.SetBlockedIPs(size)
	b.publish(events.New(events.TypeIPUnblocked, "ops", events.SeverityInfo).
		WithIP(ip).
		WithReason("manual unblock"))
	b.enqueue(mirrorOp{entry: e, unblock: true})
	return true
}

// applyRemote installs a decision made by a sibling proxy. The entry is
// adopted as-is so both proxies expire it together, and nothing is
// written back to the mirrors.
func (b *Blocklist) applyRemote(action string, e Entry) {
	now := time.Now()
	switch action {
	case "block":
		if e.Expired(now) {
			return
		}
		b.mu.Lock()
		if cur, ok := b.entries[e.IP]; ok && !cur.Expired(now) {
			b.mu.Unlock()
			return
		}
		b.entries[e.IP] = e
		size := len(b.entries)
		b.mu.Unlock()

		b.log.Info().
			Str("ip", e.IP).
			Str("source", e.Source).
			Str("reason", e.Reason).
			Msg("block adopted from sibling")
		b.metrics.RecordBlock("remote")
		b.metrics.SetBlockedIPs(size)
		b.publish(events.New(events.TypeIPBlocked, "remote", events.SeverityWarning).
			WithIP(e.IP).
			WithReason(e.Reason).
			WithData("expires_at", e.ExpiresAt))

	case "unblock":
		b.mu.Lock()
		_, ok := b.entries[e.IP]
		if ok {
			delete(b.entries, e.IP)
		}
		size := len(b.entries)
		b.mu.Unlock()
		if !ok {
			return
		}
		b.log.Info().Str("ip", e.IP).Msg("unblock adopted from sibling")
		b.metrics.SetBlockedIPs(size)
		b.publish(events.New(events.TypeIPUnblocked, "remote", events.SeverityInfo).
			WithIP(e.IP).
			WithReason("sibling unblock"))
	}
}

// Sweep drops expired entries and returns how many were removed.
func (b *Blocklist) Sweep(now time.Time) int {
	var lapsed []Entry

	b.mu.Lock()
	for ip, e := range b.entries {
		if e.Expired(now) {
			delete(b.entries, ip)
			lapsed = append(lapsed, e)
		}
	}
	size := len(b.entries)
	b.mu.Unlock()

	for _, e := range lapsed {
		b.expired(e, size)
	}
	return len(lapsed)
}

// Len returns the number of live entries.
func (b *Blocklist) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Snapshot returns the current entries ordered by expiry.
func (b *Blocklist) Snapshot() []Entry {
	b.mu.RLock()
	out := make([]Entry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e)
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	return out
}

func (b *Blocklist) expired(e Entry, size int) {
	b.log.Info().Str("ip", e.IP).Str("source", e.Source).Msg("block expired")
	b.metrics.SetBlockedIPs(size)
	b.publish(events.New(events.TypeIPUnblocked, e.Source, events.SeverityInfo).
		WithIP(e.IP).
		WithReason("block expired"))
	b.enqueue(mirrorOp{entry: e, unblock: true})
}

func (b *Blocklist) publish(e *events.Event) {
	if b.bus != nil {
		b.bus.Publish(e)
	}
}

// enqueue hands an op to the mirror worker without blocking; a full
// queue sheds the op and keeps the authoritative table correct.
func (b *Blocklist) enqueue(op mirrorOp) {
	if len(b.mirrors) == 0 {
		return
	}
	select {
	case b.queue <- op:
	default:
		b.log.Warn().Str("ip", op.entry.IP).Msg("mirror queue full, op dropped")
		for _, m := range b.mirrors {
			b.metrics.RecordMirrorError(m.Name())
		}
	}
}

func (b *Blocklist) mirrorLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopCh:
			// Drain what is already queued before shutting down.
			for {
				select {
				case op := <-b.queue:
					b.applyMirrors(op)
				default:
					return
				}
			}
		case op := <-b.queue:
			b.applyMirrors(op)
		}
	}
}

func (b *Blocklist) applyMirrors(op mirrorOp) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for _, m := range b.mirrors {
		var err error
		if op.unblock {
			err = m.Unblock(ctx, op.entry.IP)
		} else {
			err = m.Block(ctx, op.entry)
		}
		if err != nil {
			b.metrics.RecordMirrorError(m.Name())
			b.log.Warn().Err(err).
				Str("mirror", m.Name()).
				Str("ip", op.entry.IP).
				Bool("unblock", op.unblock).
				Msg("mirror write failed")
		}
	}
}
