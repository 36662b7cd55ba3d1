// Package pfilter screens packet content between the transport guard and
// the protocol tracker: a type whitelist, harmful payload patterns, and a
// per-source repeat ring that silences packet replay.
package pfilter

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/wardstone/wardstone/internal/config"
	"github.com/wardstone/wardstone/internal/core"
	"github.com/wardstone/wardstone/internal/events"
	"github.com/wardstone/wardstone/internal/monitoring"
	"github.com/wardstone/wardstone/internal/patterns"
	"github.com/wardstone/wardstone/internal/protocol"
	"github.com/wardstone/wardstone/internal/state"
)

// ring remembers the hashes of the last packets from one source. When
// every slot holds the same hash the source is replaying one packet.
type ring struct {
	mu   sync.Mutex
	buf  []uint64
	n    int
	next int
}

// push records h and reports whether the ring is full of identical
// hashes afterwards. A window change resets the ring.
func (r *ring) push(h uint64, window int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.buf) != window {
		r.buf = make([]uint64, window)
		r.n = 0
		r.next = 0
	}

	r.buf[r.next] = h
	r.next = (r.next + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
	if r.n < len(r.buf) {
		return false
	}
	for _, v := range r.buf {
		if v != h {
			return false
		}
	}
	return true
}

// Filter is the packet screening stage. It never blocks sources; its
// strongest verdict is a disconnect.
type Filter struct {
	log     zerolog.Logger
	metrics *monitoring.Metrics
	cfg     *config.Manager
	bus     *events.Bus

	compiled atomic.Pointer[patterns.Set]
	rings    *state.ExpiringMap[string, *ring]
}

// New creates the filter. Ring idle expiry is fixed at construction from
// the current config.
func New(cfg *config.Manager, m *monitoring.Metrics, bus *events.Bus, log zerolog.Logger) *Filter {
	c := cfg.Current()
	ttl := time.Duration(c.Filter.RingIdleExpiryMs) * time.Millisecond
	return &Filter{
		log:     log.With().Str("component", "pfilter").Logger(),
		metrics: m,
		cfg:     cfg,
		bus:     bus,
		rings:   state.NewExpiringMap[string, *ring](ttl, 0),
	}
}

// OnPacket screens one packet from ip. Whitelisted types bypass both the
// pattern scan and the repeat ring.
func (f *Filter) OnPacket(ip string, pkt *protocol.Packet) core.Verdict {
	c := f.cfg.Current()
	if !c.Filter.Enabled {
		return core.VerdictAllow
	}

	set := f.patternSet(c)
	if set.Whitelisted(pkt.Type) {
		return core.VerdictAllow
	}

	if c.Filter.BlockHarmfulPatterns && len(pkt.Payload) > 0 {
		if name, hit := set.Match(pkt.Payload); hit {
			f.log.Warn().
				Str("ip", ip).
				Str("type", pkt.Type).
				Str("pattern", name).
				Msg("harmful payload pattern")
			f.publish(events.New(events.TypePacketDropped, "pfilter", events.SeverityWarning).
				WithIP(ip).
				WithReason("harmful pattern " + name).
				WithData("packet_type", pkt.Type))
			return core.VerdictDropDisconnect
		}
	}

	if c.Filter.BlockRepeatedPackets {
		r, _ := f.rings.GetOrCreate(ip, func() *ring { return &ring{} })
		if r.push(hashPacket(pkt), c.Filter.RepeatWindow) {
			f.log.Debug().Str("ip", ip).Str("type", pkt.Type).Msg("repeated packet silenced")
			return core.VerdictDropSilent
		}
	}

	return core.VerdictAllow
}

// TrackedSources reports how many sources have a live repeat ring.
func (f *Filter) TrackedSources() int {
	return f.rings.Len()
}

// Sweep evicts idle repeat rings.
func (f *Filter) Sweep(now time.Time) int {
	removed := f.rings.Sweep(now, nil)
	f.metrics.SetTrackedEntries("pfilter", f.rings.Len())
	return removed
}

// patternSet returns the compiled patterns for c, compiling at most once
// per config generation. Compile failures degrade the set rather than
// failing the stage; the skipped patterns are announced once.
func (f *Filter) patternSet(c *config.Config) *patterns.Set {
	if set := f.compiled.Load(); set != nil && set.Generation() == c {
		return set
	}

	set, bad := patterns.Compile(c, c.Filter.HarmfulPatterns, c.Filter.Whitelist)
	if f.compiled.CompareAndSwap(f.compiled.Load(), set) && len(bad) > 0 {
		for _, b := range bad {
			f.log.Error().Str("pattern", b.Source).Err(b.Err).Msg("harmful pattern skipped")
		}
		f.publish(events.New(events.TypeStageDegraded, "pfilter", events.SeverityCritical).
			WithReason("invalid harmful patterns skipped").
			WithData("skipped", len(bad)))
	}
	return set
}

func (f *Filter) publish(e *events.Event) {
	if f.bus != nil {
		f.bus.Publish(e)
	}
}

func hashPacket(pkt *protocol.Packet) uint64 {
	h := fnv.New64a()
	h.Write([]byte(pkt.Type))
	h.Write([]byte{0})
	h.Write(pkt.Payload)
	return h.Sum64()
}
