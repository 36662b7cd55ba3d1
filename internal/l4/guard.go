// Package l4 enforces the transport-level ceilings: concurrent
// connections per source, packet rate per source, malformed-traffic
// bursts, and the optional global throughput budget. It sees every
// connection before a single protocol byte is parsed.
package l4

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/wardstone/wardstone/internal/blocklist"
	"github.com/wardstone/wardstone/internal/config"
	"github.com/wardstone/wardstone/internal/core"
	"github.com/wardstone/wardstone/internal/limiter"
	"github.com/wardstone/wardstone/internal/monitoring"
	"github.com/wardstone/wardstone/internal/state"
)

// Conntrack entries linger after the last disconnect so rate windows
// survive reconnect churn.
const trackIdleTTL = 5 * time.Minute

// track is the per-source state: live connection count plus the packet
// and error windows.
type track struct {
	conns atomic.Int64
	rate  *limiter.Window
	errs  *limiter.Window
}

func newTrack() *track {
	return &track{rate: limiter.NewWindow(), errs: limiter.NewWindow()}
}

// Guard is the L4 enforcement stage. Limits are read from the config
// manager on every call, so a reload applies to the next connection or
// packet without a restart.
type Guard struct {
	log     zerolog.Logger
	metrics *monitoring.Metrics
	cfg     *config.Manager
	blocks  *blocklist.Blocklist

	budget atomic.Pointer[limiter.GlobalBudget]
	track  *state.ExpiringMap[string, *track]
}

// New creates the guard.
func New(cfg *config.Manager, blocks *blocklist.Blocklist, m *monitoring.Metrics, log zerolog.Logger) *Guard {
	g := &Guard{
		log:     log.With().Str("component", "l4").Logger(),
		metrics: m,
		cfg:     cfg,
		blocks:  blocks,
		track:   state.NewExpiringMap[string, *track](trackIdleTTL, 0),
	}
	c := cfg.Current()
	g.budget.Store(limiter.NewGlobalBudget(c.L4.GlobalPacketsPerSecond, c.L4.GlobalBurst))
	return g
}

// Rebind rebuilds state derived from config after a reload. Per-call
// limits need no rebuild; only the global bucket is constructed once.
func (g *Guard) Rebind(c *config.Config) {
	g.budget.Store(limiter.NewGlobalBudget(c.L4.GlobalPacketsPerSecond, c.L4.GlobalBurst))
}

// OnConnect admits or rejects a new connection from ip.
//
// A blocked source is dropped without a response so probing tells the
// attacker nothing. Crossing the concurrent-connection cap rejects the
// new connection, leaves the established ones alone, and blocks the
// source.
func (g *Guard) OnConnect(ip string) core.Verdict {
	c := g.cfg.Current()
	if !c.L4.Enabled {
		return core.VerdictAllow
	}
	if g.blocks.IsBlocked(ip) {
		return core.VerdictDropSilent
	}

	t, _ := g.track.GetOrCreate(ip, newTrack)
	n := t.conns.Add(1)
	if n > int64(c.L4.MaxConnectionsPerIP) {
		// This connection never counts as established.
		t.conns.Add(-1)
		g.block(ip, c, fmt.Sprintf("connection cap exceeded: %d concurrent (max %d)",
			n, c.L4.MaxConnectionsPerIP))
		return core.VerdictDropBlock
	}

	g.log.Debug().Str("ip", ip).Int64("connections", n).Msg("connection admitted")
	return core.VerdictAllow
}

// OnPacket applies the global budget, the size ceiling, and the
// per-source rate window to one inbound packet. size is the decoded
// frame length.
func (g *Guard) OnPacket(ip string, size int) core.Verdict {
	c := g.cfg.Current()
	if !c.L4.Enabled {
		return core.VerdictAllow
	}
	if g.blocks.IsBlocked(ip) {
		// The block landed mid-stream; tear the connection down.
		return core.VerdictDropDisconnect
	}
	if !g.budget.Load().Allow() {
		g.log.Debug().Str("ip", ip).Msg("global budget exhausted, packet shed")
		return core.VerdictDropSilent
	}
	if max := c.Filter.MaxPacketSize; max > 0 && size > max {
		g.log.Warn().Str("ip", ip).Int("size", size).Int("max", max).Msg("oversized packet")
		return core.VerdictDropDisconnect
	}

	t, _ := g.track.GetOrCreate(ip, newTrack)
	n := t.rate.Hit(time.Now(), g.window(c))
	if n > int64(c.L4.MaxPacketsPerSecond) {
		g.block(ip, c, fmt.Sprintf("packet rate exceeded: %d in window (max %d/s)",
			n, c.L4.MaxPacketsPerSecond))
		return core.VerdictDropBlock
	}
	return core.VerdictAllow
}

// OnException counts a malformed-traffic error against ip. A burst of
// errors beyond the window ceiling blocks the source.
func (g *Guard) OnException(ip string, err error) {
	c := g.cfg.Current()
	if !c.L4.Enabled {
		return
	}

	t, _ := g.track.GetOrCreate(ip, newTrack)
	n := t.errs.HitError(time.Now(), g.window(c))
	g.log.Debug().Str("ip", ip).Err(err).Int64("errors", n).Msg("connection error")
	if n > int64(c.L4.MaxErrorsPerWindow) {
		g.block(ip, c, fmt.Sprintf("error burst: %d in window (max %d)",
			n, c.L4.MaxErrorsPerWindow))
	}
}

// OnDisconnect releases one connection slot for ip.
func (g *Guard) OnDisconnect(ip string) {
	t, ok := g.track.Peek(ip)
	if !ok {
		return
	}
	if n := t.conns.Add(-1); n < 0 {
		// A disconnect for a connection rejected at the cap; undo.
		t.conns.CompareAndSwap(n, 0)
	}
}

// ActiveConnections reports the live connection count for ip.
func (g *Guard) ActiveConnections(ip string) int {
	t, ok := g.track.Peek(ip)
	if !ok {
		return 0
	}
	return int(t.conns.Load())
}

// TrackedSources reports how many addresses have conntrack state.
func (g *Guard) TrackedSources() int {
	return g.track.Len()
}

// Sweep evicts idle conntrack entries. Sources with live connections
// stay regardless of idle time.
func (g *Guard) Sweep(now time.Time) int {
	removed := g.track.Sweep(now, func(_ string, t *track) bool {
		return t.conns.Load() == 0
	})
	g.metrics.SetTrackedEntries("l4", g.track.Len())
	return removed
}

func (g *Guard) window(c *config.Config) time.Duration {
	return time.Duration(c.L4.RateLimitWindowMs) * time.Millisecond
}

func (g *Guard) block(ip string, c *config.Config, reason string) {
	d := time.Duration(c.L4.BlockDurationMs) * time.Millisecond
	g.blocks.Block(ip, d, "l4", reason)
}
