// Package l7 enforces Minecraft-protocol semantics per source: packet
// type rates, login and status-ping spam, and the handshake to play
// state machine. Every check failure drops the packet and blocks the
// source.
package l7

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wardstone/wardstone/internal/blocklist"
	"github.com/wardstone/wardstone/internal/config"
	"github.com/wardstone/wardstone/internal/core"
	"github.com/wardstone/wardstone/internal/events"
	"github.com/wardstone/wardstone/internal/limiter"
	"github.com/wardstone/wardstone/internal/monitoring"
	"github.com/wardstone/wardstone/internal/protocol"
	"github.com/wardstone/wardstone/internal/state"
)

// tracker is the per-source protocol state. Type counts share one reset
// stamp and are cleared together once a second.
type tracker struct {
	mu            sync.Mutex
	state         protocol.State
	typeCounts    map[string]int
	lastTypeReset time.Time
	logins        *limiter.Window
	pings         *limiter.Window
	excs          *limiter.Window
	totalPackets  int64
}

func newTracker() *tracker {
	return &tracker{
		state:         protocol.StateHandshake,
		typeCounts:    make(map[string]int),
		lastTypeReset: time.Now(),
		logins:        limiter.NewWindow(),
		pings:         limiter.NewWindow(),
		excs:          limiter.NewWindow(),
	}
}

// Guard is the protocol enforcement stage.
type Guard struct {
	log     zerolog.Logger
	metrics *monitoring.Metrics
	cfg     *config.Manager
	blocks  *blocklist.Blocklist
	bus     *events.Bus

	trackers *state.ExpiringMap[string, *tracker]
}

// New creates the guard. Tracker idle expiry is fixed at construction
// from the current config.
func New(cfg *config.Manager, blocks *blocklist.Blocklist, m *monitoring.Metrics, bus *events.Bus, log zerolog.Logger) *Guard {
	c := cfg.Current()
	ttl := time.Duration(c.L7.TrackerIdleExpiryMs) * time.Millisecond
	return &Guard{
		log:      log.With().Str("component", "l7").Logger(),
		metrics:  m,
		cfg:      cfg,
		blocks:   blocks,
		bus:      bus,
		trackers: state.NewExpiringMap[string, *tracker](ttl, 0),
	}
}

// OnPacket runs the protocol checks against one packet from ip, in
// order: type rate, login attempts, ping spam, state violations.
func (g *Guard) OnPacket(ip string, pkt *protocol.Packet) core.Verdict {
	c := g.cfg.Current()
	if !c.L7.Enabled {
		return core.VerdictAllow
	}

	t, _ := g.trackers.GetOrCreate(ip, newTracker)
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.totalPackets++

	// Type counts live in one map cleared together once a second.
	if now.Sub(t.lastTypeReset) >= time.Second {
		t.typeCounts = make(map[string]int)
		t.lastTypeReset = now
	}
	t.typeCounts[pkt.Type]++
	if n := t.typeCounts[pkt.Type]; n > c.L7.MaxPacketTypePerSecond {
		g.block(ip, t, c, fmt.Sprintf("packet type flood: %s %d/s (max %d)",
			pkt.Type, n, c.L7.MaxPacketTypePerSecond))
		return core.VerdictDropBlock
	}

	window := time.Duration(c.L4.BlockDurationMs) * time.Millisecond
	if strings.Contains(pkt.Type, "Login") || strings.Contains(pkt.Type, "Encryption") {
		if n := t.logins.Hit(now, window); n > int64(c.L7.MaxLoginAttemptsPerIP) {
			g.block(ip, t, c, fmt.Sprintf("login spam: %d attempts (max %d)",
				n, c.L7.MaxLoginAttemptsPerIP))
			return core.VerdictDropBlock
		}
	}
	if strings.Contains(pkt.Type, "ServerPing") || strings.Contains(pkt.Type, "StatusRequest") {
		if n := t.pings.Hit(now, window); n > int64(c.L7.MaxServerListPingsPerIP) {
			g.block(ip, t, c, fmt.Sprintf("status ping spam: %d pings (max %d)",
				n, c.L7.MaxServerListPingsPerIP))
			return core.VerdictDropBlock
		}
	}

	if c.L7.DetectProtocolViolations {
		if reason, ok := t.advance(pkt); !ok {
			g.publish(events.New(events.TypeProtocolViolation, "l7", events.SeverityWarning).
				WithIP(ip).
				WithReason(reason).
				WithData("packet_type", pkt.Type).
				WithData("state", t.state.String()))
			g.block(ip, t, c, "protocol violation: "+reason)
			return core.VerdictDropBlock
		}
	}

	return core.VerdictAllow
}

// OnException counts a caught protocol exception against ip; a burst
// past the ceiling blocks the source.
func (g *Guard) OnException(ip string, err error) {
	c := g.cfg.Current()
	if !c.L7.Enabled {
		return
	}

	t, _ := g.trackers.GetOrCreate(ip, newTracker)
	t.mu.Lock()
	defer t.mu.Unlock()

	window := time.Duration(c.L4.BlockDurationMs) * time.Millisecond
	n := t.excs.HitError(time.Now(), window)
	g.log.Debug().Str("ip", ip).Err(err).Int64("exceptions", n).Msg("protocol exception")
	if n > int64(c.L7.MaxExceptions) {
		g.block(ip, t, c, fmt.Sprintf("exception burst: %d (max %d)", n, c.L7.MaxExceptions))
	}
}

// OnDisconnect closes ip's connection state. The tracker itself lives on
// until the idle sweeper takes it, so its counters survive reconnects.
func (g *Guard) OnDisconnect(ip string) {
	t, ok := g.trackers.Peek(ip)
	if !ok {
		return
	}
	t.mu.Lock()
	t.state = protocol.StateClosed
	t.mu.Unlock()
}

// EnterPlay advances ip to the play state. The pipeline calls this once
// a login is admitted or verification begins, since the switch is driven
// by outbound packets the guard never sees.
func (g *Guard) EnterPlay(ip string) {
	t, _ := g.trackers.GetOrCreate(ip, newTracker)
	t.mu.Lock()
	t.state = protocol.StatePlay
	t.mu.Unlock()
}

// StateOf reports the connection state tracked for ip.
func (g *Guard) StateOf(ip string) protocol.State {
	t, ok := g.trackers.Peek(ip)
	if !ok {
		return protocol.StateHandshake
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// TrackedClients reports how many sources have a live tracker.
func (g *Guard) TrackedClients() int {
	return g.trackers.Len()
}

// Sweep evicts idle trackers.
func (g *Guard) Sweep(now time.Time) int {
	removed := g.trackers.Sweep(now, nil)
	g.metrics.SetTrackedEntries("l7", g.trackers.Len())
	return removed
}

// advance applies pkt to the state machine and reports a violation
// reason when the packet class is invalid for the current state. Called
// with t.mu held.
func (t *tracker) advance(pkt *protocol.Packet) (string, bool) {
	switch t.state {
	case protocol.StateClosed:
		// A fresh connection from the same source starts over.
		if pkt.Type == protocol.TypeHandshake {
			t.state = protocol.StateHandshake
		} else {
			return "packet on closed connection", false
		}
		fallthrough

	case protocol.StateHandshake:
		if pkt.Type != protocol.TypeHandshake {
			return fmt.Sprintf("%s before handshake", pkt.Type), false
		}
		switch pkt.NextState {
		case protocol.StateStatus, protocol.StateLogin:
			t.state = pkt.NextState
			return "", true
		default:
			return fmt.Sprintf("handshake requested state %s", pkt.NextState), false
		}

	case protocol.StateStatus:
		switch pkt.Type {
		case protocol.TypeStatusRequest, protocol.TypeServerPing:
			return "", true
		}
		return fmt.Sprintf("%s during status", pkt.Type), false

	case protocol.StateLogin:
		switch pkt.Type {
		case protocol.TypeLoginStart, protocol.TypeEncryptionResponse:
			return "", true
		case protocol.TypeLoginAcknowledged:
			t.state = protocol.StatePlay
			return "", true
		}
		return fmt.Sprintf("%s during login", pkt.Type), false

	case protocol.StatePlay:
		switch pkt.Type {
		case protocol.TypeHandshake, protocol.TypeStatusRequest, protocol.TypeServerPing,
			protocol.TypeLoginStart, protocol.TypeEncryptionResponse, protocol.TypeLoginAcknowledged:
			return fmt.Sprintf("%s after login completed", pkt.Type), false
		}
		return "", true
	}

	return "unknown connection state", false
}

func (g *Guard) block(ip string, t *tracker, c *config.Config, reason string) {
	t.state = protocol.StateClosed
	d := time.Duration(c.L4.BlockDurationMs) * time.Millisecond
	g.blocks.Block(ip, d, "l7", reason)
	g.log.Warn().Str("ip", ip).Int64("packets_seen", t.totalPackets).Str("reason", reason).Msg("protocol check failed")
}

func (g *Guard) publish(e *events.Event) {
	if g.bus != nil {
		g.bus.Publish(e)
	}
}
