// Package vworld synthesizes a minimal in-proxy game world for players
// who must prove they are human before reaching a real backend. The
// world issues a versioned Join-Game state, samples the client's
// movement for a bounded window, and resolves exactly one verdict per
// session.
package vworld

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wardstone/wardstone/internal/config"
	"github.com/wardstone/wardstone/internal/core"
	"github.com/wardstone/wardstone/internal/events"
	"github.com/wardstone/wardstone/internal/monitoring"
	"github.com/wardstone/wardstone/internal/protocol"
	"github.com/wardstone/wardstone/internal/sched"
	"github.com/wardstone/wardstone/internal/state"
)

const (
	// Synthetic entity ids live in a reserved space far above anything a
	// backend would allocate, so a later transfer cannot collide.
	entityIDBase = 1_000_000

	// errorReason is the resolution reason for any internal world
	// failure, write errors included.
	errorReason = "virtual world error"

	// resolveGrace is how far past its deadline a session may linger
	// before the sweep force-resolves it; the deadline timer normally
	// fires first.
	resolveGrace = 5 * time.Second

	// playerTTL is the backstop eviction for session records; the
	// deadline timer resolves sessions well before this.
	playerTTL = 2 * time.Minute
)

// Callbacks receives the verdicts the world reaches. The antibot
// coordinator implements it; the world never imports the coordinator.
type Callbacks interface {
	VerificationPassed(player uuid.UUID, elapsed time.Duration)
	VerificationFailed(player uuid.UUID, reason string, elapsed time.Duration)
}

// VirtualPlayer is one live verification session. Movement arrives on
// the owning connection's read goroutine; the deadline fires on the
// scheduler. The resolved flag arbitrates between them.
type VirtualPlayer struct {
	player    uuid.UUID
	version   protocol.Version
	entityID  int32
	enteredAt time.Time
	deadline  time.Time

	mu     sync.Mutex
	motion *motion

	resolved atomic.Bool
	cancel   func() bool
}

// PlayerInfo is the reporting snapshot of one session.
type PlayerInfo struct {
	Player   uuid.UUID `json:"player"`
	EntityID int32     `json:"entity_id"`
	Version  string    `json:"version"`
	Elapsed  string    `json:"elapsed"`
	Stats    Stats     `json:"stats"`
}

// World owns all live verification sessions.
type World struct {
	log       zerolog.Logger
	metrics   *monitoring.Metrics
	cfg       *config.Manager
	bus       *events.Bus
	transport core.Transport
	callbacks Callbacks
	timers    *sched.Scheduler

	players    *state.ExpiringMap[uuid.UUID, *VirtualPlayer]
	nextEntity atomic.Int32
	keepAlive  atomic.Int64

	now func() time.Time
}

// New creates the world. The scheduler is shared with the rest of the
// pipeline's maintenance work.
func New(cfg *config.Manager, transport core.Transport, callbacks Callbacks, timers *sched.Scheduler, m *monitoring.Metrics, bus *events.Bus, log zerolog.Logger) *World {
	return &World{
		log:       log.With().Str("component", "vworld").Logger(),
		metrics:   m,
		cfg:       cfg,
		bus:       bus,
		transport: transport,
		callbacks: callbacks,
		timers:    timers,
		players:   state.NewExpiringMap[uuid.UUID, *VirtualPlayer](playerTTL, 0),
		now:       time.Now,
	}
}

// Enter starts a verification session: the client receives the
// synthesized join state and an initial teleport. Returns true once the
// frames were issued. A write failure resolves the session as failed
// immediately; nothing is queued.
func (w *World) Enter(info core.LoginInfo) bool {
	c := w.cfg.Current()
	ab := &c.AntiBot
	duration := time.Duration(ab.MiniWorldDurationSeconds) * time.Second

	if !info.ProtocolVersion.Supported() {
		w.log.Warn().
			Str("username", info.Username).
			Stringer("version", info.ProtocolVersion).
			Msg("cannot synthesize join for protocol version")
		w.callbacks.VerificationFailed(info.PlayerID, errorReason, 0)
		return false
	}

	// A re-login while a previous session is live supersedes it; the old
	// deadline timer must not fire against the new record.
	w.Cancel(info.PlayerID)

	entered := w.now()
	vp := &VirtualPlayer{
		player:    info.PlayerID,
		version:   info.ProtocolVersion,
		entityID:  entityIDBase + w.nextEntity.Add(1),
		enteredAt: entered,
		deadline:  entered.Add(duration),
		motion:    newMotion(spawnX, spawnY, spawnZ),
	}

	frames := []protocol.Outbound{
		synthesizeJoin(vp.entityID, vp.version),
		synthesizeSpawnPoint(),
		synthesizeSpawn(),
	}
	for _, frame := range frames {
		if err := w.transport.WritePacket(info.PlayerID, frame); err != nil {
			w.log.Warn().Err(err).
				Str("username", info.Username).
				Str("packet", frame.PacketName()).
				Msg("join write failed")
			w.callbacks.VerificationFailed(info.PlayerID, errorReason, 0)
			return false
		}
	}

	// The timer is armed before the record is visible so no resolve path
	// can observe a half-built session.
	vp.cancel = w.timers.After("verification-deadline", duration, func() {
		w.resolveDeadline(info.PlayerID)
	})
	w.players.Set(info.PlayerID, vp)
	w.metrics.AddActiveVerifications(1)
	w.publish(events.New(events.TypeVerificationStart, "vworld", events.SeverityInfo).
		WithPlayer(info.PlayerID).
		WithIP(info.IP).
		WithData("username", info.Username).
		WithData("entity_id", vp.entityID))
	w.log.Debug().
		Str("username", info.Username).
		Int32("entity_id", vp.entityID).
		Stringer("version", info.ProtocolVersion).
		Msg("verification started")
	return true
}

// HandlePacket routes one in-world client packet. Movement feeds the
// evidence; interaction sets flags; everything else a vanilla client
// sends while joined is ignored.
func (w *World) HandlePacket(player uuid.UUID, pkt *protocol.Packet) {
	vp, ok := w.players.Get(player)
	if !ok || vp.resolved.Load() {
		return
	}

	switch {
	case pkt.Move != nil:
		w.handleMove(vp, pkt.Move)
	case pkt.Action != nil:
		vp.mu.Lock()
		vp.motion.flag(pkt.Action.Kind)
		vp.mu.Unlock()
	}
}

func (w *World) handleMove(vp *VirtualPlayer, mv *protocol.Movement) {
	ab := &w.cfg.Current().AntiBot
	now := w.now()

	vp.mu.Lock()
	vp.motion.observe(now, mv)
	pass, _ := vp.motion.evaluate(ab, now.Sub(vp.enteredAt))
	vp.mu.Unlock()

	// Early pass: no reason to hold a proven human until the deadline.
	if pass {
		w.resolve(vp, true, "")
	}
}

// Cancel drops the session without a verdict; used when the connection
// closes before resolution.
func (w *World) Cancel(player uuid.UUID) {
	vp, ok := w.players.Get(player)
	if !ok {
		return
	}
	if !vp.resolved.CompareAndSwap(false, true) {
		return
	}
	if vp.cancel != nil {
		vp.cancel()
	}
	w.players.Delete(player)
	w.metrics.AddActiveVerifications(-1)
	w.log.Debug().Str("player", player.String()).Msg("verification cancelled")
}

// resolveDeadline runs on the scheduler when a session's window closes.
func (w *World) resolveDeadline(player uuid.UUID) {
	vp, ok := w.players.Get(player)
	if !ok {
		return
	}
	now := w.now()
	if now.Before(vp.deadline) {
		// Timer from a superseded session; the live one is not due.
		return
	}
	ab := &w.cfg.Current().AntiBot

	vp.mu.Lock()
	pass, reason := vp.motion.evaluate(ab, now.Sub(vp.enteredAt))
	vp.mu.Unlock()

	w.resolve(vp, pass, reason)
}

// resolve settles the session exactly once and reports the verdict.
func (w *World) resolve(vp *VirtualPlayer, passed bool, reason string) {
	if !vp.resolved.CompareAndSwap(false, true) {
		return
	}
	if vp.cancel != nil {
		vp.cancel()
	}
	elapsed := w.now().Sub(vp.enteredAt)
	w.players.Delete(vp.player)
	w.metrics.AddActiveVerifications(-1)

	vp.mu.Lock()
	st := vp.motion.stats()
	vp.mu.Unlock()

	if passed {
		w.log.Info().
			Str("player", vp.player.String()).
			Int("movements", st.Movements).
			Float64("distance", st.Distance).
			Dur("elapsed", elapsed).
			Msg("verification passed")
		w.callbacks.VerificationPassed(vp.player, elapsed)
		return
	}
	w.log.Info().
		Str("player", vp.player.String()).
		Str("reason", reason).
		Int("movements", st.Movements).
		Float64("distance", st.Distance).
		Dur("elapsed", elapsed).
		Msg("verification failed")
	w.callbacks.VerificationFailed(vp.player, reason, elapsed)
}

// Fail force-resolves a session as failed; the pipeline calls it when
// the connection misbehaves mid-verification.
func (w *World) Fail(player uuid.UUID, reason string) {
	if vp, ok := w.players.Get(player); ok {
		w.resolve(vp, false, reason)
	}
}

// SendKeepAlives pings every live session so clients do not time out
// inside the synthetic world. A write failure fails that session.
func (w *World) SendKeepAlives() {
	id := w.keepAlive.Add(1)
	var failed []*VirtualPlayer
	w.players.Range(func(_ uuid.UUID, vp *VirtualPlayer) bool {
		if vp.resolved.Load() {
			return true
		}
		if err := w.transport.WritePacket(vp.player, protocol.KeepAliveOut{ID: id}); err != nil {
			w.log.Warn().Err(err).Str("player", vp.player.String()).Msg("keep-alive write failed")
			failed = append(failed, vp)
		}
		return true
	})
	for _, vp := range failed {
		w.resolve(vp, false, errorReason)
	}
}

// ActiveSessions is the number of players currently in the world.
func (w *World) ActiveSessions() int {
	return w.players.Len()
}

// Snapshot returns reporting views of every live session.
func (w *World) Snapshot() []PlayerInfo {
	now := w.now()
	out := make([]PlayerInfo, 0, w.players.Len())
	w.players.Range(func(_ uuid.UUID, vp *VirtualPlayer) bool {
		vp.mu.Lock()
		st := vp.motion.stats()
		vp.mu.Unlock()
		out = append(out, PlayerInfo{
			Player:   vp.player,
			EntityID: vp.entityID,
			Version:  vp.version.String(),
			Elapsed:  now.Sub(vp.enteredAt).Round(time.Millisecond).String(),
			Stats:    st,
		})
		return true
	})
	return out
}

// Sweep fails sessions whose deadline passed without the timer firing
// and evicts stale records. Normal resolution happens on the timer; this
// is the backstop.
func (w *World) Sweep(now time.Time) int {
	var overdue []uuid.UUID
	w.players.Range(func(player uuid.UUID, vp *VirtualPlayer) bool {
		if !vp.resolved.Load() && now.After(vp.deadline.Add(resolveGrace)) {
			overdue = append(overdue, player)
		}
		return true
	})
	for _, player := range overdue {
		w.resolveDeadline(player)
	}
	removed := w.players.Sweep(now, func(_ uuid.UUID, vp *VirtualPlayer) bool {
		return vp.resolved.Load()
	})
	w.metrics.SetTrackedEntries("vworld", w.players.Len())
	return removed
}

func (w *World) publish(e *events.Event) {
	if w.bus != nil {
		w.bus.Publish(e)
	}
}
