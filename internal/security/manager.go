// Package security assembles the full inbound pipeline: L4 guard,
// packet filter, L7 guard, anti-bot coordinator, and the virtual
// verification world, in that fixed order. The proxy front-end talks to
// the Manager through core.Pipeline and never to a stage directly.
package security

import (
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wardstone/wardstone/internal/antibot"
	"github.com/wardstone/wardstone/internal/blocklist"
	"github.com/wardstone/wardstone/internal/config"
	"github.com/wardstone/wardstone/internal/core"
	"github.com/wardstone/wardstone/internal/events"
	"github.com/wardstone/wardstone/internal/l4"
	"github.com/wardstone/wardstone/internal/l7"
	"github.com/wardstone/wardstone/internal/monitoring"
	"github.com/wardstone/wardstone/internal/pfilter"
	"github.com/wardstone/wardstone/internal/protocol"
	"github.com/wardstone/wardstone/internal/sched"
	"github.com/wardstone/wardstone/internal/vworld"
)

// keepAliveInterval paces the synthetic-world pings; clients time out
// after roughly twenty seconds of silence.
const keepAliveInterval = 5 * time.Second

// Manager owns every pipeline stage and the shared maintenance
// scheduler.
type Manager struct {
	log     zerolog.Logger
	metrics *monitoring.Metrics
	cfg     *config.Manager
	bus     *events.Bus

	blocks  *blocklist.Blocklist
	l4      *l4.Guard
	filter  *pfilter.Filter
	l7      *l7.Guard
	antibot *antibot.Coordinator
	world   *vworld.World
	timers  *sched.Scheduler

	started   atomic.Bool
	stopped   atomic.Bool
	startedAt time.Time
}

var _ core.Pipeline = (*Manager)(nil)

// NewManager wires the stages together. Mirrors are optional blocklist
// backends (redis, kernel offload); nil metrics and bus are tolerated
// for embedding.
func NewManager(cfg *config.Manager, transport core.Transport, m *monitoring.Metrics, bus *events.Bus, log zerolog.Logger, mirrors ...blocklist.Mirror) *Manager {
	blocks := blocklist.New(log, m, bus, mirrors...)
	timers := sched.New(log)
	bot := antibot.New(cfg, transport, m, bus, log)

	return &Manager{
		log:     log.With().Str("component", "security").Logger(),
		metrics: m,
		cfg:     cfg,
		bus:     bus,
		blocks:  blocks,
		l4:      l4.New(cfg, blocks, m, log),
		filter:  pfilter.New(cfg, m, bus, log),
		l7:      l7.New(cfg, blocks, m, bus, log),
		antibot: bot,
		world:   vworld.New(cfg, transport, bot, timers, m, bus, log),
		timers:  timers,
	}
}

// Start launches the mirror worker and the maintenance loops. Safe to
// call once; later calls are no-ops.
func (m *Manager) Start() {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	m.startedAt = time.Now()
	m.blocks.Start()

	sc := m.cfg.Current().Scheduler
	maintenance := time.Duration(sc.MaintenanceIntervalSeconds) * time.Second
	status := time.Duration(sc.StatusIntervalSeconds) * time.Second

	m.timers.Every("maintenance-sweep", maintenance, m.sweep)
	m.timers.Every("world-keep-alive", keepAliveInterval, m.world.SendKeepAlives)
	m.timers.Every("status-report", status, m.reportStatus)

	m.log.Info().
		Dur("maintenance_interval", maintenance).
		Dur("status_interval", status).
		Msg("pipeline started")
}

// Stop halts maintenance and the mirror worker. Traffic arriving after
// Stop is rejected; stage state is retained for inspection.
func (m *Manager) Stop() {
	if !m.stopped.CompareAndSwap(false, true) {
		return
	}
	m.timers.Stop()
	m.blocks.Stop()
	m.antibot.Close()
	m.log.Info().Msg("pipeline stopped")
}

// ============================================================================
// PIPELINE (core.Pipeline)
// ============================================================================

// OnAccept admits or rejects a fresh connection.
func (m *Manager) OnAccept(ip string) (v core.Verdict) {
	if m.stopped.Load() {
		return core.VerdictDropSilent
	}
	defer m.recoverVerdict(ip, &v)

	v = m.l4.OnConnect(ip)
	m.metrics.RecordConnection(v.String())
	if v != core.VerdictAllow {
		m.publish(events.New(events.TypeConnectionDropped, "security", events.SeverityInfo).
			WithIP(ip).
			WithReason(v.String()))
	}
	return v
}

// OnPacket runs one inbound packet through the stages in order. The
// first non-allow verdict wins; later stages never see the packet.
func (m *Manager) OnPacket(ip string, pkt *protocol.Packet) (v core.Verdict) {
	if m.stopped.Load() {
		return core.VerdictDropSilent
	}
	defer m.recoverVerdict(ip, &v)

	if v = m.l4.OnPacket(ip, pkt.Size); v != core.VerdictAllow {
		m.metrics.RecordPacket("l4", v.String())
		return v
	}
	if v = m.filter.OnPacket(ip, pkt); v != core.VerdictAllow {
		m.metrics.RecordPacket("filter", v.String())
		return v
	}
	if v = m.l7.OnPacket(ip, pkt); v != core.VerdictAllow {
		m.metrics.RecordPacket("l7", v.String())
		return v
	}
	m.metrics.RecordPacket("pipeline", core.VerdictAllow.String())
	return core.VerdictAllow
}

// OnException feeds a connection error into the burst trackers.
func (m *Manager) OnException(ip string, err error) {
	if m.stopped.Load() {
		return
	}
	defer monitoring.RecoverPanic(m.log, "on-exception")
	m.l4.OnException(ip, err)
	m.l7.OnException(ip, err)
}

// OnDisconnect releases the connection slot and closes the protocol
// tracker.
func (m *Manager) OnDisconnect(ip string) {
	defer monitoring.RecoverPanic(m.log, "on-disconnect")
	m.l4.OnDisconnect(ip)
	m.l7.OnDisconnect(ip)
}

// OnLogin classifies a login attempt and, when demanded, places the
// player into the verification world.
func (m *Manager) OnLogin(info core.LoginInfo) (v core.LoginVerdict) {
	if m.stopped.Load() {
		return core.Kick("Server is restarting")
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().
				Str("ip", info.IP).
				Interface("panic_value", r).
				Str("stack_trace", string(debug.Stack())).
				Msg("login pipeline panic")
			v = core.Kick(m.cfg.Current().AntiBot.KickMessage)
		}
	}()

	v = m.antibot.OnLogin(info)
	switch v.Action {
	case core.LoginAllow:
		m.l7.EnterPlay(info.IP)
	case core.LoginEnterVerification:
		// The synthetic join moves the client into PLAY state.
		m.l7.EnterPlay(info.IP)
		if !m.world.Enter(info) {
			return core.Kick(m.cfg.Current().AntiBot.KickMessage)
		}
	}
	return v
}

// OnPlayerPacket routes in-world packets to the verification session,
// if one exists.
func (m *Manager) OnPlayerPacket(player uuid.UUID, pkt *protocol.Packet) {
	if m.stopped.Load() {
		return
	}
	defer monitoring.RecoverPanic(m.log, "on-player-packet")
	m.world.HandlePacket(player, pkt)
}

// OnPlayerDisconnect cancels any live verification and drops the
// session.
func (m *Manager) OnPlayerDisconnect(player uuid.UUID) {
	defer monitoring.RecoverPanic(m.log, "on-player-disconnect")
	m.world.Cancel(player)
	m.antibot.OnPlayerDisconnect(player)
}

func (m *Manager) recoverVerdict(ip string, v *core.Verdict) {
	if r := recover(); r != nil {
		m.log.Error().
			Str("ip", ip).
			Interface("panic_value", r).
			Str("stack_trace", string(debug.Stack())).
			Msg("pipeline panic")
		*v = core.VerdictDropDisconnect
	}
}

// ============================================================================
// OPERATIONS SURFACE
// ============================================================================

// Reload revalidates the config source and rebinds stages that cache
// derived state. In-flight calls keep their captured snapshot.
func (m *Manager) Reload() error {
	cfg, problems, err := m.cfg.Reload()
	for _, p := range problems {
		m.log.Warn().Str("section", p.Section).Str("option", p.Option).Err(p.Err).Msg("config problem")
	}
	if err != nil {
		m.log.Error().Err(err).Msg("reload rejected, keeping previous config")
		return err
	}
	m.l4.Rebind(cfg)
	m.log.Info().Msg("configuration reloaded")
	return nil
}

// Status is the operational snapshot served by the ops endpoint and
// logged periodically.
type Status struct {
	Uptime              string `json:"uptime"`
	BlockedIPs          int    `json:"blocked_ips"`
	TrackedL4           int    `json:"tracked_l4"`
	TrackedFilter       int    `json:"tracked_filter"`
	TrackedL7           int    `json:"tracked_l7"`
	LiveSessions        int    `json:"live_sessions"`
	ActiveVerifications int    `json:"active_verifications"`
	EventsDropped       uint64 `json:"events_dropped"`
}

// Status collects current stage counters.
func (m *Manager) Status() Status {
	s := Status{
		BlockedIPs:          m.blocks.Len(),
		TrackedL4:           m.l4.TrackedSources(),
		TrackedFilter:       m.filter.TrackedSources(),
		TrackedL7:           m.l7.TrackedClients(),
		LiveSessions:        len(m.antibot.Sessions()),
		ActiveVerifications: m.world.ActiveSessions(),
	}
	if !m.startedAt.IsZero() {
		s.Uptime = time.Since(m.startedAt).Round(time.Second).String()
	}
	if m.bus != nil {
		s.EventsDropped = m.bus.Dropped()
	}
	return s
}

// BlockedEntries exposes the blocklist for the ops surface.
func (m *Manager) BlockedEntries() []blocklist.Entry {
	return m.blocks.Snapshot()
}

// Unblock removes one IP from the blocklist; ops use only.
func (m *Manager) Unblock(ip string) bool {
	return m.blocks.Unblock(ip)
}

// Sessions exposes the live anti-bot sessions.
func (m *Manager) Sessions() []antibot.SessionInfo {
	return m.antibot.Sessions()
}

// Verifications exposes the live verification-world sessions.
func (m *Manager) Verifications() []vworld.PlayerInfo {
	return m.world.Snapshot()
}

// ============================================================================
// MAINTENANCE
// ============================================================================

func (m *Manager) sweep() {
	now := time.Now()
	stages := []struct {
		name string
		fn   func(time.Time) int
	}{
		{"l4", m.l4.Sweep},
		{"filter", m.filter.Sweep},
		{"l7", m.l7.Sweep},
		{"antibot", m.antibot.Sweep},
		{"vworld", m.world.Sweep},
		{"blocklist", m.blocks.Sweep},
	}
	for _, stage := range stages {
		start := time.Now()
		removed := stage.fn(now)
		m.metrics.ObserveSweep(stage.name, time.Since(start).Seconds())
		if removed > 0 {
			m.log.Debug().Str("stage", stage.name).Int("removed", removed).Msg("sweep evicted entries")
		}
	}
}

func (m *Manager) reportStatus() {
	s := m.Status()
	m.publish(events.New(events.TypeStatusReport, "security", events.SeverityInfo).
		WithData("uptime", s.Uptime).
		WithData("blocked_ips", s.BlockedIPs).
		WithData("tracked_l4", s.TrackedL4).
		WithData("tracked_l7", s.TrackedL7).
		WithData("live_sessions", s.LiveSessions).
		WithData("active_verifications", s.ActiveVerifications).
		WithData("events_dropped", s.EventsDropped))
	m.log.Info().
		Int("blocked_ips", s.BlockedIPs).
		Int("tracked_l4", s.TrackedL4).
		Int("tracked_l7", s.TrackedL7).
		Int("live_sessions", s.LiveSessions).
		Int("active_verifications", s.ActiveVerifications).
		Msg("status report")
}

func (m *Manager) publish(e *events.Event) {
	if m.bus != nil {
		m.bus.Publish(e)
	}
}
