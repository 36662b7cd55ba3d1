package security

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardstone/wardstone/internal/config"
	"github.com/wardstone/wardstone/internal/core"
	"github.com/wardstone/wardstone/internal/events"
	"github.com/wardstone/wardstone/internal/protocol"
)

type stubTransport struct {
	mu           sync.Mutex
	transferred  map[uuid.UUID]string
	disconnected map[uuid.UUID]string
}

func newStubTransport() *stubTransport {
	return &stubTransport{
		transferred:  make(map[uuid.UUID]string),
		disconnected: make(map[uuid.UUID]string),
	}
}

func (t *stubTransport) WritePacket(uuid.UUID, protocol.Outbound) error { return nil }

func (t *stubTransport) TransferToDestination(player uuid.UUID, server string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transferred[player] = server
	return nil
}

func (t *stubTransport) Disconnect(player uuid.UUID, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnected[player] = reason
	return nil
}

func newTestManager(t *testing.T, mutate func(*config.Config)) (*Manager, *stubTransport) {
	t.Helper()
	c := config.Default()
	// Keep logins deterministic unless a test opts back in.
	c.AntiBot.MiniWorldCheck = false
	c.AntiBot.HostCheck = false
	c.AntiBot.BrandCheck = false
	c.AntiBot.LatencyCheck = false
	c.AntiBot.ConnectionRateCheck = false
	c.AntiBot.UsernameCheck = false
	c.AntiBot.EntropyCheck = false
	if mutate != nil {
		mutate(c)
	}
	tr := newStubTransport()
	mgr := NewManager(config.NewManager(c), tr, nil, events.NewBus(64), zerolog.Nop())
	t.Cleanup(mgr.Stop)
	return mgr, tr
}

func packet(typ string, size int) *protocol.Packet {
	return &protocol.Packet{Type: typ, Size: size}
}

func handshake(next protocol.State) *protocol.Packet {
	return &protocol.Packet{Type: protocol.TypeHandshake, Size: 32, NextState: next}
}

func loginInfo(player uuid.UUID, username, ip string) core.LoginInfo {
	return core.LoginInfo{
		PlayerID:        player,
		Username:        username,
		IP:              ip,
		ProtocolVersion: protocol.V1_20_2,
	}
}

func TestCleanTrafficFlowsThrough(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	ip := "203.0.113.10"

	require.Equal(t, core.VerdictAllow, mgr.OnAccept(ip))
	assert.Equal(t, core.VerdictAllow, mgr.OnPacket(ip, handshake(protocol.StateLogin)))
	assert.Equal(t, core.VerdictAllow, mgr.OnPacket(ip, packet(protocol.TypeLoginStart, 64)))
	mgr.OnDisconnect(ip)
}

func TestConnectionFloodBlocksAtCap(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	ip := "203.0.113.7"

	max := config.Default().L4.MaxConnectionsPerIP
	for i := 0; i < max; i++ {
		require.Equal(t, core.VerdictAllow, mgr.OnAccept(ip), "connection %d", i)
	}
	assert.Equal(t, core.VerdictDropBlock, mgr.OnAccept(ip))

	// Once blocked, later attempts are shed silently.
	assert.Equal(t, core.VerdictDropSilent, mgr.OnAccept(ip))
}

func TestStagesShortCircuitInOrder(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	ip := "203.0.113.20"

	require.Equal(t, core.VerdictAllow, mgr.OnAccept(ip))

	// An oversize frame dies at L4 before the filter sees it.
	oversize := packet(protocol.TypeChatMessage, config.Default().Filter.MaxPacketSize+1)
	assert.Equal(t, core.VerdictDropDisconnect, mgr.OnPacket(ip, oversize))

	// A harmful payload dies at the filter before L7 sees it.
	mgr2, _ := newTestManager(t, nil)
	require.Equal(t, core.VerdictAllow, mgr2.OnAccept(ip))
	require.Equal(t, core.VerdictAllow, mgr2.OnPacket(ip, handshake(protocol.StateLogin)))
	hostile := &protocol.Packet{
		Type:    protocol.TypeChatMessage,
		Size:    128,
		Payload: []byte("'; DROP TABLE players --"),
	}
	assert.Equal(t, core.VerdictDropDisconnect, mgr2.OnPacket(ip, hostile))
}

func TestProtocolViolationBlocks(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	ip := "203.0.113.30"

	require.Equal(t, core.VerdictAllow, mgr.OnAccept(ip))
	// Chat before any handshake violates the state machine.
	v := mgr.OnPacket(ip, packet(protocol.TypeChatMessage, 64))
	assert.Equal(t, core.VerdictDropBlock, v)
}

func TestLoginAllowEntersPlayState(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	ip := "203.0.113.40"
	player := uuid.New()

	require.Equal(t, core.VerdictAllow, mgr.OnAccept(ip))
	require.Equal(t, core.VerdictAllow, mgr.OnPacket(ip, handshake(protocol.StateLogin)))
	require.Equal(t, core.VerdictAllow, mgr.OnPacket(ip, packet(protocol.TypeLoginStart, 64)))

	v := mgr.OnLogin(loginInfo(player, "Steve_2077", ip))
	require.Equal(t, core.LoginAllow, v.Action)
	assert.Equal(t, protocol.StatePlay, mgr.l7.StateOf(ip))
}

func TestLoginVerificationRoutesThroughWorld(t *testing.T) {
	mgr, tr := newTestManager(t, func(c *config.Config) {
		c.AntiBot.MiniWorldCheck = true
		c.AntiBot.TransferTo = "lobby"
	})
	ip := "203.0.113.50"
	player := uuid.New()

	require.Equal(t, core.VerdictAllow, mgr.OnAccept(ip))
	v := mgr.OnLogin(loginInfo(player, "Steve_2077", ip))
	require.Equal(t, core.LoginEnterVerification, v.Action)
	assert.Equal(t, 1, mgr.world.ActiveSessions())
	assert.Equal(t, protocol.StatePlay, mgr.l7.StateOf(ip))

	// In-world movement reaches the session evidence.
	mgr.OnPlayerPacket(player, &protocol.Packet{
		Type: protocol.TypePlayerPositionLook,
		Size: 34,
		Move: &protocol.Movement{X: 2, Y: 65, Z: 2, HasPos: true},
	})
	snap := mgr.Verifications()
	require.Len(t, snap, 1)
	assert.Equal(t, 1, snap[0].Stats.Movements)

	// Disconnect cancels without a verdict.
	mgr.OnPlayerDisconnect(player)
	assert.Zero(t, mgr.world.ActiveSessions())
	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.Empty(t, tr.transferred)
	assert.Empty(t, tr.disconnected)
}

func TestBotUsernameKickedAtLogin(t *testing.T) {
	mgr, _ := newTestManager(t, func(c *config.Config) {
		c.AntiBot.UsernameCheck = true
		c.AntiBot.KickThreshold = 1
	})
	ip := "203.0.113.60"

	require.Equal(t, core.VerdictAllow, mgr.OnAccept(ip))
	v := mgr.OnLogin(loginInfo(uuid.New(), "bot_42", ip))
	require.Equal(t, core.LoginKick, v.Action)
	assert.NotEmpty(t, v.KickMessage)
	assert.Empty(t, mgr.Sessions())
}

func TestStoppedPipelineRejectsTraffic(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	ip := "203.0.113.70"

	require.Equal(t, core.VerdictAllow, mgr.OnAccept(ip))
	mgr.Stop()

	assert.Equal(t, core.VerdictDropSilent, mgr.OnAccept(ip))
	assert.Equal(t, core.VerdictDropSilent, mgr.OnPacket(ip, handshake(protocol.StateLogin)))
	assert.Equal(t, core.LoginKick, mgr.OnLogin(loginInfo(uuid.New(), "Steve_2077", ip)).Action)

	// Stage state survives the stop for inspection.
	assert.Equal(t, 1, mgr.l4.ActiveConnections(ip))
}

func TestPipelinePanicDropsConnectionOnly(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	ip := "203.0.113.80"

	require.Equal(t, core.VerdictAllow, mgr.OnAccept(ip))

	// A nil packet panics inside the stages; the manager contains it and
	// terminates only this connection.
	v := mgr.OnPacket(ip, nil)
	assert.Equal(t, core.VerdictDropDisconnect, v)

	// The pipeline keeps serving other traffic.
	other := "203.0.113.81"
	require.Equal(t, core.VerdictAllow, mgr.OnAccept(other))
	assert.Equal(t, core.VerdictAllow, mgr.OnPacket(other, handshake(protocol.StateStatus)))
}

func TestStatusReflectsStageCounters(t *testing.T) {
	mgr, _ := newTestManager(t, func(c *config.Config) {
		c.AntiBot.MiniWorldCheck = true
	})

	for i := 0; i < 3; i++ {
		ip := fmt.Sprintf("203.0.113.%d", 90+i)
		require.Equal(t, core.VerdictAllow, mgr.OnAccept(ip))
		require.Equal(t, core.VerdictAllow, mgr.OnPacket(ip, handshake(protocol.StateLogin)))
	}
	mgr.OnLogin(loginInfo(uuid.New(), "Steve_2077", "203.0.113.90"))

	s := mgr.Status()
	assert.Equal(t, 3, s.TrackedL4)
	assert.Equal(t, 3, s.TrackedL7)
	assert.Equal(t, 1, s.ActiveVerifications)
	assert.Equal(t, 1, s.LiveSessions)
	assert.Zero(t, s.BlockedIPs)
}

func TestStartIsIdempotentAndStops(t *testing.T) {
	mgr, _ := newTestManager(t, func(c *config.Config) {
		c.Scheduler.MaintenanceIntervalSeconds = 1
		c.Scheduler.StatusIntervalSeconds = 1
	})

	mgr.Start()
	mgr.Start()
	time.Sleep(50 * time.Millisecond)
	mgr.Stop()
	mgr.Stop()
}

func TestUnblockRestoresAccess(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	ip := "203.0.113.100"

	max := config.Default().L4.MaxConnectionsPerIP
	for i := 0; i < max; i++ {
		require.Equal(t, core.VerdictAllow, mgr.OnAccept(ip))
	}
	require.Equal(t, core.VerdictDropBlock, mgr.OnAccept(ip))
	require.NotEmpty(t, mgr.BlockedEntries())

	require.True(t, mgr.Unblock(ip))
	for i := 0; i < max; i++ {
		mgr.OnDisconnect(ip)
	}
	assert.Equal(t, core.VerdictAllow, mgr.OnAccept(ip))
}
