package core

import (
	"time"

	"github.com/google/uuid"
	"github.com/wardstone/wardstone/internal/protocol"
)

// LoginInfo carries the connection metadata the front-end sampled by the
// time a login attempt reaches the pipeline. Ping is the keep-alive round
// trip; zero or negative means not yet sampled.
type LoginInfo struct {
	PlayerID        uuid.UUID
	Username        string
	IP              string
	Brand           string
	VirtualHost     string
	ProtocolVersion protocol.Version
	Ping            time.Duration
}

// Transport is the write half of the proxy front-end. The verification
// world uses it to issue synthesized packets and to move players once a
// verdict is reached. Implementations must be safe for concurrent use and
// must fail fast instead of queueing unboundedly.
type Transport interface {
	WritePacket(player uuid.UUID, pkt protocol.Outbound) error
	TransferToDestination(player uuid.UUID, server string) error
	Disconnect(player uuid.UUID, reason string) error
}

// Pipeline is the upstream contract the proxy front-end calls into,
// synchronously on the connection's read goroutine.
type Pipeline interface {
	OnAccept(ip string) Verdict
	OnPacket(ip string, pkt *protocol.Packet) Verdict
	OnException(ip string, err error)
	OnDisconnect(ip string)
	OnLogin(info LoginInfo) LoginVerdict
	OnPlayerPacket(player uuid.UUID, pkt *protocol.Packet)
	OnPlayerDisconnect(player uuid.UUID)
}
