package guard

import "github.com/google/uuid"

// OnAccept admits or rejects a fresh connection. Call it before reading
// a single byte; anything but VerdictAllow means close the socket.
func (g *Guard) OnAccept(ip string) Verdict {
	return g.mgr.OnAccept(ip)
}

// OnPacket classifies one decoded inbound frame. VerdictAllow means
// forward it; every other verdict means drop it, and VerdictDropBlock
// and VerdictDropDisconnect mean close the connection too.
func (g *Guard) OnPacket(ip string, pkt *Packet) Verdict {
	return g.mgr.OnPacket(ip, pkt)
}

// OnException reports a read or decode error on a live connection.
func (g *Guard) OnException(ip string, err error) {
	g.mgr.OnException(ip, err)
}

// OnDisconnect releases the connection's slot. Call it exactly once per
// accepted connection, however it ended.
func (g *Guard) OnDisconnect(ip string) {
	g.mgr.OnDisconnect(ip)
}

// OnLogin classifies a login attempt. LoginAllow means proceed to the
// destination server; LoginEnterVerification means the player is now
// inside the synthetic world and their packets must be routed to
// OnPlayerPacket; LoginKick carries the message to disconnect with.
func (g *Guard) OnLogin(info LoginInfo) LoginVerdict {
	return g.mgr.OnLogin(info)
}

// OnPlayerPacket feeds an in-world packet to the player's verification
// session. Packets for players without a session are ignored.
func (g *Guard) OnPlayerPacket(player uuid.UUID, pkt *Packet) {
	g.mgr.OnPlayerPacket(player, pkt)
}

// OnPlayerDisconnect abandons the player's verification session, if
// any, without recording a verdict.
func (g *Guard) OnPlayerDisconnect(player uuid.UUID) {
	g.mgr.OnPlayerDisconnect(player)
}
