package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/wardstone/wardstone/pkg/guard"
)

// attacker is one worker goroutine's view of the simulation. Each
// scenario method performs a single burst and returns; the main loop
// repeats it until the deadline.
type attacker struct {
	g     *guard.Guard
	stats *simStats
	rng   *rand.Rand
	id    int
	seq   int
}

func (a *attacker) record(v guard.Verdict) {
	a.stats.Calls.Add(1)
	switch v {
	case guard.VerdictAllow:
		a.stats.Allowed.Add(1)
	case guard.VerdictDropSilent:
		a.stats.Silenced.Add(1)
	case guard.VerdictDropBlock:
		a.stats.Blocked.Add(1)
	case guard.VerdictDropDisconnect:
		a.stats.Disconnected.Add(1)
	}
}

func (a *attacker) timedAccept(ip string) guard.Verdict {
	start := time.Now()
	v := a.g.OnAccept(ip)
	a.observe(time.Since(start))
	a.record(v)
	return v
}

func (a *attacker) timedPacket(ip string, pkt *guard.Packet) guard.Verdict {
	start := time.Now()
	v := a.g.OnPacket(ip, pkt)
	a.observe(time.Since(start))
	a.record(v)
	return v
}

// observe samples call latency; every call would swamp memory on long
// runs.
func (a *attacker) observe(d time.Duration) {
	a.seq++
	if a.seq%16 != 0 {
		return
	}
	a.stats.mu.Lock()
	a.stats.latencies = append(a.stats.latencies, d)
	a.stats.mu.Unlock()
}

// flood hammers connections from a deliberately small source pool so
// per-source caps and the blocklist kick in.
func (a *attacker) flood() {
	ip := fmt.Sprintf("198.18.0.%d", a.id%16+1)
	for i := 0; i < 50; i++ {
		a.timedAccept(ip)
	}
	a.g.OnDisconnect(ip)
}

// pingspam opens a status connection and hammers ping packets until
// the pipeline cuts it off.
func (a *attacker) pingspam() {
	ip := fmt.Sprintf("198.18.1.%d", a.rng.Intn(64)+1)
	if a.timedAccept(ip) != guard.VerdictAllow {
		return
	}
	defer a.g.OnDisconnect(ip)

	if a.timedPacket(ip, &guard.Packet{Type: guard.TypeHandshake, Size: 16, NextState: guard.StateStatus}) != guard.VerdictAllow {
		return
	}
	for i := 0; i < 100; i++ {
		// A silenced packet leaves the connection open; keep hammering
		// until a verdict actually cuts it.
		if a.timedPacket(ip, &guard.Packet{Type: guard.TypeServerPing, Size: 10, Payload: []byte{byte(i)}}).Terminal() {
			return
		}
	}
}

var botNames = []string{"Bot_%d", "mcbot%d", "xXSpamXx%d", "aaaabbbb%d", "Player000%d"}

// botwave logs in with bot-typical identities; most are kicked by the
// heuristics and the rest are pushed into verification, where they go
// silent and fail.
func (a *attacker) botwave() {
	a.seq++
	ip := fmt.Sprintf("198.18.2.%d", a.rng.Intn(200)+1)
	if a.timedAccept(ip) != guard.VerdictAllow {
		return
	}
	defer a.g.OnDisconnect(ip)

	if a.timedPacket(ip, &guard.Packet{Type: guard.TypeHandshake, Size: 32, NextState: guard.StateLogin}) != guard.VerdictAllow {
		return
	}
	if a.timedPacket(ip, &guard.Packet{Type: guard.TypeLoginStart, Size: 24, Payload: []byte{byte(a.seq)}}) != guard.VerdictAllow {
		return
	}

	name := fmt.Sprintf(botNames[a.rng.Intn(len(botNames))], a.rng.Intn(100000))
	player := uuid.New()
	verdict := a.g.OnLogin(guard.LoginInfo{
		PlayerID:        player,
		Username:        name,
		IP:              ip,
		Brand:           "autoclicker",
		ProtocolVersion: guard.Version(764),
		Ping:            2 * time.Millisecond,
	})
	a.stats.Calls.Add(1)
	switch verdict.Action {
	case guard.LoginKick:
		a.stats.Kicked.Add(1)
	case guard.LoginEnterVerification:
		a.stats.Challenged.Add(1)
		// Bots do not move; abandon the session like a script would.
		a.g.OnPlayerDisconnect(player)
	default:
		a.stats.Allowed.Add(1)
	}
}

// benign runs one well-behaved status ping, the background noise of a
// healthy proxy.
func (a *attacker) benign() {
	ip := fmt.Sprintf("203.0.113.%d", a.rng.Intn(200)+1)
	if a.timedAccept(ip) != guard.VerdictAllow {
		return
	}
	defer a.g.OnDisconnect(ip)

	if a.timedPacket(ip, &guard.Packet{Type: guard.TypeHandshake, Size: 16, NextState: guard.StateStatus}) != guard.VerdictAllow {
		return
	}
	a.timedPacket(ip, &guard.Packet{Type: guard.TypeStatusRequest, Size: 2})
}

// mixed interleaves attack bursts with benign traffic.
func (a *attacker) mixed() {
	switch a.rng.Intn(10) {
	case 0, 1:
		a.flood()
	case 2, 3:
		a.pingspam()
	case 4, 5:
		a.botwave()
	default:
		a.benign()
	}
}
