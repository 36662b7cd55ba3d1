package main

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wardstone/wardstone/pkg/guard"
)

// sinkTransport discards outbound packets. wardstoned has no wire to
// write to; a real deployment supplies the proxy's packet writer
// through pkg/guard.
type sinkTransport struct {
	log zerolog.Logger
}

func (s sinkTransport) WritePacket(player uuid.UUID, pkt guard.Outbound) error {
	s.log.Debug().Str("player", player.String()).Str("packet", pkt.PacketName()).Msg("outbound discarded")
	return nil
}

func (s sinkTransport) TransferToDestination(player uuid.UUID, server string) error {
	s.log.Debug().Str("player", player.String()).Str("server", server).Msg("transfer discarded")
	return nil
}

func (s sinkTransport) Disconnect(player uuid.UUID, reason string) error {
	s.log.Debug().Str("player", player.String()).Str("reason", reason).Msg("disconnect discarded")
	return nil
}

// soaker simulates well-behaved players: connect, handshake, log in,
// wander a little (completing verification when the pipeline demands
// it), disconnect. Each client runs sequential sessions on rotating
// source addresses so no limiter is tripped by the driver itself.
type soaker struct {
	g   *guard.Guard
	log zerolog.Logger

	clients int
	stopCh  chan struct{}
	wg      sync.WaitGroup

	sessions atomic.Uint64
	verified atomic.Uint64
	rejected atomic.Uint64
}

var soakNames = []string{
	"Alex_Miner", "StoneCutter", "RedstoneRita", "CaveDiver", "PickaxePete",
	"EmeraldEve", "NetherNomad", "QuartzQueen", "Biome_Walker", "TorchBearer",
}

func newSoaker(g *guard.Guard, log zerolog.Logger, clients int) *soaker {
	return &soaker{
		g:       g,
		log:     log.With().Str("component", "soak").Logger(),
		clients: clients,
		stopCh:  make(chan struct{}),
	}
}

func (s *soaker) start() {
	for i := 0; i < s.clients; i++ {
		s.wg.Add(1)
		go s.client(i)
	}
	s.wg.Add(1)
	go s.report()
	s.log.Info().Int("clients", s.clients).Msg("soak driver started")
}

func (s *soaker) stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.log.Info().
		Uint64("sessions", s.sessions.Load()).
		Uint64("verified", s.verified.Load()).
		Uint64("rejected", s.rejected.Load()).
		Msg("soak driver stopped")
}

func (s *soaker) report() {
	defer s.wg.Done()
	t := time.NewTicker(10 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			s.log.Info().
				Uint64("sessions", s.sessions.Load()).
				Uint64("verified", s.verified.Load()).
				Uint64("rejected", s.rejected.Load()).
				Msg("soak progress")
		}
	}
}

func (s *soaker) client(id int) {
	defer s.wg.Done()
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))
	session := 0
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		s.runSession(rng, id, session)
		session++
		if !s.pause(time.Duration(2000+rng.Intn(2000)) * time.Millisecond) {
			return
		}
	}
}

func (s *soaker) runSession(rng *rand.Rand, id, session int) {
	ip := fmt.Sprintf("203.0.113.%d", 10+(id*17+session)%200)
	s.sessions.Add(1)

	if s.g.OnAccept(ip) != guard.VerdictAllow {
		s.rejected.Add(1)
		return
	}
	defer s.g.OnDisconnect(ip)

	if s.g.OnPacket(ip, &guard.Packet{Type: guard.TypeHandshake, Size: 32, NextState: guard.StateLogin}) != guard.VerdictAllow {
		s.rejected.Add(1)
		return
	}
	if s.g.OnPacket(ip, &guard.Packet{Type: guard.TypeLoginStart, Size: 24}) != guard.VerdictAllow {
		s.rejected.Add(1)
		return
	}

	player := uuid.New()
	verdict := s.g.OnLogin(guard.LoginInfo{
		PlayerID:        player,
		Username:        fmt.Sprintf("%s%d", soakNames[rng.Intn(len(soakNames))], rng.Intn(90)+10),
		IP:              ip,
		Brand:           "vanilla",
		ProtocolVersion: guard.Version(764),
		Ping:            time.Duration(30+rng.Intn(60)) * time.Millisecond,
	})

	switch verdict.Action {
	case guard.LoginAllow:
		s.verified.Add(1)
	case guard.LoginEnterVerification:
		if s.wander(rng, ip, player) {
			s.verified.Add(1)
		} else {
			s.rejected.Add(1)
		}
		s.g.OnPlayerDisconnect(player)
	default:
		s.rejected.Add(1)
	}
}

// wander walks a jittered zigzag long enough to satisfy the
// verification world's movement analysis.
func (s *soaker) wander(rng *rand.Rand, ip string, player uuid.UUID) bool {
	x, z := 0.5, 0.5
	for i := 0; i < 12; i++ {
		if !s.pause(time.Duration(300+rng.Intn(300)) * time.Millisecond) {
			return false
		}
		if i%3 == 2 {
			z += 0.4 + rng.Float64()*0.2
		} else {
			x += 0.4 + rng.Float64()*0.2
		}
		pkt := &guard.Packet{
			Type:    guard.TypePlayerPosition,
			Size:    34,
			Payload: []byte(fmt.Sprintf("%.3f:%.3f", x, z)),
			Move:    &guard.Movement{X: x, Y: 65, Z: z, OnGround: true, HasPos: true},
		}
		if s.g.OnPacket(ip, pkt) != guard.VerdictAllow {
			return false
		}
		s.g.OnPlayerPacket(player, pkt)
	}
	return true
}

func (s *soaker) pause(d time.Duration) bool {
	select {
	case <-s.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}
