package antibot

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionState is the classification of one player session.
type SessionState uint8

const (
	SessionNew SessionState = iota
	SessionChecking
	SessionVerified
	SessionSuspicious
	SessionBot
)

func (s SessionState) String() string {
	switch s {
	case SessionNew:
		return "NEW"
	case SessionChecking:
		return "CHECKING"
	case SessionVerified:
		return "VERIFIED"
	case SessionSuspicious:
		return "SUSPICIOUS"
	case SessionBot:
		return "BOT"
	default:
		return "UNKNOWN"
	}
}

// Session is the per-player anti-bot record, independent of the TCP
// connection underneath it. VERIFIED and BOT are terminal; SUSPICIOUS
// may still fall to BOT on later failures.
type Session struct {
	mu        sync.Mutex
	player    uuid.UUID
	username  string
	ip        string
	state     SessionState
	failed    []string
	createdAt time.Time
}

func newSession(player uuid.UUID, username, ip string, failed []string) *Session {
	return &Session{
		player:    player,
		username:  username,
		ip:        ip,
		state:     SessionChecking,
		failed:    failed,
		createdAt: time.Now(),
	}
}

// State returns the current classification.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(next SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionVerified || s.state == SessionBot {
		return
	}
	s.state = next
}

// fail records a failed check and returns the new failure count.
func (s *Session) fail(check string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, check)
	return len(s.failed)
}

// FailedChecks returns a copy of the failed check names.
func (s *Session) FailedChecks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.failed))
	copy(out, s.failed)
	return out
}

// SessionInfo is the reporting snapshot of one session.
type SessionInfo struct {
	Player       uuid.UUID `json:"player"`
	Username     string    `json:"username"`
	IP           string    `json:"ip"`
	State        string    `json:"state"`
	FailedChecks []string  `json:"failed_checks,omitempty"`
	Age          string    `json:"age"`
}

// Info returns the reporting snapshot.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	failed := make([]string, len(s.failed))
	copy(failed, s.failed)
	return SessionInfo{
		Player:       s.player,
		Username:     s.username,
		IP:           s.ip,
		State:        s.state.String(),
		FailedChecks: failed,
		Age:          time.Since(s.createdAt).Round(time.Second).String(),
	}
}
