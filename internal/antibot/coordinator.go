// Package antibot classifies players at login time. Cheap heuristic
// checks run synchronously on the login path; players who cannot be
// cleared outright are sent into the virtual verification world, whose
// outcome arrives back through the coordinator.
package antibot

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wardstone/wardstone/internal/config"
	"github.com/wardstone/wardstone/internal/core"
	"github.com/wardstone/wardstone/internal/events"
	"github.com/wardstone/wardstone/internal/limiter"
	"github.com/wardstone/wardstone/internal/monitoring"
	"github.com/wardstone/wardstone/internal/patterns"
	"github.com/wardstone/wardstone/internal/state"
)

const (
	// Session records and login-rate windows idle out like the L7
	// trackers; the verified set is kept long enough to span a play
	// session comfortably.
	sessionIdleTTL = 30 * time.Minute
	rateIdleTTL    = 10 * time.Minute
	verifiedTTL    = 24 * time.Hour
)

// Coordinator runs the login-time checks and owns the session table.
type Coordinator struct {
	log       zerolog.Logger
	metrics   *monitoring.Metrics
	cfg       *config.Manager
	bus       *events.Bus
	transport core.Transport

	rate      *limiter.PerKey
	sessions  *state.ExpiringMap[uuid.UUID, *Session]
	verified  *state.ExpiringMap[uuid.UUID, time.Time]
	usernames atomic.Pointer[patterns.Set]
	resolver  *hostResolver
	geo       *geoChecker
}

// New creates the coordinator. A configured geo database that fails to
// open logs a warning and disables the geo check; everything else runs.
func New(cfg *config.Manager, transport core.Transport, m *monitoring.Metrics, bus *events.Bus, log zerolog.Logger) *Coordinator {
	x := &Coordinator{
		log:       log.With().Str("component", "antibot").Logger(),
		metrics:   m,
		cfg:       cfg,
		bus:       bus,
		transport: transport,
		rate:      limiter.NewPerKey(rateIdleTTL, 0),
		sessions:  state.NewExpiringMap[uuid.UUID, *Session](sessionIdleTTL, 0),
		verified:  state.NewExpiringMap[uuid.UUID, time.Time](verifiedTTL, 0),
		resolver:  newHostResolver(),
	}

	if path := cfg.Current().AntiBot.GeoIPDatabase; path != "" {
		geo, err := newGeoChecker(path)
		if err != nil {
			x.log.Warn().Err(err).Str("path", path).Msg("geo database unavailable, geo check disabled")
		} else {
			x.geo = geo
		}
	}
	return x
}

// Close releases the geo database handle.
func (x *Coordinator) Close() {
	x.geo.close()
}

// OnLogin classifies one login attempt.
func (x *Coordinator) OnLogin(info core.LoginInfo) core.LoginVerdict {
	c := x.cfg.Current()
	ab := &c.AntiBot
	if !ab.Enabled {
		return core.AllowLogin()
	}

	if ab.CheckOnlyFirstJoin {
		if _, ok := x.verified.Get(info.PlayerID); ok {
			x.log.Debug().Str("username", info.Username).Msg("previously verified, checks skipped")
			x.metrics.RecordLogin("allow")
			return core.AllowLogin()
		}
	}

	failed := x.runChecks(c, info)

	if len(failed) >= ab.KickThreshold {
		x.metrics.RecordLogin("kick")
		x.publish(events.New(events.TypeLoginKicked, "antibot", events.SeverityWarning).
			WithPlayer(info.PlayerID).
			WithIP(info.IP).
			WithReason(strings.Join(failed, ", ")).
			WithData("username", info.Username))
		x.log.Warn().
			Str("username", info.Username).
			Str("ip", info.IP).
			Strs("failed", failed).
			Msg("login rejected as bot")
		return core.Kick(ab.KickMessage)
	}

	s := newSession(info.PlayerID, info.Username, info.IP, failed)

	if ab.MiniWorldCheck {
		x.sessions.Set(info.PlayerID, s)
		x.metrics.RecordLogin("enter_verification")
		return core.EnterVerification()
	}

	if len(failed) > 0 {
		s.setState(SessionSuspicious)
		x.sessions.Set(info.PlayerID, s)
		x.metrics.RecordLogin("allow")
		x.publish(events.New(events.TypeLoginFlagged, "antibot", events.SeverityInfo).
			WithPlayer(info.PlayerID).
			WithIP(info.IP).
			WithReason(strings.Join(failed, ", ")).
			WithData("username", info.Username))
		return core.AllowLogin()
	}

	// Clean pass with no world check pending: verified outright.
	x.verified.Set(info.PlayerID, time.Now())
	x.metrics.RecordLogin("allow")
	return core.AllowLogin()
}

// VerificationPassed is called by the virtual world when a player proves
// human. The player is marked verified and transferred to the
// destination server.
func (x *Coordinator) VerificationPassed(player uuid.UUID, elapsed time.Duration) {
	c := x.cfg.Current()
	x.MarkVerified(player)
	x.metrics.RecordVerification("pass", elapsed.Seconds())
	x.metrics.RecordCheck("mini_world", true)
	x.publish(events.New(events.TypeVerificationPassed, "antibot", events.SeverityInfo).
		WithPlayer(player).
		WithData("elapsed", elapsed.Round(time.Millisecond).String()))

	if err := x.transport.TransferToDestination(player, c.AntiBot.TransferTo); err != nil {
		x.log.Warn().Err(err).Str("player", player.String()).Msg("destination transfer failed")
		_ = x.transport.Disconnect(player, "Verification passed but transfer failed, please reconnect")
	}
}

// VerificationFailed is called by the virtual world on a failed or
// errored verification. The session is classified BOT and the player
// kicked.
func (x *Coordinator) VerificationFailed(player uuid.UUID, reason string, elapsed time.Duration) {
	c := x.cfg.Current()
	if s, ok := x.sessions.Peek(player); ok {
		s.fail("mini_world")
		s.setState(SessionBot)
	}
	x.metrics.RecordVerification("fail", elapsed.Seconds())
	x.metrics.RecordCheck("mini_world", false)
	x.publish(events.New(events.TypeVerificationFailed, "antibot", events.SeverityWarning).
		WithPlayer(player).
		WithReason(reason).
		WithData("elapsed", elapsed.Round(time.Millisecond).String()))
	x.log.Info().Str("player", player.String()).Str("reason", reason).Msg("verification failed")

	if err := x.transport.Disconnect(player, c.AntiBot.KickMessage); err != nil {
		x.log.Debug().Err(err).Str("player", player.String()).Msg("disconnect after failed verification")
	}
	x.sessions.Delete(player)
}

// MarkVerified records the player as human. Idempotent; returns true on
// the first call. The session record completes and is dropped.
func (x *Coordinator) MarkVerified(player uuid.UUID) bool {
	_, already := x.verified.Get(player)
	if !already {
		x.verified.Set(player, time.Now())
	}
	if s, ok := x.sessions.Peek(player); ok {
		s.setState(SessionVerified)
	}
	x.sessions.Delete(player)
	return !already
}

// OnPlayerDisconnect drops the session for a player whose connection
// closed.
func (x *Coordinator) OnPlayerDisconnect(player uuid.UUID) {
	x.sessions.Delete(player)
}

// IsSuspicious reports whether the player's live session is flagged.
func (x *Coordinator) IsSuspicious(player uuid.UUID) bool {
	s, ok := x.sessions.Peek(player)
	return ok && s.State() == SessionSuspicious
}

// SessionOf returns the reporting snapshot for one player.
func (x *Coordinator) SessionOf(player uuid.UUID) (SessionInfo, bool) {
	s, ok := x.sessions.Peek(player)
	if !ok {
		return SessionInfo{}, false
	}
	return s.Info(), true
}

// Sessions returns snapshots of all live sessions.
func (x *Coordinator) Sessions() []SessionInfo {
	out := make([]SessionInfo, 0, x.sessions.Len())
	x.sessions.Range(func(_ uuid.UUID, s *Session) bool {
		out = append(out, s.Info())
		return true
	})
	return out
}

// Sweep evicts idle sessions and rate windows and refreshes the session
// gauges.
func (x *Coordinator) Sweep(now time.Time) int {
	removed := x.sessions.Sweep(now, nil)
	removed += x.rate.Sweep(now)
	x.verified.Sweep(now, nil)

	byState := make(map[string]int)
	x.sessions.Range(func(_ uuid.UUID, s *Session) bool {
		byState[s.State().String()]++
		return true
	})
	for _, st := range []SessionState{SessionChecking, SessionVerified, SessionSuspicious, SessionBot} {
		x.metrics.SetSessions(st.String(), byState[st.String()])
	}
	x.metrics.SetTrackedEntries("antibot", x.sessions.Len())
	return removed
}

// runChecks executes every enabled heuristic and returns the names of
// the ones that failed. Checks are independent; all of them run.
func (x *Coordinator) runChecks(c *config.Config, info core.LoginInfo) []string {
	ab := &c.AntiBot
	var failed []string

	checks := []struct {
		name    string
		enabled bool
		run     func() (checkResult, string)
	}{
		{"connection_rate", ab.ConnectionRateCheck, func() (checkResult, string) {
			return x.checkConnectionRate(ab, info.IP)
		}},
		{"username", ab.UsernameCheck, func() (checkResult, string) {
			return x.checkUsername(c, info.Username)
		}},
		{"brand", ab.BrandCheck, func() (checkResult, string) {
			return x.checkBrand(ab, info.Brand)
		}},
		{"host", ab.HostCheck, func() (checkResult, string) {
			return x.checkHost(ab, info.IP, info.VirtualHost)
		}},
		{"latency", ab.LatencyCheck, func() (checkResult, string) {
			return x.checkLatency(ab, info.Ping)
		}},
		{"geo", ab.GeoIPDatabase != "", func() (checkResult, string) {
			return x.checkGeo(ab.GeoAllowCountries, ab.GeoDenyCountries, info.IP)
		}},
	}

	for _, chk := range checks {
		if !chk.enabled {
			continue
		}
		res, reason := chk.run()
		switch res {
		case checkFail:
			x.metrics.RecordCheck(chk.name, false)
			x.log.Debug().
				Str("check", chk.name).
				Str("username", info.Username).
				Str("ip", info.IP).
				Str("reason", reason).
				Msg("check failed")
			failed = append(failed, chk.name)
		case checkPass, checkSkip:
			x.metrics.RecordCheck(chk.name, true)
		}
	}
	return failed
}

func (x *Coordinator) checkConnectionRate(ab *config.AntiBotConfig, ip string) (checkResult, string) {
	window := time.Duration(ab.RateLimitWindowMs) * time.Millisecond
	n := x.rate.Hit(ip, window)
	if n > int64(ab.RateLimitThreshold) {
		return checkFail, fmt.Sprintf("%d logins in window (max %d)", n, ab.RateLimitThreshold)
	}
	return checkPass, ""
}

func (x *Coordinator) checkUsername(c *config.Config, username string) (checkResult, string) {
	ab := &c.AntiBot

	set := x.usernameSet(c)
	if name, hit := set.MatchString(username); hit {
		return checkFail, "matches pattern " + name
	}
	if run := longestCharRun(username); run >= ab.SequentialCharThreshold {
		return checkFail, fmt.Sprintf("character run of %d (max %d)", run, ab.SequentialCharThreshold-1)
	}
	if ab.EntropyCheck {
		if e := usernameEntropy(username); e < ab.MinUsernameEntropy {
			return checkFail, fmt.Sprintf("entropy %.2f below %.2f", e, ab.MinUsernameEntropy)
		}
	}
	return checkPass, ""
}

func (x *Coordinator) checkBrand(ab *config.AntiBotConfig, brand string) (checkResult, string) {
	if brand == "" {
		// The brand plugin message may not have arrived yet.
		return checkSkip, "no brand reported"
	}
	if len(ab.AllowedBrands) == 0 {
		return checkPass, ""
	}
	for _, allowed := range ab.AllowedBrands {
		if strings.EqualFold(allowed, brand) {
			return checkPass, ""
		}
	}
	return checkFail, "brand " + brand + " not in allowed list"
}

func (x *Coordinator) checkLatency(ab *config.AntiBotConfig, ping time.Duration) (checkResult, string) {
	if ping <= 0 {
		return checkSkip, "ping not measured"
	}
	min := time.Duration(ab.MinLatencyMs) * time.Millisecond
	max := time.Duration(ab.MaxLatencyMs) * time.Millisecond
	if ping < min {
		return checkFail, fmt.Sprintf("ping %v below minimum %v", ping, min)
	}
	if ping > max {
		return checkFail, fmt.Sprintf("ping %v above maximum %v", ping, max)
	}
	return checkPass, ""
}

// usernameSet returns the compiled username patterns for the current
// config generation, recompiling after a reload.
func (x *Coordinator) usernameSet(c *config.Config) *patterns.Set {
	if set := x.usernames.Load(); set != nil && set.Generation() == c {
		return set
	}
	set, bad := patterns.Compile(c, c.AntiBot.UsernamePatterns, nil)
	if x.usernames.CompareAndSwap(x.usernames.Load(), set) && len(bad) > 0 {
		for _, b := range bad {
			x.log.Error().Str("pattern", b.Source).Err(b.Err).Msg("username pattern skipped")
		}
		x.publish(events.New(events.TypeStageDegraded, "antibot", events.SeverityCritical).
			WithReason("invalid username patterns skipped").
			WithData("skipped", len(bad)))
	}
	return set
}

func (x *Coordinator) publish(e *events.Event) {
	if x.bus != nil {
		x.bus.Publish(e)
	}
}
