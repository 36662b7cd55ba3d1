package vworld

import (
	"fmt"
	"math"
	"time"

	"github.com/wardstone/wardstone/internal/config"
	"github.com/wardstone/wardstone/internal/protocol"
)

// minElapsed is the grace window before an early pass can resolve;
// instant motion bursts right after join are not trusted.
const minElapsed = 3 * time.Second

// timingSamples is the minimum number of inter-movement intervals needed
// before the natural-timing criterion is judged at all.
const timingSamples = 4

// motion accumulates the movement evidence for one verification session,
// measured from the spawn position the world teleported the client to.
// Callers hold the owning player's lock; nothing here is goroutine-safe
// on its own.
type motion struct {
	x, y, z float64

	movements int
	distance  float64

	lastAt    time.Time
	intervals []float64

	lastSector int
	turns      int

	jumped     bool
	crouched   bool
	interacted bool
}

func newMotion(spawnX, spawnY, spawnZ float64) *motion {
	return &motion{x: spawnX, y: spawnY, z: spawnZ, lastSector: -1}
}

// observe folds one positional sample into the evidence. Look-only
// packets carry no displacement and are ignored here. Movement count and
// total distance only ever grow.
func (m *motion) observe(now time.Time, mv *protocol.Movement) {
	if !mv.HasPos {
		return
	}

	dx := mv.X - m.x
	dy := mv.Y - m.y
	dz := mv.Z - m.z
	m.x, m.y, m.z = mv.X, mv.Y, mv.Z

	m.movements++
	m.distance += math.Sqrt(dx*dx + dy*dy + dz*dz)

	// Intervals exist between consecutive movement packets, not before
	// the first one.
	if !m.lastAt.IsZero() {
		if dt := now.Sub(m.lastAt); dt > 0 {
			m.intervals = append(m.intervals, dt.Seconds())
		}
	}
	m.lastAt = now

	// Heading is quantized into 45 degree sectors; vertical-only
	// displacement has no heading and does not turn.
	if dx != 0 || dz != 0 {
		sector := int(math.Floor((math.Atan2(dz, dx)+math.Pi)/(math.Pi/4))) % 8
		if m.lastSector >= 0 && sector != m.lastSector {
			m.turns++
		}
		m.lastSector = sector
	}
}

func (m *motion) flag(kind protocol.ActionKind) {
	switch kind {
	case protocol.ActionJump:
		m.jumped = true
	case protocol.ActionSneakStart, protocol.ActionSneakStop:
		m.crouched = true
	case protocol.ActionInteract, protocol.ActionSwing:
		m.interacted = true
	}
}

// timingCV is the coefficient of variation of the inter-movement
// intervals. Returns ok=false when there are too few samples to judge.
func (m *motion) timingCV() (cv float64, ok bool) {
	if len(m.intervals) < timingSamples {
		return 0, false
	}
	var sum float64
	for _, v := range m.intervals {
		sum += v
	}
	mean := sum / float64(len(m.intervals))
	if mean <= 0 {
		return 0, true
	}
	var sq float64
	for _, v := range m.intervals {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq/float64(len(m.intervals))) / mean, true
}

// evaluate applies the pass criteria. An empty reason means PASS; the
// reason names the first criterion that failed.
func (m *motion) evaluate(ab *config.AntiBotConfig, elapsed time.Duration) (pass bool, reason string) {
	if m.movements < ab.MiniWorldMinMovements {
		return false, fmt.Sprintf("insufficient movement (%d of %d)", m.movements, ab.MiniWorldMinMovements)
	}
	if m.distance < ab.MiniWorldMinDistance {
		return false, fmt.Sprintf("insufficient distance (%.1f of %.1f)", m.distance, ab.MiniWorldMinDistance)
	}
	if elapsed < minElapsed {
		return false, "grace period not elapsed"
	}
	if m.turns < ab.MiniWorldMinDirectionChanges {
		return false, fmt.Sprintf("no path complexity (%d turns of %d)", m.turns, ab.MiniWorldMinDirectionChanges)
	}
	if cv, ok := m.timingCV(); ok && cv < ab.MiniWorldTimingEpsilon {
		return false, fmt.Sprintf("scripted movement timing (cv %.3f)", cv)
	}
	return true, ""
}

// Stats is the reporting snapshot of one session's evidence.
type Stats struct {
	Movements        int     `json:"movements"`
	Distance         float64 `json:"distance"`
	DirectionChanges int     `json:"direction_changes"`
	Jumped           bool    `json:"jumped"`
	Crouched         bool    `json:"crouched"`
	Interacted       bool    `json:"interacted"`
}

func (m *motion) stats() Stats {
	return Stats{
		Movements:        m.movements,
		Distance:         m.distance,
		DirectionChanges: m.turns,
		Jumped:           m.jumped,
		Crouched:         m.crouched,
		Interacted:       m.interacted,
	}
}
