package vworld

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardstone/wardstone/internal/config"
	"github.com/wardstone/wardstone/internal/protocol"
)

func pos(x, y, z float64) *protocol.Movement {
	return &protocol.Movement{X: x, Y: y, Z: z, HasPos: true}
}

func lookOnly(yaw, pitch float32) *protocol.Movement {
	return &protocol.Movement{Yaw: yaw, Pitch: pitch, HasLook: true}
}

func TestMotionAccumulatesFromSpawn(t *testing.T) {
	m := newMotion(0, 65, 0)
	t0 := time.Now()

	m.observe(t0, pos(1, 65, 0))
	m.observe(t0.Add(200*time.Millisecond), pos(1, 65, 2))

	assert.Equal(t, 2, m.movements)
	assert.InDelta(t, 3.0, m.distance, 0.001)
	require.Len(t, m.intervals, 1, "no interval before the first movement")
	assert.InDelta(t, 0.2, m.intervals[0], 0.001)
}

func TestMotionMonotone(t *testing.T) {
	m := newMotion(0, 65, 0)
	t0 := time.Now()

	m.observe(t0, pos(2, 65, 0))
	moved, dist := m.movements, m.distance

	// Walking straight back still adds evidence.
	m.observe(t0.Add(time.Second), pos(0, 65, 0))
	assert.Greater(t, m.movements, moved)
	assert.Greater(t, m.distance, dist)
}

func TestMotionIgnoresLookOnly(t *testing.T) {
	m := newMotion(0, 65, 0)
	m.observe(time.Now(), lookOnly(90, 10))

	assert.Zero(t, m.movements)
	assert.Zero(t, m.distance)
}

func TestMotionDirectionChanges(t *testing.T) {
	t.Run("straight line never turns", func(t *testing.T) {
		m := newMotion(0, 65, 0)
		now := time.Now()
		for i := 1; i <= 5; i++ {
			m.observe(now.Add(time.Duration(i)*100*time.Millisecond), pos(float64(i), 65, 0))
		}
		assert.Zero(t, m.turns)
	})

	t.Run("right angle turns once", func(t *testing.T) {
		m := newMotion(0, 65, 0)
		now := time.Now()
		m.observe(now, pos(1, 65, 0))
		m.observe(now.Add(100*time.Millisecond), pos(2, 65, 0))
		m.observe(now.Add(200*time.Millisecond), pos(2, 65, 1))
		assert.Equal(t, 1, m.turns)
	})

	t.Run("vertical hop has no heading", func(t *testing.T) {
		m := newMotion(0, 65, 0)
		now := time.Now()
		m.observe(now, pos(1, 65, 0))
		m.observe(now.Add(100*time.Millisecond), pos(1, 66, 0))
		m.observe(now.Add(200*time.Millisecond), pos(2, 66, 0))
		assert.Zero(t, m.turns)
	})
}

func TestMotionTimingCV(t *testing.T) {
	build := func(intervals ...time.Duration) *motion {
		m := newMotion(0, 65, 0)
		at := time.Now()
		m.observe(at, pos(1, 65, 0))
		x := 1.0
		for _, iv := range intervals {
			at = at.Add(iv)
			x++
			m.observe(at, pos(x, 65, 0))
		}
		return m
	}

	t.Run("too few samples", func(t *testing.T) {
		_, ok := build(100*time.Millisecond, 150*time.Millisecond).timingCV()
		assert.False(t, ok)
	})

	t.Run("constant tick degenerates", func(t *testing.T) {
		cv, ok := build(50*time.Millisecond, 50*time.Millisecond, 50*time.Millisecond, 50*time.Millisecond).timingCV()
		require.True(t, ok)
		assert.InDelta(t, 0, cv, 0.0001)
	})

	t.Run("human jitter varies", func(t *testing.T) {
		cv, ok := build(180*time.Millisecond, 240*time.Millisecond, 210*time.Millisecond, 300*time.Millisecond).timingCV()
		require.True(t, ok)
		assert.Greater(t, cv, 0.05)
	})
}

func TestMotionEvaluate(t *testing.T) {
	ab := &config.Default().AntiBot

	walk := func(moves int, stepX, stepZ float64, interval time.Duration, turnAt int) *motion {
		m := newMotion(0, 65, 0)
		at := time.Now()
		x, z := 0.0, 0.0
		for i := 0; i < moves; i++ {
			if turnAt > 0 && i >= turnAt {
				z += stepZ
			} else {
				x += stepX
			}
			at = at.Add(interval)
			m.observe(at, pos(x, 65, z))
		}
		return m
	}

	t.Run("no movement fails", func(t *testing.T) {
		pass, reason := newMotion(0, 65, 0).evaluate(ab, 10*time.Second)
		require.False(t, pass)
		assert.Contains(t, reason, "insufficient movement")
	})

	t.Run("movements below minimum fails", func(t *testing.T) {
		m := walk(ab.MiniWorldMinMovements-1, 1.5, 1.5, 200*time.Millisecond, 1)
		pass, reason := m.evaluate(ab, 10*time.Second)
		require.False(t, pass)
		assert.Contains(t, reason, "insufficient movement")
	})

	t.Run("movements at minimum passes", func(t *testing.T) {
		m := walk(ab.MiniWorldMinMovements, 1.5, 1.5, 200*time.Millisecond, 1)
		pass, reason := m.evaluate(ab, 10*time.Second)
		assert.True(t, pass, reason)
	})

	t.Run("short path fails", func(t *testing.T) {
		m := walk(5, 0.1, 0.1, 200*time.Millisecond, 2)
		pass, reason := m.evaluate(ab, 10*time.Second)
		require.False(t, pass)
		assert.Contains(t, reason, "insufficient distance")
	})

	t.Run("grace period holds early pass", func(t *testing.T) {
		m := walk(5, 1, 1, 200*time.Millisecond, 2)
		pass, reason := m.evaluate(ab, 2*time.Second)
		require.False(t, pass)
		assert.Contains(t, reason, "grace period")
	})

	t.Run("single axis spam fails", func(t *testing.T) {
		m := walk(5, 1, 0, 197*time.Millisecond, 0)
		// Vary the tick so only complexity fails.
		m.intervals = []float64{0.18, 0.24, 0.21, 0.30}
		pass, reason := m.evaluate(ab, 10*time.Second)
		require.False(t, pass)
		assert.Contains(t, reason, "path complexity")
	})

	t.Run("robotic tick fails", func(t *testing.T) {
		m := walk(6, 1, 1, 50*time.Millisecond, 3)
		pass, reason := m.evaluate(ab, 10*time.Second)
		require.False(t, pass)
		assert.Contains(t, reason, "timing")
	})
}

func TestMotionActionFlags(t *testing.T) {
	m := newMotion(0, 65, 0)
	m.flag(protocol.ActionJump)
	m.flag(protocol.ActionSneakStart)
	m.flag(protocol.ActionSwing)

	st := m.stats()
	assert.True(t, st.Jumped)
	assert.True(t, st.Crouched)
	assert.True(t, st.Interacted)
}
