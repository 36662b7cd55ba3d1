package blocklist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardstone/wardstone/internal/events"
)

type fakeMirror struct {
	mu       sync.Mutex
	fail     bool
	blocks   []Entry
	unblocks []string
}

func (f *fakeMirror) Name() string { return "fake" }

func (f *fakeMirror) Block(_ context.Context, e Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("mirror down")
	}
	f.blocks = append(f.blocks, e)
	return nil
}

func (f *fakeMirror) Unblock(_ context.Context, ip string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("mirror down")
	}
	f.unblocks = append(f.unblocks, ip)
	return nil
}

func (f *fakeMirror) Close() error { return nil }

func (f *fakeMirror) counts() (blocks, unblocks int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.blocks), len(f.unblocks)
}

type fakeListenerMirror struct {
	fakeMirror
	listenerMu sync.Mutex
	apply      func(action string, e Entry)
	detached   bool
}

func (f *fakeListenerMirror) Listen(_ context.Context, apply func(action string, e Entry)) (func(), error) {
	f.listenerMu.Lock()
	f.apply = apply
	f.listenerMu.Unlock()
	return func() {
		f.listenerMu.Lock()
		f.detached = true
		f.listenerMu.Unlock()
	}, nil
}

func newTestList(mirrors ...Mirror) *Blocklist {
	return New(zerolog.Nop(), nil, nil, mirrors...)
}

func TestBlockAndIsBlocked(t *testing.T) {
	b := newTestList()

	require.True(t, b.Block("203.0.113.7", time.Minute, "l4", "connection flood"))
	assert.True(t, b.IsBlocked("203.0.113.7"))
	assert.False(t, b.IsBlocked("203.0.113.8"))
	assert.Equal(t, 1, b.Len())
}

func TestReblockKeepsOriginalExpiry(t *testing.T) {
	b := newTestList()

	require.True(t, b.Block("203.0.113.7", time.Minute, "l4", "flood"))
	original := b.Snapshot()[0].ExpiresAt

	assert.False(t, b.Block("203.0.113.7", time.Hour, "l7", "violations"))

	got := b.Snapshot()[0]
	assert.Equal(t, original, got.ExpiresAt, "a second block must not extend the first")
	assert.Equal(t, "l4", got.Source, "the original entry stays intact")
}

func TestExpiredEntryLazilyRemoved(t *testing.T) {
	b := newTestList()

	b.Block("203.0.113.7", 10*time.Millisecond, "l4", "flood")
	time.Sleep(20 * time.Millisecond)

	assert.False(t, b.IsBlocked("203.0.113.7"))
	assert.Zero(t, b.Len(), "the lookup should have dropped the expired entry")
}

func TestBlockAfterExpiryCreatesFreshEntry(t *testing.T) {
	b := newTestList()

	b.Block("203.0.113.7", 10*time.Millisecond, "l4", "flood")
	time.Sleep(20 * time.Millisecond)

	assert.True(t, b.Block("203.0.113.7", time.Minute, "l7", "violations"))
	assert.True(t, b.IsBlocked("203.0.113.7"))
	assert.Equal(t, "l7", b.Snapshot()[0].Source)
}

func TestUnblock(t *testing.T) {
	b := newTestList()

	b.Block("203.0.113.7", time.Minute, "l4", "flood")
	assert.True(t, b.Unblock("203.0.113.7"))
	assert.False(t, b.IsBlocked("203.0.113.7"))
	assert.False(t, b.Unblock("203.0.113.7"), "unblocking twice finds nothing")
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	b := newTestList()

	b.Block("203.0.113.1", 10*time.Millisecond, "l4", "flood")
	b.Block("203.0.113.2", time.Hour, "l4", "flood")

	removed := b.Sweep(time.Now().Add(time.Second))
	assert.Equal(t, 1, removed)
	assert.False(t, b.IsBlocked("203.0.113.1"))
	assert.True(t, b.IsBlocked("203.0.113.2"))
}

func TestSnapshotOrderedByExpiry(t *testing.T) {
	b := newTestList()

	b.Block("203.0.113.3", 3*time.Hour, "l4", "flood")
	b.Block("203.0.113.1", time.Hour, "l4", "flood")
	b.Block("203.0.113.2", 2*time.Hour, "l4", "flood")

	snap := b.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "203.0.113.1", snap[0].IP)
	assert.Equal(t, "203.0.113.2", snap[1].IP)
	assert.Equal(t, "203.0.113.3", snap[2].IP)
}

func TestMirrorFanOut(t *testing.T) {
	fm := &fakeMirror{}
	b := newTestList(fm)
	b.Start()

	b.Block("203.0.113.7", time.Minute, "l4", "flood")
	b.Unblock("203.0.113.7")
	b.Stop()

	blocks, unblocks := fm.counts()
	assert.Equal(t, 1, blocks)
	assert.Equal(t, 1, unblocks)
}

func TestFailingMirrorDoesNotAffectTable(t *testing.T) {
	fm := &fakeMirror{fail: true}
	b := newTestList(fm)
	b.Start()

	require.True(t, b.Block("203.0.113.7", time.Minute, "l4", "flood"))
	assert.True(t, b.IsBlocked("203.0.113.7"))
	b.Stop()
}

func TestSiblingDecisionsAdoptedWithoutEcho(t *testing.T) {
	fm := &fakeListenerMirror{}
	b := newTestList(fm)
	b.Start()

	e := Entry{
		IP:        "203.0.113.9",
		Source:    "l4",
		Reason:    "flood seen by sibling",
		BlockedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Minute),
	}
	fm.apply("block", e)
	assert.True(t, b.IsBlocked("203.0.113.9"))

	fm.apply("unblock", Entry{IP: "203.0.113.9"})
	assert.False(t, b.IsBlocked("203.0.113.9"))

	b.Stop()

	blocks, unblocks := fm.counts()
	assert.Zero(t, blocks, "adopted decisions must not be written back")
	assert.Zero(t, unblocks)
	assert.True(t, fm.detached, "stopping the table detaches the listener")
}

func TestStaleSiblingBlockIgnored(t *testing.T) {
	fm := &fakeListenerMirror{}
	b := newTestList(fm)
	b.Start()

	fm.apply("block", Entry{
		IP:        "203.0.113.9",
		Source:    "l4",
		Reason:    "old flood",
		BlockedAt: time.Now().Add(-2 * time.Minute),
		ExpiresAt: time.Now().Add(-time.Minute),
	})
	assert.False(t, b.IsBlocked("203.0.113.9"))
	assert.Zero(t, b.Len())
	b.Stop()
}

func TestBlockPublishesEvent(t *testing.T) {
	bus := events.NewBus(8)
	b := New(zerolog.Nop(), nil, bus)
	ch := bus.Subscribe(events.TypeIPBlocked)

	b.Block("203.0.113.7", time.Minute, "l4", "connection flood")

	select {
	case ev := <-ch:
		assert.Equal(t, "203.0.113.7", ev.IP)
		assert.Equal(t, "l4", ev.Source)
		assert.Equal(t, "connection flood", ev.Reason)
	case <-time.After(time.Second):
		t.Fatal("no block event published")
	}
}

func TestConcurrentBlockSingleWinner(t *testing.T) {
	b := newTestList()

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- b.Block("203.0.113.7", time.Minute, "l4", "flood")
		}()
	}
	wg.Wait()
	close(wins)

	created := 0
	for w := range wins {
		if w {
			created++
		}
	}
	assert.Equal(t, 1, created, "exactly one racer creates the entry")
	assert.Equal(t, 1, b.Len())
}
