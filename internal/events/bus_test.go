package events

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishToTypedSubscriber(t *testing.T) {
	bus := NewBus(8)
	blocked := bus.Subscribe(TypeIPBlocked)
	kicked := bus.Subscribe(TypeLoginKicked)

	bus.Publish(New(TypeIPBlocked, "l4", SeverityWarning).WithIP("203.0.113.7"))

	select {
	case ev := <-blocked:
		assert.Equal(t, TypeIPBlocked, ev.Type)
		assert.Equal(t, "203.0.113.7", ev.IP)
		assert.NotEmpty(t, ev.ID)
	default:
		t.Fatal("typed subscriber did not receive event")
	}

	select {
	case <-kicked:
		t.Fatal("unrelated subscriber received event")
	default:
	}
}

func TestAllSubscriberSeesEverything(t *testing.T) {
	bus := NewBus(8)
	all := bus.Subscribe()

	bus.Publish(New(TypeIPBlocked, "l4", SeverityWarning))
	bus.Publish(New(TypeVerificationPassed, "vworld", SeverityInfo))

	assert.Len(t, all, 2)
}

func TestFullSubscriberDropsNotBlocks(t *testing.T) {
	bus := NewBus(1)
	ch := bus.Subscribe(TypePacketDropped)

	bus.Publish(New(TypePacketDropped, "filter", SeverityInfo))
	bus.Publish(New(TypePacketDropped, "filter", SeverityInfo)) // buffer full

	assert.Len(t, ch, 1)
	assert.Equal(t, uint64(1), bus.Dropped())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(4)
	ch := bus.Subscribe(TypeIPBlocked)
	require.Equal(t, 1, bus.SubscriberCount())

	bus.Unsubscribe(ch)
	assert.Equal(t, 0, bus.SubscriberCount())

	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	bus.Publish(New(TypeIPBlocked, "l4", SeverityWarning))
}

func TestEventBuilders(t *testing.T) {
	player := uuid.New()
	ev := New(TypeLoginKicked, "antibot", SeverityWarning).
		WithPlayer(player).
		WithReason("username pattern").
		WithData("username", "bot12345")

	data, err := ev.JSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), "bot12345")
	assert.Equal(t, player.String(), ev.Player)
	assert.Equal(t, "username pattern", ev.Reason)
}
