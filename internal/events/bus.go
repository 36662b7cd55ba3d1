// Package events is the in-process pub/sub bus for security events. The
// pipeline publishes without blocking; slow subscribers lose events rather
// than stalling packet processing.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types published by the pipeline.
const (
	TypeIPBlocked          = "ip_blocked"
	TypeIPUnblocked        = "ip_unblocked"
	TypeConnectionDropped  = "connection_dropped"
	TypePacketDropped      = "packet_dropped"
	TypeProtocolViolation  = "protocol_violation"
	TypeLoginKicked        = "login_kicked"
	TypeLoginFlagged       = "login_flagged"
	TypeVerificationStart  = "verification_started"
	TypeVerificationPassed = "verification_passed"
	TypeVerificationFailed = "verification_failed"
	TypeStageDegraded      = "stage_degraded"
	TypeStatusReport       = "status_report"
)

// Severity buckets events for the ops feed.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is one security event as published on the bus and streamed to
// ops subscribers.
type Event struct {
	ID       string                 `json:"id"`
	Type     string                 `json:"type"`
	Source   string                 `json:"source"`
	Severity Severity               `json:"severity"`
	Time     time.Time              `json:"time"`
	IP       string                 `json:"ip,omitempty"`
	Player   string                 `json:"player,omitempty"`
	Reason   string                 `json:"reason,omitempty"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// New builds an event with id and timestamp filled in.
func New(eventType, source string, severity Severity) *Event {
	return &Event{
		ID:       uuid.NewString(),
		Type:     eventType,
		Source:   source,
		Severity: severity,
		Time:     time.Now(),
	}
}

// WithIP attaches the source address.
func (e *Event) WithIP(ip string) *Event {
	e.IP = ip
	return e
}

// WithPlayer attaches the player identity.
func (e *Event) WithPlayer(player uuid.UUID) *Event {
	e.Player = player.String()
	return e
}

// WithReason attaches a human-readable cause.
func (e *Event) WithReason(reason string) *Event {
	e.Reason = reason
	return e
}

// WithData attaches one structured field.
func (e *Event) WithData(key string, value interface{}) *Event {
	if e.Data == nil {
		e.Data = make(map[string]interface{})
	}
	e.Data[key] = value
	return e
}

// JSON serializes the event.
func (e *Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// Bus fans events out to subscribers. Delivery is best effort: a full
// subscriber channel drops the event for that subscriber only.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan *Event
	allSubs     []chan *Event
	bufferSize  int
	dropped     uint64
}

// NewBus creates a bus whose subscriber channels buffer bufferSize events.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[string][]chan *Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe returns a channel receiving events of the given types, or all
// events when none are named.
func (b *Bus) Subscribe(eventTypes ...string) chan *Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *Event, b.bufferSize)
	if len(eventTypes) == 0 {
		b.allSubs = append(b.allSubs, ch)
	} else {
		for _, et := range eventTypes {
			b.subscribers[et] = append(b.subscribers[et], ch)
		}
	}
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (b *Bus) Unsubscribe(ch chan *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for et, subs := range b.subscribers {
		b.subscribers[et] = removeChan(subs, ch)
	}
	b.allSubs = removeChan(b.allSubs, ch)
	close(ch)
}

func removeChan(subs []chan *Event, ch chan *Event) []chan *Event {
	filtered := subs[:0]
	for _, s := range subs {
		if s != ch {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

// Publish delivers the event to all matching subscribers without blocking.
func (b *Bus) Publish(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[event.Type] {
		select {
		case ch <- event:
		default:
			b.noteDrop()
		}
	}
	for _, ch := range b.allSubs {
		select {
		case ch <- event:
		default:
			b.noteDrop()
		}
	}
}

func (b *Bus) noteDrop() {
	// Racy increment is acceptable; the count is diagnostic only.
	b.dropped++
}

// Dropped returns how many deliveries were skipped due to full buffers.
func (b *Bus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := len(b.allSubs)
	for _, subs := range b.subscribers {
		count += len(subs)
	}
	return count
}
