// Package bus provides the in-process event bus that decouples the
// synchronizers from the presentation layer. Kinds are dot-separated
// namespaces; subscribers receive every event whose kind starts with their
// subscribed prefix.
//
// Published kinds:
//
//	session.status_changed   status.Change
//	roster.updated           nil
//	conv.message             *chat.Message (conversation uuid in Topic)
//	conv.error               string
//	outbox.sent              Ack
//	outbox.failed            Ack
package bus

import (
	"strings"
	"sync"
	"time"
)

// Event is one domain event. Topic optionally narrows the event to a single
// conversation.
type Event struct {
	Kind      string
	Topic     string
	Timestamp time.Time
	Payload   any
}

// Subscription is a handle to a live subscription. Events arrive on C;
// Cancel detaches it. Events published while C is full are dropped rather
// than blocking the publisher.
type Subscription struct {
	C      <-chan Event
	cancel func()
	once   sync.Once
}

// Cancel detaches the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Bus fans events out to prefix-matched subscribers.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]*subscriber
	next    int
	dropped int
}

type subscriber struct {
	prefix string
	ch     chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Publish delivers evt to every subscriber whose prefix matches evt.Kind.
// Never blocks; slow subscribers lose events.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.dropped++
		}
	}
}

// Subscribe registers interest in all kinds starting with prefix. buf sizes
// the delivery channel.
func (b *Bus) Subscribe(prefix string, buf int) *Subscription {
	ch := make(chan Event, buf)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscriber{prefix: prefix, ch: ch}
	b.mu.Unlock()

	return &Subscription{
		C: ch,
		cancel: func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		},
	}
}

// Dropped reports how many events were discarded because a subscriber
// channel was full.
func (b *Bus) Dropped() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Ack is the payload of outbox.sent and outbox.failed events.
type Ack struct {
	ClientID string
	ConvUUID string
	ServerID int64
	Err      string
}
