// Package events provides the in-process publish/subscribe bus the
// scheduler, governor, and reporters use to exchange typed notifications
// without direct coupling. Delivery is non-blocking: a subscriber that falls
// behind loses events rather than stalling a publisher.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Type names an event stream on the bus.
type Type string

const (
	// Resource governor events
	TypeAllocated        Type = "resource.allocated"
	TypeReleased         Type = "resource.released"
	TypeReclaimed        Type = "resource.reclaimed"
	TypeResourcePressure Type = "resource.pressure"
	TypeAllocationWait   Type = "resource.wait"

	// Scheduler events
	TypeGroupStarted    Type = "scheduler.group_started"
	TypeGroupFinished   Type = "scheduler.group_finished"
	TypeWorkerState     Type = "scheduler.worker_state"
	TypeWorkerRestarted Type = "scheduler.worker_restarted"
	TypeDegradation     Type = "scheduler.degradation"
	TypeDeadlock        Type = "scheduler.deadlock"
	TypeBreakerState    Type = "scheduler.breaker_state"
)

// Event is a single notification. Payload shape depends on Type; subscribers
// assert on the payload types they understand.
type Event struct {
	Type      Type
	Timestamp time.Time
	Payload   interface{}
}

type subscriber struct {
	ch     chan Event
	closed bool
}

// Bus fans events out to per-type subscriber channels.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Type][]*subscriber
	dropped atomic.Int64
	closed  bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Type][]*subscriber)}
}

// Subscribe registers interest in one event type. The returned channel has
// the given buffer; the returned func unsubscribes and closes the channel.
func (b *Bus) Subscribe(t Type, buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	sub := &subscriber{ch: make(chan Event, buffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subs[t] = append(b.subs[t], sub)
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[t]
			for i, s := range list {
				if s == sub {
					b.subs[t] = append(list[:i], list[i+1:]...)
					break
				}
			}
			if !sub.closed {
				sub.closed = true
				close(sub.ch)
			}
		})
	}
	return sub.ch, unsubscribe
}

// Publish delivers the event to every subscriber of its type. A zero
// timestamp is stamped with the current time. Full subscriber channels drop
// the event; Dropped counts losses.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, sub := range b.subs[e.Type] {
		if sub.closed {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Emit is shorthand for Publish with just a type and payload.
func (b *Bus) Emit(t Type, payload interface{}) {
	b.Publish(Event{Type: t, Payload: payload})
}

// Dropped returns how many events were lost to full subscriber buffers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close shuts the bus down: subsequent publishes are no-ops and all
// subscriber channels are closed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, list := range b.subs {
		for _, sub := range list {
			if !sub.closed {
				sub.closed = true
				close(sub.ch)
			}
		}
	}
	b.subs = make(map[Type][]*subscriber)
}
