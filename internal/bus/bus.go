// Package bus provides the in-process event bus: a fan-out of job events and
// worker status updates to any number of subscribers (RPC streams, the
// WebSocket hub, the NATS publisher).
package bus

import (
	"sync"

	"github.com/agentsdashboard/orchestrator/internal/port/messagequeue"
)

// Message is one bus item: exactly one of Job or Status is set.
type Message struct {
	Job    *messagequeue.JobEvent
	Status *messagequeue.WorkerStatus
}

// subscriberBuffer bounds each subscriber channel. A subscriber that falls
// this far behind loses its oldest messages rather than blocking publishers.
const subscriberBuffer = 256

// EventBus fans out messages to all current subscribers. There is no replay:
// a subscriber only sees messages published after Subscribe.
type EventBus struct {
	mu     sync.Mutex
	subs   map[int]chan Message
	nextID int
	closed bool
}

// New creates an EventBus.
func New() *EventBus {
	return &EventBus{subs: make(map[int]chan Message)}
}

// Subscribe registers a new subscriber. The returned channel delivers future
// messages and is closed when the subscription is cancelled or the bus closes.
func (b *EventBus) Subscribe() (<-chan Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Message)
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	ch := make(chan Message, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// PublishJobEvent fans a job event out to all subscribers.
func (b *EventBus) PublishJobEvent(ev messagequeue.JobEvent) {
	b.publish(Message{Job: &ev})
}

// PublishWorkerStatus fans a worker status out to all subscribers.
func (b *EventBus) PublishWorkerStatus(st messagequeue.WorkerStatus) {
	b.publish(Message{Status: &st})
}

func (b *EventBus) publish(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- msg:
		default:
			// Slow subscriber: drop its oldest message to make room.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- msg:
			default:
			}
		}
	}
}

// Close completes all subscriber channels. Further publishes are no-ops and
// further subscribes return an already-closed channel.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
