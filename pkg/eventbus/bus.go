package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/shelffs/shelf/internal/logger"
)

// DefaultQueueSize bounds each subscriber's buffered channel. Publish never
// blocks waiting on a slow subscriber; once a subscriber's queue is full,
// further events are dropped for that subscriber and counted in Overruns.
const DefaultQueueSize = 256

// Subscription is a handle returned by Bus.Subscribe. Events arrives in
// publish order; Unsubscribe stops delivery and closes Events.
type Subscription struct {
	id       uint64
	bus      *Bus
	events   chan Event
	overruns atomic.Uint64
}

// Events returns the channel this subscription receives on.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Overruns returns how many events this subscriber has missed due to a full
// queue since it subscribed.
func (s *Subscription) Overruns() uint64 {
	return s.overruns.Load()
}

// Unsubscribe stops delivery to this subscription and releases its channel.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.id)
}

// Bus is a broadcast publish/subscribe hub. Each subscriber receives every
// event published after it subscribed, in publisher order; no ordering is
// promised across subscribers (§4.J, §5).
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]*Subscription
	nextID      uint64
	queueSize   int
}

// New creates an empty Bus. queueSize <= 0 uses DefaultQueueSize.
func New(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		subscribers: make(map[uint64]*Subscription),
		queueSize:   queueSize,
	}
}

// Subscribe registers a new subscriber and returns its Subscription.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		bus:    b,
		events: make(chan Event, b.queueSize),
	}
	b.subscribers[sub.id] = sub
	return sub
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	delete(b.subscribers, id)
	b.mu.Unlock()

	if ok {
		close(sub.events)
	}
}

// Publish fans an event out to every current subscriber. Publish never
// blocks on a slow subscriber: a full subscriber queue is an overrun, logged
// and counted, not a stall.
func (b *Bus) Publish(kind Kind, payload any) {
	ev := Event{Kind: kind, At: time.Now(), Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		select {
		case sub.events <- ev:
		default:
			sub.overruns.Add(1)
			logger.Warn("eventbus: subscriber overrun, dropping event",
				"kind", string(kind), "subscriber_id", sub.id)
		}
	}
}

// Close unsubscribes every current subscriber, closing their channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subscribers {
		close(sub.events)
		delete(b.subscribers, id)
	}
}

// SubscriberCount reports the number of currently active subscribers. Mostly
// useful for tests and metrics.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
