package events

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Handler is a function that handles events.
type Handler func(Event)

// DefaultBufferSize is the number of events a Bus queues before dropping.
const DefaultBufferSize = 256

type subscription struct {
	handler Handler
	types   []EventType // empty means every type
}

func (s subscription) wants(t EventType) bool {
	return len(s.types) == 0 || slices.Contains(s.types, t)
}

// Bus fans events out to subscribers on a single dispatch goroutine, so each
// subscriber sees events in publish order.
//
// Publish never blocks. When the queue is full the event is dropped and
// counted.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]subscription
	nextID uint64

	queue   chan Event
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

// NewBus creates a bus with DefaultBufferSize queue slots.
func NewBus() *Bus {
	return newBus(DefaultBufferSize, true)
}

func newBus(size int, dispatch bool) *Bus {
	b := &Bus{
		subs:  make(map[uint64]subscription),
		queue: make(chan Event, size),
		done:  make(chan struct{}),
	}
	if dispatch {
		go b.run()
	}
	return b
}

func (b *Bus) run() {
	for {
		select {
		case event := <-b.queue:
			b.deliver(event)
		case <-b.done:
			return
		}
	}
}

func (b *Bus) deliver(event Event) {
	b.mu.RLock()
	ids := make([]uint64, 0, len(b.subs))
	for id, s := range b.subs {
		if s.wants(event.Type()) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	handlers := make([]Handler, len(ids))
	for i, id := range ids {
		handlers[i] = b.subs[id].handler
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// Subscribe registers h for events of the given types, or for every event
// when no types are given. Handlers run in subscription order. The returned
// function removes the subscription.
func (b *Bus) Subscribe(h Handler, types ...EventType) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = subscription{handler: h, types: slices.Clone(types)}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish queues an event. A nil bus is a no-op so callers need not check
// whether one was configured.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	select {
	case <-b.done:
		return
	default:
	}
	select {
	case b.queue <- event:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close stops dispatch. Queued events are discarded. It is safe to call more
// than once.
func (b *Bus) Close() {
	b.once.Do(func() { close(b.done) })
}
