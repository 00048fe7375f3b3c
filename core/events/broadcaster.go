package events

import (
	"sync"
	"sync/atomic"

	"auctionhouse/core/types"
)

const defaultSubscriberBuffer = 64

// Broadcaster fans committed events out to live subscribers. Slow subscribers
// drop events instead of blocking the publisher.
type Broadcaster struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    map[uint64]chan *types.Event
	dropped atomic.Uint64
}

// NewBroadcaster constructs an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[uint64]chan *types.Event)}
}

// Emit implements Emitter. Events that do not implement Payload are ignored.
func (b *Broadcaster) Emit(evt Event) {
	payload, ok := evt.(Payload)
	if !ok || b == nil {
		return
	}
	rendered := payload.Event()
	if rendered == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- rendered:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a new subscriber and returns its channel together with a
// cancel function that must be called to release it.
func (b *Broadcaster) Subscribe() (<-chan *types.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan *types.Event, defaultSubscriberBuffer)
	b.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Dropped reports how many deliveries were skipped because a subscriber was
// not keeping up.
func (b *Broadcaster) Dropped() uint64 { return b.dropped.Load() }

// Subscribers reports the number of live subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Fanout forwards every event to each non-nil emitter in order.
type Fanout []Emitter

// Emit implements Emitter.
func (f Fanout) Emit(evt Event) {
	for _, e := range f {
		if e != nil {
			e.Emit(evt)
		}
	}
}
