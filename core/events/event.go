package events

import "auctionhouse/core/types"

// Event represents a structured state change emitted by the house.
type Event interface {
	EventType() string
}

// Payload is implemented by events that can render themselves as a
// canonical types.Event for RPC and websocket consumers.
type Payload interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, websockets).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer collects events emitted during a unit of work so they can be
// published only once the unit commits.
type Buffer struct {
	events []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if evt == nil {
		return
	}
	b.events = append(b.events, evt)
}

// Events returns the collected events in emission order.
func (b *Buffer) Events() []Event {
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// Flush forwards every collected event to target and clears the buffer.
func (b *Buffer) Flush(target Emitter) {
	if target != nil {
		for _, evt := range b.events {
			target.Emit(evt)
		}
	}
	b.events = nil
}

// Reset drops every collected event.
func (b *Buffer) Reset() { b.events = nil }
