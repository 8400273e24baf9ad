package events

import (
	"sync"

	"mystra/core/types"
)

// Event represents a structured state change emitted by the marketplace.
type Event interface {
	EventType() string
}

// Payload is implemented by events that carry a typed attribute payload.
type Payload interface {
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer collects events emitted during a single call so they can be released
// only once the call commits.
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

// Events returns the buffered events in emission order.
func (b *Buffer) Events() []Event { return append([]Event(nil), b.events...) }

// Reset drops all buffered events.
func (b *Buffer) Reset() { b.events = nil }

// Multi fans an event out to several emitters.
type Multi struct {
	mu       sync.RWMutex
	emitters []Emitter
}

// NewMulti returns a fan-out emitter over the non-nil emitters supplied.
func NewMulti(emitters ...Emitter) *Multi {
	m := &Multi{}
	for _, e := range emitters {
		m.Add(e)
	}
	return m
}

// Add registers another downstream emitter.
func (m *Multi) Add(e Emitter) {
	if e == nil {
		return
	}
	m.mu.Lock()
	m.emitters = append(m.emitters, e)
	m.mu.Unlock()
}

// Emit implements the Emitter interface.
func (m *Multi) Emit(evt Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.emitters {
		e.Emit(evt)
	}
}

// Committed wraps an event that belongs to a committed call.
type Committed struct {
	CallID    string
	BlockTime uint64
	Sequence  int
	Payload   *types.Event
}

// EventType implements Event.
func (c Committed) EventType() string {
	if c.Payload == nil {
		return ""
	}
	return c.Payload.Type
}

// Event implements Payload.
func (c Committed) Event() *types.Event { return c.Payload }
