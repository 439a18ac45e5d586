package events

import "sync"

// Event is a structured notification describing a committed state change.
// Attributes are flat string pairs so downstream consumers (RPC feeds,
// indexers) can forward them without schema knowledge.
type Event struct {
	Type       string
	Attributes map[string]string
}

// Emitter broadcasts events to downstream subscribers. Emit is only invoked
// after the enclosing operation has fully committed; emitters must not fail
// the operation.
type Emitter interface {
	Emit(*Event)
}

// NoopEmitter satisfies Emitter while discarding all events.
type NoopEmitter struct{}

func (NoopEmitter) Emit(*Event) {}

// Recorder retains emitted events in order. It backs the gateway's recent
// activity feed and event assertions in tests.
type Recorder struct {
	mu     sync.Mutex
	events []*Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Emit(evt *Event) {
	if r == nil || evt == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

// Events returns a copy of the recorded sequence in emission order.
func (r *Recorder) Events() []*Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Event, len(r.events))
	copy(out, r.events)
	return out
}
