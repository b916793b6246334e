package events

import "bookadot/core/types"

// Event represents a structured state change emitted by the escrow core.
type Event interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all
// events. It is the default for engines constructed without a sink.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Recorder captures emitted events in order. Intended for tests.
type Recorder struct {
	Events []Event
}

func (r *Recorder) Emit(evt Event) {
	r.Events = append(r.Events, evt)
}

// ByType returns the captured events matching the supplied type.
func (r *Recorder) ByType(eventType string) []Event {
	var matched []Event
	for _, evt := range r.Events {
		if evt.EventType() == eventType {
			matched = append(matched, evt)
		}
	}
	return matched
}
