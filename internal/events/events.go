// Package events implements the event bus named in SPEC_FULL.md §2: a
// typed stream of pipeline lifecycle events fanned out to zero or more
// subscribers. The reporter that renders these events is explicitly out of
// scope (§1) — this package only needs to get one producer's events to N
// registered consumers, which is exactly what a Go channel does; no
// external pub/sub library earns its keep here.
//
// Grounded on the structured per-action status/log lines internal/core's
// engine.go and internal/run/real_run.go emit as actions complete, and on
// github.com/google/chrometracing's event-sink shape for the optional
// Chrome-trace consumer named in SPEC_FULL.md §13.
package events

import "sync"

// Kind discriminates the events this bus carries.
type Kind int

// Event kinds.
const (
	KindActionStarted Kind = iota
	KindActionFinished
	KindPipelineFinished
)

func (k Kind) String() string {
	switch k {
	case KindActionStarted:
		return "ActionStarted"
	case KindActionFinished:
		return "ActionFinished"
	case KindPipelineFinished:
		return "PipelineFinished"
	default:
		return "Unknown"
	}
}

// Event is one item on the bus. Only the fields relevant to Kind are
// populated.
type Event struct {
	Kind Kind

	// ActionKey, ActionKind: ActionStarted, ActionFinished.
	ActionKey  string
	ActionKind string

	// Status, Err: ActionFinished.
	Status string
	Err    error

	// Counts, Estimate: PipelineFinished.
	Counts   map[string]int
	Estimate interface{}
}

// Bus fans out published events to every subscriber at the time of
// publication. Subscribing after an event is published never delivers that
// event — there's no replay buffer, matching the teacher's fire-and-forget
// status lines.
type Bus struct {
	mu   sync.RWMutex
	subs []chan Event
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers a new subscriber and returns its channel, buffered so
// a slow consumer never blocks Publish. Callers should drain the channel
// until the bus's owner calls Close, or read in a separate goroutine.
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Publish fans event out to every current subscriber. A subscriber whose
// buffer is full has the event dropped for it rather than blocking the
// publisher — pipeline progress must never stall on a slow observer.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close closes every subscriber channel. Must only be called once, after
// the producer is done publishing.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
