package events

import (
	"time"
)

// Type identifies the kind of lifecycle event emitted by a component.
type Type string

const (
	// Resource pool events
	ResourceCreated      Type = "resource.created"
	ResourceDestroyed    Type = "resource.destroyed"
	ResourceAcquired     Type = "resource.acquired"
	ResourceReleased     Type = "resource.released"
	ResourceQueued       Type = "resource.queued"
	ResourceCreateFailed Type = "resource.create_failed"

	// Circuit breaker events
	CircuitOpened     Type = "circuit.opened"
	CircuitHalfOpened Type = "circuit.half_opened"
	CircuitClosed     Type = "circuit.closed"
	CircuitRejected   Type = "circuit.rejected"

	// Batch processor events
	BatchCompleted Type = "batch.completed"
	BatchError     Type = "batch.error"
	BatchRetry     Type = "batch.retry"
)

// Event is a structured lifecycle notification. Fields that do not apply
// to a given event type are left at their zero value.
type Event struct {
	Type     Type
	Source   string // name of the emitting pool/breaker/processor
	Time     time.Time
	Resource string        // resource ID, for resource.* events
	Requests int           // batch size, for batch.* events
	Attempt  int           // retry attempt, for batch.retry
	Duration time.Duration // operation/batch duration where measured
	Err      error
}

// Sink receives events from a component. Implementations must not block;
// a slow sink stalls the emitting component's lifecycle callbacks.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Emit calls f(e).
func (f SinkFunc) Emit(e Event) { f(e) }

type nopSink struct{}

func (nopSink) Emit(Event) {}

// Nop returns a sink that discards all events.
func Nop() Sink { return nopSink{} }

type multiSink struct {
	sinks []Sink
}

func (m *multiSink) Emit(e Event) {
	for _, s := range m.sinks {
		s.Emit(e)
	}
}

// Multi fans each event out to every given sink in order.
func Multi(sinks ...Sink) Sink {
	return &multiSink{sinks: sinks}
}

// ChannelSink delivers events to a buffered channel. Events are dropped
// when the buffer is full so that emitters never block.
type ChannelSink struct {
	ch      chan Event
	dropped func(Event)
}

// Channel creates a ChannelSink with the given buffer size.
func Channel(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelSink{ch: make(chan Event, buffer)}
}

// Emit sends the event if the buffer has room, otherwise drops it.
func (c *ChannelSink) Emit(e Event) {
	select {
	case c.ch <- e:
	default:
		if c.dropped != nil {
			c.dropped(e)
		}
	}
}

// Events returns the receive side of the sink.
func (c *ChannelSink) Events() <-chan Event {
	return c.ch
}

// OnDrop registers a callback invoked for events dropped on overflow.
func (c *ChannelSink) OnDrop(fn func(Event)) {
	c.dropped = fn
}
