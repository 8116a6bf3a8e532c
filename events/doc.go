/*
Package events defines the structured lifecycle events emitted by the
resilience primitives and the sink interface that consumes them.

# Overview

The pool, breaker, and batch packages report every significant lifecycle
transition (resource created, circuit opened, batch retried, ...) as a
structured Event written to a Sink. The embedding application decides what
to do with the stream: export metrics, log, or ignore it entirely.

# Features

- Flat Event struct shared by all components
- Sink interface with func, no-op, fan-out, and channel implementations
- Non-blocking by contract: emitters never wait on a sink

# Usage

	sink := events.Channel(128)
	go func() {
		for e := range sink.Events() {
			log.Printf("%s %s", e.Type, e.Source)
		}
	}()

	p := pool.New(factory, cfg, pool.WithSink(sink))
*/
package events
