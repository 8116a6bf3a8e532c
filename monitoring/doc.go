// Package monitoring exports the resilience event stream as Prometheus
// metrics. The Sink implements events.Sink, so wiring it up is a single
// option on each primitive:
//
//	sink := monitoring.NewSink(nil)
//	p := pool.New(factory, cfg, pool.WithSink(sink))
//
// The Snapshot accessor mirrors the counters for JSON reporting without
// scraping the registry.
package monitoring
