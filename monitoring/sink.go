package monitoring

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bjpl/describe-it-sub006/events"
)

// Sink exports the resilience event stream as Prometheus metrics. It
// implements events.Sink and is safe for concurrent use.
type Sink struct {
	eventsTotal   *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	circuitState  *prometheus.GaugeVec
	batchSize     prometheus.Histogram
	batchDuration prometheus.Histogram

	mu       sync.RWMutex
	snapshot Snapshot
}

// Snapshot holds current aggregate values for JSON-style reporting.
type Snapshot struct {
	TotalEvents       int64
	TotalErrors       int64
	ResourcesCreated  int64
	ResourcesActive   int64
	BatchesCompleted  int64
	CircuitRejections int64
}

// NewSink creates a sink registering its metrics with reg. A nil reg uses
// the default Prometheus registerer.
func NewSink(reg prometheus.Registerer) *Sink {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Sink{
		eventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "describeit_resilience_events_total",
				Help: "Total lifecycle events by type and source",
			},
			[]string{"type", "source"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "describeit_resilience_errors_total",
				Help: "Total events carrying an error, by type and source",
			},
			[]string{"type", "source"},
		),
		circuitState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "describeit_circuit_state",
				Help: "Circuit state per breaker (0=closed, 1=half-open, 2=open)",
			},
			[]string{"breaker"},
		),
		batchSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "describeit_batch_size",
				Help:    "Requests per completed batch",
				Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
			},
		),
		batchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "describeit_batch_duration_seconds",
				Help:    "Completed batch execution duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
	}
}

// Emit records one event. It never blocks.
func (s *Sink) Emit(e events.Event) {
	s.eventsTotal.WithLabelValues(string(e.Type), e.Source).Inc()
	if e.Err != nil {
		s.errorsTotal.WithLabelValues(string(e.Type), e.Source).Inc()
	}

	s.mu.Lock()
	s.snapshot.TotalEvents++
	if e.Err != nil {
		s.snapshot.TotalErrors++
	}

	switch e.Type {
	case events.ResourceCreated:
		s.snapshot.ResourcesCreated++
		s.snapshot.ResourcesActive++
	case events.ResourceDestroyed:
		s.snapshot.ResourcesActive--
	case events.CircuitClosed:
		s.circuitState.WithLabelValues(e.Source).Set(0)
	case events.CircuitHalfOpened:
		s.circuitState.WithLabelValues(e.Source).Set(1)
	case events.CircuitOpened:
		s.circuitState.WithLabelValues(e.Source).Set(2)
	case events.CircuitRejected:
		s.snapshot.CircuitRejections++
	case events.BatchCompleted:
		s.snapshot.BatchesCompleted++
		s.batchSize.Observe(float64(e.Requests))
		s.batchDuration.Observe(e.Duration.Seconds())
	}
	s.mu.Unlock()
}

// Snapshot returns current aggregate values.
func (s *Sink) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}
