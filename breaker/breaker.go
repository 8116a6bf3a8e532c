package breaker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bjpl/describe-it-sub006/events"
	"github.com/bjpl/describe-it-sub006/internal/logging"
)

var (
	// ErrCircuitOpen is returned without invoking the wrapped operation
	// while the breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrOperationTimeout is returned when the wrapped operation exceeds
	// twice the expected response time. It counts as a failure.
	ErrOperationTimeout = errors.New("operation timeout")
)

// responseWindowSize caps the rolling response-time window. Rates and
// percentiles are therefore computed over the last N calls, not the last
// N seconds.
const responseWindowSize = 100

// State represents the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config configures breaker thresholds and timing.
type Config struct {
	// Name identifies the breaker in logs, events, and registries.
	Name string
	// VolumeThreshold is the minimum number of recorded calls in the
	// evaluation window before the breaker may trip.
	VolumeThreshold int
	// ErrorThresholdPercent trips the breaker when the failure rate
	// reaches this percentage.
	ErrorThresholdPercent float64
	// SlowCallRatePercent trips the breaker when the share of slow calls
	// reaches this percentage.
	SlowCallRatePercent float64
	// SlowCallThreshold classifies a call as slow.
	SlowCallThreshold time.Duration
	// ExpectedResponseTime derives the operation timeout (2x).
	ExpectedResponseTime time.Duration
	// ResetTimeout is how long the breaker stays open before probing.
	ResetTimeout time.Duration
	// MonitoringPeriod is the cadence of threshold evaluation while
	// closed.
	MonitoringPeriod time.Duration
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "breaker"
	}
	if c.VolumeThreshold <= 0 {
		c.VolumeThreshold = 10
	}
	if c.ErrorThresholdPercent <= 0 {
		c.ErrorThresholdPercent = 50
	}
	if c.SlowCallRatePercent <= 0 {
		c.SlowCallRatePercent = 50
	}
	if c.SlowCallThreshold <= 0 {
		c.SlowCallThreshold = 5 * time.Second
	}
	if c.ExpectedResponseTime <= 0 {
		c.ExpectedResponseTime = 10 * time.Second
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.MonitoringPeriod <= 0 {
		c.MonitoringPeriod = 10 * time.Second
	}
	return c
}

// Operation is any call the breaker can guard.
type Operation func(ctx context.Context) (any, error)

// Option configures a Breaker.
type Option func(*options)

type options struct {
	log  *logging.Logger
	sink events.Sink
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(log *logging.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithSink sets the event sink. Defaults to a no-op sink.
func WithSink(sink events.Sink) Option {
	return func(o *options) {
		if sink != nil {
			o.sink = sink
		}
	}
}

// Breaker guards a single downstream operation with failure-rate and
// slow-call tracking plus fail-fast behavior while open.
type Breaker struct {
	cfg  Config
	log  *logging.Logger
	sink events.Sink

	mu            sync.Mutex
	state         State
	openedAt      time.Time
	startedAt     time.Time
	failureCount  uint64
	successCount  uint64
	slowCalls     uint64
	totalRequests uint64
	rejected      uint64
	window        []time.Duration
	windowIdx     int

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a closed breaker and starts its evaluation loop.
func New(cfg Config, opts ...Option) *Breaker {
	o := options{log: logging.NewNop(), sink: events.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	cfg = cfg.withDefaults()
	b := &Breaker{
		cfg:       cfg,
		log:       o.log.Named(cfg.Name),
		sink:      o.sink,
		state:     StateClosed,
		startedAt: time.Now(),
		window:    make([]time.Duration, 0, responseWindowSize),
		stop:      make(chan struct{}),
	}

	go b.evaluationLoop()
	return b
}

// Name returns the breaker's name.
func (b *Breaker) Name() string { return b.cfg.Name }

// State returns the current state, applying the open->half-open expiry.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentStateLocked(time.Now())
}

// Execute runs op through the breaker. While open it fails fast with
// ErrCircuitOpen and never invokes op. Otherwise op races a timeout of
// twice the expected response time; the outcome is recorded and, in
// half-open state, immediately decides the next transition.
func (b *Breaker) Execute(ctx context.Context, op Operation) (any, error) {
	if err := b.allow(); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := b.run(ctx, op)
	b.record(time.Since(start), err)
	return result, err
}

// Do is a typed convenience wrapper around Execute.
func Do[R any](ctx context.Context, b *Breaker, op func(ctx context.Context) (R, error)) (R, error) {
	result, err := b.Execute(ctx, func(ctx context.Context) (any, error) {
		return op(ctx)
	})
	if err != nil {
		var zero R
		return zero, err
	}
	// A nil result from an operation returning an interface type must
	// yield the zero value, not an assertion panic.
	typed, _ := result.(R)
	return typed, nil
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	state := b.currentStateLocked(time.Now())
	if state == StateOpen {
		b.rejected++
		b.mu.Unlock()
		b.emit(events.Event{Type: events.CircuitRejected, Err: ErrCircuitOpen})
		return ErrCircuitOpen
	}
	b.totalRequests++
	b.mu.Unlock()
	return nil
}

type outcome struct {
	value any
	err   error
}

// run races op against the operation timeout. A late result from a timed
// out op is discarded; the buffered channel lets its goroutine finish.
func (b *Breaker) run(ctx context.Context, op Operation) (any, error) {
	timeout := 2 * b.cfg.ExpectedResponseTime
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan outcome, 1)
	go func() {
		value, err := op(ctx)
		ch <- outcome{value: value, err: err}
	}()

	select {
	case o := <-ch:
		return o.value, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrOperationTimeout
		}
		return nil, ctx.Err()
	}
}

// record files the response time and outcome, and applies the immediate
// half-open transition rules.
func (b *Breaker) record(elapsed time.Duration, err error) {
	b.mu.Lock()

	if len(b.window) < responseWindowSize {
		b.window = append(b.window, elapsed)
	} else {
		b.window[b.windowIdx] = elapsed
	}
	b.windowIdx = (b.windowIdx + 1) % responseWindowSize

	if elapsed > b.cfg.SlowCallThreshold {
		b.slowCalls++
	}

	state := b.state
	if err != nil {
		b.failureCount++
	} else {
		b.successCount++
	}

	var transition *events.Event
	if state == StateHalfOpen {
		if err != nil {
			transition = b.setStateLocked(StateOpen)
		} else {
			transition = b.setStateLocked(StateClosed)
		}
	}
	b.mu.Unlock()

	if transition != nil {
		b.emit(*transition)
	}
}

// evaluationLoop periodically checks the trip conditions while closed.
func (b *Breaker) evaluationLoop() {
	ticker := time.NewTicker(b.cfg.MonitoringPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.evaluate()
		}
	}
}

// evaluate applies the closed-state trip conditions: enough volume and
// either failure rate or slow-call rate at threshold.
func (b *Breaker) evaluate() {
	b.mu.Lock()
	if b.state != StateClosed {
		b.mu.Unlock()
		return
	}

	total := b.failureCount + b.successCount
	if total < uint64(b.cfg.VolumeThreshold) {
		b.mu.Unlock()
		return
	}

	failureRate := float64(b.failureCount) / float64(total) * 100
	slowRate := float64(b.slowCalls) / float64(total) * 100

	var transition *events.Event
	if failureRate >= b.cfg.ErrorThresholdPercent || slowRate >= b.cfg.SlowCallRatePercent {
		b.log.Warn("tripping circuit",
			zap.Float64("failure_rate", failureRate),
			zap.Float64("slow_call_rate", slowRate),
		)
		transition = b.setStateLocked(StateOpen)
	}
	b.mu.Unlock()

	if transition != nil {
		b.emit(*transition)
	}
}

// currentStateLocked applies the automatic open -> half-open transition.
// The caller holds the mutex, so the transition event is emitted from a
// separate goroutine in case the sink calls back into the breaker.
func (b *Breaker) currentStateLocked(now time.Time) State {
	if b.state == StateOpen && now.Sub(b.openedAt) >= b.cfg.ResetTimeout {
		if e := b.setStateLocked(StateHalfOpen); e != nil {
			go b.emit(*e)
		}
	}
	return b.state
}

// setStateLocked transitions the state machine. Counters reset to zero
// only on transition into closed. Returns the event to emit, if any.
func (b *Breaker) setStateLocked(to State) *events.Event {
	if b.state == to {
		return nil
	}
	from := b.state
	b.state = to

	var typ events.Type
	switch to {
	case StateOpen:
		b.openedAt = time.Now()
		typ = events.CircuitOpened
	case StateHalfOpen:
		typ = events.CircuitHalfOpened
	case StateClosed:
		b.failureCount = 0
		b.successCount = 0
		b.slowCalls = 0
		b.totalRequests = 0
		typ = events.CircuitClosed
	}

	b.log.Info("state change",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
	return &events.Event{Type: typ}
}

// Close stops the evaluation loop. The breaker remains usable but no
// longer evaluates thresholds periodically.
func (b *Breaker) Close() {
	b.stopOnce.Do(func() { close(b.stop) })
}

func (b *Breaker) emit(e events.Event) {
	e.Source = b.cfg.Name
	e.Time = time.Now()
	b.sink.Emit(e)
}

// Metrics is a read-only snapshot of breaker statistics. Values are
// derived for reporting and never feed back into other components.
type Metrics struct {
	Name            string
	State           State
	FailureCount    uint64
	SuccessCount    uint64
	SlowCalls       uint64
	TotalRequests   uint64
	Rejected        uint64
	FailureRate     float64 // percent
	SlowCallRate    float64 // percent
	AvgResponseTime time.Duration
	P95ResponseTime time.Duration
	Uptime          time.Duration
}

// Metrics returns the current snapshot.
func (b *Breaker) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	m := Metrics{
		Name:          b.cfg.Name,
		State:         b.currentStateLocked(time.Now()),
		FailureCount:  b.failureCount,
		SuccessCount:  b.successCount,
		SlowCalls:     b.slowCalls,
		TotalRequests: b.totalRequests,
		Rejected:      b.rejected,
		Uptime:        time.Since(b.startedAt),
	}

	if total := b.failureCount + b.successCount; total > 0 {
		m.FailureRate = float64(b.failureCount) / float64(total) * 100
		m.SlowCallRate = float64(b.slowCalls) / float64(total) * 100
	}

	if n := len(b.window); n > 0 {
		var sum time.Duration
		sorted := make([]time.Duration, n)
		copy(sorted, b.window)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		for _, d := range sorted {
			sum += d
		}
		m.AvgResponseTime = sum / time.Duration(n)
		m.P95ResponseTime = sorted[(n-1)*95/100]
	}

	return m
}
