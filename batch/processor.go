package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/bjpl/describe-it-sub006/events"
	"github.com/bjpl/describe-it-sub006/internal/id"
	"github.com/bjpl/describe-it-sub006/internal/logging"
)

var (
	// ErrProcessorClosed is returned by Process after Close.
	ErrProcessorClosed = errors.New("batch processor is closed")

	// ErrRequestTimeout is returned when a request's own timeout fires
	// before it is claimed into a batch.
	ErrRequestTimeout = errors.New("batch request timeout")

	// ErrNoResult is returned for a request whose batch succeeded but
	// produced no output at its index.
	ErrNoResult = errors.New("no result for request")
)

// Request is one logical unit of work inside a batch. The BatchFunc
// receives requests in dispatch order and must return outputs aligned by
// index.
type Request[In any] struct {
	ID         id.RequestID
	Data       In
	Priority   int // higher is more urgent
	EnqueuedAt time.Time
	Timeout    time.Duration // zero means no per-request timeout
}

// BatchFunc turns a batch of requests into a batch of outputs. Returning
// an error fails the whole batch and triggers retry; a short result slice
// fails only the requests with missing indices.
type BatchFunc[In, Out any] func(ctx context.Context, requests []*Request[In]) ([]Out, error)

// Config controls batching and retry behavior.
type Config struct {
	// BatchSize cuts a batch as soon as this many requests are pending.
	BatchSize int
	// MaxBatchWait cuts a smaller batch when the oldest pending request
	// has waited this long.
	MaxBatchWait time.Duration
	// MaxConcurrentBatches bounds parallel batch executions; batches
	// beyond the bound queue FIFO.
	MaxConcurrentBatches int
	// RetryAttempts is the total number of tries per batch.
	RetryAttempts int
	// RetryDelay is the base of the linear backoff (delay x attempt).
	RetryDelay time.Duration
	// DisablePriority keeps pending requests in arrival order instead of
	// stable-sorting by priority before each cut.
	DisablePriority bool
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = 100 * time.Millisecond
	}
	if c.MaxConcurrentBatches <= 0 {
		c.MaxConcurrentBatches = 3
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	return c
}

// Option configures a Processor.
type Option func(*options)

type options struct {
	name    string
	log     *logging.Logger
	sink    events.Sink
	limiter *rate.Limiter
}

// WithName sets the processor name used in logs and events.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
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

// WithRateLimit throttles batch dispatch with a token bucket. Useful when
// the downstream API enforces a request-per-second quota.
func WithRateLimit(batchesPerSecond float64, burst int) Option {
	return func(o *options) {
		if batchesPerSecond > 0 && burst > 0 {
			o.limiter = rate.NewLimiter(rate.Limit(batchesPerSecond), burst)
		}
	}
}

type result[Out any] struct {
	value Out
	err   error
}

// pending pairs a request with its completion handle. Claiming, removal,
// and settling of unclaimed requests all happen under the processor mutex,
// so each request settles exactly once.
type pending[In, Out any] struct {
	req *Request[In]
	ch  chan result[Out] // buffered, exactly one send
}

// Processor aggregates individual requests into batches and dispatches
// them through a bounded-concurrency queue. It has no compile-time
// dependency on pools or breakers; compose those inside the BatchFunc.
type Processor[In, Out any] struct {
	name string
	fn   BatchFunc[In, Out]
	cfg  Config
	log  *logging.Logger
	sink events.Sink

	limiter *rate.Limiter
	sem     *semaphore.Weighted

	mu          sync.Mutex
	pendingReqs []*pending[In, Out]
	timer       *time.Timer
	closed      bool
	wg          sync.WaitGroup

	totalRequests   uint64
	batchedRequests uint64
	batches         uint64
	succeeded       uint64
	failed          uint64
	sumWait         time.Duration
}

// New creates a processor around fn.
func New[In, Out any](fn BatchFunc[In, Out], cfg Config, opts ...Option) *Processor[In, Out] {
	o := options{
		name: "batch",
		log:  logging.NewNop(),
		sink: events.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	cfg = cfg.withDefaults()
	return &Processor[In, Out]{
		name:    o.name,
		fn:      fn,
		cfg:     cfg,
		log:     o.log.Named(o.name),
		sink:    o.sink,
		limiter: o.limiter,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrentBatches)),
	}
}

// Process enqueues data at default priority with no per-request timeout
// and blocks until its batch settles.
func (p *Processor[In, Out]) Process(ctx context.Context, data In) (Out, error) {
	return p.ProcessWith(ctx, data, 0, 0)
}

// ProcessWith enqueues one request and blocks until it settles. A nonzero
// timeout rejects the request with ErrRequestTimeout if it is still
// unbatched when the timer fires; once claimed into a batch the request
// rides the batch to completion.
func (p *Processor[In, Out]) ProcessWith(ctx context.Context, data In, priority int, timeout time.Duration) (Out, error) {
	var zero Out

	pn := &pending[In, Out]{
		req: &Request[In]{
			ID:         id.NewRequestID(),
			Data:       data,
			Priority:   priority,
			EnqueuedAt: time.Now(),
			Timeout:    timeout,
		},
		ch: make(chan result[Out], 1),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return zero, ErrProcessorClosed
	}
	p.totalRequests++
	p.pendingReqs = append(p.pendingReqs, pn)
	if len(p.pendingReqs) >= p.cfg.BatchSize {
		p.cutLocked()
	} else if p.timer == nil {
		p.timer = time.AfterFunc(p.cfg.MaxBatchWait, p.onTimer)
	}
	p.mu.Unlock()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timeoutCh = t.C
	}

	select {
	case r := <-pn.ch:
		return r.value, r.err
	case <-timeoutCh:
		if p.removePending(pn) {
			return zero, fmt.Errorf("request %s: %w", pn.req.ID, ErrRequestTimeout)
		}
		// Already claimed; the batch outcome is on its way.
		r := <-pn.ch
		return r.value, r.err
	case <-ctx.Done():
		if p.removePending(pn) {
			return zero, ctx.Err()
		}
		r := <-pn.ch
		return r.value, r.err
	}
}

// onTimer fires when the oldest pending request has waited MaxBatchWait.
func (p *Processor[In, Out]) onTimer() {
	p.mu.Lock()
	p.timer = nil
	if len(p.pendingReqs) > 0 && !p.closed {
		p.cutLocked()
	}
	p.mu.Unlock()
}

// cutLocked claims up to BatchSize pending requests into a batch and
// hands it to the dispatch queue. Leftover requests immediately cut again
// when they fill a batch, or rearm the wait timer.
func (p *Processor[In, Out]) cutLocked() {
	if !p.cfg.DisablePriority {
		reqs := p.pendingReqs
		sort.SliceStable(reqs, func(i, j int) bool {
			return reqs[i].req.Priority > reqs[j].req.Priority
		})
	}

	n := p.cfg.BatchSize
	if n > len(p.pendingReqs) {
		n = len(p.pendingReqs)
	}
	claimed := make([]*pending[In, Out], n)
	copy(claimed, p.pendingReqs[:n])
	rest := make([]*pending[In, Out], len(p.pendingReqs)-n)
	copy(rest, p.pendingReqs[n:])
	p.pendingReqs = rest

	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}

	p.wg.Add(1)
	go p.dispatch(claimed)

	if len(p.pendingReqs) >= p.cfg.BatchSize {
		p.cutLocked()
	} else if len(p.pendingReqs) > 0 {
		p.timer = time.AfterFunc(p.cfg.MaxBatchWait, p.onTimer)
	}
}

// removePending pulls a request back out of the pending set. Returns
// false if the request was already claimed into a batch.
func (p *Processor[In, Out]) removePending(pn *pending[In, Out]) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, cand := range p.pendingReqs {
		if cand == pn {
			p.pendingReqs = append(p.pendingReqs[:i], p.pendingReqs[i+1:]...)
			p.failed++
			return true
		}
	}
	return false
}

// dispatch pushes one claimed batch through the concurrency gate and the
// optional rate limiter, then executes it.
func (p *Processor[In, Out]) dispatch(claimed []*pending[In, Out]) {
	defer p.wg.Done()

	ctx := context.Background()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.settleAll(claimed, fmt.Errorf("batch dispatch: %w", err))
		return
	}
	defer p.sem.Release(1)

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			p.settleAll(claimed, fmt.Errorf("batch dispatch: %w", err))
			return
		}
	}

	now := time.Now()
	p.mu.Lock()
	for _, pn := range claimed {
		p.sumWait += now.Sub(pn.req.EnqueuedAt)
	}
	p.batches++
	p.batchedRequests += uint64(len(claimed))
	p.mu.Unlock()

	p.execute(claimed)
}

// execute runs the batch function with whole-batch retries and linear
// backoff, then distributes results by index.
func (p *Processor[In, Out]) execute(claimed []*pending[In, Out]) {
	batchID := id.NewBatchID()
	reqs := make([]*Request[In], len(claimed))
	for i, pn := range claimed {
		reqs[i] = pn.req
	}

	ctx := context.Background()
	var lastErr error
	for attempt := 1; attempt <= p.cfg.RetryAttempts; attempt++ {
		start := time.Now()
		results, err := p.fn(ctx, reqs)
		if err == nil {
			p.distribute(claimed, results)
			p.emit(events.Event{
				Type:     events.BatchCompleted,
				Requests: len(claimed),
				Duration: time.Since(start),
			})
			return
		}

		lastErr = err
		if attempt < p.cfg.RetryAttempts {
			p.log.Warn("batch failed, retrying",
				zap.String("batch", batchID.String()),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			p.emit(events.Event{Type: events.BatchRetry, Requests: len(claimed), Attempt: attempt, Err: err})
			time.Sleep(p.cfg.RetryDelay * time.Duration(attempt))
		}
	}

	err := fmt.Errorf("batch %s failed after %d attempts: %w", batchID, p.cfg.RetryAttempts, lastErr)
	p.settleAll(claimed, err)
	p.emit(events.Event{Type: events.BatchError, Requests: len(claimed), Err: lastErr})
}

// distribute resolves each request with the output at its index. A
// missing index is a per-request failure, not a batch failure.
func (p *Processor[In, Out]) distribute(claimed []*pending[In, Out], results []Out) {
	var ok, missing uint64
	for i, pn := range claimed {
		if i < len(results) {
			pn.ch <- result[Out]{value: results[i]}
			ok++
		} else {
			pn.ch <- result[Out]{err: fmt.Errorf("request %s: %w", pn.req.ID, ErrNoResult)}
			missing++
		}
	}

	p.mu.Lock()
	p.succeeded += ok
	p.failed += missing
	p.mu.Unlock()
}

// settleAll rejects every request in the batch with the same error.
func (p *Processor[In, Out]) settleAll(claimed []*pending[In, Out], err error) {
	for _, pn := range claimed {
		pn.ch <- result[Out]{err: err}
	}
	p.mu.Lock()
	p.failed += uint64(len(claimed))
	p.mu.Unlock()
}

// Close flushes pending requests as a final batch, waits for in-flight
// batches to settle, and rejects later Process calls.
func (p *Processor[In, Out]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if len(p.pendingReqs) > 0 {
		p.cutLocked()
	}
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

// Stats is an informational snapshot; it never influences batching.
type Stats struct {
	TotalRequests   uint64
	BatchedRequests uint64
	Batches         uint64
	ErrorCount      uint64
	Pending         int
	AvgBatchSize    float64
	AvgWaitTime     time.Duration
	SuccessRate     float64 // percent of settled requests that succeeded
}

// Stats returns current processor statistics.
func (p *Processor[In, Out]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		TotalRequests:   p.totalRequests,
		BatchedRequests: p.batchedRequests,
		Batches:         p.batches,
		ErrorCount:      p.failed,
		Pending:         len(p.pendingReqs),
	}
	if p.batches > 0 {
		s.AvgBatchSize = float64(p.batchedRequests) / float64(p.batches)
	}
	if p.batchedRequests > 0 {
		s.AvgWaitTime = p.sumWait / time.Duration(p.batchedRequests)
	}
	if settled := p.succeeded + p.failed; settled > 0 {
		s.SuccessRate = float64(p.succeeded) / float64(settled) * 100
	}
	return s
}

func (p *Processor[In, Out]) emit(e events.Event) {
	e.Source = p.name
	e.Time = time.Now()
	p.sink.Emit(e)
}
