package pool

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bjpl/describe-it-sub006/events"
	"github.com/bjpl/describe-it-sub006/internal/logging"
)

var (
	// ErrPoolClosed is returned by Acquire after Close, and delivered to
	// waiters drained during shutdown.
	ErrPoolClosed = errors.New("pool is closed")

	// ErrAcquireTimeout is returned when no resource became available
	// within the acquire timeout. It is the only failure Acquire surfaces
	// for a healthy pool.
	ErrAcquireTimeout = errors.New("resource acquisition timeout")

	// ErrNotBorrowed is returned by Release for a resource that is not
	// currently borrowed from this pool.
	ErrNotBorrowed = errors.New("resource not borrowed from this pool")
)

// Config controls pool sizing and lifecycle timing.
type Config struct {
	// MinSize is the number of resources created at startup and kept
	// alive by the background health check.
	MinSize int
	// MaxSize bounds available + borrowed + in-flight creations.
	MaxSize int
	// AcquireTimeout bounds how long Acquire waits for a resource.
	AcquireTimeout time.Duration
	// CreateTimeout bounds a single factory Create call.
	CreateTimeout time.Duration
	// IdleTimeout is how long an unused resource may sit in the pool
	// before the health check destroys it.
	IdleTimeout time.Duration
	// MaxUsageCount retires a resource after this many checkouts.
	// Zero disables usage-based retirement.
	MaxUsageCount int
	// HealthCheckInterval is the period of the background maintenance
	// loop. Zero or negative disables it.
	HealthCheckInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinSize < 0 {
		c.MinSize = 0
	}
	if c.MaxSize <= 0 {
		c.MaxSize = 10
	}
	if c.MinSize > c.MaxSize {
		c.MinSize = c.MaxSize
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 30 * time.Second
	}
	if c.CreateTimeout <= 0 {
		c.CreateTimeout = 10 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	return c
}

// Option configures a Pool.
type Option func(*options)

type options struct {
	name string
	log  *logging.Logger
	sink events.Sink
}

// WithName sets the pool name used in logs and events.
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

// waiter is one blocked Acquire call: a delivery channel plus its position
// in the FIFO queue. Delivery and removal are both performed under the
// pool mutex, so a waiter is satisfied at most once.
type waiter[T any] struct {
	ch       chan *Resource[T]
	enqueued time.Time
}

// Pool manages a bounded set of reusable, expensive-to-create resources.
type Pool[T any] struct {
	name    string
	factory Factory[T]
	cfg     Config
	log     *logging.Logger
	sink    events.Sink

	mu        sync.Mutex
	available []*Resource[T] // LRU at the front, MRU at the back
	borrowed  map[string]*Resource[T]
	waiters   *list.List // of *waiter[T], FIFO
	creating  int
	closed    bool

	acquires      uint64
	releases      uint64
	timeouts      uint64
	createErrors  uint64
	destroyErrors uint64

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a pool and eagerly warms it up to MinSize. Warm-up creation
// failures are logged and counted but do not fail construction.
func New[T any](factory Factory[T], cfg Config, opts ...Option) *Pool[T] {
	o := options{
		name: "pool",
		log:  logging.NewNop(),
		sink: events.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	p := &Pool[T]{
		name:     o.name,
		factory:  factory,
		cfg:      cfg.withDefaults(),
		log:      o.log.Named(o.name),
		sink:     o.sink,
		borrowed: make(map[string]*Resource[T]),
		waiters:  list.New(),
		stop:     make(chan struct{}),
	}

	p.warmUp()

	if p.cfg.HealthCheckInterval > 0 {
		go p.healthLoop()
	}

	return p
}

func (p *Pool[T]) warmUp() {
	for i := 0; i < p.cfg.MinSize; i++ {
		res, err := p.create()
		if err != nil {
			p.log.Warn("warm-up creation failed", zap.Error(err))
			continue
		}
		p.mu.Lock()
		p.available = append(p.available, res)
		p.mu.Unlock()
	}
}

// create runs the factory under the create timeout and records the outcome.
func (p *Pool[T]) create() (*Resource[T], error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.CreateTimeout)
	defer cancel()

	value, err := p.factory.Create(ctx)
	if err != nil {
		p.mu.Lock()
		p.createErrors++
		p.mu.Unlock()
		p.emit(events.Event{Type: events.ResourceCreateFailed, Err: err})
		return nil, err
	}

	res := newResource(value)
	p.emit(events.Event{Type: events.ResourceCreated, Resource: res.ID.String()})
	return res, nil
}

// Acquire checks out a resource, waiting until one is available or the
// acquire timeout elapses. Waiters are served in FIFO order.
func (p *Pool[T]) Acquire(ctx context.Context) (*Resource[T], error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	if n := len(p.available); n > 0 {
		res := p.available[n-1] // most recently used first
		p.available = p.available[:n-1]
		p.checkoutLocked(res)
		p.mu.Unlock()
		p.emit(events.Event{Type: events.ResourceAcquired, Resource: res.ID.String()})
		return res, nil
	}

	// Nothing available: join the FIFO waiter queue. If there is spare
	// capacity, start one creation whose result goes to the oldest
	// waiter, not necessarily to us.
	w := &waiter[T]{ch: make(chan *Resource[T], 1), enqueued: time.Now()}
	elem := p.waiters.PushBack(w)
	spawn := p.sizeLocked() < p.cfg.MaxSize
	if spawn {
		p.creating++
	}
	p.mu.Unlock()

	p.emit(events.Event{Type: events.ResourceQueued})
	if spawn {
		go p.createForWaiter()
	}

	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	select {
	case res := <-w.ch:
		if res == nil {
			return nil, ErrPoolClosed
		}
		p.emit(events.Event{Type: events.ResourceAcquired, Resource: res.ID.String()})
		return res, nil
	case <-timer.C:
		if res, ok := p.abandon(elem, w); ok {
			// A resource was handed over before we could leave.
			p.emit(events.Event{Type: events.ResourceAcquired, Resource: res.ID.String()})
			return res, nil
		}
		p.mu.Lock()
		p.timeouts++
		p.mu.Unlock()
		return nil, ErrAcquireTimeout
	case <-ctx.Done():
		if res, ok := p.abandon(elem, w); ok {
			p.emit(events.Event{Type: events.ResourceAcquired, Resource: res.ID.String()})
			return res, nil
		}
		return nil, ctx.Err()
	}
}

// abandon removes a waiter from the queue. If a resource was delivered
// concurrently it is returned instead, since delivery happens under the
// same lock and has already checked the resource out to this waiter.
func (p *Pool[T]) abandon(elem *list.Element, w *waiter[T]) (*Resource[T], bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case res := <-w.ch:
		if res != nil {
			return res, true
		}
		return nil, false
	default:
	}
	p.waiters.Remove(elem)
	return nil, false
}

// createForWaiter builds one resource and hands it to the oldest waiter,
// or parks it if every waiter has since left.
func (p *Pool[T]) createForWaiter() {
	res, err := p.create()

	p.mu.Lock()
	p.creating--
	if err != nil {
		// The waiter keeps waiting; its own timeout is the only error
		// it is allowed to see.
		p.mu.Unlock()
		return
	}
	if p.closed {
		p.mu.Unlock()
		p.destroyResource(res)
		return
	}
	p.handOffOrParkLocked(res)
	p.mu.Unlock()
}

// checkoutLocked moves a resource into the borrowed set.
func (p *Pool[T]) checkoutLocked(res *Resource[T]) {
	res.UsageCount++
	res.LastUsed = time.Now()
	p.borrowed[res.ID.String()] = res
	p.acquires++
}

// handOffOrParkLocked gives a free resource to the oldest waiter if any,
// otherwise returns it to the available list. Over-capacity resources are
// destroyed rather than parked.
func (p *Pool[T]) handOffOrParkLocked(res *Resource[T]) {
	if elem := p.waiters.Front(); elem != nil {
		p.waiters.Remove(elem)
		w := elem.Value.(*waiter[T])
		p.checkoutLocked(res)
		w.ch <- res
		return
	}
	if len(p.available)+len(p.borrowed) >= p.cfg.MaxSize {
		go p.destroyResource(res)
		return
	}
	p.available = append(p.available, res)
}

// Release returns a borrowed resource. The resource is reset and
// validated; a resource that fails validation, was marked unhealthy, or
// exceeded its usage cap is destroyed instead of recycled. A release can
// directly satisfy the oldest pending Acquire.
func (p *Pool[T]) Release(res *Resource[T]) error {
	if res == nil {
		return ErrNotBorrowed
	}

	p.mu.Lock()
	if _, ok := p.borrowed[res.ID.String()]; !ok {
		p.mu.Unlock()
		return ErrNotBorrowed
	}
	delete(p.borrowed, res.ID.String())
	p.releases++
	closed := p.closed
	p.mu.Unlock()

	p.emit(events.Event{Type: events.ResourceReleased, Resource: res.ID.String()})

	ctx := context.Background()
	if r, ok := p.factory.(Resetter[T]); ok && res.healthy {
		if err := r.Reset(ctx, res.Value); err != nil {
			p.log.Debug("reset failed", zap.String("resource", res.ID.String()), zap.Error(err))
			res.healthy = false
		}
	}

	worn := p.cfg.MaxUsageCount > 0 && res.UsageCount > p.cfg.MaxUsageCount
	if closed || !res.healthy || worn || !p.factory.Validate(ctx, res.Value) {
		p.destroyResource(res)
		return nil
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.destroyResource(res)
		return nil
	}
	res.LastUsed = time.Now()
	p.handOffOrParkLocked(res)
	p.mu.Unlock()
	return nil
}

// Use acquires a resource, runs fn with it, and releases it on every path.
func (p *Pool[T]) Use(ctx context.Context, fn func(ctx context.Context, value T) error) error {
	res, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Release(res); err != nil {
			p.log.Warn("release failed", zap.String("resource", res.ID.String()), zap.Error(err))
		}
	}()
	return fn(ctx, res.Value)
}

// destroyResource disposes of a resource. Destruction errors are counted
// and logged, never propagated.
func (p *Pool[T]) destroyResource(res *Resource[T]) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.CreateTimeout)
	defer cancel()

	err := p.factory.Destroy(ctx, res.Value)
	if err != nil {
		p.mu.Lock()
		p.destroyErrors++
		p.mu.Unlock()
		p.log.Warn("destroy failed", zap.String("resource", res.ID.String()), zap.Error(err))
	}
	p.emit(events.Event{Type: events.ResourceDestroyed, Resource: res.ID.String(), Err: err})
}

// Close drains all waiters with ErrPoolClosed and destroys every idle
// resource. Borrowed resources are destroyed as they are released.
func (p *Pool[T]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.stopOnce.Do(func() { close(p.stop) })

	for elem := p.waiters.Front(); elem != nil; elem = elem.Next() {
		close(elem.Value.(*waiter[T]).ch)
	}
	p.waiters.Init()

	idle := p.available
	p.available = nil
	p.mu.Unlock()

	for _, res := range idle {
		p.destroyResource(res)
	}
	p.log.Info("pool closed", zap.Int("destroyed", len(idle)))
	return nil
}

// sizeLocked counts every resource the pool is responsible for, including
// creations still in flight.
func (p *Pool[T]) sizeLocked() int {
	return len(p.available) + len(p.borrowed) + p.creating
}

func (p *Pool[T]) emit(e events.Event) {
	e.Source = p.name
	e.Time = time.Now()
	p.sink.Emit(e)
}
