package breaker

import (
	"sync"
)

// Registry holds named breakers so call sites can share one breaker per
// downstream service. It is an explicit object passed to whoever needs
// it; there is no package-level global.
type Registry struct {
	opts []Option

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry. The given options are applied to
// every breaker it creates.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		opts:     opts,
		breakers: make(map[string]*Breaker),
	}
}

// GetOrCreate returns the breaker registered under name, creating it from
// cfg on first use. Later calls for the same name ignore cfg.
func (r *Registry) GetOrCreate(name string, cfg Config) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}

	cfg.Name = name
	b = New(cfg, r.opts...)
	r.breakers[name] = b
	return b
}

// Get returns the breaker registered under name, if any.
func (r *Registry) Get(name string) (*Breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[name]
	return b, ok
}

// All returns a snapshot of every registered breaker.
func (r *Registry) All() []*Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		all = append(all, b)
	}
	return all
}

// Metrics returns the current snapshot for every registered breaker,
// keyed by name.
func (r *Registry) Metrics() map[string]Metrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m := make(map[string]Metrics, len(r.breakers))
	for name, b := range r.breakers {
		m[name] = b.Metrics()
	}
	return m
}

// Close stops every registered breaker's evaluation loop.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.breakers {
		b.Close()
	}
}
