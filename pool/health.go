package pool

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Stats is a point-in-time snapshot of pool state, for readiness and
// diagnostic reporting only.
type Stats struct {
	Name      string
	Available int
	Borrowed  int
	Creating  int
	Waiting   int
	MinSize   int
	MaxSize   int

	Acquires      uint64
	Releases      uint64
	Timeouts      uint64
	CreateErrors  uint64
	DestroyErrors uint64

	// HealthScore is 0..100, penalized by error rate, utilization above
	// 80%, and waiter pressure. Diagnostic only; the pool never consults
	// it for control flow.
	HealthScore int
}

// Stats returns a snapshot of the pool's current state.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		Name:          p.name,
		Available:     len(p.available),
		Borrowed:      len(p.borrowed),
		Creating:      p.creating,
		Waiting:       p.waiters.Len(),
		MinSize:       p.cfg.MinSize,
		MaxSize:       p.cfg.MaxSize,
		Acquires:      p.acquires,
		Releases:      p.releases,
		Timeouts:      p.timeouts,
		CreateErrors:  p.createErrors,
		DestroyErrors: p.destroyErrors,
	}
	s.HealthScore = healthScore(s)
	return s
}

// healthScore computes the diagnostic 0..100 score.
func healthScore(s Stats) int {
	score := 100

	attempts := s.Acquires + s.Timeouts + s.CreateErrors
	if attempts > 0 {
		errRate := float64(s.Timeouts+s.CreateErrors) / float64(attempts)
		score -= int(errRate * 50)
	}

	util := float64(s.Borrowed) / float64(s.MaxSize)
	if util > 0.8 {
		score -= int((util - 0.8) * 100)
	}

	pressure := s.Waiting * 5
	if pressure > 30 {
		pressure = 30
	}
	score -= pressure

	if score < 0 {
		score = 0
	}
	return score
}

// healthLoop runs periodic maintenance until the pool is closed.
func (p *Pool[T]) healthLoop() {
	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.checkHealth()
		}
	}
}

// checkHealth evicts idle resources (never shrinking available below
// MinSize), destroys unhealthy or invalid ones, and tops the pool back up
// to MinSize.
func (p *Pool[T]) checkHealth() {
	now := time.Now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}

	// Idle eviction walks from the front, where the least recently used
	// resources sit.
	removable := len(p.available) - p.cfg.MinSize
	var doomed, candidates []*Resource[T]
	kept := p.available[:0]
	for _, res := range p.available {
		switch {
		case !res.healthy:
			doomed = append(doomed, res)
		case removable > 0 && now.Sub(res.LastUsed) > p.cfg.IdleTimeout:
			doomed = append(doomed, res)
			removable--
		default:
			kept = append(kept, res)
		}
	}
	// Validation may call out to the resource, so it runs outside the
	// lock; candidates temporarily leave the available list.
	candidates = kept
	p.available = nil
	p.mu.Unlock()

	ctx := context.Background()
	var valid []*Resource[T]
	for _, res := range candidates {
		if p.factory.Validate(ctx, res.Value) {
			valid = append(valid, res)
		} else {
			doomed = append(doomed, res)
		}
	}

	p.mu.Lock()
	for _, res := range valid {
		p.handOffOrParkLocked(res)
	}
	deficit := p.cfg.MinSize - p.sizeLocked()
	if deficit > 0 {
		p.creating += deficit
	}
	p.mu.Unlock()

	for _, res := range doomed {
		p.destroyResource(res)
	}
	for i := 0; i < deficit; i++ {
		go p.createForWaiter()
	}

	if len(doomed) > 0 || deficit > 0 {
		p.log.Debug("health check",
			zap.Int("destroyed", len(doomed)),
			zap.Int("topped_up", deficit),
		)
	}
}
