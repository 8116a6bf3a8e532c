package pool

import (
	"context"
	"time"

	"github.com/bjpl/describe-it-sub006/internal/id"
)

// Factory creates, validates, and destroys pooled values. Implementations
// are supplied by the consumer; the pool never inspects T beyond calling
// these methods.
type Factory[T any] interface {
	// Create builds a new value. The context carries the pool's create
	// timeout; implementations should honor it.
	Create(ctx context.Context) (T, error)

	// Destroy disposes of a value. Errors are counted and logged by the
	// pool but never propagated to callers.
	Destroy(ctx context.Context, value T) error

	// Validate reports whether a value is still usable. Called on release
	// and during background health checks.
	Validate(ctx context.Context, value T) bool
}

// Resetter is an optional extension of Factory. When implemented, Reset is
// called before a released value is returned to the pool; a reset error
// marks the resource unhealthy.
type Resetter[T any] interface {
	Reset(ctx context.Context, value T) error
}

// Resource wraps a pooled value with its lifecycle bookkeeping. A resource
// is owned by exactly one pool and is in exactly one of available,
// borrowed, or being destroyed.
type Resource[T any] struct {
	ID         id.ResourceID
	Value      T
	CreatedAt  time.Time
	LastUsed   time.Time
	UsageCount int

	healthy bool
}

func newResource[T any](value T) *Resource[T] {
	now := time.Now()
	return &Resource[T]{
		ID:        id.NewResourceID(),
		Value:     value,
		CreatedAt: now,
		LastUsed:  now,
		healthy:   true,
	}
}

// Healthy reports whether the resource is still considered usable.
func (r *Resource[T]) Healthy() bool { return r.healthy }

// MarkUnhealthy flags the resource so the pool destroys it on release
// instead of recycling it. Call it from the borrower when the underlying
// value misbehaves (connection reset, protocol error, ...).
func (r *Resource[T]) MarkUnhealthy() { r.healthy = false }
