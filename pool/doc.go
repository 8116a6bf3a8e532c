/*
Package pool provides a generic lifecycle manager for expensive resources
such as API clients.

# Overview

A Pool keeps a bounded set of reusable values created by a consumer-supplied
Factory. Callers check values out with Acquire and return them with Release;
Use wraps both around a function for scoped access. A background health
check retires idle, unhealthy, and worn-out resources and keeps the pool
warmed to its minimum size.

# Features

- Eager warm-up to MinSize at construction
- FIFO fairness among blocked acquirers
- Per-resource usage caps, idle timeouts, and validation
- Optional Reset hook applied before a resource is recycled
- Structured lifecycle events and a diagnostic health score

# Usage

	factory := &clientFactory{endpoint: endpoint}
	p := pool.New[*apiClient](factory, pool.Config{
		MinSize:        2,
		MaxSize:        10,
		AcquireTimeout: 5 * time.Second,
	}, pool.WithName("vision-clients"))
	defer p.Close()

	err := p.Use(ctx, func(ctx context.Context, c *apiClient) error {
		return c.Describe(ctx, image)
	})

# Failure semantics

Creation and destruction errors are caught, counted, and emitted as events;
they never reach unrelated callers. The only error a caller of Acquire sees
on a healthy pool is ErrAcquireTimeout.
*/
package pool
