/*
Package breaker implements a circuit breaker for guarding calls to slow or
unreliable downstream services.

# States

- Closed: normal operation; a periodic evaluation trips the breaker when,
  over enough volume, the failure rate or the slow-call rate reaches its
  threshold.
- Open: calls fail fast with ErrCircuitOpen; the wrapped operation is never
  invoked. After ResetTimeout the breaker moves to half-open.
- Half-open: the next call's outcome decides immediately; success closes
  the breaker and resets all counters, failure reopens it.

	Closed --[rates over threshold]--> Open --[reset timeout]--> Half-Open
	                                    ^                            |
	                                    +-------[failure]------------+
	                                             [success] --> Closed

# Usage

	b := breaker.New(breaker.Config{
		Name:                  "vision-api",
		VolumeThreshold:       10,
		ErrorThresholdPercent: 50,
		ExpectedResponseTime:  2 * time.Second,
		ResetTimeout:          30 * time.Second,
	})
	defer b.Close()

	result, err := breaker.Do(ctx, b, func(ctx context.Context) (*Description, error) {
		return client.Describe(ctx, image)
	})

Shared breakers live in an explicit Registry handed to call sites; there is
no hidden global state.

The rolling response-time window is capped at the last 100 calls, so rate
and percentile metrics are approximate over recent calls rather than a
fixed time span.
*/
package breaker
