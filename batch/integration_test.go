package batch_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjpl/describe-it-sub006/batch"
	"github.com/bjpl/describe-it-sub006/breaker"
	"github.com/bjpl/describe-it-sub006/events"
	"github.com/bjpl/describe-it-sub006/pool"
)

// visionClient simulates an expensive LLM/vision API client.
type visionClient struct {
	serial  int32
	failing *atomic.Bool
}

func (c *visionClient) describeAll(ctx context.Context, images []string) ([]string, error) {
	if c.failing.Load() {
		return nil, errors.New("api unavailable")
	}
	out := make([]string, len(images))
	for i, img := range images {
		out[i] = "description of " + img
	}
	return out, nil
}

type visionFactory struct {
	serial  atomic.Int32
	failing *atomic.Bool
}

func (f *visionFactory) Create(ctx context.Context) (*visionClient, error) {
	return &visionClient{serial: f.serial.Add(1), failing: f.failing}, nil
}

func (f *visionFactory) Destroy(ctx context.Context, c *visionClient) error { return nil }

func (f *visionFactory) Validate(ctx context.Context, c *visionClient) bool { return true }

// TestComposedPipeline wires the three primitives together the way an
// embedding application would: the batch function borrows a client from
// the pool and guards the downstream call with a shared breaker.
func TestComposedPipeline(t *testing.T) {
	failing := &atomic.Bool{}
	factory := &visionFactory{failing: failing}

	clients := pool.New[*visionClient](factory, pool.Config{
		MinSize:        1,
		MaxSize:        4,
		AcquireTimeout: time.Second,
	}, pool.WithName("vision-clients"))
	defer clients.Close()

	registry := breaker.NewRegistry()
	defer registry.Close()
	guard := registry.GetOrCreate("vision-api", breaker.Config{
		VolumeThreshold:      100, // keep closed during this test
		ExpectedResponseTime: time.Second,
	})

	sink := events.Channel(256)

	proc := batch.New(func(ctx context.Context, reqs []*batch.Request[string]) ([]string, error) {
		images := make([]string, len(reqs))
		for i, req := range reqs {
			images[i] = req.Data
		}
		return breaker.Do(ctx, guard, func(ctx context.Context) ([]string, error) {
			var out []string
			err := clients.Use(ctx, func(ctx context.Context, c *visionClient) error {
				var callErr error
				out, callErr = c.describeAll(ctx, images)
				return callErr
			})
			return out, err
		})
	}, batch.Config{
		BatchSize:     4,
		MaxBatchWait:  30 * time.Millisecond,
		RetryAttempts: 2,
		RetryDelay:    5 * time.Millisecond,
	}, batch.WithSink(sink), batch.WithName("describe"))
	defer proc.Close()

	// Happy path: every request resolves with its own description.
	results := make(chan string, 6)
	for i := 0; i < 6; i++ {
		go func(i int) {
			out, err := proc.Process(context.Background(), fmt.Sprintf("img-%d.jpg", i))
			if assert.NoError(t, err) {
				results <- out
			}
		}(i)
	}
	for i := 0; i < 6; i++ {
		select {
		case out := <-results:
			assert.Contains(t, out, "description of img-")
		case <-time.After(2 * time.Second):
			t.Fatal("request did not settle")
		}
	}

	stats := clients.Stats()
	assert.Equal(t, 0, stats.Borrowed, "all clients returned to the pool")
	assert.GreaterOrEqual(t, guard.Metrics().SuccessCount, uint64(1))

	// Downstream failure: the batch retries, then every request in the
	// failed batch sees the cause; the pool is unaffected.
	failing.Store(true)
	_, err := proc.Process(context.Background(), "broken.jpg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api unavailable")
	assert.Equal(t, 0, clients.Stats().Borrowed)
}
