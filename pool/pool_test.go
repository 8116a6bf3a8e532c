package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	serial int
	closed bool
}

// fakeFactory is a controllable Factory for tests.
type fakeFactory struct {
	mu        sync.Mutex
	created   int
	destroyed int

	createErr   error
	createDelay time.Duration
	validateFn  func(*fakeClient) bool
}

func (f *fakeFactory) Create(ctx context.Context) (*fakeClient, error) {
	if f.createDelay > 0 {
		select {
		case <-time.After(f.createDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created++
	return &fakeClient{serial: f.created}, nil
}

func (f *fakeFactory) Destroy(ctx context.Context, c *fakeClient) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.closed = true
	f.destroyed++
	return nil
}

func (f *fakeFactory) Validate(ctx context.Context, c *fakeClient) bool {
	if f.validateFn != nil {
		return f.validateFn(c)
	}
	return !c.closed
}

func (f *fakeFactory) counts() (created, destroyed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created, f.destroyed
}

// resettingFactory adds the optional Reset hook.
type resettingFactory struct {
	fakeFactory
	resets   int
	resetErr error
}

func (f *resettingFactory) Reset(ctx context.Context, c *fakeClient) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return f.resetErr
}

func testConfig() Config {
	return Config{
		MinSize:        0,
		MaxSize:        4,
		AcquireTimeout: time.Second,
		CreateTimeout:  time.Second,
		IdleTimeout:    time.Minute,
	}
}

func TestWarmUp(t *testing.T) {
	factory := &fakeFactory{}
	cfg := testConfig()
	cfg.MinSize = 3

	p := New[*fakeClient](factory, cfg)
	defer p.Close()

	stats := p.Stats()
	assert.Equal(t, 3, stats.Available)

	created, _ := factory.counts()
	assert.Equal(t, 3, created)
}

func TestWarmUpFailuresDoNotAbort(t *testing.T) {
	factory := &fakeFactory{createErr: errors.New("connect refused")}
	cfg := testConfig()
	cfg.MinSize = 3

	p := New[*fakeClient](factory, cfg)
	defer p.Close()

	stats := p.Stats()
	assert.Equal(t, 0, stats.Available)
	assert.Equal(t, uint64(3), stats.CreateErrors)
}

func TestAcquireCreatesExactlyOne(t *testing.T) {
	factory := &fakeFactory{}
	p := New[*fakeClient](factory, testConfig())
	defer p.Close()

	res, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.UsageCount)

	created, _ := factory.counts()
	assert.Equal(t, 1, created)
}

func TestAcquireReusesReleased(t *testing.T) {
	factory := &fakeFactory{}
	p := New[*fakeClient](factory, testConfig())
	defer p.Close()

	res, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Release(res))

	again, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, res.ID, again.ID)
	assert.Equal(t, 2, again.UsageCount)

	created, _ := factory.counts()
	assert.Equal(t, 1, created)
}

func TestAcquireTimeout(t *testing.T) {
	factory := &fakeFactory{}
	cfg := testConfig()
	cfg.MaxSize = 1
	cfg.AcquireTimeout = 50 * time.Millisecond

	p := New[*fakeClient](factory, cfg)
	defer p.Close()

	res, err := p.Acquire(context.Background())
	require.NoError(t, err)

	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrAcquireTimeout)

	assert.Equal(t, uint64(1), p.Stats().Timeouts)
	require.NoError(t, p.Release(res))
}

func TestWaitersServedFIFO(t *testing.T) {
	factory := &fakeFactory{}
	cfg := testConfig()
	cfg.MaxSize = 1

	p := New[*fakeClient](factory, cfg)
	defer p.Close()

	res, err := p.Acquire(context.Background())
	require.NoError(t, err)

	order := make(chan string, 2)
	var wg sync.WaitGroup
	for _, name := range []string{"first", "second"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			got, err := p.Acquire(context.Background())
			if !assert.NoError(t, err) {
				order <- name
				return
			}
			order <- name
			assert.NoError(t, p.Release(got))
		}(name)
		time.Sleep(30 * time.Millisecond) // fix enqueue order
	}

	require.NoError(t, p.Release(res))
	wg.Wait()
	close(order)

	assert.Equal(t, "first", <-order)
	assert.Equal(t, "second", <-order)
}

func TestReleaseSatisfiesOldestWaiter(t *testing.T) {
	factory := &fakeFactory{}
	cfg := testConfig()
	cfg.MaxSize = 1

	p := New[*fakeClient](factory, cfg)
	defer p.Close()

	res, err := p.Acquire(context.Background())
	require.NoError(t, err)

	done := make(chan *Resource[*fakeClient], 1)
	go func() {
		got, err := p.Acquire(context.Background())
		if assert.NoError(t, err) {
			done <- got
		}
	}()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, p.Release(res))

	select {
	case got := <-done:
		assert.Equal(t, res.ID, got.ID)
		require.NoError(t, p.Release(got))
	case <-time.After(time.Second):
		t.Fatal("waiter was not satisfied by release")
	}

	created, _ := factory.counts()
	assert.Equal(t, 1, created)
}

func TestReleaseNotBorrowed(t *testing.T) {
	factory := &fakeFactory{}
	p := New[*fakeClient](factory, testConfig())
	defer p.Close()

	res, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Release(res))

	// Second release of the same resource is rejected.
	assert.ErrorIs(t, p.Release(res), ErrNotBorrowed)
	assert.ErrorIs(t, p.Release(nil), ErrNotBorrowed)
}

func TestReleaseInvalidDestroys(t *testing.T) {
	factory := &fakeFactory{validateFn: func(*fakeClient) bool { return false }}
	p := New[*fakeClient](factory, testConfig())
	defer p.Close()

	res, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Release(res))

	stats := p.Stats()
	assert.Equal(t, 0, stats.Available)

	_, destroyed := factory.counts()
	assert.Equal(t, 1, destroyed)
}

func TestReleaseUnhealthyDestroys(t *testing.T) {
	factory := &fakeFactory{}
	p := New[*fakeClient](factory, testConfig())
	defer p.Close()

	res, err := p.Acquire(context.Background())
	require.NoError(t, err)

	res.MarkUnhealthy()
	require.NoError(t, p.Release(res))

	assert.Equal(t, 0, p.Stats().Available)
	_, destroyed := factory.counts()
	assert.Equal(t, 1, destroyed)
}

func TestMaxUsageRetires(t *testing.T) {
	factory := &fakeFactory{}
	cfg := testConfig()
	cfg.MaxUsageCount = 1

	p := New[*fakeClient](factory, cfg)
	defer p.Close()

	res, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Release(res)) // usage 1, recycled

	res, err = p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Release(res)) // usage 2, over the cap

	assert.Equal(t, 0, p.Stats().Available)
	_, destroyed := factory.counts()
	assert.Equal(t, 1, destroyed)
}

func TestResetCalledOnRelease(t *testing.T) {
	factory := &resettingFactory{}
	p := New[*fakeClient](factory, testConfig())
	defer p.Close()

	res, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Release(res))

	factory.mu.Lock()
	resets := factory.resets
	factory.mu.Unlock()
	assert.Equal(t, 1, resets)
	assert.Equal(t, 1, p.Stats().Available)
}

func TestResetFailureDestroys(t *testing.T) {
	factory := &resettingFactory{resetErr: errors.New("reset failed")}
	p := New[*fakeClient](factory, testConfig())
	defer p.Close()

	res, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Release(res))

	assert.Equal(t, 0, p.Stats().Available)
	_, destroyed := factory.counts()
	assert.Equal(t, 1, destroyed)
}

func TestUseReleasesOnAllPaths(t *testing.T) {
	factory := &fakeFactory{}
	p := New[*fakeClient](factory, testConfig())
	defer p.Close()

	wantErr := errors.New("call failed")
	err := p.Use(context.Background(), func(ctx context.Context, c *fakeClient) error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	stats := p.Stats()
	assert.Equal(t, 0, stats.Borrowed)
	assert.Equal(t, 1, stats.Available)
}

func TestCloseDrainsWaiters(t *testing.T) {
	factory := &fakeFactory{}
	cfg := testConfig()
	cfg.MaxSize = 1

	p := New[*fakeClient](factory, cfg)

	res, err := p.Acquire(context.Background())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		errCh <- err
	}()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, p.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrPoolClosed)
	case <-time.After(time.Second):
		t.Fatal("waiter not drained on close")
	}

	// Borrowed resources are destroyed on release after close.
	require.NoError(t, p.Release(res))
	_, destroyed := factory.counts()
	assert.Equal(t, 1, destroyed)

	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestCapacityInvariant(t *testing.T) {
	factory := &fakeFactory{}
	cfg := testConfig()
	cfg.MaxSize = 4

	p := New[*fakeClient](factory, cfg)
	defer p.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.Use(context.Background(), func(ctx context.Context, c *fakeClient) error {
				time.Sleep(5 * time.Millisecond)

				stats := p.Stats()
				total := stats.Available + stats.Borrowed
				assert.LessOrEqual(t, total, cfg.MaxSize)
				assert.GreaterOrEqual(t, total, 0)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stats := p.Stats()
	assert.LessOrEqual(t, stats.Available+stats.Borrowed, cfg.MaxSize)
	assert.Equal(t, 0, stats.Borrowed)
}

func TestHealthCheckEvictsIdleKeepingMinSize(t *testing.T) {
	factory := &fakeFactory{}
	cfg := Config{
		MinSize:             1,
		MaxSize:             3,
		AcquireTimeout:      time.Second,
		CreateTimeout:       time.Second,
		IdleTimeout:         30 * time.Millisecond,
		HealthCheckInterval: 20 * time.Millisecond,
	}

	p := New[*fakeClient](factory, cfg)
	defer p.Close()

	// Park three resources, then let them go idle.
	var held []*Resource[*fakeClient]
	for i := 0; i < 3; i++ {
		res, err := p.Acquire(context.Background())
		require.NoError(t, err)
		held = append(held, res)
	}
	for _, res := range held {
		require.NoError(t, p.Release(res))
	}

	assert.Eventually(t, func() bool {
		return p.Stats().Available == 1
	}, time.Second, 10*time.Millisecond, "idle eviction should shrink to MinSize")
}

func TestHealthScoreDegradesUnderPressure(t *testing.T) {
	healthy := healthScore(Stats{MaxSize: 10})
	assert.Equal(t, 100, healthy)

	loaded := healthScore(Stats{MaxSize: 10, Borrowed: 10, Waiting: 4, Acquires: 10})
	assert.Less(t, loaded, healthy)

	failing := healthScore(Stats{MaxSize: 10, Acquires: 5, Timeouts: 5})
	assert.Less(t, failing, healthy)
}
