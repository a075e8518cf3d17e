package aggcache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tvdoutor/screenfinder/internal/pkg/aggcache"
)

// --- fake remote tier ---

type memRemote struct {
	mu   sync.Mutex
	data map[string][]byte
	ttl  map[string]int
}

func newMemRemote() *memRemote {
	return &memRemote{data: map[string][]byte{}, ttl: map[string]int{}}
}

func (m *memRemote) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, errors.New("nil")
	}
	return v, nil
}

func (m *memRemote) Set(_ context.Context, key string, value []byte, ttlSeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.ttl[key] = ttlSeconds
	return nil
}

func (m *memRemote) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func counter(n *atomic.Int32, v int) aggcache.ComputeFunc[int] {
	return func(context.Context) (int, error) {
		n.Add(1)
		return v, nil
	}
}

func TestGetOrCompute_HitWithinTTL(t *testing.T) {
	clk := clock.NewMock()
	c := aggcache.New[int]("test", aggcache.WithClock(clk))
	ctx := context.Background()
	var calls atomic.Int32

	v, err := c.GetOrCompute(ctx, "k", counter(&calls, 1), 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	clk.Add(4 * time.Minute)
	v, err = c.GetOrCompute(ctx, "k", counter(&calls, 2), 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, v, "live entry must be returned unchanged")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetOrCompute_ExpiryBoundary(t *testing.T) {
	clk := clock.NewMock()
	c := aggcache.New[int]("test", aggcache.WithClock(clk))
	ctx := context.Background()
	var calls atomic.Int32

	_, err := c.GetOrCompute(ctx, "k", counter(&calls, 1), time.Minute)
	require.NoError(t, err)

	clk.Add(time.Minute)
	v, _ := c.GetOrCompute(ctx, "k", counter(&calls, 2), time.Minute)
	assert.Equal(t, 1, v, "entry is still live exactly at expiresAt")

	clk.Add(time.Nanosecond)
	v, _ = c.GetOrCompute(ctx, "k", counter(&calls, 2), time.Minute)
	assert.Equal(t, 2, v, "entry past expiresAt must be recomputed")
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 1, c.Len())
}

func TestGetOrCompute_DistinctKeys(t *testing.T) {
	c := aggcache.New[string]("test", aggcache.WithClock(clock.NewMock()))
	ctx := context.Background()

	a, _ := c.GetOrCompute(ctx, "a", func(context.Context) (string, error) { return "A", nil }, time.Minute)
	b, _ := c.GetOrCompute(ctx, "b", func(context.Context) (string, error) { return "B", nil }, time.Minute)
	assert.Equal(t, "A", a)
	assert.Equal(t, "B", b)
	assert.Equal(t, 2, c.Len())
}

func TestGetOrCompute_ErrorsNotCached(t *testing.T) {
	c := aggcache.New[int]("test", aggcache.WithClock(clock.NewMock()))
	ctx := context.Background()
	boom := errors.New("db down")

	_, err := c.GetOrCompute(ctx, "k", func(context.Context) (int, error) { return 0, boom }, time.Minute)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())

	v, err := c.GetOrCompute(ctx, "k", func(context.Context) (int, error) { return 7, nil }, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestGetOrCompute_ConcurrentMissesShareOneCompute(t *testing.T) {
	c := aggcache.New[int]("test", aggcache.WithClock(clock.NewMock()))
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrCompute(ctx, "k", compute, time.Minute)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, 42, v)
	}
}

func TestRefresh_RecomputesLiveEntry(t *testing.T) {
	c := aggcache.New[int]("test", aggcache.WithClock(clock.NewMock()))
	ctx := context.Background()
	var calls atomic.Int32

	_, _ = c.GetOrCompute(ctx, "k", counter(&calls, 1), time.Hour)
	v, err := c.Refresh(ctx, "k", counter(&calls, 2), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	v, _ = c.GetOrCompute(ctx, "k", counter(&calls, 3), time.Hour)
	assert.Equal(t, 2, v)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRemoteTier(t *testing.T) {
	clk := clock.NewMock()
	remote := newMemRemote()
	ctx := context.Background()
	var calls atomic.Int32

	first := aggcache.New[int]("test", aggcache.WithClock(clk), aggcache.WithRemote(remote), aggcache.WithKeyPrefix("agg:"))
	_, err := first.GetOrCompute(ctx, "k", counter(&calls, 5), 90*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 90, remote.ttl["agg:k"])

	// a second process sees the shared value without computing
	second := aggcache.New[int]("test", aggcache.WithClock(clk), aggcache.WithRemote(remote), aggcache.WithKeyPrefix("agg:"))
	v, err := second.GetOrCompute(ctx, "k", counter(&calls, 6), 90*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5, v)
	assert.Equal(t, int32(1), calls.Load())

	// the remote copy keeps its original expiry
	clk.Add(91 * time.Second)
	third := aggcache.New[int]("test", aggcache.WithClock(clk), aggcache.WithRemote(remote), aggcache.WithKeyPrefix("agg:"))
	v, err = third.GetOrCompute(ctx, "k", counter(&calls, 6), 90*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 6, v)

	third.Invalidate(ctx, "k")
	assert.Equal(t, 0, third.Len())
	_, err = remote.Get(ctx, "agg:k")
	assert.Error(t, err)
}

func TestForget_FallsBackToSharedTier(t *testing.T) {
	clk := clock.NewMock()
	remote := newMemRemote()
	ctx := context.Background()
	var calls atomic.Int32

	warmer := aggcache.New[int]("test", aggcache.WithClock(clk), aggcache.WithRemote(remote))
	api := aggcache.New[int]("test", aggcache.WithClock(clk), aggcache.WithRemote(remote))

	_, err := api.GetOrCompute(ctx, "k", counter(&calls, 1), time.Minute)
	require.NoError(t, err)

	_, err = warmer.Refresh(ctx, "k", counter(&calls, 2), time.Minute)
	require.NoError(t, err)

	v, _ := api.GetOrCompute(ctx, "k", counter(&calls, 3), time.Minute)
	assert.Equal(t, 1, v, "stale local copy until forgotten")

	api.Forget("k")
	v, err = api.GetOrCompute(ctx, "k", counter(&calls, 3), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.Equal(t, int32(2), calls.Load())

	_, err = remote.Get(ctx, "k")
	assert.NoError(t, err, "forget keeps the shared copy")
}
