package registry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/listsync/internal/pubsub"
	"github.com/roach88/listsync/internal/session"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingFactory builds idle coordinators and counts constructions per list.
type countingFactory struct {
	mu     sync.Mutex
	counts map[string]int
	total  atomic.Int64
	bus    pubsub.Bus
}

func newCountingFactory() *countingFactory {
	return &countingFactory{counts: make(map[string]int), bus: pubsub.NewLocal(0, quietLogger())}
}

func (f *countingFactory) build(listID string) *session.Coordinator {
	f.mu.Lock()
	f.counts[listID]++
	f.mu.Unlock()
	f.total.Add(1)
	return session.New(listID, nil, f.bus, session.WithLogger(quietLogger()))
}

func newRegistry(t *testing.T, f *countingFactory, opts ...Option) *Registry {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	r := New(f.build, opts...)
	require.NoError(t, r.Init(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		r.Shutdown(ctx)
	})
	return r
}

func waitDone(t *testing.T, c *session.Coordinator) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not stop")
	}
}

func TestGetOrCreate_RequiresInit(t *testing.T) {
	r := New(newCountingFactory().build)
	_, err := r.GetOrCreate("L1")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestInit_Twice(t *testing.T) {
	r := newRegistry(t, newCountingFactory())
	assert.Error(t, r.Init(context.Background()))
}

func TestGetOrCreate_ExactlyOncePerList(t *testing.T) {
	f := newCountingFactory()
	r := newRegistry(t, f)

	const goroutines = 50
	got := make([]*session.Coordinator, goroutines)
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(i int) {
			defer wg.Done()
			c, err := r.GetOrCreate(fmt.Sprintf("L%d", i%3))
			require.NoError(t, err)
			got[i] = c
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(3), f.total.Load())
	for id, n := range f.counts {
		assert.Equal(t, 1, n, "list %s built more than once", id)
	}
	for i := 3; i < goroutines; i++ {
		assert.Same(t, got[i%3], got[i])
	}
	assert.Equal(t, 3, r.Len())

	c, ok := r.Lookup("L0")
	require.True(t, ok)
	assert.Same(t, got[0], c)
	_, ok = r.Lookup("nope")
	assert.False(t, ok)
}

func TestRelease_ImmediateRetire(t *testing.T) {
	r := newRegistry(t, newCountingFactory(), WithRetireGrace(0))

	c, err := r.GetOrCreate("L1")
	require.NoError(t, err)
	_, err = r.GetOrCreate("L1")
	require.NoError(t, err)

	r.Release("L1")
	assert.Equal(t, 1, r.Len(), "still referenced")

	r.Release("L1")
	assert.Equal(t, 0, r.Len())
	waitDone(t, c)

	r.Release("L1") // unknown: no-op
}

func TestRelease_ReacquireWithinGraceKeepsCoordinator(t *testing.T) {
	r := newRegistry(t, newCountingFactory(), WithRetireGrace(time.Hour))

	c1, err := r.GetOrCreate("L1")
	require.NoError(t, err)
	r.Release("L1")

	c2, err := r.GetOrCreate("L1")
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.Equal(t, 1, r.Len())
}

func TestRelease_RetiresAfterGrace(t *testing.T) {
	f := newCountingFactory()
	r := newRegistry(t, f, WithRetireGrace(20*time.Millisecond))

	c1, err := r.GetOrCreate("L1")
	require.NoError(t, err)
	r.Release("L1")

	waitDone(t, c1)
	assert.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 5*time.Millisecond)

	c2, err := r.GetOrCreate("L1")
	require.NoError(t, err)
	assert.NotSame(t, c1, c2)
	assert.Equal(t, int64(2), f.total.Load())
}

func TestShutdown_StopsAll(t *testing.T) {
	r := New(newCountingFactory().build, WithLogger(quietLogger()))
	require.NoError(t, r.Init(context.Background()))

	a, err := r.GetOrCreate("A")
	require.NoError(t, err)
	b, err := r.GetOrCreate("B")
	require.NoError(t, err)

	require.NoError(t, r.Shutdown(context.Background()))
	waitDone(t, a)
	waitDone(t, b)
	assert.Equal(t, 0, r.Len())

	_, err = r.GetOrCreate("A")
	assert.ErrorIs(t, err, ErrShutdown)
	require.NoError(t, r.Shutdown(context.Background()), "idempotent")
}

func TestInit_ParentCancelStopsCoordinators(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := New(newCountingFactory().build, WithLogger(quietLogger()))
	require.NoError(t, r.Init(ctx))

	c, err := r.GetOrCreate("L1")
	require.NoError(t, err)
	cancel()
	waitDone(t, c)
}
