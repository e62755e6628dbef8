// Package registry maps list ids to their live coordinators.
//
// The registry guarantees at most one coordinator per list within a process.
// It does not coordinate across processes: deployments running several
// servers must route every connection for a list to the same process.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/listsync/internal/session"
)

// DefaultRetireGrace is how long an unreferenced coordinator is kept alive
// to absorb quick reconnects.
const DefaultRetireGrace = 30 * time.Second

var (
	// ErrNotInitialized is returned by GetOrCreate before Init.
	ErrNotInitialized = errors.New("registry: not initialized")
	// ErrShutdown is returned by GetOrCreate after Shutdown.
	ErrShutdown = errors.New("registry: shut down")
)

// Factory builds the coordinator for a list. It must not start it.
type Factory func(listID string) *session.Coordinator

// Option configures a Registry.
type Option func(*Registry)

// WithRetireGrace sets the grace period before an unreferenced coordinator is
// retired. Zero or negative retires immediately.
func WithRetireGrace(d time.Duration) Option {
	return func(r *Registry) {
		r.grace = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// Registry owns the coordinators of a process.
type Registry struct {
	factory Factory
	grace   time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	entries  map[string]*entry
	retiring map[string]*session.Coordinator // stopped, possibly still draining
	ctx     context.Context
	cancel  context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

type entry struct {
	coord *session.Coordinator
	refs  int
	timer *time.Timer
}

// New creates a registry. Call Init before use.
func New(factory Factory, opts ...Option) *Registry {
	r := &Registry{
		factory:  factory,
		grace:    DefaultRetireGrace,
		logger:   slog.Default(),
		entries:  make(map[string]*entry),
		retiring: make(map[string]*session.Coordinator),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Init prepares the registry. Coordinators run until ctx is cancelled or
// Shutdown is called. Calling Init twice is an error.
func (r *Registry) Init(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrShutdown
	}
	if r.ctx != nil {
		return errors.New("registry: already initialized")
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	return nil
}

// GetOrCreate returns the coordinator for listID, creating and starting it
// if needed, and takes a reference on it. Every successful call must be
// paired with Release.
func (r *Registry) GetOrCreate(listID string) (*session.Coordinator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrShutdown
	}
	if r.ctx == nil {
		return nil, ErrNotInitialized
	}

	e, ok := r.entries[listID]
	if !ok {
		e = &entry{coord: r.factory(listID)}
		r.entries[listID] = e
		prev := r.retiring[listID]
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			// One coordinator per list: wait out a predecessor still draining.
			if prev != nil {
				<-prev.Done()
			}
			err := e.coord.Run(r.ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("coordinator exited", "list", listID, "error", err)
			}
			r.mu.Lock()
			if r.retiring[listID] == e.coord {
				delete(r.retiring, listID)
			}
			r.mu.Unlock()
		}()
		r.logger.Debug("coordinator created", "list", listID)
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.refs++
	return e.coord, nil
}

// Lookup returns the live coordinator for listID without taking a reference.
func (r *Registry) Lookup(listID string) (*session.Coordinator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[listID]
	if !ok {
		return nil, false
	}
	return e.coord, true
}

// Release drops a reference taken by GetOrCreate. When the last reference is
// dropped the coordinator is retired after the grace period, unless it is
// acquired again first.
func (r *Registry) Release(listID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[listID]
	if !ok || e.refs == 0 {
		return
	}
	e.refs--
	if e.refs > 0 || r.closed {
		return
	}
	if r.grace <= 0 {
		r.retireLocked(listID, e)
		return
	}
	e.timer = time.AfterFunc(r.grace, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.retireLocked(listID, e)
	})
}

// retireLocked stops e if it is still the unreferenced entry for listID.
func (r *Registry) retireLocked(listID string, e *entry) {
	if cur, ok := r.entries[listID]; !ok || cur != e || e.refs > 0 {
		return
	}
	delete(r.entries, listID)
	r.retiring[listID] = e.coord
	e.coord.Stop()
	r.logger.Debug("coordinator retired", "list", listID)
}

// Len returns the number of live coordinators.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Shutdown stops every coordinator, letting each finish its queued work, and
// waits for them until ctx is done.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for id, e := range r.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		e.coord.Stop()
		delete(r.entries, id)
	}
	cancel := r.cancel
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if cancel != nil {
			cancel()
		}
		return nil
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		return ctx.Err()
	}
}
