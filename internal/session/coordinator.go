package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roach88/listsync/internal/model"
	"github.com/roach88/listsync/internal/pubsub"
	"github.com/roach88/listsync/internal/resolver"
	"github.com/roach88/listsync/internal/wire"
)

// ErrStopped is returned by requests made after the coordinator stopped.
var ErrStopped = errors.New("session: coordinator stopped")

// DefaultIOTimeout bounds the storage work of one turn.
const DefaultIOTimeout = 10 * time.Second

// Storage is the durable state a coordinator reads and writes.
// Implemented by store.Store and pgstore.Store.
type Storage interface {
	resolver.HistoryReader
	IsMember(ctx context.Context, listID, userID string) (bool, error)
	UserName(ctx context.Context, userID string) (name string, found bool, err error)
	ReadList(ctx context.Context, listID string) (model.ListState, error)
	LastTimestamp(ctx context.Context, listID string) (int64, error)
	AppendOperation(ctx context.Context, op model.Operation) (seq int64, inserted bool, err error)
	MarkOperation(ctx context.Context, listID string, ref model.Ref, status model.OpStatus, reason string) error
	FailPending(ctx context.Context, listID, reason string) (int64, error)
	CommitOperation(ctx context.Context, c model.Commit) error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithIOTimeout bounds the storage work of each turn. A turn that exceeds it
// fails with model.KindPersistenceFailure.
func WithIOTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.ioTimeout = d
	}
}

// WithResolveWindow sets the recency window of the conflict resolver.
func WithResolveWindow(d time.Duration) Option {
	return func(c *Coordinator) {
		c.window = d
	}
}

// WithWallClock sets the wall clock used for server timestamps and join times.
func WithWallClock(w WallClock) Option {
	return func(c *Coordinator) {
		c.wall = w
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// Coordinator serializes all work on one list.
type Coordinator struct {
	listID    string
	store     Storage
	bus       pubsub.Bus
	resolver  *resolver.Resolver
	wall      WallClock
	clock     *Clock // nil until the first submission
	ioTimeout time.Duration
	window    time.Duration
	logger    *slog.Logger
	queue     *requestQueue
	done      chan struct{}

	// roster is written only by the Run loop; mu lets presence relays read it.
	mu     sync.RWMutex
	roster map[string]model.Participant // by client id
}

// New creates a coordinator for listID. Call Run to start processing.
func New(listID string, s Storage, bus pubsub.Bus, opts ...Option) *Coordinator {
	c := &Coordinator{
		listID:    listID,
		store:     s,
		bus:       bus,
		wall:      SystemClock{},
		ioTimeout: DefaultIOTimeout,
		window:    resolver.DefaultWindow,
		logger:    slog.Default(),
		queue:     newRequestQueue(),
		done:      make(chan struct{}),
		roster:    make(map[string]model.Participant),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("list", listID)
	c.resolver = resolver.New(s, resolver.WithWindow(c.window), resolver.WithLogger(c.logger))
	return c
}

// ListID returns the list this coordinator owns.
func (c *Coordinator) ListID() string {
	return c.listID
}

// Run processes requests until ctx is cancelled or Stop is called.
// Requests still queued when Stop is called are processed before Run returns;
// requests still queued when ctx is cancelled fail with ErrStopped.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.done)
	c.logger.Debug("coordinator starting")

	for {
		if req, ok := c.queue.TryDequeue(); ok {
			c.process(req)
			continue
		}

		select {
		case <-ctx.Done():
			c.queue.Close()
			c.drain()
			c.logger.Debug("coordinator stopping: context cancelled")
			return ctx.Err()

		case <-c.queue.Wait():
			// The signal channel closes with the queue.
			if c.queue.Len() == 0 && c.queue.Closed() {
				c.logger.Debug("coordinator stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run returns after processing what was queued.
func (c *Coordinator) Stop() {
	c.queue.Close()
}

// Done is closed when Run has returned.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// drain fails every queued request with ErrStopped.
func (c *Coordinator) drain() {
	for {
		req, ok := c.queue.TryDequeue()
		if !ok {
			return
		}
		req.reply <- response{err: ErrStopped}
	}
}

// process runs one request. Called only from Run.
func (c *Coordinator) process(req request) {
	var resp response
	switch req.kind {
	case requestJoin:
		resp.join, resp.err = c.handleJoin(req.join)
	case requestLeave:
		resp.err = c.handleLeave(func(p model.Participant) bool { return p.UserID == req.user })
	case requestDisconnect:
		resp.err = c.handleLeave(func(p model.Participant) bool { return p.ClientID == req.user })
	case requestSubmit:
		resp.outcomes = c.handleSubmit(req.ops)
	default:
		resp.err = fmt.Errorf("unknown request kind %d", req.kind)
	}
	req.reply <- resp
}

// call enqueues req and waits for its reply or ctx.
func (c *Coordinator) call(ctx context.Context, req request) (response, error) {
	req.reply = make(chan response, 1)
	if !c.queue.Enqueue(req) {
		return response{}, ErrStopped
	}
	select {
	case resp := <-req.reply:
		return resp, resp.err
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

// ioContext bounds one turn's storage work. It is deliberately not derived
// from any caller context.
func (c *Coordinator) ioContext() (context.Context, context.CancelFunc) {
	if c.ioTimeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), c.ioTimeout)
}

// publish broadcasts an event to the room. Failures are logged, never returned.
func (c *Coordinator) publish(event string, data any, exclude string) {
	payload, err := wire.Encode(event, data)
	if err != nil {
		c.logger.Error("encode broadcast", "event", event, "error", err)
		return
	}
	ctx, cancel := c.ioContext()
	defer cancel()
	err = c.bus.Publish(ctx, pubsub.Message{
		Topic:   pubsub.Topic(c.listID),
		Exclude: exclude,
		Payload: payload,
	})
	if err != nil {
		c.logger.Warn("broadcast failed", "event", event, "error", err)
	}
}

// Participants returns the current roster ordered by join time.
func (c *Coordinator) Participants() []model.Participant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rosterLocked()
}

func (c *Coordinator) rosterLocked() []model.Participant {
	out := make([]model.Participant, 0, len(c.roster))
	for _, p := range c.roster {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt != out[j].JoinedAt {
			return out[i].JoinedAt < out[j].JoinedAt
		}
		return out[i].ClientID < out[j].ClientID
	})
	return out
}

func (c *Coordinator) participant(clientID string) (model.Participant, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.roster[clientID]
	return p, ok
}

// persistenceError wraps a storage failure for the submitter.
func persistenceError(listID, opID string, err error) error {
	var me *model.Error
	if errors.As(err, &me) {
		return me.For(listID, opID)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.WrapError(model.KindPersistenceFailure, err, "storage timed out").For(listID, opID)
	}
	return model.WrapError(model.KindPersistenceFailure, err, "storage failed").For(listID, opID)
}
