// Package resolver decides which submitted operations are accepted, and in
// what transformed form, given the recently accepted history of a list.
//
// Resolution is a pure function of (new operations, window of prior accepted
// operations): the resolver reads history through HistoryReader and never
// touches list state.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/listsync/internal/model"
	"github.com/roach88/listsync/internal/transform"
)

// DefaultWindow is the recency window of accepted history an operation is
// compared against.
const DefaultWindow = 60 * time.Second

// HistoryReader loads accepted (applied) operations of a list.
type HistoryReader interface {
	// ReadAppliedSince returns the applied operations of listID whose server
	// timestamp is >= sinceMillis, ordered by log position.
	ReadAppliedSince(ctx context.Context, listID string, sinceMillis int64) ([]model.Operation, error)
}

// Decision is the resolver's verdict for one submitted operation.
type Decision struct {
	// Original is the operation as submitted.
	Original model.Operation

	// Op is the accepted, transformed operation. Meaningless unless Accepted.
	Op model.Operation

	// Accepted reports whether Op should be applied.
	Accepted bool

	// Reason explains a cancellation, or the last transform that changed Op.
	Reason string

	// ConflictWith identifies the operation that caused the cancellation or
	// the last change.
	ConflictWith *model.Ref

	// MergedFrom lists batch operations absorbed into Op.
	MergedFrom []model.Ref
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithWindow sets the recency window. Zero or negative compares against the
// entire accepted history.
func WithWindow(d time.Duration) Option {
	return func(r *Resolver) {
		r.window = d
	}
}

// WithLogger sets the logger used for conflict diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = l
	}
}

// Resolver transforms new operations against the operations they did not
// causally observe.
type Resolver struct {
	history HistoryReader
	window  time.Duration
	logger  *slog.Logger
}

// New creates a Resolver reading history from h.
func New(h HistoryReader, opts ...Option) *Resolver {
	r := &Resolver{
		history: h,
		window:  DefaultWindow,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Window returns the configured recency window.
func (r *Resolver) Window() time.Duration {
	return r.window
}

// Resolve decides the fate of ops, which must already carry their server
// timestamps. Decisions are returned in the order of ops.
//
// Each operation is transformed sequentially against every accepted history
// operation from a different client that it did not causally observe, then
// against the operations of this batch accepted before it. The first
// cancelling transform drops the operation.
//
// History operations are already applied. A transform that absorbs an applied
// ADD_ITEM therefore keeps the local quantity unmerged: merge-on-add in
// transform.Apply sums the two exactly once. Batch operations are not yet
// applied, so absorption merges quantities and drops the earlier operation.
func (r *Resolver) Resolve(ctx context.Context, listID string, ops []model.Operation) ([]Decision, error) {
	if len(ops) == 0 {
		return nil, nil
	}

	history, err := r.history.ReadAppliedSince(ctx, listID, r.since(ops))
	if err != nil {
		return nil, fmt.Errorf("resolve %s: read history: %w", listID, err)
	}

	decisions := make([]Decision, 0, len(ops))
	for _, op := range ops {
		d := r.resolveAgainstHistory(op, history)
		if d.Accepted {
			r.resolveAgainstBatch(&d, decisions)
		}
		if !d.Accepted {
			r.logger.Debug("operation cancelled",
				"list", listID,
				"operation", op.OperationID,
				"client", op.ClientID,
				"reason", d.Reason,
			)
		}
		decisions = append(decisions, d)
	}
	return decisions, nil
}

// since returns the lower bound of the recency window in unix milliseconds.
func (r *Resolver) since(ops []model.Operation) int64 {
	if r.window <= 0 {
		return 0
	}
	var latest int64
	for _, op := range ops {
		if op.ServerTimestamp > latest {
			latest = op.ServerTimestamp
		}
	}
	since := latest - r.window.Milliseconds()
	if since < 0 {
		return 0
	}
	return since
}

func (r *Resolver) resolveAgainstHistory(op model.Operation, history []model.Operation) Decision {
	d := Decision{Original: op, Op: op, Accepted: true}

	for _, remote := range history {
		if !concurrent(d.Op, remote) {
			continue
		}
		res := transform.Transform(d.Op, remote)
		if res.Cancelled {
			cancel(&d, res.Reason, remote)
			return d
		}
		if res.Absorbed {
			// remote is already in the list; apply merges on add.
			note(&d, res.Reason, remote)
			continue
		}
		if res.Reason != "" {
			note(&d, res.Reason, remote)
		}
		d.Op = res.Op
	}
	return d
}

func (r *Resolver) resolveAgainstBatch(d *Decision, earlier []Decision) {
	for i := range earlier {
		prev := &earlier[i]
		if !prev.Accepted || !concurrent(d.Op, prev.Op) {
			continue
		}
		res := transform.Transform(d.Op, prev.Op)
		if res.Cancelled {
			cancel(d, res.Reason, prev.Op)
			return
		}
		if res.DropRemote {
			prev.Accepted = false
			prev.Reason = res.Reason
			ref := d.Op.Ref()
			prev.ConflictWith = &ref
			if res.Absorbed {
				d.MergedFrom = append(d.MergedFrom, prev.MergedFrom...)
				d.MergedFrom = append(d.MergedFrom, prev.Op.Ref())
			}
		}
		if res.Reason != "" {
			note(d, res.Reason, prev.Op)
		}
		d.Op = res.Op
	}
}

// concurrent reports whether local must be transformed against remote.
// Exact duplicates always conflict; otherwise a client's own operations are
// causally ordered, and a remote operation local has observed is no conflict.
func concurrent(local, remote model.Operation) bool {
	if local.SameIdentity(remote) {
		return true
	}
	if local.ClientID == remote.ClientID {
		return false
	}
	return !local.Clock.HasObserved(remote.ClientID, remote.Clock)
}

func cancel(d *Decision, reason string, remote model.Operation) {
	d.Accepted = false
	note(d, reason, remote)
}

func note(d *Decision, reason string, remote model.Operation) {
	ref := remote.Ref()
	d.Reason = reason
	d.ConflictWith = &ref
}
