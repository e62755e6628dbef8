package session

import (
	"context"

	"github.com/roach88/listsync/internal/model"
	"github.com/roach88/listsync/internal/resolver"
	"github.com/roach88/listsync/internal/transform"
	"github.com/roach88/listsync/internal/wire"
)

// OutcomeStatus is what happened to a submitted operation.
type OutcomeStatus string

const (
	// OutcomeApplied means the operation was applied and broadcast.
	OutcomeApplied OutcomeStatus = "applied"
	// OutcomeCancelled means the operation lost a conflict.
	OutcomeCancelled OutcomeStatus = "cancelled"
	// OutcomeDuplicate means the operation was already logged; nothing happened.
	OutcomeDuplicate OutcomeStatus = "duplicate"
	// OutcomeFailed means the operation was rejected or could not be persisted.
	OutcomeFailed OutcomeStatus = "failed"
)

// Outcome reports the fate of one submitted operation.
type Outcome struct {
	Status OutcomeStatus

	// Op is the operation as applied (transformed, timestamped). For other
	// statuses it is the operation as submitted.
	Op model.Operation

	// State is the list state after the operation. Set only when applied.
	State model.Snapshot

	// Reason explains a cancellation.
	Reason string

	// Err is the failure. Set only when failed.
	Err error
}

// Submit processes one operation from a joined connection. The submitter's
// identity is taken from the roster, not from op.
//
// A returned error is a model.Error (InvalidOperation, AccessDenied,
// UnknownList, UnsupportedOperation, PersistenceFailure), ErrStopped, or the
// ctx error if the caller stopped waiting. Cancellations and duplicates are
// outcomes, not errors.
func (c *Coordinator) Submit(ctx context.Context, op model.Operation) (Outcome, error) {
	outcomes, err := c.SubmitBatch(ctx, []model.Operation{op})
	if err != nil {
		return Outcome{}, err
	}
	out := outcomes[0]
	return out, out.Err
}

// SubmitBatch processes several operations from one connection in a single
// turn, such as a queue of edits made while offline. Outcomes are returned
// in the order of ops. Later operations are resolved against earlier ones.
func (c *Coordinator) SubmitBatch(ctx context.Context, ops []model.Operation) ([]Outcome, error) {
	outcomes := make([]Outcome, len(ops))
	valid := make([]model.Operation, 0, len(ops))
	index := make([]int, 0, len(ops))

	for i, op := range ops {
		op = op.Normalize()
		outcomes[i].Op = op
		if op.ListID != "" && op.ListID != c.listID {
			outcomes[i] = failed(op, model.NewError(model.KindInvalidOperation, "operation for list %q sent to %q", op.ListID, c.listID).
				For(c.listID, op.OperationID))
			continue
		}
		op.ListID = c.listID
		if err := op.Validate(); err != nil {
			outcomes[i] = failed(op, asModelError(err).For(c.listID, op.OperationID))
			continue
		}
		valid = append(valid, op)
		index = append(index, i)
	}
	if len(valid) == 0 {
		return outcomes, nil
	}

	resp, err := c.call(ctx, request{kind: requestSubmit, ops: valid})
	if err != nil {
		return nil, err
	}
	for j, out := range resp.outcomes {
		outcomes[index[j]] = out
	}
	return outcomes, nil
}

func failed(op model.Operation, err error) Outcome {
	return Outcome{Status: OutcomeFailed, Op: op, Err: err}
}

func asModelError(err error) *model.Error {
	if me, ok := err.(*model.Error); ok {
		return me
	}
	return model.WrapError(model.KindInvalidOperation, err, "invalid operation")
}

// handleSubmit runs one submission turn in the Run loop.
func (c *Coordinator) handleSubmit(ops []model.Operation) []Outcome {
	outcomes := make([]Outcome, len(ops))

	ctx, cancel := c.ioContext()
	defer cancel()

	// Stamp every op with its submitter's identity.
	for i, op := range ops {
		p, ok := c.participant(op.ClientID)
		if !ok {
			outcomes[i] = failed(op, asModelError(c.notJoined(op.ClientID)).For(c.listID, op.OperationID))
			continue
		}
		op.UserID = p.UserID
		op.UserName = p.UserName
		ops[i] = op
	}

	state, err := c.store.ReadList(ctx, c.listID)
	if err != nil {
		for i, op := range ops {
			if outcomes[i].Status == "" {
				outcomes[i] = failed(op, persistenceError(c.listID, op.OperationID, err))
			}
		}
		return outcomes
	}

	if err := c.ensureClock(ctx); err != nil {
		for i, op := range ops {
			if outcomes[i].Status == "" {
				outcomes[i] = failed(op, persistenceError(c.listID, op.OperationID, err))
			}
		}
		return outcomes
	}

	// Log the raw operations in acceptance order.
	fresh := make([]model.Operation, 0, len(ops))
	freshIdx := make([]int, 0, len(ops))
	for i, op := range ops {
		if outcomes[i].Status != "" {
			continue
		}
		// The timestamp is only issued once the row is logged, so duplicates
		// leave no gaps.
		op.ServerTimestamp = c.clock.Peek(c.wall.NowMillis())
		seq, inserted, err := c.store.AppendOperation(ctx, op)
		if err != nil {
			outcomes[i] = failed(op, persistenceError(c.listID, op.OperationID, err))
			continue
		}
		if !inserted {
			c.logger.Debug("duplicate operation ignored", "operation", op.OperationID, "client", op.ClientID)
			outcomes[i] = Outcome{Status: OutcomeDuplicate, Op: op}
			continue
		}
		c.clock.Issue(op.ServerTimestamp)
		op.Seq = seq
		fresh = append(fresh, op)
		freshIdx = append(freshIdx, i)
	}
	if len(fresh) == 0 {
		return outcomes
	}

	decisions, err := c.resolver.Resolve(ctx, c.listID, fresh)
	if err != nil {
		for j, op := range fresh {
			c.markFailed(op, err)
			outcomes[freshIdx[j]] = failed(op, persistenceError(c.listID, op.OperationID, err))
		}
		return outcomes
	}

	for j, d := range decisions {
		i := freshIdx[j]
		if !d.Accepted {
			outcomes[i] = c.cancel(ctx, d)
			continue
		}
		next, out := c.apply(ctx, state, d)
		outcomes[i] = out
		if out.Status == OutcomeApplied {
			state = next
		}
	}
	return outcomes
}

// ensureClock runs once per coordinator, before its first submission. It
// fails operations a previous owner left pending, so their clients can
// resubmit them, and resumes server timestamps after the last one logged.
func (c *Coordinator) ensureClock(ctx context.Context) error {
	if c.clock != nil {
		return nil
	}
	n, err := c.store.FailPending(ctx, c.listID, reasonInterrupted)
	if err != nil {
		return err
	}
	if n > 0 {
		c.logger.Warn("failed operations left pending by a previous run", "count", n)
	}
	last, err := c.store.LastTimestamp(ctx, c.listID)
	if err != nil {
		return err
	}
	c.clock = NewClockAt(last)
	return nil
}

// reasonInterrupted is recorded on operations found pending at startup.
const reasonInterrupted = "interrupted before completion"

func (c *Coordinator) cancel(ctx context.Context, d resolver.Decision) Outcome {
	if err := c.store.MarkOperation(ctx, c.listID, d.Original.Ref(), model.StatusCancelled, d.Reason); err != nil {
		c.logger.Warn("mark cancelled failed", "operation", d.Original.OperationID, "error", err)
	}
	c.logger.Info("operation cancelled",
		"operation", d.Original.OperationID,
		"client", d.Original.ClientID,
		"reason", d.Reason,
	)
	return Outcome{Status: OutcomeCancelled, Op: d.Original, Reason: d.Reason}
}

// apply applies an accepted decision, persists it and broadcasts the result.
func (c *Coordinator) apply(ctx context.Context, state model.ListState, d resolver.Decision) (model.ListState, Outcome) {
	op := d.Op
	next, err := transform.Apply(state, op)
	if err != nil {
		c.markFailed(op, err)
		return state, failed(op, err)
	}

	err = c.store.CommitOperation(ctx, model.Commit{
		State:   next,
		Entries: transform.NewEntries(state, next),
		Applied: op,
	})
	if err != nil {
		c.markFailed(op, err)
		c.logger.Error("commit failed", "operation", op.OperationID, "error", err)
		return state, failed(op, persistenceError(c.listID, op.OperationID, err))
	}

	c.logger.Debug("operation applied",
		"operation", op.OperationID,
		"client", op.ClientID,
		"type", op.Type,
		"ts", op.ServerTimestamp,
	)

	snap := next.Snapshot()
	c.publish(wire.EventOperationApplied, wire.OperationApplied{
		ListID:    c.listID,
		Operation: op,
		NewState:  snap,
		AppliedBy: wire.AppliedBy{UserID: op.UserID, UserName: op.UserName},
	}, "")

	return next, Outcome{Status: OutcomeApplied, Op: op, State: snap}
}

// markFailed records a failure so the operation can be resubmitted. Uses its
// own context: the turn's context may be the thing that expired.
func (c *Coordinator) markFailed(op model.Operation, cause error) {
	ctx, cancel := c.ioContext()
	defer cancel()
	if err := c.store.MarkOperation(ctx, c.listID, op.Ref(), model.StatusFailed, cause.Error()); err != nil {
		c.logger.Warn("mark operation failed", "operation", op.OperationID, "error", err)
	}
}
