package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/listsync/internal/model"
	"github.com/roach88/listsync/internal/pubsub"
	"github.com/roach88/listsync/internal/session"
	"github.com/roach88/listsync/internal/store"
	"github.com/roach88/listsync/internal/testutil"
)

// Clock settings every run starts from.
const (
	ClockStart = 1_000
	ClockStep  = 1
)

// Harness drives one coordinator through a scenario.
type Harness struct {
	store  *store.Store
	coord  *session.Coordinator
	clock  *testutil.DeterministicClock
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each run uses a fresh in-memory database. Expectation and assertion
// failures are reported in the result; the error is reserved for scenarios
// that could not be executed at all.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller context for coordinator calls.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	if err := seed(ctx, st, scenario); err != nil {
		return nil, fmt.Errorf("failed to seed store: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := pubsub.NewLocal(0, logger)
	defer bus.Close()

	clock := testutil.NewDeterministicClock(ClockStart, ClockStep)
	opts := []session.Option{session.WithWallClock(clock), session.WithLogger(logger)}
	if window, ok, _ := scenario.window(); ok {
		opts = append(opts, session.WithResolveWindow(window))
	}
	coord := session.New(scenario.List.ID, st, bus, opts...)

	runCtx, cancel := context.WithCancel(context.Background())
	go coord.Run(runCtx)
	defer func() {
		coord.Stop()
		cancel()
		<-coord.Done()
	}()

	h := &Harness{store: st, coord: coord, clock: clock, logger: logger}

	result := NewResult()
	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	state, err := st.ReadList(ctx, scenario.List.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read final state: %w", err)
	}
	result.State = state

	actx := &AssertionContext{Store: st, Ctx: ctx, ListID: scenario.List.ID}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func seed(ctx context.Context, st *store.Store, s *Scenario) error {
	for _, u := range s.Users {
		if err := st.PutUser(ctx, model.User{ID: u.ID, Name: u.Name}); err != nil {
			return err
		}
	}
	info := model.ListInfo{ID: s.List.ID, Title: s.List.Title, OwnerID: s.List.Owner}
	if _, err := st.CreateList(ctx, info); err != nil {
		return err
	}
	for _, m := range s.List.Members {
		if err := st.AddMember(ctx, s.List.ID, m); err != nil {
			return err
		}
	}
	return nil
}

func (h *Harness) executeFlow(ctx context.Context, flow []Step, result *Result) error {
	for i, step := range flow {
		var err error
		switch {
		case step.Join != nil:
			h.join(ctx, i, step, result)
		case step.Leave != nil:
			h.leave(ctx, i, step, result)
		case step.Submit != nil:
			err = h.submit(ctx, i, step, result)
		case step.Advance > 0:
			h.clock.Set(h.clock.Current() + step.Advance + ClockStep)
		}
		if err != nil {
			return fmt.Errorf("flow step %d: %w", i, err)
		}
	}
	return nil
}

func (h *Harness) join(ctx context.Context, i int, step Step, result *Result) {
	name := step.Join.Name
	if name == "" {
		name = step.Join.User
	}
	_, err := h.coord.Join(ctx, session.JoinRequest{
		UserID:   step.Join.User,
		UserName: name,
		ClientID: step.Join.Client,
	})
	ev := TraceEvent{Step: i, Type: EventJoin, User: step.Join.User, Client: step.Join.Client, Status: "ok"}
	if err != nil {
		ev.Status = "error"
		ev.Kind = string(model.KindOf(err))
	}
	result.AddTrace(ev)
	checkExpect(result, i, 0, step.Expect, ev)
	h.logger.Info("join", "step", i, "user", step.Join.User, "status", ev.Status)
}

func (h *Harness) leave(ctx context.Context, i int, step Step, result *Result) {
	err := h.coord.Leave(ctx, step.Leave.User)
	ev := TraceEvent{Step: i, Type: EventLeave, User: step.Leave.User, Status: "ok"}
	if err != nil {
		ev.Status = "error"
		ev.Kind = string(model.KindOf(err))
	}
	result.AddTrace(ev)
	checkExpect(result, i, 0, step.Expect, ev)
}

func (h *Harness) submit(ctx context.Context, i int, step Step, result *Result) error {
	ops, err := step.Submit.decode()
	if err != nil {
		return err
	}
	outcomes, err := h.coord.SubmitBatch(ctx, ops)
	if err != nil {
		return err
	}

	for j, out := range outcomes {
		ev := TraceEvent{
			Step:        i,
			Type:        EventSubmit,
			Client:      step.Submit.Client,
			OperationID: out.Op.OperationID,
			OpType:      string(out.Op.Type),
			Status:      string(out.Status),
		}
		switch out.Status {
		case session.OutcomeApplied:
			ev.ServerTimestamp = out.Op.ServerTimestamp
			ev.Products = out.State.Products
			ev.Title = out.State.Title
		case session.OutcomeCancelled:
			ev.Reason = out.Reason
		case session.OutcomeFailed:
			ev.Kind = string(model.KindOf(out.Err))
		}
		result.AddTrace(ev)
		checkExpect(result, i, j, step.Expect, ev)
		h.logger.Info("submit",
			"step", i,
			"operation", out.Op.OperationID,
			"status", out.Status,
		)
	}
	return nil
}

func checkExpect(result *Result, step, index int, expect []Expect, ev TraceEvent) {
	if index >= len(expect) {
		return
	}
	want := expect[index]
	where := fmt.Sprintf("flow[%d]", step)
	if ev.OperationID != "" {
		where = fmt.Sprintf("flow[%d] operation %s", step, ev.OperationID)
	}
	if want.Status != "" && want.Status != ev.Status {
		result.AddError(fmt.Sprintf("%s: expected status %q, got %q", where, want.Status, ev.Status))
	}
	if want.Kind != "" && want.Kind != ev.Kind {
		result.AddError(fmt.Sprintf("%s: expected kind %q, got %q", where, want.Kind, ev.Kind))
	}
	if want.Reason != "" && !containsFold(ev.Reason, want.Reason) {
		result.AddError(fmt.Sprintf("%s: expected reason containing %q, got %q", where, want.Reason, ev.Reason))
	}
}

// Timeout bounds a whole scenario run when driven from the CLI.
const Timeout = 30 * time.Second
