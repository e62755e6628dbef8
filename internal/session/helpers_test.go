package session

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/listsync/internal/model"
	"github.com/roach88/listsync/internal/pubsub"
	"github.com/roach88/listsync/internal/store"
	"github.com/roach88/listsync/internal/testutil"
	"github.com/roach88/listsync/internal/wire"
)

const testList = "L1"

type fixture struct {
	t     *testing.T
	store *store.Store
	bus   *pubsub.Local
	clock *testutil.DeterministicClock
	coord *Coordinator
	room  pubsub.Subscription
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	_, err = s.CreateList(ctx, model.ListInfo{ID: testList, Title: "Groceries", OwnerID: "alice"})
	require.NoError(t, err)
	require.NoError(t, s.AddMember(ctx, testList, "bob"))
	require.NoError(t, s.PutUser(ctx, model.User{ID: "alice", Name: "Alice"}))
	return s
}

// newFixture starts a coordinator over a fresh store, optionally wrapped, and
// subscribes to its room.
func newFixture(t *testing.T, wrap func(*store.Store) Storage, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		t:     t,
		store: openStore(t),
		bus:   pubsub.NewLocal(256, quietLogger()),
		clock: testutil.NewDeterministicClock(1_000, 1),
	}
	var storage Storage = f.store
	if wrap != nil {
		storage = wrap(f.store)
	}
	opts = append([]Option{WithWallClock(f.clock), WithLogger(quietLogger())}, opts...)
	f.coord = New(testList, storage, f.bus, opts...)

	room, err := f.bus.Subscribe(context.Background(), pubsub.Topic(testList))
	require.NoError(t, err)
	f.room = room

	ctx, cancel := context.WithCancel(context.Background())
	go f.coord.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-f.coord.Done()
		f.bus.Close()
	})
	return f
}

func (f *fixture) join(user, client string) JoinResult {
	f.t.Helper()
	res, err := f.coord.Join(context.Background(), JoinRequest{UserID: user, UserName: user, ClientID: client})
	require.NoError(f.t, err)
	f.expectEvent(wire.EventActiveUsersUpdate)
	return res
}

func (f *fixture) submit(op model.Operation) Outcome {
	f.t.Helper()
	out, err := f.coord.Submit(context.Background(), op)
	require.NoError(f.t, err)
	return out
}

func (f *fixture) products() []model.Product {
	f.t.Helper()
	state, err := f.store.ReadList(context.Background(), testList)
	require.NoError(f.t, err)
	return state.Products
}

// nextMessage waits for the next room message.
func (f *fixture) nextMessage() (pubsub.Message, wire.Envelope) {
	f.t.Helper()
	select {
	case msg := <-f.room.C():
		env, err := wire.Decode(msg.Payload)
		require.NoError(f.t, err)
		return msg, env
	case <-time.After(2 * time.Second):
		f.t.Fatal("timed out waiting for broadcast")
		return pubsub.Message{}, wire.Envelope{}
	}
}

// expectEvent waits for the next room message and checks its event name.
func (f *fixture) expectEvent(event string) wire.Envelope {
	f.t.Helper()
	_, env := f.nextMessage()
	require.Equal(f.t, event, env.Event)
	return env
}

func (f *fixture) expectNoEvent() {
	f.t.Helper()
	select {
	case msg := <-f.room.C():
		f.t.Fatalf("unexpected broadcast: %s", msg.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func decode[T any](t *testing.T, env wire.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func add(client, id, item string, qty int64) model.Operation {
	return model.Operation{
		Type:        model.OpAddItem,
		ClientID:    client,
		OperationID: id,
		Data:        model.OperationData{ItemCode: item, Name: item, Quantity: model.Int64(qty)},
	}
}

func remove(client, id, item string) model.Operation {
	return model.Operation{
		Type:        model.OpRemoveItem,
		ClientID:    client,
		OperationID: id,
		Data:        model.OperationData{ItemCode: item},
	}
}

func setQty(client, id, item string, qty int64) model.Operation {
	return model.Operation{
		Type:        model.OpUpdateQuantity,
		ClientID:    client,
		OperationID: id,
		Data:        model.OperationData{ItemCode: item, Quantity: model.Int64(qty)},
	}
}

func rename(client, id, title string) model.Operation {
	return model.Operation{
		Type:        model.OpUpdateTitle,
		ClientID:    client,
		OperationID: id,
		Data:        model.OperationData{Title: model.String(title)},
	}
}

// faultyStorage wraps a real store and injects failures.
type faultyStorage struct {
	*store.Store
	commitErr   error
	blockCommit bool
	readErr     error
}

func (s *faultyStorage) CommitOperation(ctx context.Context, c model.Commit) error {
	if s.blockCommit {
		<-ctx.Done()
		return ctx.Err()
	}
	if s.commitErr != nil {
		return s.commitErr
	}
	return s.Store.CommitOperation(ctx, c)
}

func (s *faultyStorage) ReadList(ctx context.Context, listID string) (model.ListState, error) {
	if s.readErr != nil {
		return model.ListState{}, s.readErr
	}
	return s.Store.ReadList(ctx, listID)
}
