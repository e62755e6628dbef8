package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/listsync/internal/model"
	"github.com/roach88/listsync/internal/pubsub"
	"github.com/roach88/listsync/internal/session"
	"github.com/roach88/listsync/internal/store"
	"github.com/roach88/listsync/internal/testutil"
)

const seededList = "groceries"

// seedDatabase creates a database holding one list edited by two users:
// milk and eggs are added, milk is removed, and a concurrent quantity update
// to milk is cancelled. Final products: eggs x6.
func seedDatabase(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "listsync.db")

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.PutUser(ctx, model.User{ID: "alice", Name: "Alice"}))
	require.NoError(t, st.PutUser(ctx, model.User{ID: "bob", Name: "Bob"}))
	_, err = st.CreateList(ctx, model.ListInfo{ID: seededList, Title: "Groceries", OwnerID: "alice"})
	require.NoError(t, err)
	require.NoError(t, st.AddMember(ctx, seededList, "bob"))

	bus := pubsub.NewLocal(0, nil)
	defer bus.Close()
	coord := session.New(seededList, st, bus,
		session.WithWallClock(testutil.NewDeterministicClock(1000, 1)),
	)
	runCtx, cancel := context.WithCancel(ctx)
	go coord.Run(runCtx)
	defer func() {
		coord.Stop()
		<-coord.Done()
		cancel()
	}()

	_, err = coord.Join(ctx, session.JoinRequest{UserID: "alice", UserName: "Alice", ClientID: "c-alice"})
	require.NoError(t, err)
	_, err = coord.Join(ctx, session.JoinRequest{UserID: "bob", UserName: "Bob", ClientID: "c-bob"})
	require.NoError(t, err)

	submit := func(op model.Operation, want session.OutcomeStatus) {
		out, err := coord.Submit(ctx, op)
		require.NoError(t, err)
		require.Equal(t, want, out.Status, "operation %s", op.OperationID)
	}
	submit(model.Operation{
		Type: model.OpAddItem, ClientID: "c-alice", OperationID: "a1",
		Data:  model.OperationData{ItemCode: "milk", Quantity: model.Int64(2)},
		Clock: model.VectorClock{"c-alice": 1},
	}, session.OutcomeApplied)
	submit(model.Operation{
		Type: model.OpAddItem, ClientID: "c-alice", OperationID: "a2",
		Data:  model.OperationData{ItemCode: "eggs", Quantity: model.Int64(6)},
		Clock: model.VectorClock{"c-alice": 2},
	}, session.OutcomeApplied)
	submit(model.Operation{
		Type: model.OpRemoveItem, ClientID: "c-bob", OperationID: "b1",
		Data:  model.OperationData{ItemCode: "milk"},
		Clock: model.VectorClock{"c-alice": 1, "c-bob": 1},
	}, session.OutcomeApplied)
	submit(model.Operation{
		Type: model.OpUpdateQuantity, ClientID: "c-alice", OperationID: "a3",
		Data:  model.OperationData{ItemCode: "milk", Quantity: model.Int64(5)},
		Clock: model.VectorClock{"c-alice": 3},
	}, session.OutcomeCancelled)

	return dbPath
}

// execute runs cmd with args and returns its output.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
