package pgstore

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/listsync/internal/model"
)

// openTestStore connects to LISTSYNC_TEST_POSTGRES_DSN or skips.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("LISTSYNC_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LISTSYNC_TEST_POSTGRES_DSN not set")
	}
	s, err := Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// newListID returns a list id unique to this test run so tests can share a database.
func newListID() string {
	return "test-" + uuid.Must(uuid.NewV7()).String()
}

func addOp(listID, client, id, item string, qty, ts int64) model.Operation {
	return model.Operation{
		ListID:          listID,
		Type:            model.OpAddItem,
		ClientID:        client,
		OperationID:     id,
		UserID:          "alice",
		ServerTimestamp: ts,
		Data:            model.OperationData{ItemCode: item, Quantity: model.Int64(qty)},
	}
}

func TestOpen_Idempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, applySchema(context.Background(), s.pool))
}

func TestListLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	listID := newListID()

	created, err := s.CreateList(ctx, model.ListInfo{ID: listID, Title: "Groceries", OwnerID: "alice"})
	require.NoError(t, err)
	assert.True(t, created)

	ok, err := s.IsMember(ctx, listID, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.AddMember(ctx, listID, "bob"))
	ok, err = s.IsMember(ctx, listID, "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	err = s.AddMember(ctx, newListID(), "bob")
	assert.True(t, model.IsKind(err, model.KindUnknownList))
}

func TestAppendAndCommit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	listID := newListID()
	_, err := s.CreateList(ctx, model.ListInfo{ID: listID, Title: "Groceries", OwnerID: "alice"})
	require.NoError(t, err)

	op := addOp(listID, "c1", "o1", "A", 2, 1000)
	_, inserted, err := s.AppendOperation(ctx, op)
	require.NoError(t, err)
	assert.True(t, inserted)

	_, inserted, err = s.AppendOperation(ctx, op)
	require.NoError(t, err)
	assert.False(t, inserted)

	state, err := s.ReadList(ctx, listID)
	require.NoError(t, err)
	state.Products = append(state.Products, model.Product{ProductRef: "A", NumUnits: 2})
	entries := []model.EditLogEntry{{Action: model.ActionAdded, ProductRef: "A", ChangedBy: "alice", ServerTimestamp: 1000, OperationID: "o1"}}
	require.NoError(t, s.CommitOperation(ctx, model.Commit{State: state, Entries: entries, Applied: op}))

	got, err := s.ReadList(ctx, listID)
	require.NoError(t, err)
	assert.Equal(t, []model.Product{{ProductRef: "A", NumUnits: 2}}, got.Products)
	assert.Equal(t, entries, got.EditLog)

	applied, err := s.ReadAppliedSince(ctx, listID, 0)
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Equal(t, "o1", applied[0].OperationID)

	ts, err := s.LastTimestamp(ctx, listID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), ts)
}

func TestAppendOperation_ReclaimsFailed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	listID := newListID()
	_, err := s.CreateList(ctx, model.ListInfo{ID: listID, Title: "Groceries", OwnerID: "alice"})
	require.NoError(t, err)

	op := addOp(listID, "c1", "o1", "A", 1, 1000)
	_, _, err = s.AppendOperation(ctx, op)
	require.NoError(t, err)
	require.NoError(t, s.MarkOperation(ctx, listID, op.Ref(), model.StatusFailed, "timeout"))

	_, inserted, err := s.AppendOperation(ctx, op)
	require.NoError(t, err)
	assert.True(t, inserted)

	recs, err := s.ReadOperations(ctx, listID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.StatusPending, recs[0].Status)
}

func TestFailPending(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	listID := newListID()
	_, err := s.CreateList(ctx, model.ListInfo{ID: listID, Title: "Groceries", OwnerID: "alice"})
	require.NoError(t, err)

	op := addOp(listID, "c1", "o1", "A", 1, 1000)
	_, _, err = s.AppendOperation(ctx, op)
	require.NoError(t, err)

	n, err := s.FailPending(ctx, listID, "interrupted")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.FailPending(ctx, listID, "interrupted")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, inserted, err := s.AppendOperation(ctx, op)
	require.NoError(t, err)
	assert.True(t, inserted)
}
