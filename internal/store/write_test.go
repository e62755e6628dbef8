package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/listsync/internal/model"
	"github.com/roach88/listsync/internal/transform"
)

func TestCreateList_OwnerIsMember(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	created, err := s.CreateList(ctx, model.ListInfo{ID: "L1", Title: "Groceries", OwnerID: "alice"})
	require.NoError(t, err)
	assert.True(t, created)

	ok, err := s.IsMember(ctx, "L1", "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	created, err = s.CreateList(ctx, model.ListInfo{ID: "L1", Title: "Other", OwnerID: "bob"})
	require.NoError(t, err)
	assert.False(t, created, "second create is a no-op")

	info, err := s.ReadListInfo(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, "Groceries", info.Title)
	assert.Equal(t, "Groceries", info.InitialTitle)
	assert.Equal(t, "alice", info.OwnerID)
}

func TestAddMember(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedList(t, s, "L1", "Groceries", "alice")

	ok, err := s.IsMember(ctx, "L1", "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.AddMember(ctx, "L1", "bob"))
	require.NoError(t, s.AddMember(ctx, "L1", "bob"), "idempotent")

	ok, err = s.IsMember(ctx, "L1", "bob")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAddMember_UnknownList(t *testing.T) {
	s := createTestStore(t)
	err := s.AddMember(context.Background(), "nope", "bob")
	assert.True(t, model.IsKind(err, model.KindUnknownList))
}

func TestPutUser_Upserts(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutUser(ctx, model.User{ID: "u1", Name: "Ana"}))
	require.NoError(t, s.PutUser(ctx, model.User{ID: "u1", Name: "Ana B."}))

	name, found, err := s.UserName(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Ana B.", name)

	_, found, err = s.UserName(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAppendOperation_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedList(t, s, "L1", "Groceries", "alice")

	op := createTestAdd("L1", "c1", "o1", "A", 1, 1000)

	seq, inserted, err := s.AppendOperation(ctx, op)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Positive(t, seq)

	_, inserted, err = s.AppendOperation(ctx, op)
	require.NoError(t, err)
	assert.False(t, inserted)

	recs, err := s.ReadOperations(ctx, "L1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.StatusPending, recs[0].Status)
	assert.Equal(t, "o1", recs[0].Submitted.OperationID)
	assert.Nil(t, recs[0].Applied)
}

func TestAppendOperation_SameIdDifferentClient(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedList(t, s, "L1", "Groceries", "alice")

	_, inserted, err := s.AppendOperation(ctx, createTestAdd("L1", "c1", "o1", "A", 1, 1000))
	require.NoError(t, err)
	assert.True(t, inserted)

	_, inserted, err = s.AppendOperation(ctx, createTestAdd("L1", "c2", "o1", "A", 1, 1001))
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestAppendOperation_ReclaimsFailed(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedList(t, s, "L1", "Groceries", "alice")

	op := createTestAdd("L1", "c1", "o1", "A", 1, 1000)
	first, _, err := s.AppendOperation(ctx, op)
	require.NoError(t, err)
	require.NoError(t, s.MarkOperation(ctx, "L1", op.Ref(), model.StatusFailed, "timeout"))

	op.ServerTimestamp = 2000
	second, inserted, err := s.AppendOperation(ctx, op)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Greater(t, second, first)

	recs, err := s.ReadOperations(ctx, "L1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.StatusPending, recs[0].Status)
	assert.Equal(t, int64(2000), recs[0].Submitted.ServerTimestamp)
}

func TestAppendOperation_CancelledIsNotReclaimed(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedList(t, s, "L1", "Groceries", "alice")

	op := createTestAdd("L1", "c1", "o1", "A", 1, 1000)
	_, _, err := s.AppendOperation(ctx, op)
	require.NoError(t, err)
	require.NoError(t, s.MarkOperation(ctx, "L1", op.Ref(), model.StatusCancelled, "item removed concurrently"))

	_, inserted, err := s.AppendOperation(ctx, op)
	require.NoError(t, err)
	assert.False(t, inserted)

	recs, err := s.ReadOperations(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, recs[0].Status)
	assert.Equal(t, "item removed concurrently", recs[0].Reason)
}

func TestMarkOperation_RejectsApplied(t *testing.T) {
	s := createTestStore(t)
	err := s.MarkOperation(context.Background(), "L1", model.Ref{ClientID: "c1", OperationID: "o1"}, model.StatusApplied, "")
	assert.Error(t, err)
}

func TestCommitOperation_PersistsStateLogAndStatus(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedList(t, s, "L1", "Groceries", "alice")

	op := createTestAdd("L1", "c1", "o1", "A", 2, 1000)
	_, _, err := s.AppendOperation(ctx, op)
	require.NoError(t, err)

	before, err := s.ReadList(ctx, "L1")
	require.NoError(t, err)
	after, err := transform.Apply(before, op)
	require.NoError(t, err)

	require.NoError(t, s.CommitOperation(ctx, model.Commit{
		State:   after,
		Entries: transform.NewEntries(before, after),
		Applied: op,
	}))

	got, err := s.ReadList(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, []model.Product{{ProductRef: "A", NumUnits: 2}}, got.Products)
	require.Len(t, got.EditLog, 1)
	assert.Equal(t, model.ActionAdded, got.EditLog[0].Action)
	assert.Equal(t, "alice", got.EditLog[0].ChangedBy)
	assert.Equal(t, "o1", got.EditLog[0].OperationID)

	recs, err := s.ReadOperations(ctx, "L1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.StatusApplied, recs[0].Status)
	require.NotNil(t, recs[0].Applied)
	assert.Equal(t, int64(2), recs[0].Applied.Quantity())
}

func TestCommitOperation_UnknownListRollsBack(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	state := model.NewListState("ghost", "x")
	err := s.CommitOperation(ctx, model.Commit{
		State:   state,
		Entries: []model.EditLogEntry{{Action: model.ActionAdded, ProductRef: "A"}},
		Applied: createTestAdd("ghost", "c1", "o1", "A", 1, 1),
	})
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindUnknownList))

	entries, err := s.ReadEditLog(ctx, "ghost")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCommitOperation_UnloggedOperationRollsBack(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedList(t, s, "L1", "Groceries", "alice")

	before, err := s.ReadList(ctx, "L1")
	require.NoError(t, err)
	op := createTestAdd("L1", "c1", "never-appended", "A", 1, 1000)
	after, err := transform.Apply(before, op)
	require.NoError(t, err)

	err = s.CommitOperation(ctx, model.Commit{State: after, Entries: transform.NewEntries(before, after), Applied: op})
	require.Error(t, err)

	got, err := s.ReadList(ctx, "L1")
	require.NoError(t, err)
	assert.Empty(t, got.Products, "state update rolled back with the failed status update")
	assert.Empty(t, got.EditLog)
}

func TestFailPending_OnlyPendingRowsOfList(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedList(t, s, "L1", "Groceries", "alice")
	seedList(t, s, "L2", "Hardware", "alice")

	left := createTestAdd("L1", "c1", "o1", "A", 1, 1000)
	cancelled := createTestAdd("L1", "c1", "o2", "B", 1, 1001)
	other := createTestAdd("L2", "c1", "o1", "A", 1, 1002)
	for _, op := range []model.Operation{left, cancelled, other} {
		_, _, err := s.AppendOperation(ctx, op)
		require.NoError(t, err)
	}
	require.NoError(t, s.MarkOperation(ctx, "L1", cancelled.Ref(), model.StatusCancelled, "item removed concurrently"))

	n, err := s.FailPending(ctx, "L1", "interrupted")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	recs, err := s.ReadOperations(ctx, "L1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, model.StatusFailed, recs[0].Status)
	assert.Equal(t, "interrupted", recs[0].Reason)
	assert.Equal(t, model.StatusCancelled, recs[1].Status)

	recs, err = s.ReadOperations(ctx, "L2")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, recs[0].Status)

	// The failed row is reclaimable.
	_, inserted, err := s.AppendOperation(ctx, left)
	require.NoError(t, err)
	assert.True(t, inserted)
}
