package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/listsync/internal/model"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedList creates a list owned by ownerID.
func seedList(t *testing.T, s *Store, listID, title, ownerID string) {
	t.Helper()
	if _, err := s.CreateList(context.Background(), model.ListInfo{ID: listID, Title: title, OwnerID: ownerID}); err != nil {
		t.Fatalf("CreateList() failed: %v", err)
	}
}

// createTestAdd creates an ADD_ITEM operation with the given identity.
func createTestAdd(listID, client, id, item string, qty, ts int64) model.Operation {
	return model.Operation{
		ListID:          listID,
		Type:            model.OpAddItem,
		ClientID:        client,
		OperationID:     id,
		UserID:          "alice",
		UserName:        "Alice",
		ServerTimestamp: ts,
		Data:            model.OperationData{ItemCode: item, Name: item, Quantity: model.Int64(qty)},
		Clock:           model.VectorClock{client: 1},
	}
}
