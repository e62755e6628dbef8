package store

import (
	"context"
	"fmt"

	"github.com/roach88/listsync/internal/model"
)

// PutUser inserts or renames a user in the directory.
func (s *Store) PutUser(ctx context.Context, u model.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, u.ID, u.Name)
	if err != nil {
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

// CreateList creates a list whose owner is its first member.
// Uses ON CONFLICT(id) DO NOTHING; created is false if the list already existed.
func (s *Store) CreateList(ctx context.Context, info model.ListInfo) (created bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("create list: begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO lists (id, title, initial_title, owner_id, products)
		VALUES (?, ?, ?, ?, '[]')
		ON CONFLICT(id) DO NOTHING
	`, info.ID, info.Title, info.Title, info.OwnerID)
	if err != nil {
		return false, fmt.Errorf("create list: insert: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create list: rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO list_members (list_id, user_id) VALUES (?, ?)
		ON CONFLICT DO NOTHING
	`, info.ID, info.OwnerID); err != nil {
		return false, fmt.Errorf("create list: add owner: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("create list: commit: %w", err)
	}
	return true, nil
}

// AddMember grants userID access to listID. Idempotent.
func (s *Store) AddMember(ctx context.Context, listID, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("add member: begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM lists WHERE id = ?`, listID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("add member: check list: %w", err)
	}
	if exists == 0 {
		return model.NewError(model.KindUnknownList, "list %q not found", listID).For(listID, "")
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO list_members (list_id, user_id) VALUES (?, ?)
		ON CONFLICT DO NOTHING
	`, listID, userID); err != nil {
		return fmt.Errorf("add member: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("add member: commit: %w", err)
	}
	return nil
}

// AppendOperation records a submitted operation as pending.
//
// Returns inserted=false when the (list, client, operation) identity is
// already logged with any status other than failed. A failed row is replaced
// so the operation takes a fresh log position.
func (s *Store) AppendOperation(ctx context.Context, op model.Operation) (seq int64, inserted bool, err error) {
	data, err := marshalOperation(op)
	if err != nil {
		return 0, false, fmt.Errorf("append operation: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("append operation: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM operations
		WHERE list_id = ? AND client_id = ? AND operation_id = ? AND status = 'failed'
	`, op.ListID, op.ClientID, op.OperationID); err != nil {
		return 0, false, fmt.Errorf("append operation: reclaim failed: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO operations
		(list_id, client_id, operation_id, op_type, server_timestamp, status, data)
		VALUES (?, ?, ?, ?, ?, 'pending', ?)
		ON CONFLICT(list_id, client_id, operation_id) DO NOTHING
	`,
		op.ListID,
		op.ClientID,
		op.OperationID,
		string(op.Type),
		op.ServerTimestamp,
		data,
	)
	if err != nil {
		return 0, false, fmt.Errorf("append operation: insert: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("append operation: rows affected: %w", err)
	}
	if n == 0 {
		return 0, false, nil
	}

	seq, err = result.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("append operation: last insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("append operation: commit: %w", err)
	}
	return seq, true, nil
}

// MarkOperation sets the terminal status of a logged operation that did not
// get applied (cancelled or failed).
func (s *Store) MarkOperation(ctx context.Context, listID string, ref model.Ref, status model.OpStatus, reason string) error {
	if status != model.StatusCancelled && status != model.StatusFailed {
		return fmt.Errorf("mark operation: invalid status %q", status)
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE operations SET status = ?, reason = ?
		WHERE list_id = ? AND client_id = ? AND operation_id = ? AND status = 'pending'
	`, string(status), reason, listID, ref.ClientID, ref.OperationID)
	if err != nil {
		return fmt.Errorf("mark operation: %w", err)
	}
	return nil
}

// FailPending marks every pending operation of a list as failed and returns
// how many were marked. A coordinator calls it before its first submission:
// rows still pending then were left by a run that stopped mid-operation, and
// failing them lets their clients resubmit.
func (s *Store) FailPending(ctx context.Context, listID, reason string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE operations SET status = 'failed', reason = ?
		WHERE list_id = ? AND status = 'pending'
	`, reason, listID)
	if err != nil {
		return 0, fmt.Errorf("fail pending: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("fail pending: rows affected: %w", err)
	}
	return n, nil
}

// CommitOperation atomically persists the list state, the new edit-log
// entries and the applied form of the operation.
func (s *Store) CommitOperation(ctx context.Context, c model.Commit) error {
	products, err := marshalProducts(c.State.Products)
	if err != nil {
		return fmt.Errorf("commit operation: %w", err)
	}
	applied, err := marshalOperation(c.Applied)
	if err != nil {
		return fmt.Errorf("commit operation: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("commit operation: begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE lists SET title = ?, products = ? WHERE id = ?
	`, c.State.Title, products, c.State.ListID)
	if err != nil {
		return fmt.Errorf("commit operation: update list: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("commit operation: rows affected: %w", err)
	}
	if n == 0 {
		return model.NewError(model.KindUnknownList, "list %q not found", c.State.ListID).
			For(c.State.ListID, c.Applied.OperationID)
	}

	for _, e := range c.Entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO edit_log
			(list_id, action, product, changed_by, changed_by_name, server_timestamp, operation_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			c.State.ListID,
			e.Action,
			e.ProductRef,
			e.ChangedBy,
			e.ChangedByName,
			e.ServerTimestamp,
			e.OperationID,
		); err != nil {
			return fmt.Errorf("commit operation: write edit log: %w", err)
		}
	}

	result, err = tx.ExecContext(ctx, `
		UPDATE operations SET status = 'applied', reason = '', applied_data = ?, server_timestamp = ?
		WHERE list_id = ? AND client_id = ? AND operation_id = ?
	`,
		applied,
		c.Applied.ServerTimestamp,
		c.State.ListID,
		c.Applied.ClientID,
		c.Applied.OperationID,
	)
	if err != nil {
		return fmt.Errorf("commit operation: update status: %w", err)
	}
	n, err = result.RowsAffected()
	if err != nil {
		return fmt.Errorf("commit operation: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("commit operation: %s/%s not logged", c.Applied.ClientID, c.Applied.OperationID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit operation: commit: %w", err)
	}
	return nil
}
