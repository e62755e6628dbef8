package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/listsync/internal/model"
)

// IsMember reports whether userID may join listID.
func (s *Store) IsMember(ctx context.Context, listID, userID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM list_members WHERE list_id = ? AND user_id = ?
	`, listID, userID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return count > 0, nil
}

// UserName returns the display name of userID. found is false when the user
// is not in the directory.
func (s *Store) UserName(ctx context.Context, userID string) (name string, found bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT name FROM users WHERE id = ?`, userID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read user: %w", err)
	}
	return name, true, nil
}

// ReadListInfo returns the metadata of a list.
// Returns a model.Error of KindUnknownList if the list does not exist.
func (s *Store) ReadListInfo(ctx context.Context, listID string) (model.ListInfo, error) {
	var info model.ListInfo
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, initial_title, owner_id FROM lists WHERE id = ?
	`, listID).Scan(&info.ID, &info.Title, &info.InitialTitle, &info.OwnerID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ListInfo{}, model.NewError(model.KindUnknownList, "list %q not found", listID).For(listID, "")
	}
	if err != nil {
		return model.ListInfo{}, fmt.Errorf("read list info: %w", err)
	}
	return info, nil
}

// ListIDs returns the ids of all stored lists in byte order.
func (s *Store) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM lists ORDER BY id COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("query lists: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan list id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lists: %w", err)
	}
	return ids, nil
}

// ReadList loads the current state of a list including its edit log.
// Returns a model.Error of KindUnknownList if the list does not exist.
func (s *Store) ReadList(ctx context.Context, listID string) (model.ListState, error) {
	var title, products string
	err := s.db.QueryRowContext(ctx, `
		SELECT title, products FROM lists WHERE id = ?
	`, listID).Scan(&title, &products)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ListState{}, model.NewError(model.KindUnknownList, "list %q not found", listID).For(listID, "")
	}
	if err != nil {
		return model.ListState{}, fmt.Errorf("read list: %w", err)
	}

	state := model.NewListState(listID, title)
	state.Products, err = unmarshalProducts(products)
	if err != nil {
		return model.ListState{}, fmt.Errorf("read list: %w", err)
	}

	state.EditLog, err = s.ReadEditLog(ctx, listID)
	if err != nil {
		return model.ListState{}, fmt.Errorf("read list: %w", err)
	}
	return state, nil
}

// ReadEditLog returns the edit log of a list ordered by seq.
func (s *Store) ReadEditLog(ctx context.Context, listID string) ([]model.EditLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT action, product, changed_by, changed_by_name, server_timestamp, operation_id
		FROM edit_log
		WHERE list_id = ?
		ORDER BY seq ASC
	`, listID)
	if err != nil {
		return nil, fmt.Errorf("query edit log: %w", err)
	}
	defer rows.Close()

	entries := []model.EditLogEntry{}
	for rows.Next() {
		var e model.EditLogEntry
		if err := rows.Scan(&e.Action, &e.ProductRef, &e.ChangedBy, &e.ChangedByName, &e.ServerTimestamp, &e.OperationID); err != nil {
			return nil, fmt.Errorf("scan edit log: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edit log: %w", err)
	}
	return entries, nil
}

// LastTimestamp returns the greatest server timestamp logged for a list, or
// 0 if the log is empty.
func (s *Store) LastTimestamp(ctx context.Context, listID string) (int64, error) {
	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(server_timestamp) FROM operations WHERE list_id = ?
	`, listID).Scan(&ts)
	if err != nil {
		return 0, fmt.Errorf("read last timestamp: %w", err)
	}
	return ts.Int64, nil
}

// ReadAppliedSince returns the applied operations of a list whose server
// timestamp is >= sinceMillis, in their transformed form, ordered by seq.
func (s *Store) ReadAppliedSince(ctx context.Context, listID string, sinceMillis int64) ([]model.Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, applied_data
		FROM operations
		WHERE list_id = ? AND status = 'applied' AND server_timestamp >= ?
		ORDER BY seq ASC
	`, listID, sinceMillis)
	if err != nil {
		return nil, fmt.Errorf("query applied operations: %w", err)
	}
	defer rows.Close()

	ops := []model.Operation{}
	for rows.Next() {
		var seq int64
		var data string
		if err := rows.Scan(&seq, &data); err != nil {
			return nil, fmt.Errorf("scan applied operation: %w", err)
		}
		op, err := unmarshalOperation(data)
		if err != nil {
			return nil, err
		}
		op.Seq = seq
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied operations: %w", err)
	}
	return ops, nil
}

// ReadOperations returns the full operation log of a list ordered by seq.
func (s *Store) ReadOperations(ctx context.Context, listID string) ([]model.OperationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, status, reason, data, applied_data
		FROM operations
		WHERE list_id = ?
		ORDER BY seq ASC
	`, listID)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	records := []model.OperationRecord{}
	for rows.Next() {
		rec, err := scanOperationRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}
	return records, nil
}

func scanOperationRecord(rows *sql.Rows) (model.OperationRecord, error) {
	var (
		rec     model.OperationRecord
		status  string
		data    string
		applied sql.NullString
	)
	if err := rows.Scan(&rec.Seq, &status, &rec.Reason, &data, &applied); err != nil {
		return model.OperationRecord{}, fmt.Errorf("scan operation: %w", err)
	}
	rec.Status = model.OpStatus(status)

	op, err := unmarshalOperation(data)
	if err != nil {
		return model.OperationRecord{}, err
	}
	op.Seq = rec.Seq
	rec.Submitted = op

	if applied.Valid {
		aop, err := unmarshalOperation(applied.String)
		if err != nil {
			return model.OperationRecord{}, err
		}
		aop.Seq = rec.Seq
		rec.Applied = &aop
	}
	return rec, nil
}
