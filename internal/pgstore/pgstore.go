// Package pgstore is the PostgreSQL storage backend. It implements the same
// contract as package store over a pgx connection pool, for deployments that
// share one database between server processes.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/listsync/internal/model"
)

// Store provides durable storage on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to the database at dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := applySchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func applySchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema: %w", err)
		}
	}

	var version int
	err := pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM listsync_schema`).Scan(&version)
	if err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}
	if version < currentSchemaVersion {
		if _, err := pool.Exec(ctx, `INSERT INTO listsync_schema (version) VALUES ($1)`, currentSchemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
	}
	return nil
}

func unknownList(listID, opID string) error {
	return model.NewError(model.KindUnknownList, "list %q not found", listID).For(listID, opID)
}

// PutUser inserts or renames a user in the directory.
func (s *Store) PutUser(ctx context.Context, u model.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name
	`, u.ID, u.Name)
	if err != nil {
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

// CreateList creates a list whose owner is its first member.
func (s *Store) CreateList(ctx context.Context, info model.ListInfo) (created bool, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("create list: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO lists (id, title, initial_title, owner_id, products)
		VALUES ($1, $2, $2, $3, '[]')
		ON CONFLICT (id) DO NOTHING
	`, info.ID, info.Title, info.OwnerID)
	if err != nil {
		return false, fmt.Errorf("create list: insert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO list_members (list_id, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, info.ID, info.OwnerID); err != nil {
		return false, fmt.Errorf("create list: add owner: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("create list: commit: %w", err)
	}
	return true, nil
}

// AddMember grants userID access to listID. Idempotent.
func (s *Store) AddMember(ctx context.Context, listID, userID string) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO list_members (list_id, user_id)
		SELECT id, $2 FROM lists WHERE id = $1
		ON CONFLICT DO NOTHING
	`, listID, userID)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.ReadListInfo(ctx, listID); err != nil {
			return err
		}
	}
	return nil
}

// AppendOperation records a submitted operation as pending. A failed row with
// the same identity is replaced; any other existing row makes this a no-op.
func (s *Store) AppendOperation(ctx context.Context, op model.Operation) (seq int64, inserted bool, err error) {
	data, err := model.MarshalCanonical(op)
	if err != nil {
		return 0, false, fmt.Errorf("append operation: marshal: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("append operation: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		DELETE FROM operations
		WHERE list_id = $1 AND client_id = $2 AND operation_id = $3 AND status = 'failed'
	`, op.ListID, op.ClientID, op.OperationID); err != nil {
		return 0, false, fmt.Errorf("append operation: reclaim failed: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO operations
		(list_id, client_id, operation_id, op_type, server_timestamp, status, data)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6)
		ON CONFLICT (list_id, client_id, operation_id) DO NOTHING
		RETURNING seq
	`,
		op.ListID,
		op.ClientID,
		op.OperationID,
		string(op.Type),
		op.ServerTimestamp,
		string(data),
	).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("append operation: insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, false, fmt.Errorf("append operation: commit: %w", err)
	}
	return seq, true, nil
}

// MarkOperation sets the terminal status of a pending operation that did not
// get applied.
func (s *Store) MarkOperation(ctx context.Context, listID string, ref model.Ref, status model.OpStatus, reason string) error {
	if status != model.StatusCancelled && status != model.StatusFailed {
		return fmt.Errorf("mark operation: invalid status %q", status)
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE operations SET status = $1, reason = $2
		WHERE list_id = $3 AND client_id = $4 AND operation_id = $5 AND status = 'pending'
	`, string(status), reason, listID, ref.ClientID, ref.OperationID)
	if err != nil {
		return fmt.Errorf("mark operation: %w", err)
	}
	return nil
}

// FailPending marks every pending operation of a list as failed and returns
// how many were marked.
func (s *Store) FailPending(ctx context.Context, listID, reason string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE operations SET status = 'failed', reason = $1
		WHERE list_id = $2 AND status = 'pending'
	`, reason, listID)
	if err != nil {
		return 0, fmt.Errorf("fail pending: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CommitOperation atomically persists the list state, the new edit-log
// entries and the applied form of the operation.
func (s *Store) CommitOperation(ctx context.Context, c model.Commit) error {
	products := c.State.Products
	if products == nil {
		products = []model.Product{}
	}
	productsJSON, err := model.MarshalCanonical(products)
	if err != nil {
		return fmt.Errorf("commit operation: marshal products: %w", err)
	}
	applied, err := model.MarshalCanonical(c.Applied)
	if err != nil {
		return fmt.Errorf("commit operation: marshal operation: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("commit operation: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE lists SET title = $1, products = $2 WHERE id = $3
	`, c.State.Title, string(productsJSON), c.State.ListID)
	if err != nil {
		return fmt.Errorf("commit operation: update list: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return unknownList(c.State.ListID, c.Applied.OperationID)
	}

	batch := &pgx.Batch{}
	for _, e := range c.Entries {
		batch.Queue(`
			INSERT INTO edit_log
			(list_id, action, product, changed_by, changed_by_name, server_timestamp, operation_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, c.State.ListID, e.Action, e.ProductRef, e.ChangedBy, e.ChangedByName, e.ServerTimestamp, e.OperationID)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("commit operation: write edit log: %w", err)
		}
	}

	tag, err = tx.Exec(ctx, `
		UPDATE operations SET status = 'applied', reason = '', applied_data = $1, server_timestamp = $2
		WHERE list_id = $3 AND client_id = $4 AND operation_id = $5
	`, string(applied), c.Applied.ServerTimestamp, c.State.ListID, c.Applied.ClientID, c.Applied.OperationID)
	if err != nil {
		return fmt.Errorf("commit operation: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("commit operation: %s/%s not logged", c.Applied.ClientID, c.Applied.OperationID)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit operation: commit: %w", err)
	}
	return nil
}

// IsMember reports whether userID may join listID.
func (s *Store) IsMember(ctx context.Context, listID, userID string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM list_members WHERE list_id = $1 AND user_id = $2)
	`, listID, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return ok, nil
}

// UserName returns the display name of userID.
func (s *Store) UserName(ctx context.Context, userID string) (name string, found bool, err error) {
	err = s.pool.QueryRow(ctx, `SELECT name FROM users WHERE id = $1`, userID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read user: %w", err)
	}
	return name, true, nil
}

// ReadListInfo returns the metadata of a list.
func (s *Store) ReadListInfo(ctx context.Context, listID string) (model.ListInfo, error) {
	var info model.ListInfo
	err := s.pool.QueryRow(ctx, `
		SELECT id, title, initial_title, owner_id FROM lists WHERE id = $1
	`, listID).Scan(&info.ID, &info.Title, &info.InitialTitle, &info.OwnerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ListInfo{}, unknownList(listID, "")
	}
	if err != nil {
		return model.ListInfo{}, fmt.Errorf("read list info: %w", err)
	}
	return info, nil
}

// ListIDs returns the ids of all stored lists in byte order.
func (s *Store) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM lists ORDER BY id COLLATE "C" ASC`)
	if err != nil {
		return nil, fmt.Errorf("query lists: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect lists: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// ReadList loads the current state of a list including its edit log.
func (s *Store) ReadList(ctx context.Context, listID string) (model.ListState, error) {
	var title, products string
	err := s.pool.QueryRow(ctx, `SELECT title, products FROM lists WHERE id = $1`, listID).Scan(&title, &products)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ListState{}, unknownList(listID, "")
	}
	if err != nil {
		return model.ListState{}, fmt.Errorf("read list: %w", err)
	}

	state := model.NewListState(listID, title)
	if err := json.Unmarshal([]byte(products), &state.Products); err != nil {
		return model.ListState{}, fmt.Errorf("read list: unmarshal products: %w", err)
	}
	if state.Products == nil {
		state.Products = []model.Product{}
	}

	state.EditLog, err = s.ReadEditLog(ctx, listID)
	if err != nil {
		return model.ListState{}, fmt.Errorf("read list: %w", err)
	}
	return state, nil
}

// ReadEditLog returns the edit log of a list ordered by seq.
func (s *Store) ReadEditLog(ctx context.Context, listID string) ([]model.EditLogEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT action, product, changed_by, changed_by_name, server_timestamp, operation_id
		FROM edit_log
		WHERE list_id = $1
		ORDER BY seq ASC
	`, listID)
	if err != nil {
		return nil, fmt.Errorf("query edit log: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.EditLogEntry, error) {
		var e model.EditLogEntry
		err := row.Scan(&e.Action, &e.ProductRef, &e.ChangedBy, &e.ChangedByName, &e.ServerTimestamp, &e.OperationID)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect edit log: %w", err)
	}
	if entries == nil {
		entries = []model.EditLogEntry{}
	}
	return entries, nil
}

// LastTimestamp returns the greatest server timestamp logged for a list.
func (s *Store) LastTimestamp(ctx context.Context, listID string) (int64, error) {
	var ts int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(server_timestamp), 0) FROM operations WHERE list_id = $1
	`, listID).Scan(&ts)
	if err != nil {
		return 0, fmt.Errorf("read last timestamp: %w", err)
	}
	return ts, nil
}

// ReadAppliedSince returns the applied operations of a list whose server
// timestamp is >= sinceMillis, ordered by seq.
func (s *Store) ReadAppliedSince(ctx context.Context, listID string, sinceMillis int64) ([]model.Operation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seq, applied_data
		FROM operations
		WHERE list_id = $1 AND status = 'applied' AND server_timestamp >= $2
		ORDER BY seq ASC
	`, listID, sinceMillis)
	if err != nil {
		return nil, fmt.Errorf("query applied operations: %w", err)
	}
	ops, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Operation, error) {
		var (
			seq  int64
			data string
			op   model.Operation
		)
		if err := row.Scan(&seq, &data); err != nil {
			return op, err
		}
		if err := json.Unmarshal([]byte(data), &op); err != nil {
			return op, fmt.Errorf("unmarshal operation: %w", err)
		}
		op.Seq = seq
		return op, nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect applied operations: %w", err)
	}
	if ops == nil {
		ops = []model.Operation{}
	}
	return ops, nil
}

// ReadOperations returns the full operation log of a list ordered by seq.
func (s *Store) ReadOperations(ctx context.Context, listID string) ([]model.OperationRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seq, status, reason, data, applied_data
		FROM operations
		WHERE list_id = $1
		ORDER BY seq ASC
	`, listID)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	recs, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("collect operations: %w", err)
	}
	if recs == nil {
		recs = []model.OperationRecord{}
	}
	return recs, nil
}

func scanRecord(row pgx.CollectableRow) (model.OperationRecord, error) {
	var (
		rec     model.OperationRecord
		status  string
		data    string
		applied *string
	)
	if err := row.Scan(&rec.Seq, &status, &rec.Reason, &data, &applied); err != nil {
		return rec, err
	}
	rec.Status = model.OpStatus(status)
	if err := json.Unmarshal([]byte(data), &rec.Submitted); err != nil {
		return rec, fmt.Errorf("unmarshal operation: %w", err)
	}
	rec.Submitted.Seq = rec.Seq
	if applied != nil {
		var op model.Operation
		if err := json.Unmarshal([]byte(*applied), &op); err != nil {
			return rec, fmt.Errorf("unmarshal applied operation: %w", err)
		}
		op.Seq = rec.Seq
		rec.Applied = &op
	}
	return rec, nil
}
