package pgstore

// Schema version tracking:
// 1 - Initial schema
const currentSchemaVersion = 1

// schemaStatements are executed in order on every Open. Each is idempotent.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS listsync_schema (
		version INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id   TEXT PRIMARY KEY,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS lists (
		id            TEXT PRIMARY KEY,
		title         TEXT NOT NULL,
		initial_title TEXT NOT NULL,
		owner_id      TEXT NOT NULL,
		products      TEXT NOT NULL DEFAULT '[]'
	)`,
	`CREATE TABLE IF NOT EXISTS list_members (
		list_id TEXT NOT NULL REFERENCES lists(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		PRIMARY KEY (list_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS operations (
		seq              BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		list_id          TEXT NOT NULL REFERENCES lists(id) ON DELETE CASCADE,
		client_id        TEXT NOT NULL,
		operation_id     TEXT NOT NULL,
		op_type          TEXT NOT NULL,
		server_timestamp BIGINT NOT NULL,
		status           TEXT NOT NULL DEFAULT 'pending'
		                 CHECK (status IN ('pending', 'applied', 'cancelled', 'failed')),
		reason           TEXT NOT NULL DEFAULT '',
		data             TEXT NOT NULL,
		applied_data     TEXT,
		UNIQUE (list_id, client_id, operation_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_operations_list_status_ts
		ON operations (list_id, status, server_timestamp)`,
	`CREATE TABLE IF NOT EXISTS edit_log (
		seq              BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		list_id          TEXT NOT NULL REFERENCES lists(id) ON DELETE CASCADE,
		action           TEXT NOT NULL,
		product          TEXT NOT NULL DEFAULT '',
		changed_by       TEXT NOT NULL,
		changed_by_name  TEXT NOT NULL DEFAULT '',
		server_timestamp BIGINT NOT NULL,
		operation_id     TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_edit_log_list ON edit_log (list_id, seq)`,
}
