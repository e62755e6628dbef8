// Package store provides SQLite-backed durable storage for listsync.
//
// The store holds:
//   - Users: the directory mapping user ids to display names
//   - Lists: current title and products of each list, plus its initial title
//   - Members: which users may join which lists
//   - Operations: append-only log of submitted operations and their outcome
//   - Edit log: human-readable history of effective changes
//
// # Idempotency
//
// UNIQUE(list_id, client_id, operation_id) on operations makes resubmission
// of the same operation a no-op. A row whose status is failed may be
// reclaimed by resubmitting it; every other status counts as a duplicate.
//
// # Ordering
//
// Operation and edit-log reads are ORDER BY seq ASC. The seq column is the
// durable log position and is the only ordering the store guarantees.
//
// # Atomicity
//
// CommitOperation writes the list state, the edit-log entries and the applied
// status in one transaction, so a crash never leaves a list whose stored
// state disagrees with its log.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
