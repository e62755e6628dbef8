// Package session implements the per-list coordinator: the single goroutine
// that owns a list's turn.
//
// Every operation for a list is processed by its Coordinator's Run loop, one
// at a time, in the order requests reached the queue. Timestamp assignment,
// logging, conflict resolution, apply and persistence all happen inside that
// turn, so two operations for one list are never interleaved. Coordinators
// for different lists share nothing and run in parallel.
//
// Thread-safety model:
//   - Join, Leave, Disconnect, Submit: safe from any goroutine; serialized
//     through the queue
//   - Typing, Cursor, Participants: safe from any goroutine; read the roster
//     without taking a turn
//   - Run: must be called from exactly one goroutine
//
// Submissions are detached from the caller: once queued, an operation is
// processed to completion even if the caller's context is cancelled.
package session
