// Package model provides the shared data types of the collaborative list core.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import model; model imports nothing internal. This keeps
// the operation and list-state vocabulary the foundational layer with no
// circular dependencies.
//
// Key design constraints:
//   - NO float types anywhere - quantities, positions and timestamps are int64
//   - ListState is a value type; Clone gives a fully independent copy
//   - Server timestamps are unix milliseconds assigned once, at acceptance
//   - All JSON tags use the camelCase names of the wire contract
package model
