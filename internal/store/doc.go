// Package store provides the local persistence adapter for actorsync.
//
// Mutations that are queued behind an in-flight write are stashed so that a
// restart (the analogue of a page reload) can recover them without losing
// or duplicating writes. The adapter is a pure side-effecting collaborator:
// it has no consistency obligation beyond best-effort durability.
//
// # Layers
//
//   - KV: a namespaced key-value interface (Get, Set, Remove)
//   - Store: SQLite-backed KV (WAL mode, single writer)
//   - Memory: in-memory KV for tests and ephemeral sessions
//   - MutationLog: per-kind lists of mutation records keyed by
//     namespace + kind name, layered over any KV
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
