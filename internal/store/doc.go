// Package store provides SQLite-backed persistence for merged kmeval
// datasets and evaluation runs.
//
// The store holds:
//   - Outcomes: one canonical outcome record per (subject, task, condition)
//   - Event logs: one validated-or-not event sequence per key, with events
//     stored in their merged timestamp order
//   - Task metadata: optimal time, maximum and optional passing score
//   - Runs: one row per evaluation, with its task results and omissions
//
// # Identity
//
// Rows carry the content hash computed by internal/ir. Writing a record
// whose key already exists is a no-op when the hash matches and an error
// when it differs, so re-importing the same merge output is idempotent and
// never silently replaces data.
//
// # Deterministic Reads
//
// Every query orders by key columns with COLLATE BINARY, and key-ordered
// reads are then sorted by ir.Key.Less, so two reads of the same database
// return identical slices in the order the rest of kmeval uses.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
