// Package store provides SQLite-backed versioned record storage.
//
// Every resource owns one record table. A row is one version of a business
// record: its payload, content hash and validity interval. Writes never
// modify a payload in place:
//   - Upsert closes the open version of a key and inserts the new one
//   - Delete closes open versions without inserting anything
//   - A closed version is never touched again
//
// # Critical Patterns
//
// Temporal visibility:
//   - A version is visible at T iff created_at <= T AND (valid_to IS NULL OR valid_to > T)
//   - Timestamps are unix nanoseconds, strictly increasing per resource
//   - Per business key, intervals are contiguous and never overlap
//
// Latest flag:
//   - At most one row per business key has is_latest = 1 (partial UNIQUE index)
//   - The close of the old version carries an "is_latest = 1" guard; a lost
//     guard is retried from the read
//
// Deterministic reads:
//   - All row queries end with ORDER BY ... seq ASC
//   - Result-set hashes are computed over this order
//
// Schema generations:
//   - UpdateSchema closes the current field list and opens a new one, so
//     the schema visible at any past instant can be answered
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Payloads are stored as canonical JSON (internal/ir) and filtered with
// SQLite JSON1 through internal/querysql.
package store
