// Package store provides SQLite-backed durable key/value storage for trackq.
//
// Records live in named buckets. Each bucket is an ordered map from string
// key to opaque bytes:
//   - Put upserts; updating a key keeps its original position
//   - All returns a point-in-time snapshot, oldest first
//   - Clear removes a whole bucket in one statement
//
// # Critical Patterns
//
// Ordering uses seq INTEGER (AUTOINCREMENT), never timestamps. Sequence
// numbers are never reused, even after deletes, so a re-added key always
// sorts after everything already queued.
//
// Every record carries a SHA-256 checksum of bucket, key and data. A record
// that fails verification is logged and treated as absent rather than
// returned half-valid.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - single connection: SQLite has one writer, so the pool is capped at one
package store
