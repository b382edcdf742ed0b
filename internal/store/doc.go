// Package store provides durable storage for a replica: the append-only
// bundle log, the per-actor vector clock and a cache of materialized rows.
//
// # Log
//
//   - Bundles are stored as their signed wire record, so a read returns
//     exactly the bytes that were verified on ingest
//   - Appends are idempotent on bundle ID
//   - Reads return bundles in canonical (hlc, bundle_id) order
//
// # Derived rows
//
// Entity and edge documents are canonical JSON written after each
// materialization. They are a cache: deleting them and replaying the log
// must reproduce them byte for byte.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// MemStore implements the same Storage interface in memory for tests and
// ephemeral peers.
package store
