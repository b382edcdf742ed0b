// Package ir provides the constrained value model shared by every layer of
// the replica: field values, operation payloads and materialized state are all
// expressed as IRValue trees.
//
// Key constraints:
//   - No floats anywhere; numbers are int64
//   - Canonical JSON (RFC 8785) is the only encoding used for signing and hashing
//   - Strings are NFC normalized at the serialization boundary
//
// ir imports nothing internal.
package ir
