// Package oplog defines the replicated operation log: signed operations,
// the bundles that carry them atomically, their binary wire records and
// the typed errors raised while verifying and admitting them.
//
// Canonical order over operations is (hlc, op_id). Every replica that
// replays the same operation set in canonical order derives identical state.
package oplog
