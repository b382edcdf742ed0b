package oplog

import (
	"bytes"
	"slices"

	"github.com/wlococode/openprod-sub001/internal/hlc"
	"github.com/wlococode/openprod-sub001/internal/identity"
)

// FormatVersion is written as the first byte of every wire record.
const FormatVersion uint8 = 1

// Operation is one immutable, signed change. Raw holds the canonical
// payload bytes exactly as signed.
type Operation struct {
	ID        OpID
	Actor     identity.ActorID
	HLC       hlc.Timestamp
	BundleID  BundleID
	Payload   Payload
	Raw       []byte
	Signature []byte
}

// SigningBytes returns op_id ∥ actor_id ∥ hlc ∥ payload.
// The bundle ID is not covered: it is derived from the signed operations
// and bound by the bundle signature instead.
func (op *Operation) SigningBytes() []byte {
	b := make([]byte, 0, 16+identity.ActorIDSize+hlc.Size+len(op.Raw))
	b = append(b, op.ID[:]...)
	b = append(b, op.Actor[:]...)
	b = op.HLC.AppendBinary(b)
	return append(b, op.Raw...)
}

// Key returns the canonical ordering key.
func (op *Operation) Key() OrderKey {
	return OrderKey{HLC: op.HLC, ID: op.ID}
}

// OrderKey is the canonical (hlc, op_id) position of an operation.
type OrderKey struct {
	HLC hlc.Timestamp
	ID  OpID
}

// Compare orders keys by HLC then op ID bytes.
func (k OrderKey) Compare(o OrderKey) int {
	if c := k.HLC.Compare(o.HLC); c != 0 {
		return c
	}
	return bytes.Compare(k.ID[:], o.ID[:])
}

// CompareOps orders operations canonically.
func CompareOps(a, b *Operation) int {
	return a.Key().Compare(b.Key())
}

// SortOps sorts operations into canonical order in place.
func SortOps(ops []*Operation) {
	slices.SortFunc(ops, CompareOps)
}

// CompareBundles orders bundles by HLC then bundle ID. For bundles from a
// single actor this is authoring order.
func CompareBundles(a, b *Bundle) int {
	if c := a.HLC.Compare(b.HLC); c != 0 {
		return c
	}
	return bytes.Compare(a.ID[:], b.ID[:])
}

// SortBundles sorts bundles by CompareBundles in place.
func SortBundles(bs []*Bundle) {
	slices.SortFunc(bs, CompareBundles)
}
