package oplog

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/wlococode/openprod-sub001/internal/hlc"
	"github.com/wlococode/openprod-sub001/internal/identity"
	"github.com/wlococode/openprod-sub001/internal/vclock"
)

// Limits bound what a decoder will accept from an untrusted peer.
type Limits struct {
	MaxOpsPerBundle int
	MaxPayloadSize  int
	MaxMetadataSize int
	MaxClockEntries int
}

// DefaultLimits are used when no explicit limits are configured.
var DefaultLimits = Limits{
	MaxOpsPerBundle: 10_000,
	MaxPayloadSize:  1 << 20,
	MaxMetadataSize: 64 << 10,
	MaxClockEntries: 100_000,
}

// AppendOperation appends the operation wire record:
// version ∥ op_id ∥ actor ∥ hlc ∥ bundle_id ∥ u32 len ∥ payload ∥ signature.
func AppendOperation(b []byte, op *Operation) []byte {
	b = append(b, FormatVersion)
	b = append(b, op.ID[:]...)
	b = append(b, op.Actor[:]...)
	b = op.HLC.AppendBinary(b)
	b = append(b, op.BundleID[:]...)
	b = binary.BigEndian.AppendUint32(b, uint32(len(op.Raw)))
	b = append(b, op.Raw...)
	return append(b, op.Signature...)
}

// DecodeOperation parses one operation record. The payload must be in
// canonical form.
func DecodeOperation(data []byte, limits Limits) (*Operation, error) {
	d := &decoder{buf: data}
	op := d.operation(limits)
	if d.err == nil && d.off != len(d.buf) {
		d.err = fmt.Errorf("%d trailing bytes", len(d.buf)-d.off)
	}
	if d.err != nil {
		return nil, d.wrap("operation")
	}
	return op, nil
}

// AppendBundle appends the bundle wire record. The signature is last.
func AppendBundle(b []byte, bundle *Bundle) []byte {
	b = appendBundleBody(b, bundle)
	return append(b, bundle.Signature...)
}

// EncodeBundle returns the bundle wire record.
func EncodeBundle(bundle *Bundle) []byte {
	return AppendBundle(nil, bundle)
}

func appendBundleBody(b []byte, bundle *Bundle) []byte {
	b = append(b, FormatVersion)
	b = append(b, bundle.ID[:]...)
	b = appendString(b, string(bundle.Type))
	b = append(b, bundle.Actor[:]...)
	b = bundle.HLC.AppendBinary(b)
	b = appendEntityList(b, bundle.Creates)
	b = appendEntityList(b, bundle.Deletes)
	b = bundle.Context.AppendBinary(b)
	b = binary.BigEndian.AppendUint32(b, uint32(len(bundle.Operations)))
	for _, op := range bundle.Operations {
		rec := AppendOperation(nil, op)
		b = binary.BigEndian.AppendUint32(b, uint32(len(rec)))
		b = append(b, rec...)
	}
	b = append(b, bundle.Checksum[:]...)
	b = binary.BigEndian.AppendUint32(b, uint32(len(bundle.Metadata)))
	return append(b, bundle.Metadata...)
}

// DecodeBundle parses a bundle record. It checks structure and limits
// only; call Verify before trusting the contents.
func DecodeBundle(data []byte, limits Limits) (*Bundle, error) {
	d := &decoder{buf: data}
	b := d.bundle(limits)
	if d.err == nil && d.off != len(d.buf) {
		d.err = fmt.Errorf("%d trailing bytes", len(d.buf)-d.off)
	}
	if d.err != nil {
		return nil, d.wrap("bundle")
	}
	return b, nil
}

func appendString(b []byte, s string) []byte {
	b = binary.BigEndian.AppendUint16(b, uint16(len(s)))
	return append(b, s...)
}

func appendEntityList(b []byte, ids []EntityID) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(ids)))
	for _, id := range ids {
		b = appendString(b, string(id))
	}
	return b
}

// decoder reads big-endian fields, remembering the first error. Every
// length is checked against the remaining input before allocating.
type decoder struct {
	buf    []byte
	off    int
	err    error
	tooBig bool
}

func (d *decoder) wrap(what string) error {
	code := CodeMalformed
	if d.tooBig {
		code = CodeSizeExceeded
	}
	return WrapError(code, d.err, "decode "+what)
}

func (d *decoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf(format, args...)
	}
}

func (d *decoder) limit(format string, args ...any) {
	if d.err == nil {
		d.tooBig = true
		d.err = fmt.Errorf(format, args...)
	}
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || len(d.buf)-d.off < n {
		d.fail("truncated: need %d bytes at offset %d", n, d.off)
		return nil
	}
	out := d.buf[d.off : d.off+n]
	d.off += n
	return out
}

func (d *decoder) u8() uint8 {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) u16() uint16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (d *decoder) u32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (d *decoder) str() string {
	return string(d.take(int(d.u16())))
}

func (d *decoder) hlc() hlc.Timestamp {
	b := d.take(hlc.Size)
	if b == nil {
		return hlc.Timestamp{}
	}
	ts, err := hlc.Decode(b)
	if err != nil {
		d.fail("%v", err)
	}
	return ts
}

func (d *decoder) actor() identity.ActorID {
	var a identity.ActorID
	copy(a[:], d.take(identity.ActorIDSize))
	return a
}

func (d *decoder) version() {
	if v := d.u8(); d.err == nil && v != FormatVersion {
		d.fail("unsupported record version %d", v)
	}
}

// count reads a u32 element count and checks it against maxN and against
// the minimum bytes each element needs.
func (d *decoder) count(maxN, minElem int, what string) int {
	n := int(d.u32())
	if d.err != nil {
		return 0
	}
	if maxN > 0 && n > maxN {
		d.limit("%s count %d exceeds limit %d", what, n, maxN)
		return 0
	}
	if n*minElem > len(d.buf)-d.off {
		d.fail("%s count %d exceeds remaining input", what, n)
		return 0
	}
	return n
}

func (d *decoder) operation(limits Limits) *Operation {
	d.version()
	op := &Operation{}
	copy(op.ID[:], d.take(16))
	op.Actor = d.actor()
	op.HLC = d.hlc()
	copy(op.BundleID[:], d.take(BundleIDSize))
	n := int(d.u32())
	if d.err == nil && limits.MaxPayloadSize > 0 && n > limits.MaxPayloadSize {
		d.limit("payload of %d bytes exceeds limit %d", n, limits.MaxPayloadSize)
	}
	op.Raw = bytes.Clone(d.take(n))
	op.Signature = bytes.Clone(d.take(identity.SignatureSize))
	if d.err != nil {
		return nil
	}

	p, err := DecodePayload(op.Raw)
	if err != nil {
		d.fail("%v", err)
		return nil
	}
	canonical, err := EncodePayload(p)
	if err != nil || !bytes.Equal(canonical, op.Raw) {
		d.fail("payload is not in canonical form")
		return nil
	}
	op.Payload = p
	return op
}

func (d *decoder) entityList(what string) []EntityID {
	n := d.count(0, 2, what)
	ids := make([]EntityID, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		ids = append(ids, EntityID(d.str()))
	}
	return ids
}

func (d *decoder) bundle(limits Limits) *Bundle {
	d.version()
	b := &Bundle{}
	copy(b.ID[:], d.take(BundleIDSize))
	b.Type = BundleType(d.str())
	b.Actor = d.actor()
	b.HLC = d.hlc()
	b.Creates = d.entityList("creates")
	b.Deletes = d.entityList("deletes")

	entries := d.count(limits.MaxClockEntries, vclock.EntrySize, "clock entry")
	b.Context = vclock.New()
	for i := 0; i < entries && d.err == nil; i++ {
		actor := d.actor()
		ts := d.hlc()
		b.Context[actor] = ts
	}

	nops := d.count(limits.MaxOpsPerBundle, 4, "operation")
	for i := 0; i < nops && d.err == nil; i++ {
		rec := d.take(int(d.u32()))
		if d.err != nil {
			break
		}
		sub := &decoder{buf: rec}
		op := sub.operation(limits)
		if sub.err == nil && sub.off != len(rec) {
			sub.fail("%d trailing bytes in operation %d", len(rec)-sub.off, i)
		}
		if sub.err != nil {
			d.err, d.tooBig = fmt.Errorf("operation %d: %w", i, sub.err), sub.tooBig
			break
		}
		b.Operations = append(b.Operations, op)
	}

	copy(b.Checksum[:], d.take(32))
	m := int(d.u32())
	if d.err == nil && limits.MaxMetadataSize > 0 && m > limits.MaxMetadataSize {
		d.limit("metadata of %d bytes exceeds limit %d", m, limits.MaxMetadataSize)
	}
	if meta := d.take(m); len(meta) > 0 {
		b.Metadata = bytes.Clone(meta)
	}
	b.Signature = bytes.Clone(d.take(identity.SignatureSize))
	if d.err != nil {
		return nil
	}
	if !b.Type.Valid() {
		d.fail("unknown bundle type %q", b.Type)
		return nil
	}
	return b
}
