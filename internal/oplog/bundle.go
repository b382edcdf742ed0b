package oplog

import (
	"encoding/binary"
	"fmt"
	"slices"

	"golang.org/x/crypto/blake2b"

	"github.com/wlococode/openprod-sub001/internal/hlc"
	"github.com/wlococode/openprod-sub001/internal/identity"
	"github.com/wlococode/openprod-sub001/internal/ir"
	"github.com/wlococode/openprod-sub001/internal/vclock"
)

// BundleType tags the origin of a bundle.
type BundleType string

const (
	BundleUserEdit        BundleType = "user_edit"
	BundleScript          BundleType = "script"
	BundleImport          BundleType = "import"
	BundleMergeResolution BundleType = "merge_resolution"
	BundleRule            BundleType = "rule"
	BundleMigration       BundleType = "migration"
	BundleSystem          BundleType = "system"
)

// Valid reports whether t is a known bundle type.
func (t BundleType) Valid() bool {
	switch t {
	case BundleUserEdit, BundleScript, BundleImport, BundleMergeResolution,
		BundleRule, BundleMigration, BundleSystem:
		return true
	}
	return false
}

// Bundle is the atomic unit of replication: one or more operations by a
// single actor, accepted or rejected as a whole.
type Bundle struct {
	ID         BundleID
	Type       BundleType
	Actor      identity.ActorID
	HLC        hlc.Timestamp // max of the contained operations
	Creates    []EntityID
	Deletes    []EntityID
	Context    vclock.VectorClock // what the author had seen when authoring
	Operations []*Operation
	Checksum   [32]byte
	Metadata   []byte
	Signature  []byte
}

// Draft is an unsigned operation waiting to be sealed into a bundle.
type Draft struct {
	ID      OpID
	HLC     hlc.Timestamp
	Payload Payload
}

// Seal encodes, signs and assembles drafts into a bundle authored by k.
// Drafts must carry strictly increasing HLCs issued by k's clock.
func Seal(k *identity.Keypair, typ BundleType, causal vclock.VectorClock, drafts []Draft, metadata []byte) (*Bundle, error) {
	if len(drafts) == 0 {
		return nil, Errorf(CodeSchemaViolation, "bundle has no operations")
	}
	if !typ.Valid() {
		return nil, Errorf(CodeSchemaViolation, "unknown bundle type %q", typ)
	}

	ops := make([]*Operation, 0, len(drafts))
	for _, d := range drafts {
		raw, err := EncodePayload(d.Payload)
		if err != nil {
			return nil, WrapError(CodeSchemaViolation, err, "encode operation").WithOp(d.ID)
		}
		op := &Operation{ID: d.ID, Actor: k.Actor(), HLC: d.HLC, Payload: d.Payload, Raw: raw}
		op.Signature = k.Sign(op.SigningBytes())
		ops = append(ops, op)
	}

	b := &Bundle{
		Type:       typ,
		Actor:      k.Actor(),
		Context:    causal.Clone(),
		Operations: ops,
		Metadata:   metadata,
	}
	b.ID = ComputeBundleID(ops)
	for _, op := range ops {
		op.BundleID = b.ID
		b.HLC = hlc.Max(b.HLC, op.HLC)
	}
	b.Creates, b.Deletes = summarize(ops)
	b.Checksum = Checksum(ops)
	b.Signature = k.Sign(b.SigningBytes())
	return b, nil
}

// ComputeBundleID derives the bundle identity from its signed operations.
func ComputeBundleID(ops []*Operation) BundleID {
	buf := make([]byte, 0, len(ops)*(16+identity.SignatureSize))
	for _, op := range ops {
		buf = append(buf, op.ID[:]...)
		buf = append(buf, op.Signature...)
	}
	sum := ir.SumWithDomain(ir.DomainBundle, buf)
	var id BundleID
	copy(id[:], sum[:BundleIDSize])
	return id
}

// Checksum is BLAKE2b-256 over the length-prefixed payload bytes.
func Checksum(ops []*Operation) [32]byte {
	h, _ := blake2b.New256(nil)
	var n [4]byte
	for _, op := range ops {
		binary.BigEndian.PutUint32(n[:], uint32(len(op.Raw)))
		h.Write(n[:])
		h.Write(op.Raw)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// summarize lists the entity IDs the bundle creates and deletes.
func summarize(ops []*Operation) (creates, deletes []EntityID) {
	for _, op := range ops {
		switch p := op.Payload.(type) {
		case CreateEntity:
			creates = append(creates, p.Entity)
		case SplitEntity:
			creates = append(creates, p.Target)
		case DeleteEntity:
			deletes = append(deletes, p.Entity)
		}
	}
	return creates, deletes
}

// SigningBytes is the bundle wire record without its trailing signature.
func (b *Bundle) SigningBytes() []byte {
	return appendBundleBody(nil, b)
}

// Verify checks the bundle without touching any state. Pass one checks
// bundle integrity (checksum, content ID, summary, signature); pass two
// checks every operation signature and its binding to the bundle. Any
// failure rejects the whole bundle.
func (b *Bundle) Verify(p identity.Provider, limits Limits) error {
	if len(b.Operations) == 0 {
		return Errorf(CodeSchemaViolation, "bundle has no operations").WithBundle(b.ID)
	}
	if limits.MaxOpsPerBundle > 0 && len(b.Operations) > limits.MaxOpsPerBundle {
		return Errorf(CodeSizeExceeded, "bundle has %d operations, limit %d",
			len(b.Operations), limits.MaxOpsPerBundle).WithBundle(b.ID)
	}

	if Checksum(b.Operations) != b.Checksum {
		return Errorf(CodeInvalidSignature, "payload checksum mismatch").WithBundle(b.ID)
	}
	if ComputeBundleID(b.Operations) != b.ID {
		return Errorf(CodeInvalidSignature, "bundle id does not match operations").WithBundle(b.ID)
	}
	var maxHLC hlc.Timestamp
	for _, op := range b.Operations {
		maxHLC = hlc.Max(maxHLC, op.HLC)
	}
	if maxHLC != b.HLC {
		return Errorf(CodeInvalidSignature, "bundle hlc %s does not match operations %s", b.HLC, maxHLC).WithBundle(b.ID)
	}
	creates, deletes := summarize(b.Operations)
	if !slices.Equal(creates, b.Creates) || !slices.Equal(deletes, b.Deletes) {
		return Errorf(CodeInvalidSignature, "bundle entity summary does not match operations").WithBundle(b.ID)
	}
	if err := verifySig(p, b.Actor, b.SigningBytes(), b.Signature); err != nil {
		return err.WithBundle(b.ID)
	}

	seen := make(map[OpID]struct{}, len(b.Operations))
	for _, op := range b.Operations {
		if _, dup := seen[op.ID]; dup {
			return Errorf(CodeSchemaViolation, "operation repeated within bundle").WithBundle(b.ID).WithOp(op.ID)
		}
		seen[op.ID] = struct{}{}
		if op.Actor != b.Actor {
			return Errorf(CodeInvalidSignature, "operation actor differs from bundle actor").WithBundle(b.ID).WithOp(op.ID)
		}
		if op.BundleID != b.ID {
			return Errorf(CodeInvalidSignature, "operation names a different bundle").WithBundle(b.ID).WithOp(op.ID)
		}
		if err := verifySig(p, op.Actor, op.SigningBytes(), op.Signature); err != nil {
			return err.WithBundle(b.ID).WithOp(op.ID)
		}
	}
	return nil
}

func verifySig(p identity.Provider, actor identity.ActorID, msg, sig []byte) *Error {
	ok, err := identity.VerifyWith(p, actor, msg, sig)
	if err != nil {
		return WrapError(CodeUnknownActor, err, fmt.Sprintf("actor %s", actor.Short()))
	}
	if !ok {
		return Errorf(CodeInvalidSignature, "signature does not verify")
	}
	return nil
}
