package oplog

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wlococode/openprod-sub001/internal/hlc"
	"github.com/wlococode/openprod-sub001/internal/identity"
	"github.com/wlococode/openprod-sub001/internal/ir"
	"github.com/wlococode/openprod-sub001/internal/vclock"
)

func testKey(t *testing.T, b byte) *identity.Keypair {
	t.Helper()
	k, err := identity.FromSeed(bytes.Repeat([]byte{b}, 32))
	require.NoError(t, err)
	return k
}

func sealTestBundle(t *testing.T, k *identity.Keypair, payloads ...Payload) *Bundle {
	t.Helper()
	gen := NewSequentialGenerator(1, "t")
	drafts := make([]Draft, len(payloads))
	for i, p := range payloads {
		drafts[i] = Draft{ID: gen.NewOpID(), HLC: hlc.Timestamp{Wall: 1000, Counter: uint32(i)}, Payload: p}
	}
	b, err := Seal(k, BundleUserEdit, vclock.New(), drafts, nil)
	require.NoError(t, err)
	return b
}

func TestPayloadEncodingIsCanonicalAndReversible(t *testing.T) {
	payloads := []Payload{
		CreateEntity{Entity: "e1"},
		DeleteEntity{Entity: "e1"},
		AttachFacet{Entity: "e1", Facet: "task"},
		DetachFacet{Entity: "e1", Facet: "task", Preserve: true},
		RestoreFacet{Entity: "e1", Facet: "task"},
		SetField{Entity: "e1", Field: "title", Value: ir.IRString("Draft")},
		ClearField{Entity: "e1", Field: "title"},
		ApplyCRDT{Entity: "e1", Field: "body", Delta: []byte{1, 2, 3}},
		ResetCRDT{Entity: "e1", Field: "body", State: []byte("{}")},
		CreateEdge{Edge: "g1", Type: "ref", Source: "e1", Target: "e2", Props: ir.IRObject{"w": ir.IRInt(1)}},
		DeleteEdge{Edge: "g1"},
		CreateOrderedEdge{Edge: "g2", Type: "child", Source: "e1", Target: "e3", Props: ir.IRObject{}, Position: "V"},
		MoveOrderedEdge{Edge: "g2", Position: "k"},
		MergeEntity{Survivor: "e1", Absorbed: "e2"},
		SplitEntity{Source: "e1", Target: "e4", Fields: []string{"a", "b"}, Facets: []string{"task"}},
	}

	for _, p := range payloads {
		t.Run(string(p.Kind()), func(t *testing.T) {
			raw, err := EncodePayload(p)
			require.NoError(t, err)
			assert.Contains(t, string(raw), `"type":"`+string(p.Kind())+`"`)

			back, err := DecodePayload(raw)
			require.NoError(t, err)
			assert.Equal(t, p, back)
		})
	}
}

func TestDecodePayloadUnknownTagIsPreserved(t *testing.T) {
	raw := []byte(`{"entity":"e1","note":"x","type":"annotate_field"}`)
	p, err := DecodePayload(raw)
	require.NoError(t, err)

	u, ok := p.(Unknown)
	require.True(t, ok)
	assert.Equal(t, Kind("annotate_field"), u.Kind())
	assert.Empty(t, u.Refs().Entities)

	again, err := EncodePayload(u)
	require.NoError(t, err)
	assert.Equal(t, string(raw), string(again))
}

func TestDecodePayloadRejectsMissingFields(t *testing.T) {
	for _, raw := range []string{
		`{"type":"set_field","entity":"e1"}`,
		`{"type":"create_entity"}`,
		`{"type":"detach_facet","entity":"e1","facet":"f"}`,
		`{"entity":"e1"}`,
		`[1]`,
	} {
		_, err := DecodePayload([]byte(raw))
		assert.Error(t, err, raw)
	}
}

func TestSealProducesVerifiableBundle(t *testing.T) {
	k := testKey(t, 1)
	b := sealTestBundle(t, k,
		CreateEntity{Entity: "e1"},
		SetField{Entity: "e1", Field: "title", Value: ir.IRString("hello")},
		DeleteEntity{Entity: "e0"},
	)

	require.NoError(t, b.Verify(identity.Open{}, DefaultLimits))
	assert.Equal(t, []EntityID{"e1"}, b.Creates)
	assert.Equal(t, []EntityID{"e0"}, b.Deletes)
	assert.Equal(t, hlc.Timestamp{Wall: 1000, Counter: 2}, b.HLC)
	for _, op := range b.Operations {
		assert.Equal(t, b.ID, op.BundleID)
		assert.Equal(t, k.Actor(), op.Actor)
	}
}

func TestSealRejectsEmptyAndUnknownType(t *testing.T) {
	k := testKey(t, 1)
	_, err := Seal(k, BundleUserEdit, nil, nil, nil)
	assert.True(t, IsCode(err, CodeSchemaViolation))

	_, err = Seal(k, "bogus", nil, []Draft{{Payload: CreateEntity{Entity: "e"}}}, nil)
	assert.True(t, IsCode(err, CodeSchemaViolation))
}

func TestBundleWireRoundTrip(t *testing.T) {
	k := testKey(t, 2)
	b := sealTestBundle(t, k,
		CreateEntity{Entity: "e1"},
		ApplyCRDT{Entity: "e1", Field: "body", Delta: []byte(`{"ins":[]}`)},
	)
	b.Context = vclock.VectorClock{testKey(t, 3).Actor(): {Wall: 5}}
	b.Signature = k.Sign(b.SigningBytes())

	data := EncodeBundle(b)
	back, err := DecodeBundle(data, DefaultLimits)
	require.NoError(t, err)

	require.NoError(t, back.Verify(identity.Open{}, DefaultLimits))
	assert.Equal(t, b.ID, back.ID)
	assert.True(t, b.Context.Equal(back.Context))
	assert.Equal(t, data, EncodeBundle(back))

	opRec := AppendOperation(nil, b.Operations[1])
	op, err := DecodeOperation(opRec, DefaultLimits)
	require.NoError(t, err)
	assert.Equal(t, b.Operations[1].Payload, op.Payload)
}

func TestTamperedBundleIsRejected(t *testing.T) {
	k := testKey(t, 4)
	original := sealTestBundle(t, k,
		CreateEntity{Entity: "e1"},
		SetField{Entity: "e1", Field: "title", Value: ir.IRString("hello")},
	)
	data := EncodeBundle(original)

	// Flip one bit at every offset; each mutation must either fail to
	// decode or fail verification.
	for i := range data {
		mutated := bytes.Clone(data)
		mutated[i] ^= 0x01

		b, err := DecodeBundle(mutated, DefaultLimits)
		if err != nil {
			continue
		}
		err = b.Verify(identity.Open{}, DefaultLimits)
		require.Error(t, err, "bit flip at offset %d was accepted", i)
	}
}

func TestTamperedOperationFieldsAreRejected(t *testing.T) {
	k := testKey(t, 5)

	cases := map[string]func(b *Bundle){
		"payload": func(b *Bundle) {
			b.Operations[0].Raw = []byte(`{"entity":"e2","type":"create_entity"}`)
		},
		"op signature": func(b *Bundle) {
			b.Operations[0].Signature[0] ^= 0xff
		},
		"bundle signature": func(b *Bundle) {
			b.Signature[10] ^= 0xff
		},
		"hlc": func(b *Bundle) {
			b.Operations[0].HLC.Counter++
		},
		"foreign actor": func(b *Bundle) {
			b.Operations[0].Actor = testKey(t, 6).Actor()
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			b := sealTestBundle(t, k, CreateEntity{Entity: "e1"})
			mutate(b)
			err := b.Verify(identity.Open{}, DefaultLimits)
			require.Error(t, err)
			assert.Equal(t, CodeInvalidSignature, CodeOf(err))
		})
	}
}

func TestVerifyUnknownActor(t *testing.T) {
	k := testKey(t, 7)
	b := sealTestBundle(t, k, CreateEntity{Entity: "e1"})

	err := b.Verify(identity.NewKeyring(), DefaultLimits)
	assert.Equal(t, CodeUnknownActor, CodeOf(err))
	assert.True(t, errors.Is(err, identity.ErrUnknownActor))
}

func TestLimitsAreEnforced(t *testing.T) {
	k := testKey(t, 8)
	b := sealTestBundle(t, k, CreateEntity{Entity: "e1"}, CreateEntity{Entity: "e2"})

	tight := DefaultLimits
	tight.MaxOpsPerBundle = 1

	err := b.Verify(identity.Open{}, tight)
	assert.Equal(t, CodeSizeExceeded, CodeOf(err))

	_, err = DecodeBundle(EncodeBundle(b), tight)
	assert.Equal(t, CodeSizeExceeded, CodeOf(err))

	_, err = DecodeBundle(EncodeBundle(b)[:40], DefaultLimits)
	assert.Equal(t, CodeMalformed, CodeOf(err))
}

func TestDecodeRejectsNonCanonicalPayload(t *testing.T) {
	k := testKey(t, 9)
	b := sealTestBundle(t, k, CreateEntity{Entity: "e1"})
	op := b.Operations[0]
	op.Raw = []byte(`{"type":"create_entity","entity":"e1"}`)

	_, err := DecodeOperation(AppendOperation(nil, op), DefaultLimits)
	assert.Equal(t, CodeMalformed, CodeOf(err))
}

func TestCanonicalOrdering(t *testing.T) {
	a := &Operation{HLC: hlc.Timestamp{Wall: 1}, ID: OpID{2}}
	b := &Operation{HLC: hlc.Timestamp{Wall: 1}, ID: OpID{3}}
	c := &Operation{HLC: hlc.Timestamp{Wall: 0, Counter: 9}, ID: OpID{9}}

	ops := []*Operation{b, a, c}
	SortOps(ops)
	assert.Equal(t, []*Operation{c, a, b}, ops)
}

func TestErrorFormatting(t *testing.T) {
	err := Errorf(CodeEntityCollision, "entity %s exists", "e1").WithBundle(BundleID{1})
	assert.Contains(t, err.Error(), "ENTITY_COLLISION: entity e1 exists")
	assert.Contains(t, err.Error(), "bundle=01")

	wrapped := WrapError(CodeStorageFailure, errors.New("disk full"), "append")
	assert.ErrorContains(t, wrapped, "disk full")
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
}

func TestSequentialGeneratorsDoNotCollide(t *testing.T) {
	a := NewSequentialGenerator(1, "a")
	b := NewSequentialGenerator(2, "b")
	assert.NotEqual(t, a.NewOpID(), b.NewOpID())
	assert.Equal(t, EntityID("a-e2"), a.NewEntityID())
	assert.Equal(t, EdgeID("b-g2"), b.NewEdgeID())
}

func TestUUIDv7GeneratorIsTimeOrdered(t *testing.T) {
	var gen UUIDv7Generator
	first := gen.NewOpID()
	second := gen.NewOpID()
	assert.Equal(t, 7, int(first.Version()))
	assert.Negative(t, bytes.Compare(first[:], second[:]))
}
