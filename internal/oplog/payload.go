package oplog

import (
	"encoding/base64"
	"fmt"
	"slices"

	"github.com/wlococode/openprod-sub001/internal/ir"
)

// Kind is the name-based tag of a payload variant. Tags are strings on the
// wire so new variants can be added without renumbering.
type Kind string

const (
	KindCreateEntity      Kind = "create_entity"
	KindDeleteEntity      Kind = "delete_entity"
	KindAttachFacet       Kind = "attach_facet"
	KindDetachFacet       Kind = "detach_facet"
	KindRestoreFacet      Kind = "restore_facet"
	KindSetField          Kind = "set_field"
	KindClearField        Kind = "clear_field"
	KindApplyCRDT         Kind = "apply_crdt"
	KindResetCRDT         Kind = "reset_crdt"
	KindCreateEdge        Kind = "create_edge"
	KindDeleteEdge        Kind = "delete_edge"
	KindCreateOrderedEdge Kind = "create_ordered_edge"
	KindMoveOrderedEdge   Kind = "move_ordered_edge"
	KindMergeEntity       Kind = "merge_entity"
	KindSplitEntity       Kind = "split_entity"
)

// Refs lists the entities and edges an operation names directly.
type Refs struct {
	Entities []EntityID
	Edges    []EdgeID
}

// Payload is the tagged union carried by an Operation.
type Payload interface {
	Kind() Kind
	Refs() Refs
	fields() ir.IRObject
}

// CreateEntity brings a new entity into existence.
type CreateEntity struct {
	Entity EntityID
}

// DeleteEntity tombstones an entity and every edge touching it.
type DeleteEntity struct {
	Entity EntityID
}

// AttachFacet adds a facet to an entity.
type AttachFacet struct {
	Entity EntityID
	Facet  string
}

// DetachFacet removes a facet. With Preserve, the facet's field values are
// stashed and come back on RestoreFacet.
type DetachFacet struct {
	Entity   EntityID
	Facet    string
	Preserve bool
}

// RestoreFacet re-attaches a facet, restoring stashed values.
type RestoreFacet struct {
	Entity EntityID
	Facet  string
}

// SetField writes a scalar field.
type SetField struct {
	Entity EntityID
	Field  string
	Value  ir.IRValue
}

// ClearField removes a scalar field value.
type ClearField struct {
	Entity EntityID
	Field  string
}

// ApplyCRDT merges an opaque delta into a CRDT field.
type ApplyCRDT struct {
	Entity EntityID
	Field  string
	Delta  []byte
}

// ResetCRDT replaces a CRDT field's state wholesale.
type ResetCRDT struct {
	Entity EntityID
	Field  string
	State  []byte
}

// CreateEdge creates an unordered edge.
type CreateEdge struct {
	Edge   EdgeID
	Type   string
	Source EntityID
	Target EntityID
	Props  ir.IRObject
}

// DeleteEdge tombstones an edge.
type DeleteEdge struct {
	Edge EdgeID
}

// CreateOrderedEdge creates an edge carrying a fractional position among
// its siblings (same source and type).
type CreateOrderedEdge struct {
	Edge     EdgeID
	Type     string
	Source   EntityID
	Target   EntityID
	Props    ir.IRObject
	Position string
}

// MoveOrderedEdge assigns a new position to an ordered edge.
type MoveOrderedEdge struct {
	Edge     EdgeID
	Position string
}

// MergeEntity folds Absorbed into Survivor. Later operations addressed to
// Absorbed are redirected.
type MergeEntity struct {
	Survivor EntityID
	Absorbed EntityID
}

// SplitEntity creates Target and moves the listed fields and facets from
// Source to it.
type SplitEntity struct {
	Source EntityID
	Target EntityID
	Fields []string
	Facets []string
}

// Unknown carries a payload whose tag this build does not understand. It
// is stored and relayed so signatures stay valid, and ignored by replay.
type Unknown struct {
	Tag    Kind
	Values ir.IRObject
}

func (CreateEntity) Kind() Kind      { return KindCreateEntity }
func (DeleteEntity) Kind() Kind      { return KindDeleteEntity }
func (AttachFacet) Kind() Kind       { return KindAttachFacet }
func (DetachFacet) Kind() Kind       { return KindDetachFacet }
func (RestoreFacet) Kind() Kind      { return KindRestoreFacet }
func (SetField) Kind() Kind          { return KindSetField }
func (ClearField) Kind() Kind        { return KindClearField }
func (ApplyCRDT) Kind() Kind         { return KindApplyCRDT }
func (ResetCRDT) Kind() Kind         { return KindResetCRDT }
func (CreateEdge) Kind() Kind        { return KindCreateEdge }
func (DeleteEdge) Kind() Kind        { return KindDeleteEdge }
func (CreateOrderedEdge) Kind() Kind { return KindCreateOrderedEdge }
func (MoveOrderedEdge) Kind() Kind   { return KindMoveOrderedEdge }
func (MergeEntity) Kind() Kind       { return KindMergeEntity }
func (SplitEntity) Kind() Kind       { return KindSplitEntity }
func (u Unknown) Kind() Kind         { return u.Tag }

func entityRefs(ids ...EntityID) Refs { return Refs{Entities: ids} }

func (p CreateEntity) Refs() Refs    { return entityRefs(p.Entity) }
func (p DeleteEntity) Refs() Refs    { return entityRefs(p.Entity) }
func (p AttachFacet) Refs() Refs     { return entityRefs(p.Entity) }
func (p DetachFacet) Refs() Refs     { return entityRefs(p.Entity) }
func (p RestoreFacet) Refs() Refs    { return entityRefs(p.Entity) }
func (p SetField) Refs() Refs        { return entityRefs(p.Entity) }
func (p ClearField) Refs() Refs      { return entityRefs(p.Entity) }
func (p ApplyCRDT) Refs() Refs       { return entityRefs(p.Entity) }
func (p ResetCRDT) Refs() Refs       { return entityRefs(p.Entity) }
func (p MergeEntity) Refs() Refs     { return entityRefs(p.Survivor, p.Absorbed) }
func (p SplitEntity) Refs() Refs     { return entityRefs(p.Source, p.Target) }
func (p DeleteEdge) Refs() Refs      { return Refs{Edges: []EdgeID{p.Edge}} }
func (p MoveOrderedEdge) Refs() Refs { return Refs{Edges: []EdgeID{p.Edge}} }
func (Unknown) Refs() Refs           { return Refs{} }

func (p CreateEdge) Refs() Refs {
	return Refs{Entities: []EntityID{p.Source, p.Target}, Edges: []EdgeID{p.Edge}}
}

func (p CreateOrderedEdge) Refs() Refs {
	return Refs{Entities: []EntityID{p.Source, p.Target}, Edges: []EdgeID{p.Edge}}
}

func (p CreateEntity) fields() ir.IRObject {
	return ir.IRObject{"entity": ir.IRString(p.Entity)}
}

func (p DeleteEntity) fields() ir.IRObject {
	return ir.IRObject{"entity": ir.IRString(p.Entity)}
}

func (p AttachFacet) fields() ir.IRObject {
	return ir.IRObject{"entity": ir.IRString(p.Entity), "facet": ir.IRString(p.Facet)}
}

func (p DetachFacet) fields() ir.IRObject {
	return ir.IRObject{
		"entity":   ir.IRString(p.Entity),
		"facet":    ir.IRString(p.Facet),
		"preserve": ir.IRBool(p.Preserve),
	}
}

func (p RestoreFacet) fields() ir.IRObject {
	return ir.IRObject{"entity": ir.IRString(p.Entity), "facet": ir.IRString(p.Facet)}
}

func (p SetField) fields() ir.IRObject {
	return ir.IRObject{
		"entity": ir.IRString(p.Entity),
		"field":  ir.IRString(p.Field),
		"value":  p.Value,
	}
}

func (p ClearField) fields() ir.IRObject {
	return ir.IRObject{"entity": ir.IRString(p.Entity), "field": ir.IRString(p.Field)}
}

func (p ApplyCRDT) fields() ir.IRObject {
	return ir.IRObject{
		"entity": ir.IRString(p.Entity),
		"field":  ir.IRString(p.Field),
		"delta":  ir.IRString(base64.StdEncoding.EncodeToString(p.Delta)),
	}
}

func (p ResetCRDT) fields() ir.IRObject {
	return ir.IRObject{
		"entity": ir.IRString(p.Entity),
		"field":  ir.IRString(p.Field),
		"state":  ir.IRString(base64.StdEncoding.EncodeToString(p.State)),
	}
}

func (p CreateEdge) fields() ir.IRObject {
	return ir.IRObject{
		"edge":      ir.IRString(p.Edge),
		"edge_type": ir.IRString(p.Type),
		"source":    ir.IRString(p.Source),
		"target":    ir.IRString(p.Target),
		"props":     propsOrEmpty(p.Props),
	}
}

func (p DeleteEdge) fields() ir.IRObject {
	return ir.IRObject{"edge": ir.IRString(p.Edge)}
}

func (p CreateOrderedEdge) fields() ir.IRObject {
	return ir.IRObject{
		"edge":      ir.IRString(p.Edge),
		"edge_type": ir.IRString(p.Type),
		"source":    ir.IRString(p.Source),
		"target":    ir.IRString(p.Target),
		"props":     propsOrEmpty(p.Props),
		"position":  ir.IRString(p.Position),
	}
}

func (p MoveOrderedEdge) fields() ir.IRObject {
	return ir.IRObject{"edge": ir.IRString(p.Edge), "position": ir.IRString(p.Position)}
}

func (p MergeEntity) fields() ir.IRObject {
	return ir.IRObject{"survivor": ir.IRString(p.Survivor), "absorbed": ir.IRString(p.Absorbed)}
}

func (p SplitEntity) fields() ir.IRObject {
	return ir.IRObject{
		"source": ir.IRString(p.Source),
		"target": ir.IRString(p.Target),
		"fields": stringArray(p.Fields),
		"facets": stringArray(p.Facets),
	}
}

func (u Unknown) fields() ir.IRObject {
	out := make(ir.IRObject, len(u.Values))
	for k, v := range u.Values {
		out[k] = v
	}
	return out
}

func propsOrEmpty(p ir.IRObject) ir.IRObject {
	if p == nil {
		return ir.IRObject{}
	}
	return p
}

func stringArray(ss []string) ir.IRArray {
	sorted := slices.Clone(ss)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	arr := make(ir.IRArray, len(sorted))
	for i, s := range sorted {
		arr[i] = ir.IRString(s)
	}
	return arr
}

// EncodePayload renders p as canonical JSON: {"type": <tag>, ...fields}.
func EncodePayload(p Payload) ([]byte, error) {
	obj := p.fields()
	if _, taken := obj["type"]; taken {
		return nil, fmt.Errorf("payload %s: field name %q is reserved", p.Kind(), "type")
	}
	obj["type"] = ir.IRString(p.Kind())
	raw, err := ir.MarshalCanonical(obj)
	if err != nil {
		return nil, fmt.Errorf("encode payload %s: %w", p.Kind(), err)
	}
	return raw, nil
}

// DecodePayload parses canonical payload bytes. Unrecognised tags decode to
// Unknown. The input must already be in canonical form; anything else is
// rejected so that the signed bytes and the decoded value cannot disagree.
func DecodePayload(raw []byte) (Payload, error) {
	v, err := ir.UnmarshalIRValue(raw)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	obj, ok := v.(ir.IRObject)
	if !ok {
		return nil, fmt.Errorf("decode payload: want object, got %T", v)
	}
	tag, ok := obj["type"].(ir.IRString)
	if !ok || tag == "" {
		return nil, fmt.Errorf("decode payload: missing type tag")
	}
	delete(obj, "type")

	r := &fieldReader{obj: obj}
	var p Payload
	switch Kind(tag) {
	case KindCreateEntity:
		p = CreateEntity{Entity: r.entity("entity")}
	case KindDeleteEntity:
		p = DeleteEntity{Entity: r.entity("entity")}
	case KindAttachFacet:
		p = AttachFacet{Entity: r.entity("entity"), Facet: r.str("facet")}
	case KindDetachFacet:
		p = DetachFacet{Entity: r.entity("entity"), Facet: r.str("facet"), Preserve: r.boolean("preserve")}
	case KindRestoreFacet:
		p = RestoreFacet{Entity: r.entity("entity"), Facet: r.str("facet")}
	case KindSetField:
		p = SetField{Entity: r.entity("entity"), Field: r.str("field"), Value: r.value("value")}
	case KindClearField:
		p = ClearField{Entity: r.entity("entity"), Field: r.str("field")}
	case KindApplyCRDT:
		p = ApplyCRDT{Entity: r.entity("entity"), Field: r.str("field"), Delta: r.bytes("delta")}
	case KindResetCRDT:
		p = ResetCRDT{Entity: r.entity("entity"), Field: r.str("field"), State: r.bytes("state")}
	case KindCreateEdge:
		p = CreateEdge{
			Edge:   EdgeID(r.str("edge")),
			Type:   r.str("edge_type"),
			Source: r.entity("source"),
			Target: r.entity("target"),
			Props:  r.object("props"),
		}
	case KindDeleteEdge:
		p = DeleteEdge{Edge: EdgeID(r.str("edge"))}
	case KindCreateOrderedEdge:
		p = CreateOrderedEdge{
			Edge:     EdgeID(r.str("edge")),
			Type:     r.str("edge_type"),
			Source:   r.entity("source"),
			Target:   r.entity("target"),
			Props:    r.object("props"),
			Position: r.str("position"),
		}
	case KindMoveOrderedEdge:
		p = MoveOrderedEdge{Edge: EdgeID(r.str("edge")), Position: r.str("position")}
	case KindMergeEntity:
		p = MergeEntity{Survivor: r.entity("survivor"), Absorbed: r.entity("absorbed")}
	case KindSplitEntity:
		p = SplitEntity{
			Source: r.entity("source"),
			Target: r.entity("target"),
			Fields: r.strings("fields"),
			Facets: r.strings("facets"),
		}
	default:
		return Unknown{Tag: Kind(tag), Values: obj}, nil
	}
	if r.err != nil {
		return nil, fmt.Errorf("decode payload %s: %w", tag, r.err)
	}
	return p, nil
}

// fieldReader extracts typed fields, remembering the first error.
type fieldReader struct {
	obj ir.IRObject
	err error
}

func (r *fieldReader) fail(key, want string) {
	if r.err == nil {
		r.err = fmt.Errorf("field %q: want %s", key, want)
	}
}

func (r *fieldReader) str(key string) string {
	s, ok := r.obj[key].(ir.IRString)
	if !ok || s == "" {
		r.fail(key, "non-empty string")
		return ""
	}
	return string(s)
}

func (r *fieldReader) entity(key string) EntityID {
	return EntityID(r.str(key))
}

func (r *fieldReader) boolean(key string) bool {
	b, ok := r.obj[key].(ir.IRBool)
	if !ok {
		r.fail(key, "bool")
	}
	return bool(b)
}

func (r *fieldReader) value(key string) ir.IRValue {
	v, ok := r.obj[key]
	if !ok {
		r.fail(key, "value")
		return nil
	}
	return v
}

func (r *fieldReader) object(key string) ir.IRObject {
	o, ok := r.obj[key].(ir.IRObject)
	if !ok {
		r.fail(key, "object")
	}
	return o
}

func (r *fieldReader) bytes(key string) []byte {
	s, ok := r.obj[key].(ir.IRString)
	if !ok {
		r.fail(key, "base64 string")
		return nil
	}
	b, err := base64.StdEncoding.DecodeString(string(s))
	if err != nil {
		r.fail(key, "base64 string")
	}
	return b
}

func (r *fieldReader) strings(key string) []string {
	arr, ok := r.obj[key].(ir.IRArray)
	if !ok {
		r.fail(key, "array of strings")
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		s, ok := v.(ir.IRString)
		if !ok {
			r.fail(key, "array of strings")
			return nil
		}
		out = append(out, string(s))
	}
	return out
}
