package replica

import (
	"context"
	"fmt"
	"slices"

	"github.com/wlococode/openprod-sub001/internal/crdt"
	"github.com/wlococode/openprod-sub001/internal/ir"
	"github.com/wlococode/openprod-sub001/internal/oplog"
	"github.com/wlococode/openprod-sub001/internal/position"
)

// Placement says where a new or moved ordered edge goes among its
// siblings. The zero value appends at the end.
type Placement struct {
	After  oplog.EdgeID
	Before oplog.EdgeID
}

// Builder collects the operations of one bundle. Operation IDs are fixed
// as operations are added; HLCs are issued at Commit so they rank after
// everything the replica has seen by then.
//
// A Builder is not safe for concurrent use.
type Builder struct {
	r        *Replica
	typ      oplog.BundleType
	metadata []byte
	drafts   []oplog.Draft
	err      error

	crdtState map[crdtKey][]byte
	edges     map[oplog.EdgeID]*pendingEdge
}

type crdtKey struct {
	entity oplog.EntityID
	field  string
}

type pendingEdge struct {
	source   oplog.EntityID
	typ      string
	position string
	deleted  bool
}

// NewBuilder starts a bundle of the given type.
func (r *Replica) NewBuilder(typ oplog.BundleType) *Builder {
	return &Builder{
		r:         r,
		typ:       typ,
		crdtState: make(map[crdtKey][]byte),
		edges:     make(map[oplog.EdgeID]*pendingEdge),
	}
}

// Len returns the number of operations added so far.
func (b *Builder) Len() int {
	return len(b.drafts)
}

// Err returns the first error recorded by a helper.
func (b *Builder) Err() error {
	return b.err
}

// SetMetadata attaches opaque metadata to the bundle.
func (b *Builder) SetMetadata(meta []byte) *Builder {
	b.metadata = slices.Clone(meta)
	return b
}

// Add appends a raw payload and returns its operation ID.
func (b *Builder) Add(p oplog.Payload) oplog.OpID {
	id := b.r.ids.NewOpID()
	b.drafts = append(b.drafts, oplog.Draft{ID: id, Payload: p})
	return id
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// CreateEntity adds a new entity with a generated ID.
func (b *Builder) CreateEntity() oplog.EntityID {
	id := b.r.ids.NewEntityID()
	b.Add(oplog.CreateEntity{Entity: id})
	return id
}

// CreateEntityWithID adds a new entity with a caller-chosen ID.
func (b *Builder) CreateEntityWithID(id oplog.EntityID) *Builder {
	b.Add(oplog.CreateEntity{Entity: id})
	return b
}

// DeleteEntity tombstones an entity.
func (b *Builder) DeleteEntity(id oplog.EntityID) *Builder {
	b.Add(oplog.DeleteEntity{Entity: id})
	return b
}

// SetField writes a scalar field.
func (b *Builder) SetField(id oplog.EntityID, field string, value ir.IRValue) *Builder {
	b.Add(oplog.SetField{Entity: id, Field: field, Value: value})
	return b
}

// ClearField clears a scalar field.
func (b *Builder) ClearField(id oplog.EntityID, field string) *Builder {
	b.Add(oplog.ClearField{Entity: id, Field: field})
	return b
}

// AttachFacet attaches a facet.
func (b *Builder) AttachFacet(id oplog.EntityID, facet string) *Builder {
	b.Add(oplog.AttachFacet{Entity: id, Facet: facet})
	return b
}

// DetachFacet detaches a facet, optionally stashing its fields.
func (b *Builder) DetachFacet(id oplog.EntityID, facet string, preserve bool) *Builder {
	b.Add(oplog.DetachFacet{Entity: id, Facet: facet, Preserve: preserve})
	return b
}

// RestoreFacet re-attaches a facet with its stashed fields.
func (b *Builder) RestoreFacet(id oplog.EntityID, facet string) *Builder {
	b.Add(oplog.RestoreFacet{Entity: id, Facet: facet})
	return b
}

// Merge folds absorbed into survivor.
func (b *Builder) Merge(survivor, absorbed oplog.EntityID) *Builder {
	b.Add(oplog.MergeEntity{Survivor: survivor, Absorbed: absorbed})
	return b
}

// Split moves fields and facets of source to a new entity and returns its
// ID.
func (b *Builder) Split(source oplog.EntityID, fields, facets []string) oplog.EntityID {
	target := b.r.ids.NewEntityID()
	b.Add(oplog.SplitEntity{Source: source, Target: target, Fields: fields, Facets: facets})
	return target
}

// InsertText inserts text at rune index idx of a text field.
func (b *Builder) InsertText(id oplog.EntityID, field string, idx int, text string) *Builder {
	return b.editCRDT(id, field, func(state []byte, opID string) ([]byte, error) {
		return crdt.InsertText(state, idx, text, opID)
	})
}

// DeleteText removes n runes starting at idx.
func (b *Builder) DeleteText(id oplog.EntityID, field string, idx, n int) *Builder {
	return b.editCRDT(id, field, func(state []byte, _ string) ([]byte, error) {
		return crdt.DeleteRange(state, idx, n)
	})
}

// AppendList appends values to a list field.
func (b *Builder) AppendList(id oplog.EntityID, field string, values ...ir.IRValue) *Builder {
	return b.editCRDT(id, field, func(state []byte, opID string) ([]byte, error) {
		seq, err := crdt.DecodeSequence(state)
		if err != nil {
			return nil, err
		}
		return crdt.InsertValues(state, len(seq.Elements), values, opID)
	})
}

// RemoveList removes n list items starting at idx.
func (b *Builder) RemoveList(id oplog.EntityID, field string, idx, n int) *Builder {
	return b.editCRDT(id, field, func(state []byte, _ string) ([]byte, error) {
		return crdt.DeleteRange(state, idx, n)
	})
}

// ResetCRDT replaces a CRDT field's state; nil resets it to empty.
func (b *Builder) ResetCRDT(id oplog.EntityID, field string, state []byte) *Builder {
	b.Add(oplog.ResetCRDT{Entity: id, Field: field, State: state})
	b.crdtState[crdtKey{id, field}] = slices.Clone(state)
	return b
}

// editCRDT computes a delta against the field's current state plus
// anything already pending in this builder.
func (b *Builder) editCRDT(id oplog.EntityID, field string, delta func(state []byte, opID string) ([]byte, error)) *Builder {
	key := crdtKey{id, field}
	state, pending := b.crdtState[key]
	adapter, err := b.adapter(id, field)
	if err != nil {
		b.fail(err)
		return b
	}
	if !pending {
		b.r.mu.Lock()
		state, _, _ = b.r.mat.CRDTState(id, field)
		b.r.mu.Unlock()
	}
	if len(state) == 0 {
		state = adapter.Init()
	}

	opID := b.r.ids.NewOpID()
	d, err := delta(state, opID.String())
	if err != nil {
		b.fail(fmt.Errorf("%s.%s: %w", id, field, err))
		return b
	}
	next, err := adapter.Merge(state, d)
	if err != nil {
		b.fail(fmt.Errorf("%s.%s: %w", id, field, err))
		return b
	}
	b.crdtState[key] = next
	b.drafts = append(b.drafts, oplog.Draft{ID: opID, Payload: oplog.ApplyCRDT{Entity: id, Field: field, Delta: d}})
	return b
}

func (b *Builder) adapter(id oplog.EntityID, field string) (crdt.Adapter, error) {
	b.r.mu.Lock()
	defer b.r.mu.Unlock()
	_, kind, ok := b.r.mat.CRDTState(id, field)
	if !ok {
		return nil, fmt.Errorf("%s.%s is not a crdt field", id, field)
	}
	return b.r.mat.CRDTs().Lookup(kind)
}

// CreateEdge adds an unordered edge and returns its ID.
func (b *Builder) CreateEdge(edgeType string, source, target oplog.EntityID, props ir.IRObject) oplog.EdgeID {
	id := b.r.ids.NewEdgeID()
	b.Add(oplog.CreateEdge{Edge: id, Type: edgeType, Source: source, Target: target, Props: props})
	return id
}

// CreateOrderedEdge adds an ordered edge at the given placement and
// returns its ID.
func (b *Builder) CreateOrderedEdge(edgeType string, source, target oplog.EntityID, props ir.IRObject, at Placement) oplog.EdgeID {
	id := b.r.ids.NewEdgeID()
	pos, err := b.place(source, edgeType, "", at)
	if err != nil {
		b.fail(err)
		return id
	}
	b.Add(oplog.CreateOrderedEdge{Edge: id, Type: edgeType, Source: source, Target: target, Props: props, Position: pos})
	b.edges[id] = &pendingEdge{source: source, typ: edgeType, position: pos}
	return id
}

// MoveOrderedEdge moves an existing ordered edge.
func (b *Builder) MoveOrderedEdge(id oplog.EdgeID, at Placement) *Builder {
	source, typ, ok := b.edgeHome(id)
	if !ok {
		b.fail(fmt.Errorf("edge %s is not a live ordered edge", id))
		return b
	}
	pos, err := b.place(source, typ, id, at)
	if err != nil {
		b.fail(err)
		return b
	}
	b.Add(oplog.MoveOrderedEdge{Edge: id, Position: pos})
	if pe, ok := b.edges[id]; ok {
		pe.position = pos
	} else {
		b.edges[id] = &pendingEdge{source: source, typ: typ, position: pos}
	}
	return b
}

// DeleteEdge tombstones an edge.
func (b *Builder) DeleteEdge(id oplog.EdgeID) *Builder {
	b.Add(oplog.DeleteEdge{Edge: id})
	if pe, ok := b.edges[id]; ok {
		pe.deleted = true
	}
	return b
}

func (b *Builder) edgeHome(id oplog.EdgeID) (oplog.EntityID, string, bool) {
	if pe, ok := b.edges[id]; ok {
		return pe.source, pe.typ, !pe.deleted
	}
	b.r.mu.Lock()
	defer b.r.mu.Unlock()
	g, ok := b.r.mat.Edge(id)
	if !ok || g.Deleted || !g.Ordered {
		return "", "", false
	}
	return g.Source, g.Type, true
}

type sibling struct {
	id    oplog.EdgeID
	entry position.Entry
}

// place computes a position among the siblings of (source, type), leaving
// out the edge being moved.
func (b *Builder) place(source oplog.EntityID, edgeType string, moving oplog.EdgeID, at Placement) (string, error) {
	b.r.mu.Lock()
	source = b.r.mat.Resolve(source)
	children := b.r.mat.Children(source, edgeType)
	b.r.mu.Unlock()

	var sibs []sibling
	for _, c := range children {
		if !c.Ordered || c.ID == moving {
			continue
		}
		if _, pending := b.edges[c.ID]; pending {
			continue
		}
		sibs = append(sibs, sibling{c.ID, position.Entry{Position: c.Position, Actor: c.PosActor, HLC: c.PosHLC}})
	}
	for id, pe := range b.edges {
		if pe.deleted || id == moving || pe.source != source || pe.typ != edgeType {
			continue
		}
		sibs = append(sibs, sibling{id, position.Entry{Position: pe.position, Actor: b.r.Actor()}})
	}
	slices.SortFunc(sibs, func(x, y sibling) int { return position.Compare(x.entry, y.entry) })

	keys := make([]string, len(sibs))
	index := make(map[oplog.EdgeID]int, len(sibs))
	for i, s := range sibs {
		keys[i] = s.entry.Position
		index[s.id] = i
	}

	switch {
	case at.After != "":
		i, ok := index[at.After]
		if !ok {
			return "", fmt.Errorf("edge %s is not a sibling under %s/%s", at.After, source, edgeType)
		}
		return position.InsertAfter(keys, i)
	case at.Before != "":
		j, ok := index[at.Before]
		if !ok {
			return "", fmt.Errorf("edge %s is not a sibling under %s/%s", at.Before, source, edgeType)
		}
		lo := ""
		for k := j - 1; k >= 0; k-- {
			if keys[k] < keys[j] {
				lo = keys[k]
				break
			}
		}
		return position.Between(lo, keys[j])
	default:
		return position.InsertAfter(keys, len(keys)-1)
	}
}

// Commit seals the builder's operations into a bundle signed by the local
// actor, then ingests it. HLCs are issued here, in add order.
func (r *Replica) Commit(ctx context.Context, b *Builder) (*oplog.Bundle, Result, error) {
	if b.err != nil {
		return nil, Result{}, b.err
	}
	if len(b.drafts) == 0 {
		return nil, Result{}, oplog.Errorf(oplog.CodeSchemaViolation, "empty bundle")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	drafts := slices.Clone(b.drafts)
	for i := range drafts {
		drafts[i].HLC = r.clock.Tick()
	}
	bundle, err := oplog.Seal(r.key, b.typ, r.vc.Clone(), drafts, b.metadata)
	if err != nil {
		return nil, Result{}, err
	}
	res, err := r.ingest(ctx, bundle, OriginLocal)
	if err != nil {
		return nil, Result{}, err
	}
	return bundle, res, nil
}
