package materializer

import (
	"slices"

	"github.com/wlococode/openprod-sub001/internal/crdt"
	"github.com/wlococode/openprod-sub001/internal/ir"
	"github.com/wlococode/openprod-sub001/internal/oplog"
	"github.com/wlococode/openprod-sub001/internal/position"
	"github.com/wlococode/openprod-sub001/internal/schema"
)

// Resolve follows merge redirects from id to the surviving entity.
func (m *Materializer) Resolve(id oplog.EntityID) oplog.EntityID {
	return m.resolve(id)
}

// Entity returns a view of the entity after following merge redirects.
func (m *Materializer) Entity(id oplog.EntityID) (EntityView, bool) {
	e, ok := m.state.Entities[m.resolve(id)]
	if !ok || !e.Created {
		return EntityView{}, false
	}
	return e.view(), true
}

// FieldValue returns the winning value of a field, or false when the field
// is unset, cleared or the entity does not exist.
func (m *Materializer) FieldValue(id oplog.EntityID, field string) (ir.IRValue, bool) {
	e, ok := m.state.Entities[m.resolve(id)]
	if !ok || !e.Live() {
		return nil, false
	}
	field = m.schema.CanonicalField(field)
	if c, ok := e.CRDT[field]; ok {
		return c.Rendered, c.Rendered != nil
	}
	r, ok := e.Fields[field]
	if !ok {
		return nil, false
	}
	w := r.Winner()
	return w.Value, w.Value != nil
}

// Conflicts lists every open conflict on live entities, sorted by entity
// then field.
func (m *Materializer) Conflicts() []ConflictRecord {
	var out []ConflictRecord
	for id, e := range m.state.Entities {
		if e.Deleted || e.MergedInto != "" {
			continue
		}
		for _, f := range e.conflictedFields() {
			out = append(out, ConflictRecord{
				FieldRef: FieldRef{Entity: id, Field: f},
				Tips:     slices.Clone(e.Fields[f].Tips),
			})
		}
	}
	slices.SortFunc(out, func(a, b ConflictRecord) int {
		return compareFieldRefs(a.FieldRef, b.FieldRef)
	})
	return out
}

// Edge returns a copy of an edge, including tombstoned ones.
func (m *Materializer) Edge(id oplog.EdgeID) (EdgeView, bool) {
	g, ok := m.state.Edges[id]
	if !ok {
		return EdgeView{}, false
	}
	return *g, true
}

// Children lists the live edges of the given type leaving source. Ordered
// edges come back by (position, actor, hlc); unordered ones by edge ID.
func (m *Materializer) Children(source oplog.EntityID, edgeType string) []EdgeView {
	source = m.resolve(source)
	var out []EdgeView
	for _, g := range m.state.Edges {
		if g.Deleted || g.Source != source || g.Type != edgeType {
			continue
		}
		out = append(out, *g)
	}
	slices.SortFunc(out, func(a, b EdgeView) int {
		if a.Ordered && b.Ordered {
			if c := position.Compare(a.entry(), b.entry()); c != 0 {
				return c
			}
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Positions returns the positions of the ordered children of source, in
// order. Authors use it to compute new keys.
func (m *Materializer) Positions(source oplog.EntityID, edgeType string) []string {
	children := m.Children(source, edgeType)
	out := make([]string, 0, len(children))
	for _, c := range children {
		if c.Ordered {
			out = append(out, c.Position)
		}
	}
	return out
}

// CRDTState returns the opaque state and kind of a CRDT field.
func (m *Materializer) CRDTState(id oplog.EntityID, field string) (state []byte, kind string, ok bool) {
	field = m.schema.CanonicalField(field)
	kind, isCRDT := m.schema.CRDTKind(field)
	if !isCRDT {
		return nil, "", false
	}
	if e, exists := m.state.Entities[m.resolve(id)]; exists {
		if c, set := e.CRDT[field]; set {
			return slices.Clone(c.State), kind, true
		}
	}
	return nil, kind, true
}

// Exists reports whether id names a created entity, live or not. Used to
// reject colliding creates.
func (m *Materializer) Exists(id oplog.EntityID) bool {
	e, ok := m.state.Entities[id]
	return ok && (e.Created || e.Deleted || e.MergedInto != "")
}

// Schema returns the schema the materializer was built with.
func (m *Materializer) Schema() schema.Provider {
	return m.schema
}

// CRDTs returns the adapter registry.
func (m *Materializer) CRDTs() *crdt.Registry {
	return m.crdts
}
