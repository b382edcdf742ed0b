package materializer

import (
	"maps"

	"github.com/wlococode/openprod-sub001/internal/ir"
	"github.com/wlococode/openprod-sub001/internal/oplog"
)

func (m *Materializer) mergeCRDT(op *oplog.Operation, id oplog.EntityID, field string, data []byte, reset bool) {
	e := m.entity(id)
	if e.Deleted {
		return
	}
	field = m.schema.CanonicalField(field)
	kind, ok := m.schema.CRDTKind(field)
	if !ok {
		return
	}
	adapter, err := m.crdts.Lookup(kind)
	if err != nil {
		m.logger.Warn("skipping crdt operation", "op", op.ID, "field", field, "error", err)
		return
	}

	var state []byte
	switch cur, exists := e.CRDT[field]; {
	case reset && len(data) == 0:
		state = adapter.Init()
	case reset:
		state = data
	case exists:
		state, err = adapter.Merge(cur.State, data)
	default:
		state, err = adapter.Merge(adapter.Init(), data)
	}
	if err != nil {
		m.logger.Warn("skipping crdt operation", "op", op.ID, "field", field, "error", err)
		return
	}
	rendered, err := adapter.Render(state)
	if err != nil {
		m.logger.Warn("skipping crdt operation", "op", op.ID, "field", field, "error", err)
		return
	}
	e.CRDT[field] = &CRDTField{Kind: kind, State: state, Rendered: rendered, LastOp: op.ID}
}

func (m *Materializer) createEdge(op *oplog.Operation, id oplog.EdgeID, typ string, src, tgt oplog.EntityID, props ir.IRObject, ordered bool, pos string) {
	if _, exists := m.state.Edges[id]; exists {
		return
	}
	src, tgt = m.resolve(src), m.resolve(tgt)
	g := &Edge{
		ID:      id,
		Type:    typ,
		Source:  src,
		Target:  tgt,
		Props:   props,
		Ordered: ordered,
	}
	if ordered {
		g.Position, g.PosActor, g.PosHLC = pos, op.Actor, op.HLC
	}
	for _, end := range []oplog.EntityID{src, tgt} {
		if e, ok := m.state.Entities[end]; ok && e.Deleted {
			g.Deleted = true
		}
	}
	m.state.Edges[id] = g
}

// mergeEntity folds absorbed into survivor. Scalar registers are unioned,
// so concurrent values on both sides surface as a conflict on the survivor.
func (m *Materializer) mergeEntity(survivor, absorbed oplog.EntityID) {
	s, a := m.entity(survivor), m.entity(absorbed)
	if s.ID == a.ID || s.Deleted || a.Deleted {
		return
	}

	for _, k := range sortedKeys(a.Fields) {
		if r, ok := s.Fields[k]; ok {
			r.union(a.Fields[k])
		} else {
			s.Fields[k] = a.Fields[k].clone()
		}
	}
	for _, k := range sortedKeys(a.CRDT) {
		src := a.CRDT[k]
		dst, ok := s.CRDT[k]
		if !ok {
			s.CRDT[k] = src
			continue
		}
		adapter, err := m.crdts.Lookup(dst.Kind)
		if err != nil {
			continue
		}
		merged, err := adapter.Merge(dst.State, src.State)
		if err != nil {
			continue
		}
		if rendered, err := adapter.Render(merged); err == nil {
			dst.State, dst.Rendered = merged, rendered
		}
	}
	for _, k := range sortedKeys(a.Facets) {
		af := a.Facets[k]
		sf := s.facet(k)
		sf.Attached = sf.Attached || af.Attached
		for fk, r := range af.Stash {
			if sf.Stash == nil {
				sf.Stash = make(map[string]*Register)
			}
			if _, ok := sf.Stash[fk]; !ok {
				sf.Stash[fk] = r
			}
		}
	}
	s.Created = s.Created || a.Created

	for _, g := range m.state.Edges {
		if g.Source == a.ID {
			g.Source = s.ID
		}
		if g.Target == a.ID {
			g.Target = s.ID
		}
	}

	a.MergedInto = s.ID
	a.Fields = make(map[string]*Register)
	a.CRDT = make(map[string]*CRDTField)
	a.Facets = make(map[string]*Facet)
}

// splitEntity creates the target and moves the listed fields and facets to
// it. A target that already exists is left untouched.
func (m *Materializer) splitEntity(p oplog.SplitEntity) {
	src := m.entity(p.Source)
	if src.Deleted || !src.Created {
		return
	}
	if t, ok := m.state.Entities[p.Target]; ok && (t.Created || t.Deleted || t.MergedInto != "") {
		return
	}
	tgt := m.entity(p.Target)
	tgt.Created = true

	for _, f := range p.Fields {
		f = m.schema.CanonicalField(f)
		if r, ok := src.Fields[f]; ok {
			tgt.Fields[f] = r
			delete(src.Fields, f)
		}
		if c, ok := src.CRDT[f]; ok {
			tgt.CRDT[f] = c
			delete(src.CRDT, f)
		}
	}
	for _, name := range p.Facets {
		if f, ok := src.Facets[name]; ok {
			tgt.Facets[name] = &Facet{Attached: f.Attached, Stash: maps.Clone(f.Stash)}
			delete(src.Facets, name)
		}
	}
}
