package materializer

import (
	"github.com/wlococode/openprod-sub001/internal/ir"
	"github.com/wlococode/openprod-sub001/internal/oplog"
	"github.com/wlococode/openprod-sub001/internal/vclock"
)

// resolve follows merge redirects to the surviving entity.
func (m *Materializer) resolve(id oplog.EntityID) oplog.EntityID {
	for range len(m.state.Entities) + 1 {
		e, ok := m.state.Entities[id]
		if !ok || e.MergedInto == "" {
			return id
		}
		id = e.MergedInto
	}
	return id
}

// entity returns the resolved entity, creating a placeholder if absent.
func (m *Materializer) entity(id oplog.EntityID) *Entity {
	id = m.resolve(id)
	e, ok := m.state.Entities[id]
	if !ok {
		e = newEntity(id)
		m.state.Entities[id] = e
	}
	return e
}

// applyEntry folds one operation into state. Ingest has already validated
// the operation, so anything that does not fit the current state is skipped
// the same way on every replica.
func (m *Materializer) applyEntry(en *entry) {
	op := en.op
	switch p := op.Payload.(type) {
	case oplog.CreateEntity:
		e := m.entity(p.Entity)
		if !e.Deleted {
			e.Created = true
		}

	case oplog.DeleteEntity:
		e := m.entity(p.Entity)
		e.Deleted = true
		for _, g := range m.state.Edges {
			if g.Source == e.ID || g.Target == e.ID {
				g.Deleted = true
			}
		}

	case oplog.AttachFacet:
		e := m.entity(p.Entity)
		if e.Deleted {
			return
		}
		f := e.facet(p.Facet)
		f.Attached = true

	case oplog.DetachFacet:
		e := m.entity(p.Entity)
		if e.Deleted {
			return
		}
		f := e.facet(p.Facet)
		f.Attached = false
		f.Stash = nil
		if !p.Preserve {
			for _, k := range sortedKeys(e.Fields) {
				if facet, ok := m.schema.FacetOf(k); ok && facet == p.Facet {
					delete(e.Fields, k)
				}
			}
			return
		}
		for _, k := range sortedKeys(e.Fields) {
			if facet, ok := m.schema.FacetOf(k); ok && facet == p.Facet {
				if f.Stash == nil {
					f.Stash = make(map[string]*Register)
				}
				f.Stash[k] = e.Fields[k]
				delete(e.Fields, k)
			}
		}

	case oplog.RestoreFacet:
		e := m.entity(p.Entity)
		if e.Deleted {
			return
		}
		f := e.facet(p.Facet)
		f.Attached = true
		for k, r := range f.Stash {
			if _, ok := e.Fields[k]; !ok {
				e.Fields[k] = r
			}
		}
		f.Stash = nil

	case oplog.SetField:
		m.writeField(en, p.Entity, p.Field, p.Value)

	case oplog.ClearField:
		m.writeField(en, p.Entity, p.Field, nil)

	case oplog.ApplyCRDT:
		m.mergeCRDT(op, p.Entity, p.Field, p.Delta, false)

	case oplog.ResetCRDT:
		m.mergeCRDT(op, p.Entity, p.Field, p.State, true)

	case oplog.CreateEdge:
		m.createEdge(op, p.Edge, p.Type, p.Source, p.Target, p.Props, false, "")

	case oplog.CreateOrderedEdge:
		m.createEdge(op, p.Edge, p.Type, p.Source, p.Target, p.Props, true, p.Position)

	case oplog.DeleteEdge:
		if g, ok := m.state.Edges[p.Edge]; ok {
			g.Deleted = true
		}

	case oplog.MoveOrderedEdge:
		g, ok := m.state.Edges[p.Edge]
		if !ok || g.Deleted || !g.Ordered {
			return
		}
		g.Position, g.PosActor, g.PosHLC = p.Position, op.Actor, op.HLC

	case oplog.MergeEntity:
		m.mergeEntity(p.Survivor, p.Absorbed)

	case oplog.SplitEntity:
		m.splitEntity(p)

	default:
		// Unknown payloads are kept in the log for forward compatibility
		// but have no effect here.
	}
}

func (e *Entity) facet(name string) *Facet {
	f, ok := e.Facets[name]
	if !ok {
		f = &Facet{}
		e.Facets[name] = f
	}
	return f
}

// writeField applies the concurrent-write rule: a tip is superseded when
// the writer is the tip's own actor or the writer's bundle had already seen
// it. Whatever survives stays alongside the new write.
func (m *Materializer) writeField(en *entry, id oplog.EntityID, field string, value ir.IRValue) {
	e := m.entity(id)
	if e.Deleted {
		return
	}
	field = m.schema.CanonicalField(field)
	if _, ok := m.schema.CRDTKind(field); ok {
		return
	}

	op := en.op
	tip := Tip{Value: value, OpID: op.ID, Actor: op.Actor, HLC: op.HLC}

	r, ok := e.Fields[field]
	if !ok {
		e.Fields[field] = &Register{Tips: []Tip{tip}}
		return
	}
	r.Tips = supersede(r.Tips, op, en.context)
	r.Tips = append(r.Tips, tip)
	sortTips(r.Tips)
}

func supersede(tips []Tip, op *oplog.Operation, seen vclock.VectorClock) []Tip {
	kept := make([]Tip, 0, len(tips)+1)
	for _, t := range tips {
		if t.Actor == op.Actor || seen.HasSeen(t.Actor, t.HLC) {
			continue
		}
		kept = append(kept, t)
	}
	return kept
}
