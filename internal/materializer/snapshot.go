package materializer

import (
	"encoding/base64"
	"slices"

	"github.com/wlococode/openprod-sub001/internal/ir"
	"github.com/wlococode/openprod-sub001/internal/oplog"
)

// Snapshot renders the full derived state as a canonical document. Two
// replicas that applied the same operations produce byte-identical
// snapshots.
func (m *Materializer) Snapshot() ir.IRObject {
	entities := make(ir.IRObject, len(m.state.Entities))
	for id, e := range m.state.Entities {
		entities[string(id)] = entityDoc(e)
	}
	edges := make(ir.IRObject, len(m.state.Edges))
	for id, g := range m.state.Edges {
		edges[string(id)] = edgeDoc(g)
	}
	return ir.IRObject{"entities": entities, "edges": edges}
}

// Hash is the domain-separated hash of Snapshot.
func (m *Materializer) Hash() (string, error) {
	return ir.CanonicalHash(ir.DomainState, m.Snapshot())
}

// EntityDoc returns the canonical document for one entity.
func (m *Materializer) EntityDoc(id oplog.EntityID) (ir.IRObject, bool) {
	e, ok := m.state.Entities[id]
	if !ok {
		return nil, false
	}
	return entityDoc(e), true
}

// EdgeDoc returns the canonical document for one edge.
func (m *Materializer) EdgeDoc(id oplog.EdgeID) (ir.IRObject, bool) {
	g, ok := m.state.Edges[id]
	if !ok {
		return nil, false
	}
	return edgeDoc(g), true
}

func entityDoc(e *Entity) ir.IRObject {
	doc := ir.IRObject{
		"created": ir.IRBool(e.Created),
		"deleted": ir.IRBool(e.Deleted),
		"fields":  registersDoc(e.Fields),
	}
	if e.MergedInto != "" {
		doc["merged_into"] = ir.IRString(e.MergedInto)
	}
	if len(e.CRDT) > 0 {
		crdts := make(ir.IRObject, len(e.CRDT))
		for k, c := range e.CRDT {
			cd := ir.IRObject{
				"kind":  ir.IRString(c.Kind),
				"state": ir.IRString(base64.StdEncoding.EncodeToString(c.State)),
			}
			if c.Rendered != nil {
				cd["value"] = c.Rendered
			}
			crdts[k] = cd
		}
		doc["crdt"] = crdts
	}
	if len(e.Facets) > 0 {
		facets := make(ir.IRObject, len(e.Facets))
		for k, f := range e.Facets {
			fd := ir.IRObject{"attached": ir.IRBool(f.Attached)}
			if len(f.Stash) > 0 {
				fd["stash"] = registersDoc(f.Stash)
			}
			facets[k] = fd
		}
		doc["facets"] = facets
	}
	return doc
}

func registersDoc(regs map[string]*Register) ir.IRObject {
	out := make(ir.IRObject, len(regs))
	for k, r := range regs {
		tips := make(ir.IRArray, 0, len(r.Tips))
		for _, t := range r.Tips {
			td := ir.IRObject{
				"op":    ir.IRString(t.OpID.String()),
				"actor": ir.IRString(t.Actor.String()),
				"hlc":   ir.IRString(t.HLC.String()),
			}
			if t.Value != nil {
				td["value"] = t.Value
			}
			tips = append(tips, td)
		}
		out[k] = tips
	}
	return out
}

func edgeDoc(g *Edge) ir.IRObject {
	doc := ir.IRObject{
		"type":    ir.IRString(g.Type),
		"source":  ir.IRString(g.Source),
		"target":  ir.IRString(g.Target),
		"deleted": ir.IRBool(g.Deleted),
		"ordered": ir.IRBool(g.Ordered),
	}
	if len(g.Props) > 0 {
		doc["props"] = g.Props
	}
	if g.Ordered {
		doc["position"] = ir.IRString(g.Position)
		doc["position_actor"] = ir.IRString(g.PosActor.String())
		doc["position_hlc"] = ir.IRString(g.PosHLC.String())
	}
	return doc
}

// EntityIDs lists every known entity ID in sorted order, including deleted
// and merged ones.
func (m *Materializer) EntityIDs() []oplog.EntityID {
	ids := make([]oplog.EntityID, 0, len(m.state.Entities))
	for id := range m.state.Entities {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// EdgeIDs lists every known edge ID in sorted order.
func (m *Materializer) EdgeIDs() []oplog.EdgeID {
	ids := make([]oplog.EdgeID, 0, len(m.state.Edges))
	for id := range m.state.Edges {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
