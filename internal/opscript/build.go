package opscript

import (
	"fmt"
	"maps"
	"slices"

	"github.com/wlococode/openprod-sub001/internal/ir"
	"github.com/wlococode/openprod-sub001/internal/oplog"
	"github.com/wlococode/openprod-sub001/internal/replica"
)

// Names maps script names to the IDs they were bound to. A name that was
// never bound resolves to itself.
//
// Thread-safety: Names is not safe for concurrent use.
type Names struct {
	entities map[string]oplog.EntityID
	edges    map[string]oplog.EdgeID
}

// NewNames returns an empty binding set.
func NewNames() *Names {
	return &Names{
		entities: make(map[string]oplog.EntityID),
		edges:    make(map[string]oplog.EdgeID),
	}
}

// Entity resolves an entity reference.
func (n *Names) Entity(ref string) oplog.EntityID {
	if id, ok := n.entities[ref]; ok {
		return id
	}
	return oplog.EntityID(ref)
}

// Edge resolves an edge reference.
func (n *Names) Edge(ref string) oplog.EdgeID {
	if id, ok := n.edges[ref]; ok {
		return id
	}
	return oplog.EdgeID(ref)
}

// Bindings lists every bound name with its ID, sorted by name.
func (n *Names) Bindings() []Binding {
	out := make([]Binding, 0, len(n.entities)+len(n.edges))
	for _, name := range slices.Sorted(maps.Keys(n.entities)) {
		out = append(out, Binding{Name: name, Kind: "entity", ID: string(n.entities[name])})
	}
	for _, name := range slices.Sorted(maps.Keys(n.edges)) {
		out = append(out, Binding{Name: name, Kind: "edge", ID: string(n.edges[name])})
	}
	return out
}

// Binding is one bound name.
type Binding struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

func (n *Names) bindEntity(name string, id oplog.EntityID) {
	if name != "" {
		n.entities[name] = id
	}
}

func (n *Names) bindEdge(name string, id oplog.EdgeID) {
	if name != "" {
		n.edges[name] = id
	}
}

// Build adds the script's ops to a fresh builder of r, binding generated
// IDs in names. Builder errors surface at Commit.
func (s *Script) Build(r *replica.Replica, names *Names) (*replica.Builder, error) {
	b := r.NewBuilder(s.BundleType())
	if s.Metadata != "" {
		b.SetMetadata([]byte(s.Metadata))
	}
	for i := range s.Ops {
		if err := s.Ops[i].add(b, names); err != nil {
			return nil, fmt.Errorf("ops[%d] %s: %w", i, s.Ops[i].Op, err)
		}
	}
	return b, nil
}

func (o *Op) add(b *replica.Builder, names *Names) error {
	entity := names.Entity(o.Entity)
	switch o.Op {
	case OpCreateEntity:
		if o.Entity != "" {
			b.CreateEntityWithID(entity)
			names.bindEntity(o.As, entity)
		} else {
			names.bindEntity(o.As, b.CreateEntity())
		}
	case OpDeleteEntity:
		b.DeleteEntity(entity)
	case OpSetField:
		v, err := ToIR(o.Value)
		if err != nil {
			return fmt.Errorf("value: %w", err)
		}
		b.SetField(entity, o.Field, v)
	case OpClearField:
		b.ClearField(entity, o.Field)
	case OpAttachFacet:
		b.AttachFacet(entity, o.Facet)
	case OpDetachFacet:
		b.DetachFacet(entity, o.Facet, o.Preserve)
	case OpRestoreFacet:
		b.RestoreFacet(entity, o.Facet)
	case OpInsertText:
		b.InsertText(entity, o.Field, o.Index, o.Text)
	case OpDeleteText:
		b.DeleteText(entity, o.Field, o.Index, o.Count)
	case OpAppendList:
		values, err := toIRArray(o.Values)
		if err != nil {
			return fmt.Errorf("values: %w", err)
		}
		b.AppendList(entity, o.Field, values...)
	case OpRemoveList:
		b.RemoveList(entity, o.Field, o.Index, o.Count)
	case OpCreateEdge, OpCreateOrderedEdge:
		props, err := toIRObject(o.Props)
		if err != nil {
			return fmt.Errorf("props: %w", err)
		}
		source, target := names.Entity(o.Source), names.Entity(o.Target)
		var id oplog.EdgeID
		if o.Op == OpCreateEdge {
			id = b.CreateEdge(o.Type, source, target, props)
		} else {
			id = b.CreateOrderedEdge(o.Type, source, target, props, o.placement(names))
		}
		names.bindEdge(o.As, id)
	case OpMoveEdge:
		b.MoveOrderedEdge(names.Edge(o.Edge), o.placement(names))
	case OpDeleteEdge:
		b.DeleteEdge(names.Edge(o.Edge))
	case OpMerge:
		b.Merge(names.Entity(o.Survivor), names.Entity(o.Absorbed))
	case OpSplit:
		names.bindEntity(o.As, b.Split(entity, o.Fields, o.Facets))
	default:
		return fmt.Errorf("unknown op")
	}
	return nil
}

func (o *Op) placement(names *Names) replica.Placement {
	var at replica.Placement
	if o.After != "" {
		at.After = names.Edge(o.After)
	}
	if o.Before != "" {
		at.Before = names.Edge(o.Before)
	}
	return at
}

// ToIR converts a YAML-decoded value. Null and fractional numbers are
// rejected; canonical JSON has no room for them.
func ToIR(v any) (ir.IRValue, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null values are not allowed")
	case string:
		return ir.IRString(val), nil
	case bool:
		return ir.IRBool(val), nil
	case int:
		return ir.IRInt(int64(val)), nil
	case int64:
		return ir.IRInt(val), nil
	case uint64:
		if val > 1<<63-1 {
			return nil, fmt.Errorf("integer %d out of range", val)
		}
		return ir.IRInt(int64(val)), nil
	case float64:
		if val != float64(int64(val)) {
			return nil, fmt.Errorf("floats are not allowed: %v", val)
		}
		return ir.IRInt(int64(val)), nil
	case []any:
		return toIRArray(val)
	case map[string]any:
		return toIRObject(val)
	}
	return nil, fmt.Errorf("unsupported type %T", v)
}

func toIRArray(vs []any) (ir.IRArray, error) {
	out := make(ir.IRArray, len(vs))
	for i, v := range vs {
		iv, err := ToIR(v)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out[i] = iv
	}
	return out, nil
}

func toIRObject(m map[string]any) (ir.IRObject, error) {
	if m == nil {
		return nil, nil
	}
	out := make(ir.IRObject, len(m))
	for k, v := range m {
		iv, err := ToIR(v)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", k, err)
		}
		out[k] = iv
	}
	return out, nil
}
