package materializer

import (
	"maps"
	"slices"
	"strings"

	"github.com/wlococode/openprod-sub001/internal/hlc"
	"github.com/wlococode/openprod-sub001/internal/identity"
	"github.com/wlococode/openprod-sub001/internal/ir"
	"github.com/wlococode/openprod-sub001/internal/oplog"
	"github.com/wlococode/openprod-sub001/internal/position"
)

// Tip is one unsuperseded write to a scalar field. A nil Value is a clear.
type Tip struct {
	Value ir.IRValue
	OpID  oplog.OpID
	Actor identity.ActorID
	HLC   hlc.Timestamp
}

func (t Tip) key() oplog.OrderKey {
	return oplog.OrderKey{HLC: t.HLC, ID: t.OpID}
}

// Register holds the branch tips of a scalar field in canonical order.
// One tip is a settled value; more than one is an open conflict.
type Register struct {
	Tips []Tip
}

// Winner is the canonical last-writer among the tips.
func (r *Register) Winner() Tip {
	return r.Tips[len(r.Tips)-1]
}

// Conflicted reports whether the field has concurrent unresolved writes.
func (r *Register) Conflicted() bool {
	return len(r.Tips) > 1
}

func (r *Register) clone() *Register {
	return &Register{Tips: slices.Clone(r.Tips)}
}

// union merges tips from other, dropping duplicates by op ID.
func (r *Register) union(other *Register) {
	for _, t := range other.Tips {
		if !slices.ContainsFunc(r.Tips, func(x Tip) bool { return x.OpID == t.OpID }) {
			r.Tips = append(r.Tips, t)
		}
	}
	sortTips(r.Tips)
}

func sortTips(tips []Tip) {
	slices.SortFunc(tips, func(a, b Tip) int { return a.key().Compare(b.key()) })
}

// CRDTField is the opaque state of a merge-always field plus its rendered
// value.
type CRDTField struct {
	Kind     string
	State    []byte
	Rendered ir.IRValue
	LastOp   oplog.OpID
}

// Facet records whether a facet is attached and, after a preserving detach,
// the stashed field registers.
type Facet struct {
	Attached bool
	Stash    map[string]*Register
}

// Entity is the derived state of one entity ID.
type Entity struct {
	ID         oplog.EntityID
	Created    bool
	Deleted    bool
	MergedInto oplog.EntityID
	Fields     map[string]*Register
	CRDT       map[string]*CRDTField
	Facets     map[string]*Facet
}

func newEntity(id oplog.EntityID) *Entity {
	return &Entity{
		ID:     id,
		Fields: make(map[string]*Register),
		CRDT:   make(map[string]*CRDTField),
		Facets: make(map[string]*Facet),
	}
}

// Live reports whether the entity exists and has not been deleted or merged.
func (e *Entity) Live() bool {
	return e.Created && !e.Deleted && e.MergedInto == ""
}

// Edge is the derived state of one edge.
type Edge struct {
	ID       oplog.EdgeID
	Type     string
	Source   oplog.EntityID
	Target   oplog.EntityID
	Props    ir.IRObject
	Ordered  bool
	Position string
	PosActor identity.ActorID
	PosHLC   hlc.Timestamp
	Deleted  bool
}

func (e *Edge) entry() position.Entry {
	return position.Entry{Position: e.Position, Actor: e.PosActor, HLC: e.PosHLC}
}

// State is the full derived state.
type State struct {
	Entities map[oplog.EntityID]*Entity
	Edges    map[oplog.EdgeID]*Edge
}

func newState() *State {
	return &State{
		Entities: make(map[oplog.EntityID]*Entity),
		Edges:    make(map[oplog.EdgeID]*Edge),
	}
}

// FieldRef names a field on an entity.
type FieldRef struct {
	Entity oplog.EntityID
	Field  string
}

func compareFieldRefs(a, b FieldRef) int {
	if c := strings.Compare(string(a.Entity), string(b.Entity)); c != 0 {
		return c
	}
	return strings.Compare(a.Field, b.Field)
}

// ConflictRecord lists the unresolved tips of one field.
type ConflictRecord struct {
	FieldRef
	Tips []Tip
}

// EntityView is a read-only copy of an entity's visible state.
type EntityView struct {
	ID         oplog.EntityID
	Created    bool
	Deleted    bool
	MergedInto oplog.EntityID
	Fields     map[string]ir.IRValue
	Conflicts  map[string][]Tip
	Facets     map[string]bool
}

// EdgeView is a read-only copy of an edge.
type EdgeView = Edge

func (e *Entity) view() EntityView {
	v := EntityView{
		ID:         e.ID,
		Created:    e.Created,
		Deleted:    e.Deleted,
		MergedInto: e.MergedInto,
		Fields:     make(map[string]ir.IRValue),
		Conflicts:  make(map[string][]Tip),
		Facets:     make(map[string]bool, len(e.Facets)),
	}
	for k, r := range e.Fields {
		if w := r.Winner(); w.Value != nil {
			v.Fields[k] = w.Value
		}
		if r.Conflicted() {
			v.Conflicts[k] = slices.Clone(r.Tips)
		}
	}
	for k, c := range e.CRDT {
		if c.Rendered != nil {
			v.Fields[k] = c.Rendered
		}
	}
	for k, f := range e.Facets {
		v.Facets[k] = f.Attached
	}
	return v
}

// conflictedFields returns the sorted keys of conflicted registers.
func (e *Entity) conflictedFields() []string {
	var out []string
	for k, r := range e.Fields {
		if r.Conflicted() {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
