package materializer

import (
	"slices"
	"strings"

	"github.com/wlococode/openprod-sub001/internal/oplog"
)

type changeTracker struct {
	applied   int
	rederived bool
	entities  map[oplog.EntityID]struct{}
	edges     map[oplog.EdgeID]struct{}
	conflicts map[oplog.EntityID][]string
}

func newChangeTracker() *changeTracker {
	return &changeTracker{
		entities:  make(map[oplog.EntityID]struct{}),
		edges:     make(map[oplog.EdgeID]struct{}),
		conflicts: make(map[oplog.EntityID][]string),
	}
}

// before records the visible conflicts of keys the first time each entity
// is seen, so finish can diff against the final state.
func (t *changeTracker) before(m *Materializer, keys keySet) {
	for id := range keys.entities {
		for _, eid := range []oplog.EntityID{id, m.resolve(id)} {
			if _, seen := t.conflicts[eid]; seen {
				continue
			}
			t.conflicts[eid] = m.visibleConflicts(eid)
		}
	}
}

func (t *changeTracker) touch(keys keySet) {
	for id := range keys.entities {
		t.entities[id] = struct{}{}
	}
	for id := range keys.edges {
		t.edges[id] = struct{}{}
	}
}

func (t *changeTracker) finish(m *Materializer) Change {
	c := Change{Applied: t.applied, Rederived: t.rederived}
	for id := range t.entities {
		c.Entities = append(c.Entities, id)
	}
	for id := range t.edges {
		c.Edges = append(c.Edges, id)
	}
	slices.Sort(c.Entities)
	slices.Sort(c.Edges)

	for id, before := range t.conflicts {
		after := m.visibleConflicts(id)
		for _, f := range after {
			if !slices.Contains(before, f) {
				c.ConflictsOpened = append(c.ConflictsOpened, FieldRef{Entity: id, Field: f})
			}
		}
		for _, f := range before {
			if !slices.Contains(after, f) {
				c.ConflictsResolved = append(c.ConflictsResolved, FieldRef{Entity: id, Field: f})
			}
		}
	}
	slices.SortFunc(c.ConflictsOpened, compareFieldRefs)
	slices.SortFunc(c.ConflictsResolved, compareFieldRefs)
	return c
}

// visibleConflicts lists conflicted fields of an entity that is neither
// deleted nor merged away.
func (m *Materializer) visibleConflicts(id oplog.EntityID) []string {
	e, ok := m.state.Entities[id]
	if !ok || e.Deleted || e.MergedInto != "" {
		return nil
	}
	return e.conflictedFields()
}

// String renders a field reference as entity.field.
func (r FieldRef) String() string {
	var b strings.Builder
	b.WriteString(string(r.Entity))
	b.WriteByte('.')
	b.WriteString(r.Field)
	return b.String()
}
