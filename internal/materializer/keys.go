package materializer

import "github.com/wlococode/openprod-sub001/internal/oplog"

// keySet is a set of entity and edge IDs.
type keySet struct {
	entities map[oplog.EntityID]struct{}
	edges    map[oplog.EdgeID]struct{}
}

func newKeySet() keySet {
	return keySet{
		entities: make(map[oplog.EntityID]struct{}),
		edges:    make(map[oplog.EdgeID]struct{}),
	}
}

func refKeys(op *oplog.Operation) keySet {
	k := newKeySet()
	refs := op.Payload.Refs()
	for _, id := range refs.Entities {
		k.entities[id] = struct{}{}
	}
	for _, id := range refs.Edges {
		k.edges[id] = struct{}{}
	}
	return k
}

func (k keySet) clone() keySet {
	out := newKeySet()
	out.addAll(k)
	return out
}

// addAll adds every key of other and reports whether k grew.
func (k keySet) addAll(other keySet) bool {
	grew := false
	for id := range other.entities {
		if _, ok := k.entities[id]; !ok {
			k.entities[id] = struct{}{}
			grew = true
		}
	}
	for id := range other.edges {
		if _, ok := k.edges[id]; !ok {
			k.edges[id] = struct{}{}
			grew = true
		}
	}
	return grew
}

func (k keySet) intersects(other keySet) bool {
	small, large := k, other
	if len(small.entities)+len(small.edges) > len(large.entities)+len(large.edges) {
		small, large = large, small
	}
	for id := range small.entities {
		if _, ok := large.entities[id]; ok {
			return true
		}
	}
	for id := range small.edges {
		if _, ok := large.edges[id]; ok {
			return true
		}
	}
	return false
}
