// Package crdt holds the merge-always field types. Each kind is an Adapter
// over opaque state bytes; the materializer never looks inside.
package crdt

import (
	"fmt"
	"sort"

	"github.com/wlococode/openprod-sub001/internal/ir"
)

// Adapter is the narrow interface between the materializer and a CRDT
// implementation. Merge must be associative, commutative and idempotent.
type Adapter interface {
	Kind() string
	Init() []byte
	Merge(state, delta []byte) ([]byte, error)
	Render(state []byte) (ir.IRValue, error)
}

// Built-in kinds.
const (
	KindText = "text"
	KindList = "list"
)

// Registry maps a kind name to its adapter.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates a registry holding the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Kind()] = a
	}
	return r
}

// DefaultRegistry holds the text and list sequence adapters.
func DefaultRegistry() *Registry {
	return NewRegistry(Text(), List())
}

// Lookup returns the adapter for kind.
func (r *Registry) Lookup(kind string) (Adapter, error) {
	a, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("no crdt adapter for kind %q", kind)
	}
	return a, nil
}

// Kinds lists registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	out := make([]string, 0, len(r.adapters))
	for k := range r.adapters {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
