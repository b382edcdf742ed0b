// Package schema describes which fields merge as CRDTs, which edge types
// are ordered, which facet a field belongs to and which field keys are
// aliases of one another. Every replica must hold the same schema for
// replay to be deterministic.
package schema

import (
	"fmt"
	"slices"
	"strings"

	"github.com/wlococode/openprod-sub001/internal/ir"
)

// Provider is the read-only view the materializer and validators consume.
type Provider interface {
	// CRDTKind reports the CRDT kind of a canonical field key.
	CRDTKind(field string) (kind string, ok bool)

	// IsOrderedEdge reports whether edges of this type carry positions.
	IsOrderedEdge(edgeType string) bool

	// CanonicalField maps an alias to the key it stands for. Keys that are
	// not aliases map to themselves.
	CanonicalField(field string) string

	// FacetOf reports the facet a canonical field belongs to.
	FacetOf(field string) (facet string, ok bool)
}

// FieldDecl declares properties of one field key.
type FieldDecl struct {
	CRDT  string
	Facet string
}

// EdgeDecl declares properties of one edge type.
type EdgeDecl struct {
	Ordered bool
}

// Schema is an in-memory Provider. Build it fully before sharing it; it is
// not safe for concurrent mutation.
type Schema struct {
	fields  map[string]FieldDecl
	aliases map[string]string
	edges   map[string]EdgeDecl
}

var _ Provider = (*Schema)(nil)

// New returns an empty schema: no CRDT fields, no ordered edges, no aliases.
func New() *Schema {
	return &Schema{
		fields:  make(map[string]FieldDecl),
		aliases: make(map[string]string),
		edges:   make(map[string]EdgeDecl),
	}
}

// Field declares a field.
func (s *Schema) Field(key string, decl FieldDecl) *Schema {
	s.fields[key] = decl
	return s
}

// CRDT declares key as a CRDT field of kind.
func (s *Schema) CRDT(key, kind string) *Schema {
	d := s.fields[key]
	d.CRDT = kind
	return s.Field(key, d)
}

// Edge declares an edge type.
func (s *Schema) Edge(edgeType string, ordered bool) *Schema {
	s.edges[edgeType] = EdgeDecl{Ordered: ordered}
	return s
}

// Alias maps from to the canonical key to.
func (s *Schema) Alias(from, to string) *Schema {
	s.aliases[from] = to
	return s
}

// Validate rejects alias cycles, aliases of declared fields and CRDT kinds
// not in knownKinds.
func (s *Schema) Validate(knownKinds []string) error {
	for from := range s.aliases {
		if _, ok := s.fields[from]; ok {
			return fmt.Errorf("schema: %q is both a field and an alias", from)
		}
		cur := from
		for steps := 0; ; steps++ {
			next, ok := s.aliases[cur]
			if !ok {
				break
			}
			if steps > len(s.aliases) {
				return fmt.Errorf("schema: alias cycle through %q", from)
			}
			cur = next
		}
	}
	for key, d := range s.fields {
		if d.CRDT != "" && !slices.Contains(knownKinds, d.CRDT) {
			return fmt.Errorf("schema: field %q has unknown crdt kind %q", key, d.CRDT)
		}
	}
	return nil
}

// CRDTKind implements Provider.
func (s *Schema) CRDTKind(field string) (string, bool) {
	d, ok := s.fields[field]
	if !ok || d.CRDT == "" {
		return "", false
	}
	return d.CRDT, true
}

// IsOrderedEdge implements Provider.
func (s *Schema) IsOrderedEdge(edgeType string) bool {
	return s.edges[edgeType].Ordered
}

// CanonicalField implements Provider.
func (s *Schema) CanonicalField(field string) string {
	for i := 0; i <= len(s.aliases); i++ {
		next, ok := s.aliases[field]
		if !ok {
			return field
		}
		field = next
	}
	return field
}

// FacetOf implements Provider. A declared facet wins; otherwise a key of
// the form "<facet>.<name>" belongs to <facet>.
func (s *Schema) FacetOf(field string) (string, bool) {
	if d, ok := s.fields[field]; ok && d.Facet != "" {
		return d.Facet, true
	}
	facet, _, ok := strings.Cut(field, ".")
	if !ok || facet == "" {
		return "", false
	}
	return facet, true
}

// Fingerprint is a content hash of the declarations. Replicas with equal
// fingerprints materialize identically.
func (s *Schema) Fingerprint() string {
	fields := ir.IRObject{}
	for k, d := range s.fields {
		fields[k] = ir.IRObject{"crdt": ir.IRString(d.CRDT), "facet": ir.IRString(d.Facet)}
	}
	aliases := ir.IRObject{}
	for k, v := range s.aliases {
		aliases[k] = ir.IRString(v)
	}
	edges := ir.IRObject{}
	for k, d := range s.edges {
		edges[k] = ir.IRObject{"ordered": ir.IRBool(d.Ordered)}
	}
	h, err := ir.CanonicalHash("openprod/schema/v1", ir.IRObject{
		"fields":  fields,
		"aliases": aliases,
		"edges":   edges,
	})
	if err != nil {
		// Only strings and bools are hashed.
		panic(err)
	}
	return h
}
