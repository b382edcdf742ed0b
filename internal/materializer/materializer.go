// Package materializer derives entity, field, facet, edge and conflict
// state from the operation log by pure replay in canonical (hlc, op_id)
// order. Operations that arrive in order extend the state incrementally;
// an operation that ranks below the last applied one triggers
// re-derivation of only the entities and edges it is linked to.
//
// Materializer is not safe for concurrent use; the replica serializes
// access.
package materializer

import (
	"log/slog"
	"slices"

	"github.com/wlococode/openprod-sub001/internal/crdt"
	"github.com/wlococode/openprod-sub001/internal/oplog"
	"github.com/wlococode/openprod-sub001/internal/schema"
	"github.com/wlococode/openprod-sub001/internal/vclock"
)

// entry is one applied operation plus the causal context of its bundle.
type entry struct {
	op      *oplog.Operation
	context vclock.VectorClock
	keys    keySet
}

// Change summarizes the effect of applying one bundle.
type Change struct {
	Applied           int
	Rederived         bool
	Entities          []oplog.EntityID
	Edges             []oplog.EdgeID
	ConflictsOpened   []FieldRef
	ConflictsResolved []FieldRef
}

// Empty reports whether the bundle changed nothing.
func (c Change) Empty() bool {
	return c.Applied == 0
}

// Materializer holds derived state and the ordered log it was derived from.
type Materializer struct {
	schema  schema.Provider
	crdts   *crdt.Registry
	logger  *slog.Logger
	state   *State
	log     []*entry
	applied map[oplog.OpID]struct{}
}

// Option configures a Materializer.
type Option func(*Materializer)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Materializer) { m.logger = l }
}

// WithCRDTs overrides the CRDT adapter registry.
func WithCRDTs(r *crdt.Registry) Option {
	return func(m *Materializer) { m.crdts = r }
}

// New creates an empty materializer for the given schema.
func New(s schema.Provider, opts ...Option) *Materializer {
	m := &Materializer{
		schema:  s,
		crdts:   crdt.DefaultRegistry(),
		logger:  slog.Default(),
		state:   newState(),
		applied: make(map[oplog.OpID]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Len returns the number of applied operations.
func (m *Materializer) Len() int {
	return len(m.log)
}

// Contains reports whether the operation has been applied.
func (m *Materializer) Contains(id oplog.OpID) bool {
	_, ok := m.applied[id]
	return ok
}

// Apply folds a verified bundle into the state. Operations already applied
// are skipped, so applying a bundle twice is a no-op.
func (m *Materializer) Apply(b *oplog.Bundle) Change {
	ops := slices.Clone(b.Operations)
	oplog.SortOps(ops)

	tracker := newChangeTracker()
	for _, op := range ops {
		if m.Contains(op.ID) {
			continue
		}
		m.applied[op.ID] = struct{}{}
		e := &entry{op: op, context: b.Context, keys: refKeys(op)}
		tracker.applied++

		if n := len(m.log); n == 0 || oplog.CompareOps(op, m.log[n-1].op) > 0 {
			affected := m.directKeys(e)
			tracker.before(m, affected)
			m.log = append(m.log, e)
			m.applyEntry(e)
			tracker.touch(affected)
			continue
		}

		idx, _ := slices.BinarySearchFunc(m.log, op, func(x *entry, target *oplog.Operation) int {
			return oplog.CompareOps(x.op, target)
		})
		m.log = slices.Insert(m.log, idx, e)

		affected := m.closure(e.keys)
		tracker.before(m, affected)
		m.rederive(affected)
		tracker.touch(affected)
		tracker.rederived = true
		m.logger.Debug("re-derived after late operation",
			"op", op.ID,
			"hlc", op.HLC.String(),
			"entities", len(affected.entities),
			"edges", len(affected.edges))
	}
	return tracker.finish(m)
}

// rederive resets everything in keys and replays the operations that
// touch it in canonical order.
func (m *Materializer) rederive(keys keySet) {
	for id := range keys.entities {
		delete(m.state.Entities, id)
	}
	for id := range keys.edges {
		delete(m.state.Edges, id)
	}
	for _, e := range m.log {
		if e.keys.intersects(keys) {
			m.applyEntry(e)
		}
	}
}

// closure grows seed until no logged operation links it to anything
// outside. Replaying exactly the operations that touch the closure
// reproduces full-replay state for it.
func (m *Materializer) closure(seed keySet) keySet {
	keys := seed.clone()
	for changed := true; changed; {
		changed = false
		for _, e := range m.log {
			if e.keys.intersects(keys) && keys.addAll(e.keys) {
				changed = true
			}
		}
	}
	return keys
}

// directKeys is the set an in-order operation can affect: its own
// references, redirect targets and edges touched by cascades.
func (m *Materializer) directKeys(e *entry) keySet {
	keys := e.keys.clone()
	for id := range e.keys.entities {
		resolved := m.resolve(id)
		keys.entities[resolved] = struct{}{}
		switch e.op.Payload.(type) {
		case oplog.DeleteEntity, oplog.MergeEntity:
			for gid, g := range m.state.Edges {
				if g.Source == resolved || g.Target == resolved {
					keys.edges[gid] = struct{}{}
				}
			}
		}
	}
	return keys
}

// Rebuild replays bundles from scratch into a new materializer.
func Rebuild(s schema.Provider, bundles []*oplog.Bundle, opts ...Option) *Materializer {
	m := New(s, opts...)
	for _, b := range bundles {
		m.Apply(b)
	}
	return m
}
