// Package replica is the single write path of a local store. Local commits
// and bundles received from peers go through the same pipeline:
//
//	verify -> dedupe -> validate -> clock -> append -> materialize -> notify
//
// Nothing is mutated until a bundle has passed verification and
// validation, and the bundle is either applied whole or not at all.
package replica

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wlococode/openprod-sub001/internal/crdt"
	"github.com/wlococode/openprod-sub001/internal/events"
	"github.com/wlococode/openprod-sub001/internal/hlc"
	"github.com/wlococode/openprod-sub001/internal/identity"
	"github.com/wlococode/openprod-sub001/internal/ir"
	"github.com/wlococode/openprod-sub001/internal/materializer"
	"github.com/wlococode/openprod-sub001/internal/oplog"
	"github.com/wlococode/openprod-sub001/internal/schema"
	"github.com/wlococode/openprod-sub001/internal/store"
	"github.com/wlococode/openprod-sub001/internal/vclock"
)

const metaSchemaFingerprint = "schema_fingerprint"

// Options configures a Replica. Key, Storage and Schema are required.
type Options struct {
	Key      *identity.Keypair
	Storage  store.Storage
	Schema   schema.Provider
	Identity identity.Provider // default identity.Open{}
	Clock    *hlc.Clock        // default system clock
	IDs      oplog.IDGenerator // default UUIDv7
	CRDTs    *crdt.Registry    // default text and list
	Limits   oplog.Limits      // default oplog.DefaultLimits
	Bus      *events.Bus       // default a private bus
	Logger   *slog.Logger      // default slog.Default()
}

// Replica owns one actor's view of the shared log.
//
// Thread-safety: all methods are safe for concurrent use; ingest is
// serialized by an internal mutex.
type Replica struct {
	mu      sync.Mutex
	key     *identity.Keypair
	storage store.Storage
	schema  schema.Provider
	ident   identity.Provider
	clock   *hlc.Clock
	ids     oplog.IDGenerator
	limits  oplog.Limits
	bus     *events.Bus
	logger  *slog.Logger
	mat     *materializer.Materializer
	vc      vclock.VectorClock
}

// Open loads the stored log, re-derives state from it and returns a ready
// replica.
func Open(ctx context.Context, opts Options) (*Replica, error) {
	if opts.Key == nil || opts.Storage == nil || opts.Schema == nil {
		return nil, fmt.Errorf("replica: key, storage and schema are required")
	}
	r := &Replica{
		key:     opts.Key,
		storage: opts.Storage,
		schema:  opts.Schema,
		ident:   opts.Identity,
		clock:   opts.Clock,
		ids:     opts.IDs,
		limits:  opts.Limits,
		bus:     opts.Bus,
		logger:  opts.Logger,
	}
	if r.ident == nil {
		r.ident = identity.Open{}
	}
	if r.clock == nil {
		r.clock = hlc.NewClock()
	}
	if r.ids == nil {
		r.ids = oplog.UUIDv7Generator{}
	}
	if r.limits == (oplog.Limits{}) {
		r.limits = oplog.DefaultLimits
	}
	if r.bus == nil {
		r.bus = events.NewBus()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("actor", r.key.Actor().Short())

	matOpts := []materializer.Option{materializer.WithLogger(r.logger)}
	if opts.CRDTs != nil {
		matOpts = append(matOpts, materializer.WithCRDTs(opts.CRDTs))
	}
	r.mat = materializer.New(r.schema, matOpts...)

	if err := r.checkSchema(ctx); err != nil {
		return nil, err
	}

	bundles, err := r.storage.ReadBundles(ctx)
	if err != nil {
		return nil, oplog.WrapError(oplog.CodeStorageFailure, err, "load log")
	}
	for _, b := range bundles {
		r.mat.Apply(b)
		r.clock.Observe(b.HLC)
	}
	r.vc, err = r.storage.VectorClock(ctx)
	if err != nil {
		return nil, oplog.WrapError(oplog.CodeStorageFailure, err, "load vector clock")
	}
	openConflicts.Set(float64(len(r.mat.Conflicts())))

	r.logger.Debug("replica opened", "bundles", len(bundles), "operations", r.mat.Len())
	return r, nil
}

// checkSchema warns when the schema changed since the log was last opened.
// Replay stays deterministic either way; only derived state may differ.
func (r *Replica) checkSchema(ctx context.Context) error {
	fp, ok := r.schema.(interface{ Fingerprint() string })
	if !ok {
		return nil
	}
	current := fp.Fingerprint()
	prev, found, err := r.storage.Meta(ctx, metaSchemaFingerprint)
	if err != nil {
		return oplog.WrapError(oplog.CodeStorageFailure, err, "read schema fingerprint")
	}
	if found && prev != current {
		r.logger.Warn("schema changed since last open", "previous", prev, "current", current)
	}
	if !found || prev != current {
		if err := r.storage.SetMeta(ctx, metaSchemaFingerprint, current); err != nil {
			return oplog.WrapError(oplog.CodeStorageFailure, err, "write schema fingerprint")
		}
	}
	return nil
}

// Actor returns the local actor ID.
func (r *Replica) Actor() identity.ActorID {
	return r.key.Actor()
}

// Bus returns the change notification bus.
func (r *Replica) Bus() *events.Bus {
	return r.bus
}

// Subscribe is shorthand for Bus().Subscribe().
func (r *Replica) Subscribe() *events.Subscription {
	return r.bus.Subscribe()
}

// Close closes the event bus and the storage.
func (r *Replica) Close() error {
	r.bus.Close()
	return r.storage.Close()
}

// VectorClock returns a copy of what this replica has seen.
func (r *Replica) VectorClock() vclock.VectorClock {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vc.Clone()
}

// HasBundle reports whether the bundle is already in the log.
func (r *Replica) HasBundle(ctx context.Context, id oplog.BundleID) (bool, error) {
	return r.storage.HasBundle(ctx, id)
}

// BundlesSince returns the page of bundles a peer at since is missing.
func (r *Replica) BundlesSince(ctx context.Context, since vclock.VectorClock, limit int) ([]*oplog.Bundle, bool, error) {
	return r.storage.BundlesSince(ctx, since, limit)
}

// Bundles returns the full log in canonical order.
func (r *Replica) Bundles(ctx context.Context) ([]*oplog.Bundle, error) {
	return r.storage.ReadBundles(ctx)
}

// StateHash is the content hash of the materialized state.
func (r *Replica) StateHash() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mat.Hash()
}

// Snapshot returns the canonical state document.
func (r *Replica) Snapshot() ir.IRObject {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mat.Snapshot()
}

// Entity returns the current view of an entity.
func (r *Replica) Entity(id oplog.EntityID) (materializer.EntityView, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mat.Entity(id)
}

// FieldValue returns the winning value of a field.
func (r *Replica) FieldValue(id oplog.EntityID, field string) (ir.IRValue, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mat.FieldValue(id, field)
}

// Conflicts lists every open conflict.
func (r *Replica) Conflicts() []materializer.ConflictRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mat.Conflicts()
}

// Children lists the live edges of a type leaving source, in order.
func (r *Replica) Children(source oplog.EntityID, edgeType string) []materializer.EdgeView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mat.Children(source, edgeType)
}

// Edge returns an edge by ID.
func (r *Replica) Edge(id oplog.EdgeID) (materializer.EdgeView, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mat.Edge(id)
}

// EntityIDs lists every known entity.
func (r *Replica) EntityIDs() []oplog.EntityID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mat.EntityIDs()
}

// Reindex rewrites every materialized row from the in-memory state.
func (r *Replica) Reindex(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writeRows(ctx, materializer.Change{Entities: r.mat.EntityIDs(), Edges: r.mat.EdgeIDs()})
}

// writeRows persists the documents of everything a change touched.
func (r *Replica) writeRows(ctx context.Context, c materializer.Change) error {
	rows := make([]store.StateRow, 0, len(c.Entities)+len(c.Edges))
	for _, id := range c.Entities {
		row := store.StateRow{Kind: store.KindEntity, ID: string(id)}
		if doc, ok := r.mat.EntityDoc(id); ok {
			b, err := ir.MarshalCanonical(doc)
			if err != nil {
				return fmt.Errorf("entity %s: %w", id, err)
			}
			row.Doc = b
		}
		rows = append(rows, row)
	}
	for _, id := range c.Edges {
		row := store.StateRow{Kind: store.KindEdge, ID: string(id)}
		if doc, ok := r.mat.EdgeDoc(id); ok {
			b, err := ir.MarshalCanonical(doc)
			if err != nil {
				return fmt.Errorf("edge %s: %w", id, err)
			}
			row.Doc = b
		}
		rows = append(rows, row)
	}
	return r.storage.WriteState(ctx, rows)
}
