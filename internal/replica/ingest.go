package replica

import (
	"context"
	"errors"

	"github.com/wlococode/openprod-sub001/internal/events"
	"github.com/wlococode/openprod-sub001/internal/hlc"
	"github.com/wlococode/openprod-sub001/internal/materializer"
	"github.com/wlococode/openprod-sub001/internal/oplog"
)

// Origin says where a bundle came from.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// Result describes the outcome of a successful ingest.
type Result struct {
	// Accepted is false when the bundle was already in the log.
	Accepted bool
	Change   materializer.Change
}

// Ingest runs a bundle received from a peer through the pipeline. A bundle
// already in the log is a silent no-op. Rejections are *oplog.Error values;
// nothing is stored or applied for a rejected bundle.
func (r *Replica) Ingest(ctx context.Context, b *oplog.Bundle) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ingest(ctx, b, OriginRemote)
}

func (r *Replica) ingest(ctx context.Context, b *oplog.Bundle, origin Origin) (Result, error) {
	res, err := r.ingestLocked(ctx, b, origin)
	if err != nil {
		code := oplog.CodeOf(err)
		bundlesRejected.WithLabelValues(string(code)).Inc()
		r.logger.Warn("bundle rejected",
			"bundle", b.ID,
			"author", b.Actor.Short(),
			"origin", origin,
			"code", code,
			"error", err)
	}
	return res, err
}

func (r *Replica) ingestLocked(ctx context.Context, b *oplog.Bundle, origin Origin) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if err := r.checkLimits(b); err != nil {
		return Result{}, err
	}
	if err := b.Verify(r.ident, r.limits); err != nil {
		return Result{}, err
	}

	dup, err := r.storage.HasBundle(ctx, b.ID)
	if err != nil {
		return Result{}, oplog.WrapError(oplog.CodeStorageFailure, err, "dedupe").WithBundle(b.ID)
	}
	if dup {
		bundlesDuplicate.Inc()
		r.logger.Debug("duplicate bundle", "bundle", b.ID, "origin", origin)
		return Result{}, nil
	}

	if err := r.validate(b); err != nil {
		return Result{}, err
	}

	// Only bundles that will be logged move the local clock.
	if origin == OriginRemote {
		if _, err := r.clock.Receive(b.HLC); err != nil {
			if errors.Is(err, hlc.ErrClockDriftExceeded) {
				r.logger.Warn("suspicious peer: bundle from the future", "author", b.Actor.Short(), "hlc", b.HLC.String())
				return Result{}, oplog.WrapError(oplog.CodeClockDriftExceeded, err, "bundle hlc").WithBundle(b.ID)
			}
			return Result{}, err
		}
	}

	if _, err := r.storage.AppendBundle(ctx, b); err != nil {
		return Result{}, oplog.WrapError(oplog.CodeStorageFailure, err, "append").WithBundle(b.ID)
	}

	change := r.mat.Apply(b)
	r.vc.Update(b.Actor, b.HLC)

	if err := r.writeRows(ctx, change); err != nil {
		// Rows are a cache of the log; the next Reindex repairs them.
		r.logger.Error("failed to persist materialized rows", "bundle", b.ID, "error", err)
	}

	bundlesAccepted.WithLabelValues(string(origin)).Inc()
	operationsApplied.Add(float64(change.Applied))
	conflictsOpened.Add(float64(len(change.ConflictsOpened)))
	conflictsResolved.Add(float64(len(change.ConflictsResolved)))
	openConflicts.Set(float64(len(r.mat.Conflicts())))
	if change.Rederived {
		rederivations.Inc()
	}

	for _, ref := range change.ConflictsOpened {
		r.logger.Info("conflict opened", "entity", ref.Entity, "field", ref.Field, "bundle", b.ID)
	}
	for _, ref := range change.ConflictsResolved {
		r.logger.Info("conflict resolved", "entity", ref.Entity, "field", ref.Field, "bundle", b.ID)
	}

	r.bus.Publish(events.Event{
		BundleID: b.ID,
		Actor:    b.Actor,
		Local:    origin == OriginLocal,
		Change:   change,
	})
	return Result{Accepted: true, Change: change}, nil
}

// checkLimits enforces the size bounds decode does not see, such as
// bundles built in memory rather than read off the wire.
func (r *Replica) checkLimits(b *oplog.Bundle) error {
	if r.limits.MaxMetadataSize > 0 && len(b.Metadata) > r.limits.MaxMetadataSize {
		return oplog.Errorf(oplog.CodeSizeExceeded, "metadata is %d bytes, limit %d",
			len(b.Metadata), r.limits.MaxMetadataSize).WithBundle(b.ID)
	}
	if r.limits.MaxClockEntries > 0 && len(b.Context) > r.limits.MaxClockEntries {
		return oplog.Errorf(oplog.CodeSizeExceeded, "causal context has %d entries, limit %d",
			len(b.Context), r.limits.MaxClockEntries).WithBundle(b.ID)
	}
	for _, op := range b.Operations {
		if r.limits.MaxPayloadSize > 0 && len(op.Raw) > r.limits.MaxPayloadSize {
			return oplog.Errorf(oplog.CodeSizeExceeded, "payload is %d bytes, limit %d",
				len(op.Raw), r.limits.MaxPayloadSize).WithBundle(b.ID).WithOp(op.ID)
		}
	}
	return nil
}
