package store

import (
	"context"
	"fmt"

	"github.com/wlococode/openprod-sub001/internal/oplog"
)

// AppendBundle inserts a bundle, its operations and the author's clock
// advance in one transaction.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - a duplicate bundle
// returns inserted=false and changes nothing. An operation ID already in the
// log is skipped inside an otherwise new bundle; the materializer applies it
// once, as with MemStore.
func (s *Store) AppendBundle(ctx context.Context, b *oplog.Bundle) (inserted bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("append bundle: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO bundles
		(id, actor, hlc_wall, hlc_counter, bundle_type, record)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		b.ID[:],
		b.Actor[:],
		b.HLC.Wall,
		int64(b.HLC.Counter),
		string(b.Type),
		oplog.EncodeBundle(b),
	)
	if err != nil {
		return false, fmt.Errorf("append bundle: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("append bundle: rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	for _, op := range b.Operations {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO operations
			(id, bundle_id, actor, hlc_wall, hlc_counter, kind, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`,
			op.ID[:],
			b.ID[:],
			op.Actor[:],
			op.HLC.Wall,
			int64(op.HLC.Counter),
			string(op.Payload.Kind()),
			string(op.Raw),
		)
		if err != nil {
			return false, fmt.Errorf("append bundle: operation %s: %w", op.ID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO actor_clocks (actor, hlc_wall, hlc_counter)
		VALUES (?, ?, ?)
		ON CONFLICT(actor) DO UPDATE SET
			hlc_wall = excluded.hlc_wall,
			hlc_counter = excluded.hlc_counter
		WHERE excluded.hlc_wall > actor_clocks.hlc_wall
		   OR (excluded.hlc_wall = actor_clocks.hlc_wall AND excluded.hlc_counter > actor_clocks.hlc_counter)
	`,
		b.Actor[:],
		b.HLC.Wall,
		int64(b.HLC.Counter),
	)
	if err != nil {
		return false, fmt.Errorf("append bundle: advance clock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("append bundle: commit: %w", err)
	}
	return true, nil
}

// WriteState upserts materialized rows; rows with a nil Doc are removed.
func (s *Store) WriteState(ctx context.Context, rows []StateRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write state: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, r := range rows {
		if r.Doc == nil {
			if _, err := tx.ExecContext(ctx, `DELETE FROM state_rows WHERE kind = ? AND id = ?`, r.Kind, r.ID); err != nil {
				return fmt.Errorf("write state: delete %s %s: %w", r.Kind, r.ID, err)
			}
			continue
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO state_rows (kind, id, doc)
			VALUES (?, ?, ?)
			ON CONFLICT(kind, id) DO UPDATE SET doc = excluded.doc
		`, r.Kind, r.ID, string(r.Doc))
		if err != nil {
			return fmt.Errorf("write state: %s %s: %w", r.Kind, r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write state: commit: %w", err)
	}
	return nil
}

// SetMeta stores a replica-level setting.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set meta %q: %w", key, err)
	}
	return nil
}
