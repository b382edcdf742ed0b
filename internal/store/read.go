package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wlococode/openprod-sub001/internal/hlc"
	"github.com/wlococode/openprod-sub001/internal/identity"
	"github.com/wlococode/openprod-sub001/internal/oplog"
	"github.com/wlococode/openprod-sub001/internal/vclock"
)

// HasBundle reports whether a bundle with id is stored.
func (s *Store) HasBundle(ctx context.Context, id oplog.BundleID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM bundles WHERE id = ?`, id[:]).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has bundle: %w", err)
	}
	return true, nil
}

// ReadBundles returns every stored bundle ordered by hlc ASC, id ASC.
func (s *Store) ReadBundles(ctx context.Context) ([]*oplog.Bundle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record
		FROM bundles
		ORDER BY hlc_wall ASC, hlc_counter ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query bundles: %w", err)
	}
	return s.scanBundles(rows)
}

// BundlesSince selects, per actor, the bundles newer than since's entry for
// that actor, then merges them into canonical order and truncates at limit.
// Truncating a globally HLC-ordered list leaves a prefix of every actor's
// range, so a receiver that applies the page and asks again with its new
// clock misses nothing.
func (s *Store) BundlesSince(ctx context.Context, since vclock.VectorClock, limit int) ([]*oplog.Bundle, bool, error) {
	own, err := s.VectorClock(ctx)
	if err != nil {
		return nil, false, err
	}

	var out []*oplog.Bundle
	for _, actor := range own.Actors() {
		from := since.Get(actor)
		rows, err := s.db.QueryContext(ctx, `
			SELECT record
			FROM bundles
			WHERE actor = ?
			  AND (hlc_wall > ? OR (hlc_wall = ? AND hlc_counter > ?))
			ORDER BY hlc_wall ASC, hlc_counter ASC, id ASC
		`, actor[:], from.Wall, from.Wall, int64(from.Counter))
		if err != nil {
			return nil, false, fmt.Errorf("query bundles since: %w", err)
		}
		bs, err := s.scanBundles(rows)
		if err != nil {
			return nil, false, err
		}
		out = append(out, bs...)
	}

	oplog.SortBundles(out)
	if limit > 0 && len(out) > limit {
		return out[:limit], false, nil
	}
	return out, true, nil
}

func (s *Store) scanBundles(rows *sql.Rows) ([]*oplog.Bundle, error) {
	defer rows.Close()

	bundles := []*oplog.Bundle{}
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("scan bundle: %w", err)
		}
		b, err := oplog.DecodeBundle(record, s.limits)
		if err != nil {
			return nil, fmt.Errorf("decode stored bundle: %w", err)
		}
		bundles = append(bundles, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bundles: %w", err)
	}
	return bundles, nil
}

// VectorClock returns the highest stored HLC per actor.
func (s *Store) VectorClock(ctx context.Context) (vclock.VectorClock, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT actor, hlc_wall, hlc_counter FROM actor_clocks`)
	if err != nil {
		return nil, fmt.Errorf("query actor clocks: %w", err)
	}
	defer rows.Close()

	vc := vclock.New()
	for rows.Next() {
		var (
			raw     []byte
			wall    int64
			counter int64
		)
		if err := rows.Scan(&raw, &wall, &counter); err != nil {
			return nil, fmt.Errorf("scan actor clock: %w", err)
		}
		var actor identity.ActorID
		if len(raw) != len(actor) {
			return nil, fmt.Errorf("actor clock: bad actor length %d", len(raw))
		}
		copy(actor[:], raw)
		vc.Update(actor, hlc.Timestamp{Wall: wall, Counter: uint32(counter)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actor clocks: %w", err)
	}
	return vc, nil
}

// ReadState returns the rows of kind ordered by id.
func (s *Store) ReadState(ctx context.Context, kind string) ([]StateRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, id, doc
		FROM state_rows
		WHERE kind = ?
		ORDER BY id COLLATE BINARY ASC
	`, kind)
	if err != nil {
		return nil, fmt.Errorf("query state: %w", err)
	}
	defer rows.Close()

	out := []StateRow{}
	for rows.Next() {
		var (
			r   StateRow
			doc string
		)
		if err := rows.Scan(&r.Kind, &r.ID, &doc); err != nil {
			return nil, fmt.Errorf("scan state row: %w", err)
		}
		r.Doc = []byte(doc)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state: %w", err)
	}
	return out, nil
}

// Meta reads a replica-level setting.
func (s *Store) Meta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("meta %q: %w", key, err)
	}
	return value, true, nil
}

// OperationCount returns the number of stored operations.
func (s *Store) OperationCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM operations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count operations: %w", err)
	}
	return n, nil
}
