package store

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/wlococode/openprod-sub001/internal/oplog"
	"github.com/wlococode/openprod-sub001/internal/vclock"
)

// MemStore is an in-memory Storage. It keeps the same ordering and
// idempotency guarantees as Store.
type MemStore struct {
	mu      sync.Mutex
	bundles map[oplog.BundleID]*oplog.Bundle
	ordered []*oplog.Bundle
	clock   vclock.VectorClock
	state   map[string]map[string][]byte
	meta    map[string]string
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		bundles: make(map[oplog.BundleID]*oplog.Bundle),
		clock:   vclock.New(),
		state:   make(map[string]map[string][]byte),
		meta:    make(map[string]string),
	}
}

// AppendBundle implements Storage.
func (m *MemStore) AppendBundle(_ context.Context, b *oplog.Bundle) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bundles[b.ID]; ok {
		return false, nil
	}
	m.bundles[b.ID] = b
	idx, _ := slices.BinarySearchFunc(m.ordered, b, func(x, target *oplog.Bundle) int {
		return oplog.CompareBundles(x, target)
	})
	m.ordered = slices.Insert(m.ordered, idx, b)
	m.clock.Update(b.Actor, b.HLC)
	return true, nil
}

// HasBundle implements Storage.
func (m *MemStore) HasBundle(_ context.Context, id oplog.BundleID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.bundles[id]
	return ok, nil
}

// ReadBundles implements Storage.
func (m *MemStore) ReadBundles(context.Context) ([]*oplog.Bundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.ordered), nil
}

// BundlesSince implements Storage.
func (m *MemStore) BundlesSince(_ context.Context, since vclock.VectorClock, limit int) ([]*oplog.Bundle, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*oplog.Bundle{}
	for _, b := range m.ordered {
		if since.HasSeen(b.Actor, b.HLC) {
			continue
		}
		if limit > 0 && len(out) == limit {
			return out, false, nil
		}
		out = append(out, b)
	}
	return out, true, nil
}

// VectorClock implements Storage.
func (m *MemStore) VectorClock(context.Context) (vclock.VectorClock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clock.Clone(), nil
}

// WriteState implements Storage.
func (m *MemStore) WriteState(_ context.Context, rows []StateRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		kind, ok := m.state[r.Kind]
		if !ok {
			kind = make(map[string][]byte)
			m.state[r.Kind] = kind
		}
		if r.Doc == nil {
			delete(kind, r.ID)
			continue
		}
		kind[r.ID] = slices.Clone(r.Doc)
	}
	return nil
}

// ReadState implements Storage.
func (m *MemStore) ReadState(_ context.Context, kind string) ([]StateRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.state[kind]
	out := make([]StateRow, 0, len(rows))
	for _, id := range slices.Sorted(maps.Keys(rows)) {
		out = append(out, StateRow{Kind: kind, ID: id, Doc: slices.Clone(rows[id])})
	}
	return out, nil
}

// Meta implements Storage.
func (m *MemStore) Meta(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.meta[key]
	return v, ok, nil
}

// SetMeta implements Storage.
func (m *MemStore) SetMeta(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta[key] = value
	return nil
}

// Close implements Storage.
func (m *MemStore) Close() error { return nil }
