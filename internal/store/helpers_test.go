package store

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wlococode/openprod-sub001/internal/hlc"
	"github.com/wlococode/openprod-sub001/internal/identity"
	"github.com/wlococode/openprod-sub001/internal/oplog"
	"github.com/wlococode/openprod-sub001/internal/vclock"
)

// createTestStore creates a new on-disk store under t.TempDir().
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// backends returns every Storage implementation under test.
func backends(t *testing.T) map[string]func() Storage {
	return map[string]func() Storage{
		"sqlite": func() Storage { return createTestStore(t) },
		"memory": func() Storage { return NewMemStore() },
	}
}

type testAuthor struct {
	key *identity.Keypair
	gen *oplog.SequentialGenerator
}

func newTestAuthor(t *testing.T, seed byte) *testAuthor {
	t.Helper()
	k, err := identity.FromSeed(bytes.Repeat([]byte{seed}, 32))
	require.NoError(t, err)
	return &testAuthor{key: k, gen: oplog.NewSequentialGenerator(seed, "s")}
}

// bundle seals a one-operation bundle at the given wall time.
func (a *testAuthor) bundle(t *testing.T, wall int64, entity oplog.EntityID) *oplog.Bundle {
	t.Helper()
	d := oplog.Draft{
		ID:      a.gen.NewOpID(),
		HLC:     hlc.Timestamp{Wall: wall},
		Payload: oplog.CreateEntity{Entity: entity},
	}
	b, err := oplog.Seal(a.key, oplog.BundleUserEdit, vclock.New(), []oplog.Draft{d}, nil)
	require.NoError(t, err)
	return b
}

func bundleIDs(bs []*oplog.Bundle) []oplog.BundleID {
	out := make([]oplog.BundleID, len(bs))
	for i, b := range bs {
		out[i] = b.ID
	}
	return out
}
