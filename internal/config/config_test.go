package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wlococode/openprod-sub001/internal/identity"
	"github.com/wlococode/openprod-sub001/internal/oplog"
	"github.com/wlococode/openprod-sub001/internal/testutil"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "openprod.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", false)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(".openprod", "openprod.db"), cfg.DatabasePath())
	assert.Equal(t, filepath.Join(".openprod", "identity.key"), cfg.KeyPath())
	assert.Equal(t, oplog.DefaultLimits, cfg.OplogLimits())
	assert.Equal(t, 5*time.Minute, cfg.MaxClockDrift)

	id, err := cfg.Identity()
	require.NoError(t, err)
	assert.IsType(t, identity.Open{}, id)
}

func TestLoad_MissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")

	_, err := Load(missing, false)
	assert.NoError(t, err)

	_, err = Load(missing, true)
	assert.Error(t, err)
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	path := writeFile(t, `
data_dir: /var/lib/openprod
log_level: debug
max_clock_drift: 90s
limits:
  max_ops_per_bundle: 50
sync:
  listen: 0.0.0.0:9000
  page_size: 10
`)
	t.Setenv("OPENPROD_SYNC_PAGE_SIZE", "20")
	t.Setenv("OPENPROD_DATABASE", "/tmp/other.db")

	cfg, err := Load(path, true)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/other.db", cfg.DatabasePath())
	assert.Equal(t, filepath.Join("/var/lib/openprod", "identity.key"), cfg.KeyPath())
	assert.Equal(t, 90*time.Second, cfg.MaxClockDrift)
	assert.Equal(t, 50, cfg.OplogLimits().MaxOpsPerBundle)
	assert.Equal(t, oplog.DefaultLimits.MaxPayloadSize, cfg.OplogLimits().MaxPayloadSize)
	assert.Equal(t, "0.0.0.0:9000", cfg.Sync.Listen)
	assert.Equal(t, 20, cfg.Sync.PageSize)

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoad_TrustedActors(t *testing.T) {
	alice := testutil.Key("alice").Actor()
	bob := testutil.Key("bob").Actor()
	t.Setenv("OPENPROD_TRUSTED_ACTORS", alice.String()+","+bob.String())

	cfg, err := Load("", false)
	require.NoError(t, err)
	id, err := cfg.Identity()
	require.NoError(t, err)

	_, err = id.PublicKey(alice)
	assert.NoError(t, err)
	_, err = id.PublicKey(testutil.Key("mallory").Actor())
	assert.ErrorIs(t, err, identity.ErrUnknownActor)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad yaml", "data_dir: [unterminated"},
		{"bad level", "log_level: loud"},
		{"bad actor", "trusted_actors: [zz]"},
		{"zero drift", "max_clock_drift: 0s"},
		{"zero page", "sync: {page_size: 0}"},
		{"negative limit", "limits: {max_ops_per_bundle: -1}"},
		{"zero timeout", "sync: {timeout: 0s}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.body), true)
			assert.Error(t, err)
		})
	}
}
