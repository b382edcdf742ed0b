// Package config loads replica settings from an optional YAML file and
// OPENPROD_* environment variables. Environment values override the
// file; command-line flags override both.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/wlococode/openprod-sub001/internal/hlc"
	"github.com/wlococode/openprod-sub001/internal/identity"
	"github.com/wlococode/openprod-sub001/internal/oplog"
	"github.com/wlococode/openprod-sub001/internal/wire"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "OPENPROD_"

// Config holds all replica settings.
type Config struct {
	// DataDir holds the database and key file unless they are set
	// explicitly.
	DataDir  string `yaml:"data_dir" env:"DATA_DIR"`
	Database string `yaml:"database" env:"DATABASE"`
	KeyFile  string `yaml:"key_file" env:"KEY_FILE"`

	// Schema is a CUE file or directory. Empty means no CRDT fields and
	// no ordered edges.
	Schema string `yaml:"schema" env:"SCHEMA"`

	// TrustedActors restricts accepted authors. Empty accepts any
	// correctly signed bundle.
	TrustedActors []string `yaml:"trusted_actors" env:"TRUSTED_ACTORS" envSeparator:","`

	LogLevel      string        `yaml:"log_level" env:"LOG_LEVEL"`
	MaxClockDrift time.Duration `yaml:"max_clock_drift" env:"MAX_CLOCK_DRIFT"`

	Limits LimitsConfig `yaml:"limits" envPrefix:"LIMIT_"`
	Sync   SyncConfig   `yaml:"sync" envPrefix:"SYNC_"`
}

// LimitsConfig bounds what a replica accepts.
type LimitsConfig struct {
	MaxOpsPerBundle int `yaml:"max_ops_per_bundle" env:"MAX_OPS_PER_BUNDLE"`
	MaxPayloadSize  int `yaml:"max_payload_size" env:"MAX_PAYLOAD_SIZE"`
	MaxMetadataSize int `yaml:"max_metadata_size" env:"MAX_METADATA_SIZE"`
	MaxClockEntries int `yaml:"max_clock_entries" env:"MAX_CLOCK_ENTRIES"`
}

// SyncConfig holds sync server and client settings.
type SyncConfig struct {
	Listen      string        `yaml:"listen" env:"LISTEN"`
	MetricsAddr string        `yaml:"metrics_addr" env:"METRICS_ADDR"`
	PageSize    int           `yaml:"page_size" env:"PAGE_SIZE"`
	MaxFrame    int           `yaml:"max_frame" env:"MAX_FRAME"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		DataDir:       ".openprod",
		LogLevel:      "info",
		MaxClockDrift: hlc.DefaultMaxDrift,
		Limits: LimitsConfig{
			MaxOpsPerBundle: oplog.DefaultLimits.MaxOpsPerBundle,
			MaxPayloadSize:  oplog.DefaultLimits.MaxPayloadSize,
			MaxMetadataSize: oplog.DefaultLimits.MaxMetadataSize,
			MaxClockEntries: oplog.DefaultLimits.MaxClockEntries,
		},
		Sync: SyncConfig{
			Listen:   "127.0.0.1:7420",
			PageSize: 256,
			MaxFrame: wire.DefaultMaxFrame,
			Timeout:  2 * time.Minute,
		},
	}
}

// Load reads path (if non-empty) over the defaults, then applies the
// environment. A missing file is an error only when required is set.
func Load(path string, required bool) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist) && !required:
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no replica could run with.
func (c *Config) Validate() error {
	if c.DataDir == "" && (c.Database == "" || c.KeyFile == "") {
		return fmt.Errorf("config: data_dir is required unless database and key_file are set")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if _, err := c.Identity(); err != nil {
		return err
	}
	if c.MaxClockDrift <= 0 {
		return fmt.Errorf("config: max_clock_drift must be positive")
	}
	l := c.Limits
	if l.MaxOpsPerBundle <= 0 || l.MaxPayloadSize <= 0 || l.MaxMetadataSize < 0 || l.MaxClockEntries <= 0 {
		return fmt.Errorf("config: limits must be positive")
	}
	if c.Sync.PageSize <= 0 || c.Sync.MaxFrame <= 0 {
		return fmt.Errorf("config: sync page_size and max_frame must be positive")
	}
	if c.Sync.Timeout <= 0 {
		return fmt.Errorf("config: sync timeout must be positive")
	}
	return nil
}

// DatabasePath is the SQLite file.
func (c *Config) DatabasePath() string {
	if c.Database != "" {
		return c.Database
	}
	return filepath.Join(c.DataDir, "openprod.db")
}

// KeyPath is the actor key file.
func (c *Config) KeyPath() string {
	if c.KeyFile != "" {
		return c.KeyFile
	}
	return filepath.Join(c.DataDir, "identity.key")
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: log_level: %w", err)
	}
	return l, nil
}

// OplogLimits converts Limits.
func (c *Config) OplogLimits() oplog.Limits {
	return oplog.Limits{
		MaxOpsPerBundle: c.Limits.MaxOpsPerBundle,
		MaxPayloadSize:  c.Limits.MaxPayloadSize,
		MaxMetadataSize: c.Limits.MaxMetadataSize,
		MaxClockEntries: c.Limits.MaxClockEntries,
	}
}

// Identity returns the author allowlist, or identity.Open{} when
// TrustedActors is empty. The local actor is added by the caller.
func (c *Config) Identity() (identity.Provider, error) {
	if len(c.TrustedActors) == 0 {
		return identity.Open{}, nil
	}
	ring := identity.NewKeyring()
	for _, s := range c.TrustedActors {
		a, err := identity.ParseActorID(s)
		if err != nil {
			return nil, fmt.Errorf("config: trusted_actors: %w", err)
		}
		ring.Add(a)
	}
	return ring, nil
}
