package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/wlococode/openprod-sub001/internal/config"
	"github.com/wlococode/openprod-sub001/internal/crdt"
	"github.com/wlococode/openprod-sub001/internal/hlc"
	"github.com/wlococode/openprod-sub001/internal/identity"
	"github.com/wlococode/openprod-sub001/internal/replica"
	"github.com/wlococode/openprod-sub001/internal/schema"
	"github.com/wlococode/openprod-sub001/internal/store"
)

// loadKey reads the local actor key created by init.
func loadKey(cfg *config.Config) (*identity.Keypair, error) {
	k, err := identity.LoadKeyFile(cfg.KeyPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("no identity at %s; run 'openprod init'", cfg.KeyPath()))
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load identity", err)
	}
	return k, nil
}

// loadSchema loads the configured schema directory, or an empty schema.
func loadSchema(cfg *config.Config) (*schema.Schema, error) {
	if cfg.Schema == "" {
		return schema.New(), nil
	}
	s, err := schema.LoadDir(cfg.Schema)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load schema", err)
	}
	if err := s.Validate(crdt.DefaultRegistry().Kinds()); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid schema", err)
	}
	return s, nil
}

// openStore opens an existing database; it never creates one.
func openStore(cfg *config.Config) (*store.Store, error) {
	path := cfg.DatabasePath()
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s; run 'openprod init'", path))
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// openReplica opens the local replica described by cfg.
func openReplica(ctx context.Context, cfg *config.Config) (*replica.Replica, error) {
	key, err := loadKey(cfg)
	if err != nil {
		return nil, err
	}
	sch, err := loadSchema(cfg)
	if err != nil {
		return nil, err
	}
	ident, err := cfg.Identity()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid trusted actors", err)
	}
	if ring, ok := ident.(*identity.Keyring); ok {
		ring.Add(key.Actor())
	}
	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	r, err := replica.Open(ctx, replica.Options{
		Key:      key,
		Storage:  st,
		Schema:   sch,
		Identity: ident,
		Clock:    hlc.NewClock(hlc.WithMaxDrift(cfg.MaxClockDrift)),
		Limits:   cfg.OplogLimits(),
		Logger:   slog.Default(),
	})
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open replica", err)
	}
	return r, nil
}
