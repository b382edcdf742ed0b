package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/wlococode/openprod-sub001/internal/identity"
	"github.com/wlococode/openprod-sub001/internal/store"
)

// InitResult is the output of init.
type InitResult struct {
	Actor      string `json:"actor"`
	KeyFile    string `json:"key_file"`
	Database   string `json:"database"`
	KeyCreated bool   `json:"key_created"`
}

// NewInitCommand creates the init command.
func NewInitCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create an identity and an empty database",
		Long: `Create the actor key and the SQLite database for this replica. Running init
again keeps the existing key and log.

Examples:
  openprod init
  openprod init --data-dir ./replica-a`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(opts, cmd)
		},
	}
}

func runInit(opts *RootOptions, cmd *cobra.Command) error {
	cfg := opts.Config
	key, created, err := identity.LoadOrCreateKeyFile(cfg.KeyPath())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create identity", err)
	}

	dbPath := cfg.DatabasePath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return WrapExitError(ExitCommandError, "failed to create data directory", err)
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create database", err)
	}
	if err := st.Close(); err != nil {
		return WrapExitError(ExitCommandError, "failed to close database", err)
	}

	res := InitResult{
		Actor:      key.Actor().String(),
		KeyFile:    cfg.KeyPath(),
		Database:   dbPath,
		KeyCreated: created,
	}
	return opts.formatter(cmd).Success(res, func(w io.Writer) {
		if created {
			fmt.Fprintf(w, "Created identity %s\n", res.Actor)
		} else {
			fmt.Fprintf(w, "Using existing identity %s\n", res.Actor)
		}
		fmt.Fprintf(w, "Database: %s\n", res.Database)
	})
}

// NewIDCommand creates the id command.
func NewIDCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "id",
		Short: "Print the local actor ID",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := loadKey(opts.Config)
			if err != nil {
				return err
			}
			actor := key.Actor().String()
			return opts.formatter(cmd).Success(map[string]string{"actor": actor}, func(w io.Writer) {
				fmt.Fprintln(w, actor)
			})
		},
	}
}
