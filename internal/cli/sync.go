package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/spf13/cobra"

	"github.com/wlococode/openprod-sub001/internal/peersync"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync <addr>",
		Short: "Run one sync round with a peer",
		Long: `Connect to a peer running 'openprod serve', pull what it has, push what it
lacks and compare state hashes.

Exit codes:
  0 - Session completed
  1 - Replicas diverged: equal clocks but different state
  2 - Command error (peer unreachable, protocol error, ...)

Examples:
  openprod sync 10.0.0.7:7420`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd, args[0])
		},
	}
}

func runSync(opts *RootOptions, cmd *cobra.Command, addr string) error {
	cfg := opts.Config
	logger := slog.Default()
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Sync.Timeout)
	defer cancel()

	r, err := openReplica(ctx, cfg)
	if err != nil {
		return err
	}
	defer r.Close()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to reach peer", err)
	}
	defer conn.Close()

	rep, err := peersync.Sync(ctx, r, conn, syncOptions(cfg, logger)...)
	if err != nil {
		return WrapExitError(ExitCommandError, "sync failed", err)
	}

	if err := opts.formatter(cmd).Success(rep, func(w io.Writer) { writeReport(w, rep) }); err != nil {
		return err
	}
	if rep.Divergent {
		return NewExitError(ExitFailure, "replicas diverged")
	}
	return nil
}

func writeReport(w io.Writer, rep peersync.Report) {
	fmt.Fprintf(w, "Pulled %d, pushed %d, %d duplicate(s)\n", rep.Pulled, rep.Pushed, rep.Duplicates)
	for _, rj := range rep.Rejected {
		fmt.Fprintf(w, "  %s rejected %s from %s: %s\n", rj.Direction, rj.BundleID, rj.Actor.Short(), rj.Reason)
	}
	if rep.Stalled {
		fmt.Fprintln(w, "  pull stopped early; run sync again")
	}
	switch {
	case rep.Divergent:
		fmt.Fprintf(w, "DIVERGED: local %s, peer %s\n", rep.LocalHash, rep.RemoteHash)
	case rep.Converged:
		fmt.Fprintf(w, "In sync: %s\n", rep.LocalHash)
	default:
		fmt.Fprintln(w, "Replicas differ; some bundles were held back")
	}
}
