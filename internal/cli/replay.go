package cli

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"slices"

	"github.com/spf13/cobra"

	"github.com/wlococode/openprod-sub001/internal/identity"
	"github.com/wlococode/openprod-sub001/internal/materializer"
	"github.com/wlococode/openprod-sub001/internal/oplog"
	"github.com/wlococode/openprod-sub001/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Shuffles int
	Seed     uint64
}

// ReplayOrder is the state hash produced by one arrival order.
type ReplayOrder struct {
	Name  string `json:"name"`
	Hash  string `json:"hash"`
	Match bool   `json:"match"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Bundles       int           `json:"bundles"`
	Operations    int           `json:"operations"`
	Actors        int           `json:"actors"`
	Hash          string        `json:"hash"`
	Orders        []ReplayOrder `json:"orders"`
	Deterministic bool          `json:"deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-derive state from the log and verify determinism",
		Long: `Verify every bundle in the log, then re-derive state from scratch with the
bundles arriving in canonical order, in reverse order and in several
shuffled orders. Every order must produce the same state hash.

Exit codes:
  0 - All orders produced the same state
  1 - Determinism verification failed (differences detected)
  2 - Command error (database not found, etc.)

Examples:
  openprod replay
  openprod replay --shuffles 10 --seed 7
  openprod replay --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Shuffles, "shuffles", 3, "number of shuffled arrival orders")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 1, "seed for shuffled orders")
	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	cfg := opts.Config

	sch, err := loadSchema(cfg)
	if err != nil {
		return err
	}
	ident, err := cfg.Identity()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid trusted actors", err)
	}
	if ring, ok := ident.(*identity.Keyring); ok {
		if key, err := loadKey(cfg); err == nil {
			ring.Add(key.Actor())
		}
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	bundles, stats, err := readVerified(ctx, st, ident)
	if err != nil {
		return WrapExitError(ExitFailure, "log verification failed", err)
	}
	fmter := opts.formatter(cmd)
	fmter.VerboseLog("verified %d bundles from %d actors", stats.Bundles, stats.Actors)

	orders := []arrival{
		{"canonical", bundles},
		{"reverse", reversed(bundles)},
	}
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	for i := range opts.Shuffles {
		shuffled := slices.Clone(bundles)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		orders = append(orders, arrival{fmt.Sprintf("shuffle-%d", i+1), shuffled})
	}

	result := ReplayResult{
		Bundles:       stats.Bundles,
		Operations:    stats.Operations,
		Actors:        stats.Actors,
		Deterministic: true,
	}
	for i, o := range orders {
		h, err := materializer.Rebuild(sch, o.bundles).Hash()
		if err != nil {
			return WrapExitError(ExitFailure, "failed to hash state", err)
		}
		if i == 0 {
			result.Hash = h
		}
		match := h == result.Hash
		result.Deterministic = result.Deterministic && match
		result.Orders = append(result.Orders, ReplayOrder{Name: o.name, Hash: h, Match: match})
		fmter.VerboseLog("%s: %s", o.name, h)
	}

	if err := fmter.Success(result, func(w io.Writer) { writeReplayText(w, result) }); err != nil {
		return err
	}
	if !result.Deterministic {
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	return nil
}

// arrival is one order in which a fresh replica could receive the log.
type arrival struct {
	name    string
	bundles []*oplog.Bundle
}

func readVerified(ctx context.Context, st store.Storage, ident identity.Provider) ([]*oplog.Bundle, store.LogStats, error) {
	var bundles []*oplog.Bundle
	stats, err := store.Replay(ctx, st, ident, func(b *oplog.Bundle) error {
		bundles = append(bundles, b)
		return nil
	})
	return bundles, stats, err
}

func reversed(bs []*oplog.Bundle) []*oplog.Bundle {
	out := slices.Clone(bs)
	slices.Reverse(out)
	return out
}

func writeReplayText(w io.Writer, result ReplayResult) {
	fmt.Fprintf(w, "Replayed %d bundle(s), %d operation(s) from %d actor(s)\n",
		result.Bundles, result.Operations, result.Actors)
	for _, o := range result.Orders {
		status := "ok"
		if !o.Match {
			status = "MISMATCH"
		}
		fmt.Fprintf(w, "  %-10s %s  %s\n", o.Name, o.Hash, status)
	}
	if result.Deterministic {
		fmt.Fprintln(w, "All orders produced the same state")
		return
	}
	fmt.Fprintln(w, "Determinism verification failed")
}
