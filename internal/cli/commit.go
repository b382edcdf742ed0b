package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/wlococode/openprod-sub001/internal/materializer"
	"github.com/wlococode/openprod-sub001/internal/opscript"
)

// CommitOptions holds flags for the commit command.
type CommitOptions struct {
	*RootOptions
	File string
}

// CommitResult is the output of commit.
type CommitResult struct {
	Bundle            string             `json:"bundle"`
	Operations        int                `json:"operations"`
	Bindings          []opscript.Binding `json:"bindings,omitempty"`
	ConflictsOpened   []string           `json:"conflicts_opened,omitempty"`
	ConflictsResolved []string           `json:"conflicts_resolved,omitempty"`
}

// NewCommitCommand creates the commit command.
func NewCommitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CommitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Commit a bundle described in YAML",
		Long: `Commit the operations of a YAML file as one signed bundle.

Exit codes:
  0 - Bundle accepted
  1 - Bundle rejected (schema violation, collision, ...)
  2 - Command error

Examples:
  openprod commit -f edit.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommit(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "bundle YAML file (required)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runCommit(opts *CommitOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	script, err := opscript.Load(opts.File)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load bundle file", err)
	}

	r, err := openReplica(ctx, opts.Config)
	if err != nil {
		return err
	}
	defer r.Close()

	names := opscript.NewNames()
	b, err := script.Build(r, names)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid bundle file", err)
	}
	bundle, res, err := r.Commit(ctx, b)
	if err != nil {
		return WrapExitError(ExitFailure, "bundle rejected", err)
	}

	out := CommitResult{
		Bundle:            bundle.ID.String(),
		Operations:        len(bundle.Operations),
		Bindings:          names.Bindings(),
		ConflictsOpened:   refStrings(res.Change.ConflictsOpened),
		ConflictsResolved: refStrings(res.Change.ConflictsResolved),
	}
	return opts.formatter(cmd).Success(out, func(w io.Writer) {
		fmt.Fprintf(w, "Committed bundle %s (%d ops)\n", out.Bundle, out.Operations)
		for _, b := range out.Bindings {
			fmt.Fprintf(w, "  %s %s = %s\n", b.Kind, b.Name, b.ID)
		}
		for _, c := range out.ConflictsOpened {
			fmt.Fprintf(w, "  conflict opened: %s\n", c)
		}
		for _, c := range out.ConflictsResolved {
			fmt.Fprintf(w, "  conflict resolved: %s\n", c)
		}
	})
}

func refStrings(refs []materializer.FieldRef) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.String()
	}
	return out
}
