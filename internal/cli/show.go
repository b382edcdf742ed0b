package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/wlococode/openprod-sub001/internal/ir"
	"github.com/wlococode/openprod-sub001/internal/materializer"
	"github.com/wlococode/openprod-sub001/internal/oplog"
)

// TipOutput is one concurrent write of a conflicted field.
type TipOutput struct {
	Op    string     `json:"op"`
	Actor string     `json:"actor"`
	HLC   string     `json:"hlc"`
	Value ir.IRValue `json:"value,omitempty"`
}

// EntityOutput is the output of show.
type EntityOutput struct {
	ID         string                 `json:"id"`
	Deleted    bool                   `json:"deleted"`
	MergedInto string                 `json:"merged_into,omitempty"`
	Fields     map[string]ir.IRValue  `json:"fields"`
	Facets     map[string]bool        `json:"facets,omitempty"`
	Conflicts  map[string][]TipOutput `json:"conflicts,omitempty"`
	Children   []EdgeOutput           `json:"children,omitempty"`
}

// EdgeOutput is one edge in show output.
type EdgeOutput struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Target   string `json:"target"`
	Position string `json:"position,omitempty"`
}

// ConflictOutput is one open conflict.
type ConflictOutput struct {
	Entity string      `json:"entity"`
	Field  string      `json:"field"`
	Tips   []TipOutput `json:"tips"`
}

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
	EdgeTypes []string
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show <entity>",
		Short: "Show an entity's fields, facets and conflicts",
		Long: `Show the materialized state of one entity. A merged entity shows its
survivor.

Examples:
  openprod show task-1
  openprod show list-1 --edges child`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(opts, cmd, oplog.EntityID(args[0]))
		},
	}
	cmd.Flags().StringSliceVar(&opts.EdgeTypes, "edges", nil, "edge types whose children to list")
	return cmd
}

func runShow(opts *ShowOptions, cmd *cobra.Command, id oplog.EntityID) error {
	r, err := openReplica(cmd.Context(), opts.Config)
	if err != nil {
		return err
	}
	defer r.Close()

	view, ok := r.Entity(id)
	if !ok {
		return NewExitError(ExitFailure, fmt.Sprintf("entity %s not found", id))
	}
	out := EntityOutput{
		ID:         string(view.ID),
		Deleted:    view.Deleted,
		MergedInto: string(view.MergedInto),
		Fields:     view.Fields,
		Facets:     view.Facets,
		Conflicts:  make(map[string][]TipOutput, len(view.Conflicts)),
	}
	for field, tips := range view.Conflicts {
		out.Conflicts[field] = tipOutputs(tips)
	}
	for _, typ := range opts.EdgeTypes {
		for _, e := range r.Children(view.ID, typ) {
			out.Children = append(out.Children, EdgeOutput{
				ID:       string(e.ID),
				Type:     e.Type,
				Target:   string(e.Target),
				Position: e.Position,
			})
		}
	}

	return opts.formatter(cmd).Success(out, func(w io.Writer) {
		fmt.Fprintf(w, "Entity %s", out.ID)
		if out.Deleted {
			fmt.Fprint(w, " (deleted)")
		}
		if string(id) != out.ID {
			fmt.Fprintf(w, " (merged from %s)", id)
		}
		fmt.Fprintln(w)
		for _, k := range slices.Sorted(maps.Keys(out.Fields)) {
			marker := ""
			if _, conflicted := out.Conflicts[k]; conflicted {
				marker = "  [conflict]"
			}
			fmt.Fprintf(w, "  %s = %s%s\n", k, render(out.Fields[k]), marker)
		}
		for _, k := range slices.Sorted(maps.Keys(out.Facets)) {
			state := "detached"
			if out.Facets[k] {
				state = "attached"
			}
			fmt.Fprintf(w, "  facet %s: %s\n", k, state)
		}
		for _, e := range out.Children {
			fmt.Fprintf(w, "  -%s-> %s  (%s)\n", e.Type, e.Target, e.ID)
		}
	})
}

// NewConflictsCommand creates the conflicts command.
func NewConflictsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "List open field conflicts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openReplica(cmd.Context(), opts.Config)
			if err != nil {
				return err
			}
			defer r.Close()

			records := r.Conflicts()
			out := make([]ConflictOutput, len(records))
			for i, c := range records {
				out[i] = ConflictOutput{Entity: string(c.Entity), Field: c.Field, Tips: tipOutputs(c.Tips)}
			}
			return opts.formatter(cmd).Success(out, func(w io.Writer) {
				if len(out) == 0 {
					fmt.Fprintln(w, "No open conflicts.")
					return
				}
				for _, c := range out {
					fmt.Fprintf(w, "%s.%s\n", c.Entity, c.Field)
					for _, t := range c.Tips {
						fmt.Fprintf(w, "  %s  %s  %s\n", t.HLC, t.Actor, render(t.Value))
					}
				}
			})
		},
	}
}

func tipOutputs(tips []materializer.Tip) []TipOutput {
	out := make([]TipOutput, len(tips))
	for i, t := range tips {
		out[i] = TipOutput{
			Op:    t.OpID.String(),
			Actor: t.Actor.Short(),
			HLC:   t.HLC.String(),
			Value: t.Value,
		}
	}
	return out
}

// render prints a value as canonical JSON; a nil value is a clear.
func render(v ir.IRValue) string {
	if v == nil {
		return "<cleared>"
	}
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(b)
}
