package harness

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/wlococode/openprod-sub001/internal/materializer"
)

// Snapshot renders a result as stable text: the step outcomes, then the
// state of each group of peers with equal state hashes. Nothing in it
// depends on key material or hashes, so it reads well in review.
func Snapshot(name string, result *Result) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", name)
	b.WriteString("steps:\n")
	for _, e := range result.Trace {
		fmt.Fprintf(&b, "  %d. %s %s: %s\n", e.Step, e.Kind, strings.Join(e.Peers, " "), e.Summary)
	}

	var groups [][]PeerState
	for _, p := range result.Peers {
		i := slices.IndexFunc(groups, func(g []PeerState) bool { return g[0].Hash == p.Hash })
		if i < 0 {
			groups = append(groups, []PeerState{p})
			continue
		}
		groups[i] = append(groups[i], p)
	}
	for _, g := range groups {
		names := make([]string, len(g))
		for i, p := range g {
			names[i] = p.Name
		}
		fmt.Fprintf(&b, "state %s:\n", strings.Join(names, " "))
		for _, v := range g[0].Entities {
			writeEntity(&b, v)
		}
	}
	return []byte(b.String())
}

func writeEntity(b *strings.Builder, v materializer.EntityView) {
	switch {
	case v.MergedInto != "":
		fmt.Fprintf(b, "  %s -> %s\n", v.ID, v.MergedInto)
		return
	case v.Deleted:
		fmt.Fprintf(b, "  %s (deleted)\n", v.ID)
	default:
		fmt.Fprintf(b, "  %s\n", v.ID)
	}
	for _, k := range slices.Sorted(maps.Keys(v.Fields)) {
		if tips, ok := v.Conflicts[k]; ok {
			vals := make([]string, len(tips))
			for i, t := range tips {
				vals[i] = render(t.Value)
			}
			slices.Sort(vals)
			fmt.Fprintf(b, "    %s = conflict [%s]\n", k, strings.Join(vals, " "))
			continue
		}
		fmt.Fprintf(b, "    %s = %s\n", k, render(v.Fields[k]))
	}
	for _, k := range slices.Sorted(maps.Keys(v.Facets)) {
		state := "detached"
		if v.Facets[k] {
			state = "attached"
		}
		fmt.Fprintf(b, "    facet %s: %s\n", k, state)
	}
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares the snapshot of an existing result against a
// golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, Snapshot(scenarioName, result))
}
