package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_All(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			s, err := LoadScenario(path)
			require.NoError(t, err)
			assert.NotEmpty(t, s.Name)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("testdata/scenarios/nope.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_StepKinds(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: kinds
description: one of each
peers: [a, b]
steps:
  - peer: a
    commit:
      ops: [{op: create_entity, entity: x}]
  - sync: [a, b]
    page_size: 2
  - advance: 1s
assertions:
  - type: converged
`))
	require.NoError(t, err)
	require.Len(t, s.Steps, 3)
	assert.Equal(t, StepCommit, s.Steps[0].Kind())
	assert.Equal(t, StepSync, s.Steps[1].Kind())
	assert.Equal(t, 2, s.Steps[1].PageSize)
	assert.Equal(t, StepAdvance, s.Steps[2].Kind())
}

func TestParseScenario_Invalid(t *testing.T) {
	const head = "name: bad\ndescription: d\npeers: [a, b]\n"
	const okStep = "steps:\n  - sync: [a, b]\n"
	const okAssert = "assertions:\n  - type: converged\n"

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no name", "description: d\npeers: [a]\n" + okStep + okAssert, "name is required"},
		{"no peers", "name: n\ndescription: d\n" + okStep + okAssert, "peers list is required"},
		{"duplicate peer", "name: n\ndescription: d\npeers: [a, a]\n" + okStep + okAssert, "duplicate peer"},
		{"unknown trusted", head + "trusted: [z]\n" + okStep + okAssert, "unknown peer"},
		{"no steps", head + okAssert, "steps list is required"},
		{"no assertions", head + okStep, "assertions list is required"},
		{"typo", head + okStep + okAssert + "asserts: []\n", "field asserts not found"},
		{"two kinds", head + "steps:\n  - {sync: [a, b], advance: 1s}\n" + okAssert, "exactly one of"},
		{"empty step", head + "steps:\n  - {peer: a}\n" + okAssert, "exactly one of"},
		{"commit without peer", head + "steps:\n  - commit: {ops: [{op: create_entity, entity: x}]}\n" + okAssert, "commit needs a peer"},
		{"bad op", head + "steps:\n  - peer: a\n    commit: {ops: [{op: fly}]}\n" + okAssert, "fly"},
		{"self sync", head + "steps:\n  - sync: [a, a]\n" + okAssert, "itself"},
		{"sync arity", head + "steps:\n  - sync: [a]\n" + okAssert, "initiator, responder"},
		{"sync unknown", head + "steps:\n  - sync: [a, z]\n" + okAssert, "unknown peer"},
		{"bad duration", head + "steps:\n  - advance: soon\n" + okAssert, "advance"},
		{"backwards", head + "steps:\n  - advance: -1s\n" + okAssert, "forward"},
		{"expect on sync", head + "steps:\n  - {sync: [a, b], expect: X}\n" + okAssert, "expect only applies"},
		{"unknown assertion", head + okStep + "assertions:\n  - type: vibes\n", "unknown assertion type"},
		{"field without value", head + okStep + "assertions:\n  - {type: field, entity: x, field: f}\n", "exactly one of value or absent"},
		{"field value and absent", head + okStep + "assertions:\n  - {type: field, entity: x, field: f, value: 1, absent: true}\n", "exactly one of value or absent"},
		{"text without text", head + okStep + "assertions:\n  - {type: text, entity: x, field: f}\n", "text are required"},
		{"edge_order without edge", head + okStep + "assertions:\n  - {type: edge_order, source: x}\n", "source and edge"},
		{"assert unknown peer", head + okStep + "assertions:\n  - {type: no_conflict, peer: z, entity: x, field: f}\n", "unknown peer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
