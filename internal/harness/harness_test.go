package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Scenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)

	for _, path := range paths {
		t.Run(strings.TrimSuffix(filepath.Base(path), ".yaml"), func(t *testing.T) {
			s, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(s)
			require.NoError(t, err)
			assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
			assert.Len(t, result.Trace, len(s.Steps))
		})
	}
}

func TestRun_IsDeterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/concurrent_field.yaml")
	require.NoError(t, err)

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	require.Len(t, second.Peers, len(first.Peers))
	for i := range first.Peers {
		assert.Equal(t, first.Peers[i].Hash, second.Peers[i].Hash)
		assert.True(t, first.Peers[i].Clock.Equal(second.Peers[i].Clock))
	}
}

func TestRun_DriftIsReportedAsRejection(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/clock_drift.yaml")
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	require.Len(t, result.Trace, 7)
	assert.Contains(t, result.Trace[4].Summary, "pull rejected future_hlc")
	assert.NotContains(t, result.Trace[4].Summary, "converged")
	assert.Equal(t, "pulled 1, pushed 0, converged", result.Trace[6].Summary)
}

func TestRun_LateWriteReopensResolvedConflict(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/conflict_reopen.yaml")
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	require.True(t, result.Pass, strings.Join(result.Errors, "\n"))
	require.Len(t, result.Trace, 12)
	assert.Equal(t, "1 ops", result.Trace[8].Summary)
	assert.Equal(t, "pulled 1, pushed 0, converged", result.Trace[9].Summary)
	assert.Equal(t, "pulled 3, pushed 1, converged", result.Trace[10].Summary)

	// The resolution left no conflict until c's earlier write arrived.
	resolved := &Scenario{
		Name:   "resolved",
		Schema: s.Schema,
		Peers:  s.Peers,
		Steps:  s.Steps[:10],
		Assertions: []Assertion{
			{Type: AssertConverged, Peers: []string{"a", "b"}},
			{Type: AssertNoConflict, Peer: "a", Entity: "task-1", Field: "title"},
			{Type: AssertNoConflict, Peer: "b", Entity: "task-1", Field: "title"},
			{Type: AssertField, Peer: "b", Entity: "task-1", Field: "title", Value: "Agreed"},
		},
	}
	result, err = Run(resolved)
	require.NoError(t, err)
	assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
}

func TestRun_UntrustedPushIsRefused(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/untrusted_author.yaml")
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.Contains(t, result.Trace[3].Summary, "push rejected unknown_actor")

	a, _ := result.Peer("a")
	m, _ := result.Peer("mallory")
	assert.NotEqual(t, a.Hash, m.Hash)
}

func TestRun_UnexpectedCommitOutcome(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: wrong_expectation
description: commit outcomes are compared with expect
peers: [a]
steps:
  - peer: a
    commit:
      ops: [{op: create_entity, entity: x}]
    expect: ENTITY_COLLISION
  - peer: a
    commit:
      ops: [{op: create_entity, entity: x}]
assertions:
  - type: converged
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "succeeded, expected ENTITY_COLLISION")
	assert.Contains(t, result.Errors[1], "ENTITY_COLLISION")
	assert.Equal(t, "1 ops", result.Trace[0].Summary)
	assert.Equal(t, "rejected ENTITY_COLLISION", result.Trace[1].Summary)
}

func TestRun_BadSchema(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: bad_schema
description: schema must compile
schema: "fields: body: crdt: \"sparkles\""
peers: [a]
steps:
  - advance: 1s
assertions:
  - type: converged
`))
	require.NoError(t, err)

	_, err = Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sparkles")
}

func TestRun_PagedSync(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: paged
description: small pages still converge
peers: [a, b]
steps:
  - peer: a
    commit: {ops: [{op: create_entity, entity: x1}]}
  - peer: a
    commit: {ops: [{op: create_entity, entity: x2}]}
  - peer: a
    commit: {ops: [{op: create_entity, entity: x3}]}
  - sync: [b, a]
    page_size: 1
assertions:
  - type: converged
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, "pulled 3, pushed 0, converged", result.Trace[3].Summary)
}
