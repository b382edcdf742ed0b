package harness

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failing runs a two-peer scenario whose state is fixed and returns the
// errors of the given assertions.
func failing(t *testing.T, assertions string) []string {
	t.Helper()
	s, err := ParseScenario([]byte(`
name: fixed
description: fixed state for assertion checks
schema: |
  fields: body: crdt: "text"
  edges: child: ordered: true
peers: [a, b]
steps:
  - peer: a
    commit:
      ops:
        - {op: create_entity, entity: x}
        - {op: create_entity, entity: y}
        - {op: set_field, entity: x, field: title, value: "one"}
        - {op: insert_text, entity: x, field: body, index: 0, text: "abc"}
        - {op: create_ordered_edge, type: child, source: x, target: y}
  - peer: b
    commit:
      ops:
        - {op: create_entity, entity: z}
` + assertions))
	require.NoError(t, err)
	result, err := Run(s)
	require.NoError(t, err)
	return result.Errors
}

func TestAssertions_Pass(t *testing.T) {
	errs := failing(t, `
assertions:
  - {type: field, peer: a, entity: x, field: title, value: "one"}
  - {type: field, peer: b, entity: x, field: title, absent: true}
  - {type: no_conflict, entity: x, field: title}
  - {type: text, peer: a, entity: x, field: body, text: "abc"}
  - {type: edge_order, peer: a, source: x, edge: child, targets: [y]}
  - {type: edge_order, peer: b, source: x, edge: child, targets: []}
  - {type: converged, peers: [a]}
`)
	assert.Empty(t, errs)
}

func TestAssertions_Fail(t *testing.T) {
	tests := []struct {
		name      string
		assertion string
		want      string
	}{
		{"converged", "{type: converged}", "Assertion failed: converged on b"},
		{"field value", "{type: field, peer: a, entity: x, field: title, value: \"two\"}", `Expected: x.title = "two"`},
		{"field missing", "{type: field, peer: b, entity: x, field: title, value: \"one\"}", "Actual: absent"},
		{"field present", "{type: field, peer: a, entity: x, field: title, absent: true}", `Actual: "one"`},
		{"conflict", "{type: conflict, peer: a, entity: x, field: title}", "Actual: single value"},
		{"conflict entity", "{type: conflict, peer: b, entity: x, field: title}", "no such entity"},
		{"text", "{type: text, peer: a, entity: x, field: body, text: \"abd\"}", `Actual: "abc"`},
		{"edge order", "{type: edge_order, peer: a, source: x, edge: child, targets: [z]}", "Actual: [y]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := failing(t, "assertions:\n  - "+tt.assertion+"\n")
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0], tt.want)
			assert.Contains(t, errs[0], "Steps:")
		})
	}
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertField,
		Peer:     "a",
		Expected: "x.title = 1",
		Actual:   "absent",
		Trace:    []TraceEvent{{Step: 1, Kind: StepSync, Peers: []string{"a", "b"}, Summary: "pulled 0, pushed 0, converged"}},
	}
	lines := strings.Split(err.Error(), "\n")
	assert.Equal(t, "Assertion failed: field on a", lines[0])
	assert.Contains(t, err.Error(), "[1] sync a b: pulled 0, pushed 0, converged")
}
