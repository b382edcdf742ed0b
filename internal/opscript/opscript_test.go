package opscript

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wlococode/openprod-sub001/internal/crdt"
	"github.com/wlococode/openprod-sub001/internal/hlc"
	"github.com/wlococode/openprod-sub001/internal/ir"
	"github.com/wlococode/openprod-sub001/internal/oplog"
	"github.com/wlococode/openprod-sub001/internal/replica"
	"github.com/wlococode/openprod-sub001/internal/schema"
	"github.com/wlococode/openprod-sub001/internal/store"
	"github.com/wlococode/openprod-sub001/internal/testutil"
)

func openReplica(t *testing.T) *replica.Replica {
	t.Helper()
	r, err := replica.Open(context.Background(), replica.Options{
		Key:     testutil.Key("alice"),
		Storage: store.NewMemStore(),
		Schema:  schema.New().CRDT("body", crdt.KindText).CRDT("tags", crdt.KindList).Edge("child", true),
		Clock:   hlc.NewClock(hlc.WithWallClock(testutil.NewManualClock(1_700_000_000_000))),
		IDs:     oplog.NewSequentialGenerator(0xa1, "alice"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func commit(t *testing.T, r *replica.Replica, names *Names, src string) {
	t.Helper()
	s, err := Parse([]byte(src))
	require.NoError(t, err)
	b, err := s.Build(r, names)
	require.NoError(t, err)
	_, _, err = r.Commit(context.Background(), b)
	require.NoError(t, err)
}

func TestParse(t *testing.T) {
	s, err := Parse([]byte(`
type: import
metadata: seed data
ops:
  - {op: create_entity, entity: t1}
  - {op: set_field, entity: t1, field: title, value: Hello}
`))
	require.NoError(t, err)
	assert.Equal(t, oplog.BundleImport, s.BundleType())
	assert.Len(t, s.Ops, 2)
	assert.Equal(t, "Hello", s.Ops[1].Value)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"no ops", "type: user_edit\nops: []", "non-empty"},
		{"unknown key", "ops: [{op: create_entity, entity: a, colour: red}]", "colour"},
		{"unknown op", "ops: [{op: teleport, entity: a}]", "unknown op"},
		{"unknown type", "type: vibes\nops: [{op: create_entity, entity: a}]", "bundle type"},
		{"missing field", "ops: [{op: set_field, entity: a, value: 1}]", "field is required"},
		{"missing value", "ops: [{op: set_field, entity: a, field: f}]", "value is required"},
		{"missing edge", "ops: [{op: move_edge}]", "edge is required"},
		{"missing op", "ops: [{entity: a}]", "op is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestToIR(t *testing.T) {
	v, err := ToIR(map[string]any{
		"n":    3,
		"f":    float64(4),
		"ok":   true,
		"list": []any{"a", 1},
	})
	require.NoError(t, err)
	assert.Equal(t, ir.IRObject{
		"n":    ir.IRInt(3),
		"f":    ir.IRInt(4),
		"ok":   ir.IRBool(true),
		"list": ir.IRArray{ir.IRString("a"), ir.IRInt(1)},
	}, v)

	_, err = ToIR(1.5)
	assert.Error(t, err)
	_, err = ToIR(nil)
	assert.Error(t, err)
	_, err = ToIR([]any{nil})
	assert.Error(t, err)
}

func TestBuild_AllOps(t *testing.T) {
	r := openReplica(t)
	names := NewNames()

	commit(t, r, names, `
ops:
  - {op: create_entity, entity: list}
  - {op: create_entity, as: task}
  - {op: create_entity, entity: other}
  - {op: set_field, entity: task, field: title, value: Draft}
  - {op: set_field, entity: task, field: task.due, value: 3}
  - {op: attach_facet, entity: task, facet: task}
  - {op: insert_text, entity: task, field: body, index: 0, text: "hi"}
  - {op: append_list, entity: task, field: tags, values: [a, b]}
  - {op: create_ordered_edge, type: child, source: list, target: task, as: first}
  - {op: create_ordered_edge, type: child, source: list, target: other, as: second}
  - {op: create_edge, type: ref, source: task, target: other, props: {weight: 2}}
`)
	task := names.Entity("task")
	assert.NotEqual(t, oplog.EntityID("task"), task)

	v, _ := r.FieldValue(task, "title")
	assert.Equal(t, ir.IRString("Draft"), v)
	v, _ = r.FieldValue(task, "body")
	assert.Equal(t, ir.IRString("hi"), v)
	v, _ = r.FieldValue(task, "tags")
	assert.Equal(t, ir.IRArray{ir.IRString("a"), ir.IRString("b")}, v)

	commit(t, r, names, `
ops:
  - {op: move_edge, edge: second, before: first}
  - {op: delete_text, entity: task, field: body, index: 1, count: 1}
  - {op: remove_list, entity: task, field: tags, index: 0, count: 1}
  - {op: clear_field, entity: task, field: title}
  - {op: detach_facet, entity: task, facet: task, preserve: true}
`)
	children := r.Children("list", "child")
	require.Len(t, children, 2)
	assert.Equal(t, names.Edge("second"), children[0].ID)
	assert.Equal(t, names.Edge("first"), children[1].ID)

	v, _ = r.FieldValue(task, "body")
	assert.Equal(t, ir.IRString("h"), v)
	_, ok := r.FieldValue(task, "title")
	assert.False(t, ok)
	_, ok = r.FieldValue(task, "task.due")
	assert.False(t, ok)

	commit(t, r, names, `
ops:
  - {op: restore_facet, entity: task, facet: task}
  - {op: split, entity: task, fields: [task.due], as: spun}
  - {op: merge, survivor: list, absorbed: other}
  - {op: delete_edge, edge: first}
`)
	v, ok = r.FieldValue(names.Entity("spun"), "task.due")
	require.True(t, ok)
	assert.Equal(t, ir.IRInt(3), v)
	assert.Len(t, r.Children("list", "child"), 1)

	commit(t, r, names, `ops: [{op: delete_entity, entity: task}]`)
	_, ok = r.FieldValue(task, "body")
	assert.False(t, ok)

	bindings := names.Bindings()
	require.Len(t, bindings, 4)
	assert.Equal(t, "spun", bindings[0].Name)
	assert.Equal(t, "task", bindings[1].Name)
	assert.Equal(t, "edge", bindings[2].Kind)
}
