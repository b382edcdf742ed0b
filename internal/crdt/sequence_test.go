package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wlococode/openprod-sub001/internal/ir"
)

func render(t *testing.T, a Adapter, state []byte) ir.IRValue {
	t.Helper()
	v, err := a.Render(state)
	require.NoError(t, err)
	return v
}

func merge(t *testing.T, a Adapter, state []byte, deltas ...[]byte) []byte {
	t.Helper()
	var err error
	for _, d := range deltas {
		state, err = a.Merge(state, d)
		require.NoError(t, err)
	}
	return state
}

func TestTextInsertAndDelete(t *testing.T) {
	text := Text()
	state := text.Init()
	assert.Equal(t, ir.IRString(""), render(t, text, state))

	d1, err := InsertText(state, 0, "helo", "op1")
	require.NoError(t, err)
	state = merge(t, text, state, d1)
	assert.Equal(t, ir.IRString("helo"), render(t, text, state))

	d2, err := InsertText(state, 3, "l", "op2")
	require.NoError(t, err)
	state = merge(t, text, state, d2)
	assert.Equal(t, ir.IRString("hello"), render(t, text, state))

	d3, err := DeleteRange(state, 0, 1)
	require.NoError(t, err)
	state = merge(t, text, state, d3)
	assert.Equal(t, ir.IRString("ello"), render(t, text, state))

	_, err = DeleteRange(state, 3, 5)
	assert.Error(t, err)
	_, err = InsertText(state, 9, "x", "op4")
	assert.Error(t, err)
}

func TestMergeIsCommutativeAssociativeIdempotent(t *testing.T) {
	text := Text()
	base, err := InsertText(text.Init(), 0, "ab", "base")
	require.NoError(t, err)
	base = merge(t, text, text.Init(), base)

	// Three replicas edit the same base concurrently.
	insX, err := InsertText(base, 1, "X", "x")
	require.NoError(t, err)
	insY, err := InsertText(base, 1, "Y", "y")
	require.NoError(t, err)
	del, err := DeleteRange(base, 0, 1)
	require.NoError(t, err)

	deltas := [][]byte{insX, insY, del}
	orders := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}

	var results []string
	for _, order := range orders {
		state := base
		for _, i := range order {
			state = merge(t, text, state, deltas[i])
		}
		results = append(results, string(state))
	}
	for _, r := range results[1:] {
		assert.Equal(t, results[0], r, "merge order changed state bytes")
	}

	final := []byte(results[0])
	assert.Equal(t, final, merge(t, text, final, insX, insY, del), "re-applying deltas must be a no-op")

	// Grouping deltas first gives the same result.
	xy := merge(t, text, insX, insY)
	grouped := merge(t, text, base, del, xy)
	assert.Equal(t, final, grouped)

	got := render(t, text, final).(ir.IRString)
	assert.Len(t, string(got), 3)
	assert.Contains(t, []string{"XYb", "YXb"}, string(got))
}

func TestTombstoneBeforeInsert(t *testing.T) {
	list := List()
	ins, err := InsertValues(list.Init(), 0, []ir.IRValue{ir.IRInt(1), ir.IRInt(2)}, "op1")
	require.NoError(t, err)
	afterInsert := merge(t, list, list.Init(), ins)
	del, err := DeleteRange(afterInsert, 0, 1)
	require.NoError(t, err)

	// The delete arrives first; the deleted element must not reappear.
	state := merge(t, list, list.Init(), del, ins)
	assert.Equal(t, ir.IRArray{ir.IRInt(2)}, render(t, list, state))
}

func TestListRender(t *testing.T) {
	list := List()
	d, err := InsertValues(list.Init(), 0, []ir.IRValue{ir.IRString("a"), ir.IRObject{"k": ir.IRInt(1)}}, "op")
	require.NoError(t, err)
	state := merge(t, list, list.Init(), d)

	d2, err := InsertValues(state, 2, []ir.IRValue{ir.IRBool(true)}, "op2")
	require.NoError(t, err)
	state = merge(t, list, state, d2)

	assert.Equal(t, ir.IRArray{ir.IRString("a"), ir.IRObject{"k": ir.IRInt(1)}, ir.IRBool(true)}, render(t, list, state))
}

func TestTextRenderRejectsNonStringElements(t *testing.T) {
	d, err := InsertValues(nil, 0, []ir.IRValue{ir.IRInt(1)}, "op")
	require.NoError(t, err)
	_, err = Text().Render(d)
	assert.Error(t, err)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	for _, raw := range []string{
		`[]`,
		`{"elems":{}}`,
		`{"elems":[{"id":"a","pos":"V"}]}`,
		`{"elems":[{"id":"a","pos":"V0","v":1}]}`,
		`{"dead":[1]}`,
	} {
		_, err := DecodeSequence([]byte(raw))
		assert.Error(t, err, raw)
	}
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{KindList, KindText}, r.Kinds())

	a, err := r.Lookup(KindText)
	require.NoError(t, err)
	assert.Equal(t, KindText, a.Kind())

	_, err = r.Lookup("counter")
	assert.Error(t, err)
}
