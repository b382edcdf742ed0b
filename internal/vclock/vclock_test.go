package vclock

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wlococode/openprod-sub001/internal/hlc"
	"github.com/wlococode/openprod-sub001/internal/identity"
)

func actor(t *testing.T, b byte) identity.ActorID {
	t.Helper()
	k, err := identity.FromSeed(bytes.Repeat([]byte{b}, 32))
	require.NoError(t, err)
	return k.Actor()
}

func ts(wall int64, counter uint32) hlc.Timestamp {
	return hlc.Timestamp{Wall: wall, Counter: counter}
}

func TestUpdateIsMonotone(t *testing.T) {
	a := actor(t, 1)
	vc := New()

	assert.True(t, vc.Update(a, ts(10, 0)))
	assert.False(t, vc.Update(a, ts(5, 0)))
	assert.False(t, vc.Update(a, ts(10, 0)))
	assert.True(t, vc.Update(a, ts(10, 1)))
	assert.Equal(t, ts(10, 1), vc.Get(a))
}

func TestMergeTakesPerActorMax(t *testing.T) {
	a, b, c := actor(t, 1), actor(t, 2), actor(t, 3)
	left := VectorClock{a: ts(5, 0), b: ts(1, 0)}
	right := VectorClock{a: ts(3, 0), b: ts(2, 0), c: ts(7, 0)}

	left.Merge(right)
	assert.Equal(t, VectorClock{a: ts(5, 0), b: ts(2, 0), c: ts(7, 0)}, left)
}

func TestDiffAndCovers(t *testing.T) {
	a, b, c := actor(t, 1), actor(t, 2), actor(t, 3)
	local := VectorClock{a: ts(5, 0), b: ts(1, 0)}
	remote := VectorClock{a: ts(3, 0), b: ts(2, 0), c: ts(1, 0)}

	want := []identity.ActorID{b, c}
	if b.Compare(c) > 0 {
		want = []identity.ActorID{c, b}
	}
	assert.Equal(t, want, local.Diff(remote))
	assert.Equal(t, []identity.ActorID{a}, remote.Diff(local))
	assert.False(t, local.Covers(remote))

	local.Merge(remote)
	assert.True(t, local.Covers(remote))
	assert.Empty(t, local.Diff(remote))
}

func TestHasSeen(t *testing.T) {
	a, b := actor(t, 1), actor(t, 2)
	vc := VectorClock{a: ts(10, 2)}

	assert.True(t, vc.HasSeen(a, ts(10, 2)))
	assert.True(t, vc.HasSeen(a, ts(9, 99)))
	assert.False(t, vc.HasSeen(a, ts(10, 3)))
	assert.False(t, vc.HasSeen(b, ts(0, 0)))
}

func TestCloneIsIndependent(t *testing.T) {
	a := actor(t, 1)
	vc := VectorClock{a: ts(1, 0)}
	cp := vc.Clone()
	cp.Update(a, ts(2, 0))

	assert.Equal(t, ts(1, 0), vc.Get(a))
	assert.Empty(t, VectorClock(nil).Clone())
}

func TestBinaryEncodingIsOrderIndependent(t *testing.T) {
	a, b := actor(t, 1), actor(t, 2)
	x := New()
	x.Update(a, ts(1, 0))
	x.Update(b, ts(2, 0))
	y := New()
	y.Update(b, ts(2, 0))
	y.Update(a, ts(1, 0))

	assert.Equal(t, x.AppendBinary(nil), y.AppendBinary(nil))
	assert.Len(t, x.AppendBinary(nil), 4+2*EntrySize)
}

func TestJSONRoundTrip(t *testing.T) {
	a := actor(t, 1)
	vc := VectorClock{a: ts(1700, 3)}

	data, err := json.Marshal(vc)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"1700.3"`)

	var back VectorClock
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, vc.Equal(back))
}
