package hlc

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualWall struct{ ms int64 }

func (m *manualWall) NowMillis() int64 { return m.ms }

func TestTickAdvancesWithWallTime(t *testing.T) {
	w := &manualWall{ms: 1000}
	c := NewClock(WithWallClock(w))

	assert.Equal(t, Timestamp{Wall: 1000}, c.Tick())
	assert.Equal(t, Timestamp{Wall: 1000, Counter: 1}, c.Tick())

	w.ms = 2000
	assert.Equal(t, Timestamp{Wall: 2000}, c.Tick())
}

func TestTickNeverRunsBackwards(t *testing.T) {
	w := &manualWall{ms: 5000}
	c := NewClock(WithWallClock(w))
	first := c.Tick()

	w.ms = 1000
	second := c.Tick()
	assert.True(t, first.Less(second))
	assert.Equal(t, Timestamp{Wall: 5000, Counter: 1}, second)
}

func TestReceive(t *testing.T) {
	tests := []struct {
		name   string
		now    int64
		local  Timestamp
		remote Timestamp
		want   Timestamp
	}{
		{"wall dominates", 9000, Timestamp{Wall: 100}, Timestamp{Wall: 200}, Timestamp{Wall: 9000}},
		{"remote ahead", 100, Timestamp{Wall: 100, Counter: 3}, Timestamp{Wall: 200, Counter: 7}, Timestamp{Wall: 200, Counter: 8}},
		{"local ahead", 100, Timestamp{Wall: 300, Counter: 2}, Timestamp{Wall: 200, Counter: 9}, Timestamp{Wall: 300, Counter: 3}},
		{"tie takes max counter", 100, Timestamp{Wall: 300, Counter: 2}, Timestamp{Wall: 300, Counter: 9}, Timestamp{Wall: 300, Counter: 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClock(WithWallClock(&manualWall{ms: tt.now}))
			c.Observe(tt.local)

			got, err := c.Receive(tt.remote)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, tt.remote.Less(got))
		})
	}
}

func TestReceiveRejectsFutureDrift(t *testing.T) {
	w := &manualWall{ms: 1_000_000}
	c := NewClock(WithWallClock(w))
	before := c.Tick()

	limit := DefaultMaxDrift.Milliseconds()
	_, err := c.Receive(Timestamp{Wall: w.ms + limit + 1})
	assert.True(t, errors.Is(err, ErrClockDriftExceeded))
	assert.Equal(t, before, c.Last(), "rejected receive must not move the clock")

	_, err = c.Receive(Timestamp{Wall: w.ms + limit})
	assert.NoError(t, err)
}

func TestReceiveCustomDrift(t *testing.T) {
	c := NewClock(WithWallClock(&manualWall{ms: 0}), WithMaxDrift(time.Second))
	_, err := c.Receive(Timestamp{Wall: 1001})
	assert.ErrorIs(t, err, ErrClockDriftExceeded)
}

func TestCounterOverflowCarries(t *testing.T) {
	c := NewClock(WithWallClock(&manualWall{ms: 10}))
	c.Observe(Timestamp{Wall: 10, Counter: math.MaxUint32})
	assert.Equal(t, Timestamp{Wall: 11}, c.Tick())
}

func TestEncodingRoundTrip(t *testing.T) {
	ts := Timestamp{Wall: 1_700_000_000_123, Counter: 42}
	b := ts.Bytes()
	require.Len(t, b, Size)

	back, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, ts, back)

	_, err = Decode(b[:11])
	assert.Error(t, err)
}

func TestEncodingPreservesOrder(t *testing.T) {
	a := Timestamp{Wall: 5, Counter: 900}
	b := Timestamp{Wall: 6, Counter: 0}
	assert.True(t, a.Less(b))
	assert.Negative(t, compareBytes(a.Bytes(), b.Bytes()))
}

func compareBytes(a, b []byte) int {
	for i := range a {
		if a[i] != b[i] {
			return int(a[i]) - int(b[i])
		}
	}
	return 0
}

func TestTextRoundTrip(t *testing.T) {
	ts := Timestamp{Wall: 123, Counter: 4}
	text, err := ts.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "123.4", string(text))

	var back Timestamp
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, ts, back)

	for _, bad := range []string{"", "12", "a.1", "1.b", "-1.0"} {
		_, err := ParseTimestamp(bad)
		assert.Error(t, err, bad)
	}
}
