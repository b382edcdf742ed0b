package position

import (
	"bytes"
	"fmt"
	"math/rand"
	"slices"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wlococode/openprod-sub001/internal/hlc"
	"github.com/wlococode/openprod-sub001/internal/identity"
)

func TestBetweenExamples(t *testing.T) {
	tests := []struct {
		a, b, want string
	}{
		{"", "", "V"},
		{"V", "", "k"},
		{"", "V", "F"},
		{"V", "k", "c"},
		{"V", "W", "VV"},
		{"z", "", "zV"},
		{"", "1", "0V"},
		{"", "01", "00V"},
		{"V", "W5", "W"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q..%q", tt.a, tt.b), func(t *testing.T) {
			got, err := Between(tt.a, tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBetweenRejectsBadInput(t *testing.T) {
	_, err := Between("k", "V")
	assert.ErrorIs(t, err, ErrOutOfOrder)

	_, err = Between("V", "V")
	assert.ErrorIs(t, err, ErrOutOfOrder)

	_, err = Between("V0", "")
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = Between("", "a-b")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestSequencesGolden(t *testing.T) {
	var out bytes.Buffer

	keys := []string{First()}
	for len(keys) < 8 {
		k, err := Between(keys[len(keys)-1], "")
		require.NoError(t, err)
		keys = append(keys, k)
	}
	fmt.Fprintf(&out, "append: %s\n", strings.Join(keys, " "))

	keys = keys[:0]
	prev := First()
	for len(keys) < 7 {
		k, err := Between("", prev)
		require.NoError(t, err)
		keys = append(keys, k)
		prev = k
	}
	fmt.Fprintf(&out, "prepend: %s\n", strings.Join(keys, " "))

	keys = keys[:0]
	hi := "k"
	for len(keys) < 6 {
		k, err := Between("V", hi)
		require.NoError(t, err)
		keys = append(keys, k)
		hi = k
	}
	fmt.Fprintf(&out, "bisect: %s\n", strings.Join(keys, " "))

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "sequences", out.Bytes())
}

func TestBetweenRandomInsertsStayOrdered(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	keys := []string{}

	for i := 0; i < 500; i++ {
		at := rng.Intn(len(keys)+1) - 1
		k, err := InsertAfter(keys, at)
		require.NoError(t, err)
		require.NoError(t, Validate(k))
		keys = slices.Insert(keys, at+1, k)
	}

	assert.True(t, slices.IsSorted(keys))
	assert.Len(t, slices.Compact(slices.Clone(keys)), len(keys), "keys must be unique")
}

func TestInsertAfterSkipsEqualGroup(t *testing.T) {
	keys := []string{"V", "V", "V", "k"}

	k, err := InsertAfter(keys, 0)
	require.NoError(t, err)
	assert.Greater(t, k, "V")
	assert.Less(t, k, "k")

	_, err = InsertAfter(keys, 4)
	assert.Error(t, err)
}

func TestSequence(t *testing.T) {
	keys, err := Sequence("V", "k", 5)
	require.NoError(t, err)
	require.Len(t, keys, 5)
	assert.True(t, slices.IsSorted(keys))
	assert.Greater(t, keys[0], "V")
	assert.Less(t, keys[4], "k")
}

func TestCompareTiebreak(t *testing.T) {
	lo, err := identity.FromSeed(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	hi, err := identity.FromSeed(bytes.Repeat([]byte{2}, 32))
	require.NoError(t, err)
	if lo.Actor().Compare(hi.Actor()) > 0 {
		lo, hi = hi, lo
	}

	a := Entry{Position: "V", Actor: hi.Actor(), HLC: hlc.Timestamp{Wall: 1}}
	b := Entry{Position: "V", Actor: lo.Actor(), HLC: hlc.Timestamp{Wall: 9}}
	c := Entry{Position: "V", Actor: lo.Actor(), HLC: hlc.Timestamp{Wall: 10}}
	d := Entry{Position: "F", Actor: hi.Actor(), HLC: hlc.Timestamp{Wall: 99}}

	entries := []Entry{a, b, c, d}
	slices.SortFunc(entries, Compare)
	assert.Equal(t, []Entry{d, b, c, a}, entries)
}
