package wire

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rw struct {
	io.Reader
	io.Writer
}

func TestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	c := NewConn(&buf, 0)

	frames := [][]byte{[]byte("hello"), {}, bytes.Repeat([]byte{7}, 70_000)}
	for _, f := range frames {
		require.NoError(t, c.WriteFrame(f))
	}

	assert.Equal(t, []byte{0, 0, 0, 5, 'h', 'e', 'l', 'l', 'o'}, buf.Bytes()[:9])

	for _, want := range frames {
		got, err := c.ReadFrame()
		require.NoError(t, err)
		assert.Equal(t, len(want), len(got))
		assert.True(t, bytes.Equal(want, got))
	}
	_, err := c.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFrameLimits(t *testing.T) {
	var buf bytes.Buffer
	c := NewConn(&buf, 8)

	err := c.WriteFrame(make([]byte, 9))
	assert.True(t, errors.Is(err, ErrFrameTooLarge))
	assert.Zero(t, buf.Len())

	buf.Write([]byte{0, 0, 1, 0})
	_, err = c.ReadFrame()
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestTruncatedFrame(t *testing.T) {
	in := bytes.NewReader([]byte{0, 0, 0, 10, 'a', 'b'})
	c := NewConn(rw{in, io.Discard}, 0)

	_, err := c.ReadFrame()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
