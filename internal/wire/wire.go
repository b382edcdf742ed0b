// Package wire frames messages on an ordered byte stream with a 4-byte
// big-endian length prefix.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// DefaultMaxFrame bounds a single frame.
const DefaultMaxFrame = 16 << 20

// ErrFrameTooLarge is returned when a frame exceeds the configured maximum,
// on either side of the connection.
var ErrFrameTooLarge = errors.New("wire: frame too large")

// Conn reads and writes frames. Reads and writes may happen concurrently
// with each other; concurrent writers are serialized.
type Conn struct {
	r        *bufio.Reader
	w        io.Writer
	wmu      sync.Mutex
	maxFrame int
}

// NewConn wraps rw. maxFrame <= 0 selects DefaultMaxFrame.
func NewConn(rw io.ReadWriter, maxFrame int) *Conn {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	return &Conn{r: bufio.NewReader(rw), w: rw, maxFrame: maxFrame}
}

// WriteFrame writes one frame.
func (c *Conn) WriteFrame(p []byte) error {
	if len(p) > c.maxFrame {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrFrameTooLarge, len(p), c.maxFrame)
	}
	buf := make([]byte, 4+len(p))
	binary.BigEndian.PutUint32(buf, uint32(len(p)))
	copy(buf[4:], p)

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.w.Write(buf); err != nil {
		return fmt.Errorf("wire: write: %w", err)
	}
	return nil
}

// ReadFrame reads one frame. A clean end of stream before the header is
// io.EOF; a stream cut inside a frame is io.ErrUnexpectedEOF.
func (c *Conn) ReadFrame() ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if int64(n) > int64(c.maxFrame) {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrFrameTooLarge, n, c.maxFrame)
	}
	p := make([]byte, n)
	if _, err := io.ReadFull(c.r, p); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return p, nil
}
