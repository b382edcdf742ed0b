// Package hlc implements hybrid logical clocks: physical milliseconds plus a
// logical counter, giving a total order that tracks wall time closely and
// never runs backwards.
package hlc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Size is the wire size of a Timestamp: 8-byte wall ms + 4-byte counter.
const Size = 12

// DefaultMaxDrift bounds how far a received timestamp may lead local time.
const DefaultMaxDrift = 5 * time.Minute

// ErrClockDriftExceeded is returned by Receive for timestamps too far in the future.
var ErrClockDriftExceeded = errors.New("clock drift exceeded")

// Timestamp is a hybrid logical clock reading.
type Timestamp struct {
	Wall    int64  // physical milliseconds since the Unix epoch
	Counter uint32 // logical counter within Wall
}

// Compare orders by Wall then Counter.
func (t Timestamp) Compare(o Timestamp) int {
	switch {
	case t.Wall < o.Wall:
		return -1
	case t.Wall > o.Wall:
		return 1
	case t.Counter < o.Counter:
		return -1
	case t.Counter > o.Counter:
		return 1
	}
	return 0
}

// Less reports t < o.
func (t Timestamp) Less(o Timestamp) bool {
	return t.Compare(o) < 0
}

// IsZero reports whether t is the zero timestamp.
func (t Timestamp) IsZero() bool {
	return t == Timestamp{}
}

// String renders "wall.counter", which ParseTimestamp accepts.
func (t Timestamp) String() string {
	return strconv.FormatInt(t.Wall, 10) + "." + strconv.FormatUint(uint64(t.Counter), 10)
}

// Time returns the physical component.
func (t Timestamp) Time() time.Time {
	return time.UnixMilli(t.Wall).UTC()
}

// AppendBinary appends the 12-byte big-endian encoding.
func (t Timestamp) AppendBinary(b []byte) []byte {
	b = binary.BigEndian.AppendUint64(b, uint64(t.Wall))
	return binary.BigEndian.AppendUint32(b, t.Counter)
}

// Bytes returns the 12-byte encoding.
func (t Timestamp) Bytes() []byte {
	return t.AppendBinary(make([]byte, 0, Size))
}

// Decode reads a timestamp from the first 12 bytes of b.
func Decode(b []byte) (Timestamp, error) {
	if len(b) < Size {
		return Timestamp{}, fmt.Errorf("hlc: need %d bytes, got %d", Size, len(b))
	}
	wall := binary.BigEndian.Uint64(b[:8])
	if wall > math.MaxInt64 {
		return Timestamp{}, fmt.Errorf("hlc: wall time out of range")
	}
	return Timestamp{Wall: int64(wall), Counter: binary.BigEndian.Uint32(b[8:12])}, nil
}

// ParseTimestamp parses the String form.
func ParseTimestamp(s string) (Timestamp, error) {
	wallStr, counterStr, ok := strings.Cut(s, ".")
	if !ok {
		return Timestamp{}, fmt.Errorf("hlc: malformed timestamp %q", s)
	}
	wall, err := strconv.ParseInt(wallStr, 10, 64)
	if err != nil || wall < 0 {
		return Timestamp{}, fmt.Errorf("hlc: malformed wall in %q", s)
	}
	counter, err := strconv.ParseUint(counterStr, 10, 32)
	if err != nil {
		return Timestamp{}, fmt.Errorf("hlc: malformed counter in %q", s)
	}
	return Timestamp{Wall: wall, Counter: uint32(counter)}, nil
}

// MarshalText implements encoding.TextMarshaler.
func (t Timestamp) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Timestamp) UnmarshalText(text []byte) error {
	ts, err := ParseTimestamp(string(text))
	if err != nil {
		return err
	}
	*t = ts
	return nil
}

// Max returns the later of a and b.
func Max(a, b Timestamp) Timestamp {
	if a.Less(b) {
		return b
	}
	return a
}

// WallClock supplies physical time in milliseconds.
type WallClock interface {
	NowMillis() int64
}

// SystemClock reads time.Now.
type SystemClock struct{}

// NowMillis implements WallClock.
func (SystemClock) NowMillis() int64 {
	return time.Now().UnixMilli()
}

// Clock issues timestamps for one actor. Every timestamp it returns is
// strictly greater than anything it has issued or received.
//
// Thread-safety: Clock is safe for concurrent use.
type Clock struct {
	mu       sync.Mutex
	wall     WallClock
	maxDrift time.Duration
	last     Timestamp
}

// Option configures a Clock.
type Option func(*Clock)

// WithWallClock overrides the physical time source.
func WithWallClock(w WallClock) Option {
	return func(c *Clock) { c.wall = w }
}

// WithMaxDrift overrides DefaultMaxDrift.
func WithMaxDrift(d time.Duration) Option {
	return func(c *Clock) { c.maxDrift = d }
}

// NewClock creates a clock reading the system time.
func NewClock(opts ...Option) *Clock {
	c := &Clock{wall: SystemClock{}, maxDrift: DefaultMaxDrift}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Last returns the most recent timestamp issued or observed.
func (c *Clock) Last() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Tick issues a timestamp for a local event.
func (c *Clock) Tick() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.wall.NowMillis()
	if now > c.last.Wall {
		c.last = Timestamp{Wall: now}
	} else {
		c.last = bump(c.last)
	}
	return c.last
}

// Observe folds a timestamp into the clock without the drift check. It is
// used when replaying a trusted local log at startup.
func (c *Clock) Observe(ts Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = Max(c.last, ts)
}

// Receive merges a remote timestamp. It fails without changing state if
// remote leads local physical time by more than the drift bound.
func (c *Clock) Receive(remote Timestamp) (Timestamp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.wall.NowMillis()
	if remote.Wall-now > c.maxDrift.Milliseconds() {
		return c.last, fmt.Errorf("%w: remote %s leads local %d by %s",
			ErrClockDriftExceeded, remote, now, time.Duration(remote.Wall-now)*time.Millisecond)
	}

	local := c.last
	wall := max(local.Wall, remote.Wall, now)
	switch {
	case wall == local.Wall && wall == remote.Wall:
		c.last = bump(Timestamp{Wall: wall, Counter: max(local.Counter, remote.Counter)})
	case wall == local.Wall:
		c.last = bump(local)
	case wall == remote.Wall:
		c.last = bump(remote)
	default:
		c.last = Timestamp{Wall: wall}
	}
	return c.last, nil
}

// bump increments the counter, carrying into the wall component on overflow.
func bump(t Timestamp) Timestamp {
	if t.Counter == math.MaxUint32 {
		return Timestamp{Wall: t.Wall + 1}
	}
	return Timestamp{Wall: t.Wall, Counter: t.Counter + 1}
}
