// Package position generates fractional-index keys for ordered edges and
// sequence elements. Keys are base-62 digit strings compared bytewise; a
// key never ends in '0', so there is always room between two keys.
package position

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wlococode/openprod-sub001/internal/hlc"
	"github.com/wlococode/openprod-sub001/internal/identity"
)

// Digits is the key alphabet in ascending byte order.
const Digits = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const base = len(Digits)

var (
	// ErrInvalidKey reports a key with characters outside Digits, an empty
	// key or a trailing '0'.
	ErrInvalidKey = errors.New("invalid position key")

	// ErrOutOfOrder reports Between(a, b) with a >= b.
	ErrOutOfOrder = errors.New("position keys out of order")
)

func digit(c byte) int {
	return strings.IndexByte(Digits, c)
}

// Validate checks that key is usable as a position.
func Validate(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	for i := 0; i < len(key); i++ {
		if digit(key[i]) < 0 {
			return fmt.Errorf("%w: %q has byte %q", ErrInvalidKey, key, key[i])
		}
	}
	if key[len(key)-1] == Digits[0] {
		return fmt.Errorf("%w: %q ends in %q", ErrInvalidKey, key, Digits[0])
	}
	return nil
}

// Between returns a key strictly between a and b. An empty a means the
// start of the list and an empty b means the end.
func Between(a, b string) (string, error) {
	if a != "" {
		if err := Validate(a); err != nil {
			return "", err
		}
	}
	if b != "" {
		if err := Validate(b); err != nil {
			return "", err
		}
	}
	if a != "" && b != "" && a >= b {
		return "", fmt.Errorf("%w: %q >= %q", ErrOutOfOrder, a, b)
	}
	return midpoint(a, b), nil
}

// midpoint assumes a < b, with "" for an open bound.
func midpoint(a, b string) string {
	if b != "" {
		// Shared prefix, reading missing digits of a as '0'.
		n := 0
		for n < len(b) {
			ca := Digits[0]
			if n < len(a) {
				ca = a[n]
			}
			if ca != b[n] {
				break
			}
			n++
		}
		if n > 0 {
			return b[:n] + midpoint(tail(a, n), b[n:])
		}
	}

	da := 0
	if a != "" {
		da = digit(a[0])
	}
	db := base
	if b != "" {
		db = digit(b[0])
	}
	if db-da > 1 {
		return string(Digits[(da+db)/2])
	}
	// Adjacent leading digits.
	if len(b) > 1 {
		return b[:1]
	}
	return string(Digits[da]) + midpoint(tail(a, 1), "")
}

func tail(s string, n int) string {
	if len(s) <= n {
		return ""
	}
	return s[n:]
}

// First returns the key for an empty list.
func First() string {
	return midpoint("", "")
}

// Sequence returns n ascending keys strictly between a and b.
func Sequence(a, b string, n int) ([]string, error) {
	out := make([]string, 0, n)
	prev := a
	for i := 0; i < n; i++ {
		k, err := Between(prev, b)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
		prev = k
	}
	return out, nil
}

// InsertAfter returns a key placing a new item after index i of the sorted
// keys (i = -1 inserts at the front). Keys equal to keys[i] are skipped so
// the new item lands after the whole group of equal positions.
func InsertAfter(keys []string, i int) (string, error) {
	if i < -1 || i >= len(keys) {
		return "", fmt.Errorf("insert index %d out of range [-1, %d)", i, len(keys))
	}
	a := ""
	if i >= 0 {
		a = keys[i]
	}
	j := i + 1
	for j < len(keys) && keys[j] == a {
		j++
	}
	b := ""
	if j < len(keys) {
		b = keys[j]
	}
	return Between(a, b)
}

// Entry is a positioned item. Equal positions are ordered by actor then
// HLC, which every replica evaluates identically.
type Entry struct {
	Position string
	Actor    identity.ActorID
	HLC      hlc.Timestamp
}

// Compare orders entries by (position, actor, hlc).
func Compare(a, b Entry) int {
	if c := strings.Compare(a.Position, b.Position); c != 0 {
		return c
	}
	if c := a.Actor.Compare(b.Actor); c != 0 {
		return c
	}
	return a.HLC.Compare(b.HLC)
}
