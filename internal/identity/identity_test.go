package identity

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(b byte) []byte {
	return bytes.Repeat([]byte{b}, 32)
}

func TestFromSeedIsDeterministic(t *testing.T) {
	a, err := FromSeed(seed(1))
	require.NoError(t, err)
	b, err := FromSeed(seed(1))
	require.NoError(t, err)
	c, err := FromSeed(seed(2))
	require.NoError(t, err)

	assert.Equal(t, a.Actor(), b.Actor())
	assert.NotEqual(t, a.Actor(), c.Actor())
}

func TestFromSeedRejectsWrongLength(t *testing.T) {
	_, err := FromSeed([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestSignVerify(t *testing.T) {
	k, err := FromSeed(seed(3))
	require.NoError(t, err)

	msg := []byte("payload")
	sig := k.Sign(msg)
	assert.Len(t, sig, SignatureSize)
	assert.True(t, Verify(k.Actor(), msg, sig))

	tampered := append([]byte(nil), msg...)
	tampered[0] ^= 0x01
	assert.False(t, Verify(k.Actor(), tampered, sig))
	assert.False(t, Verify(k.Actor(), msg, sig[:10]))

	other, err := FromSeed(seed(4))
	require.NoError(t, err)
	assert.False(t, Verify(other.Actor(), msg, sig))
}

func TestActorIDTextRoundTrip(t *testing.T) {
	k, err := FromSeed(seed(5))
	require.NoError(t, err)

	text, err := k.Actor().MarshalText()
	require.NoError(t, err)
	assert.Len(t, text, 64)

	var back ActorID
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, k.Actor(), back)
	assert.Equal(t, string(text[:8]), back.Short())

	_, err = ParseActorID("abcd")
	assert.Error(t, err)
	_, err = ParseActorID("zz")
	assert.Error(t, err)
}

func TestKeyFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "actor.key")

	k, created, err := LoadOrCreateKeyFile(path)
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := LoadOrCreateKeyFile(path)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, k.Actor(), again.Actor())
}

func TestKeyringRejectsUnknownActor(t *testing.T) {
	known, err := FromSeed(seed(6))
	require.NoError(t, err)
	stranger, err := FromSeed(seed(7))
	require.NoError(t, err)

	ring := NewKeyring(known.Actor())
	msg := []byte("m")

	ok, err := VerifyWith(ring, known.Actor(), msg, known.Sign(msg))
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = VerifyWith(ring, stranger.Actor(), msg, stranger.Sign(msg))
	assert.ErrorIs(t, err, ErrUnknownActor)

	ring.Add(stranger.Actor())
	ok, err = VerifyWith(ring, stranger.Actor(), msg, stranger.Sign(msg))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyWith(Open{}, stranger.Actor(), msg, known.Sign(msg))
	require.NoError(t, err)
	assert.False(t, ok)
}
