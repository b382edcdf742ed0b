// Package identity implements actor identity: every actor is an Ed25519
// keypair and the actor ID is the 32-byte public key. There is no
// registration step; possession of the private key is authorship.
package identity

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ActorIDSize is the encoded size of an ActorID.
const ActorIDSize = ed25519.PublicKeySize

// SignatureSize is the size of every operation and bundle signature.
const SignatureSize = ed25519.SignatureSize

// ActorID is an Ed25519 public key.
type ActorID [ActorIDSize]byte

// String returns the lowercase hex encoding.
func (a ActorID) String() string {
	return hex.EncodeToString(a[:])
}

// Short returns the first 8 hex characters, for logs.
func (a ActorID) Short() string {
	return a.String()[:8]
}

// IsZero reports whether a is the zero ID.
func (a ActorID) IsZero() bool {
	return a == ActorID{}
}

// Compare orders actors by raw bytes.
func (a ActorID) Compare(b ActorID) int {
	return bytes.Compare(a[:], b[:])
}

// MarshalText implements encoding.TextMarshaler so ActorID can key JSON maps.
func (a ActorID) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *ActorID) UnmarshalText(text []byte) error {
	id, err := ParseActorID(string(text))
	if err != nil {
		return err
	}
	*a = id
	return nil
}

// ParseActorID decodes a 64-character hex actor ID.
func ParseActorID(s string) (ActorID, error) {
	var id ActorID
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return id, fmt.Errorf("parse actor id: %w", err)
	}
	if len(raw) != ActorIDSize {
		return id, fmt.Errorf("parse actor id: want %d bytes, got %d", ActorIDSize, len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// Keypair holds an actor's signing key.
type Keypair struct {
	priv  ed25519.PrivateKey
	actor ActorID
}

// Generate creates a new random keypair.
func Generate() (*Keypair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return fromPrivate(priv), nil
}

// FromSeed derives a keypair from a 32-byte seed.
func FromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return fromPrivate(ed25519.NewKeyFromSeed(seed)), nil
}

func fromPrivate(priv ed25519.PrivateKey) *Keypair {
	k := &Keypair{priv: priv}
	copy(k.actor[:], priv.Public().(ed25519.PublicKey))
	return k
}

// Actor returns the actor ID (public key).
func (k *Keypair) Actor() ActorID {
	return k.actor
}

// Seed returns the private seed. Callers must not log it.
func (k *Keypair) Seed() []byte {
	return k.priv.Seed()
}

// Sign signs msg.
func (k *Keypair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.priv, msg)
}

// Verify checks sig over msg against the actor's public key.
func Verify(actor ActorID, msg, sig []byte) bool {
	if len(sig) != SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(actor[:]), msg, sig)
}

// SaveKeyFile writes the hex seed to path with owner-only permissions.
func SaveKeyFile(path string, k *Keypair) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("save key: %w", err)
	}
	data := hex.EncodeToString(k.Seed()) + "\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		return fmt.Errorf("save key: %w", err)
	}
	return nil
}

// LoadKeyFile reads a key written by SaveKeyFile.
func LoadKeyFile(path string) (*Keypair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load key: %w", err)
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("load key %s: %w", path, err)
	}
	return FromSeed(seed)
}

// LoadOrCreateKeyFile loads the key at path, generating and saving a new one
// when the file does not exist. created reports whether a key was generated.
func LoadOrCreateKeyFile(path string) (k *Keypair, created bool, err error) {
	k, err = LoadKeyFile(path)
	if err == nil {
		return k, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}
	k, err = Generate()
	if err != nil {
		return nil, false, err
	}
	if err := SaveKeyFile(path, k); err != nil {
		return nil, false, err
	}
	return k, true, nil
}
