package identity

import (
	"crypto/ed25519"
	"errors"
	"sync"
)

// ErrUnknownActor is returned by a Provider that does not recognise an actor.
var ErrUnknownActor = errors.New("unknown actor")

// Provider resolves the verifying key for an actor. Policy about which
// actors are admitted lives behind this interface.
type Provider interface {
	PublicKey(actor ActorID) (ed25519.PublicKey, error)
}

// Open admits every actor; the actor ID is the key.
type Open struct{}

// PublicKey implements Provider.
func (Open) PublicKey(actor ActorID) (ed25519.PublicKey, error) {
	return ed25519.PublicKey(actor[:]), nil
}

// Keyring admits only actors that were added to it.
type Keyring struct {
	mu    sync.RWMutex
	known map[ActorID]struct{}
}

// NewKeyring creates a keyring admitting the given actors.
func NewKeyring(actors ...ActorID) *Keyring {
	k := &Keyring{known: make(map[ActorID]struct{}, len(actors))}
	for _, a := range actors {
		k.known[a] = struct{}{}
	}
	return k
}

// Add admits an actor.
func (k *Keyring) Add(actor ActorID) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.known[actor] = struct{}{}
}

// PublicKey implements Provider.
func (k *Keyring) PublicKey(actor ActorID) (ed25519.PublicKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if _, ok := k.known[actor]; !ok {
		return nil, ErrUnknownActor
	}
	return ed25519.PublicKey(actor[:]), nil
}

// VerifyWith resolves the actor's key through p and checks sig.
// It returns ErrUnknownActor from the provider unchanged and false for a
// bad signature.
func VerifyWith(p Provider, actor ActorID, msg, sig []byte) (bool, error) {
	pub, err := p.PublicKey(actor)
	if err != nil {
		return false, err
	}
	if len(sig) != SignatureSize {
		return false, nil
	}
	return ed25519.Verify(pub, msg, sig), nil
}
