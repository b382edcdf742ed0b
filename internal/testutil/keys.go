package testutil

import (
	"crypto/sha256"

	"github.com/wlococode/openprod-sub001/internal/identity"
)

// Key derives a keypair from name. The same name always yields the same
// actor, which keeps golden output stable.
func Key(name string) *identity.Keypair {
	seed := sha256.Sum256([]byte("openprod/test-key/" + name))
	k, err := identity.FromSeed(seed[:])
	if err != nil {
		panic(err)
	}
	return k
}
