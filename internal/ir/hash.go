package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed hashing.
// The version suffix leaves room for algorithm migration.
const (
	DomainBundle = "openprod/bundle/v1"
	DomainState  = "openprod/state/v1"
	DomainDelta  = "openprod/crdt/v1"
)

// SumWithDomain computes SHA256(domain + 0x00 + data).
// The null byte separator prevents domain/data boundary ambiguity.
func SumWithDomain(domain string, data []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// HashWithDomain is SumWithDomain hex encoded.
func HashWithDomain(domain string, data []byte) string {
	sum := SumWithDomain(domain, data)
	return hex.EncodeToString(sum[:])
}

// CanonicalHash marshals v canonically and hashes it under domain.
func CanonicalHash(domain string, v IRValue) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("canonical hash: %w", err)
	}
	return HashWithDomain(domain, canonical), nil
}
