// Package cryptoutil wraps the low-level cryptographic primitives the core
// treats as an external collaborator: ed25519 signing and blake2b content
// hashing. Nothing here implements the ledger's validation rules; it only
// provides the signature and hash operations other components call.
package cryptoutil

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/ed25519"
)

// PublicKey and PrivateKey alias the ed25519 key types so callers elsewhere
// in the module don't need to import golang.org/x/crypto/ed25519 directly.
type PublicKey = ed25519.PublicKey
type PrivateKey = ed25519.PrivateKey

// Sizes of the core's fixed-width cryptographic values.
const (
	HashSize      = 32 // 256 bits
	AccountSize   = ed25519.PublicKeySize
	SignatureSize = ed25519.SignatureSize // 512 bits
	SeedSize      = ed25519.SeedSize
)

// GenerateKey creates a new ed25519 keypair using the system CSPRNG.
func GenerateKey() (pub ed25519.PublicKey, priv ed25519.PrivateKey, err error) {
	return ed25519.GenerateKey(rand.Reader)
}

// KeyFromSeed deterministically derives a keypair from a 32-byte seed.
func KeyFromSeed(seed []byte) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	if len(seed) != SeedSize {
		return nil, nil, errors.New("cryptoutil: seed must be 32 bytes")
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return pub, priv, nil
}

// Sign signs data with priv.
func Sign(priv ed25519.PrivateKey, data []byte) []byte {
	return ed25519.Sign(priv, data)
}

// Verify reports whether sig is a valid signature of data by pub.
func Verify(pub ed25519.PublicKey, data, sig []byte) bool {
	if len(pub) != AccountSize || len(sig) != SignatureSize {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}

// Hash256 returns the blake2b-256 digest of data, used for content
// addressing of blocks and for hashing peer-set identities.
func Hash256(data ...[]byte) [HashSize]byte {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only fails for an oversized key, which we never pass.
		panic(err)
	}
	for _, d := range data {
		h.Write(d)
	}
	var out [HashSize]byte
	copy(out[:], h.Sum(nil))
	return out
}
