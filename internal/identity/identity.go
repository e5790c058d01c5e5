// Package identity derives decentralized identifiers from signing keys and
// wallet-backed signers.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const didPrefix = "did:vault:"

// Keypair is an Ed25519 signing key with its derived DID. Immutable once generated.
type Keypair struct {
	priv ed25519.PrivateKey
	did  string
}

// Generate creates a fresh random keypair.
func Generate() (*Keypair, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	return FromSeed(seed)
}

// FromSeed builds a keypair from a 32-byte seed.
func FromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Keypair{
		priv: priv,
		did:  DIDFromPublicKey(priv.Public().(ed25519.PublicKey)),
	}, nil
}

// FromSeedHex builds a keypair from a hex-encoded 32-byte seed
// (the form private keys are configured in).
func FromSeedHex(s string) (*Keypair, error) {
	seed, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	return FromSeed(seed)
}

// DID returns the identifier derived from the public key.
func (k *Keypair) DID() string { return k.did }

// Public returns the public key.
func (k *Keypair) Public() ed25519.PublicKey {
	return k.priv.Public().(ed25519.PublicKey)
}

// Private returns the signing key for token issuance.
func (k *Keypair) Private() ed25519.PrivateKey { return k.priv }

// Sign signs payload with the private key.
func (k *Keypair) Sign(payload []byte) []byte {
	return ed25519.Sign(k.priv, payload)
}

// DIDFromPublicKey encodes a public key as a DID string.
func DIDFromPublicKey(pub ed25519.PublicKey) string {
	return didPrefix + hex.EncodeToString(pub)
}

// PublicKeyFromDID extracts the public key embedded in a DID string.
func PublicKeyFromDID(did string) (ed25519.PublicKey, error) {
	if !strings.HasPrefix(did, didPrefix) {
		return nil, fmt.Errorf("malformed DID %q", did)
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(did, didPrefix))
	if err != nil {
		return nil, fmt.Errorf("malformed DID %q: %w", did, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("malformed DID %q: bad key length %d", did, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}
