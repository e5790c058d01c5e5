package identity

import (
	"crypto/ed25519"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromSeedDeterministic(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	a, err := FromSeed(seed)
	require.NoError(t, err)
	b, err := FromSeed(seed)
	require.NoError(t, err)
	require.Equal(t, a.DID(), b.DID())
}

func TestFromSeedRejectsBadLength(t *testing.T) {
	_, err := FromSeed([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestFromSeedHex(t *testing.T) {
	const hexSeed = "0x0101010101010101010101010101010101010101010101010101010101010101"
	kp, err := FromSeedHex(hexSeed)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(kp.DID(), "did:vault:"))

	// prefix is optional
	kp2, err := FromSeedHex(strings.TrimPrefix(hexSeed, "0x"))
	require.NoError(t, err)
	require.Equal(t, kp.DID(), kp2.DID())

	_, err = FromSeedHex("zz")
	require.Error(t, err)
}

func TestDIDRoundTrip(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)

	pub, err := PublicKeyFromDID(kp.DID())
	require.NoError(t, err)
	require.Equal(t, kp.Public(), pub)
}

func TestPublicKeyFromDIDMalformed(t *testing.T) {
	for _, did := range []string{
		"",
		"did:other:00",
		"did:vault:not-hex",
		"did:vault:0011", // too short
	} {
		_, err := PublicKeyFromDID(did)
		require.Error(t, err, did)
	}
}

func TestSignVerify(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)

	msg := []byte("payload")
	sig := kp.Sign(msg)
	require.True(t, ed25519.Verify(kp.Public(), msg, sig))
	require.False(t, ed25519.Verify(kp.Public(), []byte("other"), sig))
}
