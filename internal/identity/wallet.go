package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"

	"github.com/mkarech/skyvault/internal/errs"
)

// TypedDataDomain is the EIP-712 domain separator of a typed-data signature request.
type TypedDataDomain struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// TypedDataField describes one field of a typed-data struct.
type TypedDataField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Wallet is the browser/extension signer boundary. It is used only to derive
// a DID and sign protocol messages, never to move funds.
type Wallet interface {
	// RequestAddresses returns the connected account addresses.
	RequestAddresses(ctx context.Context) ([]string, error)
	// SignTypedData signs a typed-data payload with the given account.
	SignTypedData(ctx context.Context, address string, domain TypedDataDomain,
		types map[string][]TypedDataField, primaryType string, message map[string]any) ([]byte, error)
}

var sessionKeyTypes = map[string][]TypedDataField{
	"SessionKey": {
		{Name: "address", Type: "address"},
		{Name: "purpose", Type: "string"},
	},
}

// FromWallet derives a stable session keypair for a wallet account. The wallet signs
// a fixed typed-data message once; the signature seeds the Ed25519 key through
// HKDF, so the same wallet always derives the same DID.
func FromWallet(ctx context.Context, w Wallet) (*Keypair, string, error) {
	if w == nil {
		return nil, "", errs.ErrSignerUnavailable
	}
	addrs, err := w.RequestAddresses(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("request addresses: %w", err)
	}
	if len(addrs) == 0 {
		return nil, "", errs.ErrSignerUnavailable
	}
	address := ChecksumAddress(addrs[0])

	sig, err := w.SignTypedData(ctx, address,
		TypedDataDomain{Name: "SkyVault", Version: "1"},
		sessionKeyTypes,
		"SessionKey",
		map[string]any{"address": address, "purpose": "skyvault session key"},
	)
	if err != nil {
		return nil, "", fmt.Errorf("sign session key message: %w", err)
	}

	r := hkdf.New(sha3.New256, sig, []byte("skyvault/session-key/v1"), []byte(strings.ToLower(address)))
	seed := make([]byte, 32)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, "", err
	}
	kp, err := FromSeed(seed)
	if err != nil {
		return nil, "", err
	}
	return kp, address, nil
}

// ChecksumAddress normalizes a hex wallet address to its EIP-55 checksum form.
func ChecksumAddress(addr string) string {
	lower := strings.ToLower(strings.TrimPrefix(addr, "0x"))
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	sum := h.Sum(nil)

	out := make([]byte, len(lower))
	for i, c := range []byte(lower) {
		if c >= 'a' && c <= 'f' {
			nibble := sum[i/2]
			if i%2 == 0 {
				nibble >>= 4
			}
			if nibble&0x0f >= 8 {
				c = c - 'a' + 'A'
			}
		}
		out[i] = c
	}
	return "0x" + string(out)
}

// marshalTypedData renders the typed-data payload wallets display to the user.
// Kept here so wallet fakes and real bridges serialize identically.
func marshalTypedData(domain TypedDataDomain, primaryType string, message map[string]any) ([]byte, error) {
	return json.Marshal(map[string]any{
		"domain":      domain,
		"primaryType": primaryType,
		"message":     message,
	})
}
