// Package nuc implements the chained capability tokens used to authorize
// calls against the vault network. A chain starts at a root token issued by
// the auth service, is narrowed by delegations, and terminates in an
// invocation addressed to a single node. Every link is a signed JWT carrying
// its parent in the prf claim, so the whole chain travels with the leaf.
package nuc

import (
	"crypto/ed25519"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mkarech/skyvault/internal/identity"
)

// Command paths. A token grants exactly its cmd and everything below it.
const (
	CmdRoot              = "/vault"
	CmdDataCreate        = "/vault/data/create"
	CmdDataRead          = "/vault/data/read"
	CmdDataDelete        = "/vault/data/delete"
	CmdDataFind          = "/vault/data/find"
	CmdCollectionsCreate = "/vault/collections/create"
	CmdQueries           = "/vault/queries"
)

// Claims is the JWT payload of one chain link.
type Claims struct {
	// Command is the granted command path.
	Command string `json:"cmd"`
	// Proof carries the serialized parent token; empty on root tokens.
	Proof string `json:"prf,omitempty"`
	jwt.RegisteredClaims
}

// Token is a parsed, signature-verified chain link.
type Token struct {
	Raw    string
	Claims Claims
	// RootIssuer is the DID anchoring the proof chain.
	RootIssuer string
	selfIssued bool
}

// SelfIssued reports whether the chain is anchored by its own issuer rather
// than a trusted authority.
func (t *Token) SelfIssued() bool { return t.selfIssued }

// Audience returns the single audience DID of the token.
func (t *Token) Audience() string {
	if len(t.Claims.Audience) == 0 {
		return ""
	}
	return t.Claims.Audience[0]
}

// Issue creates a root token: the authority grants audienceDID the cmd
// capability until ttl elapses. Only the auth service calls this.
func Issue(key ed25519.PrivateKey, issuerDID, audienceDID, cmd string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Command: cmd,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuerDID,
			Subject:   audienceDID,
			Audience:  jwt.ClaimStrings{audienceDID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(key)
}

// SelfIssue creates a self-anchored invocation: the caller vouches for
// itself. Nodes accept these only for operations over the caller's own data;
// anything acting on behalf of a builder needs a chain rooted at the auth
// service instead.
func SelfIssue(kp *identity.Keypair, audienceDID, cmd string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Command: cmd,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    kp.DID(),
			Subject:   kp.DID(),
			Audience:  jwt.ClaimStrings{audienceDID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(kp.Private())
}

// Extend derives a narrower token from parent: scoped to one cmd, one
// audience and a hard expiry, signed by kp. The signer must be the parent's
// audience or the chain will not validate.
func Extend(parent string, kp *identity.Keypair, cmd, audienceDID string, expiresAt time.Time) (string, error) {
	pc, err := Decode(parent)
	if err != nil {
		return "", fmt.Errorf("decode parent: %w", err)
	}
	now := time.Now()
	claims := Claims{
		Command: cmd,
		Proof:   parent,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    kp.DID(),
			Subject:   pc.Subject,
			Audience:  jwt.ClaimStrings{audienceDID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(kp.Private())
}

// Decode reads the claims of a serialized token without verifying the
// signature. Callers that need trust must go through Validator.
func Decode(raw string) (*Claims, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return nil, err
	}
	return &claims, nil
}

// Covers reports whether a granted command path authorizes op.
func Covers(grant, op string) bool {
	if grant == "" {
		return false
	}
	return op == grant || strings.HasPrefix(op, grant+"/")
}
