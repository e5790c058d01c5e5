package nuc

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mkarech/skyvault/internal/errs"
	"github.com/mkarech/skyvault/internal/identity"
)

const defaultMaxDepth = 5

// Validator verifies capability chains against a set of trusted root issuers.
type Validator struct {
	// RootIssuers lists authority DIDs allowed to anchor a chain.
	RootIssuers []string
	// AllowSelfIssued accepts single-link chains vouched for by their own
	// issuer. Callers must then restrict such tokens to the issuer's own data.
	AllowSelfIssued bool
	// MaxDepth caps chain length; 0 means the default of 5.
	MaxDepth int
}

// Parse verifies raw and its whole proof chain: every signature checks out
// under the issuer DID's embedded key, every link is unexpired, each issuer
// is the parent's audience, each command only narrows, and the anchor is
// trusted. All failures map to errs.ErrInvalidToken.
func (v *Validator) Parse(raw string) (*Token, error) {
	maxDepth := v.MaxDepth
	if maxDepth == 0 {
		maxDepth = defaultMaxDepth
	}
	return v.parse(raw, maxDepth)
}

// ParseInvocation verifies raw as an invocation addressed to audienceDID
// whose granted command covers op. The returned token's issuer is the
// calling identity.
func (v *Validator) ParseInvocation(raw, audienceDID, op string) (*Token, error) {
	tok, err := v.Parse(raw)
	if err != nil {
		return nil, err
	}
	if tok.Audience() != audienceDID {
		return nil, fmt.Errorf("%w: token audience %q is not %q", errs.ErrInvalidToken, tok.Audience(), audienceDID)
	}
	if !Covers(tok.Claims.Command, op) {
		return nil, fmt.Errorf("%w: command %q does not cover %q", errs.ErrInvalidToken, tok.Claims.Command, op)
	}
	return tok, nil
}

func (v *Validator) parse(raw string, depth int) (*Token, error) {
	if depth <= 0 {
		return nil, fmt.Errorf("%w: proof chain too deep", errs.ErrInvalidToken)
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, issuerKey,
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidToken, err)
	}
	if len(claims.Audience) != 1 {
		return nil, fmt.Errorf("%w: token must name exactly one audience", errs.ErrInvalidToken)
	}

	if claims.Proof == "" {
		if v.trustedRoot(claims.Issuer) {
			return &Token{Raw: raw, Claims: claims, RootIssuer: claims.Issuer}, nil
		}
		if v.AllowSelfIssued && claims.Issuer == claims.Subject {
			return &Token{Raw: raw, Claims: claims, RootIssuer: claims.Issuer, selfIssued: true}, nil
		}
		return nil, fmt.Errorf("%w: untrusted root issuer %q", errs.ErrInvalidToken, claims.Issuer)
	}

	parent, err := v.parse(claims.Proof, depth-1)
	if err != nil {
		return nil, err
	}
	if parent.selfIssued {
		return nil, fmt.Errorf("%w: self-issued tokens cannot be extended", errs.ErrInvalidToken)
	}
	if claims.Issuer != parent.Audience() {
		return nil, fmt.Errorf("%w: issuer %q is not the parent audience %q",
			errs.ErrInvalidToken, claims.Issuer, parent.Audience())
	}
	if !Covers(parent.Claims.Command, claims.Command) {
		return nil, fmt.Errorf("%w: command %q escapes parent grant %q",
			errs.ErrInvalidToken, claims.Command, parent.Claims.Command)
	}
	return &Token{Raw: raw, Claims: claims, RootIssuer: parent.RootIssuer}, nil
}

func (v *Validator) trustedRoot(did string) bool {
	for _, iss := range v.RootIssuers {
		if did == iss {
			return true
		}
	}
	return false
}

// issuerKey resolves the verification key from the issuer DID itself.
func issuerKey(t *jwt.Token) (any, error) {
	claims, ok := t.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type %T", t.Claims)
	}
	return identity.PublicKeyFromDID(claims.Issuer)
}
