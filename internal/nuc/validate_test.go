package nuc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mkarech/skyvault/internal/errs"
	"github.com/mkarech/skyvault/internal/identity"
)

type chainFixture struct {
	authority *identity.Keypair
	builder   *identity.Keypair
	user      *identity.Keypair
	node      *identity.Keypair
	validator *Validator
}

func newChainFixture(t *testing.T) *chainFixture {
	t.Helper()
	f := &chainFixture{}
	var err error
	for _, kp := range []**identity.Keypair{&f.authority, &f.builder, &f.user, &f.node} {
		*kp, err = identity.Generate()
		require.NoError(t, err)
	}
	f.validator = &Validator{RootIssuers: []string{f.authority.DID()}}
	return f
}

func (f *chainFixture) rootToken(t *testing.T, ttl time.Duration) string {
	t.Helper()
	raw, err := Issue(f.authority.Private(), f.authority.DID(), f.builder.DID(), CmdRoot, ttl)
	require.NoError(t, err)
	return raw
}

func TestParseRootToken(t *testing.T) {
	f := newChainFixture(t)

	tok, err := f.validator.Parse(f.rootToken(t, time.Hour))
	require.NoError(t, err)
	require.Equal(t, f.authority.DID(), tok.RootIssuer)
	require.Equal(t, f.builder.DID(), tok.Audience())
	require.False(t, tok.SelfIssued())
}

func TestParseDelegationChain(t *testing.T) {
	f := newChainFixture(t)
	root := f.rootToken(t, time.Hour)

	delegation, err := Extend(root, f.builder, CmdDataCreate, f.user.DID(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	invocation, err := Extend(delegation, f.user, CmdDataCreate, f.node.DID(), time.Now().Add(5*time.Minute))
	require.NoError(t, err)

	tok, err := f.validator.ParseInvocation(invocation, f.node.DID(), CmdDataCreate)
	require.NoError(t, err)
	require.Equal(t, f.authority.DID(), tok.RootIssuer)
	require.Equal(t, f.user.DID(), tok.Claims.Issuer)
}

func TestParseExpired(t *testing.T) {
	f := newChainFixture(t)

	_, err := f.validator.Parse(f.rootToken(t, -time.Minute))
	require.ErrorIs(t, err, errs.ErrInvalidToken)
}

func TestParseExpiredLink(t *testing.T) {
	f := newChainFixture(t)
	root := f.rootToken(t, time.Hour)

	// unexpired invocation hanging off an expired delegation
	delegation, err := Extend(root, f.builder, CmdDataCreate, f.user.DID(), time.Now().Add(-time.Minute))
	require.NoError(t, err)
	invocation, err := Extend(delegation, f.user, CmdDataCreate, f.node.DID(), time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = f.validator.Parse(invocation)
	require.ErrorIs(t, err, errs.ErrInvalidToken)
}

func TestParseUntrustedRoot(t *testing.T) {
	f := newChainFixture(t)
	other, err := identity.Generate()
	require.NoError(t, err)

	raw, err := Issue(other.Private(), other.DID(), f.builder.DID(), CmdRoot, time.Hour)
	require.NoError(t, err)

	_, err = f.validator.Parse(raw)
	require.ErrorIs(t, err, errs.ErrInvalidToken)
}

func TestParseIssuerNotParentAudience(t *testing.T) {
	f := newChainFixture(t)
	root := f.rootToken(t, time.Hour)

	// the user was never the delegation audience, so their extension breaks the chain
	delegation, err := Extend(root, f.builder, CmdDataCreate, f.builder.DID(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	invocation, err := Extend(delegation, f.user, CmdDataCreate, f.node.DID(), time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = f.validator.Parse(invocation)
	require.ErrorIs(t, err, errs.ErrInvalidToken)
}

func TestParseCommandEscape(t *testing.T) {
	f := newChainFixture(t)
	root := f.rootToken(t, time.Hour)

	delegation, err := Extend(root, f.builder, CmdDataCreate, f.user.DID(), time.Now().Add(time.Hour))
	require.NoError(t, err)

	// a create grant cannot widen into read
	invocation, err := Extend(delegation, f.user, CmdDataRead, f.node.DID(), time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = f.validator.Parse(invocation)
	require.ErrorIs(t, err, errs.ErrInvalidToken)
}

func TestParseInvocationAudienceMismatch(t *testing.T) {
	f := newChainFixture(t)
	root := f.rootToken(t, time.Hour)

	invocation, err := Extend(root, f.builder, CmdDataRead, f.node.DID(), time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = f.validator.ParseInvocation(invocation, "did:vault:deadbeef", CmdDataRead)
	require.ErrorIs(t, err, errs.ErrInvalidToken)
}

func TestParseInvocationCommandNotCovered(t *testing.T) {
	f := newChainFixture(t)
	root := f.rootToken(t, time.Hour)

	invocation, err := Extend(root, f.builder, CmdDataRead, f.node.DID(), time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = f.validator.ParseInvocation(invocation, f.node.DID(), CmdDataDelete)
	require.ErrorIs(t, err, errs.ErrInvalidToken)
}

func TestParseSelfIssued(t *testing.T) {
	f := newChainFixture(t)

	raw, err := SelfIssue(f.user, f.node.DID(), CmdDataRead, 5*time.Minute)
	require.NoError(t, err)

	// rejected by default
	_, err = f.validator.Parse(raw)
	require.ErrorIs(t, err, errs.ErrInvalidToken)

	lenient := &Validator{RootIssuers: f.validator.RootIssuers, AllowSelfIssued: true}
	tok, err := lenient.Parse(raw)
	require.NoError(t, err)
	require.True(t, tok.SelfIssued())
	require.Equal(t, f.user.DID(), tok.Claims.Issuer)
}

func TestParseSelfIssuedCannotBeExtended(t *testing.T) {
	f := newChainFixture(t)

	raw, err := SelfIssue(f.user, f.user.DID(), CmdRoot, time.Hour)
	require.NoError(t, err)
	extended, err := Extend(raw, f.user, CmdDataRead, f.node.DID(), time.Now().Add(time.Hour))
	require.NoError(t, err)

	lenient := &Validator{AllowSelfIssued: true}
	_, err = lenient.Parse(extended)
	require.ErrorIs(t, err, errs.ErrInvalidToken)
}

func TestParseDepthLimit(t *testing.T) {
	f := newChainFixture(t)
	raw := f.rootToken(t, time.Hour)

	// the builder re-delegates to itself until the chain exceeds the cap
	var err error
	for i := 0; i < defaultMaxDepth; i++ {
		raw, err = Extend(raw, f.builder, CmdRoot, f.builder.DID(), time.Now().Add(time.Hour))
		require.NoError(t, err)
	}
	_, err = f.validator.Parse(raw)
	require.ErrorIs(t, err, errs.ErrInvalidToken)
}

func TestParseRejectsNonEdDSA(t *testing.T) {
	f := newChainFixture(t)
	_, err := f.validator.Parse("eyJhbGciOiJub25lIn0.eyJjbWQiOiIvdmF1bHQifQ.")
	require.ErrorIs(t, err, errs.ErrInvalidToken)
}
