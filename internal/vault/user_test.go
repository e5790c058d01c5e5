package vault_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mkarech/skyvault/internal/errs"
	"github.com/mkarech/skyvault/internal/identity"
	"github.com/mkarech/skyvault/internal/model"
	"github.com/mkarech/skyvault/internal/nuc"
	"github.com/mkarech/skyvault/internal/secretshare"
	"github.com/mkarech/skyvault/internal/vault"
	"github.com/mkarech/skyvault/internal/vaulttest"
)

const userColID = "77777777-7777-4777-8777-777777777777"

type userEnv struct {
	cluster *vaulttest.Cluster
	builder *vault.BuilderClient
	user    *vault.UserClient
	userKP  *identity.Keypair
}

func newUserEnv(t *testing.T, nodes int) *userEnv {
	t.Helper()
	cluster, b := newBuilderEnv(t, nodes)
	provisionCollection(t, b, userColID)

	kp, err := identity.Generate()
	require.NoError(t, err)
	u, err := vault.NewUser(context.Background(), kp, cluster.NodeURLs(), vault.UserOptions{})
	require.NoError(t, err)

	return &userEnv{cluster: cluster, builder: b, user: u, userKP: kp}
}

// upload performs the delegated write granting the builder read+execute.
func (e *userEnv) upload(t *testing.T, rec model.Record) model.DataReference {
	t.Helper()
	delegation, err := e.builder.Delegate(nuc.CmdDataCreate, e.user.DID(), time.Hour)
	require.NoError(t, err)

	ids, err := e.user.CreateData(context.Background(), delegation, vault.CreateDataArgs{
		Owner: e.user.DID(),
		ACL: &model.ACL{
			Grantee: e.builder.DID(),
			Read:    true,
			Write:   false,
			Execute: true,
		},
		Collection: userColID,
		Data:       []model.Record{rec},
	})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	return model.DataReference{Collection: userColID, Document: ids[0]}
}

func sampleRecord() model.Record {
	return model.Record{
		"name":            "Coder",
		"event_name":      "Hackathon",
		"travel_date":     map[string]any{secretshare.AllotKey: "02/04/2025"},
		"additional_note": map[string]any{secretshare.AllotKey: "I like to read books"},
	}
}

func TestDelegatedUploadAndRead(t *testing.T) {
	e := newUserEnv(t, 3)
	ctx := context.Background()

	ref := e.upload(t, sampleRecord())

	// the owner reads their own record
	rec, err := e.user.ReadData(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, "I like to read books", rec["additional_note"])

	// the builder reads it through the creation-time grant
	rec, err = e.builder.ReadData(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, "Coder", rec["name"])
	require.Equal(t, "02/04/2025", rec["travel_date"])
}

func TestCreateDataRejectsForeignOwner(t *testing.T) {
	e := newUserEnv(t, 1)

	delegation, err := e.builder.Delegate(nuc.CmdDataCreate, e.user.DID(), time.Hour)
	require.NoError(t, err)

	_, err = e.user.CreateData(context.Background(), delegation, vault.CreateDataArgs{
		Owner:      e.builder.DID(),
		Collection: userColID,
		Data:       []model.Record{sampleRecord()},
	})
	require.Error(t, err)
}

func TestCreateDataExpiredDelegation(t *testing.T) {
	e := newUserEnv(t, 3)

	// Delegate refuses non-positive TTLs, so mint the expired link directly
	// off the root token the way a stale client would present it.
	delegation, err := nuc.Extend(e.builder.RootToken(), e.builder.Keypair(),
		nuc.CmdDataCreate, e.user.DID(), time.Now().Add(-time.Minute))
	require.NoError(t, err)

	_, err = e.user.CreateData(context.Background(), delegation, vault.CreateDataArgs{
		Owner:      e.user.DID(),
		Collection: userColID,
		Data:       []model.Record{sampleRecord()},
	})
	require.ErrorIs(t, err, errs.ErrInvalidToken)

	// no record may exist after the rejected create
	refs, err := e.user.ListDataReferences(context.Background())
	require.NoError(t, err)
	require.Empty(t, refs)
}

func TestCreateDataWrongAudience(t *testing.T) {
	e := newUserEnv(t, 1)

	other, err := identity.Generate()
	require.NoError(t, err)
	delegation, err := e.builder.Delegate(nuc.CmdDataCreate, other.DID(), time.Hour)
	require.NoError(t, err)

	_, err = e.user.CreateData(context.Background(), delegation, vault.CreateDataArgs{
		Owner:      e.user.DID(),
		Collection: userColID,
		Data:       []model.Record{sampleRecord()},
	})
	require.ErrorIs(t, err, errs.ErrInvalidToken)
}

func TestGrantRevokeCycle(t *testing.T) {
	e := newUserEnv(t, 3)
	ctx := context.Background()

	ref := e.upload(t, sampleRecord())

	// revoke the builder's creation-time grant
	require.NoError(t, e.user.RevokeAccess(ctx, ref, e.builder.DID()))
	_, err := e.builder.ReadData(ctx, ref)
	require.ErrorIs(t, err, errs.ErrAccessDenied)

	// revoking an absent grant stays a no-op
	require.NoError(t, e.user.RevokeAccess(ctx, ref, e.builder.DID()))

	// re-grant restores access; repeating the grant keeps a single entry
	acl := model.ACL{Grantee: e.builder.DID(), Read: true}
	require.NoError(t, e.user.GrantAccess(ctx, ref, acl))
	require.NoError(t, e.user.GrantAccess(ctx, ref, acl))

	rec, err := e.builder.ReadData(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, "Hackathon", rec["event_name"])
}

func TestOwnerOnlyDelete(t *testing.T) {
	e := newUserEnv(t, 3)
	ctx := context.Background()

	ref := e.upload(t, sampleRecord())

	// a read grant is not ownership
	require.ErrorIs(t, e.builder.DeleteData(ctx, ref), errs.ErrNotOwner)

	require.NoError(t, e.user.DeleteData(ctx, ref))
	_, err := e.user.ReadData(ctx, ref)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestListDataReferences(t *testing.T) {
	e := newUserEnv(t, 3)
	ctx := context.Background()

	refs, err := e.user.ListDataReferences(ctx)
	require.NoError(t, err)
	require.Empty(t, refs)

	ref1 := e.upload(t, sampleRecord())
	ref2 := e.upload(t, sampleRecord())

	refs, err = e.user.ListDataReferences(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []model.DataReference{ref1, ref2}, refs)
}

func TestSelfIssuedCannotCreateData(t *testing.T) {
	e := newUserEnv(t, 1)

	// a self-anchored chain must not authorize delegated-only operations
	selfRoot, err := nuc.SelfIssue(e.userKP, e.userKP.DID(), nuc.CmdRoot, time.Hour)
	require.NoError(t, err)

	_, err = e.user.CreateData(context.Background(), selfRoot, vault.CreateDataArgs{
		Owner:      e.user.DID(),
		Collection: userColID,
		Data:       []model.Record{sampleRecord()},
	})
	require.ErrorIs(t, err, errs.ErrInvalidToken)
}
