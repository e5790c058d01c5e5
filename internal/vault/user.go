package vault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mkarech/skyvault/internal/errs"
	"github.com/mkarech/skyvault/internal/identity"
	"github.com/mkarech/skyvault/internal/model"
	"github.com/mkarech/skyvault/internal/nuc"
	"github.com/mkarech/skyvault/internal/secretshare"
)

// invocationTTL bounds the lifetime of the per-call tokens a user signs.
const invocationTTL = 5 * time.Minute

// UserOptions tune user client construction.
type UserOptions struct {
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// UserClient acts for a data owner: it writes self-owned records under a
// builder's delegation, reads and deletes its own data, and manages grants.
type UserClient struct {
	kp    *identity.Keypair
	nodes []*nodeClient
	log   *zap.Logger
}

// NewUser dials the storage nodes and resolves their DIDs.
func NewUser(ctx context.Context, kp *identity.Keypair, nodeURLs []string, opts UserOptions) (*UserClient, error) {
	if kp == nil {
		return nil, errs.ErrSignerUnavailable
	}
	if len(nodeURLs) == 0 {
		return nil, errors.New("no storage nodes configured")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	u := &UserClient{kp: kp, log: log}
	for _, url := range nodeURLs {
		n := newNodeClient(url, opts.HTTPClient)
		if _, err := n.about(ctx); err != nil {
			return nil, fmt.Errorf("resolve node %s: %w", url, err)
		}
		u.nodes = append(u.nodes, n)
	}
	return u, nil
}

// DID returns the user's identifier.
func (u *UserClient) DID() string { return u.kp.DID() }

// CreateDataArgs describes one owned write.
type CreateDataArgs struct {
	// Owner must equal the user's DID; the nodes enforce it.
	Owner string
	// ACL optionally grants a secondary party (typically the builder)
	// scoped access at creation time.
	ACL *model.ACL
	// Collection is the target container id.
	Collection string
	// Data records may wrap sensitive fields as {"%allot": v}.
	Data []model.Record
}

// CreateData writes self-owned records using a builder delegation. The
// delegation's audience must be this user; per node the user extends it into
// a short-lived invocation, so the chain presented to each node proves
// authority → builder → user. Wrapped fields are secret-shared before
// transmission. Returns the created document ids on quorum acknowledgement.
func (u *UserClient) CreateData(ctx context.Context, delegation string, args CreateDataArgs) ([]string, error) {
	if args.Owner != u.kp.DID() {
		return nil, fmt.Errorf("owner %q is not the signing identity %q", args.Owner, u.kp.DID())
	}
	dc, err := nuc.Decode(delegation)
	if err != nil {
		return nil, fmt.Errorf("%w: undecodable delegation: %v", errs.ErrInvalidToken, err)
	}
	if len(dc.Audience) != 1 || dc.Audience[0] != u.kp.DID() {
		return nil, fmt.Errorf("%w: delegation audience is not this user", errs.ErrInvalidToken)
	}

	ids, variants, err := prepareRecords(args.Data, len(u.nodes))
	if err != nil {
		return nil, err
	}
	err = u.fanout(func(i int, n *nodeClient) error {
		invocation, err := nuc.Extend(delegation, u.kp, nuc.CmdDataCreate, n.did, time.Now().Add(invocationTTL))
		if err != nil {
			return err
		}
		req := CreateDataRequest{
			Collection: args.Collection,
			Owner:      args.Owner,
			ACL:        args.ACL,
			Data:       variants[i],
		}
		return n.post(ctx, PathDataCreate, invocation, req, nil)
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ReadData fetches one document the user owns or was granted read on,
// reconstructing secret-shared fields from every node.
func (u *UserClient) ReadData(ctx context.Context, ref model.DataReference) (model.Record, error) {
	variants := make([]model.Record, 0, len(u.nodes))
	for _, n := range u.nodes {
		tok, err := u.selfToken(n, nuc.CmdDataRead)
		if err != nil {
			return nil, err
		}
		var out ReadDataResponse
		if err := n.post(ctx, PathDataRead, tok, ReadDataRequest(ref), &out); err != nil {
			return nil, err
		}
		variants = append(variants, out.Data)
	}
	return secretshare.Reveal(variants)
}

// ListDataReferences enumerates the user's own {collection, document} index
// without a collection scan. First responsive node answers.
func (u *UserClient) ListDataReferences(ctx context.Context) ([]model.DataReference, error) {
	var lastErr error
	for _, n := range u.nodes {
		tok, err := u.selfToken(n, nuc.CmdDataRead)
		if err != nil {
			return nil, err
		}
		var out ReferencesResponse
		if err := n.get(ctx, PathDataRefs, tok, &out); err != nil {
			lastErr = err
			continue
		}
		return out.Data, nil
	}
	return nil, lastErr
}

// DeleteData removes an owned document from every node. Non-owners are
// rejected with ErrNotOwner.
func (u *UserClient) DeleteData(ctx context.Context, ref model.DataReference) error {
	return u.fanout(func(_ int, n *nodeClient) error {
		tok, err := u.selfToken(n, nuc.CmdDataDelete)
		if err != nil {
			return err
		}
		return n.post(ctx, PathDataDelete, tok, DeleteDataRequest(ref), nil)
	})
}

// GrantAccess adds or updates a grantee's permission triple on an owned
// document. Granting an existing permission is a no-op, not an error.
func (u *UserClient) GrantAccess(ctx context.Context, ref model.DataReference, acl model.ACL) error {
	return u.fanout(func(_ int, n *nodeClient) error {
		tok, err := u.selfToken(n, nuc.CmdDataRead)
		if err != nil {
			return err
		}
		return n.post(ctx, PathACLGrant, tok, GrantRequest{Collection: ref.Collection, Document: ref.Document, ACL: acl}, nil)
	})
}

// RevokeAccess removes a grantee from an owned document's ACL. Revoking an
// absent grant is a no-op, not an error.
func (u *UserClient) RevokeAccess(ctx context.Context, ref model.DataReference, grantee string) error {
	return u.fanout(func(_ int, n *nodeClient) error {
		tok, err := u.selfToken(n, nuc.CmdDataRead)
		if err != nil {
			return err
		}
		return n.post(ctx, PathACLRevoke, tok, RevokeRequest{Collection: ref.Collection, Document: ref.Document, Grantee: grantee}, nil)
	})
}

// selfToken signs a self-anchored invocation for one node. Nodes accept
// these only for operations the user could authorize alone (their own data).
func (u *UserClient) selfToken(n *nodeClient, cmd string) (string, error) {
	return nuc.SelfIssue(u.kp, n.did, cmd, invocationTTL)
}

// fanout applies fn per node and requires a strict-majority quorum.
func (u *UserClient) fanout(fn func(i int, n *nodeClient) error) error {
	acks := 0
	var firstErr error
	for i, n := range u.nodes {
		if err := fn(i, n); err != nil {
			u.log.Warn("node call failed", zap.String("node", n.base), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		acks++
	}
	if acks >= quorum(len(u.nodes)) {
		return nil
	}
	if firstErr != nil {
		return firstErr
	}
	return errs.ErrRemoteCall
}
