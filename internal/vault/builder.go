package vault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/mkarech/skyvault/internal/errs"
	"github.com/mkarech/skyvault/internal/identity"
	"github.com/mkarech/skyvault/internal/model"
	"github.com/mkarech/skyvault/internal/nuc"
	"github.com/mkarech/skyvault/internal/secretshare"
)

// DefaultNodeTokenTTL is the validity window of per-node invocation tokens.
const DefaultNodeTokenTTL = 86400 * time.Second

// BuilderOptions tune client construction.
type BuilderOptions struct {
	HTTPClient   *http.Client
	Logger       *zap.Logger
	NodeTokenTTL time.Duration
}

// BuilderClient is the application operator's client: it holds the root
// capability, provisions collections and queries, and reads data it has been
// granted access to.
type BuilderClient struct {
	kp           *identity.Keypair
	auth         *nodeClient
	authorityDID string
	nodes        []*nodeClient
	rootToken    string
	nodeTokens   map[string]string
	nodeTokenTTL time.Duration
	log          *zap.Logger
}

// NewBuilder dials the auth service and every storage node, resolving their
// DIDs. No tokens are minted yet; call RefreshRootToken or SetRootToken.
func NewBuilder(ctx context.Context, kp *identity.Keypair, authURL string, nodeURLs []string, opts BuilderOptions) (*BuilderClient, error) {
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
	ttl := opts.NodeTokenTTL
	if ttl == 0 {
		ttl = DefaultNodeTokenTTL
	}

	b := &BuilderClient{
		kp:           kp,
		auth:         newNodeClient(authURL, opts.HTTPClient),
		nodeTokens:   map[string]string{},
		nodeTokenTTL: ttl,
		log:          log,
	}
	var err error
	if b.authorityDID, err = b.auth.about(ctx); err != nil {
		return nil, fmt.Errorf("resolve auth service: %w", err)
	}
	for _, u := range nodeURLs {
		n := newNodeClient(u, opts.HTTPClient)
		if _, err := n.about(ctx); err != nil {
			return nil, fmt.Errorf("resolve node %s: %w", u, err)
		}
		b.nodes = append(b.nodes, n)
	}
	return b, nil
}

// DID returns the builder's identifier.
func (b *BuilderClient) DID() string { return b.kp.DID() }

// Keypair exposes the signing key for delegation issuance.
func (b *BuilderClient) Keypair() *identity.Keypair { return b.kp }

// AuthorityDID returns the auth service's DID, the trusted chain anchor.
func (b *BuilderClient) AuthorityDID() string { return b.authorityDID }

// Nodes returns the resolved storage cluster.
func (b *BuilderClient) Nodes() []model.Node {
	out := make([]model.Node, len(b.nodes))
	for i, n := range b.nodes {
		out[i] = model.Node{URL: n.base, DID: n.did}
	}
	return out
}

// RootToken returns the current root capability in serialized form.
func (b *BuilderClient) RootToken() string { return b.rootToken }

// SetRootToken installs a persisted root token (login path, no subscription check).
func (b *BuilderClient) SetRootToken(raw string) { b.rootToken = raw }

// NodeTokens returns the per-node invocation token map keyed by node DID.
func (b *BuilderClient) NodeTokens() map[string]string { return b.nodeTokens }

// SetNodeTokens installs persisted invocation tokens (login path).
func (b *BuilderClient) SetNodeTokens(tokens map[string]string) {
	if tokens == nil {
		tokens = map[string]string{}
	}
	b.nodeTokens = tokens
}

// RefreshRootToken proves an active subscription at the auth service and
// obtains a fresh root capability. Fails with ErrNoSubscription when the
// builder holds no active plan.
func (b *BuilderClient) RefreshRootToken(ctx context.Context) error {
	var sub SubscriptionResponse
	if err := b.auth.get(ctx, PathAuthSubscription+b.kp.DID(), "", &sub); err != nil {
		return fmt.Errorf("subscription check: %w", err)
	}
	if !sub.Subscribed {
		return errs.ErrNoSubscription
	}
	var tok TokenResponse
	if err := b.auth.post(ctx, PathAuthToken, "", TokenRequest{DID: b.kp.DID()}, &tok); err != nil {
		return fmt.Errorf("root token: %w", err)
	}
	b.rootToken = tok.Token
	b.log.Info("root token refreshed", zap.String("did", b.kp.DID()))
	return nil
}

// MintNodeTokens derives one invocation token per storage node from the root
// capability. Every read/write requires the full map to be populated first.
func (b *BuilderClient) MintNodeTokens() (map[string]string, error) {
	if b.rootToken == "" {
		return nil, fmt.Errorf("%w: no root token", errs.ErrInvalidToken)
	}
	expires := time.Now().Add(b.nodeTokenTTL)
	tokens := make(map[string]string, len(b.nodes))
	for _, n := range b.nodes {
		tok, err := nuc.Extend(b.rootToken, b.kp, nuc.CmdRoot, n.did, expires)
		if err != nil {
			return nil, fmt.Errorf("mint token for %s: %w", n.did, err)
		}
		tokens[n.did] = tok
	}
	b.nodeTokens = tokens
	return tokens, nil
}

// Delegate extends the root capability down to a single command for a single
// audience DID with a hard expiry. The result is usable only by that
// audience and only for that command.
func (b *BuilderClient) Delegate(cmd, audienceDID string, ttl time.Duration) (string, error) {
	if b.rootToken == "" {
		return "", fmt.Errorf("%w: no root token", errs.ErrInvalidToken)
	}
	if audienceDID == "" {
		return "", errors.New("delegation needs an audience DID")
	}
	if ttl <= 0 {
		return "", errors.New("delegation TTL must be positive")
	}
	return nuc.Extend(b.rootToken, b.kp, cmd, audienceDID, time.Now().Add(ttl))
}

// ReadProfile fetches the builder's registration, trying nodes in order.
func (b *BuilderClient) ReadProfile(ctx context.Context) (*model.Profile, error) {
	var lastErr error
	for _, n := range b.nodes {
		tok, err := b.tokenFor(n)
		if err != nil {
			return nil, err
		}
		var out ProfileResponse
		if err := n.get(ctx, PathProfile, tok, &out); err != nil {
			lastErr = err
			continue
		}
		return &out.Data, nil
	}
	return nil, lastErr
}

// Register creates the builder's profile across the cluster. Returns
// ErrDuplicateEntry when every node already knows the profile.
func (b *BuilderClient) Register(ctx context.Context, name string) error {
	req := RegisterRequest{DID: b.kp.DID(), Name: name}
	return b.fanout(ctx, "register", true, func(ctx context.Context, n *nodeClient, tok string) error {
		return n.post(ctx, PathRegister, tok, req, nil)
	})
}

// CreateCollection provisions a schema-typed container on every node. The
// item schema is validated locally before any network call. Re-creation of
// an existing id surfaces as ErrDuplicateEntry for the caller to tolerate.
func (b *BuilderClient) CreateCollection(ctx context.Context, col model.Collection) error {
	if err := ValidateCollectionSchema(col); err != nil {
		return err
	}
	return b.fanout(ctx, "create collection", true, func(ctx context.Context, n *nodeClient, tok string) error {
		return n.post(ctx, PathCollection, tok, col, nil)
	})
}

// VerifyCollection reports whether the collection id still exists on the
// cluster, so callers can discard stale cached ids.
func (b *BuilderClient) VerifyCollection(ctx context.Context, id string) (bool, error) {
	var lastErr error
	for _, n := range b.nodes {
		tok, err := b.tokenFor(n)
		if err != nil {
			return false, err
		}
		var out model.Collection
		err = n.get(ctx, PathCollection+"/"+id, tok, &out)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, errs.ErrNotFound):
			return false, nil
		default:
			lastErr = err
		}
	}
	return false, lastErr
}

// CreateData writes builder-owned records into a standard collection,
// secret-sharing %allot fields per node. Returns the created document ids.
func (b *BuilderClient) CreateData(ctx context.Context, collection string, data []model.Record) ([]string, error) {
	ids, variants, err := prepareRecords(data, len(b.nodes))
	if err != nil {
		return nil, err
	}
	err = b.fanout(ctx, "create data", false, func(ctx context.Context, n *nodeClient, tok string) error {
		i := b.nodeIndex(n)
		req := CreateDataRequest{Collection: collection, Owner: b.kp.DID(), Data: variants[i]}
		return n.post(ctx, PathDataCreate, tok, req, nil)
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// UpdateData replaces one document's payload on every node.
func (b *BuilderClient) UpdateData(ctx context.Context, ref model.DataReference, update model.Record) error {
	variants, err := secretshare.Conceal(update, len(b.nodes))
	if err != nil {
		return err
	}
	return b.fanout(ctx, "update data", false, func(ctx context.Context, n *nodeClient, tok string) error {
		req := UpdateDataRequest{Collection: ref.Collection, Document: ref.Document, Update: variants[b.nodeIndex(n)]}
		return n.post(ctx, PathDataUpdate, tok, req, nil)
	})
}

// ReadData fetches one document. Requires ownership or a read grant;
// secret-shared fields are reconstructed transparently.
func (b *BuilderClient) ReadData(ctx context.Context, ref model.DataReference) (model.Record, error) {
	variants := make([]model.Record, 0, len(b.nodes))
	for _, n := range b.nodes {
		tok, err := b.tokenFor(n)
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

// FindData lists readable documents of a collection matching a plaintext
// filter, reconstructing shared fields. Reads need every node's share, so
// any node failure fails the call.
func (b *BuilderClient) FindData(ctx context.Context, collection string, filter map[string]any) ([]model.Record, error) {
	perNode := make([]map[string]model.Record, len(b.nodes))
	var order []string
	for i, n := range b.nodes {
		tok, err := b.tokenFor(n)
		if err != nil {
			return nil, err
		}
		var out FindDataResponse
		if err := n.post(ctx, PathDataFind, tok, FindDataRequest{Collection: collection, Filter: filter}, &out); err != nil {
			return nil, err
		}
		perNode[i] = make(map[string]model.Record, len(out.Data))
		for _, rec := range out.Data {
			perNode[i][rec.ID()] = rec
			if i == 0 {
				order = append(order, rec.ID())
			}
		}
	}

	var out []model.Record
	for _, id := range order {
		variants := make([]model.Record, 0, len(b.nodes))
		for _, byID := range perNode {
			variant, ok := byID[id]
			if !ok {
				break
			}
			variants = append(variants, variant)
		}
		if len(variants) != len(b.nodes) {
			b.log.Warn("document missing shares on some nodes, skipping", zap.String("id", id))
			continue
		}
		rec, err := secretshare.Reveal(variants)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", id, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// DeleteData removes one document from every node. Nodes reject the call
// with ErrNotOwner unless the builder owns the document.
func (b *BuilderClient) DeleteData(ctx context.Context, ref model.DataReference) error {
	return b.fanout(ctx, "delete data", false, func(ctx context.Context, n *nodeClient, tok string) error {
		return n.post(ctx, PathDataDelete, tok, DeleteDataRequest(ref), nil)
	})
}

// CreateQuery registers a named aggregation for later controlled execution.
func (b *BuilderClient) CreateQuery(ctx context.Context, q model.Query) error {
	return b.fanout(ctx, "create query", true, func(ctx context.Context, n *nodeClient, tok string) error {
		return n.post(ctx, PathQueries, tok, q, nil)
	})
}

// RunQuery executes a registered query with variable bindings, returning the
// first node's successful result (registered pipelines touch plaintext
// fields only, so nodes agree).
func (b *BuilderClient) RunQuery(ctx context.Context, id string, variables map[string]any) ([]model.Record, error) {
	var lastErr error
	for _, n := range b.nodes {
		tok, err := b.tokenFor(n)
		if err != nil {
			return nil, err
		}
		var out RunQueryResponse
		if err := n.post(ctx, PathQueriesRun, tok, RunQueryRequest{ID: id, Variables: variables}, &out); err != nil {
			lastErr = err
			continue
		}
		return out.Data, nil
	}
	return nil, lastErr
}

func (b *BuilderClient) tokenFor(n *nodeClient) (string, error) {
	tok, ok := b.nodeTokens[n.did]
	if !ok {
		return "", fmt.Errorf("%w: no invocation token for node %s", errs.ErrInvalidToken, n.did)
	}
	return tok, nil
}

func (b *BuilderClient) nodeIndex(target *nodeClient) int {
	for i, n := range b.nodes {
		if n == target {
			return i
		}
	}
	return 0
}

// fanout runs fn against every node and enforces a strict-majority quorum of
// acknowledgements. When dupesOK, per-node duplicate answers count toward
// the quorum; if every answer was a duplicate the aggregate is
// ErrDuplicateEntry so callers can treat re-provisioning as already-done.
func (b *BuilderClient) fanout(ctx context.Context, op string, dupesOK bool,
	fn func(ctx context.Context, n *nodeClient, token string) error) error {
	acks, dupes := 0, 0
	var firstErr error
	for _, n := range b.nodes {
		tok, err := b.tokenFor(n)
		if err != nil {
			return err
		}
		err = fn(ctx, n, tok)
		switch {
		case err == nil:
			acks++
		case dupesOK && errors.Is(err, errs.ErrDuplicateEntry):
			dupes++
		default:
			b.log.Warn("node call failed",
				zap.String("op", op), zap.String("node", n.base), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if acks+dupes >= quorum(len(b.nodes)) {
		if acks == 0 && dupes > 0 {
			return errs.ErrDuplicateEntry
		}
		return nil
	}
	if firstErr != nil {
		return firstErr
	}
	return errs.ErrRemoteCall
}

// quorum is the strict majority of n.
func quorum(n int) int { return n/2 + 1 }

// prepareRecords assigns missing _id fields and conceals %allot fields into
// one variant list per node.
func prepareRecords(data []model.Record, n int) (ids []string, variants [][]model.Record, err error) {
	variants = make([][]model.Record, n)
	for _, rec := range data {
		id := rec.ID()
		if id == "" {
			u, err := uuid.NewV4()
			if err != nil {
				return nil, nil, err
			}
			id = u.String()
			rec["_id"] = id
		}
		ids = append(ids, id)
		vs, err := secretshare.Conceal(rec, n)
		if err != nil {
			return nil, nil, err
		}
		for i := range variants {
			variants[i] = append(variants[i], vs[i])
		}
	}
	return ids, variants, nil
}
