// Package session bootstraps a working (signer, DID, root token, per-node
// tokens) tuple, either from scratch or from persisted state.
package session

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
	"github.com/mkarech/skyvault/internal/vault"
)

// Config carries the network endpoints and bootstrap options. Passed
// explicitly; there is no module-level network config.
type Config struct {
	AuthURL     string
	NodeURLs    []string
	ProfileName string
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

// Session is a bootstrapped client ready for reads and writes.
type Session struct {
	Builder *vault.BuilderClient
}

// NodeTokens returns the per-node invocation token map.
func (s *Session) NodeTokens() map[string]string { return s.Builder.NodeTokens() }

// Initialize mints everything fresh: subscription-checked root token, one
// invocation token per node, profile registration fallback. On success the
// tokens are persisted so later process starts can Resume.
func Initialize(ctx context.Context, cfg Config, kp *identity.Keypair, store Store) (*Session, error) {
	if kp == nil {
		return nil, errs.ErrSignerUnavailable
	}
	log := logger(cfg)

	builder, err := vault.NewBuilder(ctx, kp, cfg.AuthURL, cfg.NodeURLs, vault.BuilderOptions{
		HTTPClient: cfg.HTTPClient,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}
	if err := builder.RefreshRootToken(ctx); err != nil {
		return nil, err
	}
	if _, err := builder.MintNodeTokens(); err != nil {
		return nil, err
	}
	if err := ensureProfile(ctx, builder, cfg.ProfileName, log); err != nil {
		return nil, err
	}
	if err := persist(ctx, store, builder); err != nil {
		return nil, err
	}
	log.Info("session initialized", zap.String("did", kp.DID()), zap.Int("nodes", len(cfg.NodeURLs)))
	return &Session{Builder: builder}, nil
}

// Resume re-hydrates a session from persisted tokens without re-proving the
// subscription. The stored root token's chain is validated against the auth
// service's issuer DID; stored node tokens are reused and any missing ones
// minted fresh.
func Resume(ctx context.Context, cfg Config, kp *identity.Keypair, store Store) (*Session, error) {
	if kp == nil {
		return nil, errs.ErrSignerUnavailable
	}
	log := logger(cfg)

	state, err := store.LoadSession(ctx, kp.DID())
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.ErrNoStoredSession
		}
		return nil, err
	}

	builder, err := vault.NewBuilder(ctx, kp, cfg.AuthURL, cfg.NodeURLs, vault.BuilderOptions{
		HTTPClient: cfg.HTTPClient,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}

	validator := nuc.Validator{RootIssuers: []string{builder.AuthorityDID()}}
	root, err := validator.Parse(state.RootToken)
	if err != nil {
		return nil, err
	}
	if root.Audience() != kp.DID() {
		return nil, fmt.Errorf("%w: stored root token belongs to %q", errs.ErrInvalidToken, root.Audience())
	}
	builder.SetRootToken(state.RootToken)

	// One invocation token per configured node before any read/write.
	if coversNodes(state.NodeTokens, builder.Nodes()) {
		builder.SetNodeTokens(state.NodeTokens)
	} else {
		log.Info("stored node tokens incomplete, minting fresh set")
		if _, err := builder.MintNodeTokens(); err != nil {
			return nil, err
		}
	}

	if err := ensureProfile(ctx, builder, cfg.ProfileName, log); err != nil {
		return nil, err
	}
	if err := persist(ctx, store, builder); err != nil {
		return nil, err
	}
	log.Info("session resumed", zap.String("did", kp.DID()))
	return &Session{Builder: builder}, nil
}

// ensureProfile reads the builder profile and falls back to registration
// when none exists. A registration race (another caller registered first)
// is not an error; any other read failure is.
func ensureProfile(ctx context.Context, builder *vault.BuilderClient, name string, log *zap.Logger) error {
	_, err := builder.ReadProfile(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, errs.ErrProfileNotFound) {
		return fmt.Errorf("read profile: %w", err)
	}
	if name == "" {
		name = "skyvault builder"
	}
	err = builder.Register(ctx, name)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errs.ErrDuplicateEntry):
		log.Info("profile already registered, continuing")
		return nil
	default:
		return fmt.Errorf("register profile: %w", err)
	}
}

func persist(ctx context.Context, store Store, builder *vault.BuilderClient) error {
	return store.SaveSession(ctx, model.SessionState{
		DID:        builder.DID(),
		RootToken:  builder.RootToken(),
		NodeTokens: builder.NodeTokens(),
		UpdatedAt:  time.Now(),
	})
}

func coversNodes(tokens map[string]string, nodes []model.Node) bool {
	if len(tokens) == 0 {
		return false
	}
	for _, n := range nodes {
		if tokens[n.DID] == "" {
			return false
		}
	}
	return true
}

func logger(cfg Config) *zap.Logger {
	if cfg.Logger != nil {
		return cfg.Logger
	}
	return zap.NewNop()
}
