package session

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mkarech/skyvault/internal/errs"
	"github.com/mkarech/skyvault/internal/model"
)

// PgxPool is the minimal pool surface the store needs. Implemented by
// *pgxpool.Pool and pgxmock.PgxPoolIface.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PG is the PostgreSQL-backed Store.
type PG struct{ pool PgxPool }

// NewPG constructs a PostgreSQL store over pool.
func NewPG(pool PgxPool) *PG { return &PG{pool: pool} }

var _ Store = (*PG)(nil)

// SaveSession upserts the persisted tokens for a DID (last write wins).
func (p *PG) SaveSession(ctx context.Context, state model.SessionState) error {
	tokens, err := json.Marshal(state.NodeTokens)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO sessions (did, root_token, node_tokens, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (did)
DO UPDATE SET root_token=EXCLUDED.root_token, node_tokens=EXCLUDED.node_tokens, updated_at=now()`
	_, err = p.pool.Exec(ctx, q, state.DID, state.RootToken, tokens)
	return err
}

// LoadSession returns the persisted tokens or errs.ErrNotFound.
func (p *PG) LoadSession(ctx context.Context, did string) (*model.SessionState, error) {
	const q = `SELECT root_token, node_tokens, updated_at FROM sessions WHERE did=$1`
	var (
		state  model.SessionState
		tokens []byte
	)
	state.DID = did
	err := p.pool.QueryRow(ctx, q, did).Scan(&state.RootToken, &tokens, &state.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(tokens, &state.NodeTokens); err != nil {
		return nil, err
	}
	return &state, nil
}

// SaveCollectionID caches a provisioned collection id for a wallet address.
func (p *PG) SaveCollectionID(ctx context.Context, walletAddress, collectionID string) error {
	const q = `
INSERT INTO collection_cache (wallet_address, collection_id, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (wallet_address)
DO UPDATE SET collection_id=EXCLUDED.collection_id, updated_at=now()`
	_, err := p.pool.Exec(ctx, q, walletAddress, collectionID)
	return err
}

// LoadCollectionID returns the cached id or errs.ErrNotFound.
func (p *PG) LoadCollectionID(ctx context.Context, walletAddress string) (string, error) {
	const q = `SELECT collection_id FROM collection_cache WHERE wallet_address=$1`
	var id string
	if err := p.pool.QueryRow(ctx, q, walletAddress).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", errs.ErrNotFound
		}
		return "", err
	}
	return id, nil
}
