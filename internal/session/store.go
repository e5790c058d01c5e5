package session

import (
	"context"
	"sync"

	"github.com/mkarech/skyvault/internal/errs"
	"github.com/mkarech/skyvault/internal/model"
)

// Store persists session tokens and the per-wallet collection id cache.
// Writes are last-write-wins; no cross-process locking is modeled.
type Store interface {
	// SaveSession upserts the persisted tokens for a DID.
	SaveSession(ctx context.Context, state model.SessionState) error
	// LoadSession returns the persisted tokens or errs.ErrNotFound.
	LoadSession(ctx context.Context, did string) (*model.SessionState, error)
	// SaveCollectionID caches a provisioned collection id for a wallet address.
	SaveCollectionID(ctx context.Context, walletAddress, collectionID string) error
	// LoadCollectionID returns the cached id or errs.ErrNotFound.
	LoadCollectionID(ctx context.Context, walletAddress string) (string, error)
}

// Memory is an in-process Store for tests and the demo binary.
type Memory struct {
	mu          sync.Mutex
	sessions    map[string]model.SessionState
	collections map[string]string
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions:    map[string]model.SessionState{},
		collections: map[string]string{},
	}
}

func (m *Memory) SaveSession(_ context.Context, state model.SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[state.DID] = state
	return nil
}

func (m *Memory) LoadSession(_ context.Context, did string) (*model.SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.sessions[did]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cpy := state
	return &cpy, nil
}

func (m *Memory) SaveCollectionID(_ context.Context, walletAddress, collectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[walletAddress] = collectionID
	return nil
}

func (m *Memory) LoadCollectionID(_ context.Context, walletAddress string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.collections[walletAddress]
	if !ok {
		return "", errs.ErrNotFound
	}
	return id, nil
}
