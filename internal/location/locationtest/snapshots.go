// Package locationtest provides an in-memory location snapshot store for tests.
package locationtest

import (
	"context"
	"sync"

	"github.com/robalyx/resonance/internal/apperr"
	"github.com/robalyx/resonance/internal/database/types"
)

// Snapshots keeps snapshots in a map.
type Snapshots struct {
	mu    sync.Mutex
	items map[string]types.LocationSnapshot
}

// NewSnapshots creates an empty store.
func NewSnapshots() *Snapshots {
	return &Snapshots{items: make(map[string]types.LocationSnapshot)}
}

func (s *Snapshots) Upsert(_ context.Context, snapshot *types.LocationSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[snapshot.UserID] = *snapshot

	return nil
}

func (s *Snapshots) Get(_ context.Context, userID string) (*types.LocationSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, ok := s.items[userID]
	if !ok {
		return nil, apperr.NotFound("no location for user %s", userID)
	}

	return &snapshot, nil
}

func (s *Snapshots) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, userID)

	return nil
}
