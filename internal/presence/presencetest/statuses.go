// Package presencetest provides an in-memory durable liveness store for tests.
package presencetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robalyx/resonance/internal/apperr"
	"github.com/robalyx/resonance/internal/database/types"
)

// Statuses mirrors the semantics of the live status model in memory.
type Statuses struct {
	mu    sync.Mutex
	rows  map[string]types.LiveStatus
	fail  error
	flips int
}

// NewStatuses creates an empty store.
func NewStatuses() *Statuses {
	return &Statuses{rows: make(map[string]types.LiveStatus)}
}

// Put stores a row as is.
func (s *Statuses) Put(status types.LiveStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rows[status.UserID] = status
}

// Row returns a copy of a stored row.
func (s *Statuses) Row(userID string) (types.LiveStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[userID]

	return row, ok
}

// FailWith makes every following call return err. Nil restores normal operation.
func (s *Statuses) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fail = err
}

// Flips returns how many rows FlipStale changed.
func (s *Statuses) Flips() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.flips
}

func (s *Statuses) Get(_ context.Context, userID string) (*types.LiveStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail != nil {
		return nil, s.fail
	}

	row, ok := s.rows[userID]
	if !ok {
		return nil, apperr.NotFound("no live status for user %s", userID)
	}

	return &row, nil
}

func (s *Statuses) GetMany(_ context.Context, userIDs []string) (map[string]*types.LiveStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail != nil {
		return nil, s.fail
	}

	result := make(map[string]*types.LiveStatus, len(userIDs))
	for _, userID := range userIDs {
		if row, ok := s.rows[userID]; ok {
			result[userID] = &row
		}
	}

	return result, nil
}

func (s *Statuses) SetLive(_ context.Context, userID string, at time.Time) (*types.LiveStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail != nil {
		return nil, s.fail
	}

	row, ok := s.rows[userID]
	if !ok {
		row = *types.NewLiveStatus(userID)
	}

	row.IsLive = true
	if row.LastActive == nil || row.LastActive.Before(at) {
		row.LastActive = &at
	}
	row.UpdatedAt = at
	s.rows[userID] = row

	return &row, nil
}

func (s *Statuses) SetOffline(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail != nil {
		return s.fail
	}

	row, ok := s.rows[userID]
	if !ok {
		return apperr.NotFound("no live status for user %s", userID)
	}

	row.IsLive = false
	row.UpdatedAt = at
	s.rows[userID] = row

	return nil
}

func (s *Statuses) UpdateSettings(
	_ context.Context, userID string, update *types.SettingsUpdate, at time.Time,
) (*types.LiveStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail != nil {
		return nil, s.fail
	}

	row, ok := s.rows[userID]
	if !ok {
		row = *types.NewLiveStatus(userID)
	}

	if update.ShareTrack != nil {
		row.ShareTrack = *update.ShareTrack
	}

	if update.AllowFind != nil {
		row.AllowFind = *update.AllowFind
	}

	if update.RadiusKm != nil {
		row.RadiusKm = *update.RadiusKm
	}

	row.UpdatedAt = at
	s.rows[userID] = row

	return &row, nil
}

func (s *Statuses) TouchLastActive(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail != nil {
		return s.fail
	}

	row, ok := s.rows[userID]
	if !ok || !row.IsLive {
		return nil
	}

	if row.LastActive == nil || row.LastActive.Before(at) {
		row.LastActive = &at
		row.UpdatedAt = at
		s.rows[userID] = row
	}

	return nil
}

func (s *Statuses) GetStale(_ context.Context, cutoff time.Time, limit int) ([]*types.LiveStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail != nil {
		return nil, s.fail
	}

	var stale []*types.LiveStatus

	for _, row := range s.rows {
		if isStale(row, cutoff) {
			stale = append(stale, &row)
		}
	}

	sort.Slice(stale, func(i, j int) bool {
		return lastActive(stale[i]).Before(lastActive(stale[j]))
	})

	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}

	return stale, nil
}

func (s *Statuses) FlipStale(_ context.Context, userID string, cutoff, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail != nil {
		return false, s.fail
	}

	row, ok := s.rows[userID]
	if !ok || !isStale(row, cutoff) {
		return false, nil
	}

	row.IsLive = false
	row.UpdatedAt = at
	s.rows[userID] = row
	s.flips++

	return true, nil
}

func isStale(row types.LiveStatus, cutoff time.Time) bool {
	return row.IsLive && (row.LastActive == nil || row.LastActive.Before(cutoff))
}

func lastActive(row *types.LiveStatus) time.Time {
	if row.LastActive == nil {
		return time.Time{}
	}
	return *row.LastActive
}
