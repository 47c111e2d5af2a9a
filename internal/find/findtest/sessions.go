// Package findtest provides an in-memory Find session store for tests.
package findtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robalyx/resonance/internal/apperr"
	"github.com/robalyx/resonance/internal/database/types"
)

// Sessions mirrors the semantics of the find session model in memory,
// including the unique ACTIVE pair constraint.
type Sessions struct {
	mu   sync.Mutex
	rows map[uuid.UUID]types.FindSession
}

// NewSessions creates an empty store.
func NewSessions() *Sessions {
	return &Sessions{rows: make(map[uuid.UUID]types.FindSession)}
}

// Put stores a row as is.
func (s *Sessions) Put(session types.FindSession) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rows[session.ID] = session
}

// Row returns a copy of a stored row.
func (s *Sessions) Row(id uuid.UUID) (types.FindSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]

	return row, ok
}

func (s *Sessions) Create(_ context.Context, session *types.FindSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range s.rows {
		if row.Status == types.FindStatusActive &&
			row.SeekerID == session.SeekerID && row.TargetID == session.TargetID {
			return apperr.BadRequest("an active find session with %s already exists", session.TargetID)
		}
	}

	s.rows[session.ID] = *session

	return nil
}

func (s *Sessions) Get(_ context.Context, id uuid.UUID) (*types.FindSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok {
		return nil, apperr.NotFound("find session %s not found", id)
	}

	return &row, nil
}

func (s *Sessions) GetActivePair(_ context.Context, seekerID, targetID string) (*types.FindSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range s.rows {
		if row.Status == types.FindStatusActive && row.SeekerID == seekerID && row.TargetID == targetID {
			return &row, nil
		}
	}

	return nil, nil //nolint:nilnil // mirrors the model
}

func (s *Sessions) GetActiveForUser(_ context.Context, userID string) (*types.FindSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *types.FindSession
	for _, row := range s.rows {
		if row.Status != types.FindStatusActive || !row.IsParticipant(userID) {
			continue
		}

		if latest == nil || row.StartedAt.After(latest.StartedAt) {
			latest = &row
		}
	}

	if latest == nil {
		return nil, apperr.NotFound("no active find session for user %s", userID)
	}

	return latest, nil
}

func (s *Sessions) UpdateBucket(
	_ context.Context, id uuid.UUID, bucket types.Bucket, version int64, at time.Time,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok || row.Status != types.FindStatusActive || row.Version > version {
		return false, nil
	}

	row.CurrentBucket = bucket
	row.Version = version
	row.UpdatedAt = at
	s.rows[id] = row

	return true, nil
}

func (s *Sessions) End(_ context.Context, id uuid.UUID, status types.FindStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok || row.Status != types.FindStatusActive {
		return false, nil
	}

	row.Status = status
	row.EndedAt = &at
	row.UpdatedAt = at
	s.rows[id] = row

	return true, nil
}

func (s *Sessions) ExpireIdle(_ context.Context, cutoff, at time.Time, limit int) ([]*types.FindSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var idle []types.FindSession
	for _, row := range s.rows {
		if row.Status == types.FindStatusActive && row.UpdatedAt.Before(cutoff) {
			idle = append(idle, row)
		}
	}

	sort.Slice(idle, func(i, j int) bool { return idle[i].UpdatedAt.Before(idle[j].UpdatedAt) })

	if limit > 0 && len(idle) > limit {
		idle = idle[:limit]
	}

	expired := make([]*types.FindSession, 0, len(idle))
	for _, row := range idle {
		row.Status = types.FindStatusExpired
		row.EndedAt = &at
		row.UpdatedAt = at
		s.rows[row.ID] = row
		expired = append(expired, &row)
	}

	return expired, nil
}
