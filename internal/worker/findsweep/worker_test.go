package findsweep_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/robalyx/resonance/internal/apperr"
	"github.com/robalyx/resonance/internal/database/types"
	"github.com/robalyx/resonance/internal/faststore"
	"github.com/robalyx/resonance/internal/find"
	"github.com/robalyx/resonance/internal/find/findtest"
	"github.com/robalyx/resonance/internal/geoindex"
	"github.com/robalyx/resonance/internal/presence"
	"github.com/robalyx/resonance/internal/worker/findsweep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type nobody struct{}

func (nobody) Status(_ context.Context, userID string) (*presence.Entry, error) {
	return &presence.Entry{UserID: userID}, nil
}

func (nobody) Position(_ context.Context, userID string) (*geoindex.Position, error) {
	return nil, apperr.NotFound("no location for user %s", userID)
}

func (nobody) GetProfile(_ context.Context, userID string) (*types.Profile, error) {
	return &types.Profile{UserID: userID}, nil
}

func TestCycleExpiresIdleSessions(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	sessions := findtest.NewSessions()
	idle := types.FindSession{
		ID: uuid.New(), SeekerID: "a", TargetID: "b",
		Status: types.FindStatusActive, CurrentBucket: types.BucketWarm,
		StartedAt: now.Add(-time.Hour), UpdatedAt: now.Add(-31 * time.Minute),
	}
	fresh := types.FindSession{
		ID: uuid.New(), SeekerID: "c", TargetID: "d",
		Status: types.FindStatusActive, CurrentBucket: types.BucketFar,
		StartedAt: now.Add(-time.Hour), UpdatedAt: now.Add(-time.Minute),
	}
	sessions.Put(idle)
	sessions.Put(fresh)

	store := faststore.NewMemory()
	t.Cleanup(store.Close)

	machine := find.NewMachine(sessions, nobody{}, nobody{}, nobody{}, store, find.Config{
		SessionTTL:     5 * time.Minute,
		IdleExpiry:     30 * time.Minute,
		SweepBatchSize: 100,
	}, zap.NewNop())
	machine.SetClock(func() time.Time { return now })

	expired, err := findsweep.New(machine, zap.NewNop()).Cycle(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	row, ok := sessions.Row(idle.ID)
	require.True(t, ok)
	assert.Equal(t, types.FindStatusExpired, row.Status)

	row, ok = sessions.Row(fresh.ID)
	require.True(t, ok)
	assert.Equal(t, types.FindStatusActive, row.Status)
}
