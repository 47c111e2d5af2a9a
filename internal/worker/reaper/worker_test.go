package reaper_test

import (
	"testing"
	"time"

	"github.com/robalyx/resonance/internal/database/types"
	"github.com/robalyx/resonance/internal/faststore"
	"github.com/robalyx/resonance/internal/presence"
	"github.com/robalyx/resonance/internal/presence/presencetest"
	"github.com/robalyx/resonance/internal/worker/reaper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCycleFlipsOnlyStaleUsers(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	stale := now.Add(-3 * time.Minute)
	recent := now.Add(-30 * time.Second)

	statuses := presencetest.NewStatuses()
	statuses.Put(types.LiveStatus{UserID: "stale", IsLive: true, LastActive: &stale})
	statuses.Put(types.LiveStatus{UserID: "recent", IsLive: true, LastActive: &recent})

	store := faststore.NewMemory()
	t.Cleanup(store.Close)

	presenceStore := presence.NewStore(store, statuses, nil, nil, presence.Config{
		CacheTTL:       time.Minute,
		StaleThreshold: 2 * time.Minute,
		SyncInterval:   30 * time.Second,
		ReapBatchSize:  100,
		MaxRadiusKm:    10,
	}, zap.NewNop())
	presenceStore.SetClock(func() time.Time { return now })

	worker := reaper.New(presenceStore, zap.NewNop())

	flipped, err := worker.Cycle(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, flipped)

	row, ok := statuses.Row("stale")
	require.True(t, ok)
	assert.False(t, row.IsLive)

	row, ok = statuses.Row("recent")
	require.True(t, ok)
	assert.True(t, row.IsLive)

	// A second pass has nothing left to do
	flipped, err = worker.Cycle(t.Context())
	require.NoError(t, err)
	assert.Zero(t, flipped)
}
