package presence_test

import (
	"testing"
	"time"

	"github.com/robalyx/resonance/internal/database/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func liveRow(userID string, lastActive time.Time) types.LiveStatus {
	row := *types.NewLiveStatus(userID)
	row.IsLive = true
	row.LastActive = &lastActive

	return row
}

func TestReapFlipsOnlyStaleUsers(t *testing.T) {
	t.Parallel()

	f := setup(t)

	f.statuses.Put(liveRow("stale", f.now.Add(-3*time.Minute)))
	f.statuses.Put(liveRow("recent", f.now.Add(-30*time.Second)))

	result, err := f.store.Reap(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, result.Flipped)

	stale, _ := f.statuses.Row("stale")
	assert.False(t, stale.IsLive)

	recent, _ := f.statuses.Row("recent")
	assert.True(t, recent.IsLive)
	assert.Equal(t, f.now.Add(-30*time.Second), *recent.LastActive)

	assert.Contains(t, f.recorder.Events(), "remove:stale")
	assert.NotContains(t, f.recorder.Events(), "remove:recent")
}

func TestReapYieldsToNewerHeartbeat(t *testing.T) {
	t.Parallel()

	f := setup(t)

	_, err := f.store.GoLive(t.Context(), "u1")
	require.NoError(t, err)

	// Heartbeats keep the cache fresh while the durable row lags behind
	for range 3 {
		f.advance(50 * time.Second)
		f.statuses.Put(liveRow("u1", f.now.Add(-3*time.Minute)))
		require.NoError(t, f.store.Heartbeat(t.Context(), "u1"))
	}

	f.statuses.Put(liveRow("u1", f.now.Add(-3*time.Minute)))

	result, err := f.store.Reap(t.Context())
	require.NoError(t, err)
	assert.Empty(t, result.Flipped)
	assert.Equal(t, 1, result.Yielded)

	row, _ := f.statuses.Row("u1")
	assert.True(t, row.IsLive)
	assert.WithinDuration(t, f.now, *row.LastActive, time.Millisecond)
}

func TestReapWithCacheDown(t *testing.T) {
	t.Parallel()

	f := setup(t)

	f.statuses.Put(liveRow("stale", f.now.Add(-5*time.Minute)))
	f.cache.SetDown(true)

	result, err := f.store.Reap(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, result.Flipped)
	assert.Equal(t, 1, f.statuses.Flips())
}

func TestReapIsIdempotent(t *testing.T) {
	t.Parallel()

	f := setup(t)

	f.statuses.Put(liveRow("stale", f.now.Add(-3*time.Minute)))

	_, err := f.store.Reap(t.Context())
	require.NoError(t, err)

	result, err := f.store.Reap(t.Context())
	require.NoError(t, err)
	assert.Zero(t, result.Scanned)
	assert.Empty(t, result.Flipped)
}
