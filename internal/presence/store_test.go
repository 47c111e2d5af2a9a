package presence_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/robalyx/resonance/internal/apperr"
	"github.com/robalyx/resonance/internal/database/types"
	"github.com/robalyx/resonance/internal/faststore"
	"github.com/robalyx/resonance/internal/faststore/faststoretest"
	"github.com/robalyx/resonance/internal/presence"
	"github.com/robalyx/resonance/internal/presence/presencetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Remove(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, "remove:"+userID)

	return nil
}

func (r *recorder) RecordListening(_ context.Context, userID string, track *types.TrackSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, "listen:"+userID+":"+track.TrackID)

	return nil
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.events...)
}

type fixture struct {
	store    *presence.Store
	statuses *presencetest.Statuses
	cache    *faststoretest.Switch
	recorder *recorder
	now      time.Time
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func setup(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		statuses: presencetest.NewStatuses(),
		recorder: &recorder{},
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }

	memory := faststore.NewMemory(faststore.WithClock(clock))
	t.Cleanup(memory.Close)

	f.cache = faststoretest.NewSwitch(memory)
	f.store = presence.NewStore(f.cache, f.statuses, f.recorder, f.recorder, presence.Config{
		CacheTTL:       60 * time.Second,
		StaleThreshold: 2 * time.Minute,
		SyncInterval:   30 * time.Second,
		ReapBatchSize:  100,
		MaxRadiusKm:    10,
	}, zap.NewNop())
	f.store.SetClock(clock)

	return f
}

func TestGoLive(t *testing.T) {
	t.Parallel()

	f := setup(t)

	entry, err := f.store.GoLive(t.Context(), "u1")
	require.NoError(t, err)
	assert.True(t, entry.IsLive)
	assert.True(t, entry.ShareTrack)
	assert.True(t, entry.AllowFind)
	assert.WithinDuration(t, f.now, entry.LastActive, time.Millisecond)

	row, ok := f.statuses.Row("u1")
	require.True(t, ok)
	assert.True(t, row.IsLive)
	require.NotNil(t, row.LastActive)

	live, err := f.store.IsLive(t.Context(), "u1")
	require.NoError(t, err)
	assert.True(t, live)
}

func TestGoLiveSurfacesDurableFailure(t *testing.T) {
	t.Parallel()

	f := setup(t)
	f.statuses.FailWith(apperr.Unavailable(assert.AnError))

	_, err := f.store.GoLive(t.Context(), "u1")
	require.ErrorIs(t, err, apperr.ErrUnavailable)
	assert.True(t, apperr.IsRetryable(err))
}

func TestGoOffline(t *testing.T) {
	t.Parallel()

	f := setup(t)

	err := f.store.GoOffline(t.Context(), "never")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.store.GoLive(t.Context(), "u1")
	require.NoError(t, err)

	require.NoError(t, f.store.GoOffline(t.Context(), "u1"))

	live, err := f.store.IsLive(t.Context(), "u1")
	require.NoError(t, err)
	assert.False(t, live)

	row, _ := f.statuses.Row("u1")
	assert.False(t, row.IsLive)
	assert.Contains(t, f.recorder.Events(), "remove:u1")
}

func TestHeartbeatExtendsCache(t *testing.T) {
	t.Parallel()

	f := setup(t)

	_, err := f.store.GoLive(t.Context(), "u1")
	require.NoError(t, err)

	// Heartbeats every 45s keep the 60s entry alive
	for range 4 {
		f.advance(45 * time.Second)
		require.NoError(t, f.store.Heartbeat(t.Context(), "u1"))
	}

	entry, err := f.store.Status(t.Context(), "u1")
	require.NoError(t, err)
	assert.True(t, entry.IsLive)
	assert.WithinDuration(t, f.now, entry.LastActive, time.Millisecond)

	// The durable row is synced lazily but never lags by more than the sync interval
	row, _ := f.statuses.Row("u1")
	require.NotNil(t, row.LastActive)
	assert.WithinDuration(t, f.now, *row.LastActive, 45*time.Second)
}

func TestHeartbeatRebuildsExpiredEntry(t *testing.T) {
	t.Parallel()

	f := setup(t)

	_, err := f.store.GoLive(t.Context(), "u1")
	require.NoError(t, err)

	f.advance(90 * time.Second)

	live, err := f.store.IsLive(t.Context(), "u1")
	require.NoError(t, err)
	assert.False(t, live, "cache entry expired")

	require.NoError(t, f.store.Heartbeat(t.Context(), "u1"))

	live, err = f.store.IsLive(t.Context(), "u1")
	require.NoError(t, err)
	assert.True(t, live)

	row, _ := f.statuses.Row("u1")
	assert.Equal(t, f.now, *row.LastActive)
}

func TestHeartbeatOfflineUser(t *testing.T) {
	t.Parallel()

	f := setup(t)

	err := f.store.Heartbeat(t.Context(), "nobody")
	require.ErrorIs(t, err, apperr.ErrBadRequest)
}

func TestLookupFallsBackToDurable(t *testing.T) {
	t.Parallel()

	f := setup(t)

	_, err := f.store.GoLive(t.Context(), "u1")
	require.NoError(t, err)
	_, err = f.store.GoLive(t.Context(), "u2")
	require.NoError(t, err)
	require.NoError(t, f.store.GoOffline(t.Context(), "u2"))

	f.cache.SetDown(true)

	entries, err := f.store.Lookup(t.Context(), []string{"u1", "u2", "u3"})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Contains(t, entries, "u1")

	// Heartbeats write through while the cache is down
	f.advance(10 * time.Second)
	require.NoError(t, f.store.Heartbeat(t.Context(), "u1"))

	row, _ := f.statuses.Row("u1")
	assert.Equal(t, f.now, *row.LastActive)
}

func TestSettings(t *testing.T) {
	t.Parallel()

	f := setup(t)

	settings, err := f.store.Settings(t.Context(), "u1")
	require.NoError(t, err)
	assert.InDelta(t, types.DefaultRadiusKm, settings.RadiusKm, 0)
	assert.True(t, settings.ShareTrack)

	radius := 25.0
	allowFind := false

	updated, err := f.store.UpdateSettings(t.Context(), "u1", &types.SettingsUpdate{
		RadiusKm:  &radius,
		AllowFind: &allowFind,
	})
	require.NoError(t, err)
	assert.InDelta(t, 10.0, updated.RadiusKm, 0, "radius is capped")
	assert.False(t, updated.AllowFind)

	zero := 0.0
	_, err = f.store.UpdateSettings(t.Context(), "u1", &types.SettingsUpdate{RadiusKm: &zero})
	require.ErrorIs(t, err, apperr.ErrBadRequest)
}

func TestUpdateSettingsTogglesLive(t *testing.T) {
	t.Parallel()

	f := setup(t)

	live := true

	status, err := f.store.UpdateSettings(t.Context(), "u1", &types.SettingsUpdate{IsLive: &live})
	require.NoError(t, err)
	assert.True(t, status.IsLive)

	entry, err := f.store.Status(t.Context(), "u1")
	require.NoError(t, err)
	assert.True(t, entry.IsLive)

	live = false

	status, err = f.store.UpdateSettings(t.Context(), "u1", &types.SettingsUpdate{IsLive: &live})
	require.NoError(t, err)
	assert.False(t, status.IsLive)
}

func TestUpdateTrack(t *testing.T) {
	t.Parallel()

	f := setup(t)

	track := &types.TrackSummary{TrackID: "t1", TrackName: "Song", Artist: "Band", IsPlaying: true}

	err := f.store.UpdateTrack(t.Context(), "u1", track)
	require.ErrorIs(t, err, apperr.ErrBadRequest, "offline users cannot share a track")

	_, err = f.store.GoLive(t.Context(), "u1")
	require.NoError(t, err)

	require.NoError(t, f.store.UpdateTrack(t.Context(), "u1", track))
	require.NoError(t, f.store.UpdateTrack(t.Context(), "u1", track))

	entry, err := f.store.Status(t.Context(), "u1")
	require.NoError(t, err)
	require.NotNil(t, entry.VisibleTrack())
	assert.Equal(t, "Song", entry.VisibleTrack().TrackName)

	// Only the first play of a track is recorded
	assert.Equal(t, []string{"listen:u1:t1"}, f.recorder.Events())

	paused := *track
	paused.IsPlaying = false
	require.NoError(t, f.store.UpdateTrack(t.Context(), "u1", &paused))

	entry, err = f.store.Status(t.Context(), "u1")
	require.NoError(t, err)
	assert.Nil(t, entry.VisibleTrack())
}
