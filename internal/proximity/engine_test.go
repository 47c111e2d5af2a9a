package proximity_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/robalyx/resonance/internal/apperr"
	"github.com/robalyx/resonance/internal/database/types"
	"github.com/robalyx/resonance/internal/faststore"
	"github.com/robalyx/resonance/internal/geo"
	"github.com/robalyx/resonance/internal/geoindex"
	"github.com/robalyx/resonance/internal/presence"
	"github.com/robalyx/resonance/internal/presence/presencetest"
	"github.com/robalyx/resonance/internal/proximity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var center = geo.Point{Latitude: 52.5200, Longitude: 13.4050} //nolint:gochecknoglobals // -

type profiles struct {
	mu    sync.Mutex
	items map[string]*types.Profile
}

func (p *profiles) GetProfile(_ context.Context, userID string) (*types.Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	profile, ok := p.items[userID]
	if !ok {
		return nil, apperr.NotFound("no profile for user %s", userID)
	}

	return profile, nil
}

type fixture struct {
	engine   *proximity.Engine
	index    *geoindex.Index
	presence *presence.Store
	profiles *profiles
}

func setup(t *testing.T) *fixture {
	t.Helper()

	store := faststore.NewMemory()
	t.Cleanup(store.Close)

	index := geoindex.New(store, geoindex.Config{
		LocationTTL:   5 * time.Minute,
		MaxCandidates: 500,
		MinPrecision:  1,
		MaxPrecision:  9,
	}, zap.NewNop())

	// No location evictor, so offline users stay in the index until their entry expires
	presenceStore := presence.NewStore(store, presencetest.NewStatuses(), nil, nil, presence.Config{
		CacheTTL:       time.Minute,
		StaleThreshold: 2 * time.Minute,
		SyncInterval:   30 * time.Second,
		ReapBatchSize:  100,
		MaxRadiusKm:    10,
	}, zap.NewNop())

	f := &fixture{
		index:    index,
		presence: presenceStore,
		profiles: &profiles{items: make(map[string]*types.Profile)},
	}

	f.engine = proximity.NewEngine(presenceStore, index, index, f.profiles, proximity.Config{
		MaxRadiusKm:        10,
		DefaultRadiusKm:    5,
		DefaultLimit:       50,
		MaxCandidates:      500,
		ProfileConcurrency: 4,
	}, zap.NewNop())

	return f
}

// addUser makes userID live at center shifted north by meters.
func (f *fixture) addUser(t *testing.T, userID string, meters float64) {
	t.Helper()

	f.profiles.mu.Lock()
	f.profiles.items[userID] = &types.Profile{UserID: userID, DisplayName: "Name " + userID}
	f.profiles.mu.Unlock()

	_, err := f.presence.GoLive(t.Context(), userID)
	require.NoError(t, err)

	point := geo.Point{Latitude: center.Latitude + meters/111_195, Longitude: center.Longitude}
	_, err = f.index.SetCoordinates(t.Context(), userID, point, 7)
	require.NoError(t, err)
}

func ids(users []proximity.NearbyUser) []string {
	out := make([]string, len(users))
	for i, user := range users {
		out[i] = user.UserID
	}
	return out
}

func TestNearbyExcludesOfflineUsers(t *testing.T) {
	t.Parallel()

	f := setup(t)
	f.addUser(t, "me", 0)
	f.addUser(t, "live", 200)
	f.addUser(t, "gone", 100)

	require.NoError(t, f.presence.GoOffline(t.Context(), "gone"))

	result, err := f.engine.Nearby(t.Context(), "me", proximity.Query{Center: &center, RadiusKm: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"live"}, ids(result.Users))
	assert.True(t, result.Precise)
	require.NotNil(t, result.Users[0].Bearing)
	assert.InDelta(t, 0, *result.Users[0].Bearing, 0.01)
	assert.InDelta(t, 200, result.Users[0].DistanceMeters, 1)
}

func TestNearbySortAndLimit(t *testing.T) {
	t.Parallel()

	f := setup(t)
	f.addUser(t, "me", 0)
	f.addUser(t, "far", 900)
	f.addUser(t, "near", 50)
	f.addUser(t, "mid", 400)
	f.addUser(t, "outside", 3000)

	result, err := f.engine.Nearby(t.Context(), "me", proximity.Query{Center: &center, RadiusKm: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"near", "mid"}, ids(result.Users))

	result, err = f.engine.Nearby(t.Context(), "me", proximity.Query{Center: &center, RadiusKm: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"near", "mid", "far"}, ids(result.Users))
}

func TestNearbyRadiusIsCapped(t *testing.T) {
	t.Parallel()

	f := setup(t)
	f.addUser(t, "me", 0)
	f.addUser(t, "nine", 9_000)
	f.addUser(t, "eleven", 11_000)

	result, err := f.engine.Nearby(t.Context(), "me", proximity.Query{Center: &center, RadiusKm: 50})
	require.NoError(t, err)
	assert.InDelta(t, 10.0, result.RadiusKm, 0)
	assert.Equal(t, []string{"nine"}, ids(result.Users))

	_, err = f.engine.Nearby(t.Context(), "me", proximity.Query{Center: &center, RadiusKm: -1})
	require.ErrorIs(t, err, apperr.ErrBadRequest)
}

func TestNearbyAnonymizes(t *testing.T) {
	t.Parallel()

	f := setup(t)
	f.addUser(t, "me", 0)
	f.addUser(t, "anon", 100)

	avatar := "https://cdn.example/secret.png"
	handle := "secret_handle"

	f.profiles.mu.Lock()
	f.profiles.items["anon"] = &types.Profile{
		UserID:          "anon",
		DisplayName:     "Secret Name",
		AvatarURL:       &avatar,
		IsAnonymous:     true,
		InstagramHandle: &handle,
		DiscordHandle:   &handle,
	}
	f.profiles.mu.Unlock()

	result, err := f.engine.Nearby(t.Context(), "me", proximity.Query{Center: &center, RadiusKm: 1})
	require.NoError(t, err)
	require.Len(t, result.Users, 1)

	user := result.Users[0]
	assert.Equal(t, types.AnonymousDisplayName, user.DisplayName)
	assert.Nil(t, user.AvatarURL)
	assert.Nil(t, user.Socials)

	raw, err := sonic.MarshalString(result)
	require.NoError(t, err)
	assert.NotContains(t, raw, "Secret Name")
	assert.NotContains(t, raw, "secret.png")
	assert.NotContains(t, raw, "secret_handle")

	public, err := f.engine.PublicProfile(t.Context(), "anon")
	require.NoError(t, err)
	assert.Equal(t, types.AnonymousDisplayName, public.DisplayName)
	assert.Nil(t, public.AvatarURL)
}

func TestNearbyTrackVisibility(t *testing.T) {
	t.Parallel()

	f := setup(t)
	f.addUser(t, "me", 0)
	f.addUser(t, "sharing", 100)
	f.addUser(t, "private", 200)
	f.addUser(t, "paused", 300)

	playing := &types.TrackSummary{TrackID: "t1", TrackName: "Song", Artist: "Band", IsPlaying: true}
	stopped := &types.TrackSummary{TrackID: "t2", TrackName: "Other", Artist: "Band", IsPlaying: false}

	require.NoError(t, f.presence.UpdateTrack(t.Context(), "sharing", playing))
	require.NoError(t, f.presence.UpdateTrack(t.Context(), "private", playing))
	require.NoError(t, f.presence.UpdateTrack(t.Context(), "paused", stopped))

	shareTrack := false
	_, err := f.presence.UpdateSettings(t.Context(), "private", &types.SettingsUpdate{ShareTrack: &shareTrack})
	require.NoError(t, err)

	result, err := f.engine.Nearby(t.Context(), "me", proximity.Query{Center: &center, RadiusKm: 1})
	require.NoError(t, err)
	require.Equal(t, []string{"sharing", "private", "paused"}, ids(result.Users))

	require.NotNil(t, result.Users[0].Track)
	assert.Equal(t, "Song", result.Users[0].Track.TrackName)
	assert.Nil(t, result.Users[1].Track)
	assert.Nil(t, result.Users[2].Track)
}

func TestNearbySkipsUsersWithoutProfile(t *testing.T) {
	t.Parallel()

	f := setup(t)
	f.addUser(t, "me", 0)
	f.addUser(t, "ghost", 100)
	f.addUser(t, "real", 200)

	f.profiles.mu.Lock()
	delete(f.profiles.items, "ghost")
	f.profiles.mu.Unlock()

	result, err := f.engine.Nearby(t.Context(), "me", proximity.Query{Center: &center, RadiusKm: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"real"}, ids(result.Users))
}

func TestNearbyUsesGeohashBuckets(t *testing.T) {
	t.Parallel()

	f := setup(t)

	for _, userID := range []string{"me", "other", "elsewhere"} {
		f.profiles.items[userID] = &types.Profile{UserID: userID, DisplayName: userID}
		_, err := f.presence.GoLive(t.Context(), userID)
		require.NoError(t, err)
	}

	_, _, err := f.index.SetGeohash(t.Context(), "me", "u33db", 5)
	require.NoError(t, err)
	_, _, err = f.index.SetGeohash(t.Context(), "other", "u33dc", 5)
	require.NoError(t, err)
	_, _, err = f.index.SetGeohash(t.Context(), "elsewhere", "gcpvj", 5)
	require.NoError(t, err)

	result, err := f.engine.Nearby(t.Context(), "me", proximity.Query{})
	require.NoError(t, err)
	assert.False(t, result.Precise)
	assert.Equal(t, []string{"other"}, ids(result.Users))
	assert.Nil(t, result.Users[0].Bearing)
	assert.Equal(t, "u33dc", result.Users[0].Geohash)
}

func TestLiveUsersWithoutLocation(t *testing.T) {
	t.Parallel()

	f := setup(t)
	f.addUser(t, "other", 100)

	_, err := f.presence.GoLive(t.Context(), "me")
	require.NoError(t, err)

	result, err := f.engine.LiveUsers(t.Context(), "me")
	require.NoError(t, err)
	assert.Empty(t, result.Users)
}

func TestNeighborIDs(t *testing.T) {
	t.Parallel()

	f := setup(t)
	f.addUser(t, "me", 0)
	f.addUser(t, "a", 100)
	f.addUser(t, "b", 4_000)
	f.addUser(t, "c", 8_000)

	neighbors, err := f.engine.NeighborIDs(t.Context(), "me")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, neighbors, "default radius is 5km")
}
