package geoindex_test

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/rueidis"
	"github.com/robalyx/resonance/internal/apperr"
	"github.com/robalyx/resonance/internal/faststore"
	"github.com/robalyx/resonance/internal/geo"
	"github.com/robalyx/resonance/internal/geoindex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	berlin = geo.Point{Latitude: 52.5200, Longitude: 13.4050}
	paris  = geo.Point{Latitude: 48.8566, Longitude: 2.3522}
)

func testConfig() geoindex.Config {
	return geoindex.Config{
		LocationTTL:   5 * time.Minute,
		MaxCandidates: 500,
		MinPrecision:  1,
		MaxPrecision:  9,
	}
}

// setupMemory returns an index over an in-process store with a controllable clock.
func setupMemory(t *testing.T) (*geoindex.Index, *faststore.Memory, func(time.Duration)) {
	t.Helper()

	now := time.Now()
	clock := func() time.Time { return now }

	store := faststore.NewMemory(faststore.WithClock(clock))
	t.Cleanup(store.Close)

	index := geoindex.New(store, testConfig(), zap.NewNop())
	index.SetClock(clock)

	return index, store, func(d time.Duration) { now = now.Add(d) }
}

func setupRedis(t *testing.T) *geoindex.Index {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{mr.Addr()},
		DisableCache: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	return geoindex.New(faststore.NewRedis(client), testConfig(), zap.NewNop())
}

func offset(p geo.Point, dLat, dLng float64) geo.Point {
	return geo.Point{Latitude: p.Latitude + dLat, Longitude: p.Longitude + dLng}
}

func TestQueryRadius(t *testing.T) {
	t.Parallel()

	indexes := map[string]*geoindex.Index{"redis": setupRedis(t)}
	memIndex, _, _ := setupMemory(t)
	indexes["memory"] = memIndex

	for name, index := range indexes {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()

			_, err := index.SetCoordinates(ctx, "me", berlin, 9)
			require.NoError(t, err)
			_, err = index.SetCoordinates(ctx, "north", offset(berlin, 0.001, 0), 9)
			require.NoError(t, err)
			_, err = index.SetCoordinates(ctx, "east", offset(berlin, 0, 0.002), 9)
			require.NoError(t, err)
			_, err = index.SetCoordinates(ctx, "far", offset(berlin, 0.05, 0), 9)
			require.NoError(t, err)

			candidates, err := index.QueryRadius(ctx, "me", berlin, 1, 50)
			require.NoError(t, err)
			require.Len(t, candidates, 2)

			assert.Equal(t, "north", candidates[0].UserID)
			assert.InDelta(t, 111.2, candidates[0].DistanceMeters, 0.5)
			assert.InDelta(t, 0, candidates[0].Bearing, 0.01)

			assert.Equal(t, "east", candidates[1].UserID)
			assert.InDelta(t, 135.3, candidates[1].DistanceMeters, 0.5)
			assert.InDelta(t, 90, candidates[1].Bearing, 0.1)

			candidates, err = index.QueryRadius(ctx, "me", berlin, 10, 2)
			require.NoError(t, err)
			require.Len(t, candidates, 2, "limit applies after sorting")
			assert.Equal(t, "north", candidates[0].UserID)

			candidates, err = index.QueryRadius(ctx, "north", berlin, 10, 0)
			require.NoError(t, err)
			require.Len(t, candidates, 3)
			assert.Equal(t, "me", candidates[0].UserID)
			assert.InDelta(t, 0, candidates[0].DistanceMeters, 1e-6)
		})
	}
}

func TestQueryRadiusTiesBrokenByUserID(t *testing.T) {
	t.Parallel()

	index, _, _ := setupMemory(t)
	ctx := t.Context()

	spot := offset(berlin, 0.001, 0)
	for _, id := range []string{"charlie", "alice", "bob"} {
		_, err := index.SetCoordinates(ctx, id, spot, 9)
		require.NoError(t, err)
	}

	candidates, err := index.QueryRadius(ctx, "me", berlin, 1, 0)
	require.NoError(t, err)
	require.Len(t, candidates, 3)
	assert.Equal(t, "alice", candidates[0].UserID)
	assert.Equal(t, "bob", candidates[1].UserID)
	assert.Equal(t, "charlie", candidates[2].UserID)
}

func TestQueryRadiusStaysWithinRadius(t *testing.T) {
	t.Parallel()

	index, _, _ := setupMemory(t)
	ctx := t.Context()
	rng := rand.New(rand.NewSource(42)) //nolint:gosec // deterministic test data

	for i := range 300 {
		point := offset(berlin, (rng.Float64()-0.5)*0.2, (rng.Float64()-0.5)*0.3)
		_, err := index.SetCoordinates(ctx, fmt.Sprintf("user-%d", i), point, 9)
		require.NoError(t, err)
	}

	_, err := index.SetCoordinates(ctx, "me", berlin, 9)
	require.NoError(t, err)

	for _, radiusKm := range []float64{0.5, 1, 2.5, 5, 10} {
		candidates, err := index.QueryRadius(ctx, "me", berlin, radiusKm, 0)
		require.NoError(t, err)

		for i, candidate := range candidates {
			assert.NotEqual(t, "me", candidate.UserID)
			assert.LessOrEqual(t, candidate.DistanceMeters, radiusKm*1000+1e-6)

			if i > 0 {
				assert.LessOrEqual(t, candidates[i-1].DistanceMeters, candidate.DistanceMeters)
			}
		}
	}
}

func TestQueryRadiusSkipsExpiredLocations(t *testing.T) {
	t.Parallel()

	index, _, advance := setupMemory(t)
	ctx := t.Context()

	_, err := index.SetCoordinates(ctx, "old", offset(berlin, 0.001, 0), 9)
	require.NoError(t, err)

	advance(4 * time.Minute)

	_, err = index.SetCoordinates(ctx, "recent", offset(berlin, 0.002, 0), 9)
	require.NoError(t, err)

	advance(2 * time.Minute)

	candidates, err := index.QueryRadius(ctx, "me", berlin, 1, 0)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "recent", candidates[0].UserID)
}

func TestQueryRadiusValidation(t *testing.T) {
	t.Parallel()

	index, _, _ := setupMemory(t)
	ctx := t.Context()

	_, err := index.QueryRadius(ctx, "me", geo.Point{Latitude: 120, Longitude: 0}, 1, 0)
	require.ErrorIs(t, err, apperr.ErrBadRequest)

	_, err = index.QueryRadius(ctx, "me", berlin, 0, 0)
	require.ErrorIs(t, err, apperr.ErrBadRequest)

	_, err = index.SetCoordinates(ctx, "me", berlin, 12)
	require.ErrorIs(t, err, apperr.ErrBadRequest)
}

func TestSetGeohashTruncatesAndMovesBuckets(t *testing.T) {
	t.Parallel()

	index, _, _ := setupMemory(t)
	ctx := t.Context()

	berlinHash := geo.Encode(berlin, 9)
	cells, err := geo.BucketNeighbors(geo.Truncate(berlinHash, 5))
	require.NoError(t, err)

	hash, precision, err := index.SetGeohash(ctx, "u1", berlinHash, 5)
	require.NoError(t, err)
	assert.Equal(t, geo.Truncate(berlinHash, 5), hash)
	assert.Equal(t, 5, precision)
	assert.Len(t, hash, precision)

	// u2 sits in the cell north of u1's cell.
	_, _, err = index.SetGeohash(ctx, "u2", cells[1], 5)
	require.NoError(t, err)

	found, err := index.QueryBucketNeighbors(ctx, "me", berlinHash, 5)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "u1", found[0].UserID)
	assert.Equal(t, hash, found[0].Geohash)
	assert.Equal(t, "u2", found[1].UserID)

	// Moving u1 to Paris leaves no ghost membership in Berlin.
	_, _, err = index.SetGeohash(ctx, "u1", geo.Encode(paris, 9), 7)
	require.NoError(t, err)

	found, err = index.QueryBucketNeighbors(ctx, "me", berlinHash, 5)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "u2", found[0].UserID)

	found, err = index.QueryBucketNeighbors(ctx, "me", geo.Encode(paris, 9), 0.1)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "u1", found[0].UserID)
	assert.Len(t, found[0].Geohash, 7)

	_, _, err = index.SetGeohash(ctx, "u1", "not-a-hash", 5)
	require.ErrorIs(t, err, apperr.ErrBadRequest)
}

func TestGeohashSupersedesCoordinates(t *testing.T) {
	t.Parallel()

	index, store, advance := setupMemory(t)
	ctx := t.Context()

	_, err := index.SetCoordinates(ctx, "u1", berlin, 9)
	require.NoError(t, err)

	advance(time.Second)

	_, _, err = index.SetGeohash(ctx, "u1", geo.Encode(paris, 9), 7)
	require.NoError(t, err)

	position, err := index.Position(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, position.Precise)
	assert.InDelta(t, paris.Latitude, position.Point.Latitude, 0.01)
	assert.InDelta(t, paris.Longitude, position.Point.Longitude, 0.01)

	candidates, err := index.QueryRadius(ctx, "me", berlin, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, candidates)

	// A precise entry older than the bucket loses even while still fresh.
	stale := fmt.Sprintf(`{"lat":%f,"lng":%f,"updatedAt":%d}`, berlin.Latitude, berlin.Longitude,
		position.UpdatedAt.Add(-time.Second).UnixMilli())
	require.NoError(t, store.Set(ctx, "geo:fresh:u1", stale, time.Minute))

	position, err = index.Position(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, position.Precise)
	assert.Equal(t, 7, position.Precision)
}

func TestQueryBucketNeighborsSkipsMalformedEntries(t *testing.T) {
	t.Parallel()

	index, store, _ := setupMemory(t)
	ctx := t.Context()

	berlinHash := geo.Encode(berlin, 5)

	_, _, err := index.SetGeohash(ctx, "good", berlinHash, 5)
	require.NoError(t, err)
	require.NoError(t, store.SetMembership(ctx, "geo:buckets", "bad", "ailo|5|0", []string{"geo:bucket:" + berlinHash}))
	require.NoError(t, store.SetMembership(ctx, "geo:buckets", "worse", "garbage", []string{"geo:bucket:" + berlinHash}))

	found, err := index.QueryBucketNeighbors(ctx, "me", berlinHash, 5)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "good", found[0].UserID)
}

func TestPositionAndRemove(t *testing.T) {
	t.Parallel()

	index, _, advance := setupMemory(t)
	ctx := t.Context()

	_, err := index.Position(ctx, "u1")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	hash, err := index.SetCoordinates(ctx, "u1", berlin, 6)
	require.NoError(t, err)

	position, err := index.Position(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, position.Precise)
	assert.Equal(t, berlin, position.Point)
	assert.Equal(t, hash, position.Geohash)
	assert.Equal(t, 6, position.Precision)

	// Once the precise entry expires the coarse cell remains known.
	advance(6 * time.Minute)

	position, err = index.Position(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, position.Precise)
	assert.InDelta(t, berlin.Latitude, position.Point.Latitude, 0.01)
	assert.InDelta(t, berlin.Longitude, position.Point.Longitude, 0.01)

	require.NoError(t, index.Remove(ctx, "u1"))

	_, err = index.Position(ctx, "u1")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	candidates, err := index.QueryRadius(ctx, "me", berlin, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}
