package faststore_test

import (
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/rueidis"
	"github.com/robalyx/resonance/internal/faststore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backend pairs a store with a way to move its clock forward.
type backend struct {
	store   faststore.Store
	advance func(time.Duration)
}

func setupRedis(t *testing.T) backend {
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

	return backend{store: faststore.NewRedis(client), advance: mr.FastForward}
}

func setupMemory(t *testing.T) backend {
	t.Helper()

	now := time.Now()
	store := faststore.NewMemory(faststore.WithClock(func() time.Time { return now }))
	t.Cleanup(store.Close)

	return backend{store: store, advance: func(d time.Duration) { now = now.Add(d) }}
}

// forEachBackend runs fn against both implementations.
func forEachBackend(t *testing.T, fn func(t *testing.T, b backend)) {
	t.Helper()

	t.Run("redis", func(t *testing.T) {
		fn(t, setupRedis(t))
	})
	t.Run("memory", func(t *testing.T) {
		fn(t, setupMemory(t))
	})
}

func TestStringsAndExpiry(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, b backend) {
		ctx := t.Context()

		_, err := b.store.Get(ctx, "missing")
		require.ErrorIs(t, err, faststore.ErrNil)

		require.NoError(t, b.store.Set(ctx, "a", "1", time.Minute))
		require.NoError(t, b.store.Set(ctx, "b", "2", 0))

		value, err := b.store.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "1", value)

		values, err := b.store.MGet(ctx, "a", "b", "c")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"a": "1", "b": "2"}, values)

		b.advance(2 * time.Minute)

		_, err = b.store.Get(ctx, "a")
		require.ErrorIs(t, err, faststore.ErrNil)

		value, err = b.store.Get(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, "2", value)

		require.NoError(t, b.store.Del(ctx, "b", "never-set"))
		_, err = b.store.Get(ctx, "b")
		require.ErrorIs(t, err, faststore.ErrNil)
	})
}

func TestHashes(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, b backend) {
		ctx := t.Context()

		touched, err := b.store.HTouch(ctx, "presence:u1", map[string]string{"lastActive": "5"}, time.Minute)
		require.NoError(t, err)
		assert.False(t, touched, "touch never creates a hash")

		fields, err := b.store.HGetAll(ctx, "presence:u1")
		require.NoError(t, err)
		assert.Empty(t, fields)

		require.NoError(t, b.store.HSet(ctx, "presence:u1", map[string]string{
			"live": "1", "lastActive": "1", "track": "x",
		}, time.Minute))
		require.NoError(t, b.store.HSet(ctx, "presence:u1", map[string]string{
			"live": "1", "lastActive": "2",
		}, time.Minute))

		fields, err = b.store.HGetAll(ctx, "presence:u1")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"live": "1", "lastActive": "2"}, fields, "HSet replaces the hash")

		b.advance(50 * time.Second)

		touched, err = b.store.HTouch(ctx, "presence:u1", map[string]string{"lastActive": "3"}, time.Minute)
		require.NoError(t, err)
		assert.True(t, touched)

		// The touch extended the ttl past the original expiry.
		b.advance(30 * time.Second)

		all, err := b.store.HGetAllMulti(ctx, "presence:u1", "presence:u2")
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, map[string]string{"live": "1", "lastActive": "3"}, all[0])
		assert.Empty(t, all[1])

		b.advance(time.Minute)

		fields, err = b.store.HGetAll(ctx, "presence:u1")
		require.NoError(t, err)
		assert.Empty(t, fields)
	})
}

func TestMembership(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, b backend) {
		ctx := t.Context()

		require.NoError(t, b.store.SetMembership(ctx, "idx", "u1", "d1", []string{"bucket:aaaaa", "bucket:aaaaab"}))
		require.NoError(t, b.store.SetMembership(ctx, "idx", "u2", "d2", []string{"bucket:aaaaa"}))

		members, err := b.store.SUnion(ctx, "bucket:aaaaa", "bucket:aaaaab")
		require.NoError(t, err)
		sort.Strings(members)
		assert.Equal(t, []string{"u1", "u2"}, members)

		// Moving u1 drops every stale membership.
		require.NoError(t, b.store.SetMembership(ctx, "idx", "u1", "d3", []string{"bucket:bbbbb"}))

		members, err = b.store.SUnion(ctx, "bucket:aaaaa", "bucket:aaaaab")
		require.NoError(t, err)
		assert.Equal(t, []string{"u2"}, members)

		members, err = b.store.SUnion(ctx, "bucket:bbbbb")
		require.NoError(t, err)
		assert.Equal(t, []string{"u1"}, members)

		data, err := b.store.Membership(ctx, "idx", "u1")
		require.NoError(t, err)
		assert.Equal(t, "d3", data)

		require.NoError(t, b.store.RemoveMembership(ctx, "idx", "u1"))
		require.NoError(t, b.store.RemoveMembership(ctx, "idx", "unknown"))

		_, err = b.store.Membership(ctx, "idx", "u1")
		require.ErrorIs(t, err, faststore.ErrNil)

		members, err = b.store.SUnion(ctx, "bucket:bbbbb")
		require.NoError(t, err)
		assert.Empty(t, members)
	})
}

func TestGeo(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, b backend) {
		ctx := t.Context()

		require.NoError(t, b.store.GeoAdd(ctx, "geo", "near", 52.5200, 13.4050))
		require.NoError(t, b.store.GeoAdd(ctx, "geo", "mid", 52.5250, 13.4050))
		require.NoError(t, b.store.GeoAdd(ctx, "geo", "far", 52.6200, 13.4050))

		members, err := b.store.GeoRadius(ctx, "geo", 52.5200, 13.4050, 2_000, 0)
		require.NoError(t, err)
		require.Len(t, members, 2)
		assert.Equal(t, "near", members[0].Member)
		assert.Equal(t, "mid", members[1].Member)
		assert.InDelta(t, 52.5250, members[1].Latitude, 1e-4)
		assert.InDelta(t, 13.4050, members[1].Longitude, 1e-4)

		members, err = b.store.GeoRadius(ctx, "geo", 52.5200, 13.4050, 20_000, 1)
		require.NoError(t, err)
		require.Len(t, members, 1)
		assert.Equal(t, "near", members[0].Member)

		require.NoError(t, b.store.GeoRemove(ctx, "geo", "near"))

		members, err = b.store.GeoRadius(ctx, "geo", 52.5200, 13.4050, 2_000, 0)
		require.NoError(t, err)
		require.Len(t, members, 1)
		assert.Equal(t, "mid", members[0].Member)

		members, err = b.store.GeoRadius(ctx, "empty", 0, 0, 1_000, 0)
		require.NoError(t, err)
		assert.Empty(t, members)
	})
}

func TestGeoRemoveUnless(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, b backend) {
		ctx := t.Context()

		require.NoError(t, b.store.GeoAdd(ctx, "geo", "u1", 52.5200, 13.4050))
		require.NoError(t, b.store.Set(ctx, "fresh:u1", "1", time.Minute))

		// A guard written after the caller saw it missing keeps the member.
		removed, err := b.store.GeoRemoveUnless(ctx, "geo", "u1", "fresh:u1")
		require.NoError(t, err)
		assert.False(t, removed)

		members, err := b.store.GeoRadius(ctx, "geo", 52.5200, 13.4050, 1_000, 0)
		require.NoError(t, err)
		require.Len(t, members, 1)

		b.advance(2 * time.Minute)

		removed, err = b.store.GeoRemoveUnless(ctx, "geo", "u1", "fresh:u1")
		require.NoError(t, err)
		assert.True(t, removed)

		members, err = b.store.GeoRadius(ctx, "geo", 52.5200, 13.4050, 1_000, 0)
		require.NoError(t, err)
		assert.Empty(t, members)

		removed, err = b.store.GeoRemoveUnless(ctx, "geo", "u1", "fresh:u1")
		require.NoError(t, err)
		assert.False(t, removed, "missing member")
	})
}

func TestSetIfNewer(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, b backend) {
		ctx := t.Context()

		_, _, err := b.store.GetVersioned(ctx, "find:s1")
		require.ErrorIs(t, err, faststore.ErrNil)

		stored, err := b.store.SetIfNewer(ctx, "find:s1", 10, "warm", time.Minute)
		require.NoError(t, err)
		assert.True(t, stored)

		stored, err = b.store.SetIfNewer(ctx, "find:s1", 5, "far", time.Minute)
		require.NoError(t, err)
		assert.False(t, stored, "older version is rejected")

		stored, err = b.store.SetIfNewer(ctx, "find:s1", 10, "warm", time.Minute)
		require.NoError(t, err)
		assert.True(t, stored, "equal version is an idempotent rewrite")

		stored, err = b.store.SetIfNewer(ctx, "find:s1", 20, "close", time.Minute)
		require.NoError(t, err)
		assert.True(t, stored)

		value, version, err := b.store.GetVersioned(ctx, "find:s1")
		require.NoError(t, err)
		assert.Equal(t, "close", value)
		assert.Equal(t, int64(20), version)

		b.advance(2 * time.Minute)

		_, _, err = b.store.GetVersioned(ctx, "find:s1")
		require.ErrorIs(t, err, faststore.ErrNil)
	})
}

func TestPing(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, b backend) {
		require.NoError(t, b.store.Ping(t.Context()))
	})
}
