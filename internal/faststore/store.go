// Package faststore provides the ephemeral key-value store used for presence
// caching, geospatial indexing and session projections.
//
// Two implementations exist: Redis, backed by rueidis, for multi-instance
// deployments, and Memory, an in-process store for single-instance and test
// deployments. Every operation that touches more than one key is atomic in
// both implementations.
package faststore

import (
	"context"
	"errors"
	"time"
)

// ErrNil is returned when a key or field does not exist.
var ErrNil = errors.New("faststore: nil")

// GeoMember is a single result of a radius query.
type GeoMember struct {
	Member    string
	Latitude  float64
	Longitude float64
}

// Store is the capability interface shared by all fast store implementations.
// A zero ttl means the key does not expire.
type Store interface {
	// Get returns the string value of key or ErrNil.
	Get(ctx context.Context, key string) (string, error)
	// MGet returns the values of the keys that exist.
	MGet(ctx context.Context, keys ...string) (map[string]string, error)
	// Set stores value under key.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Del removes keys. Missing keys are ignored.
	Del(ctx context.Context, keys ...string) error

	// HSet replaces the whole hash at key with fields.
	HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error
	// HGetAll returns the hash at key, or an empty map when absent.
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	// HGetAllMulti returns the hashes for keys in order. Absent hashes are empty maps.
	HGetAllMulti(ctx context.Context, keys ...string) ([]map[string]string, error)
	// HTouch writes fields and resets the ttl only if key exists.
	HTouch(ctx context.Context, key string, fields map[string]string, ttl time.Duration) (bool, error)

	// SUnion returns the union of the sets at keys.
	SUnion(ctx context.Context, keys ...string) ([]string, error)
	// SetMembership records data for member under index and moves member from
	// the sets it previously belonged to into sets.
	SetMembership(ctx context.Context, index, member, data string, sets []string) error
	// RemoveMembership removes member from index and from every set it belongs to.
	RemoveMembership(ctx context.Context, index, member string) error
	// Membership returns the data recorded for member under index or ErrNil.
	Membership(ctx context.Context, index, member string) (string, error)

	// GeoAdd upserts member at the given coordinates.
	GeoAdd(ctx context.Context, key, member string, lat, lng float64) error
	// GeoRemove removes member from the geo set.
	GeoRemove(ctx context.Context, key, member string) error
	// GeoRemoveUnless removes member from the geo set only while guard does not exist.
	GeoRemoveUnless(ctx context.Context, key, member, guard string) (bool, error)
	// GeoRadius returns up to count members within radius meters, nearest first.
	GeoRadius(ctx context.Context, key string, lat, lng, radius float64, count int) ([]GeoMember, error)

	// SetIfNewer stores value when version is not lower than the stored version.
	SetIfNewer(ctx context.Context, key string, version int64, value string, ttl time.Duration) (bool, error)
	// GetVersioned returns the value and version stored by SetIfNewer or ErrNil.
	GetVersioned(ctx context.Context, key string) (string, int64, error)

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
	// Close releases resources held by the store.
	Close()
}
