// Package geoindex maintains the two views of where users are: a precise
// radius-queryable index of coordinates that expire after a freshness window,
// and a coarse geohash bucket index used when only a truncated geohash is known.
package geoindex

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/robalyx/resonance/internal/apperr"
	"github.com/robalyx/resonance/internal/faststore"
	"github.com/robalyx/resonance/internal/geo"
	"go.uber.org/zap"
)

const (
	usersKey        = "geo:users"
	bucketIndexKey  = "geo:buckets"
	freshKeyPrefix  = "geo:fresh:"
	bucketKeyPrefix = "geo:bucket:"

	// radiusSlack widens the store query so candidates near the edge are not lost
	// to differences in the store's own distance model. Results are filtered exactly.
	radiusSlack = 1.001
)

// Config holds the tunables of the index.
type Config struct {
	LocationTTL   time.Duration // Freshness window of precise coordinates
	MaxCandidates int           // Upper bound on members fetched per radius query
	MinPrecision  int           // Smallest accepted geohash precision
	MaxPrecision  int           // Largest accepted geohash precision
}

// Position is the latest known location of a user.
type Position struct {
	Point     geo.Point
	Geohash   string
	Precision int
	Precise   bool // Point comes from reported coordinates rather than a geohash cell center
	UpdatedAt time.Time
}

// Candidate is a user found by a radius query.
type Candidate struct {
	UserID         string
	Point          geo.Point
	DistanceMeters float64
	Bearing        float64
}

// BucketCandidate is a user found through the geohash bucket index.
type BucketCandidate struct {
	UserID    string
	Geohash   string
	Center    geo.Point
	UpdatedAt time.Time
}

// freshEntry is the payload of a precise location key.
type freshEntry struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
	UpdatedAt int64   `json:"updatedAt"`
}

// Index is the geospatial index over a fast store.
type Index struct {
	store  faststore.Store
	config Config
	logger *zap.Logger
	now    func() time.Time
}

// New creates a geospatial index.
func New(store faststore.Store, config Config, logger *zap.Logger) *Index {
	return &Index{
		store:  store,
		config: config,
		logger: logger.Named("geo_index"),
		now:    time.Now,
	}
}

// SetClock replaces the clock used for update timestamps.
func (i *Index) SetClock(now func() time.Time) {
	i.now = now
}

// SetCoordinates records a precise location for userID and refreshes its
// bucket membership at the given precision. Returns the truncated geohash.
func (i *Index) SetCoordinates(ctx context.Context, userID string, point geo.Point, precision int) (string, error) {
	if err := point.Validate(); err != nil {
		return "", err
	}

	precision, err := i.checkPrecision(precision)
	if err != nil {
		return "", err
	}

	now := i.now()

	data, err := sonic.MarshalString(freshEntry{
		Latitude:  point.Latitude,
		Longitude: point.Longitude,
		UpdatedAt: now.UnixMilli(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal location: %w", err)
	}

	if err := i.store.GeoAdd(ctx, usersKey, userID, point.Latitude, point.Longitude); err != nil {
		return "", fmt.Errorf("failed to add user to geo index: %w", err)
	}

	if err := i.store.Set(ctx, freshKeyPrefix+userID, data, i.config.LocationTTL); err != nil {
		return "", fmt.Errorf("failed to store location freshness: %w", err)
	}

	hash := geo.Encode(point, precision)
	if err := i.setBuckets(ctx, userID, hash, now); err != nil {
		return "", err
	}

	i.logger.Debug("Updated precise location", zap.String("userID", userID), zap.Int("precision", precision))

	return hash, nil
}

// SetGeohash records a privacy-truncated geohash for userID.
// The stored geohash is truncated to precision, so its length always equals the returned precision.
func (i *Index) SetGeohash(ctx context.Context, userID, hash string, precision int) (string, int, error) {
	hash, err := geo.ParseGeohash(hash)
	if err != nil {
		return "", 0, err
	}

	precision, err = i.checkPrecision(precision)
	if err != nil {
		return "", 0, err
	}

	hash = geo.Truncate(hash, precision)
	if err := i.setBuckets(ctx, userID, hash, i.now()); err != nil {
		return "", 0, err
	}

	// The geohash supersedes any earlier precise report
	err = errors.Join(
		i.store.Del(ctx, freshKeyPrefix+userID),
		i.store.GeoRemove(ctx, usersKey, userID),
	)
	if err != nil {
		return "", 0, fmt.Errorf("failed to drop superseded coordinates: %w", err)
	}

	i.logger.Debug("Updated geohash location", zap.String("userID", userID), zap.Int("precision", len(hash)))

	return hash, len(hash), nil
}

// QueryRadius returns users within radiusKm of center, nearest first with ties
// broken by user id. The requester and users without a fresh location are excluded.
// A limit of zero or less returns every match.
func (i *Index) QueryRadius(
	ctx context.Context, requesterID string, center geo.Point, radiusKm float64, limit int,
) ([]Candidate, error) {
	if err := center.Validate(); err != nil {
		return nil, err
	}

	if radiusKm <= 0 {
		return nil, apperr.BadRequest("radius must be positive")
	}

	radius := radiusKm * 1000

	members, err := i.store.GeoRadius(ctx, usersKey, center.Latitude, center.Longitude, radius*radiusSlack+1, i.config.MaxCandidates)
	if err != nil {
		return nil, fmt.Errorf("failed to query geo index: %w", err)
	}

	keys := make([]string, 0, len(members))
	for _, member := range members {
		if member.Member != requesterID {
			keys = append(keys, freshKeyPrefix+member.Member)
		}
	}

	fresh, err := i.store.MGet(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("failed to read location freshness: %w", err)
	}

	candidates := make([]Candidate, 0, len(keys))
	stale := make([]string, 0)

	for _, member := range members {
		if member.Member == requesterID {
			continue
		}

		data, ok := fresh[freshKeyPrefix+member.Member]
		if !ok {
			stale = append(stale, member.Member)
			continue
		}

		var entry freshEntry
		if err := sonic.UnmarshalString(data, &entry); err != nil {
			i.logger.Warn("Skipping malformed location entry", zap.String("userID", member.Member), zap.Error(err))
			continue
		}

		point := geo.Point{Latitude: entry.Latitude, Longitude: entry.Longitude}

		distance := geo.Distance(center, point)
		if distance > radius {
			continue
		}

		candidates = append(candidates, Candidate{
			UserID:         member.Member,
			Point:          point,
			DistanceMeters: distance,
			Bearing:        geo.Bearing(center, point),
		})
	}

	i.evictStale(ctx, stale)

	sort.Slice(candidates, func(a, b int) bool {
		if candidates[a].DistanceMeters == candidates[b].DistanceMeters {
			return candidates[a].UserID < candidates[b].UserID
		}
		return candidates[a].DistanceMeters < candidates[b].DistanceMeters
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	return candidates, nil
}

// QueryBucketNeighbors returns users whose bucket lies in the cell of hash or one
// of its eight neighbors, at the precision chosen for radiusKm. Users with an
// undecodable stored geohash are skipped. Results are ordered by user id.
func (i *Index) QueryBucketNeighbors(
	ctx context.Context, requesterID, hash string, radiusKm float64,
) ([]BucketCandidate, error) {
	hash, err := geo.ParseGeohash(hash)
	if err != nil {
		return nil, err
	}

	cells, err := geo.BucketNeighbors(geo.Truncate(hash, geo.SearchPrecision(radiusKm)))
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(cells))
	for idx, cell := range cells {
		keys[idx] = bucketKeyPrefix + cell
	}

	members, err := i.store.SUnion(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("failed to read geohash buckets: %w", err)
	}

	candidates := make([]BucketCandidate, 0, len(members))
	for _, member := range members {
		if member == requesterID {
			continue
		}

		data, err := i.store.Membership(ctx, bucketIndexKey, member)
		if err != nil {
			if errors.Is(err, faststore.ErrNil) {
				continue
			}
			return nil, fmt.Errorf("failed to read bucket membership: %w", err)
		}

		memberHash, _, updatedAt, err := parseMembership(data)
		if err != nil {
			i.logger.Debug("Skipping malformed bucket entry", zap.String("userID", member), zap.Error(err))
			continue
		}

		center, err := geo.DecodeCenter(memberHash)
		if err != nil {
			i.logger.Debug("Skipping undecodable geohash", zap.String("userID", member), zap.Error(err))
			continue
		}

		candidates = append(candidates, BucketCandidate{
			UserID:    member,
			Geohash:   memberHash,
			Center:    center,
			UpdatedAt: updatedAt,
		})
	}

	sort.Slice(candidates, func(a, b int) bool {
		return candidates[a].UserID < candidates[b].UserID
	})

	return candidates, nil
}

// Position returns the latest known location of userID. Fresh coordinates win
// over the geohash bucket unless the bucket was updated after them.
// Returns apperr.ErrNotFound when neither exists.
func (i *Index) Position(ctx context.Context, userID string) (*Position, error) {
	data, err := i.store.Membership(ctx, bucketIndexKey, userID)
	if err != nil && !errors.Is(err, faststore.ErrNil) {
		return nil, fmt.Errorf("failed to read bucket membership: %w", err)
	}

	var position *Position

	if err == nil {
		hash, precision, updatedAt, parseErr := parseMembership(data)
		if parseErr == nil {
			if center, decodeErr := geo.DecodeCenter(hash); decodeErr == nil {
				position = &Position{
					Point:     center,
					Geohash:   hash,
					Precision: precision,
					UpdatedAt: updatedAt,
				}
			}
		}
	}

	raw, err := i.store.Get(ctx, freshKeyPrefix+userID)
	switch {
	case err == nil:
		var entry freshEntry
		if err := sonic.UnmarshalString(raw, &entry); err != nil {
			break
		}

		precise := &Position{
			Point:     geo.Point{Latitude: entry.Latitude, Longitude: entry.Longitude},
			Precise:   true,
			UpdatedAt: time.UnixMilli(entry.UpdatedAt),
		}
		if position != nil {
			if precise.UpdatedAt.Before(position.UpdatedAt) {
				return position, nil
			}
			precise.Geohash = position.Geohash
			precise.Precision = position.Precision
		}

		return precise, nil
	case !errors.Is(err, faststore.ErrNil):
		return nil, fmt.Errorf("failed to read location freshness: %w", err)
	}

	if position == nil {
		return nil, apperr.NotFound("no location for user %s", userID)
	}

	return position, nil
}

// Remove evicts userID from both indexes.
func (i *Index) Remove(ctx context.Context, userID string) error {
	err := errors.Join(
		i.store.GeoRemove(ctx, usersKey, userID),
		i.store.Del(ctx, freshKeyPrefix+userID),
		i.store.RemoveMembership(ctx, bucketIndexKey, userID),
	)
	if err != nil {
		return fmt.Errorf("failed to remove user from geo index: %w", err)
	}

	i.logger.Debug("Removed user from geo index", zap.String("userID", userID))

	return nil
}

// setBuckets moves userID into the buckets of every indexed prefix of hash.
func (i *Index) setBuckets(ctx context.Context, userID, hash string, at time.Time) error {
	sets := make([]string, 0, len(geo.BucketPrecisions))
	seen := make(map[string]struct{}, len(geo.BucketPrecisions))

	for _, precision := range geo.BucketPrecisions {
		key := bucketKeyPrefix + geo.Truncate(hash, precision)
		if _, ok := seen[key]; ok {
			continue
		}

		seen[key] = struct{}{}
		sets = append(sets, key)
	}

	data := formatMembership(hash, at)
	if err := i.store.SetMembership(ctx, bucketIndexKey, userID, data, sets); err != nil {
		return fmt.Errorf("failed to update geohash buckets: %w", err)
	}

	return nil
}

func (i *Index) checkPrecision(precision int) (int, error) {
	if precision == 0 {
		precision = i.config.MaxPrecision
	}

	if precision < i.config.MinPrecision || precision > i.config.MaxPrecision {
		return 0, apperr.BadRequest("precision must be between %d and %d", i.config.MinPrecision, i.config.MaxPrecision)
	}

	return precision, nil
}

// evictStale drops GEO members whose freshness window has passed. A member
// that reported again since the radius query keeps its place.
func (i *Index) evictStale(ctx context.Context, userIDs []string) {
	for _, userID := range userIDs {
		if _, err := i.store.GeoRemoveUnless(ctx, usersKey, userID, freshKeyPrefix+userID); err != nil {
			i.logger.Warn("Failed to evict stale location", zap.String("userID", userID), zap.Error(err))
		}
	}
}

func formatMembership(hash string, at time.Time) string {
	return hash + "|" + strconv.Itoa(len(hash)) + "|" + strconv.FormatInt(at.UnixMilli(), 10)
}

func parseMembership(data string) (string, int, time.Time, error) {
	parts := strings.Split(data, "|")
	if len(parts) != 3 {
		return "", 0, time.Time{}, fmt.Errorf("malformed bucket entry %q", data)
	}

	precision, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, time.Time{}, fmt.Errorf("malformed precision in %q: %w", data, err)
	}

	updatedAt, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", 0, time.Time{}, fmt.Errorf("malformed timestamp in %q: %w", data, err)
	}

	return parts[0], precision, time.UnixMilli(updatedAt), nil
}
