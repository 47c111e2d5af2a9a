// Package proximity answers who is nearby and allowed to be seen.
package proximity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robalyx/resonance/internal/apperr"
	"github.com/robalyx/resonance/internal/database/types"
	"github.com/robalyx/resonance/internal/geo"
	"github.com/robalyx/resonance/internal/geoindex"
	"github.com/robalyx/resonance/internal/presence"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// Presence reports who is live and with which settings.
type Presence interface {
	Lookup(ctx context.Context, userIDs []string) (map[string]*presence.Entry, error)
	Settings(ctx context.Context, userID string) (*types.LiveStatus, error)
}

// Index is the geospatial index queried for candidates.
type Index interface {
	QueryRadius(ctx context.Context, requesterID string, center geo.Point, radiusKm float64, limit int) ([]geoindex.Candidate, error)
	QueryBucketNeighbors(ctx context.Context, requesterID, hash string, radiusKm float64) ([]geoindex.BucketCandidate, error)
}

// Locator returns the latest known position of a user.
type Locator interface {
	Position(ctx context.Context, userID string) (*geoindex.Position, error)
}

// ProfileFetcher loads user profiles.
type ProfileFetcher interface {
	GetProfile(ctx context.Context, userID string) (*types.Profile, error)
}

// Config holds the query limits.
type Config struct {
	MaxRadiusKm        float64
	DefaultRadiusKm    float64
	DefaultLimit       int
	MaxCandidates      int
	ProfileConcurrency int
}

// Query describes a nearby search. When neither Center nor Geohash is set the
// requester's own latest position is used.
type Query struct {
	Center   *geo.Point
	Geohash  string
	RadiusKm float64
	Limit    int
}

// NearbyUser is a live user as seen by someone nearby.
type NearbyUser struct {
	types.PublicProfile

	DistanceMeters float64             `json:"distanceMeters"`
	Bearing        *float64            `json:"bearing,omitempty"` // Only for precise queries
	Geohash        string              `json:"geohash,omitempty"`
	Track          *types.TrackSummary `json:"track,omitempty"`
	LastActive     time.Time           `json:"lastActive"`
}

// Result is the answer to a nearby query.
type Result struct {
	Users    []NearbyUser `json:"users"`
	RadiusKm float64      `json:"radiusKm"`
	Precise  bool         `json:"precise"`
}

// candidate is a located user before the presence and profile joins.
type candidate struct {
	userID   string
	distance float64
	bearing  *float64
	geohash  string
}

// Engine composes the index, presence and profiles.
type Engine struct {
	presence Presence
	index    Index
	locator  Locator
	profiles ProfileFetcher
	config   Config
	logger   *zap.Logger
}

// NewEngine creates a proximity engine.
func NewEngine(
	presence Presence, index Index, locator Locator, profiles ProfileFetcher, config Config, logger *zap.Logger,
) *Engine {
	if config.MaxRadiusKm <= 0 {
		config.MaxRadiusKm = types.MaxRadiusKm
	}

	if config.DefaultRadiusKm <= 0 {
		config.DefaultRadiusKm = types.DefaultRadiusKm
	}

	if config.DefaultLimit <= 0 {
		config.DefaultLimit = 50
	}

	if config.ProfileConcurrency <= 0 {
		config.ProfileConcurrency = 8
	}

	return &Engine{
		presence: presence,
		index:    index,
		locator:  locator,
		profiles: profiles,
		config:   config,
		logger:   logger.Named("proximity"),
	}
}

// Nearby returns live users near the query location, nearest first with ties
// broken by user id. Offline users are never returned even if still indexed.
func (e *Engine) Nearby(ctx context.Context, requesterID string, query Query) (*Result, error) {
	radius := query.RadiusKm
	if radius < 0 {
		return nil, apperr.BadRequest("radiusKm must be positive")
	}

	if radius == 0 {
		radius = e.config.DefaultRadiusKm
	}

	radius = min(radius, e.config.MaxRadiusKm)

	limit := query.Limit
	if limit <= 0 {
		limit = e.config.DefaultLimit
	}

	result := &Result{Users: []NearbyUser{}, RadiusKm: radius}

	candidates, precise, err := e.candidates(ctx, requesterID, query, radius)
	if err != nil {
		return nil, err
	}

	result.Precise = precise
	if len(candidates) == 0 {
		return result, nil
	}

	users, err := e.join(ctx, candidates)
	if err != nil {
		return nil, err
	}

	sort.Slice(users, func(i, j int) bool {
		if users[i].DistanceMeters == users[j].DistanceMeters {
			return users[i].UserID < users[j].UserID
		}
		return users[i].DistanceMeters < users[j].DistanceMeters
	})

	if len(users) > limit {
		users = users[:limit]
	}

	result.Users = users

	return result, nil
}

// LiveUsers returns live users within the requester's own radius setting.
func (e *Engine) LiveUsers(ctx context.Context, requesterID string) (*Result, error) {
	settings, err := e.presence.Settings(ctx, requesterID)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	return e.Nearby(ctx, requesterID, Query{RadiusKm: settings.RadiusKm})
}

// NeighborIDs returns the ids of the live users near originID.
func (e *Engine) NeighborIDs(ctx context.Context, originID string) ([]string, error) {
	result, err := e.LiveUsers(ctx, originID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(result.Users))
	for i, user := range result.Users {
		ids[i] = user.UserID
	}

	return ids, nil
}

// PublicProfile returns the anonymized projection of a user's profile.
func (e *Engine) PublicProfile(ctx context.Context, userID string) (*types.PublicProfile, error) {
	profile, err := e.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	public := Project(profile)

	return &public, nil
}

// Project returns the projection of profile other users may see.
func Project(profile *types.Profile) types.PublicProfile {
	return profile.Public()
}

// candidates resolves located users around the query. The second result
// reports whether precise coordinates were used.
func (e *Engine) candidates(
	ctx context.Context, requesterID string, query Query, radiusKm float64,
) ([]candidate, bool, error) {
	center := query.Center
	hash := query.Geohash

	if center == nil && hash == "" {
		position, err := e.locator.Position(ctx, requesterID)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return nil, false, nil
			}
			return nil, false, fmt.Errorf("failed to resolve requester location: %w", err)
		}

		if position.Precise {
			center = &position.Point
		} else {
			hash = position.Geohash
		}
	}

	if center != nil {
		found, err := e.radiusCandidates(ctx, requesterID, *center, radiusKm)
		if err == nil {
			return found, true, nil
		}

		if !errors.Is(err, apperr.ErrUnavailable) {
			return nil, false, err
		}

		e.logger.Warn("Geo index unavailable for radius query", zap.Error(err))

		if hash == "" {
			return nil, true, nil
		}
	}

	found, err := e.bucketCandidates(ctx, requesterID, hash, radiusKm)
	if err != nil && errors.Is(err, apperr.ErrUnavailable) {
		e.logger.Warn("Geo index unavailable for bucket query", zap.Error(err))
		return nil, false, nil
	}

	return found, false, err
}

func (e *Engine) radiusCandidates(
	ctx context.Context, requesterID string, center geo.Point, radiusKm float64,
) ([]candidate, error) {
	found, err := e.index.QueryRadius(ctx, requesterID, center, radiusKm, e.config.MaxCandidates)
	if err != nil {
		return nil, err
	}

	candidates := make([]candidate, len(found))
	for i, c := range found {
		bearing := c.Bearing
		candidates[i] = candidate{
			userID:   c.UserID,
			distance: c.DistanceMeters,
			bearing:  &bearing,
		}
	}

	return candidates, nil
}

func (e *Engine) bucketCandidates(
	ctx context.Context, requesterID, hash string, radiusKm float64,
) ([]candidate, error) {
	origin, err := geo.DecodeCenter(hash)
	if err != nil {
		return nil, err
	}

	found, err := e.index.QueryBucketNeighbors(ctx, requesterID, hash, radiusKm)
	if err != nil {
		return nil, err
	}

	candidates := make([]candidate, len(found))
	for i, c := range found {
		candidates[i] = candidate{
			userID:   c.UserID,
			distance: geo.Distance(origin, c.Center),
			geohash:  c.Geohash,
		}
	}

	return candidates, nil
}

// join keeps live candidates and attaches their public profile and track.
func (e *Engine) join(ctx context.Context, candidates []candidate) ([]NearbyUser, error) {
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.userID
	}

	live, err := e.presence.Lookup(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to read presence: %w", err)
	}

	var (
		p     = pool.New().WithContext(ctx).WithMaxGoroutines(e.config.ProfileConcurrency)
		mu    sync.Mutex
		users = make([]NearbyUser, 0, len(live))
	)

	for _, c := range candidates {
		entry, ok := live[c.userID]
		if !ok {
			continue
		}

		p.Go(func(ctx context.Context) error {
			profile, err := e.profiles.GetProfile(ctx, c.userID)
			if err != nil {
				if errors.Is(err, apperr.ErrNotFound) {
					e.logger.Debug("Skipping live user without profile", zap.String("userID", c.userID))
					return nil
				}
				return fmt.Errorf("failed to get profile of %s: %w", c.userID, err)
			}

			user := NearbyUser{
				PublicProfile:  Project(profile),
				DistanceMeters: c.distance,
				Bearing:        c.bearing,
				Geohash:        c.geohash,
				Track:          entry.VisibleTrack(),
				LastActive:     entry.LastActive,
			}

			mu.Lock()
			users = append(users, user)
			mu.Unlock()

			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return nil, err
	}

	return users, nil
}
