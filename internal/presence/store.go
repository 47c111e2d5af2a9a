// Package presence tracks which users are live. A short-lived cache entry in
// the fast store mirrors the durable liveness row so heartbeats stay cheap;
// the reaper reconciles the two when clients vanish without going offline.
package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/robalyx/resonance/internal/apperr"
	"github.com/robalyx/resonance/internal/database/types"
	"github.com/robalyx/resonance/internal/faststore"
	"go.uber.org/zap"
)

// StatusStore is the durable liveness record.
type StatusStore interface {
	Get(ctx context.Context, userID string) (*types.LiveStatus, error)
	GetMany(ctx context.Context, userIDs []string) (map[string]*types.LiveStatus, error)
	SetLive(ctx context.Context, userID string, at time.Time) (*types.LiveStatus, error)
	SetOffline(ctx context.Context, userID string, at time.Time) error
	UpdateSettings(ctx context.Context, userID string, update *types.SettingsUpdate, at time.Time) (*types.LiveStatus, error)
	TouchLastActive(ctx context.Context, userID string, at time.Time) error
	GetStale(ctx context.Context, cutoff time.Time, limit int) ([]*types.LiveStatus, error)
	FlipStale(ctx context.Context, userID string, cutoff, at time.Time) (bool, error)
}

// LocationEvictor removes a user from the geospatial index.
type LocationEvictor interface {
	Remove(ctx context.Context, userID string) error
}

// ListeningRecorder records played tracks in the listening history.
type ListeningRecorder interface {
	RecordListening(ctx context.Context, userID string, track *types.TrackSummary) error
}

// Config holds the presence tunables.
type Config struct {
	CacheTTL       time.Duration // Lifetime of a cache entry without heartbeats
	StaleThreshold time.Duration // Inactivity after which the reaper flips a user offline
	SyncInterval   time.Duration // Minimum gap between durable lastActive writes from heartbeats
	ReapBatchSize  int
	MaxRadiusKm    float64
}

// Store is the presence store.
type Store struct {
	cache     faststore.Store
	statuses  StatusStore
	locations LocationEvictor
	listening ListeningRecorder
	config    Config
	logger    *zap.Logger
	now       func() time.Time
}

// NewStore creates a presence store. listening may be nil.
func NewStore(
	cache faststore.Store,
	statuses StatusStore,
	locations LocationEvictor,
	listening ListeningRecorder,
	config Config,
	logger *zap.Logger,
) *Store {
	if config.MaxRadiusKm <= 0 {
		config.MaxRadiusKm = types.MaxRadiusKm
	}

	return &Store{
		cache:     cache,
		statuses:  statuses,
		locations: locations,
		listening: listening,
		config:    config,
		logger:    logger.Named("presence"),
		now:       time.Now,
	}
}

// SetClock replaces the clock used for activity timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// GoLive marks the user live in the durable store and writes a fresh cache entry.
// Durable failures are returned to the caller.
func (s *Store) GoLive(ctx context.Context, userID string) (*Entry, error) {
	now := s.now()

	status, err := s.statuses.SetLive(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to go live: %w", err)
	}

	entry := entryFromStatus(status)
	entry.syncedAt = now

	// Keep the track a previous session left in the cache
	if previous, err := s.cachedEntry(ctx, userID); err == nil && previous != nil {
		entry.Track = previous.Track
	}

	s.writeCache(ctx, entry)

	s.logger.Debug("User went live", zap.String("userID", userID))

	return entry, nil
}

// GoOffline marks the user offline and drops the cache entry and precise
// location immediately. Returns apperr.ErrNotFound if the user never went live.
func (s *Store) GoOffline(ctx context.Context, userID string) error {
	if err := s.statuses.SetOffline(ctx, userID, s.now()); err != nil {
		return fmt.Errorf("failed to go offline: %w", err)
	}

	s.evict(ctx, userID)

	s.logger.Debug("User went offline", zap.String("userID", userID))

	return nil
}

// Heartbeat refreshes lastActive and extends the cache TTL. The durable row is
// written at most once per sync interval. A user whose cache entry expired but
// whose durable row is still live gets the entry rebuilt.
func (s *Store) Heartbeat(ctx context.Context, userID string) error {
	now := s.now()

	ok, err := s.cache.HTouch(ctx, cacheKey(userID), map[string]string{
		fieldLastActive: formatMillis(now),
	}, s.config.CacheTTL)
	if err != nil {
		if !errors.Is(err, apperr.ErrUnavailable) {
			return fmt.Errorf("failed to refresh presence: %w", err)
		}

		s.logger.Warn("Presence cache unavailable, writing heartbeat through", zap.String("userID", userID), zap.Error(err))

		return s.statuses.TouchLastActive(ctx, userID, now)
	}

	if !ok {
		return s.rebuild(ctx, userID, now)
	}

	entry, err := s.cachedEntry(ctx, userID)
	if err != nil || entry == nil || now.Sub(entry.syncedAt) < s.config.SyncInterval {
		return nil //nolint:nilerr // durable sync is best effort between intervals
	}

	if err := s.statuses.TouchLastActive(ctx, userID, now); err != nil {
		s.logger.Warn("Failed to sync heartbeat", zap.String("userID", userID), zap.Error(err))
		return nil
	}

	if _, err := s.cache.HTouch(ctx, cacheKey(userID), map[string]string{
		fieldSyncedAt: formatMillis(now),
	}, s.config.CacheTTL); err != nil {
		s.logger.Debug("Failed to mark heartbeat synced", zap.String("userID", userID), zap.Error(err))
	}

	return nil
}

// UpdateTrack stores the user's current track in the cache. Newly playing
// tracks are also recorded in the listening history.
func (s *Store) UpdateTrack(ctx context.Context, userID string, track *types.TrackSummary) error {
	if track != nil && track.TrackID == "" {
		return apperr.BadRequest("track id is required")
	}

	previous, err := s.cachedEntry(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to read presence: %w", err)
	}

	if previous == nil || !previous.IsLive {
		return apperr.BadRequest("user %s is not live", userID)
	}

	fields := map[string]string{fieldLastActive: formatMillis(s.now())}
	if track != nil {
		raw, err := sonic.MarshalString(track)
		if err != nil {
			return fmt.Errorf("failed to marshal track: %w", err)
		}

		fields[fieldTrack] = raw
	} else {
		fields[fieldTrack] = ""
	}

	if _, err := s.cache.HTouch(ctx, cacheKey(userID), fields, s.config.CacheTTL); err != nil {
		return fmt.Errorf("failed to update track: %w", err)
	}

	if s.listening != nil && track != nil && track.IsPlaying &&
		(previous.Track == nil || previous.Track.TrackID != track.TrackID) {
		if err := s.listening.RecordListening(ctx, userID, track); err != nil {
			s.logger.Warn("Failed to record listening event", zap.String("userID", userID), zap.Error(err))
		}
	}

	return nil
}

// Settings returns the user's live settings, or the defaults if none are stored.
func (s *Store) Settings(ctx context.Context, userID string) (*types.LiveStatus, error) {
	status, err := s.statuses.Get(ctx, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return types.NewLiveStatus(userID), nil
	}

	return status, err
}

// UpdateSettings applies a partial settings update. The radius must be positive
// and is capped at the maximum search radius. Setting isLive goes live or offline.
func (s *Store) UpdateSettings(
	ctx context.Context, userID string, update *types.SettingsUpdate,
) (*types.LiveStatus, error) {
	if update.RadiusKm != nil {
		if *update.RadiusKm <= 0 {
			return nil, apperr.BadRequest("radiusKm must be positive")
		}

		radius := min(*update.RadiusKm, s.config.MaxRadiusKm)
		update.RadiusKm = &radius
	}

	status, err := s.statuses.UpdateSettings(ctx, userID, update, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to update settings: %w", err)
	}

	if update.IsLive != nil && *update.IsLive != status.IsLive {
		if *update.IsLive {
			if _, err := s.GoLive(ctx, userID); err != nil {
				return nil, err
			}
		} else if err := s.GoOffline(ctx, userID); err != nil {
			return nil, err
		}

		return s.statuses.Get(ctx, userID)
	}

	if _, err := s.cache.HTouch(ctx, cacheKey(userID), map[string]string{
		fieldShareTrack: formatBool(status.ShareTrack),
		fieldAllowFind:  formatBool(status.AllowFind),
		fieldRadiusKm:   formatFloat(status.RadiusKm),
	}, s.config.CacheTTL); err != nil {
		s.logger.Warn("Failed to refresh cached settings", zap.String("userID", userID), zap.Error(err))
	}

	return status, nil
}

// Lookup returns the presence of every live user among userIDs. Users that are
// not live are absent from the result. If the cache is unreachable the durable
// rows are used instead and entries carry no track.
func (s *Store) Lookup(ctx context.Context, userIDs []string) (map[string]*Entry, error) {
	result := make(map[string]*Entry, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}

	keys := make([]string, len(userIDs))
	for i, userID := range userIDs {
		keys[i] = cacheKey(userID)
	}

	hashes, err := s.cache.HGetAllMulti(ctx, keys...)
	if err != nil {
		if !errors.Is(err, apperr.ErrUnavailable) {
			return nil, fmt.Errorf("failed to read presence: %w", err)
		}

		s.logger.Warn("Presence cache unavailable, reading durable rows", zap.Error(err))

		return s.lookupDurable(ctx, userIDs)
	}

	for i, userID := range userIDs {
		if entry := parseEntry(userID, hashes[i]); entry != nil && entry.IsLive {
			result[userID] = entry
		}
	}

	return result, nil
}

// Status returns the presence of a single user. A user that is not live yields
// an entry with IsLive false.
func (s *Store) Status(ctx context.Context, userID string) (*Entry, error) {
	entries, err := s.Lookup(ctx, []string{userID})
	if err != nil {
		return nil, err
	}

	if entry, ok := entries[userID]; ok {
		return entry, nil
	}

	return &Entry{UserID: userID}, nil
}

// IsLive reports whether the user is live.
func (s *Store) IsLive(ctx context.Context, userID string) (bool, error) {
	entry, err := s.Status(ctx, userID)
	if err != nil {
		return false, err
	}

	return entry.IsLive, nil
}

func (s *Store) lookupDurable(ctx context.Context, userIDs []string) (map[string]*Entry, error) {
	statuses, err := s.statuses.GetMany(ctx, userIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to read durable presence: %w", err)
	}

	result := make(map[string]*Entry, len(statuses))
	for userID, status := range statuses {
		if status.IsLive {
			result[userID] = entryFromStatus(status)
		}
	}

	return result, nil
}

// rebuild restores an expired cache entry from a durable row that is still live.
func (s *Store) rebuild(ctx context.Context, userID string, now time.Time) error {
	status, err := s.statuses.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.BadRequest("user %s is not live", userID)
		}

		return fmt.Errorf("failed to read live status: %w", err)
	}

	if !status.IsLive {
		return apperr.BadRequest("user %s is not live", userID)
	}

	if err := s.statuses.TouchLastActive(ctx, userID, now); err != nil {
		return fmt.Errorf("failed to sync heartbeat: %w", err)
	}

	entry := entryFromStatus(status)
	entry.LastActive = now
	entry.syncedAt = now
	s.writeCache(ctx, entry)

	s.logger.Debug("Rebuilt expired presence entry", zap.String("userID", userID))

	return nil
}

func (s *Store) cachedEntry(ctx context.Context, userID string) (*Entry, error) {
	fields, err := s.cache.HGetAll(ctx, cacheKey(userID))
	if err != nil {
		return nil, err
	}

	return parseEntry(userID, fields), nil
}

func (s *Store) writeCache(ctx context.Context, entry *Entry) {
	fields, err := entry.fields()
	if err != nil {
		s.logger.Error("Failed to encode presence entry", zap.String("userID", entry.UserID), zap.Error(err))
		return
	}

	if err := s.cache.HSet(ctx, cacheKey(entry.UserID), fields, s.config.CacheTTL); err != nil {
		s.logger.Warn("Failed to write presence cache", zap.String("userID", entry.UserID), zap.Error(err))
	}
}

// evict drops the cache entry and the precise location of a user.
func (s *Store) evict(ctx context.Context, userID string) {
	if err := s.cache.Del(ctx, cacheKey(userID)); err != nil {
		s.logger.Warn("Failed to delete presence cache", zap.String("userID", userID), zap.Error(err))
	}

	if s.locations == nil {
		return
	}

	if err := s.locations.Remove(ctx, userID); err != nil {
		s.logger.Warn("Failed to remove location of offline user", zap.String("userID", userID), zap.Error(err))
	}
}
