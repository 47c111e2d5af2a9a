// Package location keeps the geospatial index and the durable location
// snapshots of users in step.
package location

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robalyx/resonance/internal/apperr"
	"github.com/robalyx/resonance/internal/database/types"
	"github.com/robalyx/resonance/internal/geo"
	"github.com/robalyx/resonance/internal/geoindex"
	"go.uber.org/zap"
)

// SnapshotStore persists the last geohash a user reported.
type SnapshotStore interface {
	Upsert(ctx context.Context, snapshot *types.LocationSnapshot) error
	Get(ctx context.Context, userID string) (*types.LocationSnapshot, error)
	Delete(ctx context.Context, userID string) error
}

// Index is the part of the geospatial index the service writes to.
type Index interface {
	SetCoordinates(ctx context.Context, userID string, point geo.Point, precision int) (string, error)
	SetGeohash(ctx context.Context, userID, hash string, precision int) (string, int, error)
	Position(ctx context.Context, userID string) (*geoindex.Position, error)
	Remove(ctx context.Context, userID string) error
}

// Config holds the accepted precision bounds.
type Config struct {
	MinPrecision     int
	MaxPrecision     int
	DefaultPrecision int // Used when a caller sends no precision
}

// Service records and removes user locations.
type Service struct {
	index     Index
	snapshots SnapshotStore
	config    Config
	logger    *zap.Logger
}

// NewService creates a location service.
func NewService(index Index, snapshots SnapshotStore, config Config, logger *zap.Logger) *Service {
	if config.DefaultPrecision == 0 {
		config.DefaultPrecision = geo.CoarsePrecision
	}

	return &Service{
		index:     index,
		snapshots: snapshots,
		config:    config,
		logger:    logger.Named("location"),
	}
}

// UpdateGeohash stores a privacy-truncated geohash for the user.
// The snapshot is written first; an unreachable fast store only delays
// the user's appearance in bucket queries.
func (s *Service) UpdateGeohash(
	ctx context.Context, userID, hash string, precision int,
) (*types.LocationSnapshot, error) {
	hash, err := geo.ParseGeohash(hash)
	if err != nil {
		return nil, err
	}

	precision, err = s.precision(precision)
	if err != nil {
		return nil, err
	}

	hash = geo.Truncate(hash, precision)

	snapshot := &types.LocationSnapshot{
		UserID:         userID,
		Geohash:        hash,
		PrecisionLevel: len(hash),
		UpdatedAt:      time.Now(),
	}
	if err := s.snapshots.Upsert(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("failed to save location snapshot: %w", err)
	}

	if _, _, err := s.index.SetGeohash(ctx, userID, hash, len(hash)); err != nil {
		if !errors.Is(err, apperr.ErrUnavailable) {
			return nil, err
		}

		s.logger.Warn("Geo index unavailable, snapshot saved only",
			zap.String("userID", userID), zap.Error(err))
	}

	return snapshot, nil
}

// UpdateCoordinates stores a precise location and the matching truncated snapshot.
func (s *Service) UpdateCoordinates(
	ctx context.Context, userID string, point geo.Point, precision int,
) (*types.LocationSnapshot, error) {
	if err := point.Validate(); err != nil {
		return nil, err
	}

	precision, err := s.precision(precision)
	if err != nil {
		return nil, err
	}

	hash, err := s.index.SetCoordinates(ctx, userID, point, precision)
	if err != nil {
		if !errors.Is(err, apperr.ErrUnavailable) {
			return nil, err
		}

		s.logger.Warn("Geo index unavailable, snapshot saved only",
			zap.String("userID", userID), zap.Error(err))

		hash = geo.Encode(point, precision)
	}

	snapshot := &types.LocationSnapshot{
		UserID:         userID,
		Geohash:        hash,
		PrecisionLevel: len(hash),
		UpdatedAt:      time.Now(),
	}
	if err := s.snapshots.Upsert(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("failed to save location snapshot: %w", err)
	}

	return snapshot, nil
}

// Remove evicts the user from the index and deletes the snapshot.
func (s *Service) Remove(ctx context.Context, userID string) error {
	indexErr := s.index.Remove(ctx, userID)
	if indexErr != nil && errors.Is(indexErr, apperr.ErrUnavailable) {
		s.logger.Warn("Geo index unavailable during removal", zap.String("userID", userID), zap.Error(indexErr))
		indexErr = nil
	}

	snapshotErr := s.snapshots.Delete(ctx, userID)
	if errors.Is(snapshotErr, apperr.ErrNotFound) {
		snapshotErr = nil
	}

	return errors.Join(indexErr, snapshotErr)
}

// Snapshot returns the stored snapshot of the user.
func (s *Service) Snapshot(ctx context.Context, userID string) (*types.LocationSnapshot, error) {
	return s.snapshots.Get(ctx, userID)
}

// Position returns the latest known position of the user. When the index is
// unreachable the snapshot's cell center is used instead.
func (s *Service) Position(ctx context.Context, userID string) (*geoindex.Position, error) {
	position, err := s.index.Position(ctx, userID)
	if err == nil || !errors.Is(err, apperr.ErrUnavailable) {
		return position, err
	}

	s.logger.Debug("Geo index unavailable, using snapshot", zap.String("userID", userID), zap.Error(err))

	snapshot, snapErr := s.snapshots.Get(ctx, userID)
	if snapErr != nil {
		return nil, snapErr
	}

	center, decodeErr := geo.DecodeCenter(snapshot.Geohash)
	if decodeErr != nil {
		return nil, apperr.NotFound("no decodable location for user %s", userID)
	}

	return &geoindex.Position{
		Point:     center,
		Geohash:   snapshot.Geohash,
		Precision: snapshot.PrecisionLevel,
		UpdatedAt: snapshot.UpdatedAt,
	}, nil
}

func (s *Service) precision(precision int) (int, error) {
	if precision == 0 {
		precision = s.config.DefaultPrecision
	}

	if precision < s.config.MinPrecision || precision > s.config.MaxPrecision {
		return 0, apperr.BadRequest("precision must be between %d and %d", s.config.MinPrecision, s.config.MaxPrecision)
	}

	return precision, nil
}
