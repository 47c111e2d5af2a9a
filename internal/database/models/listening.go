package models

import (
	"context"
	"fmt"
	"time"

	"github.com/robalyx/resonance/internal/database/dbretry"
	"github.com/robalyx/resonance/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// ListeningModel records listening history.
type ListeningModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewListening creates a new listening model.
func NewListening(db *bun.DB, logger *zap.Logger) *ListeningModel {
	return &ListeningModel{
		db:     db,
		logger: logger.Named("db_listening"),
	}
}

// RecordListening appends a listening event for the given track.
func (m *ListeningModel) RecordListening(ctx context.Context, userID string, track *types.TrackSummary) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewInsert().
			Model(&types.ListeningEvent{
				UserID:    userID,
				TrackID:   track.TrackID,
				TrackName: track.TrackName,
				Artist:    track.Artist,
				PlayedAt:  time.Now(),
			}).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to record listening event: %w", err)
		}

		return nil
	})
}
