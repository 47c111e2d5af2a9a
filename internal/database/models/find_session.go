package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robalyx/resonance/internal/apperr"
	"github.com/robalyx/resonance/internal/database/dbretry"
	"github.com/robalyx/resonance/internal/database/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
	"go.uber.org/zap"
)

// uniqueViolation is the PostgreSQL error code for a unique constraint violation.
const uniqueViolation = "23505"

// FindSessionModel handles database operations for Find sessions.
type FindSessionModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewFindSession creates a new Find session model.
func NewFindSession(db *bun.DB, logger *zap.Logger) *FindSessionModel {
	return &FindSessionModel{
		db:     db,
		logger: logger.Named("db_find_session"),
	}
}

// Create inserts a new session. A second ACTIVE session for the same ordered
// pair violates the partial unique index and is reported as apperr.ErrBadRequest.
func (m *FindSessionModel) Create(ctx context.Context, session *types.FindSession) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewInsert().
			Model(session).
			Exec(ctx)
		if err != nil {
			var pgErr pgdriver.Error
			if errors.As(err, &pgErr) && pgErr.Field('C') == uniqueViolation {
				return apperr.BadRequest("an active session already exists for this pair")
			}

			return fmt.Errorf("failed to create find session: %w", err)
		}

		m.logger.Debug("Created find session",
			zap.String("sessionID", session.ID.String()),
			zap.String("seekerID", session.SeekerID),
			zap.String("targetID", session.TargetID))

		return nil
	})
}

// Get returns a session by id.
func (m *FindSessionModel) Get(ctx context.Context, id uuid.UUID) (*types.FindSession, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.FindSession, error) {
		var session types.FindSession

		err := m.db.NewSelect().
			Model(&session).
			Where("id = ?", id).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, apperr.NotFound("find session %s", id)
			}

			return nil, fmt.Errorf("failed to get find session: %w", err)
		}

		return &session, nil
	})
}

// GetActivePair returns the ACTIVE session for the ordered pair, or nil if none exists.
func (m *FindSessionModel) GetActivePair(ctx context.Context, seekerID, targetID string) (*types.FindSession, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.FindSession, error) {
		var session types.FindSession

		err := m.db.NewSelect().
			Model(&session).
			Where("seeker_id = ?", seekerID).
			Where("target_id = ?", targetID).
			Where("status = ?", types.FindStatusActive).
			Limit(1).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil //nolint:nilnil // no active session is not an error
			}

			return nil, fmt.Errorf("failed to get active find session: %w", err)
		}

		return &session, nil
	})
}

// GetActiveForUser returns the most recent ACTIVE session the user takes part in.
func (m *FindSessionModel) GetActiveForUser(ctx context.Context, userID string) (*types.FindSession, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.FindSession, error) {
		var session types.FindSession

		err := m.db.NewSelect().
			Model(&session).
			Where("status = ?", types.FindStatusActive).
			WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
				return q.Where("seeker_id = ?", userID).WhereOr("target_id = ?", userID)
			}).
			Order("started_at DESC").
			Limit(1).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, apperr.NotFound("no active find session for user %s", userID)
			}

			return nil, fmt.Errorf("failed to get active find session: %w", err)
		}

		return &session, nil
	})
}

// UpdateBucket stores a recomputed bucket if the session is still ACTIVE and
// version is not older than the stored one. Reports whether the row changed.
func (m *FindSessionModel) UpdateBucket(
	ctx context.Context, id uuid.UUID, bucket types.Bucket, version int64, at time.Time,
) (bool, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (bool, error) {
		result, err := m.db.NewUpdate().
			Model((*types.FindSession)(nil)).
			Set("current_bucket = ?", bucket).
			Set("version = ?", version).
			Set("updated_at = ?", at).
			Where("id = ?", id).
			Where("status = ?", types.FindStatusActive).
			Where("version <= ?", version).
			Exec(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to update find bucket: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("failed to get affected rows: %w", err)
		}

		return affected > 0, nil
	})
}

// End moves an ACTIVE session to a terminal status. Reports whether the row changed.
func (m *FindSessionModel) End(ctx context.Context, id uuid.UUID, status types.FindStatus, at time.Time) (bool, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (bool, error) {
		result, err := m.db.NewUpdate().
			Model((*types.FindSession)(nil)).
			Set("status = ?", status).
			Set("ended_at = ?", at).
			Set("updated_at = ?", at).
			Where("id = ?", id).
			Where("status = ?", types.FindStatusActive).
			Exec(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to end find session: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("failed to get affected rows: %w", err)
		}

		return affected > 0, nil
	})
}

// ExpireIdle moves ACTIVE sessions not updated since cutoff to EXPIRED and returns them.
func (m *FindSessionModel) ExpireIdle(
	ctx context.Context, cutoff, at time.Time, limit int,
) ([]*types.FindSession, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.FindSession, error) {
		var sessions []*types.FindSession

		idle := m.db.NewSelect().
			Model((*types.FindSession)(nil)).
			Column("id").
			Where("status = ?", types.FindStatusActive).
			Where("updated_at < ?", cutoff).
			Order("updated_at ASC").
			Limit(limit)

		_, err := m.db.NewUpdate().
			Model((*types.FindSession)(nil)).
			Set("status = ?", types.FindStatusExpired).
			Set("ended_at = ?", at).
			Set("updated_at = ?", at).
			Where("id IN (?)", idle).
			Where("status = ?", types.FindStatusActive).
			Returning("*").
			Exec(ctx, &sessions)
		if err != nil {
			return nil, fmt.Errorf("failed to expire idle find sessions: %w", err)
		}

		if len(sessions) > 0 {
			m.logger.Info("Expired idle find sessions", zap.Int("count", len(sessions)))
		}

		return sessions, nil
	})
}

// PurgeEnded deletes sessions that ended before cutoff and returns how many were removed.
func (m *FindSessionModel) PurgeEnded(ctx context.Context, cutoff time.Time) (int64, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (int64, error) {
		result, err := m.db.NewDelete().
			Model((*types.FindSession)(nil)).
			Where("status != ?", types.FindStatusActive).
			Where("ended_at < ?", cutoff).
			Exec(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to purge ended find sessions: %w", err)
		}

		affected, _ := result.RowsAffected()

		return affected, nil
	})
}
