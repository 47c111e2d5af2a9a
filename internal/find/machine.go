// Package find runs Find sessions: a seeker narrows in on a target through
// FAR, WARM, CLOSE and FOUND distance buckets.
package find

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/robalyx/resonance/internal/apperr"
	"github.com/robalyx/resonance/internal/database/types"
	"github.com/robalyx/resonance/internal/faststore"
	"github.com/robalyx/resonance/internal/geo"
	"github.com/robalyx/resonance/internal/geoindex"
	"github.com/robalyx/resonance/internal/presence"
	"go.uber.org/zap"
)

const projectionKeyPrefix = "find:"

// SessionStore is the durable session record.
type SessionStore interface {
	Create(ctx context.Context, session *types.FindSession) error
	Get(ctx context.Context, id uuid.UUID) (*types.FindSession, error)
	GetActivePair(ctx context.Context, seekerID, targetID string) (*types.FindSession, error)
	GetActiveForUser(ctx context.Context, userID string) (*types.FindSession, error)
	UpdateBucket(ctx context.Context, id uuid.UUID, bucket types.Bucket, version int64, at time.Time) (bool, error)
	End(ctx context.Context, id uuid.UUID, status types.FindStatus, at time.Time) (bool, error)
	ExpireIdle(ctx context.Context, cutoff, at time.Time, limit int) ([]*types.FindSession, error)
}

// Presence reports whether users are live and accept Find requests.
type Presence interface {
	Status(ctx context.Context, userID string) (*presence.Entry, error)
}

// Locator returns the latest known position of a user.
type Locator interface {
	Position(ctx context.Context, userID string) (*geoindex.Position, error)
}

// ProfileFetcher loads user profiles.
type ProfileFetcher interface {
	GetProfile(ctx context.Context, userID string) (*types.Profile, error)
}

// Events is told about every accepted transition.
type Events interface {
	SessionStarted(ctx context.Context, session *types.FindSession)
	BucketChanged(ctx context.Context, session *types.FindSession, previous types.Bucket)
	SessionEnded(ctx context.Context, session *types.FindSession, endedBy string)
}

// Config holds the session tunables.
type Config struct {
	SessionTTL     time.Duration // Lifetime of the fast-store projection between updates
	IdleExpiry     time.Duration // ACTIVE sessions without an update for this long are expired
	SweepBatchSize int
}

// BucketUpdate is the outcome of a bucket recomputation.
type BucketUpdate struct {
	Session  *types.FindSession
	Previous types.Bucket
	Changed  bool // The bucket differs from Previous
	Applied  bool // The recomputation was stored
}

// Machine owns the Find session lifecycle.
type Machine struct {
	sessions SessionStore
	presence Presence
	locator  Locator
	profiles ProfileFetcher
	cache    faststore.Store
	events   Events
	config   Config
	logger   *zap.Logger
	now      func() time.Time
}

// NewMachine creates a Find session machine.
func NewMachine(
	sessions SessionStore,
	presence Presence,
	locator Locator,
	profiles ProfileFetcher,
	cache faststore.Store,
	config Config,
	logger *zap.Logger,
) *Machine {
	return &Machine{
		sessions: sessions,
		presence: presence,
		locator:  locator,
		profiles: profiles,
		cache:    cache,
		config:   config,
		logger:   logger.Named("find"),
		now:      time.Now,
	}
}

// SetEvents registers the transition listener.
func (m *Machine) SetEvents(events Events) {
	m.events = events
}

// SetClock replaces the clock used for session timestamps.
func (m *Machine) SetClock(now func() time.Time) {
	m.now = now
}

// Start opens a session of seekerID looking for targetID.
func (m *Machine) Start(ctx context.Context, seekerID, targetID string) (*types.FindSession, error) {
	if targetID == "" {
		return nil, apperr.BadRequest("targetId is required")
	}

	if seekerID == targetID {
		return nil, apperr.BadRequest("cannot start a find session with yourself")
	}

	seeker, err := m.presence.Status(ctx, seekerID)
	if err != nil {
		return nil, fmt.Errorf("failed to read seeker presence: %w", err)
	}

	if !seeker.IsLive {
		return nil, apperr.BadRequest("you must be live to start a find session")
	}

	target, err := m.presence.Status(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to read target presence: %w", err)
	}

	if !target.IsLive {
		return nil, apperr.NotFound("user %s is not live", targetID)
	}

	if !target.AllowFind {
		return nil, apperr.Forbidden("user %s does not accept find requests", targetID)
	}

	if _, err := m.profiles.GetProfile(ctx, targetID); err != nil {
		return nil, err
	}

	existing, err := m.sessions.GetActivePair(ctx, seekerID, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to check active sessions: %w", err)
	}

	if existing != nil {
		return nil, apperr.BadRequest("an active find session with %s already exists", targetID)
	}

	now := m.now()
	session := &types.FindSession{
		ID:            uuid.New(),
		SeekerID:      seekerID,
		TargetID:      targetID,
		Status:        types.FindStatusActive,
		CurrentBucket: types.BucketFar,
		StartedAt:     now,
		UpdatedAt:     now,
	}

	if distance, version, ok := m.distance(ctx, seekerID, targetID); ok {
		session.CurrentBucket = BucketFor(distance)
		session.Version = version
	}

	if err := m.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	m.project(ctx, session)

	m.logger.Info("Find session started",
		zap.String("sessionID", session.ID.String()),
		zap.String("seekerID", seekerID),
		zap.String("targetID", targetID),
		zap.String("bucket", string(session.CurrentBucket)))

	if m.events != nil {
		m.events.SessionStarted(ctx, session)
	}

	return session, nil
}

// UpdateBucket recomputes the bucket of an ACTIVE session from the latest
// positions of both participants. It is a no-op when the session is not
// ACTIVE or a position is unknown. A recomputation from an older read never
// replaces one from a newer read.
func (m *Machine) UpdateBucket(ctx context.Context, id uuid.UUID, actingUserID string) (*BucketUpdate, error) {
	session, err := m.Get(ctx, id, actingUserID)
	if err != nil {
		return nil, err
	}

	update := &BucketUpdate{Session: session, Previous: session.CurrentBucket}

	if session.Status != types.FindStatusActive {
		return update, nil
	}

	distance, version, ok := m.distance(ctx, session.SeekerID, session.TargetID)
	if !ok || version < session.Version {
		return update, nil
	}

	bucket := BucketFor(distance)
	now := m.now()

	applied, err := m.sessions.UpdateBucket(ctx, id, bucket, version, now)
	if err != nil {
		return nil, fmt.Errorf("failed to store bucket: %w", err)
	}

	if !applied {
		// Ended meanwhile or overtaken by a newer recomputation
		current, err := m.sessions.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		update.Session = current
		update.Changed = current.CurrentBucket != update.Previous

		return update, nil
	}

	session.CurrentBucket = bucket
	session.Version = version
	session.UpdatedAt = now

	update.Applied = true
	update.Changed = bucket != update.Previous

	m.project(ctx, session)

	if update.Changed {
		m.logger.Debug("Find bucket changed",
			zap.String("sessionID", id.String()),
			zap.String("from", string(update.Previous)),
			zap.String("to", string(bucket)))

		if m.events != nil {
			m.events.BucketChanged(ctx, session, update.Previous)
		}
	}

	return update, nil
}

// End moves a session to a terminal status on behalf of one of its
// participants. Ending a session that already ended returns it unchanged.
func (m *Machine) End(
	ctx context.Context, id uuid.UUID, actingUserID string, status types.FindStatus,
) (*types.FindSession, error) {
	if status != types.FindStatusCompleted && status != types.FindStatusCancelled {
		return nil, apperr.BadRequest("invalid terminal status %q", status)
	}

	session, err := m.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !session.IsParticipant(actingUserID) {
		return nil, apperr.Forbidden("not a participant of find session %s", id)
	}

	if session.Status.IsTerminal() {
		return session, nil
	}

	now := m.now()

	ended, err := m.sessions.End(ctx, id, status, now)
	if err != nil {
		return nil, fmt.Errorf("failed to end find session: %w", err)
	}

	if !ended {
		return m.sessions.Get(ctx, id)
	}

	session.Status = status
	session.EndedAt = &now
	session.UpdatedAt = now

	m.evict(ctx, id)

	m.logger.Info("Find session ended",
		zap.String("sessionID", id.String()),
		zap.String("status", string(status)),
		zap.String("endedBy", actingUserID))

	if m.events != nil {
		m.events.SessionEnded(ctx, session, actingUserID)
	}

	return session, nil
}

// Active returns the most recent ACTIVE session the user takes part in.
func (m *Machine) Active(ctx context.Context, userID string) (*types.FindSession, error) {
	return m.sessions.GetActiveForUser(ctx, userID)
}

// Get returns a session visible to actingUserID. ACTIVE sessions are served
// from the fast-store projection when present.
func (m *Machine) Get(ctx context.Context, id uuid.UUID, actingUserID string) (*types.FindSession, error) {
	session := m.projection(ctx, id)
	if session == nil {
		var err error
		if session, err = m.sessions.Get(ctx, id); err != nil {
			return nil, err
		}
	}

	if !session.IsParticipant(actingUserID) {
		return nil, apperr.Forbidden("not a participant of find session %s", id)
	}

	return session, nil
}

// ExpireIdle moves ACTIVE sessions without an update for the idle window to EXPIRED.
func (m *Machine) ExpireIdle(ctx context.Context) ([]*types.FindSession, error) {
	now := m.now()

	expired, err := m.sessions.ExpireIdle(ctx, now.Add(-m.config.IdleExpiry), now, m.config.SweepBatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to expire idle sessions: %w", err)
	}

	for _, session := range expired {
		m.evict(ctx, session.ID)

		if m.events != nil {
			m.events.SessionEnded(ctx, session, "")
		}
	}

	return expired, nil
}

// distance returns the distance between two users and the version stamp of
// the positions it was computed from. ok is false when a position is unknown.
func (m *Machine) distance(ctx context.Context, a, b string) (float64, int64, bool) {
	first, err := m.locator.Position(ctx, a)
	if err != nil {
		m.logPositionError(a, err)
		return 0, 0, false
	}

	second, err := m.locator.Position(ctx, b)
	if err != nil {
		m.logPositionError(b, err)
		return 0, 0, false
	}

	version := max(first.UpdatedAt.UnixNano(), second.UpdatedAt.UnixNano())

	return geo.Distance(first.Point, second.Point), version, true
}

func (m *Machine) logPositionError(userID string, err error) {
	if errors.Is(err, apperr.ErrNotFound) {
		return
	}

	m.logger.Warn("Failed to read position", zap.String("userID", userID), zap.Error(err))
}

func (m *Machine) project(ctx context.Context, session *types.FindSession) {
	data, err := sonic.MarshalString(session)
	if err != nil {
		m.logger.Error("Failed to encode session projection", zap.Error(err))
		return
	}

	if _, err := m.cache.SetIfNewer(
		ctx, projectionKeyPrefix+session.ID.String(), session.Version, data, m.config.SessionTTL,
	); err != nil {
		m.logger.Warn("Failed to write session projection",
			zap.String("sessionID", session.ID.String()), zap.Error(err))
	}
}

func (m *Machine) projection(ctx context.Context, id uuid.UUID) *types.FindSession {
	data, _, err := m.cache.GetVersioned(ctx, projectionKeyPrefix+id.String())
	if err != nil {
		if !errors.Is(err, faststore.ErrNil) {
			m.logger.Debug("Session projection unavailable", zap.String("sessionID", id.String()), zap.Error(err))
		}
		return nil
	}

	var session types.FindSession
	if err := sonic.UnmarshalString(data, &session); err != nil {
		return nil
	}

	return &session
}

func (m *Machine) evict(ctx context.Context, id uuid.UUID) {
	if err := m.cache.Del(ctx, projectionKeyPrefix+id.String()); err != nil {
		m.logger.Warn("Failed to evict session projection", zap.String("sessionID", id.String()), zap.Error(err))
	}
}
