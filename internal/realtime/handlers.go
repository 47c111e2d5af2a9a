package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robalyx/resonance/internal/apperr"
	"github.com/robalyx/resonance/internal/database/types"
	"github.com/robalyx/resonance/internal/find"
	"github.com/robalyx/resonance/internal/geo"
	"github.com/robalyx/resonance/internal/presence"
	"github.com/robalyx/resonance/internal/proximity"
	"go.uber.org/zap"
)

// PresenceService is the presence surface the handlers drive.
type PresenceService interface {
	GoLive(ctx context.Context, userID string) (*presence.Entry, error)
	GoOffline(ctx context.Context, userID string) error
	Heartbeat(ctx context.Context, userID string) error
	UpdateTrack(ctx context.Context, userID string, track *types.TrackSummary) error
	Status(ctx context.Context, userID string) (*presence.Entry, error)
}

// LocationService stores reported locations.
type LocationService interface {
	UpdateGeohash(ctx context.Context, userID, hash string, precision int) (*types.LocationSnapshot, error)
	UpdateCoordinates(
		ctx context.Context, userID string, point geo.Point, precision int,
	) (*types.LocationSnapshot, error)
}

// ProximityService answers nearby queries.
type ProximityService interface {
	Nearby(ctx context.Context, requesterID string, query proximity.Query) (*proximity.Result, error)
	LiveUsers(ctx context.Context, requesterID string) (*proximity.Result, error)
	PublicProfile(ctx context.Context, userID string) (*types.PublicProfile, error)
}

// FindService drives Find sessions.
type FindService interface {
	Start(ctx context.Context, seekerID, targetID string) (*types.FindSession, error)
	UpdateBucket(ctx context.Context, id uuid.UUID, actingUserID string) (*find.BucketUpdate, error)
	End(ctx context.Context, id uuid.UUID, actingUserID string, status types.FindStatus) (*types.FindSession, error)
}

// Handlers implements every client event.
type Handlers struct {
	presence    PresenceService
	location    LocationService
	proximity   ProximityService
	find        FindService
	broadcaster *Broadcaster
	announcer   *Announcer
	logger      *zap.Logger
}

// NewHandlers creates the client event handlers.
func NewHandlers(
	presence PresenceService,
	location LocationService,
	proximity ProximityService,
	find FindService,
	broadcaster *Broadcaster,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		presence:    presence,
		location:    location,
		proximity:   proximity,
		find:        find,
		broadcaster: broadcaster,
		announcer:   NewAnnouncer(broadcaster, proximity, logger),
		logger:      logger.Named("realtime_handlers"),
	}
}

// Register adds every client event to d.
func (h *Handlers) Register(d *Dispatcher) {
	d.Handle(EventGoLive, h.goLive)
	d.Handle(EventGoOffline, h.goOffline)
	d.Handle(EventUpdateTrack, h.updateTrack)
	d.Handle(EventUpdateLocation, h.updateLocation)
	d.Handle(EventUpdateLocationGeo, h.updateLocationGeo)
	d.Handle(EventHeartbeat, h.heartbeat)
	d.Handle(EventFindStart, h.findStart)
	d.Handle(EventFindUpdateLocation, h.findUpdateLocation)
	d.Handle(EventFindEnd, h.findEnd)
}

func (h *Handlers) goLive(ctx context.Context, msg *Message) error {
	entry, err := h.presence.GoLive(ctx, msg.UserID)
	if err != nil {
		return err
	}

	h.announcer.Joined(ctx, msg.UserID)

	result, err := h.proximity.LiveUsers(ctx, msg.UserID)
	if err != nil {
		return fmt.Errorf("failed to list nearby users: %w", err)
	}

	h.broadcaster.EmitToConnection(msg.UserID, msg.ConnID, EventNearbyUsers, NearbyUsersEvent{
		Users:     result.Users,
		RadiusKm:  result.RadiusKm,
		Timestamp: entry.LastActive.UnixMilli(),
	})

	return nil
}

func (h *Handlers) goOffline(ctx context.Context, msg *Message) error {
	neighbors := h.announcer.Neighbors(ctx, msg.UserID)

	if err := h.presence.GoOffline(ctx, msg.UserID); err != nil {
		return err
	}

	h.announcer.Left(ctx, msg.UserID, neighbors)

	return nil
}

func (h *Handlers) updateTrack(ctx context.Context, msg *Message) error {
	// A null payload clears the track
	track, err := decodePayload[*types.TrackSummary](msg)
	if err != nil {
		return err
	}

	if err := h.presence.UpdateTrack(ctx, msg.UserID, *track); err != nil {
		return err
	}

	entry, err := h.presence.Status(ctx, msg.UserID)
	if err != nil {
		return err
	}

	if !entry.ShareTrack {
		return nil
	}

	event := TrackUpdateEvent{UserID: msg.UserID, Track: entry.VisibleTrack()}
	if _, err := h.broadcaster.BroadcastToNeighbors(ctx, msg.UserID, EventTrackUpdate, event); err != nil {
		return err
	}

	return nil
}

func (h *Handlers) updateLocation(ctx context.Context, msg *Message) error {
	payload, err := decodePayload[GeohashPayload](msg)
	if err != nil {
		return err
	}

	if _, err := h.location.UpdateGeohash(ctx, msg.UserID, payload.Geohash, payload.PrecisionLevel); err != nil {
		return err
	}

	result, err := h.proximity.Nearby(ctx, msg.UserID, proximity.Query{})
	if err != nil {
		return err
	}

	h.broadcaster.EmitToConnection(msg.UserID, msg.ConnID, EventNearbyUsers, NearbyUsersEvent{
		Users:     result.Users,
		RadiusKm:  result.RadiusKm,
		Timestamp: time.Now().UnixMilli(),
	})

	return nil
}

func (h *Handlers) updateLocationGeo(ctx context.Context, msg *Message) error {
	payload, err := decodePayload[CoordinatesPayload](msg)
	if err != nil {
		return err
	}

	if payload.Latitude == nil || payload.Longitude == nil {
		return apperr.BadRequest("latitude and longitude are required")
	}

	point := geo.Point{Latitude: *payload.Latitude, Longitude: *payload.Longitude}
	if _, err := h.location.UpdateCoordinates(ctx, msg.UserID, point, payload.PrecisionLevel); err != nil {
		return err
	}

	result, err := h.proximity.Nearby(ctx, msg.UserID, proximity.Query{Center: &point, RadiusKm: payload.RadiusKm})
	if err != nil {
		return err
	}

	h.broadcaster.EmitToConnection(msg.UserID, msg.ConnID, EventNearbyUsersGeo, NearbyUsersEvent{
		Users:     result.Users,
		RadiusKm:  result.RadiusKm,
		Timestamp: time.Now().UnixMilli(),
	})

	return nil
}

func (h *Handlers) heartbeat(ctx context.Context, msg *Message) error {
	return h.presence.Heartbeat(ctx, msg.UserID)
}

func (h *Handlers) findStart(ctx context.Context, msg *Message) error {
	payload, err := decodePayload[FindStartPayload](msg)
	if err != nil {
		return err
	}

	_, err = h.find.Start(ctx, msg.UserID, payload.TargetID)

	return err
}

func (h *Handlers) findUpdateLocation(ctx context.Context, msg *Message) error {
	payload, err := decodePayload[FindLocationPayload](msg)
	if err != nil {
		return err
	}

	id, err := parseSessionID(payload.SessionID)
	if err != nil {
		return err
	}

	switch {
	case payload.Latitude != nil && payload.Longitude != nil:
		point := geo.Point{Latitude: *payload.Latitude, Longitude: *payload.Longitude}
		if _, err := h.location.UpdateCoordinates(ctx, msg.UserID, point, 0); err != nil {
			return err
		}
	case payload.Geohash != "":
		if _, err := h.location.UpdateGeohash(ctx, msg.UserID, payload.Geohash, len(payload.Geohash)); err != nil {
			return err
		}
	}

	update, err := h.find.UpdateBucket(ctx, id, msg.UserID)
	if err != nil {
		return err
	}

	// Changes reach both participants through the session events
	if !update.Changed {
		h.broadcaster.EmitToConnection(msg.UserID, msg.ConnID, EventFindBucketUpdate, BucketUpdateEvent{
			SessionID: update.Session.ID,
			Bucket:    update.Session.CurrentBucket,
		})
	}

	return nil
}

func (h *Handlers) findEnd(ctx context.Context, msg *Message) error {
	payload, err := decodePayload[FindEndPayload](msg)
	if err != nil {
		return err
	}

	id, err := parseSessionID(payload.SessionID)
	if err != nil {
		return err
	}

	status := types.FindStatusCancelled
	if payload.Completed {
		status = types.FindStatusCompleted
	}

	_, err = h.find.End(ctx, id, msg.UserID, status)

	return err
}

func parseSessionID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.BadRequest("invalid session id %q", raw)
	}

	return id, nil
}

// ProfileProjector returns the anonymized projection of a profile.
type ProfileProjector interface {
	PublicProfile(ctx context.Context, userID string) (*types.PublicProfile, error)
}

// publicProfile falls back to the anonymous projection when the profile cannot be read.
func publicProfile(
	ctx context.Context, profiles ProfileProjector, logger *zap.Logger, userID string,
) types.PublicProfile {
	profile, err := profiles.PublicProfile(ctx, userID)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			logger.Warn("Failed to read profile", zap.String("userID", userID), zap.Error(err))
		}
		return types.PublicProfile{UserID: userID, DisplayName: types.AnonymousDisplayName}
	}

	return *profile
}
