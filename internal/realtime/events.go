package realtime

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/robalyx/resonance/internal/database/types"
	"github.com/robalyx/resonance/internal/proximity"
)

// Client to server events.
const (
	EventGoLive             = "user:go_live"
	EventGoOffline          = "user:go_offline"
	EventUpdateTrack        = "user:update_track"
	EventUpdateLocation     = "user:update_location"
	EventUpdateLocationGeo  = "user:update_location_geo"
	EventHeartbeat          = "user:heartbeat"
	EventFindStart          = "find:start"
	EventFindUpdateLocation = "find:update_location"
	EventFindEnd            = "find:end"
)

// Server to client events.
const (
	EventConnected           = "connected"
	EventError               = "error"
	EventUserJoined          = "live:user_joined"
	EventUserLeft            = "live:user_left"
	EventTrackUpdate         = "live:track_update"
	EventNearbyUsers         = "live:nearby_users"
	EventNearbyUsersGeo      = "live:nearby_users_geo"
	EventFindRequestReceived = "find:request_received"
	EventFindBucketUpdate    = "find:bucket_update"
	EventFindSessionEnded    = "find:session_ended"
)

// Frame is the envelope of every message on the socket.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// inboundFrame keeps the payload raw until a handler decodes it.
type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ConnectedEvent is sent once a connection is registered.
type ConnectedEvent struct {
	UserID       string `json:"userId"`
	ConnectionID string `json:"connectionId"`
}

// ErrorEvent reports a failed inbound event to the connection that sent it.
type ErrorEvent struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

// PresenceEvent announces a user joining or leaving.
type PresenceEvent struct {
	types.PublicProfile

	IsLive bool `json:"isLive"`
}

// TrackUpdateEvent carries the track a user shares. Track is nil when playback stopped.
type TrackUpdateEvent struct {
	UserID string              `json:"userId"`
	Track  *types.TrackSummary `json:"track"`
}

// NearbyUsersEvent answers a location update.
type NearbyUsersEvent struct {
	Users     []proximity.NearbyUser `json:"users"`
	RadiusKm  float64                `json:"radiusKm"`
	Timestamp int64                  `json:"timestamp"`
}

// FindRequestEvent tells a target that someone started looking for them.
type FindRequestEvent struct {
	SessionID uuid.UUID           `json:"sessionId"`
	SeekerID  string              `json:"seekerId"`
	Seeker    types.PublicProfile `json:"seeker"`
}

// BucketUpdateEvent carries the current bucket of a session.
type BucketUpdateEvent struct {
	SessionID uuid.UUID    `json:"sessionId"`
	Bucket    types.Bucket `json:"bucket"`
}

// SessionEndedEvent tells both participants that a session is over.
type SessionEndedEvent struct {
	SessionID uuid.UUID        `json:"sessionId"`
	Status    types.FindStatus `json:"status"`
	EndedBy   string           `json:"endedBy,omitempty"`
}

// GeohashPayload is the body of user:update_location.
type GeohashPayload struct {
	Geohash        string `json:"geohash"`
	PrecisionLevel int    `json:"precisionLevel,omitempty"`
}

// CoordinatesPayload is the body of user:update_location_geo.
type CoordinatesPayload struct {
	Latitude       *float64 `json:"latitude"`
	Longitude      *float64 `json:"longitude"`
	RadiusKm       float64  `json:"radiusKm,omitempty"`
	PrecisionLevel int      `json:"precisionLevel,omitempty"`
}

// FindStartPayload is the body of find:start.
type FindStartPayload struct {
	TargetID string `json:"targetId"`
}

// FindLocationPayload is the body of find:update_location. The location
// fields are optional; without them only the bucket is recomputed.
type FindLocationPayload struct {
	SessionID string   `json:"sessionId"`
	Geohash   string   `json:"geohash,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// FindEndPayload is the body of find:end.
type FindEndPayload struct {
	SessionID string `json:"sessionId"`
	Completed bool   `json:"completed"`
}
