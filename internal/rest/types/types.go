package types

import (
	"time"

	"github.com/robalyx/resonance/internal/database/types"
	"github.com/robalyx/resonance/internal/proximity"
)

// LocationUpdateRequest reports a geohash location.
type LocationUpdateRequest struct {
	Geohash        string `json:"geohash"`
	PrecisionLevel int    `json:"precisionLevel"`
}

// CoordinatesRequest reports a precise location.
type CoordinatesRequest struct {
	Latitude       *float64 `json:"latitude"`
	Longitude      *float64 `json:"longitude"`
	PrecisionLevel int      `json:"precisionLevel,omitempty"`
}

// FindStartRequest starts a Find session.
type FindStartRequest struct {
	TargetID string `json:"targetId"`
}

// OKResponse acknowledges a request without a body of its own.
type OKResponse struct {
	Success bool `json:"success"`
}

// NearbyResponse lists nearby live users.
type NearbyResponse struct {
	Users     []proximity.NearbyUser `json:"users"`
	RadiusKm  float64                `json:"radiusKm"`
	Precise   bool                   `json:"precise"`
	Timestamp int64                  `json:"timestamp"`
}

// GeoPositionResponse is the caller's stored precise position.
type GeoPositionResponse struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Geohash   string    `json:"geohash"`
	Precise   bool      `json:"precise"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ActiveFindResponse wraps the caller's active session, if any.
type ActiveFindResponse struct {
	Session *types.FindSession `json:"session"`
}

// BucketUpdateResponse is the result of a bucket recomputation.
type BucketUpdateResponse struct {
	Session  *types.FindSession `json:"session"`
	Previous types.Bucket       `json:"previousBucket"`
	Changed  bool               `json:"changed"`
}

// RealtimeStatsResponse reports connection counts of this instance.
type RealtimeStatsResponse struct {
	ConnectedUsers int `json:"connectedUsers"`
	Connections    int `json:"connections"`
}

// HealthResponse reports the reachability of the backing stores.
type HealthResponse struct {
	Status    string `json:"status"`
	FastStore string `json:"fastStore"`
	Database  string `json:"database"`
}

// NewNearbyResponse converts a proximity result.
func NewNearbyResponse(result *proximity.Result, now time.Time) NearbyResponse {
	users := result.Users
	if users == nil {
		users = []proximity.NearbyUser{}
	}

	return NearbyResponse{
		Users:     users,
		RadiusKm:  result.RadiusKm,
		Precise:   result.Precise,
		Timestamp: now.UnixMilli(),
	}
}
