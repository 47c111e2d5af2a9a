package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/robalyx/resonance/internal/apperr"
	"github.com/robalyx/resonance/internal/database/types"
	"github.com/robalyx/resonance/internal/geo"
	"github.com/robalyx/resonance/internal/geoindex"
	"github.com/robalyx/resonance/internal/proximity"
	restTypes "github.com/robalyx/resonance/internal/rest/types"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

// LocationService stores and removes reported locations.
type LocationService interface {
	UpdateGeohash(ctx context.Context, userID, hash string, precision int) (*types.LocationSnapshot, error)
	UpdateCoordinates(
		ctx context.Context, userID string, point geo.Point, precision int,
	) (*types.LocationSnapshot, error)
	Remove(ctx context.Context, userID string) error
	Snapshot(ctx context.Context, userID string) (*types.LocationSnapshot, error)
	Position(ctx context.Context, userID string) (*geoindex.Position, error)
}

// NearbyFinder answers nearby queries.
type NearbyFinder interface {
	Nearby(ctx context.Context, requesterID string, query proximity.Query) (*proximity.Result, error)
}

// LocationHandler handles the geohash and coordinate location endpoints.
type LocationHandler struct {
	location LocationService
	nearby   NearbyFinder
	logger   *zap.Logger
}

// NewLocationHandler creates a new location handler.
func NewLocationHandler(location LocationService, nearby NearbyFinder, logger *zap.Logger) *LocationHandler {
	return &LocationHandler{
		location: location,
		nearby:   nearby,
		logger:   logger.Named("rest_location"),
	}
}

// UpdateGeohash stores the caller's truncated geohash.
func (h *LocationHandler) UpdateGeohash(w http.ResponseWriter, req bunrouter.Request) error {
	body, err := decodeBody[restTypes.LocationUpdateRequest](req)
	if err != nil {
		return err
	}

	snapshot, err := h.location.UpdateGeohash(req.Context(), userID(req), body.Geohash, body.PrecisionLevel)
	if err != nil {
		return err
	}

	return bunrouter.JSON(w, snapshot)
}

// Remove deletes the caller's location.
func (h *LocationHandler) Remove(w http.ResponseWriter, req bunrouter.Request) error {
	if err := h.location.Remove(req.Context(), userID(req)); err != nil {
		return err
	}

	return bunrouter.JSON(w, restTypes.OKResponse{Success: true})
}

// Nearby lists live users near the caller's own location.
//
// Query parameters: radiusKm and limit, both optional.
func (h *LocationHandler) Nearby(w http.ResponseWriter, req bunrouter.Request) error {
	radius, err := queryFloat(req, "radiusKm")
	if err != nil {
		return err
	}

	limit, err := queryInt(req, "limit")
	if err != nil {
		return err
	}

	query := proximity.Query{Limit: limit}
	if radius != nil {
		query.RadiusKm = *radius
	}

	result, err := h.nearby.Nearby(req.Context(), userID(req), query)
	if err != nil {
		return err
	}

	return bunrouter.JSON(w, restTypes.NewNearbyResponse(result, time.Now()))
}

// Me returns the caller's stored location snapshot.
func (h *LocationHandler) Me(w http.ResponseWriter, req bunrouter.Request) error {
	snapshot, err := h.location.Snapshot(req.Context(), userID(req))
	if err != nil {
		return err
	}

	return bunrouter.JSON(w, snapshot)
}

// UpdateCoordinates stores the caller's precise location.
func (h *LocationHandler) UpdateCoordinates(w http.ResponseWriter, req bunrouter.Request) error {
	body, err := decodeBody[restTypes.CoordinatesRequest](req)
	if err != nil {
		return err
	}

	if body.Latitude == nil || body.Longitude == nil {
		return apperr.BadRequest("latitude and longitude are required")
	}

	point := geo.Point{Latitude: *body.Latitude, Longitude: *body.Longitude}

	snapshot, err := h.location.UpdateCoordinates(req.Context(), userID(req), point, body.PrecisionLevel)
	if err != nil {
		return err
	}

	return bunrouter.JSON(w, snapshot)
}

// NearbyGeo lists live users around explicit coordinates, with bearings.
func (h *LocationHandler) NearbyGeo(w http.ResponseWriter, req bunrouter.Request) error {
	lat, err := queryFloat(req, "latitude")
	if err != nil {
		return err
	}

	lng, err := queryFloat(req, "longitude")
	if err != nil {
		return err
	}

	if lat == nil || lng == nil {
		return apperr.BadRequest("latitude and longitude are required")
	}

	radius, err := queryFloat(req, "radiusKm")
	if err != nil {
		return err
	}

	limit, err := queryInt(req, "limit")
	if err != nil {
		return err
	}

	query := proximity.Query{
		Center: &geo.Point{Latitude: *lat, Longitude: *lng},
		Limit:  limit,
	}
	if radius != nil {
		query.RadiusKm = *radius
	}

	result, err := h.nearby.Nearby(req.Context(), userID(req), query)
	if err != nil {
		return err
	}

	return bunrouter.JSON(w, restTypes.NewNearbyResponse(result, time.Now()))
}

// GeoMe returns the caller's current indexed position.
func (h *LocationHandler) GeoMe(w http.ResponseWriter, req bunrouter.Request) error {
	position, err := h.location.Position(req.Context(), userID(req))
	if err != nil {
		return err
	}

	return bunrouter.JSON(w, restTypes.GeoPositionResponse{
		Latitude:  position.Point.Latitude,
		Longitude: position.Point.Longitude,
		Geohash:   position.Geohash,
		Precise:   position.Precise,
		UpdatedAt: position.UpdatedAt,
	})
}
