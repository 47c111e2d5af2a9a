package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/robalyx/resonance/internal/database/types"
	"github.com/robalyx/resonance/internal/presence"
	"github.com/robalyx/resonance/internal/proximity"
	restTypes "github.com/robalyx/resonance/internal/rest/types"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

// PresenceService is the presence surface behind the REST routes.
type PresenceService interface {
	GoLive(ctx context.Context, userID string) (*presence.Entry, error)
	GoOffline(ctx context.Context, userID string) error
	Heartbeat(ctx context.Context, userID string) error
	Settings(ctx context.Context, userID string) (*types.LiveStatus, error)
	UpdateSettings(ctx context.Context, userID string, update *types.SettingsUpdate) (*types.LiveStatus, error)
}

// LiveUsersLister lists live users near the caller.
type LiveUsersLister interface {
	LiveUsers(ctx context.Context, requesterID string) (*proximity.Result, error)
}

// Announcer tells neighbors about presence changes.
type Announcer interface {
	Joined(ctx context.Context, userID string) int
	Neighbors(ctx context.Context, userID string) []string
	Left(ctx context.Context, userID string, neighbors []string) int
}

// PresenceHandler handles presence endpoints.
type PresenceHandler struct {
	presence  PresenceService
	live      LiveUsersLister
	announcer Announcer
	logger    *zap.Logger
}

// NewPresenceHandler creates a new presence handler.
func NewPresenceHandler(
	presence PresenceService, live LiveUsersLister, announcer Announcer, logger *zap.Logger,
) *PresenceHandler {
	return &PresenceHandler{
		presence:  presence,
		live:      live,
		announcer: announcer,
		logger:    logger.Named("rest_presence"),
	}
}

// GoLive marks the caller live and announces them to nearby users.
func (h *PresenceHandler) GoLive(w http.ResponseWriter, req bunrouter.Request) error {
	ctx := req.Context()
	userID := userID(req)

	entry, err := h.presence.GoLive(ctx, userID)
	if err != nil {
		return err
	}

	h.announcer.Joined(ctx, userID)

	return bunrouter.JSON(w, entry)
}

// GoOffline marks the caller offline and tells the users that could see them.
func (h *PresenceHandler) GoOffline(w http.ResponseWriter, req bunrouter.Request) error {
	ctx := req.Context()
	userID := userID(req)

	neighbors := h.announcer.Neighbors(ctx, userID)

	if err := h.presence.GoOffline(ctx, userID); err != nil {
		return err
	}

	h.announcer.Left(ctx, userID, neighbors)

	return bunrouter.JSON(w, restTypes.OKResponse{Success: true})
}

// Heartbeat refreshes the caller's liveness.
func (h *PresenceHandler) Heartbeat(w http.ResponseWriter, req bunrouter.Request) error {
	if err := h.presence.Heartbeat(req.Context(), userID(req)); err != nil {
		return err
	}

	return bunrouter.JSON(w, restTypes.OKResponse{Success: true})
}

// GetSettings returns the caller's live settings.
func (h *PresenceHandler) GetSettings(w http.ResponseWriter, req bunrouter.Request) error {
	status, err := h.presence.Settings(req.Context(), userID(req))
	if err != nil {
		return err
	}

	return bunrouter.JSON(w, status)
}

// UpdateSettings applies a partial settings update.
func (h *PresenceHandler) UpdateSettings(w http.ResponseWriter, req bunrouter.Request) error {
	update, err := decodeBody[types.SettingsUpdate](req)
	if err != nil {
		return err
	}

	status, err := h.presence.UpdateSettings(req.Context(), userID(req), update)
	if err != nil {
		return err
	}

	return bunrouter.JSON(w, status)
}

// LiveUsers lists live users within the caller's radius.
func (h *PresenceHandler) LiveUsers(w http.ResponseWriter, req bunrouter.Request) error {
	result, err := h.live.LiveUsers(req.Context(), userID(req))
	if err != nil {
		return err
	}

	return bunrouter.JSON(w, restTypes.NewNearbyResponse(result, time.Now()))
}
