package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/robalyx/resonance/internal/apperr"
	"github.com/robalyx/resonance/internal/database/types"
	"github.com/robalyx/resonance/internal/find"
	restTypes "github.com/robalyx/resonance/internal/rest/types"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

// FindService drives Find sessions.
type FindService interface {
	Start(ctx context.Context, seekerID, targetID string) (*types.FindSession, error)
	Active(ctx context.Context, userID string) (*types.FindSession, error)
	Get(ctx context.Context, id uuid.UUID, actingUserID string) (*types.FindSession, error)
	UpdateBucket(ctx context.Context, id uuid.UUID, actingUserID string) (*find.BucketUpdate, error)
	End(ctx context.Context, id uuid.UUID, actingUserID string, status types.FindStatus) (*types.FindSession, error)
}

// FindHandler handles Find session endpoints.
type FindHandler struct {
	find   FindService
	logger *zap.Logger
}

// NewFindHandler creates a new find handler.
func NewFindHandler(find FindService, logger *zap.Logger) *FindHandler {
	return &FindHandler{
		find:   find,
		logger: logger.Named("rest_find"),
	}
}

// Start opens a session from the caller to the target.
func (h *FindHandler) Start(w http.ResponseWriter, req bunrouter.Request) error {
	body, err := decodeBody[restTypes.FindStartRequest](req)
	if err != nil {
		return err
	}

	session, err := h.find.Start(req.Context(), userID(req), body.TargetID)
	if err != nil {
		return err
	}

	return writeJSON(w, http.StatusCreated, session)
}

// Active returns the caller's active session, or a null session.
func (h *FindHandler) Active(w http.ResponseWriter, req bunrouter.Request) error {
	session, err := h.find.Active(req.Context(), userID(req))
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return err
	}

	return bunrouter.JSON(w, restTypes.ActiveFindResponse{Session: session})
}

// Get returns a session the caller takes part in.
func (h *FindHandler) Get(w http.ResponseWriter, req bunrouter.Request) error {
	id, err := sessionID(req)
	if err != nil {
		return err
	}

	session, err := h.find.Get(req.Context(), id, userID(req))
	if err != nil {
		return err
	}

	return bunrouter.JSON(w, session)
}

// Update recomputes the session bucket from the latest positions.
func (h *FindHandler) Update(w http.ResponseWriter, req bunrouter.Request) error {
	id, err := sessionID(req)
	if err != nil {
		return err
	}

	update, err := h.find.UpdateBucket(req.Context(), id, userID(req))
	if err != nil {
		return err
	}

	return bunrouter.JSON(w, restTypes.BucketUpdateResponse{
		Session:  update.Session,
		Previous: update.Previous,
		Changed:  update.Changed,
	})
}

// Complete ends the session as found.
func (h *FindHandler) Complete(w http.ResponseWriter, req bunrouter.Request) error {
	return h.end(w, req, types.FindStatusCompleted)
}

// Cancel ends the session without a find.
func (h *FindHandler) Cancel(w http.ResponseWriter, req bunrouter.Request) error {
	return h.end(w, req, types.FindStatusCancelled)
}

func (h *FindHandler) end(w http.ResponseWriter, req bunrouter.Request, status types.FindStatus) error {
	id, err := sessionID(req)
	if err != nil {
		return err
	}

	session, err := h.find.End(req.Context(), id, userID(req), status)
	if err != nil {
		return err
	}

	return bunrouter.JSON(w, session)
}

func sessionID(req bunrouter.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(req.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.BadRequest("invalid session id %q", req.Param("id"))
	}

	return id, nil
}
