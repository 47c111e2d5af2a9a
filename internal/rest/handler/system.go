package handler

import (
	"context"
	"net/http"

	"github.com/robalyx/resonance/internal/realtime"
	restTypes "github.com/robalyx/resonance/internal/rest/types"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatsSource reports realtime connection counts.
type StatsSource interface {
	Stats() realtime.Stats
}

// SystemHandler serves health and realtime statistics.
type SystemHandler struct {
	fastStore Pinger
	database  Pinger
	stats     StatsSource
	logger    *zap.Logger
}

// NewSystemHandler creates a new system handler.
func NewSystemHandler(fastStore, database Pinger, stats StatsSource, logger *zap.Logger) *SystemHandler {
	return &SystemHandler{
		fastStore: fastStore,
		database:  database,
		stats:     stats,
		logger:    logger.Named("rest_system"),
	}
}

// Health pings the fast store and the database. A failing fast store only
// degrades the service; a failing database makes it unavailable.
func (h *SystemHandler) Health(w http.ResponseWriter, req bunrouter.Request) error {
	ctx := req.Context()
	response := restTypes.HealthResponse{Status: "ok", FastStore: "ok", Database: "ok"}
	status := http.StatusOK

	if err := h.fastStore.Ping(ctx); err != nil {
		h.logger.Warn("Fast store health check failed", zap.Error(err))
		response.FastStore = "unavailable"
		response.Status = "degraded"
	}

	if h.database != nil {
		if err := h.database.Ping(ctx); err != nil {
			h.logger.Warn("Database health check failed", zap.Error(err))
			response.Database = "unavailable"
			response.Status = "unavailable"
			status = http.StatusServiceUnavailable
		}
	}

	return writeJSON(w, status, response)
}

// RealtimeStats reports the connections held by this instance.
func (h *SystemHandler) RealtimeStats(w http.ResponseWriter, _ bunrouter.Request) error {
	stats := h.stats.Stats()

	return bunrouter.JSON(w, restTypes.RealtimeStatsResponse{
		ConnectedUsers: stats.ConnectedUsers,
		Connections:    stats.Connections,
	})
}
