package realtime

import (
	"context"

	"go.uber.org/zap"
)

// Announcer tells nearby live users when someone goes live or offline.
type Announcer struct {
	broadcaster *Broadcaster
	profiles    ProfileProjector
	logger      *zap.Logger
}

// NewAnnouncer creates an announcer.
func NewAnnouncer(broadcaster *Broadcaster, profiles ProfileProjector, logger *zap.Logger) *Announcer {
	return &Announcer{
		broadcaster: broadcaster,
		profiles:    profiles,
		logger:      logger.Named("realtime_announcer"),
	}
}

// Joined sends live:user_joined to the neighbors of userID.
func (a *Announcer) Joined(ctx context.Context, userID string) int {
	event := PresenceEvent{PublicProfile: publicProfile(ctx, a.profiles, a.logger, userID), IsLive: true}

	sent, err := a.broadcaster.BroadcastToNeighbors(ctx, userID, EventUserJoined, event)
	if err != nil {
		a.logger.Warn("Failed to announce user", zap.String("userID", userID), zap.Error(err))
	}

	return sent
}

// Neighbors resolves who should hear that userID left. It must be called
// before the user goes offline since that removes their location.
func (a *Announcer) Neighbors(ctx context.Context, userID string) []string {
	neighbors, err := a.broadcaster.Neighbors(ctx, userID)
	if err != nil {
		a.logger.Warn("Failed to resolve neighbors", zap.String("userID", userID), zap.Error(err))
	}

	return neighbors
}

// Left sends live:user_left to neighbors.
func (a *Announcer) Left(ctx context.Context, userID string, neighbors []string) int {
	event := PresenceEvent{PublicProfile: publicProfile(ctx, a.profiles, a.logger, userID)}
	return a.broadcaster.EmitToUsers(neighbors, EventUserLeft, event)
}
