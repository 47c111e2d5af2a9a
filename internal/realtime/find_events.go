package realtime

import (
	"context"

	"github.com/robalyx/resonance/internal/database/types"
	"go.uber.org/zap"
)

// Notifier delivers notifications to users who are not connected.
type Notifier interface {
	Deliver(ctx context.Context, notification *types.Notification) error
}

// FindEvents pushes Find session transitions to the participants.
type FindEvents struct {
	broadcaster *Broadcaster
	profiles    ProfileProjector
	notifier    Notifier
	logger      *zap.Logger
}

// NewFindEvents creates the session event publisher. notifier may be nil.
func NewFindEvents(
	broadcaster *Broadcaster, profiles ProfileProjector, notifier Notifier, logger *zap.Logger,
) *FindEvents {
	return &FindEvents{
		broadcaster: broadcaster,
		profiles:    profiles,
		notifier:    notifier,
		logger:      logger.Named("find_events"),
	}
}

// SessionStarted tells the target about the request and the seeker about the initial bucket.
// A target without an open connection is notified instead.
func (e *FindEvents) SessionStarted(ctx context.Context, session *types.FindSession) {
	seeker := publicProfile(ctx, e.profiles, e.logger, session.SeekerID)

	delivered := e.broadcaster.EmitToUser(session.TargetID, EventFindRequestReceived, FindRequestEvent{
		SessionID: session.ID,
		SeekerID:  session.SeekerID,
		Seeker:    seeker,
	})

	e.broadcaster.EmitToUser(session.SeekerID, EventFindBucketUpdate, BucketUpdateEvent{
		SessionID: session.ID,
		Bucket:    session.CurrentBucket,
	})

	if delivered > 0 || e.notifier == nil {
		return
	}

	notification := &types.Notification{
		UserID: session.TargetID,
		Kind:   types.NotificationFindRequest,
		Title:  "Someone is looking for you",
		Body:   seeker.DisplayName + " started a Find session with you",
		Payload: map[string]any{
			"sessionId": session.ID.String(),
			"seekerId":  session.SeekerID,
		},
	}
	if err := e.notifier.Deliver(ctx, notification); err != nil {
		e.logger.Error("Failed to deliver find request notification",
			zap.String("sessionID", session.ID.String()),
			zap.String("targetID", session.TargetID),
			zap.Error(err))
	}
}

// BucketChanged sends the new bucket to both participants.
func (e *FindEvents) BucketChanged(_ context.Context, session *types.FindSession, _ types.Bucket) {
	e.broadcaster.EmitToUsers([]string{session.SeekerID, session.TargetID}, EventFindBucketUpdate, BucketUpdateEvent{
		SessionID: session.ID,
		Bucket:    session.CurrentBucket,
	})
}

// SessionEnded tells both participants that the session is over.
func (e *FindEvents) SessionEnded(_ context.Context, session *types.FindSession, endedBy string) {
	e.broadcaster.EmitToUsers([]string{session.SeekerID, session.TargetID}, EventFindSessionEnded, SessionEndedEvent{
		SessionID: session.ID,
		Status:    session.Status,
		EndedBy:   endedBy,
	})
}
