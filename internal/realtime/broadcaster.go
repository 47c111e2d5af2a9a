// Package realtime owns live client connections: the registry of open
// sockets, outbound fan-out, inbound event dispatch and the websocket gateway.
package realtime

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// Neighbors resolves the live users near a user.
type Neighbors interface {
	NeighborIDs(ctx context.Context, originID string) ([]string, error)
}

// Broadcaster delivers events to registered connections. Delivery is
// best-effort and at-most-once: events for users without a connection are dropped.
type Broadcaster struct {
	registry  *Registry
	neighbors Neighbors
	metrics   *Metrics
	logger    *zap.Logger
}

// NewBroadcaster creates a broadcaster over registry.
func NewBroadcaster(
	registry *Registry, neighbors Neighbors, metrics *Metrics, logger *zap.Logger,
) *Broadcaster {
	return &Broadcaster{
		registry:  registry,
		neighbors: neighbors,
		metrics:   metrics,
		logger:    logger.Named("broadcaster"),
	}
}

// EmitToUser sends the event to every connection of userID and returns how
// many connections accepted it.
func (b *Broadcaster) EmitToUser(userID, event string, data any) int {
	frame, err := encodeFrame(event, data)
	if err != nil {
		b.logger.Error("Failed to encode event", zap.String("event", event), zap.Error(err))
		return 0
	}

	return b.deliver(userID, event, frame)
}

// EmitToUsers sends the event to every connection of each user.
func (b *Broadcaster) EmitToUsers(userIDs []string, event string, data any) int {
	if len(userIDs) == 0 {
		return 0
	}

	frame, err := encodeFrame(event, data)
	if err != nil {
		b.logger.Error("Failed to encode event", zap.String("event", event), zap.Error(err))
		return 0
	}

	delivered := 0
	for _, userID := range userIDs {
		delivered += b.deliver(userID, event, frame)
	}

	return delivered
}

// EmitToConnection sends the event to a single connection of userID.
func (b *Broadcaster) EmitToConnection(userID, connID, event string, data any) bool {
	conn, ok := b.registry.Connection(userID, connID)
	if !ok {
		b.metrics.dropped("disconnected")
		return false
	}

	frame, err := encodeFrame(event, data)
	if err != nil {
		b.logger.Error("Failed to encode event", zap.String("event", event), zap.Error(err))
		return false
	}

	if !conn.Send(frame) {
		b.metrics.dropped("backpressure")
		return false
	}

	b.metrics.emitted(event, 1)

	return true
}

// Neighbors returns the live users near originID.
func (b *Broadcaster) Neighbors(ctx context.Context, originID string) ([]string, error) {
	ids, err := b.neighbors.NeighborIDs(ctx, originID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve neighbors: %w", err)
	}

	return ids, nil
}

// BroadcastToNeighbors sends the event to the live users near originID.
func (b *Broadcaster) BroadcastToNeighbors(ctx context.Context, originID, event string, data any) (int, error) {
	ids, err := b.Neighbors(ctx, originID)
	if err != nil {
		return 0, err
	}

	return b.EmitToUsers(ids, event, data), nil
}

// Stats returns the registry counts.
func (b *Broadcaster) Stats() Stats {
	return b.registry.Stats()
}

func (b *Broadcaster) deliver(userID, event string, frame []byte) int {
	conns := b.registry.Connections(userID)
	if len(conns) == 0 {
		b.metrics.dropped("disconnected")
		return 0
	}

	delivered := 0
	for _, conn := range conns {
		if conn.Send(frame) {
			delivered++
			continue
		}

		b.metrics.dropped("backpressure")
		b.logger.Debug("Dropped frame for slow connection",
			zap.String("userID", userID),
			zap.String("connID", conn.ID()),
			zap.String("event", event))
	}

	b.metrics.emitted(event, delivered)

	return delivered
}

func encodeFrame(event string, data any) ([]byte, error) {
	return sonic.Marshal(Frame{Event: event, Data: data})
}
