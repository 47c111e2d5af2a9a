package realtime

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/bytedance/sonic"
	"github.com/robalyx/resonance/internal/apperr"
	"go.uber.org/zap"
)

// Message is one inbound event from a connection.
type Message struct {
	ConnID  string
	UserID  string
	Event   string
	Payload json.RawMessage
}

// HandlerFunc handles one inbound event.
type HandlerFunc func(ctx context.Context, msg *Message) error

// Dispatcher routes inbound messages to handlers by event name.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	metrics  *Metrics
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher without handlers.
func NewDispatcher(metrics *Metrics, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		metrics:  metrics,
		logger:   logger.Named("dispatcher"),
	}
}

// Handle registers fn for event, replacing any previous handler.
func (d *Dispatcher) Handle(event string, fn HandlerFunc) {
	d.handlers[event] = fn
}

// Events returns the registered event names in order.
func (d *Dispatcher) Events() []string {
	events := make([]string, 0, len(d.handlers))
	for event := range d.handlers {
		events = append(events, event)
	}
	sort.Strings(events)

	return events
}

// Dispatch runs the handler registered for msg.Event.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *Message) error {
	fn, ok := d.handlers[msg.Event]
	if !ok {
		d.metrics.received("unknown")
		return apperr.BadRequest("unknown event %q", msg.Event)
	}

	d.metrics.received(msg.Event)

	started := time.Now()
	err := fn(ctx, msg)
	d.metrics.handled(msg.Event, started, err)

	if err != nil {
		d.logger.Debug("Event handler failed",
			zap.String("event", msg.Event),
			zap.String("userID", msg.UserID),
			zap.Error(err))
	}

	return err
}

// decodePayload unmarshals the message payload. An empty payload yields the zero value.
func decodePayload[T any](msg *Message) (*T, error) {
	var payload T
	if len(msg.Payload) == 0 || string(msg.Payload) == "null" {
		return &payload, nil
	}

	if err := sonic.Unmarshal(msg.Payload, &payload); err != nil {
		return nil, apperr.BadRequest("invalid %s payload: %v", msg.Event, err)
	}

	return &payload, nil
}
