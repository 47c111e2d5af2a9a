package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/robalyx/resonance/internal/apperr"
	"github.com/robalyx/resonance/internal/auth"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	sendBufferSize = 64
	pingInterval   = 15 * time.Second
	pongWait       = 45 * time.Second
	writeWait      = 10 * time.Second
)

// Verifier resolves a bearer credential to a user id.
type Verifier interface {
	Verify(token string) (string, error)
}

// GatewayConfig holds the transport limits.
type GatewayConfig struct {
	AllowedOrigins  []string // Empty or "*" accepts any origin
	EventsPerSecond float64
	EventBurst      int
	MaxMessageBytes int64
}

// Gateway is the websocket transport. Handshakes are authenticated before the
// upgrade, so a bad credential never yields an open socket.
type Gateway struct {
	ctx        context.Context
	registry   *Registry
	dispatcher *Dispatcher
	verifier   Verifier
	config     GatewayConfig
	metrics    *Metrics
	logger     *zap.Logger
	upgrader   websocket.Upgrader
	wg         sync.WaitGroup
}

// NewGateway creates the websocket gateway. Inbound events run on ctx rather
// than on the connection, so a disconnect does not cancel work in flight.
func NewGateway(
	ctx context.Context,
	registry *Registry,
	dispatcher *Dispatcher,
	verifier Verifier,
	config GatewayConfig,
	metrics *Metrics,
	logger *zap.Logger,
) *Gateway {
	g := &Gateway{
		ctx:        ctx,
		registry:   registry,
		dispatcher: dispatcher,
		verifier:   verifier,
		config:     config,
		metrics:    metrics,
		logger:     logger.Named("gateway"),
	}

	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     g.checkOrigin,
	}

	return g
}

// ServeHTTP authenticates and upgrades the request, then serves the connection until it closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := g.verifier.Verify(auth.BearerToken(r))
	if err != nil {
		g.metrics.rejected()
		g.logger.Debug("Rejected realtime handshake", zap.String("remote", r.RemoteAddr), zap.Error(err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("Failed to upgrade connection", zap.String("userID", userID), zap.Error(err))
		return
	}

	conn := &connection{
		id:      uuid.NewString(),
		userID:  userID,
		ws:      ws,
		send:    make(chan []byte, sendBufferSize),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(g.config.EventsPerSecond), g.config.EventBurst),
	}

	g.registry.Register(conn)
	g.metrics.setStats(g.registry.Stats())

	g.logger.Debug("Connection opened", zap.String("userID", userID), zap.String("connID", conn.id))

	go g.writeLoop(conn)

	if frame, err := encodeFrame(EventConnected, ConnectedEvent{UserID: userID, ConnectionID: conn.id}); err == nil {
		conn.Send(frame)
	}

	g.readLoop(conn)

	g.registry.Unregister(conn)
	g.metrics.setStats(g.registry.Stats())
	conn.close()

	g.logger.Debug("Connection closed", zap.String("userID", userID), zap.String("connID", conn.id))
}

// Wait blocks until every dispatched event handler has returned.
func (g *Gateway) Wait() {
	g.wg.Wait()
}

func (g *Gateway) readLoop(conn *connection) {
	if g.config.MaxMessageBytes > 0 {
		conn.ws.SetReadLimit(g.config.MaxMessageBytes)
	}

	_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Debug("Connection read failed", zap.String("connID", conn.id), zap.Error(err))
			}
			return
		}

		// Any frame proves the peer is alive
		_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))

		if messageType != websocket.TextMessage {
			continue
		}

		var frame inboundFrame
		if err := sonic.Unmarshal(data, &frame); err != nil || frame.Event == "" {
			g.sendError(conn, frame.Event, "invalid frame")
			continue
		}

		if !conn.limiter.Allow() {
			g.sendError(conn, frame.Event, "rate limit exceeded")
			continue
		}

		msg := &Message{
			ConnID:  conn.id,
			UserID:  conn.userID,
			Event:   frame.Event,
			Payload: frame.Data,
		}

		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			g.handle(conn, msg)
		}()
	}
}

func (g *Gateway) handle(conn *connection, msg *Message) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("Event handler panicked",
				zap.String("event", msg.Event),
				zap.String("userID", msg.UserID),
				zap.Any("panic", r))
			g.sendError(conn, msg.Event, "internal error")
		}
	}()

	if err := g.dispatcher.Dispatch(g.ctx, msg); err != nil {
		if !isClientError(err) {
			g.logger.Error("Failed to handle event",
				zap.String("event", msg.Event),
				zap.String("userID", msg.UserID),
				zap.Error(err))
		}
		g.sendError(conn, msg.Event, apperr.Message(err))
	}
}

func (g *Gateway) writeLoop(conn *connection) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-conn.done:
			return
		case data := <-conn.send:
			_ = conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				conn.ws.Close()
				return
			}
		case <-ticker.C:
			if err := conn.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				conn.ws.Close()
				return
			}
		}
	}
}

func (g *Gateway) sendError(conn *connection, event, message string) {
	frame, err := encodeFrame(EventError, ErrorEvent{Event: event, Message: message})
	if err != nil {
		return
	}
	conn.Send(frame)
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origins := g.config.AllowedOrigins
	if len(origins) == 0 || slices.Contains(origins, "*") {
		return true
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	return slices.ContainsFunc(origins, func(allowed string) bool {
		return strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, parsed.Host)
	})
}

func isClientError(err error) bool {
	return errors.Is(err, apperr.ErrBadRequest) ||
		errors.Is(err, apperr.ErrNotFound) ||
		errors.Is(err, apperr.ErrForbidden)
}

// connection is a registered websocket client.
type connection struct {
	id      string
	userID  string
	ws      *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	limiter *rate.Limiter
}

func (c *connection) ID() string     { return c.id }
func (c *connection) UserID() string { return c.userID }

// Send queues data for the write loop. A full buffer drops the frame.
func (c *connection) Send(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *connection) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}
