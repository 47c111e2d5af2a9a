package realtime_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/robalyx/resonance/internal/apperr"
	"github.com/robalyx/resonance/internal/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type tokenVerifier map[string]string

func (v tokenVerifier) Verify(token string) (string, error) {
	userID, ok := v[token]
	if !ok {
		return "", errors.New("invalid token")
	}
	return userID, nil
}

type gatewayFixture struct {
	server   *httptest.Server
	registry *realtime.Registry
	metrics  *realtime.Metrics
}

func newGateway(t *testing.T, config realtime.GatewayConfig) *gatewayFixture {
	t.Helper()

	registry := realtime.NewRegistry()
	metrics := realtime.NewMetrics(prometheus.NewRegistry())
	broadcaster := realtime.NewBroadcaster(registry, nil, metrics, zap.NewNop())

	dispatcher := realtime.NewDispatcher(metrics, zap.NewNop())
	dispatcher.Handle("test:echo", func(_ context.Context, msg *realtime.Message) error {
		broadcaster.EmitToUser(msg.UserID, "test:echo", msg.Payload)
		return nil
	})
	dispatcher.Handle("test:fail", func(context.Context, *realtime.Message) error {
		return apperr.Forbidden("not allowed")
	})

	gateway := realtime.NewGateway(t.Context(), registry, dispatcher, tokenVerifier{
		"alice-token": "alice",
		"bob-token":   "bob",
	}, config, metrics, zap.NewNop())

	server := httptest.NewServer(gateway)
	t.Cleanup(server.Close)

	return &gatewayFixture{server: server, registry: registry, metrics: metrics}
}

func (f *gatewayFixture) dial(t *testing.T, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}

	return conn, resp, err
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var f frame
	require.NoError(t, sonic.Unmarshal(data, &f))

	return f
}

func writeFrame(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}

var defaultGatewayConfig = realtime.GatewayConfig{ //nolint:gochecknoglobals // -
	EventsPerSecond: 100,
	EventBurst:      100,
	MaxMessageBytes: 64 << 10,
}

func TestGatewayRejectsInvalidCredentials(t *testing.T) {
	t.Parallel()

	f := newGateway(t, defaultGatewayConfig)

	for _, token := range []string{"", "forged"} {
		_, resp, err := f.dial(t, token)
		require.ErrorIs(t, err, websocket.ErrBadHandshake)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp.Body.Close()
	}

	assert.Equal(t, realtime.Stats{}, f.registry.Stats())
	assert.InDelta(t, 2, testutil.ToFloat64(f.metrics.Rejected), 0)
}

func TestGatewayRegistersAndDispatches(t *testing.T) {
	t.Parallel()

	f := newGateway(t, defaultGatewayConfig)

	conn, _, err := f.dial(t, "alice-token")
	require.NoError(t, err)

	connected := readFrame(t, conn)
	assert.Equal(t, realtime.EventConnected, connected.Event)
	assert.Equal(t, "alice", connected.Data["userId"])
	assert.NotEmpty(t, connected.Data["connectionId"])

	writeFrame(t, conn, `{"event":"test:echo","data":{"hello":"world"}}`)
	echo := readFrame(t, conn)
	assert.Equal(t, "test:echo", echo.Event)
	assert.Equal(t, "world", echo.Data["hello"])

	writeFrame(t, conn, `{"event":"test:fail"}`)
	failure := readFrame(t, conn)
	assert.Equal(t, realtime.EventError, failure.Event)
	assert.Equal(t, "test:fail", failure.Data["event"])
	assert.Contains(t, failure.Data["message"], "not allowed")

	writeFrame(t, conn, `{"event":"test:missing"}`)
	unknown := readFrame(t, conn)
	assert.Equal(t, realtime.EventError, unknown.Event)

	writeFrame(t, conn, `not json`)
	invalid := readFrame(t, conn)
	assert.Equal(t, realtime.EventError, invalid.Event)
	assert.Equal(t, "invalid frame", invalid.Data["message"])
}

func TestGatewayKeepsOtherConnectionsOnDisconnect(t *testing.T) {
	t.Parallel()

	f := newGateway(t, defaultGatewayConfig)

	phone, _, err := f.dial(t, "alice-token")
	require.NoError(t, err)
	readFrame(t, phone)

	laptop, _, err := f.dial(t, "alice-token")
	require.NoError(t, err)
	readFrame(t, laptop)

	assert.Eventually(t, func() bool {
		return f.registry.Stats() == realtime.Stats{ConnectedUsers: 1, Connections: 2}
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, phone.Close())

	assert.Eventually(t, func() bool {
		return f.registry.Stats() == realtime.Stats{ConnectedUsers: 1, Connections: 1}
	}, 5*time.Second, 10*time.Millisecond)

	// The remaining connection still receives events
	writeFrame(t, laptop, `{"event":"test:echo","data":{"n":1}}`)
	assert.Equal(t, "test:echo", readFrame(t, laptop).Event)

	require.NoError(t, laptop.Close())

	assert.Eventually(t, func() bool {
		return f.registry.Stats() == realtime.Stats{}
	}, 5*time.Second, 10*time.Millisecond)
}

func TestGatewayRateLimitsInboundEvents(t *testing.T) {
	t.Parallel()

	f := newGateway(t, realtime.GatewayConfig{
		EventsPerSecond: 0.001,
		EventBurst:      1,
		MaxMessageBytes: 64 << 10,
	})

	conn, _, err := f.dial(t, "bob-token")
	require.NoError(t, err)
	readFrame(t, conn)

	writeFrame(t, conn, `{"event":"test:echo","data":{"n":1}}`)
	assert.Equal(t, "test:echo", readFrame(t, conn).Event)

	writeFrame(t, conn, `{"event":"test:echo","data":{"n":2}}`)
	limited := readFrame(t, conn)
	assert.Equal(t, realtime.EventError, limited.Event)
	assert.Equal(t, "rate limit exceeded", limited.Data["message"])
}
