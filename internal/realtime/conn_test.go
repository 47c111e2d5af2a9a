package realtime_test

import (
	"sync"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/require"
)

type frame struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

// fakeConn records every frame sent to it.
type fakeConn struct {
	id     string
	userID string
	full   bool

	mu     sync.Mutex
	frames [][]byte
}

func newConn(userID, id string) *fakeConn {
	return &fakeConn{id: id, userID: userID}
}

func (c *fakeConn) ID() string     { return c.id }
func (c *fakeConn) UserID() string { return c.userID }

func (c *fakeConn) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.full {
		return false
	}
	c.frames = append(c.frames, data)

	return true
}

func (c *fakeConn) received(t *testing.T) []frame {
	t.Helper()

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]frame, len(c.frames))
	for i, data := range c.frames {
		require.NoError(t, sonic.Unmarshal(data, &out[i]))
	}

	return out
}

func (c *fakeConn) events(t *testing.T) []string {
	t.Helper()

	frames := c.received(t)
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Event
	}

	return out
}

// last returns the most recent frame with the given event.
func (c *fakeConn) last(t *testing.T, event string) frame {
	t.Helper()

	frames := c.received(t)
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].Event == event {
			return frames[i]
		}
	}

	require.Failf(t, "event not received", "no %s frame among %v", event, c.events(t))

	return frame{}
}
