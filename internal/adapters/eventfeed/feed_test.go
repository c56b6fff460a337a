package eventfeed

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstepura/bridge/internal/app"
	"github.com/nstepura/bridge/internal/core"
)

func newFeedServer(t *testing.T, ctl *Controller) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ctl.HandleFeed(ctx, c) })
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func TestFeedRelaysEvents(t *testing.T) {
	events := app.NewDispatcher()
	ws := newFeedServer(t, NewController(events, 0, 0))

	// The handler subscribes after the handshake; wait for it.
	require.Eventually(t, func() bool {
		return events.Len(core.EventActiveRoomChanged) == 1
	}, 2*time.Second, 10*time.Millisecond)

	events.Trigger(core.EventActiveRoomChanged, nil, &core.Event{
		Kind: core.EventActiveRoomChanged, RoomID: 2, At: time.Now(),
	})

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var ev core.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, core.EventActiveRoomChanged, ev.Kind)
}

func TestFeedPingsIdleClients(t *testing.T) {
	events := app.NewDispatcher()
	ws := newFeedServer(t, NewController(events, 0, 20*time.Millisecond))

	pinged := make(chan struct{}, 1)
	ws.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})

	// Control frames are only processed while reading.
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping within ping period")
	}
}

func TestFeedEnforcesReadLimit(t *testing.T) {
	events := app.NewDispatcher()
	ws := newFeedServer(t, NewController(events, 16, time.Hour))

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 64))))

	// The server drops the connection on an oversized frame, so the next
	// read fails once the close propagates.
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	assert.Error(t, err)
}
