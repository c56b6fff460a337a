// Package eventfeed streams engine events to websocket subscribers.
package eventfeed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/nstepura/bridge/internal/app"
	"github.com/nstepura/bridge/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

var allKinds = []core.EventKind{
	core.EventNewCall,
	core.EventProgress,
	core.EventConfirmed,
	core.EventFailed,
	core.EventEnded,
	core.EventActiveRoomChanged,
	core.EventRoomDeleted,
	core.EventCallAdding,
}

const (
	defaultReadLimit  = 32768
	defaultPingPeriod = 54 * time.Second
)

type Controller struct {
	Events *app.Dispatcher

	readLimit  int64
	pingPeriod time.Duration
}

func NewController(events *app.Dispatcher, readLimit int64, pingPeriod time.Duration) *Controller {
	if readLimit <= 0 {
		readLimit = defaultReadLimit
	}
	if pingPeriod <= 0 {
		pingPeriod = defaultPingPeriod
	}
	return &Controller{Events: events, readLimit: readLimit, pingPeriod: pingPeriod}
}

type wsFeedConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *wsFeedConn) TrySend(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsFeedConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleFeed upgrades the request and relays every engine event to the
// client until it disconnects. A slow client drops events instead of
// stalling the dispatcher.
func (ctl *Controller) HandleFeed(ctx context.Context, c *gin.Context) {
	sid := c.GetString("client_token")
	log.Info().Str("module", "eventfeed").Str("sid", sid).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.readLimit)

	conn := &wsFeedConn{
		conn: ws,
		send: make(chan []byte, 32),
	}

	cancels := make([]func(), 0, len(allKinds))
	for _, kind := range allKinds {
		cancels = append(cancels, ctl.Events.Subscribe(kind, func(_ core.Session, ev *core.Event) {
			b, err := json.Marshal(ev)
			if err != nil {
				log.Error().Err(err).Str("module", "eventfeed").Msg("marshal event")
				return
			}
			if err := conn.TrySend(b); err != nil {
				log.Warn().Str("module", "eventfeed").Str("sid", sid).Err(err).Msg("drop event")
			}
		}))
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go func() {
		defer func() {
			for _, c := range cancels {
				c()
			}
			cancel()
		}()
		ctl.readPump(ctx, sid, conn)
	}()
}

func (ctl *Controller) writePump(ctx context.Context, c *wsFeedConn) {
	ticker := time.NewTicker(ctl.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "eventfeed").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "eventfeed").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "eventfeed").Msg("writePump ping error")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "eventfeed").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "eventfeed").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "eventfeed").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump only consumes control traffic; the feed is one-way.
func (ctl *Controller) readPump(ctx context.Context, sid string, c *wsFeedConn) {
	defer func() {
		log.Info().Str("module", "eventfeed").Str("sid", sid).Msg("readPump closing")
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "eventfeed").Str("sid", sid).Msg("readPump ctx done")
			return
		default:
			if _, _, err := c.conn.ReadMessage(); err != nil {
				log.Info().Err(err).Str("module", "eventfeed").Str("sid", sid).Msg("readPump read error")
				return
			}
		}
	}
}
