package gateway

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nmxmxh/chatty-gateway/internal/presence"
	"github.com/nmxmxh/chatty-gateway/pkg/json"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	// Chat payloads are small; the read limit only guards against abuse.
	maxMessageSize = 1 << 20
	sendBuffer     = 256
)

// Conn is one live transport session. Destroyed on disconnect; a reconnecting
// client gets a brand-new Conn with a new identifier, never a resumed one.
type Conn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
	log  *zap.Logger

	// userID is set when the client declares its identity via "join".
	// Written only by the dispatch goroutine.
	userID presence.UserID

	// ctx is cancelled when teardown starts, so in-flight work stops
	// writing back into rooms or presence.
	ctx    context.Context
	cancel context.CancelFunc
}

func newConn(id string, ws *websocket.Conn, log *zap.Logger) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		id:     id,
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		log:    log.With(zap.String("conn_id", id)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ID returns the opaque connection identifier.
func (c *Conn) ID() string {
	return c.id
}

// enqueue marshals a server event onto the outgoing channel. Never blocks:
// frames for a slow client are dropped with a warning rather than stalling
// the broadcast path.
func (c *Conn) enqueue(event string, payload interface{}) {
	frame, err := json.Marshal(ServerEvent{Type: event, Payload: payload})
	if err != nil {
		c.log.Error("failed to marshal server event", zap.String("event", event), zap.Error(err))
		return
	}
	if c.ctx.Err() != nil {
		return // teardown already started
	}
	select {
	case c.send <- frame:
	default:
		c.log.Warn("send buffer full, dropping frame", zap.String("event", event))
	}
}

// writePump pumps frames from the send channel to the WebSocket connection
// and keeps the connection alive with pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case <-c.ctx.Done():
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case frame := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Info("write failed, closing connection", zap.Error(err))
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
