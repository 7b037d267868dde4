// Package gateway wires the transport layer to presence, rooms and call
// signaling: it upgrades client connections, validates and dispatches inbound
// named events, and owns each connection's teardown.
package gateway

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nmxmxh/chatty-gateway/internal/presence"
	"github.com/nmxmxh/chatty-gateway/internal/room"
	"github.com/nmxmxh/chatty-gateway/internal/signal"
	"github.com/nmxmxh/chatty-gateway/pkg/json"
	"github.com/nmxmxh/chatty-gateway/pkg/metrics"
)

// Hub tracks the connections attached to this gateway instance and dispatches
// their events. It is the room router's local delivery target.
type Hub struct {
	presence *presence.Registry
	rooms    *room.Router
	relay    *signal.Relay
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewHub creates the hub. Wire must be called before serving connections;
// the room router needs the hub as its local sender, so construction is
// two-phase.
func NewHub(registry *presence.Registry, allowedOrigins string, log *zap.Logger) *Hub {
	h := &Hub{
		presence: registry,
		log:      log.With(zap.String("module", "gateway")),
		conns:    make(map[string]*Conn),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins, h.log),
	}
	return h
}

// Wire attaches the room router and signaling relay and hooks the hub into
// presence updates so every change pushes a fresh online list to clients.
func (h *Hub) Wire(rooms *room.Router, relay *signal.Relay) {
	h.rooms = rooms
	h.relay = relay
	h.presence.OnUpdate(h.pushOnlineUsers)
}

// SendToConn implements room.LocalSender.
func (h *Hub) SendToConn(connID, event string, payload json.RawMessage) bool {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	c.enqueue(event, payload)
	return true
}

// HandleWS upgrades the request and runs the connection's lifecycle:
// Connecting becomes Established as soon as the transport connects, and
// Terminated on disconnect, the only terminal state.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Info("WebSocket upgrade failed", zap.Error(err))
		return
	}

	c := newConn(uuid.NewString(), ws, h.log)
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	metrics.ActiveConnections.Inc()
	h.log.Info("client connected", zap.String("conn_id", c.id), zap.String("remote", r.RemoteAddr))

	go c.writePump()
	go h.readPump(c)
}

// readPump processes inbound frames in arrival order; events on one
// connection are never reordered or handled concurrently with each other.
func (h *Hub) readPump(c *Conn) {
	defer h.teardown(c)

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn("read error", zap.Error(err))
			} else {
				c.log.Info("client closed connection")
			}
			return
		}
		h.dispatch(c, raw)
	}
}

// teardown runs the Terminated transition: stop in-flight work, remove all
// room memberships, then unregister presence. Rooms strictly before
// presence, so a message in flight cannot land in a room after the user
// already looked offline.
func (h *Hub) teardown(c *Conn) {
	c.cancel()
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()

	h.rooms.LeaveAll(c.id)
	h.presence.UnregisterConnection(context.Background(), c.id)

	if c.ws != nil {
		c.ws.Close()
	}
	metrics.ActiveConnections.Dec()
	h.log.Info("client disconnected", zap.String("conn_id", c.id), zap.String("user_id", string(c.userID)))
}

// dispatch validates the envelope and routes one client event. Any failure
// here is contained to this connection: malformed payloads are dropped with
// a log entry and never crash another connection's session.
func (h *Hub) dispatch(c *Conn, raw []byte) {
	var evt ClientEvent
	if err := json.Unmarshal(raw, &evt); err != nil || evt.Type == "" {
		c.log.Warn("malformed client frame dropped", zap.Error(err))
		metrics.EventsDispatched.WithLabelValues("unknown", "malformed").Inc()
		return
	}

	if err := h.handle(c, evt); err != nil {
		c.log.Warn("client event dropped",
			zap.String("event", evt.Type), zap.Error(err))
		metrics.EventsDispatched.WithLabelValues(evt.Type, "malformed").Inc()
		return
	}
	metrics.EventsDispatched.WithLabelValues(evt.Type, "ok").Inc()
}

func (h *Hub) handle(c *Conn, evt ClientEvent) error {
	ctx := c.ctx
	switch evt.Type {
	case EventJoin:
		user, err := decodeJoin(evt.Payload)
		if err != nil {
			return err
		}
		// Established order: presence first, then the user room.
		if err := h.presence.Register(ctx, user, c.id); err != nil {
			return err
		}
		h.rooms.JoinUserRoom(c.id, user)
		c.userID = user
		c.enqueue(EventSetupSocket, c.id)

	case EventJoinConversation:
		conversationID, err := decodeConversationID(evt.Payload)
		if err != nil {
			return err
		}
		h.rooms.JoinConversation(c.id, conversationID)

	case EventSendMessage:
		msg, err := decodeSendMessage(evt.Payload)
		if err != nil {
			return err
		}
		h.rooms.FanOutMessage(ctx, msg.Sender, msg.Participants, evt.Payload)

	case EventTyping:
		conversationID, err := decodeConversationID(evt.Payload)
		if err != nil {
			return err
		}
		h.rooms.Broadcast(ctx, conversationID, EventTyping, evt.Payload, "")

	case EventStopTyping:
		conversationID, err := decodeConversationID(evt.Payload)
		if err != nil {
			return err
		}
		h.rooms.Broadcast(ctx, conversationID, EventStopTyping, nil, "")

	case EventCallUser:
		inv, err := decodeCallUser(evt.Payload)
		if err != nil {
			return err
		}
		return h.relay.Invite(ctx, inv)

	case EventAnswerCall:
		ans, err := decodeAnswerCall(evt.Payload)
		if err != nil {
			return err
		}
		h.relay.Answer(ctx, ans.To, ans.Signal)

	case EventEndCall:
		end, err := decodeEndCall(evt.Payload)
		if err != nil {
			return err
		}
		h.relay.End(ctx, end.To)

	default:
		c.log.Debug("unknown event ignored", zap.String("event", evt.Type))
	}
	return nil
}

// pushOnlineUsers fans the merged online list out to every local connection.
func (h *Hub) pushOnlineUsers(online []presence.Entry) {
	users := make([]OnlineUser, 0, len(online))
	for _, e := range online {
		users = append(users, OnlineUser{UserID: e.UserID, SocketID: e.ConnID})
	}
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.enqueue(EventGetOnlineUsers, users)
	}
}

// originChecker reproduces the deployment's CORS posture: allow everything by
// default, or match against a comma-separated allow list with *. wildcards.
func originChecker(allowed string, log *zap.Logger) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser clients
		}
		if allowed == "" || allowed == "*" {
			return true
		}

		originHost := origin
		if strings.Contains(origin, "://") {
			parts := strings.Split(origin, "://")
			if len(parts) != 2 {
				return false
			}
			originHost = parts[1]
		}
		if strings.Contains(originHost, ":") {
			originHost = strings.Split(originHost, ":")[0]
		}

		for _, a := range strings.Split(allowed, ",") {
			if a == "*" || a == originHost {
				return true
			}
			if strings.HasPrefix(a, "*.") && strings.HasSuffix(originHost, a[1:]) {
				return true
			}
		}
		log.Warn("rejected WebSocket origin",
			zap.String("origin", origin), zap.String("allowed_origins", allowed))
		return false
	}
}
