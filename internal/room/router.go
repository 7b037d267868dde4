// Package room manages named multicast groups of connections and fans events
// out to their members, locally and across gateway instances. Two kinds of
// room exist: user rooms (name == user identity, addressing one user wherever
// they are connected) and conversation rooms (name == conversation ID,
// addressing every participant who joined it). Rooms are created implicitly
// on first join and vanish when their last member leaves.
package room

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/nmxmxh/chatty-gateway/internal/bus"
	"github.com/nmxmxh/chatty-gateway/internal/presence"
	"github.com/nmxmxh/chatty-gateway/pkg/json"
)

// Channel is the bus channel carrying room and direct delivery events.
const Channel = "chatty:rooms"

// LocalSender delivers an event to a connection attached to this instance.
// Implemented by the gateway hub. Returns false if the connection is not
// local.
type LocalSender interface {
	SendToConn(connID, event string, payload json.RawMessage) bool
}

// routedEvent is the bus replication unit. ConnID set means direct delivery
// to one connection; otherwise Room addresses every member.
type routedEvent struct {
	Origin  string          `json:"origin"`
	Room    string          `json:"room,omitempty"`
	ConnID  string          `json:"connId,omitempty"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Exclude string          `json:"exclude,omitempty"`
}

// Router owns room membership for this instance and replicates fan-out over
// the bus so members connected to other instances are reached too.
type Router struct {
	processID string
	bus       bus.Bus
	sender    LocalSender
	log       *zap.Logger

	mu    sync.RWMutex
	rooms map[string]map[string]struct{} // room -> member conn IDs
	conns map[string]map[string]struct{} // conn -> rooms joined
}

func NewRouter(processID string, b bus.Bus, sender LocalSender, log *zap.Logger) *Router {
	return &Router{
		processID: processID,
		bus:       b,
		sender:    sender,
		log:       log.With(zap.String("module", "room")),
		rooms:     make(map[string]map[string]struct{}),
		conns:     make(map[string]map[string]struct{}),
	}
}

// Start subscribes the router to fan-out events from other instances.
func (r *Router) Start() error {
	return r.bus.Subscribe(Channel, r.applyRemote)
}

// UserRoom names the room addressing a single user regardless of connection.
func UserRoom(user presence.UserID) string {
	return string(user)
}

// JoinUserRoom makes a connection addressable through its own user room.
// Called once per connection establishment.
func (r *Router) JoinUserRoom(connID string, user presence.UserID) {
	r.join(connID, UserRoom(user))
}

// JoinConversation adds the connection to a conversation room. A connection
// is a member of arbitrarily many conversation rooms at once; joining twice
// is a no-op.
func (r *Router) JoinConversation(connID, conversationID string) {
	r.join(connID, conversationID)
}

func (r *Router) join(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[room] == nil {
		r.rooms[room] = make(map[string]struct{})
	}
	r.rooms[room][connID] = struct{}{}
	if r.conns[connID] == nil {
		r.conns[connID] = make(map[string]struct{})
	}
	r.conns[connID][room] = struct{}{}
}

// LeaveAll removes the connection from every room it belongs to. Safe to call
// for a connection that never joined anything.
func (r *Router) LeaveAll(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for room := range r.conns[connID] {
		delete(r.rooms[room], connID)
		if len(r.rooms[room]) == 0 {
			delete(r.rooms, room)
		}
	}
	delete(r.conns, connID)
}

// Members returns a snapshot of the local member connections of a room.
func (r *Router) Members(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.rooms[room]))
	for connID := range r.rooms[room] {
		out = append(out, connID)
	}
	return out
}

// Broadcast delivers payload to every member of room except, optionally, one
// excluded connection. Local members are reached synchronously; remote
// members through the bus. Broadcasting to an empty room is a no-op.
func (r *Router) Broadcast(ctx context.Context, room, event string, payload json.RawMessage, excludeConn string) {
	r.deliverLocal(room, event, payload, excludeConn)
	r.publish(ctx, routedEvent{
		Origin:  r.processID,
		Room:    room,
		Event:   event,
		Payload: payload,
		Exclude: excludeConn,
	})
}

// SendToConnection delivers payload to one connection wherever it lives.
// Delivered-or-dropped: an unknown connection ID produces no error.
func (r *Router) SendToConnection(ctx context.Context, connID, event string, payload json.RawMessage) {
	if r.sender.SendToConn(connID, event, payload) {
		return
	}
	r.publish(ctx, routedEvent{
		Origin:  r.processID,
		ConnID:  connID,
		Event:   event,
		Payload: payload,
	})
}

// FanOutMessage routes a chat message to each participant's user room,
// skipping the participant whose identity equals the sender's: the sending
// client renders its own message locally and must never see an echo. Offline
// participants simply have empty user rooms.
func (r *Router) FanOutMessage(ctx context.Context, sender presence.UserID, participants []presence.UserID, payload json.RawMessage) {
	for _, p := range participants {
		if p == sender {
			continue
		}
		r.Broadcast(ctx, UserRoom(p), "receive message", payload, "")
	}
}

func (r *Router) deliverLocal(room, event string, payload json.RawMessage, excludeConn string) {
	r.mu.RLock()
	members := make([]string, 0, len(r.rooms[room]))
	for connID := range r.rooms[room] {
		if connID != excludeConn {
			members = append(members, connID)
		}
	}
	r.mu.RUnlock()

	for _, connID := range members {
		r.sender.SendToConn(connID, event, payload)
	}
}

func (r *Router) applyRemote(ctx context.Context, raw []byte) {
	var evt routedEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		r.log.Warn("malformed room event", zap.Error(err))
		return
	}
	if evt.Origin == r.processID {
		return // already delivered locally before publishing
	}
	if evt.ConnID != "" {
		r.sender.SendToConn(evt.ConnID, evt.Event, evt.Payload)
		return
	}
	r.deliverLocal(evt.Room, evt.Event, evt.Payload, evt.Exclude)
}

func (r *Router) publish(ctx context.Context, evt routedEvent) {
	payload, err := json.Marshal(evt)
	if err != nil {
		r.log.Error("failed to marshal room event", zap.Error(err))
		return
	}
	if err := r.bus.Publish(ctx, Channel, payload); err != nil {
		r.log.Warn("failed to publish room event", zap.Error(err))
	}
}
