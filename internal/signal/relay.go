// Package signal relays call-setup payloads (offer, answer, hang-up) between
// two peers. The relay is intentionally stateless: no notion of a call in
// progress, no invite timeout, no ordering validation. An answer with no
// prior invite is relayed like any other message; call state machines live in
// the clients.
package signal

import (
	"context"

	"go.uber.org/zap"

	"github.com/nmxmxh/chatty-gateway/internal/presence"
	"github.com/nmxmxh/chatty-gateway/internal/room"
	"github.com/nmxmxh/chatty-gateway/pkg/json"
)

// CallerMeta is the display metadata forwarded with an invite so the callee
// can render the incoming-call screen.
type CallerMeta struct {
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// Invite is a call-setup request addressed to a user identity.
type Invite struct {
	To     presence.UserID
	From   presence.UserID
	Meta   CallerMeta
	Signal json.RawMessage
}

// invitePayload is the wire shape delivered to the callee.
type invitePayload struct {
	Signal  json.RawMessage `json:"signal"`
	From    presence.UserID `json:"from"`
	Name    string          `json:"name"`
	Picture string          `json:"picture"`
}

// Relay resolves invite targets through the presence registry and hands
// delivery to the room router. Never stores anything.
type Relay struct {
	presence *presence.Registry
	router   *room.Router
	log      *zap.Logger
}

func NewRelay(p *presence.Registry, r *room.Router, log *zap.Logger) *Relay {
	return &Relay{
		presence: p,
		router:   r,
		log:      log.With(zap.String("module", "signal")),
	}
}

// Invite resolves the target's current presence entry and delivers the call
// offer to that connection. An offline target drops the invite silently; the
// caller gets no error surfaced.
func (r *Relay) Invite(ctx context.Context, inv Invite) error {
	entry, ok := r.presence.Lookup(inv.To)
	if !ok {
		r.log.Debug("call invite to offline user dropped",
			zap.String("to", string(inv.To)), zap.String("from", string(inv.From)))
		return nil
	}
	payload, err := json.Marshal(invitePayload{
		Signal:  inv.Signal,
		From:    inv.From,
		Name:    inv.Meta.Name,
		Picture: inv.Meta.Picture,
	})
	if err != nil {
		return err
	}
	r.router.SendToConnection(ctx, entry.ConnID, "call user", payload)
	return nil
}

// Answer delivers the callee's signaling payload straight to a connection
// identifier. The answer step addresses raw connections, not user
// identities, so no presence lookup happens.
func (r *Relay) Answer(ctx context.Context, targetConn string, sig json.RawMessage) {
	r.router.SendToConnection(ctx, targetConn, "call accepted", sig)
}

// End tells the target connection the call is over. No payload.
func (r *Relay) End(ctx context.Context, targetConn string) {
	r.router.SendToConnection(ctx, targetConn, "end call", nil)
}
