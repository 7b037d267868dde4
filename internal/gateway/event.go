package gateway

import (
	"errors"
	"fmt"

	"github.com/nmxmxh/chatty-gateway/internal/presence"
	"github.com/nmxmxh/chatty-gateway/internal/signal"
	"github.com/nmxmxh/chatty-gateway/pkg/json"
)

// Inbound event names accepted from clients.
const (
	EventJoin             = "join"
	EventJoinConversation = "join conversation"
	EventSendMessage      = "send message"
	EventTyping           = "typing"
	EventStopTyping       = "stop typing"
	EventCallUser         = "call user"
	EventAnswerCall       = "answer call"
	EventEndCall          = "end call"
)

// Outbound event names emitted to clients.
const (
	EventGetOnlineUsers = "get-online-users"
	EventSetupSocket    = "setup socket"
	EventReceiveMessage = "receive message"
	EventCallAccepted   = "call accepted"
)

// ClientEvent is the envelope every inbound frame must carry.
type ClientEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ServerEvent is the envelope for every frame sent to a client.
type ServerEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

var errMissingField = errors.New("missing required field")

// OnlineUser is one element of the "get-online-users" payload. Internal
// registry fields (owning instance, registration time) stay off the wire.
type OnlineUser struct {
	UserID   presence.UserID `json:"userId"`
	SocketID string          `json:"socketId"`
}

// SendMessagePayload is the typed shape of a "send message" event. The body
// is opaque passthrough; persistence happened upstream before the message
// reached the gateway.
type SendMessagePayload struct {
	ConversationID string            `json:"conversationId"`
	Sender         presence.UserID   `json:"sender"`
	Participants   []presence.UserID `json:"participants"`
	Body           json.RawMessage   `json:"body"`
}

// CallUserPayload is the typed shape of a "call user" event.
type CallUserPayload struct {
	To      presence.UserID `json:"userToCall"`
	Signal  json.RawMessage `json:"signal"`
	From    presence.UserID `json:"from"`
	Name    string          `json:"name"`
	Picture string          `json:"picture"`
}

// AnswerCallPayload addresses a raw connection identifier, not a user.
type AnswerCallPayload struct {
	To     string          `json:"to"`
	Signal json.RawMessage `json:"signal"`
}

// EndCallPayload addresses the connection to notify that the call ended.
type EndCallPayload struct {
	To string `json:"to"`
}

func decodeJoin(raw json.RawMessage) (presence.UserID, error) {
	var user presence.UserID
	if err := json.Unmarshal(raw, &user); err != nil {
		return "", fmt.Errorf("join payload: %w", err)
	}
	if user == "" {
		return "", fmt.Errorf("join payload user identity: %w", errMissingField)
	}
	return user, nil
}

func decodeConversationID(raw json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", fmt.Errorf("conversation payload: %w", err)
	}
	if id == "" {
		return "", fmt.Errorf("conversation id: %w", errMissingField)
	}
	return id, nil
}

func decodeSendMessage(raw json.RawMessage) (SendMessagePayload, error) {
	var p SendMessagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("send message payload: %w", err)
	}
	if p.ConversationID == "" {
		return p, fmt.Errorf("send message conversationId: %w", errMissingField)
	}
	if p.Sender == "" {
		return p, fmt.Errorf("send message sender: %w", errMissingField)
	}
	if len(p.Participants) == 0 {
		return p, fmt.Errorf("send message participants: %w", errMissingField)
	}
	return p, nil
}

func decodeCallUser(raw json.RawMessage) (signal.Invite, error) {
	var p CallUserPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return signal.Invite{}, fmt.Errorf("call user payload: %w", err)
	}
	if p.To == "" {
		return signal.Invite{}, fmt.Errorf("call user userToCall: %w", errMissingField)
	}
	return signal.Invite{
		To:     p.To,
		From:   p.From,
		Meta:   signal.CallerMeta{Name: p.Name, Picture: p.Picture},
		Signal: p.Signal,
	}, nil
}

func decodeAnswerCall(raw json.RawMessage) (AnswerCallPayload, error) {
	var p AnswerCallPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("answer call payload: %w", err)
	}
	if p.To == "" {
		return p, fmt.Errorf("answer call to: %w", errMissingField)
	}
	return p, nil
}

func decodeEndCall(raw json.RawMessage) (EndCallPayload, error) {
	var p EndCallPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("end call payload: %w", err)
	}
	if p.To == "" {
		return p, fmt.Errorf("end call to: %w", errMissingField)
	}
	return p, nil
}
