// Package wire defines the websocket event contract shared by the sync
// client and the messaging server.
package wire

import (
	"encoding/json"

	"github.com/confchat/internal/model"
)

type EventType string

const (
	// Client → server.
	EventMessage   EventType = "message"
	EventJoinChat  EventType = "joinChat"
	EventLeaveChat EventType = "leaveChat"

	// Server → client.
	EventAck              EventType = "ack"
	EventReceiveMessage   EventType = "receiveMessage"
	EventMessageConfirmed EventType = "messageConfirmed"
	EventError            EventType = "error"
)

// ClientEvent is a client → server frame. A non-empty AckID on a "message"
// event requests a correlated "ack" frame once the server has persisted
// (or rejected) the message.
type ClientEvent struct {
	Type       EventType `json:"type"`
	AckID      string    `json:"ack_id,omitempty"`
	ReceiverID int64     `json:"receiver_id,omitempty"`
	ChatID     int64     `json:"chat_id,omitempty"`
	Content    string    `json:"content,omitempty"`
}

// ServerEvent is a server → client frame. Payload uses typed structs on the
// sending side; receivers decode through Envelope.
type ServerEvent struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

// Envelope is the receive-side view of a ServerEvent.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AckPayload acknowledges a "message" event. ChatID is the conversation the
// message was stored in (the server creates the conversation on first
// contact, so the sender learns the id here).
type AckPayload struct {
	AckID   string `json:"ack_id"`
	Success bool   `json:"success"`
	ChatID  int64  `json:"chat_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ReceivePayload is the inbound message event body.
type ReceivePayload = model.Message

// ConfirmedPayload signals that a previously-sent message has been persisted,
// carrying the resulting conversation id.
type ConfirmedPayload struct {
	ChatID int64 `json:"chat_id"`
}

// ErrorPayload carries an out-of-band server error (no ack correlation).
type ErrorPayload struct {
	Error string `json:"error"`
}
