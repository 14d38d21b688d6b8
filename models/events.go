package models

import (
	"encoding/json"
	"time"
)

// Event names exchanged over the websocket.
const (
	EventAuthenticate      = "authenticate"
	EventAuthenticated     = "authenticated"
	EventJoinChat          = "join-chat"
	EventLeaveChat         = "leave-chat"
	EventSendMessage       = "send-message"
	EventMessageReceived   = "message-received"
	EventMessageError      = "message-error"
	EventMarkRead          = "mark-read"
	EventReadReceiptUpdate = "read-receipt-update"
	EventPing              = "ping"
	EventPong              = "pong"
	// chat-deleted goes to a room's members right before the room is closed
	EventChatDeleted       = "chat-deleted"
)

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an envelope for event.
func NewEnvelope(event string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

type AuthenticatePayload struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

type AuthenticatedPayload struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type ChatRefPayload struct {
	ChatID string `json:"chat_id"`
}

type SendMessagePayload struct {
	ChatID      string      `json:"chat_id"`
	SenderID    string      `json:"sender_id"`
	Content     string      `json:"content"`
	TempID      string      `json:"temp_id,omitempty"`
	MessageType MessageType `json:"message_type,omitempty"`
	ImageURL    string      `json:"image_url,omitempty"`
}

// MessageReceivedPayload is the authoritative record plus the sender's
// correlation token, echoed unchanged.
type MessageReceivedPayload struct {
	Message
	TempID string `json:"temp_id,omitempty"`
}

// Error kinds carried by message-error.
const (
	ErrorKindAuthorization = "authorization"
	ErrorKindValidation    = "validation"
	ErrorKindPersistence   = "persistence"
)

type MessageErrorPayload struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
	TempID  string `json:"temp_id,omitempty"`
}

type MarkReadPayload struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	ChatID    string `json:"chat_id"`
}

type ReadReceiptUpdatePayload struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
	Username  string    `json:"username"`
}
