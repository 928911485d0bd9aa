package ws

import (
	"encoding/json"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/vedran77/bazaar/internal/domain"
)

// Event types - Client → Server
const (
	EventAuth        = "auth"
	EventJoinRoom    = "join_room"
	EventLeaveRoom   = "leave_room"
	EventSendMessage = "send_message"
	EventMessageRead = "message_read"
	EventTyping      = "typing"
	EventPing        = "ping"
)

// Event types - Server → Client
const (
	EventAck               = "ack"
	EventNewMessage        = "new_message"
	EventMessageBlocked    = "message_blocked"
	EventEnforcementAction = "enforcement_action"
	EventUpdateReadStatus  = "update_read_status"
	EventUserTyping        = "user_typing"
	EventPong              = "pong"
	EventError             = "error"
)

// Inbound is the client → server envelope.
type Inbound struct {
	Event string          `json:"event"`
	AckID string          `json:"ack_id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outbound is the server → client envelope.
type Outbound struct {
	Event     string `json:"event"`
	AckID     string `json:"ack_id,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"ts"`
}

// --- Client → Server payloads ---

type AuthPayload struct {
	UserID string `json:"userId"`
}

type RoomPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId,omitempty"`
}

type SendMessagePayload struct {
	ConversationID string   `json:"conversationId"`
	Sender         string   `json:"sender"`
	Text           string   `json:"text"`
	Attachments    []string `json:"attachments,omitempty"`
	ProductRef     string   `json:"productRef,omitempty"`
	Nonce          string   `json:"nonce,omitempty"`
}

type MessageReadPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	UserID         string `json:"userId"`
}

// --- Server → Client payloads ---

type AckPayload struct {
	OK         bool                   `json:"ok"`
	Data       any                    `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
	Violations []domain.ViolationKind `json:"violations,omitempty"`
}

type MessageBlockedPayload struct {
	Violations []domain.ViolationKind `json:"violations"`
	Reason     string                 `json:"reason"`
}

type EnforcementActionPayload struct {
	Action         domain.EnforcementAction `json:"action"`
	Message        string                   `json:"message"`
	ViolationCount int                      `json:"violationCount"`
}

type ReadStatusPayload struct {
	MessageID uuid.UUID   `json:"messageId"`
	ReadBy    []uuid.UUID `json:"readBy"`
}

type TypingPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	UserID         uuid.UUID `json:"userId"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// encode marshals a server → client event with the current timestamp.
func encode(event, ackID string, data any) ([]byte, error) {
	return sonic.Marshal(Outbound{
		Event:     event,
		AckID:     ackID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}
