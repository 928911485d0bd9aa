package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Message is immutable once persisted except for ReadBy growth.
type Message struct {
	ID             uuid.UUID   `json:"id"`
	ConversationID uuid.UUID   `json:"conversation_id"`
	SenderID       uuid.UUID   `json:"sender_id"`
	Body           string      `json:"body"`
	Attachments    []string    `json:"attachments,omitempty"`
	ProductID      *uuid.UUID  `json:"product_id,omitempty"`
	ReadBy         []uuid.UUID `json:"read_by"`
	AutoReply      bool        `json:"auto_reply,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

func (m *Message) IsReadBy(userID uuid.UUID) bool {
	return slices.Contains(m.ReadBy, userID)
}

type MessagePage struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}
