package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	NotificationNewMessage        = "new_message"
	NotificationEnforcementAction = "enforcement_action"
	NotificationAutoReply         = "auto_reply"
)

type Notification struct {
	ID             uuid.UUID  `json:"id"`
	UserID         uuid.UUID  `json:"user_id"`
	Kind           string     `json:"kind"`
	ConversationID *uuid.UUID `json:"conversation_id,omitempty"`
	MessageID      *uuid.UUID `json:"message_id,omitempty"`
	Title          string     `json:"title"`
	Body           string     `json:"body"`
	CreatedAt      time.Time  `json:"created_at"`
}
