package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventMessageReceived     = "message_received"
	EventEnforcementDenied   = "enforcement_denied"
	EventModerationBlocked   = "moderation_blocked"
	EventEnforcementApplied  = "enforcement_applied"
	EventConversationFlagged = "conversation_flagged"
	EventMessageCreated      = "message_created"
	EventMessageFailed       = "message_failed"
	EventMessageBroadcast    = "message_broadcast"
	EventConversationUpdate  = "conversation_update_failed"
	EventNotificationSent    = "notification_sent"
	EventNotificationFailed  = "notification_failed"
	EventAutoReplySent       = "auto_reply_sent"
	EventAutoReplySkipped    = "auto_reply_skipped"
	EventAutoReplyFailed     = "auto_reply_failed"
	EventMessageRead         = "message_read"
)

type DebugLogEntry struct {
	MessageID      uuid.UUID      `json:"message_id"`
	ConversationID uuid.UUID      `json:"conversation_id"`
	Event          string         `json:"event"`
	Payload        map[string]any `json:"payload,omitempty"`
	ProcessingTime time.Duration  `json:"processing_time_ns"`
	CreatedAt      time.Time      `json:"created_at"`
}

type DebugLogFilter struct {
	Event string
	Limit int
}
