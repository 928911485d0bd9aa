package domain

import (
	"time"

	"github.com/google/uuid"
)

type ViolationKind string

const (
	ViolationPhoneNumber         ViolationKind = "phone_number"
	ViolationEmailAddress        ViolationKind = "email_address"
	ViolationSocialMedia         ViolationKind = "social_media"
	ViolationExternalPayment     ViolationKind = "external_payment"
	ViolationExternalTransaction ViolationKind = "external_transaction"
	ViolationExternalLink        ViolationKind = "external_link"
	ViolationSpamRepetition      ViolationKind = "spam_repetition"
	ViolationBannedKeyword       ViolationKind = "banned_keyword"
)

// ViolationKinds lists every kind in reporting order.
var ViolationKinds = []ViolationKind{
	ViolationPhoneNumber,
	ViolationEmailAddress,
	ViolationSocialMedia,
	ViolationExternalPayment,
	ViolationExternalTransaction,
	ViolationExternalLink,
	ViolationSpamRepetition,
	ViolationBannedKeyword,
}

// ViolationEvent is an append-only audit record.
type ViolationEvent struct {
	ID             uuid.UUID       `json:"id"`
	UserID         uuid.UUID       `json:"user_id"`
	Kinds          []ViolationKind `json:"kinds"`
	ConversationID uuid.UUID       `json:"conversation_id"`
	MessageKey     string          `json:"message_key"`
	Text           string          `json:"text"`
	CreatedAt      time.Time       `json:"created_at"`
}

type EnforcementAction string

const (
	ActionNone                  EnforcementAction = "none"
	ActionWarning               EnforcementAction = "warning"
	ActionTimedRestriction      EnforcementAction = "timed_restriction"
	ActionIndefiniteRestriction EnforcementAction = "indefinite_restriction"
)

// Sanction is what an escalation policy decides for a new cumulative count.
type Sanction struct {
	Action          EnforcementAction
	RestrictedUntil *time.Time
}
