package pipeline

import (
	"github.com/google/uuid"
	"github.com/vedran77/bazaar/internal/domain"
	"github.com/vedran77/bazaar/internal/enforcement"
)

// SendRequest is an inbound send_message event. Identifiers arrive as
// strings and are validated by the orchestrator.
type SendRequest struct {
	ConversationID string
	SenderID       string
	Text           string
	Attachments    []string
	ProductID      string
	// Nonce is the client's idempotency key for the send.
	Nonce string
	// Actor is the user bound to the connection, or uuid.Nil.
	Actor uuid.UUID
}

// SendResult is the typed outcome of one send. Exactly one of Message and
// Err is set.
type SendResult struct {
	Message *domain.Message
	Err     *domain.Error
	// Set on policy violations.
	Violations  []domain.ViolationKind
	Enforcement *enforcement.Outcome
}

func (r SendResult) OK() bool { return r.Err == nil }

// Reason is the human-readable rejection text.
func (r SendResult) Reason() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Message
}

type ReadRequest struct {
	ConversationID string
	MessageID      string
	UserID         string
	Actor          uuid.UUID
}

type ReadResult struct {
	MessageID uuid.UUID
	ReadBy    []uuid.UUID
	Err       *domain.Error
}

func (r ReadResult) OK() bool { return r.Err == nil }

type JoinResult struct {
	Conversation *domain.Conversation
	Err          *domain.Error
}

func (r JoinResult) OK() bool { return r.Err == nil }
