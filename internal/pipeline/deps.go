package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/bazaar/internal/autoreply"
	"github.com/vedran77/bazaar/internal/domain"
	"github.com/vedran77/bazaar/internal/enforcement"
	"github.com/vedran77/bazaar/internal/moderation"
)

type Moderator interface {
	Evaluate(text string) moderation.Result
}

type Enforcer interface {
	CanSend(ctx context.Context, userID uuid.UUID) enforcement.Decision
	RecordViolation(ctx context.Context, userID uuid.UUID, kinds []domain.ViolationKind, vc enforcement.ViolationContext) (*enforcement.Outcome, error)
}

// MessageStore is the only path that creates messages.
type MessageStore interface {
	Persist(ctx context.Context, msg *domain.Message) (*domain.Message, error)
	Broadcast(msg *domain.Message)
	TouchConversation(ctx context.Context, msg *domain.Message) error
	MarkRead(ctx context.Context, conversationID, messageID, userID uuid.UUID) ([]uuid.UUID, error)
}

type AutoResponder interface {
	HandleInbound(ctx context.Context, conv *domain.Conversation, msg *domain.Message) (*autoreply.Outcome, error)
}

type EventLogger interface {
	LogEvent(entry domain.DebugLogEntry)
}

type NotificationDispatcher interface {
	Dispatch(ctx context.Context, n *domain.Notification) error
}

type Conversations interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error)
	Flag(ctx context.Context, id uuid.UUID, reason string, at time.Time) error
}

// Deps are the collaborators the orchestrator sequences.
type Deps struct {
	Moderator     Moderator
	Enforcer      Enforcer
	Messages      MessageStore
	AutoReplies   AutoResponder
	DebugLog      EventLogger
	Notifications NotificationDispatcher
	Conversations Conversations
}
