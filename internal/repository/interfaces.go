package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/bazaar/internal/domain"
)

// ErrDuplicate is returned when a unique constraint rejects a write.
var ErrDuplicate = errors.New("duplicate record")

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
}

// EscalateFunc maps a cumulative violation count to the sanction it earns.
type EscalateFunc func(violationCount int) domain.Sanction

type ViolationResult struct {
	State  domain.EnforcementState
	Action domain.EnforcementAction
	// Recorded is false when the event's message key was already recorded.
	Recorded bool
}

type EnforcementRepository interface {
	// GetState returns nil, nil when the user does not exist.
	GetState(ctx context.Context, userID uuid.UUID) (*domain.EnforcementState, error)
	// ApplyViolation appends the event, atomically increments the user's
	// violation count and applies the sanction escalate picks for the new
	// count, all in one unit. A repeated message key is a no-op.
	ApplyViolation(ctx context.Context, event *domain.ViolationEvent, escalate EscalateFunc) (*ViolationResult, error)
	SetRestriction(ctx context.Context, userID uuid.UUID, restricted bool, until *time.Time) (*domain.EnforcementState, error)
	// LiftExpired clears timed restrictions that ended before now.
	LiftExpired(ctx context.Context, now time.Time) (int64, error)
	ListViolations(ctx context.Context, userID uuid.UUID, limit int) ([]domain.ViolationEvent, error)
}

type ConversationRepository interface {
	Create(ctx context.Context, conv *domain.Conversation) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error)
	GetByParticipants(ctx context.Context, user1ID, user2ID uuid.UUID) (*domain.Conversation, error)
	ListByUser(ctx context.Context, userID uuid.UUID, folder string) ([]domain.Conversation, error)
	SetArchived(ctx context.Context, id, userID uuid.UUID, archived bool) error
	Hide(ctx context.Context, id, userID uuid.UUID) error
	Flag(ctx context.Context, id uuid.UUID, reason string, at time.Time) error
	Unflag(ctx context.Context, id uuid.UUID) error
	ListFlagged(ctx context.Context, limit int) ([]domain.Conversation, error)
	// TouchLastMessage moves the last-message pointer and unhides the
	// conversation for every participant.
	TouchLastMessage(ctx context.Context, id, messageID uuid.UUID, at time.Time) error
}

type MessageRepository interface {
	Create(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error)
	ListByConversation(ctx context.Context, conversationID uuid.UUID, before *uuid.UUID, limit int) ([]domain.Message, error)
	Search(ctx context.Context, conversationID uuid.UUID, query string, limit int) ([]domain.Message, error)
	// AddReader appends userID to read_by if absent and returns the result.
	AddReader(ctx context.Context, id, userID uuid.UUID) ([]uuid.UUID, error)
	CountBySender(ctx context.Context, conversationID, senderID uuid.UUID) (int, error)
}

type AutoReplyRepository interface {
	Create(ctx context.Context, tpl *domain.AutoReplyTemplate) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.AutoReplyTemplate, error)
	Update(ctx context.Context, tpl *domain.AutoReplyTemplate) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListBySeller(ctx context.Context, sellerID uuid.UUID) ([]domain.AutoReplyTemplate, error)
	FindBySellerTrigger(ctx context.Context, sellerID uuid.UUID, triggerKey string) (*domain.AutoReplyTemplate, error)
	ListPending(ctx context.Context) ([]domain.AutoReplyTemplate, error)
	SetReviewed(ctx context.Context, id uuid.UUID, reviewed bool) error
	IncrementUsage(ctx context.Context, id uuid.UUID) error
}

// Store bundles every repository a storage driver provides.
type Store struct {
	Users         UserRepository
	Enforcement   EnforcementRepository
	Conversations ConversationRepository
	Messages      MessageRepository
	AutoReplies   AutoReplyRepository
}
