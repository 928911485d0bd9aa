// Package memory is an in-process storage driver. It backs tests and the
// "memory" database driver for local runs without Postgres.
package memory

import (
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/vedran77/bazaar/internal/domain"
	"github.com/vedran77/bazaar/internal/repository"
)

type conversationRecord struct {
	conv       domain.Conversation
	archivedBy map[uuid.UUID]bool
	hiddenFor  map[uuid.UUID]bool
}

type state struct {
	mu sync.RWMutex

	users      map[uuid.UUID]*domain.User
	violations map[uuid.UUID][]domain.ViolationEvent // userID -> events
	seenKeys   map[uuid.UUID]map[string]bool          // userID -> message keys

	conversations map[uuid.UUID]*conversationRecord
	userIndex     map[uuid.UUID][]uuid.UUID // userID -> conversation IDs

	messages     map[uuid.UUID]*domain.Message
	conversation map[uuid.UUID][]uuid.UUID // conversationID -> message IDs in insert order

	templates map[uuid.UUID]*domain.AutoReplyTemplate
}

// NewStore returns a Store whose repositories share one in-memory state.
func NewStore() *repository.Store {
	s := &state{
		users:         make(map[uuid.UUID]*domain.User),
		violations:    make(map[uuid.UUID][]domain.ViolationEvent),
		seenKeys:      make(map[uuid.UUID]map[string]bool),
		conversations: make(map[uuid.UUID]*conversationRecord),
		userIndex:     make(map[uuid.UUID][]uuid.UUID),
		messages:      make(map[uuid.UUID]*domain.Message),
		conversation:  make(map[uuid.UUID][]uuid.UUID),
		templates:     make(map[uuid.UUID]*domain.AutoReplyTemplate),
	}
	return &repository.Store{
		Users:         &UserRepo{s},
		Enforcement:   &EnforcementRepo{s},
		Conversations: &ConversationRepo{s},
		Messages:      &MessageRepo{s},
		AutoReplies:   &AutoReplyRepo{s},
	}
}

func cloneUser(u *domain.User) *domain.User {
	c := *u
	if u.Enforcement.RestrictedUntil != nil {
		t := *u.Enforcement.RestrictedUntil
		c.Enforcement.RestrictedUntil = &t
	}
	return &c
}

func cloneMessage(m *domain.Message) domain.Message {
	c := *m
	c.Attachments = slices.Clone(m.Attachments)
	c.ReadBy = slices.Clone(m.ReadBy)
	return c
}

func (r *conversationRecord) view(userID uuid.UUID) domain.Conversation {
	c := r.conv
	c.Participants = slices.Clone(r.conv.Participants)
	c.Archived = r.archivedBy[userID]
	return c
}
