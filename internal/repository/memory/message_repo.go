package memory

import (
	"context"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/vedran77/bazaar/internal/domain"
	"github.com/vedran77/bazaar/internal/repository"
)

type MessageRepo struct {
	s *state
}

func (r *MessageRepo) Create(_ context.Context, msg *domain.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.messages[msg.ID]; ok {
		return repository.ErrDuplicate
	}
	c := cloneMessage(msg)
	r.s.messages[msg.ID] = &c
	r.s.conversation[msg.ConversationID] = append(r.s.conversation[msg.ConversationID], msg.ID)
	return nil
}

func (r *MessageRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	m, ok := r.s.messages[id]
	if !ok {
		return nil, nil
	}
	c := cloneMessage(m)
	return &c, nil
}

func (r *MessageRepo) ListByConversation(_ context.Context, conversationID uuid.UUID, before *uuid.UUID, limit int) ([]domain.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	ids := r.s.conversation[conversationID]
	end := len(ids)
	if before != nil {
		idx := slices.Index(ids, *before)
		if idx < 0 {
			return nil, nil
		}
		end = idx
	}
	start := max(0, end-limit)

	messages := make([]domain.Message, 0, end-start)
	for _, id := range ids[start:end] {
		messages = append(messages, cloneMessage(r.s.messages[id]))
	}
	return messages, nil
}

func (r *MessageRepo) Search(_ context.Context, conversationID uuid.UUID, query string, limit int) ([]domain.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}

	ids := r.s.conversation[conversationID]
	var out []domain.Message
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		m := r.s.messages[ids[i]]
		body := strings.ToLower(m.Body)
		matched := true
		for _, t := range terms {
			if !strings.Contains(body, t) {
				matched = false
				break
			}
		}
		if matched {
			out = append(out, cloneMessage(m))
		}
	}
	return out, nil
}

func (r *MessageRepo) AddReader(_ context.Context, id, userID uuid.UUID) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	m, ok := r.s.messages[id]
	if !ok {
		return nil, nil
	}
	if !slices.Contains(m.ReadBy, userID) {
		m.ReadBy = append(m.ReadBy, userID)
	}
	return slices.Clone(m.ReadBy), nil
}

func (r *MessageRepo) CountBySender(_ context.Context, conversationID, senderID uuid.UUID) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	n := 0
	for _, id := range r.s.conversation[conversationID] {
		m := r.s.messages[id]
		if m.SenderID == senderID && !m.AutoReply {
			n++
		}
	}
	return n, nil
}
