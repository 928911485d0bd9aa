package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/bazaar/internal/domain"
	"github.com/vedran77/bazaar/internal/repository"
)

type ConversationRepo struct {
	s *state
}

func (r *ConversationRepo) Create(_ context.Context, conv *domain.Conversation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.conversations[conv.ID]; ok {
		return repository.ErrDuplicate
	}
	if len(conv.Participants) == 2 && r.findPair(conv.Participants[0], conv.Participants[1]) != nil {
		return repository.ErrDuplicate
	}

	rec := &conversationRecord{
		conv:       *conv,
		archivedBy: make(map[uuid.UUID]bool),
		hiddenFor:  make(map[uuid.UUID]bool),
	}
	rec.conv.Archived = false
	r.s.conversations[conv.ID] = rec
	for _, p := range conv.Participants {
		r.s.userIndex[p] = append(r.s.userIndex[p], conv.ID)
	}
	return nil
}

func (r *ConversationRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rec, ok := r.s.conversations[id]
	if !ok {
		return nil, nil
	}
	c := rec.view(uuid.Nil)
	return &c, nil
}

func (r *ConversationRepo) GetByParticipants(_ context.Context, user1ID, user2ID uuid.UUID) (*domain.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rec := r.findPair(user1ID, user2ID)
	if rec == nil {
		return nil, nil
	}
	c := rec.view(uuid.Nil)
	return &c, nil
}

// findPair expects the lock to be held.
func (r *ConversationRepo) findPair(a, b uuid.UUID) *conversationRecord {
	for _, id := range r.s.userIndex[a] {
		rec := r.s.conversations[id]
		if len(rec.conv.Participants) == 2 && rec.conv.HasParticipant(a) && rec.conv.HasParticipant(b) {
			return rec
		}
	}
	return nil
}

func (r *ConversationRepo) ListByUser(_ context.Context, userID uuid.UUID, folder string) ([]domain.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	wantArchived := folder == domain.FolderArchived
	var convs []domain.Conversation
	for _, id := range r.s.userIndex[userID] {
		rec := r.s.conversations[id]
		if rec.hiddenFor[userID] || rec.archivedBy[userID] != wantArchived {
			continue
		}
		convs = append(convs, rec.view(userID))
	}

	sort.SliceStable(convs, func(i, j int) bool {
		return activity(convs[i]).After(activity(convs[j]))
	})
	return convs, nil
}

func activity(c domain.Conversation) time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

func (r *ConversationRepo) SetArchived(_ context.Context, id, userID uuid.UUID, archived bool) error {
	return r.update(id, func(rec *conversationRecord) {
		if archived {
			rec.archivedBy[userID] = true
		} else {
			delete(rec.archivedBy, userID)
		}
	})
}

func (r *ConversationRepo) Hide(_ context.Context, id, userID uuid.UUID) error {
	return r.update(id, func(rec *conversationRecord) {
		rec.hiddenFor[userID] = true
	})
}

func (r *ConversationRepo) Flag(_ context.Context, id uuid.UUID, reason string, at time.Time) error {
	return r.update(id, func(rec *conversationRecord) {
		rec.conv.Flagged = true
		rec.conv.FlagReason = &reason
		rec.conv.FlaggedAt = &at
	})
}

func (r *ConversationRepo) Unflag(_ context.Context, id uuid.UUID) error {
	return r.update(id, func(rec *conversationRecord) {
		rec.conv.Flagged = false
		rec.conv.FlagReason = nil
		rec.conv.FlaggedAt = nil
	})
}

func (r *ConversationRepo) ListFlagged(_ context.Context, limit int) ([]domain.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var convs []domain.Conversation
	for _, rec := range r.s.conversations {
		if rec.conv.Flagged {
			convs = append(convs, rec.view(uuid.Nil))
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].FlaggedAt.After(*convs[j].FlaggedAt)
	})
	if len(convs) > limit {
		convs = convs[:limit]
	}
	return convs, nil
}

func (r *ConversationRepo) TouchLastMessage(_ context.Context, id, messageID uuid.UUID, at time.Time) error {
	return r.update(id, func(rec *conversationRecord) {
		if rec.conv.LastMessageAt != nil && rec.conv.LastMessageAt.After(at) {
			return
		}
		rec.conv.LastMessageAt = &at
		rec.conv.LastMessageID = &messageID
		clear(rec.hiddenFor)
	})
}

func (r *ConversationRepo) update(id uuid.UUID, fn func(*conversationRecord)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if rec, ok := r.s.conversations[id]; ok {
		fn(rec)
	}
	return nil
}
