package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/bazaar/internal/domain"
	"github.com/vedran77/bazaar/internal/repository"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotParticipant       = errors.New("you are not a participant of this conversation")
	ErrCannotMessageSelf    = errors.New("cannot start a conversation with yourself")
	ErrUserNotFound         = errors.New("user not found")
	ErrInvalidFolder        = errors.New("folder must be inbox or archived")
	ErrEmptyQuery           = errors.New("search query is required")
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
	flaggedPageSize = 100
)

type ConversationService struct {
	convRepo repository.ConversationRepository
	userRepo repository.UserRepository
	msgRepo  repository.MessageRepository
}

func NewConversationService(store *repository.Store) *ConversationService {
	return &ConversationService{
		convRepo: store.Conversations,
		userRepo: store.Users,
		msgRepo:  store.Messages,
	}
}

// GetOrCreate finds or creates the conversation between two users. The
// participant pair is stored in canonical order.
func (s *ConversationService) GetOrCreate(ctx context.Context, userID, otherUserID uuid.UUID, productID *uuid.UUID) (*domain.Conversation, error) {
	if userID == otherUserID {
		return nil, ErrCannotMessageSelf
	}

	other, err := s.userRepo.GetByID(ctx, otherUserID)
	if err != nil {
		return nil, err
	}
	if other == nil {
		return nil, ErrUserNotFound
	}

	conv, err := s.convRepo.GetByParticipants(ctx, userID, otherUserID)
	if err != nil {
		return nil, err
	}
	if conv != nil {
		return conv, nil
	}

	participants := []uuid.UUID{userID, otherUserID}
	slices.SortFunc(participants, func(a, b uuid.UUID) int {
		return strings.Compare(a.String(), b.String())
	})

	conv = &domain.Conversation{
		ID:           uuid.New(),
		Participants: participants,
		ProductID:    productID,
		CreatedAt:    time.Now(),
	}
	if err := s.convRepo.Create(ctx, conv); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// Lost a creation race; the winner's row is the conversation.
			return s.convRepo.GetByParticipants(ctx, userID, otherUserID)
		}
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	return conv, nil
}

func (s *ConversationService) List(ctx context.Context, userID uuid.UUID, folder string) ([]domain.Conversation, error) {
	if folder == "" {
		folder = domain.FolderInbox
	}
	if folder != domain.FolderInbox && folder != domain.FolderArchived {
		return nil, ErrInvalidFolder
	}

	convs, err := s.convRepo.ListByUser(ctx, userID, folder)
	if err != nil {
		return nil, err
	}
	if convs == nil {
		convs = []domain.Conversation{}
	}
	return convs, nil
}

// Get returns the conversation if viewer is a participant or an admin.
func (s *ConversationService) Get(ctx context.Context, viewer Claims, id uuid.UUID) (*domain.Conversation, error) {
	conv, err := s.convRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	if !conv.HasParticipant(viewer.UserID) && !viewer.IsAdmin() {
		return nil, ErrNotParticipant
	}
	return conv, nil
}

// Delete hides the conversation for the caller only. A new message unhides it.
func (s *ConversationService) Delete(ctx context.Context, userID, id uuid.UUID) error {
	if _, err := s.Get(ctx, Claims{UserID: userID}, id); err != nil {
		return err
	}
	return s.convRepo.Hide(ctx, id, userID)
}

func (s *ConversationService) Archive(ctx context.Context, userID, id uuid.UUID) error {
	return s.setArchived(ctx, userID, id, true)
}

func (s *ConversationService) MoveToInbox(ctx context.Context, userID, id uuid.UUID) error {
	return s.setArchived(ctx, userID, id, false)
}

func (s *ConversationService) setArchived(ctx context.Context, userID, id uuid.UUID, archived bool) error {
	if _, err := s.Get(ctx, Claims{UserID: userID}, id); err != nil {
		return err
	}
	return s.convRepo.SetArchived(ctx, id, userID, archived)
}

// Messages returns one page of history in chronological order.
func (s *ConversationService) Messages(ctx context.Context, viewer Claims, id uuid.UUID, before *uuid.UUID, limit int) (*domain.MessagePage, error) {
	if _, err := s.Get(ctx, viewer, id); err != nil {
		return nil, err
	}

	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}

	messages, err := s.msgRepo.ListByConversation(ctx, id, before, limit+1)
	if err != nil {
		return nil, err
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[len(messages)-limit:]
	}
	if messages == nil {
		messages = []domain.Message{}
	}

	return &domain.MessagePage{Messages: messages, HasMore: hasMore}, nil
}

func (s *ConversationService) Search(ctx context.Context, viewer Claims, id uuid.UUID, query string, limit int) ([]domain.Message, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if _, err := s.Get(ctx, viewer, id); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}

	messages, err := s.msgRepo.Search(ctx, id, query, limit)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	return messages, nil
}

func (s *ConversationService) Flag(ctx context.Context, id uuid.UUID, reason string) (*domain.Conversation, error) {
	if err := s.exists(ctx, id); err != nil {
		return nil, err
	}
	if err := s.convRepo.Flag(ctx, id, reason, time.Now()); err != nil {
		return nil, err
	}
	return s.convRepo.GetByID(ctx, id)
}

func (s *ConversationService) Unflag(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	if err := s.exists(ctx, id); err != nil {
		return nil, err
	}
	if err := s.convRepo.Unflag(ctx, id); err != nil {
		return nil, err
	}
	return s.convRepo.GetByID(ctx, id)
}

func (s *ConversationService) ListFlagged(ctx context.Context) ([]domain.Conversation, error) {
	convs, err := s.convRepo.ListFlagged(ctx, flaggedPageSize)
	if err != nil {
		return nil, err
	}
	if convs == nil {
		convs = []domain.Conversation{}
	}
	return convs, nil
}

func (s *ConversationService) exists(ctx context.Context, id uuid.UUID) error {
	conv, err := s.convRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if conv == nil {
		return ErrConversationNotFound
	}
	return nil
}
