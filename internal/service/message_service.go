package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/bazaar/internal/domain"
	"github.com/vedran77/bazaar/internal/repository"
	"go.uber.org/zap"
)

// Notifier broadcasts real-time events to connected clients.
type Notifier interface {
	NotifyNewMessage(msg *domain.Message)
	NotifyReadStatus(conversationID, messageID uuid.UUID, readBy []uuid.UUID)
}

// MessageService persists messages and fans them out to the conversation room.
type MessageService struct {
	messageRepo repository.MessageRepository
	convRepo    repository.ConversationRepository
	notifier    Notifier
	logger      *zap.Logger
}

func NewMessageService(store *repository.Store, logger *zap.Logger) *MessageService {
	return &MessageService{
		messageRepo: store.Messages,
		convRepo:    store.Conversations,
		logger:      logger.Named("messages"),
	}
}

// SetNotifier sets the real-time notifier (optional dependency).
func (s *MessageService) SetNotifier(n Notifier) {
	s.notifier = n
}

// Persist validates references and stores msg. Malformed references fail
// with a validation error; store failures with a persistence error.
func (s *MessageService) Persist(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	if msg.ConversationID == uuid.Nil {
		return nil, domain.ValidationError(domain.CodeInvalidConversationID, "conversation id is required")
	}
	if msg.SenderID == uuid.Nil {
		return nil, domain.ValidationError(domain.CodeInvalidSender, "sender id is required")
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.ReadBy == nil {
		msg.ReadBy = []uuid.UUID{msg.SenderID}
	}

	if err := s.messageRepo.Create(ctx, msg); err != nil {
		return nil, domain.PersistenceError(err)
	}
	return msg, nil
}

// Broadcast delivers msg to every connection in its room, sender included.
func (s *MessageService) Broadcast(msg *domain.Message) {
	if s.notifier != nil {
		s.notifier.NotifyNewMessage(msg)
	}
}

// TouchConversation moves the conversation's last-message pointer. Failures
// are non-critical.
func (s *MessageService) TouchConversation(ctx context.Context, msg *domain.Message) error {
	if err := s.convRepo.TouchLastMessage(ctx, msg.ConversationID, msg.ID, msg.CreatedAt); err != nil {
		return domain.NonCriticalError(domain.EventConversationUpdate, err)
	}
	return nil
}

// Deliver runs persist, broadcast and the metadata update in order.
func (s *MessageService) Deliver(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	stored, err := s.Persist(ctx, msg)
	if err != nil {
		return nil, err
	}
	s.Broadcast(stored)
	if err := s.TouchConversation(ctx, stored); err != nil {
		s.logger.Warn("Failed to update conversation metadata",
			zap.Stringer("conversationID", stored.ConversationID),
			zap.Error(err))
	}
	return stored, nil
}

// MarkRead adds userID to the message's readers and announces the new set.
func (s *MessageService) MarkRead(ctx context.Context, conversationID, messageID, userID uuid.UUID) ([]uuid.UUID, error) {
	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, domain.PersistenceError(err)
	}
	if msg == nil || msg.ConversationID != conversationID {
		return nil, domain.ValidationError(domain.CodeMessageNotFound, "message not found")
	}

	readBy, err := s.messageRepo.AddReader(ctx, messageID, userID)
	if err != nil {
		return nil, domain.PersistenceError(err)
	}
	if s.notifier != nil {
		s.notifier.NotifyReadStatus(conversationID, messageID, readBy)
	}
	return readBy, nil
}
