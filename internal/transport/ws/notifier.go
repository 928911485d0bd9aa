package ws

import (
	"github.com/google/uuid"
	"github.com/vedran77/bazaar/internal/domain"
)

// HubNotifier implements service.Notifier by broadcasting to conversation rooms.
type HubNotifier struct {
	hub *Hub
}

func NewHubNotifier(hub *Hub) *HubNotifier {
	return &HubNotifier{hub: hub}
}

func (n *HubNotifier) NotifyNewMessage(msg *domain.Message) {
	n.hub.BroadcastToRoom(msg.ConversationID, EventNewMessage, msg)
}

func (n *HubNotifier) NotifyReadStatus(conversationID, messageID uuid.UUID, readBy []uuid.UUID) {
	n.hub.BroadcastToRoom(conversationID, EventUpdateReadStatus, ReadStatusPayload{
		MessageID: messageID,
		ReadBy:    readBy,
	})
}
