// Package notify delivers user notifications on the personal channel, either
// directly through the hub or through Redis for an inbox and cross-process relay.
package notify

import (
	"context"

	"github.com/google/uuid"
	"github.com/vedran77/bazaar/internal/domain"
)

// EventNotification is the personal-channel event name.
const EventNotification = "notification"

type Dispatcher interface {
	Dispatch(ctx context.Context, n *domain.Notification) error
}

// UserBroadcaster delivers an event to every live connection of a user.
type UserBroadcaster interface {
	BroadcastToUser(userID uuid.UUID, event string, payload any)
}

// HubDispatcher delivers notifications straight to connected users.
type HubDispatcher struct {
	hub UserBroadcaster
}

func NewHubDispatcher(hub UserBroadcaster) *HubDispatcher {
	return &HubDispatcher{hub: hub}
}

func (d *HubDispatcher) Dispatch(_ context.Context, n *domain.Notification) error {
	d.hub.BroadcastToUser(n.UserID, EventNotification, n)
	return nil
}
