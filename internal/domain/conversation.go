package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

type Conversation struct {
	ID            uuid.UUID   `json:"id"`
	Participants  []uuid.UUID `json:"participants"`
	ProductID     *uuid.UUID  `json:"product_id,omitempty"`
	Flagged       bool        `json:"flagged"`
	FlagReason    *string     `json:"flag_reason,omitempty"`
	FlaggedAt     *time.Time  `json:"flagged_at,omitempty"`
	LastMessageAt *time.Time  `json:"last_message_at,omitempty"`
	LastMessageID *uuid.UUID  `json:"last_message_id,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	// Per-viewer fields
	Archived bool `json:"archived"`
}

func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	return slices.Contains(c.Participants, userID)
}

// OtherParticipants returns every participant except the given user, in order.
func (c *Conversation) OtherParticipants(userID uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p != userID {
			out = append(out, p)
		}
	}
	return out
}

const (
	FolderInbox    = "inbox"
	FolderArchived = "archived"
)
