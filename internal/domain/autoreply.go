package domain

import (
	"time"

	"github.com/google/uuid"
)

const TriggerFirstMessage = "first_message"

type AutoReplyTemplate struct {
	ID              uuid.UUID `json:"id"`
	SellerID        uuid.UUID `json:"seller_id"`
	TriggerKey      string    `json:"trigger_key"`
	Body            string    `json:"body"`
	Enabled         bool      `json:"enabled"`
	ReviewedByAdmin bool      `json:"reviewed_by_admin"`
	UsageCount      int       `json:"usage_count"`
	DelaySeconds    int       `json:"delay_seconds"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Fireable reports whether the template passed the approval gate.
func (t *AutoReplyTemplate) Fireable() bool {
	return t.Enabled && t.ReviewedByAdmin
}
