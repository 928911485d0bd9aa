package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/bazaar/internal/repository"
)

// NewStore wires every Postgres repository onto one pool.
func NewStore(pool *pgxpool.Pool) *repository.Store {
	return &repository.Store{
		Users:         NewUserRepo(pool),
		Enforcement:   NewEnforcementRepo(pool),
		Conversations: NewConversationRepo(pool),
		Messages:      NewMessageRepo(pool),
		AutoReplies:   NewAutoReplyRepo(pool),
	}
}
