package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/bazaar/internal/database"
	"github.com/vedran77/bazaar/internal/domain"
)

const conversationColumns = `id, participant_ids, product_id, flagged, flag_reason, flagged_at,
	last_message_at, last_message_id, created_at`

type ConversationRepo struct {
	pool *pgxpool.Pool
}

func NewConversationRepo(pool *pgxpool.Pool) *ConversationRepo {
	return &ConversationRepo{pool: pool}
}

func scanConversation(row pgx.Row, extra ...any) (*domain.Conversation, error) {
	var c domain.Conversation
	dest := []any{
		&c.ID, &c.Participants, &c.ProductID, &c.Flagged, &c.FlagReason, &c.FlaggedAt,
		&c.LastMessageAt, &c.LastMessageID, &c.CreatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ConversationRepo) Create(ctx context.Context, conv *domain.Conversation) error {
	query := `
		INSERT INTO conversations (id, participant_ids, product_id, created_at)
		VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, query, conv.ID, conv.Participants, conv.ProductID, conv.CreatedAt)
	return mapError(err)
}

func (r *ConversationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	return database.Retry(ctx, func(ctx context.Context) (*domain.Conversation, error) {
		conv, err := scanConversation(r.pool.QueryRow(ctx,
			"SELECT "+conversationColumns+" FROM conversations WHERE id = $1", id))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return conv, err
	})
}

// GetByParticipants matches the pair regardless of order.
func (r *ConversationRepo) GetByParticipants(ctx context.Context, user1ID, user2ID uuid.UUID) (*domain.Conversation, error) {
	return database.Retry(ctx, func(ctx context.Context) (*domain.Conversation, error) {
		conv, err := scanConversation(r.pool.QueryRow(ctx, `
			SELECT `+conversationColumns+`
			FROM conversations
			WHERE participant_ids @> ARRAY[$1, $2]::uuid[] AND cardinality(participant_ids) = 2`,
			user1ID, user2ID))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return conv, err
	})
}

func (r *ConversationRepo) ListByUser(ctx context.Context, userID uuid.UUID, folder string) ([]domain.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `, $1 = ANY(archived_by) AS archived
		FROM conversations
		WHERE $1 = ANY(participant_ids) AND NOT ($1 = ANY(hidden_for))
			AND ($1 = ANY(archived_by)) = $2
		ORDER BY COALESCE(last_message_at, created_at) DESC`

	rows, err := r.pool.Query(ctx, query, userID, folder == domain.FolderArchived)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []domain.Conversation
	for rows.Next() {
		var archived bool
		conv, err := scanConversation(rows, &archived)
		if err != nil {
			return nil, err
		}
		conv.Archived = archived
		convs = append(convs, *conv)
	}
	return convs, rows.Err()
}

func (r *ConversationRepo) SetArchived(ctx context.Context, id, userID uuid.UUID, archived bool) error {
	query := `UPDATE conversations SET archived_by = array_remove(archived_by, $2) WHERE id = $1`
	if archived {
		query = `
			UPDATE conversations SET archived_by = array_append(array_remove(archived_by, $2), $2)
			WHERE id = $1`
	}
	return database.RetryNoResult(ctx, func(ctx context.Context) error {
		_, err := r.pool.Exec(ctx, query, id, userID)
		return err
	})
}

func (r *ConversationRepo) Hide(ctx context.Context, id, userID uuid.UUID) error {
	return database.RetryNoResult(ctx, func(ctx context.Context) error {
		_, err := r.pool.Exec(ctx, `
			UPDATE conversations SET hidden_for = array_append(array_remove(hidden_for, $2), $2)
			WHERE id = $1`, id, userID)
		return err
	})
}

func (r *ConversationRepo) Flag(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	return database.RetryNoResult(ctx, func(ctx context.Context) error {
		_, err := r.pool.Exec(ctx, `
			UPDATE conversations SET flagged = TRUE, flag_reason = $2, flagged_at = $3
			WHERE id = $1`, id, reason, at)
		return err
	})
}

func (r *ConversationRepo) Unflag(ctx context.Context, id uuid.UUID) error {
	return database.RetryNoResult(ctx, func(ctx context.Context) error {
		_, err := r.pool.Exec(ctx, `
			UPDATE conversations SET flagged = FALSE, flag_reason = NULL, flagged_at = NULL
			WHERE id = $1`, id)
		return err
	})
}

func (r *ConversationRepo) ListFlagged(ctx context.Context, limit int) ([]domain.Conversation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE flagged
		ORDER BY flagged_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []domain.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *conv)
	}
	return convs, rows.Err()
}

func (r *ConversationRepo) TouchLastMessage(ctx context.Context, id, messageID uuid.UUID, at time.Time) error {
	return database.RetryNoResult(ctx, func(ctx context.Context) error {
		_, err := r.pool.Exec(ctx, `
			UPDATE conversations
			SET last_message_at = $3, last_message_id = $2, hidden_for = '{}'
			WHERE id = $1 AND (last_message_at IS NULL OR last_message_at <= $3)`,
			id, messageID, at)
		return err
	})
}
