package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/bazaar/internal/database"
	"github.com/vedran77/bazaar/internal/domain"
)

const messageColumns = `m.id, m.conversation_id, m.sender_id, m.body, m.attachments,
	m.product_id, m.read_by, m.auto_reply, m.created_at`

type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var msg domain.Message
	err := row.Scan(
		&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Body, &msg.Attachments,
		&msg.ProductID, &msg.ReadBy, &msg.AutoReply, &msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *MessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	attachments := msg.Attachments
	if attachments == nil {
		attachments = []string{}
	}
	readBy := msg.ReadBy
	if readBy == nil {
		readBy = []uuid.UUID{}
	}

	query := `
		INSERT INTO messages (id, conversation_id, sender_id, body, attachments, product_id, read_by, auto_reply, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	return database.RetryNoResult(ctx, func(ctx context.Context) error {
		_, err := r.pool.Exec(ctx, query,
			msg.ID, msg.ConversationID, msg.SenderID, msg.Body, attachments,
			msg.ProductID, readBy, msg.AutoReply, msg.CreatedAt,
		)
		return mapError(err)
	})
}

func (r *MessageRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	return database.Retry(ctx, func(ctx context.Context) (*domain.Message, error) {
		msg, err := scanMessage(r.pool.QueryRow(ctx,
			"SELECT "+messageColumns+" FROM messages m WHERE m.id = $1", id))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return msg, err
	})
}

func (r *MessageRepo) ListByConversation(ctx context.Context, conversationID uuid.UUID, before *uuid.UUID, limit int) ([]domain.Message, error) {
	args := []any{conversationID}
	if before != nil {
		args = append(args, *before)
	}

	messages, err := r.query(ctx, historyQuery(before != nil, limit), args...)
	if err != nil {
		return nil, err
	}

	// Query returns newest first; callers expect chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// newestFirst orders by insertion within one stored timestamp, since
// timestamptz keeps only microseconds.
const newestFirst = `ORDER BY m.created_at DESC, m.seq DESC`

func historyQuery(withCursor bool, limit int) string {
	cursor := ""
	if withCursor {
		cursor = `
			AND (m.created_at, m.seq) < (SELECT created_at, seq FROM messages WHERE id = $2)`
	}
	return fmt.Sprintf(`
		SELECT %s
		FROM messages m
		WHERE m.conversation_id = $1%s
		%s
		LIMIT %d`, messageColumns, cursor, newestFirst, limit)
}

func searchQuery(limit int) string {
	return fmt.Sprintf(`
		SELECT %s
		FROM messages m
		WHERE m.conversation_id = $1
			AND to_tsvector('simple', m.body) @@ plainto_tsquery('simple', $2)
		%s
		LIMIT %d`, messageColumns, newestFirst, limit)
}

func (r *MessageRepo) Search(ctx context.Context, conversationID uuid.UUID, query string, limit int) ([]domain.Message, error) {
	return r.query(ctx, searchQuery(limit), conversationID, query)
}

func (r *MessageRepo) AddReader(ctx context.Context, id, userID uuid.UUID) ([]uuid.UUID, error) {
	return database.Retry(ctx, func(ctx context.Context) ([]uuid.UUID, error) {
		var readBy []uuid.UUID
		err := r.pool.QueryRow(ctx, `
			UPDATE messages
			SET read_by = CASE WHEN $2 = ANY(read_by) THEN read_by ELSE array_append(read_by, $2) END
			WHERE id = $1
			RETURNING read_by`, id, userID,
		).Scan(&readBy)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return readBy, err
	})
}

func (r *MessageRepo) CountBySender(ctx context.Context, conversationID, senderID uuid.UUID) (int, error) {
	return database.Retry(ctx, func(ctx context.Context) (int, error) {
		var n int
		err := r.pool.QueryRow(ctx, `
			SELECT count(*) FROM messages WHERE conversation_id = $1 AND sender_id = $2 AND NOT auto_reply`,
			conversationID, senderID,
		).Scan(&n)
		return n, err
	})
}

func (r *MessageRepo) query(ctx context.Context, query string, args ...any) ([]domain.Message, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}
