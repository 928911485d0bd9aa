package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/bazaar/internal/database"
	"github.com/vedran77/bazaar/internal/domain"
	"github.com/vedran77/bazaar/internal/repository"
)

type EnforcementRepo struct {
	pool *pgxpool.Pool
}

func NewEnforcementRepo(pool *pgxpool.Pool) *EnforcementRepo {
	return &EnforcementRepo{pool: pool}
}

func (r *EnforcementRepo) GetState(ctx context.Context, userID uuid.UUID) (*domain.EnforcementState, error) {
	return database.Retry(ctx, func(ctx context.Context) (*domain.EnforcementState, error) {
		var s domain.EnforcementState
		err := r.pool.QueryRow(ctx, `
			SELECT violation_count, warning_count, messaging_restricted, restricted_until
			FROM users WHERE id = $1`, userID,
		).Scan(&s.ViolationCount, &s.WarningCount, &s.MessagingRestricted, &s.RestrictedUntil)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &s, nil
	})
}

// ApplyViolation runs in one transaction. The UPDATE ... RETURNING holds the
// user row lock, so concurrent violations from the same user serialize on
// the counter instead of losing increments.
func (r *EnforcementRepo) ApplyViolation(
	ctx context.Context, event *domain.ViolationEvent, escalate repository.EscalateFunc,
) (*repository.ViolationResult, error) {
	return database.Retry(ctx, func(ctx context.Context) (*repository.ViolationResult, error) {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return nil, err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		kinds := make([]string, len(event.Kinds))
		for i, k := range event.Kinds {
			kinds[i] = string(k)
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO violation_events (id, user_id, kinds, conversation_id, message_key, text, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (user_id, message_key) DO NOTHING`,
			event.ID, event.UserID, kinds, event.ConversationID, event.MessageKey, event.Text, event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("inserting violation event: %w", err)
		}

		var state domain.EnforcementState
		if tag.RowsAffected() == 0 {
			err := tx.QueryRow(ctx, `
				SELECT violation_count, warning_count, messaging_restricted, restricted_until
				FROM users WHERE id = $1`, event.UserID,
			).Scan(&state.ViolationCount, &state.WarningCount, &state.MessagingRestricted, &state.RestrictedUntil)
			if err != nil {
				return nil, err
			}
			return &repository.ViolationResult{State: state, Action: domain.ActionNone}, tx.Commit(ctx)
		}

		err = tx.QueryRow(ctx, `
			UPDATE users SET violation_count = violation_count + 1, updated_at = now()
			WHERE id = $1
			RETURNING violation_count, warning_count, messaging_restricted, restricted_until`, event.UserID,
		).Scan(&state.ViolationCount, &state.WarningCount, &state.MessagingRestricted, &state.RestrictedUntil)
		if err != nil {
			return nil, fmt.Errorf("incrementing violation count: %w", err)
		}

		sanction := escalate(state.ViolationCount)
		switch sanction.Action {
		case domain.ActionWarning:
			err = tx.QueryRow(ctx, `
				UPDATE users SET warning_count = warning_count + 1 WHERE id = $1
				RETURNING warning_count`, event.UserID,
			).Scan(&state.WarningCount)
		case domain.ActionTimedRestriction, domain.ActionIndefiniteRestriction:
			_, err = tx.Exec(ctx, `
				UPDATE users SET messaging_restricted = TRUE, restricted_until = $2 WHERE id = $1`,
				event.UserID, sanction.RestrictedUntil,
			)
			state.MessagingRestricted = true
			state.RestrictedUntil = sanction.RestrictedUntil
		}
		if err != nil {
			return nil, fmt.Errorf("applying sanction: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return &repository.ViolationResult{State: state, Action: sanction.Action, Recorded: true}, nil
	})
}

func (r *EnforcementRepo) SetRestriction(
	ctx context.Context, userID uuid.UUID, restricted bool, until *time.Time,
) (*domain.EnforcementState, error) {
	if !restricted {
		until = nil
	}
	return database.Retry(ctx, func(ctx context.Context) (*domain.EnforcementState, error) {
		var s domain.EnforcementState
		err := r.pool.QueryRow(ctx, `
			UPDATE users SET messaging_restricted = $2, restricted_until = $3, updated_at = now()
			WHERE id = $1
			RETURNING violation_count, warning_count, messaging_restricted, restricted_until`,
			userID, restricted, until,
		).Scan(&s.ViolationCount, &s.WarningCount, &s.MessagingRestricted, &s.RestrictedUntil)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &s, nil
	})
}

func (r *EnforcementRepo) LiftExpired(ctx context.Context, now time.Time) (int64, error) {
	return database.Retry(ctx, func(ctx context.Context) (int64, error) {
		tag, err := r.pool.Exec(ctx, `
			UPDATE users SET messaging_restricted = FALSE, restricted_until = NULL, updated_at = now()
			WHERE messaging_restricted AND restricted_until IS NOT NULL AND restricted_until <= $1`, now)
		if err != nil {
			return 0, err
		}
		return tag.RowsAffected(), nil
	})
}

func (r *EnforcementRepo) ListViolations(ctx context.Context, userID uuid.UUID, limit int) ([]domain.ViolationEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, kinds, conversation_id, message_key, text, created_at
		FROM violation_events
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.ViolationEvent
	for rows.Next() {
		var (
			ev     domain.ViolationEvent
			kinds  []string
			convID *uuid.UUID
		)
		if err := rows.Scan(&ev.ID, &ev.UserID, &kinds, &convID, &ev.MessageKey, &ev.Text, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if convID != nil {
			ev.ConversationID = *convID
		}
		for _, k := range kinds {
			ev.Kinds = append(ev.Kinds, domain.ViolationKind(k))
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
