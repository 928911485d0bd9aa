package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/bazaar/internal/database"
	"github.com/vedran77/bazaar/internal/domain"
)

const templateColumns = `id, seller_id, trigger_key, body, enabled, reviewed_by_admin,
	usage_count, delay_seconds, created_at, updated_at`

type AutoReplyRepo struct {
	pool *pgxpool.Pool
}

func NewAutoReplyRepo(pool *pgxpool.Pool) *AutoReplyRepo {
	return &AutoReplyRepo{pool: pool}
}

func scanTemplate(row pgx.Row) (*domain.AutoReplyTemplate, error) {
	var t domain.AutoReplyTemplate
	err := row.Scan(
		&t.ID, &t.SellerID, &t.TriggerKey, &t.Body, &t.Enabled, &t.ReviewedByAdmin,
		&t.UsageCount, &t.DelaySeconds, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *AutoReplyRepo) Create(ctx context.Context, tpl *domain.AutoReplyTemplate) error {
	query := `
		INSERT INTO auto_reply_templates
			(id, seller_id, trigger_key, body, enabled, reviewed_by_admin, usage_count, delay_seconds, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.pool.Exec(ctx, query,
		tpl.ID, tpl.SellerID, tpl.TriggerKey, tpl.Body, tpl.Enabled, tpl.ReviewedByAdmin,
		tpl.UsageCount, tpl.DelaySeconds, tpl.CreatedAt, tpl.UpdatedAt,
	)
	return mapError(err)
}

func (r *AutoReplyRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.AutoReplyTemplate, error) {
	return r.getOne(ctx, "SELECT "+templateColumns+" FROM auto_reply_templates WHERE id = $1", id)
}

func (r *AutoReplyRepo) FindBySellerTrigger(ctx context.Context, sellerID uuid.UUID, triggerKey string) (*domain.AutoReplyTemplate, error) {
	return r.getOne(ctx,
		"SELECT "+templateColumns+" FROM auto_reply_templates WHERE seller_id = $1 AND trigger_key = $2",
		sellerID, triggerKey)
}

func (r *AutoReplyRepo) getOne(ctx context.Context, query string, args ...any) (*domain.AutoReplyTemplate, error) {
	return database.Retry(ctx, func(ctx context.Context) (*domain.AutoReplyTemplate, error) {
		tpl, err := scanTemplate(r.pool.QueryRow(ctx, query, args...))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return tpl, err
	})
}

func (r *AutoReplyRepo) Update(ctx context.Context, tpl *domain.AutoReplyTemplate) error {
	query := `
		UPDATE auto_reply_templates
		SET trigger_key = $2, body = $3, enabled = $4, reviewed_by_admin = $5, delay_seconds = $6, updated_at = $7
		WHERE id = $1`
	_, err := r.pool.Exec(ctx, query,
		tpl.ID, tpl.TriggerKey, tpl.Body, tpl.Enabled, tpl.ReviewedByAdmin, tpl.DelaySeconds, tpl.UpdatedAt,
	)
	return mapError(err)
}

func (r *AutoReplyRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM auto_reply_templates WHERE id = $1`, id)
	return err
}

func (r *AutoReplyRepo) ListBySeller(ctx context.Context, sellerID uuid.UUID) ([]domain.AutoReplyTemplate, error) {
	return r.list(ctx, `
		SELECT `+templateColumns+`
		FROM auto_reply_templates
		WHERE seller_id = $1
		ORDER BY created_at`, sellerID)
}

func (r *AutoReplyRepo) ListPending(ctx context.Context) ([]domain.AutoReplyTemplate, error) {
	return r.list(ctx, `
		SELECT `+templateColumns+`
		FROM auto_reply_templates
		WHERE NOT reviewed_by_admin
		ORDER BY updated_at`)
}

func (r *AutoReplyRepo) list(ctx context.Context, query string, args ...any) ([]domain.AutoReplyTemplate, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tpls []domain.AutoReplyTemplate
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		tpls = append(tpls, *tpl)
	}
	return tpls, rows.Err()
}

func (r *AutoReplyRepo) SetReviewed(ctx context.Context, id uuid.UUID, reviewed bool) error {
	return database.RetryNoResult(ctx, func(ctx context.Context) error {
		_, err := r.pool.Exec(ctx,
			`UPDATE auto_reply_templates SET reviewed_by_admin = $2, updated_at = now() WHERE id = $1`,
			id, reviewed)
		return err
	})
}

func (r *AutoReplyRepo) IncrementUsage(ctx context.Context, id uuid.UUID) error {
	return database.RetryNoResult(ctx, func(ctx context.Context) error {
		_, err := r.pool.Exec(ctx,
			`UPDATE auto_reply_templates SET usage_count = usage_count + 1 WHERE id = $1`, id)
		return err
	})
}
