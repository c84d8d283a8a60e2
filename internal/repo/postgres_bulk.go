package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/JimiYounger/connect-sub001/internal/model"
)

type PostgresBulkRepo struct {
	db *sql.DB
}

var _ BulkRepository = (*PostgresBulkRepo)(nil)

func NewPostgresBulkRepo(db *sql.DB) *PostgresBulkRepo {
	return &PostgresBulkRepo{db: db}
}

func (r *PostgresBulkRepo) CreateBulk(ctx context.Context, b *model.BulkMessage) error {
	vars := b.TemplateVariables
	if vars == nil {
		vars = map[string]string{}
	}
	raw, err := json.Marshal(vars)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO bulk_messages (id, content, sender_id, template_variables, total_recipients, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, b.ID, b.Content, b.SenderID, string(raw), b.TotalRecipients, b.CreatedAt)
	return err
}

func (r *PostgresBulkRepo) GetBulk(ctx context.Context, id string) (model.BulkMessage, error) {
	var (
		b   model.BulkMessage
		raw []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, content, sender_id, template_variables, total_recipients,
		       segment_count, success_count, failure_count, created_at
		FROM bulk_messages
		WHERE id = $1
	`, id).Scan(
		&b.ID,
		&b.Content,
		&b.SenderID,
		&raw,
		&b.TotalRecipients,
		&b.SegmentCount,
		&b.SuccessCount,
		&b.FailureCount,
		&b.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.BulkMessage{}, ErrNotFound
	}
	if err != nil {
		return model.BulkMessage{}, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &b.TemplateVariables); err != nil {
			return model.BulkMessage{}, err
		}
	}
	return b, nil
}

func (r *PostgresBulkRepo) UpdateBulkSummary(ctx context.Context, id string, s model.BulkSummary) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE bulk_messages
		SET total_recipients = total_recipients - $2,
		    segment_count = $3,
		    success_count = $4,
		    failure_count = $5
		WHERE id = $1
	`, id, s.Uncreated, s.SegmentCount, s.SuccessCount, s.FailureCount)
	return affectedOrNotFound(res, err)
}

func (r *PostgresBulkRepo) IncrementBulkRecipients(ctx context.Context, id string, n int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE bulk_messages SET total_recipients = total_recipients + $2 WHERE id = $1
	`, id, n)
	return affectedOrNotFound(res, err)
}

func affectedOrNotFound(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
