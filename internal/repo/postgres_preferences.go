package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/JimiYounger/connect-sub001/internal/model"
)

type PostgresPreferenceRepo struct {
	db *sql.DB
}

var _ PreferenceRepository = (*PostgresPreferenceRepo)(nil)

func NewPostgresPreferenceRepo(db *sql.DB) *PostgresPreferenceRepo {
	return &PostgresPreferenceRepo{db: db}
}

func (r *PostgresPreferenceRepo) GetPreference(ctx context.Context, recipientID string) (*model.Preference, error) {
	p, err := scanPreference(r.db.QueryRowContext(ctx, `
		SELECT recipient_id, opted_out, opted_out_at, reason, updated_at
		FROM user_message_preferences
		WHERE recipient_id = $1
	`, recipientID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PostgresPreferenceRepo) UpsertPreference(ctx context.Context, recipientID string, optedOut bool, reason string) (model.Preference, error) {
	return scanPreference(r.db.QueryRowContext(ctx, `
		INSERT INTO user_message_preferences (recipient_id, opted_out, opted_out_at, reason, updated_at)
		VALUES ($1, $2, CASE WHEN $2 THEN now() END, $3, now())
		ON CONFLICT (recipient_id) DO UPDATE
		SET opted_out = EXCLUDED.opted_out,
		    opted_out_at = EXCLUDED.opted_out_at,
		    reason = EXCLUDED.reason,
		    updated_at = EXCLUDED.updated_at
		RETURNING recipient_id, opted_out, opted_out_at, reason, updated_at
	`, recipientID, optedOut, reason))
}

func (r *PostgresPreferenceRepo) ListOptedOut(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT recipient_id FROM user_message_preferences WHERE opted_out ORDER BY recipient_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanPreference(row *sql.Row) (model.Preference, error) {
	var (
		p          model.Preference
		optedOutAt sql.NullTime
	)
	if err := row.Scan(&p.RecipientID, &p.OptedOut, &optedOutAt, &p.Reason, &p.UpdatedAt); err != nil {
		return model.Preference{}, err
	}
	if optedOutAt.Valid {
		t := optedOutAt.Time
		p.OptedOutAt = &t
	}
	return p, nil
}
