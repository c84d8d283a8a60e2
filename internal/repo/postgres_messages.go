package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/JimiYounger/connect-sub001/internal/model"
)

type PostgresMessageRepo struct {
	db *sql.DB
}

var _ MessageRepository = (*PostgresMessageRepo)(nil)

func NewPostgresMessageRepo(db *sql.DB) *PostgresMessageRepo {
	return &PostgresMessageRepo{db: db}
}

const messageColumns = `id, content, sender_id, recipient_id, bulk_message_id, direction,
	carrier_id, status, error_code, error_message, created_at, updated_at, read_at`

func (r *PostgresMessageRepo) Create(ctx context.Context, m *model.Message) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		m.ID,
		m.Content,
		m.SenderID,
		m.RecipientID,
		nullable(m.BulkMessageID),
		string(m.Direction),
		nullable(m.CarrierID),
		string(m.Status),
		nullable(m.ErrorCode),
		nullable(m.ErrorMessage),
		m.CreatedAt,
		m.UpdatedAt,
		nullableTime(m.ReadAt),
	)
	return err
}

func (r *PostgresMessageRepo) Get(ctx context.Context, id string) (model.Message, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	return scanOne(row)
}

func (r *PostgresMessageRepo) GetByCarrierID(ctx context.Context, carrierID string) (model.Message, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE carrier_id = $1`, carrierID)
	return scanOne(row)
}

func (r *PostgresMessageRepo) Transition(ctx context.Context, id string, from model.Status, u model.StatusUpdate) (bool, error) {
	return r.transition(ctx, "id", id, from, u)
}

func (r *PostgresMessageRepo) TransitionByCarrierID(ctx context.Context, carrierID string, from model.Status, u model.StatusUpdate) (bool, error) {
	return r.transition(ctx, "carrier_id", carrierID, from, u)
}

// key is one of two fixed column names, never caller input.
func (r *PostgresMessageRepo) transition(ctx context.Context, key, value string, from model.Status, u model.StatusUpdate) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET status = $3,
		    carrier_id = COALESCE($4, carrier_id),
		    error_code = COALESCE($5, error_code),
		    error_message = COALESCE($6, error_message),
		    updated_at = $7,
		    read_at = CASE WHEN $3 = 'read' THEN COALESCE(read_at, $7) ELSE read_at END
		WHERE `+key+` = $1 AND status = $2
	`,
		value,
		string(from),
		string(u.Status),
		nullable(u.CarrierID),
		nullable(u.ErrorCode),
		nullable(u.ErrorMessage),
		u.At,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PostgresMessageRepo) ListConversation(ctx context.Context, userA, userB string, limit, offset int) ([]model.Message, error) {
	limit, offset = clampPage(limit, offset)
	return r.query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE (sender_id = $1 AND recipient_id = $2)
		   OR (sender_id = $2 AND recipient_id = $1)
		ORDER BY created_at ASC, id ASC
		LIMIT $3 OFFSET $4
	`, userA, userB, limit, offset)
}

func (r *PostgresMessageRepo) ListForUser(ctx context.Context, userID string, limit, offset int) ([]model.Message, error) {
	limit, offset = clampPage(limit, offset)
	return r.query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE sender_id = $1 OR recipient_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
}

func (r *PostgresMessageRepo) LatestOutboundTo(ctx context.Context, recipientID string) (model.Message, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE recipient_id = $1 AND direction = 'outbound'
		ORDER BY created_at DESC
		LIMIT 1
	`, recipientID)
	return scanOne(row)
}

func (r *PostgresMessageRepo) MarkRead(ctx context.Context, readerID, messageID string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET status = 'read', read_at = $3, updated_at = $3
		WHERE id = $2
		  AND recipient_id = $1
		  AND direction = 'inbound'
		  AND read_at IS NULL
		  AND status NOT IN ('read', 'failed')
	`, readerID, messageID, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *PostgresMessageRepo) MarkConversationRead(ctx context.Context, readerID, otherID string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET status = 'read', read_at = $3, updated_at = $3
		WHERE recipient_id = $1
		  AND sender_id = $2
		  AND direction = 'inbound'
		  AND read_at IS NULL
		  AND status NOT IN ('read', 'failed')
	`, readerID, otherID, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresMessageRepo) FailStaleQueued(ctx context.Context, before time.Time, reason string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET status = 'failed',
		    error_code = 'abandoned',
		    error_message = $2,
		    updated_at = now()
		WHERE status = 'queued'
		  AND direction = 'outbound'
		  AND created_at < $1
	`, before, reason)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresMessageRepo) query(ctx context.Context, q string, args ...any) ([]model.Message, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOne(row *sql.Row) (model.Message, error) {
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Message{}, ErrNotFound
	}
	return m, err
}

func scanMessage(s scanner) (model.Message, error) {
	var (
		m         model.Message
		direction string
		status    string
		bulkID    sql.NullString
		carrierID sql.NullString
		errCode   sql.NullString
		errMsg    sql.NullString
		readAt    sql.NullTime
	)

	if err := s.Scan(
		&m.ID,
		&m.Content,
		&m.SenderID,
		&m.RecipientID,
		&bulkID,
		&direction,
		&carrierID,
		&status,
		&errCode,
		&errMsg,
		&m.CreatedAt,
		&m.UpdatedAt,
		&readAt,
	); err != nil {
		return model.Message{}, err
	}

	m.Direction = model.Direction(direction)
	m.Status = model.Status(status)
	m.BulkMessageID = fromNull(bulkID)
	m.CarrierID = fromNull(carrierID)
	m.ErrorCode = fromNull(errCode)
	m.ErrorMessage = fromNull(errMsg)
	if readAt.Valid {
		t := readAt.Time
		m.ReadAt = &t
	}
	return m, nil
}

func fromNull(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
