package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"hie/internal/apperror"
	"hie/internal/cache"
	"hie/internal/database"
)

// PostgresStore is the production Store implementation, backed by the
// headers/bodies tables created by the package's goose migrations.
type PostgresStore struct {
	db database.DB
}

// NewPostgresStore wraps an already-connected database.DB.
func NewPostgresStore(db database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) StoreHeader(ctx context.Context, leg LegDetails) (string, error) {
	hash := cache.QuickHash(append(append([]byte{}, leg.RawBytes...), []byte(leg.ContentType)...))

	_, err := s.db.Exec(ctx, `
		INSERT INTO bodies (hash, raw_bytes, content_type, message_type, control_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (hash) DO NOTHING
	`, hash, leg.RawBytes, leg.ContentType, leg.MessageType, leg.ControlID)
	if err != nil {
		return "", apperror.Wrap(err, apperror.CodeInternal, "failed to store body")
	}

	id := uuid.NewString()
	_, err = s.db.Exec(ctx, `
		INSERT INTO headers (
			id, correlation_id, session_id, sequence_num,
			source_config_name, target_config_name, message_type, direction,
			status, body_hash, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		id,
		leg.CorrelationID,
		leg.SessionID,
		leg.SequenceNum,
		leg.SourceConfigName,
		leg.TargetConfigName,
		leg.MessageType,
		leg.Direction,
		StatusCreated,
		hash,
		leg.ExpiresAt,
	)
	if err != nil {
		return "", apperror.Wrap(err, apperror.CodeInternal, "failed to store header")
	}

	return id, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status Status, ackContent, errMessage string) error {
	result, err := s.db.Exec(ctx, `
		UPDATE headers
		SET status = $2, ack_content = $3, error_message = $4,
			updated_at = now(),
			latency_ms = EXTRACT(EPOCH FROM (now() - received_at)) * 1000
		WHERE id = $1
	`, id, status, ackContent, errMessage)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeInternal, "failed to update header status")
	}
	if result.RowsAffected() == 0 {
		return apperror.NewWithField(apperror.CodeNotFound, "header not found", id)
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*Header, error) {
	h := &Header{}
	var latencyMS int64

	err := s.db.QueryRow(ctx, `
		SELECT
			id, correlation_id, session_id, sequence_num,
			source_config_name, target_config_name, message_type, direction,
			status, retry_count, body_hash, ack_content, error_message,
			received_at, updated_at, latency_ms, expires_at
		FROM headers
		WHERE id = $1
	`, id).Scan(
		&h.ID,
		&h.CorrelationID,
		&h.SessionID,
		&h.SequenceNum,
		&h.SourceConfigName,
		&h.TargetConfigName,
		&h.MessageType,
		&h.Direction,
		&h.Status,
		&h.RetryCount,
		&h.BodyHash,
		&h.AckContent,
		&h.ErrorMessage,
		&h.ReceivedAt,
		&h.UpdatedAt,
		&latencyMS,
		&h.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NewWithField(apperror.CodeNotFound, "header not found", id)
		}
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to get header")
	}

	h.Latency = time.Duration(latencyMS) * time.Millisecond
	return h, nil
}

func (s *PostgresStore) GetContent(ctx context.Context, id string) ([]byte, string, error) {
	var raw []byte
	var contentType string

	err := s.db.QueryRow(ctx, `
		SELECT b.raw_bytes, b.content_type
		FROM headers h
		JOIN bodies b ON b.hash = h.body_hash
		WHERE h.id = $1
	`, id).Scan(&raw, &contentType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", apperror.NewWithField(apperror.CodeNotFound, "header not found", id)
		}
		return nil, "", apperror.Wrap(err, apperror.CodeInternal, "failed to get body content")
	}

	return raw, contentType, nil
}

func (s *PostgresStore) ListByProject(ctx context.Context, projectID string, filters Query, limit, offset int) ([]*Header, int, error) {
	filters.SourceConfigName = firstNonEmpty(filters.SourceConfigName, projectID)
	filters.Limit = limit
	filters.Offset = offset

	headers, err := s.Query(ctx, filters)
	if err != nil {
		return nil, 0, err
	}

	where, args := buildWhere(filters)
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM headers WHERE %s`, where)
	var total int
	if err := s.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, apperror.Wrap(err, apperror.CodeInternal, "failed to count headers")
	}

	return headers, total, nil
}

func (s *PostgresStore) Query(ctx context.Context, q Query) ([]*Header, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 500 {
		q.Limit = 500
	}

	where, args := buildWhere(q)
	orderBy := "received_at"
	if q.OrderBy != "" {
		orderBy = q.OrderBy
	}
	dir := "ASC"
	if q.OrderDesc {
		dir = "DESC"
	}

	sqlText := fmt.Sprintf(`
		SELECT
			id, correlation_id, session_id, sequence_num,
			source_config_name, target_config_name, message_type, direction,
			status, retry_count, body_hash, ack_content, error_message,
			received_at, updated_at, latency_ms, expires_at
		FROM headers
		WHERE %s
		ORDER BY %s %s
		LIMIT $%d OFFSET $%d
	`, where, orderBy, dir, len(args)+1, len(args)+2)
	args = append(args, q.Limit, q.Offset)

	rows, err := s.db.Query(ctx, sqlText, args...)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to query headers")
	}
	defer rows.Close()

	var results []*Header
	for rows.Next() {
		h := &Header{}
		var latencyMS int64
		err := rows.Scan(
			&h.ID,
			&h.CorrelationID,
			&h.SessionID,
			&h.SequenceNum,
			&h.SourceConfigName,
			&h.TargetConfigName,
			&h.MessageType,
			&h.Direction,
			&h.Status,
			&h.RetryCount,
			&h.BodyHash,
			&h.AckContent,
			&h.ErrorMessage,
			&h.ReceivedAt,
			&h.UpdatedAt,
			&latencyMS,
			&h.ExpiresAt,
		)
		if err != nil {
			return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to scan header")
		}
		h.Latency = time.Duration(latencyMS) * time.Millisecond
		results = append(results, h)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "rows iteration error")
	}

	return results, nil
}

func (s *PostgresStore) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	result, err := s.db.Exec(ctx, `
		DELETE FROM headers WHERE received_at < now() - ($1 || ' days')::interval
	`, days)
	if err != nil {
		return 0, apperror.Wrap(err, apperror.CodeInternal, "failed to delete old headers")
	}
	deleted := result.RowsAffected()

	// Orphaned bodies: no remaining header references the hash.
	if _, err := s.db.Exec(ctx, `
		DELETE FROM bodies b WHERE NOT EXISTS (
			SELECT 1 FROM headers h WHERE h.body_hash = b.hash
		)
	`); err != nil {
		return deleted, apperror.Wrap(err, apperror.CodeInternal, "failed to delete orphaned bodies")
	}

	return deleted, nil
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

func buildWhere(q Query) (string, []any) {
	conditions := []string{"1=1"}
	args := []any{}
	argNum := 1

	add := func(cond string, val any) {
		conditions = append(conditions, fmt.Sprintf(cond, argNum))
		args = append(args, val)
		argNum++
	}

	if q.SourceConfigName != "" {
		add("source_config_name = $%d", q.SourceConfigName)
	}
	if q.TargetConfigName != "" {
		add("target_config_name = $%d", q.TargetConfigName)
	}
	if q.MessageType != "" {
		add("message_type = $%d", q.MessageType)
	}
	if q.Status != "" {
		add("status = $%d", string(q.Status))
	}
	if q.CorrelationID != "" {
		add("correlation_id = $%d", q.CorrelationID)
	}
	if q.ReceivedAfter != nil {
		add("received_at >= $%d", *q.ReceivedAfter)
	}
	if q.ReceivedBefore != nil {
		add("received_at <= $%d", *q.ReceivedBefore)
	}

	return strings.Join(conditions, " AND "), args
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
