package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hie/internal/apperror"
)

type pgxMockAdapter struct {
	mock pgxmock.PgxPoolIface
}

func (a *pgxMockAdapter) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return a.mock.Exec(ctx, sql, args...)
}

func (a *pgxMockAdapter) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return a.mock.Query(ctx, sql, args...)
}

func (a *pgxMockAdapter) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return a.mock.QueryRow(ctx, sql, args...)
}

func (a *pgxMockAdapter) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) {
	return a.mock.BeginTx(ctx, txOptions)
}

func (a *pgxMockAdapter) Close() {
	a.mock.Close()
}

func (a *pgxMockAdapter) Ping(ctx context.Context) error {
	return a.mock.Ping(ctx)
}

func setupMockStore(t *testing.T) (pgxmock.PgxPoolIface, *PostgresStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)

	adapter := &pgxMockAdapter{mock: mock}
	return mock, NewPostgresStore(adapter)
}

func TestPostgresStore_StoreHeader_Success(t *testing.T) {
	mock, s := setupMockStore(t)
	defer mock.Close()

	ctx := context.Background()
	leg := LegDetails{
		CorrelationID:    "corr-1",
		SourceConfigName: "mllp-in",
		MessageType:      "ADT_A01",
		Direction:        "inbound",
		RawBytes:         []byte("MSH|^~\\&|..."),
		ContentType:      "application/hl7-v2",
	}

	mock.ExpectExec(`INSERT INTO bodies`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO headers`).WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := s.StoreHeader(ctx, leg)

	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_StoreHeader_BodyInsertError(t *testing.T) {
	mock, s := setupMockStore(t)
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO bodies`).WillReturnError(errors.New("db down"))

	_, err := s.StoreHeader(context.Background(), LegDetails{RawBytes: []byte("x")})

	assert.Error(t, err)
	assert.Equal(t, apperror.CodeInternal, apperror.Code(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateStatus_NotFound(t *testing.T) {
	mock, s := setupMockStore(t)
	defer mock.Close()

	mock.ExpectExec(`UPDATE headers`).WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateStatus(context.Background(), "missing-id", StatusCompleted, "", "")

	assert.Error(t, err)
	assert.Equal(t, apperror.CodeNotFound, apperror.Code(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateStatus_Success(t *testing.T) {
	mock, s := setupMockStore(t)
	defer mock.Close()

	mock.ExpectExec(`UPDATE headers`).WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateStatus(context.Background(), "id-1", StatusCompleted, "ACK", "")

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetByID_NotFound(t *testing.T) {
	mock, s := setupMockStore(t)
	defer mock.Close()

	mock.ExpectQuery(`SELECT`).WillReturnError(pgx.ErrNoRows)

	h, err := s.GetByID(context.Background(), "missing")

	assert.Nil(t, h)
	assert.Equal(t, apperror.CodeNotFound, apperror.Code(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetByID_Success(t *testing.T) {
	mock, s := setupMockStore(t)
	defer mock.Close()

	now := time.Now()
	rows := pgxmock.NewRows([]string{
		"id", "correlation_id", "session_id", "sequence_num",
		"source_config_name", "target_config_name", "message_type", "direction",
		"status", "retry_count", "body_hash", "ack_content", "error_message",
		"received_at", "updated_at", "latency_ms", "expires_at",
	}).AddRow(
		"hdr-1", "corr-1", "sess-1", 0,
		"mllp-in", "iris-out", "ADT_A01", "inbound",
		StatusCompleted, 0, "abc123", "ACK", "",
		now, now, int64(15), nil,
	)
	mock.ExpectQuery(`SELECT`).WithArgs("hdr-1").WillReturnRows(rows)

	h, err := s.GetByID(context.Background(), "hdr-1")

	require.NoError(t, err)
	assert.Equal(t, "hdr-1", h.ID)
	assert.Equal(t, StatusCompleted, h.Status)
	assert.Equal(t, 15*time.Millisecond, h.Latency)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetContent_Success(t *testing.T) {
	mock, s := setupMockStore(t)
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"raw_bytes", "content_type"}).
		AddRow([]byte("MSH|..."), "application/hl7-v2")
	mock.ExpectQuery(`SELECT b.raw_bytes`).WithArgs("hdr-1").WillReturnRows(rows)

	raw, contentType, err := s.GetContent(context.Background(), "hdr-1")

	require.NoError(t, err)
	assert.Equal(t, []byte("MSH|..."), raw)
	assert.Equal(t, "application/hl7-v2", contentType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteOlderThan(t *testing.T) {
	mock, s := setupMockStore(t)
	defer mock.Close()

	mock.ExpectExec(`DELETE FROM headers`).WithArgs(30).WillReturnResult(pgxmock.NewResult("DELETE", 7))
	mock.ExpectExec(`DELETE FROM bodies`).WillReturnResult(pgxmock.NewResult("DELETE", 2))

	deleted, err := s.DeleteOlderThan(context.Background(), 30)

	require.NoError(t, err)
	assert.Equal(t, int64(7), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildWhere_EmptyFilters(t *testing.T) {
	where, args := buildWhere(Query{})
	assert.Equal(t, "1=1", where)
	assert.Empty(t, args)
}

func TestBuildWhere_MultipleFilters(t *testing.T) {
	where, args := buildWhere(Query{SourceConfigName: "a", Status: StatusError})
	assert.Contains(t, where, "source_config_name = $1")
	assert.Contains(t, where, "status = $2")
	assert.Equal(t, []any{"a", "error"}, args)
}
