package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tg-ingest/internal/ingest"
	"github.com/JakeFAU/tg-ingest/internal/store"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	s, err := NewWithPool(mock, store.Tables{})
	require.NoError(t, err)
	return s, mock
}

func TestNewWithPoolRejectsBadTableName(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, store.Tables{Article: "messages; DROP TABLE x"})
	require.Error(t, err)

	_, err = NewWithPool(nil, store.Tables{})
	require.Error(t, err)
}

func TestOpenRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{})
	require.Error(t, err)
}

func TestSettingsLoadAll(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	limit, phone := "25", "+100"
	mock.ExpectQuery("SELECT config_key, config_value FROM system_config").
		WillReturnRows(pgxmock.NewRows([]string{"config_key", "config_value"}).
			AddRow("default_limit", &limit).
			AddRow("telegram_phone", &phone))

	values, err := s.LoadAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[string]string{"default_limit": "25", "telegram_phone": "+100"}, values)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettingsLoadWrapsDatastoreError(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT config_key, config_value FROM system_config WHERE config_key = ANY").
		WithArgs([]string{"telegram_verification_code"}).
		WillReturnError(errors.New("conn reset"))

	_, err := s.Load(context.Background(), "telegram_verification_code")
	require.ErrorIs(t, err, ingest.ErrDatastore)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettingsSaveUpsertsInKeyOrder(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO system_config").
		WithArgs("telegram_verification_code", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO system_config").
		WithArgs("telegram_verification_required", "true").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.Save(context.Background(), map[string]string{
		"telegram_verification_required": "true",
		"telegram_verification_code":     "",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettingsSaveRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO system_config").
		WithArgs("telegram_session_valid", "true").
		WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	err := s.Save(context.Background(), map[string]string{"telegram_session_valid": "true"})
	require.ErrorIs(t, err, ingest.ErrDatastore)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerExists(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT 1 FROM processed_messages").
		WithArgs(int64(-1001), 42).
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery("SELECT 1 FROM processed_messages").
		WithArgs(int64(-1001), 43).
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}))

	ok, err := s.Exists(context.Background(), -1001, 42)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Exists(context.Background(), -1001, 43)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerInsertAndDelete(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("INSERT INTO processed_messages").
		WithArgs(int64(7), 9, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("DELETE FROM processed_messages WHERE created_at").
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	require.NoError(t, s.Insert(context.Background(), ingest.ProcessedRecord{ChannelID: 7, MessageID: 9, ProcessedAt: now}))
	n, err := s.DeleteBefore(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAndMarkCommitsBothRows(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	category := 3
	article := ingest.Article{
		Title:      "Title",
		Content:    "body",
		Tags:       []string{"go", "news"},
		CategoryID: &category,
		ImageURL:   "![](https://img/x.webp)",
		CreatedAt:  now,
	}
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO messages").
		WithArgs("Title", "body", "go, news", &category, "![](https://img/x.webp)", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO processed_messages").
		WithArgs(int64(5), 11, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.SaveAndMark(context.Background(), article, ingest.ProcessedRecord{ChannelID: 5, MessageID: 11, ProcessedAt: now})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAndMarkRollsBackWhenLedgerFails(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO messages").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO processed_messages").WillReturnError(errors.New("deadlock"))
	mock.ExpectRollback()

	err := s.SaveAndMark(context.Background(), ingest.Article{Title: "t", CreatedAt: now},
		ingest.ProcessedRecord{ChannelID: 1, MessageID: 2, ProcessedAt: now})
	require.ErrorIs(t, err, ingest.ErrDatastore)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateCreatesTables(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	for _, name := range []string{
		"CREATE TABLE IF NOT EXISTS system_config",
		"CREATE TABLE IF NOT EXISTS processed_messages",
		"CREATE INDEX IF NOT EXISTS processed_messages_created_at_idx",
		"CREATE TABLE IF NOT EXISTS messages",
		"CREATE TABLE IF NOT EXISTS cycle_runs",
		"CREATE TABLE IF NOT EXISTS cycle_runs_channels",
	} {
		mock.ExpectExec(regexp.QuoteMeta(name)).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}

	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPingWrapsError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	s, err := NewWithPool(mock, store.Tables{})
	require.NoError(t, err)

	mock.ExpectPing().WillReturnError(errors.New("down"))
	require.ErrorIs(t, s.Ping(context.Background()), ingest.ErrDatastore)
	require.NoError(t, mock.ExpectationsWereMet())
}
