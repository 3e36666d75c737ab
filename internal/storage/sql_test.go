package storage

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"telegram-story-bot/internal/logging"
)

func newPostgresWithMock(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return newSQLStore(db, postgresDialect), mock
}

func TestRebind(t *testing.T) {
	pg := newSQLStore(nil, postgresDialect)
	lite := newSQLStore(nil, sqliteDialect)
	q := `INSERT INTO users (user_id, access_hash) VALUES (?, ?)`

	assert.Equal(t, `INSERT INTO users (user_id, access_hash) VALUES ($1, $2)`, pg.rebind(q))
	assert.Equal(t, q, lite.rebind(q))
}

func TestPostgres_AddUser(t *testing.T) {
	st, mock := newPostgresWithMock(t)
	q := `(?s)^INSERT\s+INTO\s+users\s*\(user_id,\s*access_hash\)\s*VALUES\s*\(\$1,\s*\$2\)\s*ON\s+CONFLICT\s*\(user_id\)\s*DO\s+NOTHING$`

	mock.ExpectExec(q).WithArgs(int64(10), int64(20)).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(q).WithArgs(int64(10), int64(20)).WillReturnResult(sqlmock.NewResult(0, 0))

	added, err := st.AddUser(context.Background(), 10, 20)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = st.AddUser(context.Background(), 10, 20)
	require.NoError(t, err)
	assert.False(t, added, "conflict must resolve to a no-op")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_AddUserError(t *testing.T) {
	st, mock := newPostgresWithMock(t)
	mock.ExpectExec(`INSERT\s+INTO\s+users`).WillReturnError(errors.New("db down"))

	_, err := st.AddUser(context.Background(), 1, 2)
	require.Error(t, err)
	assert.Regexp(t, regexp.MustCompile(`insert user 1: .*db down`), err.Error())
}

func TestPostgres_RecordDownloadedFile(t *testing.T) {
	st, mock := newPostgresWithMock(t)
	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+downloaded_files\s+DEFAULT\s+VALUES$`).WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, st.RecordDownloadedFile(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Status(t *testing.T) {
	st, mock := newPostgresWithMock(t)
	mock.ExpectQuery(`SELECT\s+\(SELECT\s+COUNT\(\*\)\s+FROM\s+users\)`).
		WillReturnRows(sqlmock.NewRows([]string{"users", "files"}).AddRow(int64(4), int64(9)))
	mock.ExpectQuery(`pg_database_size\(current_database\(\)\)`).
		WillReturnRows(sqlmock.NewRows([]string{"size"}).AddRow(int64(2 * 1024 * 1024)))

	status, err := st.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Status{Users: 4, Files: 9, SizeBytes: 2 * 1024 * 1024}, status)
	assert.InDelta(t, 2.0, status.SizeMB(), 1e-9)
	assert.InDelta(t, 2048.0, status.SizeKB(), 1e-9)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_StatusSizeError(t *testing.T) {
	st, mock := newPostgresWithMock(t)
	mock.ExpectQuery(`SELECT\s+\(SELECT\s+COUNT`).
		WillReturnRows(sqlmock.NewRows([]string{"users", "files"}).AddRow(int64(1), int64(1)))
	mock.ExpectQuery(`pg_database_size`).WillReturnError(errors.New("permission denied"))

	_, err := st.Status(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database size")
}

func TestMigrationsLogThroughZerolog(t *testing.T) {
	var buf bytes.Buffer
	logging.InitWriter(&buf)
	t.Cleanup(func() { logging.Log = zerolog.Nop() })

	st, err := openSQL(context.Background(), sqliteDialect, filepath.Join(t.TempDir(), "bot.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	out := buf.String()
	assert.Contains(t, out, `"event":"migration"`)
	assert.Contains(t, out, "00001_init.sql")
}
