package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"telegram-story-bot/internal/logging"
	"telegram-story-bot/internal/storage/migrations"
)

type dialect struct {
	name         string
	driver       string
	goose        string
	migrationDir string
	sizeQuery    string
	numbered     bool // $1, $2 placeholders instead of ?
}

var (
	sqliteDialect = dialect{
		name:         "sqlite",
		driver:       "sqlite",
		goose:        "sqlite3",
		migrationDir: "sqlite",
		sizeQuery:    `SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()`,
	}
	postgresDialect = dialect{
		name:         "postgres",
		driver:       "pgx",
		goose:        "postgres",
		migrationDir: "postgres",
		sizeQuery:    `SELECT pg_database_size(current_database())`,
		numbered:     true,
	}
)

// goose keeps its dialect and base FS in package globals.
var gooseMu sync.Mutex

// gooseLogger sends goose output to the application logger.
type gooseLogger struct {
	log *zerolog.Logger
}

func (l gooseLogger) Printf(format string, v ...interface{}) {
	l.log.Info().Str("event", "migration").Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l gooseLogger) Fatalf(format string, v ...interface{}) {
	l.log.Fatal().Str("event", "migration").Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// SQLStore is a Store on top of database/sql, used for sqlite and postgres.
type SQLStore struct {
	db *sql.DB
	d  dialect
}

// openSQL connects with the dialect's driver and applies pending migrations.
func openSQL(ctx context.Context, d dialect, dsn string) (Store, error) {
	if d.name == "sqlite" && !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.name, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.name, err)
	}
	if err := runMigrations(ctx, db, d); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", d.name, err)
	}
	return newSQLStore(db, d), nil
}

func newSQLStore(db *sql.DB, d dialect) *SQLStore {
	return &SQLStore{db: db, d: d}
}

func runMigrations(ctx context.Context, db *sql.DB, d dialect) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(gooseLogger{log: &logging.Log})
	if err := goose.SetDialect(d.goose); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, d.migrationDir)
}

// rebind rewrites ? placeholders for dialects that number them.
func (s *SQLStore) rebind(query string) string {
	if !s.d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// AddUser inserts the user and lets the unique constraint on user_id decide
// races between concurrent first messages.
func (s *SQLStore) AddUser(ctx context.Context, userID, accessHash int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO users (user_id, access_hash) VALUES (?, ?) ON CONFLICT (user_id) DO NOTHING`),
		userID, accessHash)
	if err != nil {
		return false, fmt.Errorf("insert user %d: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert user %d: %w", userID, err)
	}
	return n == 1, nil
}

// RecordDownloadedFile appends one row to downloaded_files.
func (s *SQLStore) RecordDownloadedFile(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `INSERT INTO downloaded_files DEFAULT VALUES`); err != nil {
		return fmt.Errorf("insert downloaded file: %w", err)
	}
	return nil
}

// Status returns the row counts and the database size.
func (s *SQLStore) Status(ctx context.Context) (Status, error) {
	var st Status
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM users), (SELECT COUNT(*) FROM downloaded_files)`,
	).Scan(&st.Users, &st.Files)
	if err != nil {
		return Status{}, fmt.Errorf("count rows: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, s.d.sizeQuery).Scan(&st.SizeBytes); err != nil {
		return Status{}, fmt.Errorf("database size: %w", err)
	}
	return st, nil
}

// Close closes the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
