package db

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/abdulachik/multipost/internal/blob"
	"github.com/abdulachik/multipost/internal/broadcast"
	"github.com/abdulachik/multipost/internal/db/migrations"
	"github.com/abdulachik/multipost/internal/submission"
)

// timeLayout sorts lexically, which the due-schedule query relies on.
const timeLayout = "2006-01-02 15:04:05.000000000"

// Store wraps the database connection and the blob store holding file contents.
type Store struct {
	*sql.DB

	blobs     blob.Store
	validator Validator
	changes   *broadcast.Latest[[]*submission.Submission]
	now       func() time.Time
}

// Validator recomputes the problems of a submission.
type Validator interface {
	Refresh(sub *submission.Submission) []string
}

// Option configures a Store.
type Option func(*Store)

// WithBlobs stores file contents in b instead of a directory next to the database.
func WithBlobs(b blob.Store) Option {
	return func(s *Store) {
		s.blobs = b
	}
}

// SetValidator makes the store recompute problems whenever a submission is
// created or updated. It must be called before the store is shared.
func (s *Store) SetValidator(v Validator) {
	s.validator = v
}

// NewStore opens the database at dbPath, creating its directory. Foreign keys,
// WAL and a busy timeout are set through the DSN so every connection gets them.
func NewStore(ctx context.Context, dbPath string, opts ...Option) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := "file:" + dbPath +
		"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1) // SQLite doesn't handle concurrent writes well

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &Store{
		DB:      sqlDB,
		changes: broadcast.New[[]*submission.Submission](),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}

	if store.blobs == nil {
		local, err := blob.NewLocal(filepath.Join(dir, "blobs"))
		if err != nil {
			sqlDB.Close()
			return nil, err
		}
		store.blobs = local
	}

	return store, nil
}

// Migrate applies the embedded migrations that have not run yet, each in its
// own transaction.
func (s *Store) Migrate(ctx context.Context) error {
	slog.Info("running database migrations")

	if err := s.ensureMigrationsTable(ctx); err != nil {
		return err
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	files, err := migrationFiles()
	if err != nil {
		return err
	}

	for _, file := range files {
		if applied[file] {
			slog.Debug("migration already applied", "file", file)
			continue
		}
		if err := s.applyMigration(ctx, file); err != nil {
			return err
		}
		slog.Info("migration applied", "file", file)
	}

	return nil
}

// Migration is an embedded schema migration.
type Migration struct {
	Version string
	Applied bool
}

// Migrations lists the embedded migrations in order and whether each one has
// been applied.
func (s *Store) Migrations(ctx context.Context) ([]Migration, error) {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}
	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return nil, err
	}
	files, err := migrationFiles()
	if err != nil {
		return nil, err
	}

	out := make([]Migration, 0, len(files))
	for _, file := range files {
		out = append(out, Migration{Version: file, Applied: applied[file]})
	}
	return out, nil
}

func (s *Store) ensureMigrationsTable(ctx context.Context) error {
	_, err := s.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}
	return nil
}

func (s *Store) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan migration: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate migrations: %w", err)
	}
	return applied, nil
}

func migrationFiles() ([]string, error) {
	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func (s *Store) applyMigration(ctx context.Context, file string) error {
	content, err := fs.ReadFile(migrations.FS, file)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", file, err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, extractUpMigration(string(content))); err != nil {
			return fmt.Errorf("execute migration %s: %w", file, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", file); err != nil {
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		return nil
	})
}

// inTx runs fn in a transaction, rolling back when it fails.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// extractUpMigration returns the part of a migration before "-- +migrate Down".
func extractUpMigration(content string) string {
	up, _, found := strings.Cut(content, "-- +migrate Down")
	if !found {
		return content
	}
	return strings.TrimSpace(strings.TrimPrefix(up, "-- +migrate Up"))
}

// Close closes the database connection and ends change subscriptions.
func (s *Store) Close() error {
	s.changes.Close()
	return s.DB.Close()
}

// builder returns a squirrel statement builder for SQLite placeholders.
func (s *Store) builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(timeLayout, v, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", v, err)
	}
	return t, nil
}
