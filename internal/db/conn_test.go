package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore(t *testing.T) {
	t.Run("creates directory and database", func(t *testing.T) {
		tmpDir := t.TempDir()
		dbPath := filepath.Join(tmpDir, "subdir", "test.db")

		ctx := context.Background()
		store, err := NewStore(ctx, dbPath)
		require.NoError(t, err)
		defer store.Close()

		// Verify file exists
		_, err = os.Stat(dbPath)
		assert.NoError(t, err)

		// Verify we can query
		var result int
		err = store.QueryRowContext(ctx, "SELECT 1").Scan(&result)
		assert.NoError(t, err)
		assert.Equal(t, 1, result)
	})

	t.Run("sets WAL mode", func(t *testing.T) {
		tmpDir := t.TempDir()
		dbPath := filepath.Join(tmpDir, "test.db")

		ctx := context.Background()
		store, err := NewStore(ctx, dbPath)
		require.NoError(t, err)
		defer store.Close()

		var mode string
		err = store.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode)
		assert.NoError(t, err)
		assert.Equal(t, "wal", mode)
	})

	t.Run("enables foreign keys", func(t *testing.T) {
		tmpDir := t.TempDir()
		dbPath := filepath.Join(tmpDir, "test.db")

		ctx := context.Background()
		store, err := NewStore(ctx, dbPath)
		require.NoError(t, err)
		defer store.Close()

		var fk int
		err = store.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk)
		assert.NoError(t, err)
		assert.Equal(t, 1, fk)
	})
}

func TestStore_Migrate(t *testing.T) {
	t.Run("applies migrations", func(t *testing.T) {
		store := NewTestStore(t)
		ctx := context.Background()

		for _, table := range []string{"submissions", "submission_files", "cookies", "profile_data", "post_attempts"} {
			var name string
			err := store.QueryRowContext(ctx,
				"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
			assert.NoError(t, err, table)
			assert.Equal(t, table, name)
		}
	})

	t.Run("is idempotent", func(t *testing.T) {
		store := NewTestStore(t)
		ctx := context.Background()

		require.NoError(t, store.Migrate(ctx))

		subs, err := store.GetSubmissions(ctx)
		assert.NoError(t, err)
		assert.Empty(t, subs)

		var applied int
		require.NoError(t, store.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&applied))
		files, err := migrationFiles()
		require.NoError(t, err)
		assert.Equal(t, len(files), applied)
	})
}

func TestStore_Migrations(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(ctx, filepath.Join(t.TempDir(), "fresh.db"))
	require.NoError(t, err)
	defer store.Close()

	before, err := store.Migrations(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, before)
	assert.Equal(t, "001_initial.sql", before[0].Version)
	for _, m := range before {
		assert.False(t, m.Applied, m.Version)
	}

	require.NoError(t, store.Migrate(ctx))

	after, err := store.Migrations(ctx)
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for _, m := range after {
		assert.True(t, m.Applied, m.Version)
	}
}

func TestExtractUpMigration(t *testing.T) {
	t.Run("extracts up portion", func(t *testing.T) {
		content := `-- +migrate Up
CREATE TABLE test (id INTEGER);

-- +migrate Down
DROP TABLE test;
`
		result := extractUpMigration(content)
		assert.Equal(t, "CREATE TABLE test (id INTEGER);", result)
	})

	t.Run("handles no down marker", func(t *testing.T) {
		content := "CREATE TABLE test (id INTEGER);"
		result := extractUpMigration(content)
		assert.Equal(t, "CREATE TABLE test (id INTEGER);", result)
	})
}

// NewTestStore provides a test database for use in other packages.
func NewTestStore(t *testing.T) *Store {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	ctx := context.Background()
	store, err := NewStore(ctx, dbPath)
	require.NoError(t, err)

	err = store.Migrate(ctx)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}
