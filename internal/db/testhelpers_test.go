package db

import (
	"os"
	"path/filepath"
	"testing"
)

// testDBType returns the configured test database type (default: "sqlite").
func testDBType() string {
	if v := os.Getenv("PASSAGE_TEST_DB_TYPE"); v != "" {
		return v
	}
	return "sqlite"
}

// newTestDatabase creates a test database for the db package's own tests.
// This mirrors dbtest.NewTestDB but lives inside the db package to avoid
// a circular import (db -> dbtest -> db).
func newTestDatabase(t *testing.T) *DB {
	t.Helper()

	switch dbType := testDBType(); dbType {
	case "sqlite":
		dbPath := filepath.Join(t.TempDir(), "test.db")
		database, err := OpenDB("sqlite", dbPath)
		if err != nil {
			t.Fatalf("failed to open SQLite test database: %v", err)
		}
		t.Cleanup(func() { database.Close() })
		return database

	case "postgres":
		dsn := os.Getenv("PASSAGE_TEST_POSTGRES_DSN")
		if dsn == "" {
			t.Skip("PASSAGE_TEST_POSTGRES_DSN not set; skipping Postgres test")
		}
		database, err := OpenDB("postgres", dsn)
		if err != nil {
			t.Fatalf("failed to open Postgres test database: %v", err)
		}
		t.Cleanup(func() { database.Close() })
		truncateAllTables(t, database)
		return database

	default:
		t.Fatalf("unsupported PASSAGE_TEST_DB_TYPE: %s", dbType)
		return nil
	}
}

// truncateAllTables removes all data from Postgres tables in FK-safe order.
func truncateAllTables(t *testing.T, database *DB) {
	t.Helper()

	tables := []string{
		"audit_log", "oauth_states", "verification_tokens",
		"sessions", "accounts", "users",
	}
	for _, table := range tables {
		if _, err := database.ExecRaw("TRUNCATE TABLE " + table + " CASCADE"); err != nil {
			t.Fatalf("failed to truncate %s: %v", table, err)
		}
	}
}
