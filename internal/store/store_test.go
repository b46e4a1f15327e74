package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	for _, table := range []string{"resources", "resource_fields"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestOpen_DefaultOptions(t *testing.T) {
	s := createTestStore(t)

	if s.RowsMax() != DefaultRowsMax {
		t.Errorf("RowsMax() = %d, want %d", s.RowsMax(), DefaultRowsMax)
	}
}

func TestOpen_WithRowsMaxIgnoresNonPositive(t *testing.T) {
	s := createTestStore(t, WithRowsMax(0))

	if s.RowsMax() != DefaultRowsMax {
		t.Errorf("RowsMax() = %d, want %d", s.RowsMax(), DefaultRowsMax)
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

// Pragma tests

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name     string
		expected string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"}, // NORMAL
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.verifyPragma(tt.name, tt.expected); err != nil {
				t.Error(err)
			}
		})
	}
}

// Schema tests

func TestSchema_ResourcesTable(t *testing.T) {
	s := createTestStore(t)

	columns := getTableColumns(t, s.db, "resources")
	expected := []string{"id", "resource_id", "primary_key", "active", "created_at", "last_write"}

	for _, col := range expected {
		if !contains(columns, col) {
			t.Errorf("resources table missing column %q", col)
		}
	}
}

func TestSchema_RecordTableProvisioned(t *testing.T) {
	s := createTestStore(t)
	res := createSalesResource(t, s)

	columns := getTableColumns(t, s.db, res.table())
	expected := []string{"seq", "business_key", "payload", "content_hash", "created_at", "valid_to", "is_latest"}
	for _, col := range expected {
		if !contains(columns, col) {
			t.Errorf("%s missing column %q", res.table(), col)
		}
	}

	indexes := getTableIndexes(t, s.db, res.table())
	for _, suffix := range []string{"_temporal", "_latest", "_key", "_one_latest"} {
		if !contains(indexes, res.table()+suffix) {
			t.Errorf("%s missing index %q, got %v", res.table(), res.table()+suffix, indexes)
		}
	}
}

// Migration tests

func TestMigration_SetsUserVersion(t *testing.T) {
	s := createTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestMigration_V0ToV1AddsLatestIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	// Build a v0 database by hand: a resource whose record table predates
	// the one-latest index.
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("sql.Open() failed: %v", err)
	}
	stmts := []string{
		schemaSQL,
		`INSERT INTO resources (id, resource_id, primary_key, active, created_at) VALUES (1, 'legacy', 'id', 1, 0)`,
		`CREATE TABLE records_1 (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			business_key TEXT NOT NULL,
			payload TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			valid_to INTEGER,
			is_latest INTEGER NOT NULL DEFAULT 1
		)`,
		`PRAGMA user_version = 0`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("setup %q failed: %v", stmt, err)
		}
	}
	db.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	indexes := getTableIndexes(t, s.db, "records_1")
	if !contains(indexes, "records_1_one_latest") {
		t.Errorf("expected records_1_one_latest after migration, got indexes: %v", indexes)
	}
}

// Helper functions

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info for %q: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue any
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("failed to scan column info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to get indexes for %q: %v", table, err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
