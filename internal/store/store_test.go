package store

import (
	"context"
	"database/sql"
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

	if s.db == nil {
		t.Fatal("Open() returned store with nil db")
	}
}

func TestOpen_OpensExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	if err := s1.Set(ctx, "n/AddGoal", []byte(`[]`)); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer s2.Close()

	value, ok, err := s2.Get(ctx, "n/AddGoal")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !ok || string(value) != `[]` {
		t.Errorf("Get() = %q, %v; want %q, true", value, ok, `[]`)
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

// Pragma tests

func TestPragma_JournalMode(t *testing.T) {
	s := createTestStore(t)
	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
}

func TestPragma_Synchronous(t *testing.T) {
	s := createTestStore(t)
	// NORMAL = 1
	if err := s.verifyPragma("synchronous", "1"); err != nil {
		t.Error(err)
	}
}

func TestPragma_BusyTimeout(t *testing.T) {
	s := createTestStore(t)
	if err := s.verifyPragma("busy_timeout", "5000"); err != nil {
		t.Error(err)
	}
}

// Schema tests

func TestSchema_KVTable(t *testing.T) {
	s := createTestStore(t)

	columns := getTableColumns(t, s.db, "kv")
	for _, col := range []string{"key", "value", "seq"} {
		if !contains(columns, col) {
			t.Errorf("kv table missing column %q, have %v", col, columns)
		}
	}
}

func TestSchema_KVIndexes(t *testing.T) {
	s := createTestStore(t)

	indexes := getTableIndexes(t, s.db, "kv")
	if !contains(indexes, "idx_kv_seq") {
		t.Errorf("kv table missing idx_kv_seq, have %v", indexes)
	}
}

// KV behaviour

func TestStore_GetMissing(t *testing.T) {
	s := createTestStore(t)

	value, ok, err := s.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if ok || value != nil {
		t.Errorf("Get() = %q, %v; want nil, false", value, ok)
	}
}

func TestStore_SetOverwrites(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("one")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Set(ctx, "k", []byte("two")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	value, _, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if string(value) != "two" {
		t.Errorf("Get() = %q, want %q", value, "two")
	}
}

func TestStore_RemoveMissingIsNoop(t *testing.T) {
	s := createTestStore(t)
	if err := s.Remove(context.Background(), "missing"); err != nil {
		t.Errorf("Remove() on missing key should not error: %v", err)
	}
}

func TestStore_KeysPrefixAndOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, k := range []string{"n/b", "other/a", "n/a", "n/c"} {
		if err := s.Set(ctx, k, []byte("[]")); err != nil {
			t.Fatalf("Set(%q) failed: %v", k, err)
		}
	}
	// Rewriting moves a key to the end.
	if err := s.Set(ctx, "n/b", []byte("[1]")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	keys, err := s.Keys(ctx, "n/")
	if err != nil {
		t.Fatalf("Keys() failed: %v", err)
	}
	want := []string{"n/a", "n/c", "n/b"}
	if len(keys) != len(want) {
		t.Fatalf("Keys() = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Keys()[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestStore_KeysMultibytePrefix(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "café/AddGoal", []byte("[]")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Set(ctx, "cafe/AddGoal", []byte("[]")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	keys, err := s.Keys(ctx, "café/")
	if err != nil {
		t.Fatalf("Keys() failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != "café/AddGoal" {
		t.Errorf("Keys() = %v, want [café/AddGoal]", keys)
	}
}

// Migration tests

func TestMigration_SchemaVersion(t *testing.T) {
	s := createTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestMigration_IdempotentUpgrade(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}

		var version int
		if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
			t.Fatalf("failed to get user_version: %v", err)
		}
		if version != currentSchemaVersion {
			t.Errorf("iteration %d: user_version = %d, want %d", i, version, currentSchemaVersion)
		}
		s.Close()
	}
}

func TestMigration_UpgradeFromV0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	// Simulate a database created before the seq index existed.
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE kv (key TEXT PRIMARY KEY, value BLOB NOT NULL, seq INTEGER NOT NULL)`); err != nil {
		t.Fatalf("failed to create table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO kv (key, value, seq) VALUES ('n/AddGoal', '[]', 1)`); err != nil {
		t.Fatalf("failed to seed row: %v", err)
	}
	db.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
	if !contains(getTableIndexes(t, s.db, "kv"), "idx_kv_seq") {
		t.Error("migration did not create idx_kv_seq")
	}
	if _, ok, _ := s.Get(context.Background(), "n/AddGoal"); !ok {
		t.Error("migration lost existing row")
	}
}

// Helpers

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info: %v", err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
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
		t.Fatalf("failed to get indexes: %v", err)
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
