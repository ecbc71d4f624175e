package store

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/roach88/actorsync/internal/ir"
)

// createTestStore opens a SQLite store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestMutation(kind, key, goal string) ir.Mutation {
	req, _ := json.Marshal(map[string]string{"goal": goal})
	return ir.Mutation{
		Kind:           kind,
		Request:        req,
		IdempotencyKey: key,
	}
}
