// Package testutil provides shared helpers for package tests.
package testutil

import (
	"log/slog"
	"os"
	"testing"

	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/index"
	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/storage"
)

// TestDB opens a throwaway SQLite index in a temp file.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	f, err := os.CreateTemp("", "kb-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := index.Open(f.Name())
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestStore creates a file store rooted in a fresh temp directory.
func TestStore(t *testing.T) *storage.FS {
	t.Helper()
	store, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return store
}

// Logger returns a quiet structured logger for tests.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}
