package index

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/codec"
	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/models"
	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testStore(t *testing.T) *storage.FS {
	t.Helper()
	store, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func writeRecord(t *testing.T, store *storage.FS, typ models.Type, id, title, content string) {
	t.Helper()
	now := time.Date(2025, 7, 30, 10, 0, 0, 0, time.UTC)
	data, err := codec.Encode(&models.Item{
		Type:      typ.Name,
		ID:        id,
		Title:     title,
		Content:   content,
		Priority:  models.PriorityMedium,
		Status:    "Open",
		Tags:      []string{},
		Related:   []string{},
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Write(storage.RecordPath(typ.Base, typ.Name, id), data); err != nil {
		t.Fatal(err)
	}
}

var issuesType = models.Type{Name: "issues", Base: models.BaseTask, Strategy: models.IDSequential, BuiltIn: true}

func TestRebuild_Completeness(t *testing.T) {
	db := testDB(t)
	store := testStore(t)
	for _, id := range []string{"1", "2", "10"} {
		writeRecord(t, store, issuesType, id, "issue "+id, "body")
	}

	res, err := Rebuild(context.Background(), db, store, issuesType, testLogger())
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if res.Indexed != 3 || res.Skipped != 0 {
		t.Errorf("result = %+v, want 3 indexed, 0 skipped", res)
	}
	for _, id := range []string{"1", "2", "10"} {
		if _, err := db.GetRow("issues", id); err != nil {
			t.Errorf("issues-%s not indexed: %v", id, err)
		}
	}
}

func TestRebuild_Idempotent(t *testing.T) {
	db := testDB(t)
	store := testStore(t)
	writeRecord(t, store, issuesType, "1", "issue", "body")

	first, err := Rebuild(context.Background(), db, store, issuesType, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	second, err := Rebuild(context.Background(), db, store, issuesType, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("first = %+v, second = %+v", first, second)
	}
	n, _ := db.CountItems("issues")
	if n != 1 {
		t.Errorf("count = %d after double rebuild, want 1", n)
	}
}

func TestRebuild_SkipsMalformed(t *testing.T) {
	db := testDB(t)
	store := testStore(t)
	writeRecord(t, store, issuesType, "1", "good", "body")
	// No metadata block at all.
	if err := store.Write("tasks/issues/issues-2.md", []byte("just text\n")); err != nil {
		t.Fatal(err)
	}
	// Filename does not match the {type}-{id}.md pattern.
	if err := store.Write("tasks/issues/notes.md", []byte("scratch\n")); err != nil {
		t.Fatal(err)
	}

	res, err := Rebuild(context.Background(), db, store, issuesType, testLogger())
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if res.Indexed != 1 || res.Skipped != 2 {
		t.Errorf("result = %+v, want 1 indexed, 2 skipped", res)
	}
}

func TestRebuild_RecomputesSequence(t *testing.T) {
	db := testDB(t)
	store := testStore(t)
	for _, id := range []string{"3", "17", "9"} {
		writeRecord(t, store, issuesType, id, "issue", "")
	}

	if _, err := Rebuild(context.Background(), db, store, issuesType, testLogger()); err != nil {
		t.Fatal(err)
	}
	cur, err := db.CurrentSequence("issues")
	if err != nil {
		t.Fatal(err)
	}
	if cur != 17 {
		t.Errorf("sequence = %d, want 17", cur)
	}
}

func TestRebuild_RemovesStaleRows(t *testing.T) {
	db := testDB(t)
	store := testStore(t)
	if err := db.EnsureType(issuesType); err != nil {
		t.Fatal(err)
	}
	// Row with no backing file.
	_ = db.UpsertItem(testRow("issues", "99", "orphan"), "")
	writeRecord(t, store, issuesType, "1", "kept", "")

	if _, err := Rebuild(context.Background(), db, store, issuesType, testLogger()); err != nil {
		t.Fatal(err)
	}
	ids, _ := db.IDs("issues")
	if _, ok := ids["99"]; ok {
		t.Error("stale row 99 survived rebuild")
	}
	if _, ok := ids["1"]; !ok {
		t.Error("row 1 missing after rebuild")
	}
}

func TestRebuild_FilenameIdentityWins(t *testing.T) {
	db := testDB(t)
	store := testStore(t)
	// A record hand-copied to a new filename keeps stale front matter; the
	// filename decides its identity.
	data, _ := codec.Encode(&models.Item{
		Type: "issues", ID: "1", Title: "copied",
		Priority: models.PriorityMedium, Status: "Open",
		Tags: []string{}, Related: []string{},
	})
	if err := store.Write("tasks/issues/issues-5.md", data); err != nil {
		t.Fatal(err)
	}

	if _, err := Rebuild(context.Background(), db, store, issuesType, testLogger()); err != nil {
		t.Fatal(err)
	}
	if _, err := db.GetRow("issues", "5"); err != nil {
		t.Errorf("row should exist under filename id 5: %v", err)
	}
	if _, err := db.GetRow("issues", "1"); err == nil {
		t.Error("front-matter id 1 should not be indexed")
	}
}

func TestRebuild_DerivesStartDate(t *testing.T) {
	db := testDB(t)
	store := testStore(t)
	sessions := models.Type{Name: "sessions", Base: models.BaseDocument, Strategy: models.IDTimestamp, BuiltIn: true}
	writeRecord(t, store, sessions, "2025-07-30-10.15.00.000", "morning session", "notes")

	if _, err := Rebuild(context.Background(), db, store, sessions, testLogger()); err != nil {
		t.Fatal(err)
	}
	row, err := db.GetRow("sessions", "2025-07-30-10.15.00.000")
	if err != nil {
		t.Fatal(err)
	}
	if row.StartDate != "2025-07-30" {
		t.Errorf("start_date = %q, want derived 2025-07-30", row.StartDate)
	}
}

func TestRebuild_Canceled(t *testing.T) {
	db := testDB(t)
	store := testStore(t)
	writeRecord(t, store, issuesType, "1", "issue", "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Rebuild(ctx, db, store, issuesType, testLogger()); err == nil {
		t.Error("want error on canceled context")
	}
}

func TestRebuildAll_RegistersDiskTypes(t *testing.T) {
	db := testDB(t)
	root := t.TempDir()
	store, err := storage.NewFS(root)
	if err != nil {
		t.Fatal(err)
	}
	custom := models.Type{Name: "recipes", Base: models.BaseDocument, Strategy: models.IDSequential}
	writeRecord(t, store, custom, "1", "pancakes", "flour, eggs")
	// Invalid directory names are ignored, not fatal.
	if err := os.MkdirAll(filepath.Join(root, "documents", "Bad Name"), 0o755); err != nil {
		t.Fatal(err)
	}

	results, err := RebuildAll(context.Background(), db, store, testLogger())
	if err != nil {
		t.Fatalf("RebuildAll: %v", err)
	}
	if len(results) != len(models.BuiltinTypes())+1 {
		t.Errorf("got %d results, want builtins + recipes", len(results))
	}

	got, err := db.GetType("recipes")
	if err != nil {
		t.Fatalf("recipes not registered: %v", err)
	}
	if got.Strategy != models.IDSequential || got.BuiltIn {
		t.Errorf("registered type = %+v", got)
	}
	if _, err := db.GetRow("recipes", "1"); err != nil {
		t.Errorf("recipes-1 not indexed: %v", err)
	}
}
