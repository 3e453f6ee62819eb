package itemservice

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/apperr"
	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/index"
	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/models"
	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/storage"
	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/testutil"
)

func newTestService(t *testing.T) (*Service, *index.DB, *storage.FS) {
	t.Helper()
	db := testutil.TestDB(t)
	store := testutil.TestStore(t)
	svc := NewService(store, db, testutil.Logger())
	if err := svc.RegisterBuiltins(context.Background()); err != nil {
		t.Fatal(err)
	}
	return svc, db, store
}

func TestCreateItem_Sequential(t *testing.T) {
	svc, _, store := newTestService(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		item, err := svc.CreateItem(ctx, CreateInput{
			Type:    "issues",
			Title:   fmt.Sprintf("Bug %d", i),
			Content: "details",
		})
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if item.ID != strconv.Itoa(i) {
			t.Errorf("id = %s, want %d", item.ID, i)
		}
		ok, _ := store.Exists(storage.RecordPath(models.BaseTask, "issues", item.ID))
		if !ok {
			t.Errorf("no record file for issues-%s", item.ID)
		}
	}
}

func TestCreateItem_Defaults(t *testing.T) {
	svc, _, _ := newTestService(t)
	item, err := svc.CreateItem(context.Background(), CreateInput{
		Type: "issues", Title: "Bug", Content: "x",
	})
	if err != nil {
		t.Fatal(err)
	}
	if item.Priority != models.PriorityMedium || item.Status != models.DefaultStatus {
		t.Errorf("priority = %q, status = %q", item.Priority, item.Status)
	}
	if item.CreatedAt.IsZero() || !item.CreatedAt.Equal(item.UpdatedAt) {
		t.Errorf("timestamps = %v / %v", item.CreatedAt, item.UpdatedAt)
	}
}

func TestCreateItem_TagDedup(t *testing.T) {
	svc, _, _ := newTestService(t)
	item, err := svc.CreateItem(context.Background(), CreateInput{
		Type: "issues", Title: "Bug A", Content: "x",
		Tags: []string{"bug", "bug", " ui ", "bug"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"bug", "ui"}, item.Tags); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateItem_SelfReferenceRejected(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.CreateItem(context.Background(), CreateInput{
		Type: "issues", Title: "Bug", Content: "x",
		Related: []string{"issues-1"},
	})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestCreateItem_ValidationErrors(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	cases := []struct {
		name string
		in   CreateInput
	}{
		{"missing title", CreateInput{Type: "issues", Content: "x"}},
		{"missing content", CreateInput{Type: "issues", Title: "Bug"}},
		{"bad priority", CreateInput{Type: "issues", Title: "Bug", Content: "x", Priority: "urgent"}},
		{"bad status", CreateInput{Type: "issues", Title: "Bug", Content: "x", Status: "Done"}},
		{"bad start date", CreateInput{Type: "issues", Title: "Bug", Content: "x", StartDate: "31/07/2025"}},
		{"explicit sequential id", CreateInput{Type: "issues", ID: "9", Title: "Bug", Content: "x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.CreateItem(ctx, tc.in); !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestCreateItem_UnknownType(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.CreateItem(context.Background(), CreateInput{Type: "ghost", Title: "x", Content: "x"})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateItem_SessionsContentOptional(t *testing.T) {
	svc, _, _ := newTestService(t)
	item, err := svc.CreateItem(context.Background(), CreateInput{Type: "sessions", Title: "morning"})
	if err != nil {
		t.Fatalf("sessions should not require content: %v", err)
	}
	if item.StartDate == "" {
		t.Error("session start date should derive from the timestamp id")
	}
}

func TestCreateItem_DailyDuplicateDate(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.CreateItem(ctx, CreateInput{Type: "dailies", Title: "recap", StartDate: "2025-07-31"})
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != "2025-07-31" {
		t.Errorf("id = %s, want the date itself", first.ID)
	}

	_, err = svc.CreateItem(ctx, CreateInput{Type: "dailies", Title: "again", StartDate: "2025-07-31"})
	if !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestCreateItem_SessionExplicitID(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	const id = "2024-01-15-09.30.00.000"

	item, err := svc.CreateItem(ctx, CreateInput{Type: "sessions", ID: id, Title: "imported"})
	if err != nil {
		t.Fatal(err)
	}
	if item.ID != id {
		t.Errorf("id = %s, want %s", item.ID, id)
	}
	if item.StartDate != "2024-01-15" {
		t.Errorf("start date = %s, want derived 2024-01-15", item.StartDate)
	}

	if _, err := svc.CreateItem(ctx, CreateInput{Type: "sessions", ID: id, Title: "dup"}); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("taken id err = %v, want ErrAlreadyExists", err)
	}
}

func TestCreateItem_SequenceDrift(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateItem(ctx, CreateInput{Type: "issues", Title: "Bug", Content: "x"}); err != nil {
		t.Fatal(err)
	}
	// Corrupt the counter: issues-1 exists on disk but the counter says 0.
	if err := db.SetSequence("issues", 0); err != nil {
		t.Fatal(err)
	}

	_, err := svc.CreateItem(ctx, CreateInput{Type: "issues", Title: "Bug 2", Content: "x"})
	var drift *apperr.SequenceDriftError
	if !errors.As(err, &drift) {
		t.Fatalf("err = %v, want SequenceDriftError", err)
	}
	if drift.Type != "issues" || drift.Current != 0 || drift.Next != 1 {
		t.Errorf("drift = %+v", drift)
	}
	if drift.Path != storage.RecordPath(models.BaseTask, "issues", "1") {
		t.Errorf("drift path = %s", drift.Path)
	}

	// Rebuild resynchronizes the counter and creation works again.
	if _, err := svc.Rebuild(ctx, "issues"); err != nil {
		t.Fatal(err)
	}
	item, err := svc.CreateItem(ctx, CreateInput{Type: "issues", Title: "Bug 2", Content: "x"})
	if err != nil {
		t.Fatalf("create after rebuild: %v", err)
	}
	if item.ID != "2" {
		t.Errorf("id = %s, want 2", item.ID)
	}
}

func TestGetItem_RoundTrip(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateItem(ctx, CreateInput{
		Type: "knowledge", Title: "Göroutines", Content: "line one\n\nline two\n",
		Tags: []string{"go"}, Related: []string{"docs-1"},
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := svc.GetItem(ctx, "knowledge", created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(created, got); diff != "" {
		t.Errorf("item mismatch (-created +read):\n%s", diff)
	}
}

func TestGetItem_NotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.GetItem(context.Background(), "issues", "404")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateItem_Partial(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	svc.SetClock(func() time.Time { return time.Date(2025, 7, 30, 10, 0, 0, 0, time.UTC) })

	created, err := svc.CreateItem(ctx, CreateInput{
		Type: "issues", Title: "Bug", Description: "flaky login", Content: "details",
	})
	if err != nil {
		t.Fatal(err)
	}

	svc.SetClock(func() time.Time { return time.Date(2025, 7, 31, 12, 0, 0, 0, time.UTC) })
	status := "In Progress"
	updated, err := svc.UpdateItem(ctx, "issues", created.ID, UpdateInput{Status: &status})
	if err != nil {
		t.Fatal(err)
	}

	if updated.Status != "In Progress" {
		t.Errorf("status = %q", updated.Status)
	}
	if updated.Title != "Bug" || updated.Description != "flaky login" || updated.Content != "details" {
		t.Error("unspecified fields must stay unchanged")
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Error("created_at must be frozen")
	}
	if !updated.UpdatedAt.After(created.UpdatedAt) {
		t.Error("updated_at must be bumped")
	}
}

func TestUpdateItem_CannotBlankContent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	created, err := svc.CreateItem(ctx, CreateInput{Type: "issues", Title: "Bug", Content: "x"})
	if err != nil {
		t.Fatal(err)
	}
	empty := ""
	if _, err := svc.UpdateItem(ctx, "issues", created.ID, UpdateInput{Content: &empty}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestDeleteItem(t *testing.T) {
	svc, _, store := newTestService(t)
	ctx := context.Background()
	created, err := svc.CreateItem(ctx, CreateInput{Type: "issues", Title: "Bug", Content: "x"})
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.DeleteItem(ctx, "issues", created.ID); err != nil {
		t.Fatal(err)
	}
	if ok, _ := store.Exists(storage.RecordPath(models.BaseTask, "issues", created.ID)); ok {
		t.Error("record file should be gone")
	}
	if _, err := svc.GetItem(ctx, "issues", created.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Error("item should be gone")
	}
	if err := svc.DeleteItem(ctx, "issues", created.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestGetItems_ClosedStatusExclusion(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if _, err := svc.CreateItem(ctx, CreateInput{Type: "issues", Title: fmt.Sprintf("Bug %d", i), Content: "x"}); err != nil {
			t.Fatal(err)
		}
	}
	all, err := svc.GetItems(ctx, ListInput{Type: "issues"})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d items, want 3", len(all))
	}

	closed := "Completed"
	if _, err := svc.UpdateItem(ctx, "issues", "2", UpdateInput{Status: &closed}); err != nil {
		t.Fatal(err)
	}

	open, _ := svc.GetItems(ctx, ListInput{Type: "issues"})
	if len(open) != 2 {
		t.Errorf("default listing = %d items, want closed excluded", len(open))
	}
	withClosed, _ := svc.GetItems(ctx, ListInput{Type: "issues", IncludeClosed: true})
	if len(withClosed) != 3 {
		t.Errorf("include-closed listing = %d items, want 3", len(withClosed))
	}
	onlyClosed, _ := svc.GetItems(ctx, ListInput{Type: "issues", IncludeClosed: true, Statuses: []string{"Completed"}})
	if len(onlyClosed) != 1 || onlyClosed[0].ID != "2" {
		t.Errorf("status filter = %+v", onlyClosed)
	}
}

func TestGetItems_DateRangeOnSessions(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for _, id := range []string{"2025-07-29-09.00.00.000", "2025-07-30-09.00.00.000", "2025-08-01-09.00.00.000"} {
		if _, err := svc.CreateItem(ctx, CreateInput{Type: "sessions", ID: id, Title: "s"}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := svc.GetItems(ctx, ListInput{Type: "sessions", StartDate: "2025-07-30", EndDate: "2025-07-31"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "2025-07-30-09.00.00.000" {
		t.Errorf("got = %+v, want only the 07-30 session", got)
	}
}

func TestSearchByTag(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateItem(ctx, CreateInput{Type: "issues", Title: "Bug", Content: "x", Tags: []string{"urgent"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateItem(ctx, CreateInput{Type: "docs", Title: "Runbook", Content: "x", Tags: []string{"urgent"}}); err != nil {
		t.Fatal(err)
	}

	hits, err := svc.SearchByTag(ctx, "urgent", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Errorf("got %d hits, want 2", len(hits))
	}
	hits, _ = svc.SearchByTag(ctx, "urgent", []string{"issues"})
	if len(hits) != 1 || hits[0].Type != "issues" {
		t.Errorf("restricted hits = %+v", hits)
	}
	if _, err := svc.SearchByTag(ctx, "  ", nil); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("blank tag err = %v, want ErrValidation", err)
	}
}

func TestTagLifecycle(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateItem(ctx, CreateInput{Type: "issues", Title: "Bug", Content: "x", Tags: []string{"bug"}})
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.DeleteTag(ctx, "bug"); err != nil {
		t.Fatal(err)
	}
	// The item's own tags array is untouched; only search stops matching.
	got, _ := svc.GetItem(ctx, "issues", created.ID)
	if len(got.Tags) != 1 || got.Tags[0] != "bug" {
		t.Errorf("item tags rewritten: %v", got.Tags)
	}
	hits, _ := svc.SearchByTag(ctx, "bug", nil)
	if len(hits) != 0 {
		t.Error("deleted tag should not match")
	}
}

func TestCreateType(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	typ, err := svc.CreateType(ctx, "recipes", models.BaseDocument, "cooking notes")
	if err != nil {
		t.Fatal(err)
	}
	if typ.Strategy != models.IDSequential {
		t.Errorf("custom types must be sequential, got %s", typ.Strategy)
	}

	if _, err := svc.CreateType(ctx, "recipes", models.BaseDocument, ""); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("duplicate err = %v, want ErrAlreadyExists", err)
	}
	if _, err := svc.CreateType(ctx, "issues", models.BaseTask, ""); !errors.Is(err, apperr.ErrBusinessRule) {
		t.Errorf("builtin collision err = %v, want ErrBusinessRule", err)
	}
	for _, bad := range []string{"Recipes", "1recipes", "re-cipes", ""} {
		if _, err := svc.CreateType(ctx, bad, models.BaseDocument, ""); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("name %q err = %v, want ErrValidation", bad, err)
		}
	}
	if _, err := svc.CreateType(ctx, "notes", "folders", ""); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("bad base err = %v, want ErrValidation", err)
	}
}

func TestDeleteType_Guard(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateType(ctx, "recipes", models.BaseDocument, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateItem(ctx, CreateInput{Type: "recipes", Title: "Pancakes", Content: "flour"}); err != nil {
		t.Fatal(err)
	}

	if err := svc.DeleteType(ctx, "recipes"); !errors.Is(err, apperr.ErrBusinessRule) {
		t.Errorf("err = %v, want ErrBusinessRule while items exist", err)
	}
	if err := svc.DeleteItem(ctx, "recipes", "1"); err != nil {
		t.Fatal(err)
	}
	if err := svc.DeleteType(ctx, "recipes"); err != nil {
		t.Errorf("empty type should delete: %v", err)
	}

	// Built-ins follow the same permissive-if-empty rule.
	if err := svc.DeleteType(ctx, "plans"); err != nil {
		t.Errorf("empty builtin should delete: %v", err)
	}
}

func TestRebuild_ReproducesEverything(t *testing.T) {
	svc, db, store := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateItem(ctx, CreateInput{
		Type: "issues", Title: "Bug", Description: "desc", Content: "body",
		Tags: []string{"bug"}, Related: []string{"plans-1"}, Priority: models.PriorityHigh,
	})
	if err != nil {
		t.Fatal(err)
	}

	// Simulate index loss.
	if err := db.DeleteItem("issues", created.ID); err != nil {
		t.Fatal(err)
	}

	fresh := NewService(store, db, testutil.Logger())
	if _, err := fresh.RebuildAll(ctx); err != nil {
		t.Fatal(err)
	}

	got, err := fresh.GetItem(ctx, "issues", created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(created, got); diff != "" {
		t.Errorf("rebuilt item mismatch (-created +rebuilt):\n%s", diff)
	}
	row, err := db.GetRow("issues", created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if row.Title != "Bug" || row.Priority != models.PriorityHigh {
		t.Errorf("row = %+v", row)
	}
}

func TestNotifyCallback(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	var events []string
	svc.SetNotify(func(kind, typ, id string) {
		events = append(events, kind+" "+typ+"-"+id)
	})

	created, err := svc.CreateItem(ctx, CreateInput{Type: "issues", Title: "Bug", Content: "x"})
	if err != nil {
		t.Fatal(err)
	}
	title := "Bug!"
	if _, err := svc.UpdateItem(ctx, "issues", created.ID, UpdateInput{Title: &title}); err != nil {
		t.Fatal(err)
	}
	if err := svc.DeleteItem(ctx, "issues", created.ID); err != nil {
		t.Fatal(err)
	}

	want := []string{"created issues-1", "updated issues-1", "deleted issues-1"}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}
