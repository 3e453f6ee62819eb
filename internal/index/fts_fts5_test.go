//go:build sqlite_fts5

package index

import (
	"testing"
)

func TestFTSSearch(t *testing.T) {
	db := testDB(t)
	a := testRow("docs", "1", "Deployment checklist")
	b := testRow("issues", "1", "Login bug")
	b.Description = "session cookie rejected after deployment"
	_ = db.UpsertItem(a, "steps for rolling out a release")
	_ = db.UpsertItem(b, "")

	results, err := db.Search("deployment", nil, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for _, r := range results {
		if r.Snippet == "" {
			t.Errorf("empty snippet for %s-%s", r.Type, r.ID)
		}
	}

	results, _ = db.Search("deployment", []string{"issues"}, 10)
	if len(results) != 1 || results[0].Type != "issues" {
		t.Errorf("type-restricted results = %+v", results)
	}
}

func TestFTSSearch_MatchesTags(t *testing.T) {
	db := testDB(t)
	row := testRow("docs", "1", "untitled")
	row.Tags = []string{"kubernetes"}
	_ = db.UpsertItem(row, "")

	results, err := db.Search("kubernetes", nil, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("got %d results, want tag match", len(results))
	}
}

func TestFTSSearch_UpsertReplacesEntry(t *testing.T) {
	db := testDB(t)
	row := testRow("docs", "1", "first title")
	_ = db.UpsertItem(row, "")
	row.Title = "second title"
	_ = db.UpsertItem(row, "")

	results, _ := db.Search("first", nil, 10)
	if len(results) != 0 {
		t.Errorf("stale entry still matches: %+v", results)
	}
	results, _ = db.Search("second", nil, 10)
	if len(results) != 1 {
		t.Error("replaced entry should match")
	}
}

func TestFTSSearch_DeleteRemovesEntry(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertItem(testRow("docs", "1", "ephemeral note"), "")
	if err := db.DeleteItem("docs", "1"); err != nil {
		t.Fatal(err)
	}
	results, _ := db.Search("ephemeral", nil, 10)
	if len(results) != 0 {
		t.Errorf("deleted item still matches: %+v", results)
	}
}
