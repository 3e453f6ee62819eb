package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/apperr"
	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/models"
)

func tempStore(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestRecordPath(t *testing.T) {
	got := RecordPath(models.BaseTask, "issues", "1")
	want := filepath.Join("tasks", "issues", "issues-1.md")
	if got != want {
		t.Errorf("RecordPath = %q, want %q", got, want)
	}
}

func TestParseRecordName(t *testing.T) {
	cases := []struct {
		name string
		id   string
		ok   bool
	}{
		{"issues-1.md", "1", true},
		{"issues-42.md", "42", true},
		{"sessions-2025-07-31-10.30.00.000.md", "2025-07-31-10.30.00.000", true},
		{"issues-.md", "", false},
		{"plans-1.md", "", false},
		{"issues-1.txt", "", false},
		{"README.md", "", false},
	}
	for _, tc := range cases {
		id, ok := ParseRecordName("issues", tc.name)
		if tc.name == "sessions-2025-07-31-10.30.00.000.md" {
			id, ok = ParseRecordName("sessions", tc.name)
		}
		if ok != tc.ok || id != tc.id {
			t.Errorf("ParseRecordName(%q) = (%q, %v), want (%q, %v)", tc.name, id, ok, tc.id, tc.ok)
		}
	}
}

func TestWriteAndRead(t *testing.T) {
	s := tempStore(t)
	path := RecordPath(models.BaseTask, "issues", "1")
	content := []byte("---\ntype: issues\nid: \"1\"\n---\nbody\n")
	if err := s.Write(path, content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestReadMissingIsNotFound(t *testing.T) {
	s := tempStore(t)
	_, err := s.Read(RecordPath(models.BaseTask, "issues", "99"))
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteMissingIsNotFound(t *testing.T) {
	s := tempStore(t)
	err := s.Delete(RecordPath(models.BaseTask, "issues", "99"))
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	s := tempStore(t)
	path := RecordPath(models.BaseDocument, "docs", "1")
	_ = s.Write(path, []byte("x"))
	if err := s.Delete(path); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := s.Exists(path); ok {
		t.Error("record should be gone")
	}
}

func TestExists(t *testing.T) {
	s := tempStore(t)
	path := RecordPath(models.BaseTask, "issues", "1")
	if ok, err := s.Exists(path); err != nil || ok {
		t.Fatalf("Exists before write = (%v, %v)", ok, err)
	}
	_ = s.Write(path, []byte("x"))
	if ok, err := s.Exists(path); err != nil || !ok {
		t.Fatalf("Exists after write = (%v, %v)", ok, err)
	}
}

func TestListType(t *testing.T) {
	s := tempStore(t)
	_ = s.Write(RecordPath(models.BaseTask, "issues", "1"), []byte("a"))
	_ = s.Write(RecordPath(models.BaseTask, "issues", "2"), []byte("b"))
	_ = s.Write(RecordPath(models.BaseTask, "plans", "1"), []byte("c"))
	_ = s.Write(filepath.Join("tasks", "issues", "notes.txt"), []byte("not md"))

	names, err := s.ListType(models.BaseTask, "issues")
	if err != nil {
		t.Fatalf("ListType: %v", err)
	}
	if len(names) != 2 {
		t.Errorf("len = %d, want 2 (%v)", len(names), names)
	}
}

func TestListTypeMissingDirIsEmpty(t *testing.T) {
	s := tempStore(t)
	names, err := s.ListType(models.BaseDocument, "nothing")
	if err != nil {
		t.Fatalf("ListType: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("expected empty listing, got %v", names)
	}
}

func TestListTypeDirs(t *testing.T) {
	s := tempStore(t)
	_ = s.Write(RecordPath(models.BaseDocument, "docs", "1"), []byte("a"))
	_ = s.Write(RecordPath(models.BaseDocument, "recipes", "1"), []byte("b"))

	dirs, err := s.ListTypeDirs(models.BaseDocument)
	if err != nil {
		t.Fatalf("ListTypeDirs: %v", err)
	}
	if len(dirs) != 2 {
		t.Errorf("dirs = %v, want [docs recipes]", dirs)
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempStore(t)
	cases := []string{
		"../../etc/passwd",
		"../outside.md",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	s := tempStore(t)
	path := RecordPath(models.BaseTask, "issues", "1")
	_ = s.Write(path, []byte("original"))
	if err := s.Write(path, []byte("updated")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read(path)
	if string(got) != "updated" {
		t.Errorf("content = %q", got)
	}
	matches, _ := filepath.Glob(filepath.Join(s.root, "tasks", "issues", ".kb-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS(filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "kb-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}
