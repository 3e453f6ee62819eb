// Package storage implements the durable record store on the local file
// system. Files are the source of truth; the relational index is a
// disposable projection of them.
package storage

import (
	"path/filepath"
	"strings"

	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/models"
)

// Provider is the interface for durable record operations. All paths are
// relative to the data root.
type Provider interface {
	// Read returns the raw bytes of the record at path. Absent files
	// yield apperr.ErrNotFound; I/O failures are reported distinctly.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path, creating directories as
	// needed. A reader never observes a partially written record.
	Write(path string, content []byte) error
	// Delete removes the record at path, apperr.ErrNotFound if absent.
	Delete(path string) error
	// Exists reports whether a record exists at path.
	Exists(path string) (bool, error)
	// ListType returns the file names (not paths) of every .md record in
	// the type's directory. A missing directory is an empty listing.
	ListType(base models.BaseType, typ string) ([]string, error)
	// ListTypeDirs returns the names of type subdirectories under a
	// category root.
	ListTypeDirs(base models.BaseType) ([]string, error)
}

// RecordPath builds the deterministic relative path of an item record:
// {category-root}/{type}/{type}-{id}.md.
func RecordPath(base models.BaseType, typ, id string) string {
	return filepath.Join(string(base), typ, typ+"-"+id+".md")
}

// TypeDir returns the relative directory holding a type's records.
func TypeDir(base models.BaseType, typ string) string {
	return filepath.Join(string(base), typ)
}

// ParseRecordName extracts the id from a record file name of the form
// {type}-{id}.md. ok is false when the name does not match the pattern.
func ParseRecordName(typ, name string) (string, bool) {
	prefix := typ + "-"
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".md") {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".md")
	if id == "" {
		return "", false
	}
	return id, true
}
