package index

import "github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/models"

// ItemIndex defines the interface for the relational mirror. Consumers
// should depend on this interface rather than the concrete *DB type to
// keep the file-store → index dependency one-way and testable.
type ItemIndex interface {
	UpsertItem(row ItemRow, body string) error
	DeleteItem(typ, id string) error
	GetRow(typ, id string) (*ItemRow, error)
	ListItems(q ListQuery) ([]ItemRow, error)
	SearchByTag(tag string, types []string) ([]ItemRow, error)
	Search(query string, types []string, limit int) ([]SearchResult, error)
	ListTags() ([]string, error)
	DeleteTag(name string) error
	IDs(typ string) (map[string]struct{}, error)
	Checksums(typ string) (map[string]string, error)

	RegisterType(t models.Type) error
	EnsureType(t models.Type) error
	GetType(name string) (models.Type, error)
	ListTypes(includeBuiltins bool) ([]models.Type, error)
	DeleteType(name string) error
	CurrentSequence(name string) (int64, error)
	SetSequence(name string, value int64) error
	CountItems(typ string) (int, error)

	Close() error
}

// Verify *DB satisfies ItemIndex at compile time.
var _ ItemIndex = (*DB)(nil)
