//go:build !sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
	"strings"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not available; full-text search uses LIKE fallback on the
	// items table columns.
	return nil
}

func ftsUpsert(_ *sql.Tx, _, _, _, _, _ string, _ []string) error {
	// Title, description, body, and tags are already mirrored in the
	// items table; nothing extra to do.
	return nil
}

func ftsDelete(_ *sql.Tx, _, _ string) {}

// Search performs a LIKE-based search (fallback when FTS5 is not
// compiled in).
func (db *DB) Search(query string, types []string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + query + "%"
	var sb strings.Builder
	sb.WriteString(`
		SELECT type, id, title, substr(body, 1, 200)
		FROM items
		WHERE (title LIKE ? OR description LIKE ? OR body LIKE ? OR tags LIKE ?)`)
	args := []any{like, like, like, like}
	if len(types) > 0 {
		sb.WriteString(` AND type IN (` + placeholders(len(types)) + `)`)
		for _, t := range types {
			args = append(args, t)
		}
	}
	sb.WriteString(` LIMIT ?`)
	args = append(args, limit)

	rows, err := db.conn.Query(sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.Type, &r.ID, &r.Title, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
