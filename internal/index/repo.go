package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/apperr"
	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/models"
)

// ItemRow mirrors an item's scalar fields in the items table. The body
// is stored alongside but never returned by list projections.
type ItemRow struct {
	Type        string
	ID          string
	Title       string
	Description string
	Priority    string
	Status      string
	StartDate   string
	EndDate     string
	Tags        []string
	Related     []string
	Checksum    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Summary converts a row to the list projection.
func (r ItemRow) Summary() models.ItemSummary {
	return models.ItemSummary{
		Type:        r.Type,
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Priority:    r.Priority,
		Status:      r.Status,
		Tags:        r.Tags,
		Related:     r.Related,
		StartDate:   r.StartDate,
		EndDate:     r.EndDate,
		UpdatedAt:   r.UpdatedAt,
	}
}

// SearchResult represents one full-text search hit.
type SearchResult struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// ListQuery selects item rows for the list projection.
type ListQuery struct {
	Type string
	// ExcludeStatuses removes rows whose status is in the set (the
	// closed statuses, unless the caller opted in).
	ExcludeStatuses []string
	// Statuses, when non-empty, keeps only rows with these statuses.
	Statuses []string
	// DateField is "start_date" or "updated_at"; date filters below
	// apply to it. StartDate is inclusive, EndExclusive is the first
	// moment after the range (end date + 1 day).
	DateField    string
	StartDate    string
	EndExclusive string
}

// UpsertItem inserts or replaces an item row, its tag associations, its
// FTS entry, and records every tag in the vocabulary, in one transaction.
func (db *DB) UpsertItem(row ItemRow, body string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	tagsJSON, _ := json.Marshal(nonNil(row.Tags))
	relatedJSON, _ := json.Marshal(nonNil(row.Related))

	_, err = tx.Exec(`
		INSERT INTO items (type, id, title, description, priority, status,
			start_date, end_date, tags, related, body, checksum, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(type, id) DO UPDATE SET
			title       = excluded.title,
			description = excluded.description,
			priority    = excluded.priority,
			status      = excluded.status,
			start_date  = excluded.start_date,
			end_date    = excluded.end_date,
			tags        = excluded.tags,
			related     = excluded.related,
			body        = excluded.body,
			checksum    = excluded.checksum,
			created_at  = excluded.created_at,
			updated_at  = excluded.updated_at
	`, row.Type, row.ID, row.Title, row.Description, row.Priority, row.Status,
		row.StartDate, row.EndDate, string(tagsJSON), string(relatedJSON),
		body, row.Checksum, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert item: %w", err)
	}

	if err := ftsUpsert(tx, row.Type, row.ID, row.Title, row.Description, body, row.Tags); err != nil {
		return err
	}

	// Replace tag associations; the vocabulary only ever grows here.
	_, _ = tx.Exec(`DELETE FROM item_tags WHERE type = ? AND id = ?`, row.Type, row.ID)
	for _, tag := range row.Tags {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO tags (name) VALUES (?)`, tag); err != nil {
			return fmt.Errorf("index: insert tag: %w", err)
		}
		if _, err := tx.Exec(`INSERT OR IGNORE INTO item_tags (type, id, tag) VALUES (?, ?, ?)`, row.Type, row.ID, tag); err != nil {
			return fmt.Errorf("index: insert item tag: %w", err)
		}
	}

	return tx.Commit()
}

// DeleteItem removes an item row, its tag associations, and its FTS
// entry. The tag vocabulary is untouched.
func (db *DB) DeleteItem(typ, id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, typ, id)
	_, _ = tx.Exec(`DELETE FROM item_tags WHERE type = ? AND id = ?`, typ, id)
	_, _ = tx.Exec(`DELETE FROM items WHERE type = ? AND id = ?`, typ, id)

	return tx.Commit()
}

const rowColumns = `type, id, title, description, priority, status,
	start_date, end_date, tags, related, checksum, created_at, updated_at`

func scanRow(scan func(...any) error) (ItemRow, error) {
	var r ItemRow
	var tagsJSON, relatedJSON string
	err := scan(&r.Type, &r.ID, &r.Title, &r.Description, &r.Priority, &r.Status,
		&r.StartDate, &r.EndDate, &tagsJSON, &relatedJSON, &r.Checksum, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return r, err
	}
	_ = json.Unmarshal([]byte(tagsJSON), &r.Tags)
	_ = json.Unmarshal([]byte(relatedJSON), &r.Related)
	r.Tags = nonNil(r.Tags)
	r.Related = nonNil(r.Related)
	return r, nil
}

// GetRow returns the indexed row for one item, apperr.ErrNotFound when
// absent. Full single-item reads go through the file store instead; this
// exists for reconciliation and tests.
func (db *DB) GetRow(typ, id string) (*ItemRow, error) {
	row := db.conn.QueryRow(`SELECT `+rowColumns+` FROM items WHERE type = ? AND id = ?`, typ, id)
	r, err := scanRow(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("index: item %s-%s: %w", typ, id, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("index: get row: %w", err)
	}
	return &r, nil
}

// ListItems returns the list projection for a query, newest first.
func (db *DB) ListItems(q ListQuery) ([]ItemRow, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + rowColumns + ` FROM items WHERE type = ?`)
	args := []any{q.Type}

	if len(q.ExcludeStatuses) > 0 {
		sb.WriteString(` AND status NOT IN (` + placeholders(len(q.ExcludeStatuses)) + `)`)
		for _, s := range q.ExcludeStatuses {
			args = append(args, s)
		}
	}
	if len(q.Statuses) > 0 {
		sb.WriteString(` AND status IN (` + placeholders(len(q.Statuses)) + `)`)
		for _, s := range q.Statuses {
			args = append(args, s)
		}
	}
	if q.StartDate != "" {
		sb.WriteString(` AND ` + dateColumn(q.DateField) + ` >= ?`)
		args = append(args, q.StartDate)
	}
	if q.EndExclusive != "" {
		sb.WriteString(` AND ` + dateColumn(q.DateField) + ` < ?`)
		args = append(args, q.EndExclusive)
	}
	sb.WriteString(` ORDER BY created_at, id`)

	rows, err := db.conn.Query(sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("index: list items: %w", err)
	}
	defer rows.Close()

	var out []ItemRow
	for rows.Next() {
		r, err := scanRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("index: scan item: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// dateColumn whitelists the two filterable date columns.
func dateColumn(field string) string {
	if field == "start_date" {
		return "start_date"
	}
	return "updated_at"
}

// SearchByTag returns rows carrying an exact tag, optionally restricted
// to a set of types, ordered by type then id.
func (db *DB) SearchByTag(tag string, types []string) ([]ItemRow, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT i.type, i.id, i.title, i.description, i.priority, i.status,
		i.start_date, i.end_date, i.tags, i.related, i.checksum, i.created_at, i.updated_at
		FROM items i
		JOIN item_tags it ON it.type = i.type AND it.id = i.id
		WHERE it.tag = ?`)
	args := []any{tag}
	if len(types) > 0 {
		sb.WriteString(` AND i.type IN (` + placeholders(len(types)) + `)`)
		for _, t := range types {
			args = append(args, t)
		}
	}
	sb.WriteString(` ORDER BY i.type, i.id`)

	rows, err := db.conn.Query(sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("index: search by tag: %w", err)
	}
	defer rows.Close()

	var out []ItemRow
	for rows.Next() {
		r, err := scanRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("index: scan item: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListTags returns the tag vocabulary, sorted.
func (db *DB) ListTags() ([]string, error) {
	rows, err := db.conn.Query(`SELECT name FROM tags ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("index: list tags: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// DeleteTag removes a tag from the vocabulary and its associations.
// Items that reference the tag are not rewritten: their files keep the
// tag string, it simply stops matching in searches.
func (db *DB) DeleteTag(name string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.Exec(`DELETE FROM tags WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("index: delete tag: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("index: tag %q: %w", name, apperr.ErrNotFound)
	}
	_, _ = tx.Exec(`DELETE FROM item_tags WHERE tag = ?`, name)

	return tx.Commit()
}

// IDs returns every indexed id for a type.
func (db *DB) IDs(typ string) (map[string]struct{}, error) {
	rows, err := db.conn.Query(`SELECT id FROM items WHERE type = ?`, typ)
	if err != nil {
		return nil, fmt.Errorf("index: ids: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// Checksums returns id → checksum for every indexed item of a type.
func (db *DB) Checksums(typ string) (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT id, checksum FROM items WHERE type = ?`, typ)
	if err != nil {
		return nil, fmt.Errorf("index: checksums: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, cs string
		if err := rows.Scan(&id, &cs); err != nil {
			return nil, err
		}
		out[id] = cs
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
