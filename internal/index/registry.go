package index

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/apperr"
	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/models"
)

// The sequences table doubles as the type registry: one row per known
// type carrying its category, id strategy, and allocator counter. It is
// part of the disposable index; rebuild re-registers types from the
// directories on disk and recomputes counters from the max numeric id.

// RegisterType adds a new type, apperr.ErrAlreadyExists on duplicates.
func (db *DB) RegisterType(t models.Type) error {
	_, err := db.conn.Exec(`
		INSERT INTO sequences (type, base, strategy, description, current, builtin)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.Name, string(t.Base), string(t.Strategy), t.Description, t.Sequence, t.BuiltIn)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("index: type %q: %w", t.Name, apperr.ErrAlreadyExists)
		}
		return fmt.Errorf("index: register type: %w", err)
	}
	return nil
}

// EnsureType registers a type if absent, leaving existing rows untouched.
func (db *DB) EnsureType(t models.Type) error {
	_, err := db.conn.Exec(`
		INSERT OR IGNORE INTO sequences (type, base, strategy, description, current, builtin)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.Name, string(t.Base), string(t.Strategy), t.Description, t.Sequence, t.BuiltIn)
	if err != nil {
		return fmt.Errorf("index: ensure type: %w", err)
	}
	return nil
}

// GetType returns a registry entry, apperr.ErrNotFound when unknown.
func (db *DB) GetType(name string) (models.Type, error) {
	var t models.Type
	var base, strategy string
	err := db.conn.QueryRow(`
		SELECT type, base, strategy, description, current, builtin
		FROM sequences WHERE type = ?
	`, name).Scan(&t.Name, &base, &strategy, &t.Description, &t.Sequence, &t.BuiltIn)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, fmt.Errorf("index: type %q: %w", name, apperr.ErrNotFound)
		}
		return t, fmt.Errorf("index: get type: %w", err)
	}
	t.Base = models.BaseType(base)
	t.Strategy = models.IDStrategy(strategy)
	return t, nil
}

// ListTypes returns every registered type, built-ins first then by name.
// With includeBuiltins false, built-in types are filtered out.
func (db *DB) ListTypes(includeBuiltins bool) ([]models.Type, error) {
	q := `SELECT type, base, strategy, description, current, builtin
		FROM sequences`
	if !includeBuiltins {
		q += ` WHERE builtin = 0`
	}
	q += ` ORDER BY builtin DESC, type`

	rows, err := db.conn.Query(q)
	if err != nil {
		return nil, fmt.Errorf("index: list types: %w", err)
	}
	defer rows.Close()

	var out []models.Type
	for rows.Next() {
		var t models.Type
		var base, strategy string
		if err := rows.Scan(&t.Name, &base, &strategy, &t.Description, &t.Sequence, &t.BuiltIn); err != nil {
			return nil, err
		}
		t.Base = models.BaseType(base)
		t.Strategy = models.IDStrategy(strategy)
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteType removes a registry entry, apperr.ErrNotFound when unknown.
// Business-rule checks (no remaining items) happen in the service.
func (db *DB) DeleteType(name string) error {
	res, err := db.conn.Exec(`DELETE FROM sequences WHERE type = ?`, name)
	if err != nil {
		return fmt.Errorf("index: delete type: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("index: type %q: %w", name, apperr.ErrNotFound)
	}
	return nil
}

// CurrentSequence returns a type's allocator counter.
func (db *DB) CurrentSequence(name string) (int64, error) {
	var cur int64
	err := db.conn.QueryRow(`SELECT current FROM sequences WHERE type = ?`, name).Scan(&cur)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("index: type %q: %w", name, apperr.ErrNotFound)
		}
		return 0, fmt.Errorf("index: current sequence: %w", err)
	}
	return cur, nil
}

// SetSequence commits a type's allocator counter.
func (db *DB) SetSequence(name string, value int64) error {
	res, err := db.conn.Exec(`UPDATE sequences SET current = ? WHERE type = ?`, value, name)
	if err != nil {
		return fmt.Errorf("index: set sequence: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("index: type %q: %w", name, apperr.ErrNotFound)
	}
	return nil
}

// CountItems returns the number of indexed items of a type.
func (db *DB) CountItems(typ string) (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT count(*) FROM items WHERE type = ?`, typ).Scan(&n); err != nil {
		return 0, fmt.Errorf("index: count items: %w", err)
	}
	return n, nil
}

// isUniqueViolation detects a primary-key conflict.
func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			serr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
