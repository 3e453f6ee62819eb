package index

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/checksum"
	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/codec"
	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/models"
	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/storage"
)

// RebuildResult reports the outcome of reconciling one type.
type RebuildResult struct {
	Type    string `json:"type"`
	Indexed int    `json:"indexed"`
	Skipped int    `json:"skipped"`
}

// Rebuild reconciles the index rows of one type against its directory:
// every record file is decoded and upserted, index rows without a
// backing file are removed, and the allocator counter is recomputed from
// the maximum numeric id observed. Malformed files (bad filename, no
// metadata block) are skipped and counted, never fatal. The operation is
// idempotent and never mutates the file store; cancellation between
// files leaves already-processed rows valid.
func Rebuild(ctx context.Context, db *DB, store storage.Provider, typ models.Type, logger *slog.Logger) (RebuildResult, error) {
	res := RebuildResult{Type: typ.Name}

	if err := db.EnsureType(typ); err != nil {
		return res, err
	}

	names, err := store.ListType(typ.Base, typ.Name)
	if err != nil {
		return res, err
	}

	disk := make(map[string]struct{}, len(names))
	var maxID int64

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("rebuild %s: canceled: %w", typ.Name, err)
		}

		id, ok := storage.ParseRecordName(typ.Name, name)
		if !ok {
			res.Skipped++
			logger.Warn("rebuild: filename does not match pattern",
				slog.String("type", typ.Name), slog.String("file", name))
			continue
		}

		path := storage.RecordPath(typ.Base, typ.Name, id)
		data, err := store.Read(path)
		if err != nil {
			res.Skipped++
			logger.Warn("rebuild: read failed",
				slog.String("path", path), slog.String("error", err.Error()))
			continue
		}

		item, err := codec.Decode(data)
		if err != nil {
			res.Skipped++
			logger.Warn("rebuild: malformed record",
				slog.String("path", path), slog.String("error", err.Error()))
			continue
		}

		row := rowFromItem(item, typ, checksum.Sum(data))
		// The filename, not the front matter, is authoritative for
		// identity: a hand-copied file keeps its new name.
		row.Type = typ.Name
		row.ID = id

		if err := db.UpsertItem(row, item.Content); err != nil {
			res.Skipped++
			logger.Warn("rebuild: index upsert failed",
				slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		res.Indexed++
		disk[id] = struct{}{}

		if n, perr := strconv.ParseInt(id, 10, 64); perr == nil && n > maxID {
			maxID = n
		}
	}

	// Remove stale rows whose files are gone.
	indexed, err := db.IDs(typ.Name)
	if err != nil {
		return res, err
	}
	for id := range indexed {
		if _, ok := disk[id]; !ok {
			if err := db.DeleteItem(typ.Name, id); err != nil {
				logger.Warn("rebuild: stale delete failed",
					slog.String("type", typ.Name), slog.String("id", id),
					slog.String("error", err.Error()))
			}
		}
	}

	// Resynchronize the allocator high-water mark.
	if err := db.SetSequence(typ.Name, maxID); err != nil {
		return res, err
	}

	logger.Info("rebuild: type reconciled",
		slog.String("type", typ.Name),
		slog.Int("indexed", res.Indexed),
		slog.Int("skipped", res.Skipped))
	return res, nil
}

// RebuildAll registers the built-in types plus any type directories
// found on disk, then reconciles every registered type.
func RebuildAll(ctx context.Context, db *DB, store storage.Provider, logger *slog.Logger) ([]RebuildResult, error) {
	for _, t := range models.BuiltinTypes() {
		if err := db.EnsureType(t); err != nil {
			return nil, err
		}
	}

	// Directories created by hand (or restored from backup) become
	// registered types so their records are indexed.
	for _, base := range []models.BaseType{models.BaseTask, models.BaseDocument} {
		dirs, err := store.ListTypeDirs(base)
		if err != nil {
			return nil, err
		}
		for _, name := range dirs {
			if !models.ValidTypeName(name) {
				logger.Warn("rebuild: ignoring directory with invalid type name",
					slog.String("base", string(base)), slog.String("dir", name))
				continue
			}
			if err := db.EnsureType(models.Type{Name: name, Base: base, Strategy: models.IDSequential}); err != nil {
				return nil, err
			}
		}
	}

	types, err := db.ListTypes(true)
	if err != nil {
		return nil, err
	}

	var out []RebuildResult
	for _, t := range types {
		res, err := Rebuild(ctx, db, store, t, logger)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

// rowFromItem builds an index row from a decoded item, deriving the
// start date from the id at this read boundary when the record predates
// the stored field.
func rowFromItem(item *models.Item, typ models.Type, sum string) ItemRow {
	start := item.StartDate
	if start == "" && typ.Strategy != models.IDSequential {
		start = codec.DeriveDate(item.ID)
	}
	return ItemRow{
		Type:        item.Type,
		ID:          item.ID,
		Title:       item.Title,
		Description: item.Description,
		Priority:    item.Priority,
		Status:      item.Status,
		StartDate:   start,
		EndDate:     item.EndDate,
		Tags:        item.Tags,
		Related:     item.Related,
		Checksum:    sum,
		CreatedAt:   item.CreatedAt,
		UpdatedAt:   item.UpdatedAt,
	}
}
