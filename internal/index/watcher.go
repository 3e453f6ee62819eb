package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/checksum"
	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/codec"
	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/models"
	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/storage"
)

// EventCallback is called after a watcher-driven index change.
// kind is one of "created", "updated", "deleted".
type EventCallback func(kind, typ, id string)

// Watch starts an fsnotify watcher on the data root and processes file
// change events until ctx is cancelled, so that hand-edited record files
// stay indexed. It calls cb (if non-nil) after each successful index
// mutation.
//
// New type directories created at runtime are added to the watch list.
// Rename events trigger a debounced reconciliation pass that removes
// stale index entries whose files no longer exist on disk.
func Watch(ctx context.Context, db *DB, store storage.Provider, dataRoot string, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, dataRoot); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", dataRoot))

	// reconcileTimer debounces rename reconciliation.
	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(200 * time.Millisecond)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			reconcile(db, store, logger, cb)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			absPath := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					}
					// Records already inside the new directory surface
					// through the reconciliation pass.
					scheduleReconcile()
					continue
				}
			}

			if !strings.HasSuffix(absPath, ".md") {
				continue
			}

			rel, relErr := filepath.Rel(dataRoot, absPath)
			if relErr != nil {
				continue
			}
			typ, id, ok := splitRecordPath(db, rel)
			if !ok {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				data, readErr := store.Read(rel)
				if readErr != nil {
					logger.Warn("watcher: read failed", slog.String("path", rel), slog.String("error", readErr.Error()))
					continue
				}
				if idxErr := indexRecord(db, typ, id, data); idxErr != nil {
					logger.Warn("watcher: index failed", slog.String("path", rel), slog.String("error", idxErr.Error()))
					continue
				}
				kind := "updated"
				if ev.Op&fsnotify.Create != 0 {
					kind = "created"
				}
				logger.Debug("watcher: indexed", slog.String("path", rel), slog.String("op", kind))
				if cb != nil {
					cb(kind, typ.Name, id)
				}

			case ev.Op&fsnotify.Remove != 0:
				if delErr := db.DeleteItem(typ.Name, id); delErr != nil {
					logger.Warn("watcher: delete failed", slog.String("path", rel), slog.String("error", delErr.Error()))
					continue
				}
				logger.Debug("watcher: deleted", slog.String("path", rel))
				if cb != nil {
					cb("deleted", typ.Name, id)
				}

			case ev.Op&fsnotify.Rename != 0:
				// fsnotify fires Rename on the OLD path only; the new
				// path arrives as a separate Create event. Delete the
				// old entry now and schedule a reconciliation pass for
				// stragglers.
				if delErr := db.DeleteItem(typ.Name, id); delErr == nil {
					logger.Debug("watcher: rename old deleted", slog.String("path", rel))
					if cb != nil {
						cb("deleted", typ.Name, id)
					}
				}
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// splitRecordPath maps a relative path {base}/{type}/{type}-{id}.md onto
// a registered type and id. Unregistered types and foreign files are
// ignored.
func splitRecordPath(db *DB, rel string) (models.Type, string, bool) {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 {
		return models.Type{}, "", false
	}
	typ, err := db.GetType(parts[1])
	if err != nil || string(typ.Base) != parts[0] {
		return models.Type{}, "", false
	}
	id, ok := storage.ParseRecordName(typ.Name, parts[2])
	if !ok {
		return models.Type{}, "", false
	}
	return typ, id, true
}

// indexRecord decodes data and upserts it under the identity given by
// its file location.
func indexRecord(db *DB, typ models.Type, id string, data []byte) error {
	item, err := codec.Decode(data)
	if err != nil {
		return err
	}
	row := rowFromItem(item, typ, checksum.Sum(data))
	row.Type = typ.Name
	row.ID = id
	return db.UpsertItem(row, item.Content)
}

// reconcile compares every registered type's directory against the index
// using checksums: changed or new files are re-indexed, rows without a
// backing file are removed.
func reconcile(db *DB, store storage.Provider, logger *slog.Logger, cb EventCallback) {
	types, err := db.ListTypes(true)
	if err != nil {
		logger.Warn("reconcile: list types failed", slog.String("error", err.Error()))
		return
	}

	for _, typ := range types {
		names, err := store.ListType(typ.Base, typ.Name)
		if err != nil {
			logger.Warn("reconcile: list failed", slog.String("type", typ.Name), slog.String("error", err.Error()))
			continue
		}
		indexed, err := db.Checksums(typ.Name)
		if err != nil {
			logger.Warn("reconcile: checksums failed", slog.String("type", typ.Name), slog.String("error", err.Error()))
			continue
		}

		disk := make(map[string]struct{}, len(names))
		for _, name := range names {
			id, ok := storage.ParseRecordName(typ.Name, name)
			if !ok {
				continue
			}
			disk[id] = struct{}{}

			data, readErr := store.Read(storage.RecordPath(typ.Base, typ.Name, id))
			if readErr != nil {
				continue
			}
			if indexed[id] == checksum.Sum(data) {
				continue
			}
			if idxErr := indexRecord(db, typ, id, data); idxErr == nil {
				logger.Debug("reconcile: indexed", slog.String("type", typ.Name), slog.String("id", id))
				if cb != nil {
					cb("updated", typ.Name, id)
				}
			}
		}

		for id := range indexed {
			if _, ok := disk[id]; !ok {
				if delErr := db.DeleteItem(typ.Name, id); delErr == nil {
					logger.Debug("reconcile: removed stale", slog.String("type", typ.Name), slog.String("id", id))
					if cb != nil {
						cb("deleted", typ.Name, id)
					}
				}
			}
		}
	}
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
