// Package itemservice coordinates the file store, codec, and index into
// the engine's public operations: item CRUD, identity allocation, type
// management, queries, and rebuild.
package itemservice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/apperr"
	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/checksum"
	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/codec"
	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/index"
	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/models"
	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/storage"
)

// MaxTitleLen bounds item titles.
const MaxTitleLen = 500

// Service coordinates storage and index operations. All writes to one
// type are serialized through a per-type mutex: allocation, the
// file-existence check, the file write, and the counter commit form one
// critical section. Reads never take the lock.
type Service struct {
	store  storage.Provider
	db     *index.DB
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	typeLocks map[string]*sync.Mutex

	notify func(kind, typ, id string)
}

// NewService creates a new item service.
func NewService(store storage.Provider, db *index.DB, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		db:        db,
		logger:    logger,
		now:       time.Now,
		typeLocks: make(map[string]*sync.Mutex),
	}
}

// SetNotify installs a callback invoked after every successful item
// mutation with kind "created", "updated", or "deleted".
func (s *Service) SetNotify(fn func(kind, typ, id string)) {
	s.notify = fn
}

// SetClock overrides the time source, for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) lockType(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.typeLocks[name]
	if !ok {
		l = &sync.Mutex{}
		s.typeLocks[name] = l
	}
	return l
}

func (s *Service) emit(kind, typ, id string) {
	if s.notify != nil {
		s.notify(kind, typ, id)
	}
}

// RegisterBuiltins ensures every built-in type has a registry row.
// Existing rows, including their counters, are left untouched.
func (s *Service) RegisterBuiltins(_ context.Context) error {
	for _, t := range models.BuiltinTypes() {
		if err := s.db.EnsureType(t); err != nil {
			return err
		}
	}
	return nil
}

// CreateInput carries the caller-supplied fields for a new item. ID is
// honored only for timestamp-keyed types (historical data migration).
type CreateInput struct {
	Type        string   `json:"type"`
	ID          string   `json:"id,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Content     string   `json:"content,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	Status      string   `json:"status,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Related     []string `json:"related,omitempty"`
	StartDate   string   `json:"start_date,omitempty"`
	EndDate     string   `json:"end_date,omitempty"`
}

// CreateItem allocates an identity per the type's strategy, writes the
// durable record, and mirrors it into the index.
func (s *Service) CreateItem(_ context.Context, in CreateInput) (*models.Item, error) {
	typ, err := s.db.GetType(in.Type)
	if err != nil {
		return nil, err
	}
	if err := validateFields(typ, in.Title, in.Content, in.Priority, in.Status, in.StartDate, in.EndDate); err != nil {
		return nil, err
	}

	lock := s.lockType(typ.Name)
	lock.Lock()
	defer lock.Unlock()

	id, commit, err := s.allocateID(typ, in)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Second)
	item := &models.Item{
		Type:        typ.Name,
		ID:          id,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Content:     in.Content,
		Priority:    defaulted(in.Priority, models.PriorityMedium),
		Status:      defaulted(in.Status, models.DefaultStatus),
		Tags:        models.NormalizeTags(in.Tags),
		StartDate:   in.StartDate,
		EndDate:     in.EndDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	item.Related, err = models.NormalizeRelated(in.Related, item.Ref())
	if err != nil {
		return nil, apperr.Validationf("%s", err)
	}

	if err := s.writeAndIndex(typ, item); err != nil {
		return nil, err
	}
	if commit != nil {
		if err := commit(); err != nil {
			return nil, err
		}
	}

	s.logger.Info("item created", slog.String("type", typ.Name), slog.String("id", id))
	s.emit("created", typ.Name, id)
	return item, nil
}

// allocateID picks the next free id for the type. For sequential types
// it returns a commit func that advances the counter once the record is
// durably written.
func (s *Service) allocateID(typ models.Type, in CreateInput) (string, func() error, error) {
	switch typ.Strategy {
	case models.IDSequential:
		if in.ID != "" {
			return "", nil, apperr.Validationf("type %q allocates ids sequentially; explicit ids are not accepted", typ.Name)
		}
		cur, err := s.db.CurrentSequence(typ.Name)
		if err != nil {
			return "", nil, err
		}
		next := cur + 1
		id := fmt.Sprintf("%d", next)
		path := storage.RecordPath(typ.Base, typ.Name, id)
		exists, err := s.store.Exists(path)
		if err != nil {
			return "", nil, err
		}
		if exists {
			return "", nil, &apperr.SequenceDriftError{Type: typ.Name, Current: cur, Next: next, Path: path}
		}
		return id, func() error { return s.db.SetSequence(typ.Name, next) }, nil

	case models.IDDate:
		id := in.ID
		if id == "" {
			id = in.StartDate
		}
		if id == "" {
			id = s.now().Format(codec.DateLayout)
		}
		if !codec.ValidDate(id) {
			return "", nil, apperr.Validationf("type %q requires a YYYY-MM-DD id, got %q", typ.Name, id)
		}
		if err := s.requireFree(typ, id); err != nil {
			return "", nil, err
		}
		return id, nil, nil

	case models.IDTimestamp:
		id := in.ID
		if id == "" {
			id = s.now().Format(codec.TimestampLayout)
		}
		if err := s.requireFree(typ, id); err != nil {
			return "", nil, err
		}
		return id, nil, nil

	default:
		return "", nil, fmt.Errorf("itemservice: type %q has unknown id strategy %q", typ.Name, typ.Strategy)
	}
}

func (s *Service) requireFree(typ models.Type, id string) error {
	exists, err := s.store.Exists(storage.RecordPath(typ.Base, typ.Name, id))
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("itemservice: %s-%s: %w", typ.Name, id, apperr.ErrAlreadyExists)
	}
	return nil
}

// UpdateInput carries a partial update: nil pointers and nil slices mean
// "leave unchanged".
type UpdateInput struct {
	Title       *string  `json:"title,omitempty"`
	Description *string  `json:"description,omitempty"`
	Content     *string  `json:"content,omitempty"`
	Priority    *string  `json:"priority,omitempty"`
	Status      *string  `json:"status,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Related     []string `json:"related,omitempty"`
	StartDate   *string  `json:"start_date,omitempty"`
	EndDate     *string  `json:"end_date,omitempty"`
}

// UpdateItem applies a partial update. created_at is frozen, updated_at
// is bumped; unspecified fields keep their stored values.
func (s *Service) UpdateItem(_ context.Context, typeName, id string, in UpdateInput) (*models.Item, error) {
	typ, err := s.db.GetType(typeName)
	if err != nil {
		return nil, err
	}

	lock := s.lockType(typ.Name)
	lock.Lock()
	defer lock.Unlock()

	item, err := s.readItem(typ, id)
	if err != nil {
		return nil, err
	}

	if in.Title != nil {
		item.Title = strings.TrimSpace(*in.Title)
	}
	if in.Description != nil {
		item.Description = *in.Description
	}
	if in.Content != nil {
		item.Content = *in.Content
	}
	if in.Priority != nil {
		item.Priority = *in.Priority
	}
	if in.Status != nil {
		item.Status = *in.Status
	}
	if in.Tags != nil {
		item.Tags = models.NormalizeTags(in.Tags)
	}
	if in.Related != nil {
		item.Related, err = models.NormalizeRelated(in.Related, item.Ref())
		if err != nil {
			return nil, apperr.Validationf("%s", err)
		}
	}
	if in.StartDate != nil {
		item.StartDate = *in.StartDate
	}
	if in.EndDate != nil {
		item.EndDate = *in.EndDate
	}

	if err := validateFields(typ, item.Title, item.Content, item.Priority, item.Status, item.StartDate, item.EndDate); err != nil {
		return nil, err
	}
	item.UpdatedAt = s.now().UTC().Truncate(time.Second)

	if err := s.writeAndIndex(typ, item); err != nil {
		return nil, err
	}

	s.logger.Info("item updated", slog.String("type", typ.Name), slog.String("id", id))
	s.emit("updated", typ.Name, id)
	return item, nil
}

// DeleteItem hard-deletes the record and its index row. The tag
// vocabulary is untouched.
func (s *Service) DeleteItem(_ context.Context, typeName, id string) error {
	typ, err := s.db.GetType(typeName)
	if err != nil {
		return err
	}

	lock := s.lockType(typ.Name)
	lock.Lock()
	defer lock.Unlock()

	if err := s.store.Delete(storage.RecordPath(typ.Base, typ.Name, id)); err != nil {
		return err
	}
	if err := s.db.DeleteItem(typ.Name, id); err != nil {
		return err
	}

	s.logger.Info("item deleted", slog.String("type", typ.Name), slog.String("id", id))
	s.emit("deleted", typ.Name, id)
	return nil
}

// GetItem returns the fully decoded item, authoritative against the
// file store. The index is not consulted.
func (s *Service) GetItem(_ context.Context, typeName, id string) (*models.Item, error) {
	typ, err := s.db.GetType(typeName)
	if err != nil {
		return nil, err
	}
	return s.readItem(typ, id)
}

// readItem decodes the durable record. The filename identity overrides
// the front matter, and a missing start date is derived from the id for
// date- and timestamp-keyed types.
func (s *Service) readItem(typ models.Type, id string) (*models.Item, error) {
	data, err := s.store.Read(storage.RecordPath(typ.Base, typ.Name, id))
	if err != nil {
		return nil, err
	}
	item, err := codec.Decode(data)
	if err != nil {
		return nil, err
	}
	item.Type = typ.Name
	item.ID = id
	if item.StartDate == "" && typ.Strategy != models.IDSequential {
		item.StartDate = codec.DeriveDate(id)
	}
	return item, nil
}

// ListInput selects items for the list projection.
type ListInput struct {
	Type string `json:"type"`
	// IncludeClosed opts closed-status items into the listing.
	IncludeClosed bool `json:"include_closed_statuses,omitempty"`
	// Statuses narrows results to these status names, independent of the
	// closed/open default.
	Statuses  []string `json:"statuses,omitempty"`
	StartDate string   `json:"start_date,omitempty"`
	EndDate   string   `json:"end_date,omitempty"`
}

// GetItems serves the list projection from the index. Closed items are
// excluded unless opted in; date filters apply to start_date for date-
// and timestamp-keyed types and to updated_at for everything else,
// inclusive of the end date's whole day.
func (s *Service) GetItems(_ context.Context, in ListInput) ([]models.ItemSummary, error) {
	typ, err := s.db.GetType(in.Type)
	if err != nil {
		return nil, err
	}
	if in.StartDate != "" && !codec.ValidDate(in.StartDate) {
		return nil, apperr.Validationf("start_date %q is not YYYY-MM-DD", in.StartDate)
	}
	if in.EndDate != "" && !codec.ValidDate(in.EndDate) {
		return nil, apperr.Validationf("end_date %q is not YYYY-MM-DD", in.EndDate)
	}

	q := index.ListQuery{
		Type:      typ.Name,
		Statuses:  in.Statuses,
		DateField: "updated_at",
		StartDate: in.StartDate,
	}
	if !in.IncludeClosed {
		q.ExcludeStatuses = models.ClosedStatuses()
	}
	if typ.Strategy != models.IDSequential {
		q.DateField = "start_date"
	}
	if in.EndDate != "" {
		end, _ := time.Parse(codec.DateLayout, in.EndDate)
		q.EndExclusive = end.AddDate(0, 0, 1).Format(codec.DateLayout)
	}

	rows, err := s.db.ListItems(q)
	if err != nil {
		return nil, err
	}
	return summaries(rows), nil
}

// SearchByTag returns items carrying the exact tag, optionally
// restricted to a set of types.
func (s *Service) SearchByTag(_ context.Context, tag string, types []string) ([]models.ItemSummary, error) {
	if strings.TrimSpace(tag) == "" {
		return nil, apperr.Validationf("tag must not be empty")
	}
	rows, err := s.db.SearchByTag(tag, types)
	if err != nil {
		return nil, err
	}
	return summaries(rows), nil
}

// SearchItems delegates full-text search to the index.
func (s *Service) SearchItems(_ context.Context, query string, types []string, limit int) ([]index.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperr.Validationf("query must not be empty")
	}
	return s.db.Search(query, types, limit)
}

// Tags returns the tag vocabulary.
func (s *Service) Tags(_ context.Context) ([]string, error) {
	return s.db.ListTags()
}

// DeleteTag removes a tag from the vocabulary and its associations.
// Items referencing the tag are not rewritten.
func (s *Service) DeleteTag(_ context.Context, name string) error {
	return s.db.DeleteTag(name)
}

// Statuses returns the status vocabulary.
func (s *Service) Statuses(_ context.Context) []models.Status {
	return models.Statuses()
}

// CreateType registers a custom type. Custom types are always
// sequentially keyed.
func (s *Service) CreateType(_ context.Context, name string, base models.BaseType, description string) (models.Type, error) {
	var t models.Type
	if !models.ValidTypeName(name) {
		return t, apperr.Validationf("type name %q must start with a lowercase letter and contain only lowercase letters, digits, and underscores", name)
	}
	if models.IsBuiltinTypeName(name) {
		return t, apperr.BusinessRulef("type name %q collides with a built-in type", name)
	}
	if base != models.BaseTask && base != models.BaseDocument {
		return t, apperr.Validationf("base type must be %q or %q, got %q", models.BaseTask, models.BaseDocument, base)
	}

	t = models.Type{Name: name, Base: base, Strategy: models.IDSequential, Description: description}
	if err := s.db.RegisterType(t); err != nil {
		return models.Type{}, err
	}
	s.logger.Info("type created", slog.String("type", name), slog.String("base", string(base)))
	return t, nil
}

// Types lists registered types, built-ins first.
func (s *Service) Types(_ context.Context, includeBuiltins bool) ([]models.Type, error) {
	return s.db.ListTypes(includeBuiltins)
}

// DeleteType removes a type from the registry. Any type, built-in
// included, may be deleted as long as zero items of it exist.
func (s *Service) DeleteType(_ context.Context, name string) error {
	typ, err := s.db.GetType(name)
	if err != nil {
		return err
	}

	lock := s.lockType(typ.Name)
	lock.Lock()
	defer lock.Unlock()

	n, err := s.db.CountItems(typ.Name)
	if err != nil {
		return err
	}
	if n > 0 {
		return apperr.BusinessRulef("cannot delete type %q: %d item(s) of this type exist", typ.Name, n)
	}
	if err := s.db.DeleteType(typ.Name); err != nil {
		return err
	}
	s.logger.Info("type deleted", slog.String("type", typ.Name))
	return nil
}

// Rebuild reconciles one type's index rows against its directory. The
// type lock is held for the duration so rebuild never races a write.
func (s *Service) Rebuild(ctx context.Context, typeName string) (index.RebuildResult, error) {
	typ, err := s.db.GetType(typeName)
	if err != nil {
		return index.RebuildResult{}, err
	}

	lock := s.lockType(typ.Name)
	lock.Lock()
	defer lock.Unlock()

	return index.Rebuild(ctx, s.db, s.store, typ, s.logger)
}

// RebuildAll reconciles every registered type and registers type
// directories found on disk.
func (s *Service) RebuildAll(ctx context.Context) ([]index.RebuildResult, error) {
	return index.RebuildAll(ctx, s.db, s.store, s.logger)
}

// writeAndIndex encodes the item, writes it atomically, and mirrors it
// into the index.
func (s *Service) writeAndIndex(typ models.Type, item *models.Item) error {
	data, err := codec.Encode(item)
	if err != nil {
		return err
	}
	if err := s.store.Write(storage.RecordPath(typ.Base, typ.Name, item.ID), data); err != nil {
		return err
	}

	start := item.StartDate
	if start == "" && typ.Strategy != models.IDSequential {
		start = codec.DeriveDate(item.ID)
	}
	return s.db.UpsertItem(index.ItemRow{
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
		Checksum:    checksum.Sum(data),
		CreatedAt:   item.CreatedAt,
		UpdatedAt:   item.UpdatedAt,
	}, item.Content)
}

// validateFields enforces the domain invariants shared by create and
// update. Update checks the merged values, so a partial update cannot
// blank a mandatory body either.
func validateFields(typ models.Type, title, content, priority, status, startDate, endDate string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return apperr.Validationf("title is required")
	}
	if len(title) > MaxTitleLen {
		return apperr.Validationf("title exceeds %d characters", MaxTitleLen)
	}
	if typ.RequiresContent() && strings.TrimSpace(content) == "" {
		return apperr.Validationf("content is required for type %q", typ.Name)
	}
	if priority != "" && !models.ValidPriority(priority) {
		return apperr.Validationf("priority %q is not one of high, medium, low", priority)
	}
	if status != "" && !knownStatus(status) {
		return apperr.Validationf("unknown status %q", status)
	}
	if startDate != "" && !codec.ValidDate(startDate) {
		return apperr.Validationf("start_date %q is not YYYY-MM-DD", startDate)
	}
	if endDate != "" && !codec.ValidDate(endDate) {
		return apperr.Validationf("end_date %q is not YYYY-MM-DD", endDate)
	}
	return nil
}

func knownStatus(name string) bool {
	for _, s := range models.Statuses() {
		if s.Name == name {
			return true
		}
	}
	return false
}

func defaulted(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func summaries(rows []index.ItemRow) []models.ItemSummary {
	out := make([]models.ItemSummary, len(rows))
	for i, r := range rows {
		out[i] = r.Summary()
	}
	return out
}
