package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/apperr"
	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/itemservice"
	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/models"
)

// Handler holds API route handlers.
type Handler struct {
	svc *itemservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *itemservice.Service) *Handler {
	return &Handler{svc: svc}
}

// writeError maps the engine's error taxonomy to HTTP statuses. Drift
// errors keep their full diagnostic text: the operator needs the counter
// value and colliding path to act.
func writeError(w http.ResponseWriter, op string, err error) {
	var drift *apperr.SequenceDriftError
	switch {
	case errors.As(err, &drift):
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody(drift.Error()))
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrAlreadyExists), errors.Is(err, apperr.ErrBusinessRule):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// typesParam parses the comma-separated "types" query parameter.
func typesParam(r *http.Request) []string {
	raw := r.URL.Query().Get("types")
	if raw == "" {
		return nil
	}
	var out []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// ListItems handles GET /api/items/{type}.
//
//	@Summary		List items of a type (content omitted)
//	@Tags			items
//	@Produce		json
//	@Param			type					path		string	true	"Item type"
//	@Param			include_closed_statuses	query		bool	false	"Include closed-status items"
//	@Param			status					query		string	false	"Status filter, repeatable"
//	@Param			start_date				query		string	false	"Range start (YYYY-MM-DD)"
//	@Param			end_date				query		string	false	"Range end, inclusive (YYYY-MM-DD)"
//	@Success		200						{object}	ItemListResponse
//	@Failure		404						{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items/{type} [get]
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	includeClosed, _ := strconv.ParseBool(q.Get("include_closed_statuses"))

	items, err := h.svc.GetItems(r.Context(), itemservice.ListInput{
		Type:          chi.URLParam(r, "type"),
		IncludeClosed: includeClosed,
		Statuses:      q["status"],
		StartDate:     q.Get("start_date"),
		EndDate:       q.Get("end_date"),
	})
	if err != nil {
		writeError(w, "list items", err)
		return
	}
	writeJSON(w, http.StatusOK, ItemListResponse{Items: items, Total: len(items)})
}

// GetItem handles GET /api/items/{type}/{id}.
//
//	@Summary		Get one fully decoded item
//	@Tags			items
//	@Produce		json
//	@Param			type	path		string	true	"Item type"
//	@Param			id		path		string	true	"Item id"
//	@Success		200		{object}	models.Item
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items/{type}/{id} [get]
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.GetItem(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get item", err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// CreateItem handles POST /api/items/{type}.
//
//	@Summary		Create an item
//	@Tags			items
//	@Accept			json
//	@Produce		json
//	@Param			type	path		string				true	"Item type"
//	@Param			body	body		CreateItemRequest	true	"Item to create"
//	@Success		201		{object}	models.Item
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items/{type} [post]
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req CreateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	item, err := h.svc.CreateItem(r.Context(), req.input(chi.URLParam(r, "type")))
	if err != nil {
		writeError(w, "create item", err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// UpdateItem handles PATCH /api/items/{type}/{id}.
//
//	@Summary		Partially update an item
//	@Tags			items
//	@Accept			json
//	@Produce		json
//	@Param			type	path		string				true	"Item type"
//	@Param			id		path		string				true	"Item id"
//	@Param			body	body		UpdateItemRequest	true	"Fields to change"
//	@Success		200		{object}	models.Item
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items/{type}/{id} [patch]
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req UpdateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	item, err := h.svc.UpdateItem(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, "update item", err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// DeleteItem handles DELETE /api/items/{type}/{id}.
//
//	@Summary		Delete an item
//	@Tags			items
//	@Param			type	path	string	true	"Item type"
//	@Param			id		path	string	true	"Item id"
//	@Success		204		"Item deleted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items/{type}/{id} [delete]
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteItem(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "id")); err != nil {
		writeError(w, "delete item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across items
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			types	query		string	false	"Comma-separated type filter"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	map[string]any
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	results, err := h.svc.SearchItems(r.Context(), q, typesParam(r), limit)
	if err != nil {
		writeError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// SearchByTag handles GET /api/search/tag.
//
//	@Summary		Exact tag search across one or more types
//	@Tags			search
//	@Produce		json
//	@Param			tag		query		string	true	"Tag to match exactly"
//	@Param			types	query		string	false	"Comma-separated type filter"
//	@Success		200		{object}	ItemListResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search/tag [get]
func (h *Handler) SearchByTag(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("tag")
	items, err := h.svc.SearchByTag(r.Context(), tag, typesParam(r))
	if err != nil {
		writeError(w, "search by tag", err)
		return
	}
	writeJSON(w, http.StatusOK, ItemListResponse{Items: items, Total: len(items)})
}

// ListTags handles GET /api/tags.
//
//	@Summary		List the tag vocabulary
//	@Tags			tags
//	@Produce		json
//	@Success		200	{object}	TagListResponse
//	@Security		BearerAuth
//	@Router			/tags [get]
func (h *Handler) ListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.svc.Tags(r.Context())
	if err != nil {
		writeError(w, "list tags", err)
		return
	}
	if tags == nil {
		tags = []string{}
	}
	writeJSON(w, http.StatusOK, TagListResponse{Tags: tags})
}

// DeleteTag handles DELETE /api/tags/{name}.
//
//	@Summary		Remove a tag from the vocabulary
//	@Tags			tags
//	@Param			name	path	string	true	"Tag name"
//	@Success		204		"Tag deleted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tags/{name} [delete]
func (h *Handler) DeleteTag(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteTag(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeError(w, "delete tag", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListStatuses handles GET /api/statuses.
//
//	@Summary		List the status vocabulary
//	@Tags			statuses
//	@Produce		json
//	@Success		200	{object}	StatusListResponse
//	@Security		BearerAuth
//	@Router			/statuses [get]
func (h *Handler) ListStatuses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusListResponse{Statuses: h.svc.Statuses(r.Context())})
}

// ListTypes handles GET /api/types.
//
//	@Summary		List registered types
//	@Tags			types
//	@Produce		json
//	@Param			include_builtin	query		bool	false	"Include built-in types (default true)"
//	@Success		200				{object}	TypeListResponse
//	@Security		BearerAuth
//	@Router			/types [get]
func (h *Handler) ListTypes(w http.ResponseWriter, r *http.Request) {
	includeBuiltins := true
	if raw := r.URL.Query().Get("include_builtin"); raw != "" {
		includeBuiltins, _ = strconv.ParseBool(raw)
	}
	types, err := h.svc.Types(r.Context(), includeBuiltins)
	if err != nil {
		writeError(w, "list types", err)
		return
	}
	if types == nil {
		types = []models.Type{}
	}
	writeJSON(w, http.StatusOK, TypeListResponse{Types: types})
}

// CreateType handles POST /api/types.
//
//	@Summary		Register a custom type
//	@Tags			types
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateTypeRequest	true	"Type to register"
//	@Success		201		{object}	models.Type
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/types [post]
func (h *Handler) CreateType(w http.ResponseWriter, r *http.Request) {
	var req CreateTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	typ, err := h.svc.CreateType(r.Context(), req.Name, models.BaseType(req.Base), req.Description)
	if err != nil {
		writeError(w, "create type", err)
		return
	}
	writeJSON(w, http.StatusCreated, typ)
}

// DeleteType handles DELETE /api/types/{name}.
//
//	@Summary		Delete an empty type
//	@Tags			types
//	@Param			name	path	string	true	"Type name"
//	@Success		204		"Type deleted"
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/types/{name} [delete]
func (h *Handler) DeleteType(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteType(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeError(w, "delete type", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RebuildIndex handles POST /api/index/rebuild.
//
//	@Summary		Rebuild the index from the record files
//	@Tags			index
//	@Produce		json
//	@Param			type	query		string	false	"Limit to one type"
//	@Success		200		{object}	map[string]any
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/index/rebuild [post]
func (h *Handler) RebuildIndex(w http.ResponseWriter, r *http.Request) {
	if typeName := r.URL.Query().Get("type"); typeName != "" {
		res, err := h.svc.Rebuild(r.Context(), typeName)
		if err != nil {
			writeError(w, "rebuild", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": []any{res}})
		return
	}

	results, err := h.svc.RebuildAll(r.Context())
	if err != nil {
		writeError(w, "rebuild all", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}
