// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the knowledge base tools for LLM integration via stdio
// transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/itemservice"
	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/models"
)

// Server wraps the MCP server with knowledge base tools.
type Server struct {
	mcp *server.MCPServer
	svc *itemservice.Service
}

// New creates a new MCP server with all tools registered.
func New(svc *itemservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Knowledge Base",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("create_item",
		mcp.WithDescription("Create a knowledge base item. The id is allocated by the engine "+
			"(sequential for issues/plans/docs/knowledge/custom types, date for dailies, "+
			"timestamp for sessions). Read the record contract first via get_record_contract "+
			"or the kb://record-format resource."),
		mcp.WithString("type", mcp.Required(), mcp.Description("Item type (e.g. issues, plans, docs, knowledge, sessions, dailies)")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Item title")),
		mcp.WithString("description", mcp.Description("One-line description")),
		mcp.WithString("content", mcp.Description("Markdown body; required for sequentially-keyed types")),
		mcp.WithString("priority", mcp.Description("high, medium, or low (default medium)")),
		mcp.WithString("status", mcp.Description("Status name (default Open)")),
		mcp.WithString("tags", mcp.Description("Comma-separated tags")),
		mcp.WithString("related", mcp.Description("Comma-separated type-id references (e.g. issues-1,docs-3)")),
		mcp.WithString("start_date", mcp.Description("YYYY-MM-DD")),
		mcp.WithString("end_date", mcp.Description("YYYY-MM-DD")),
		mcp.WithString("id", mcp.Description("Explicit id; only accepted for sessions (historical import)")),
	), s.createItem)

	s.mcp.AddTool(mcp.NewTool("get_items",
		mcp.WithDescription("List items of a type. Content bodies are omitted; use get_item_detail for the full item. "+
			"Closed-status items are excluded unless include_closed_statuses is true."),
		mcp.WithString("type", mcp.Required(), mcp.Description("Item type")),
		mcp.WithBoolean("include_closed_statuses", mcp.Description("Include Completed/Closed/Canceled items")),
		mcp.WithString("statuses", mcp.Description("Comma-separated status filter")),
		mcp.WithString("start_date", mcp.Description("Range start, YYYY-MM-DD")),
		mcp.WithString("end_date", mcp.Description("Range end, YYYY-MM-DD, inclusive of the whole day")),
	), s.getItems)

	s.mcp.AddTool(mcp.NewTool("get_item_detail",
		mcp.WithDescription("Read one fully decoded item including its content body."),
		mcp.WithString("type", mcp.Required(), mcp.Description("Item type")),
		mcp.WithString("id", mcp.Required(), mcp.Description("Item id")),
	), s.getItemDetail)

	s.mcp.AddTool(mcp.NewTool("update_item",
		mcp.WithDescription("Partially update an item. Only the supplied fields change; created_at never changes."),
		mcp.WithString("type", mcp.Required(), mcp.Description("Item type")),
		mcp.WithString("id", mcp.Required(), mcp.Description("Item id")),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("description", mcp.Description("New description")),
		mcp.WithString("content", mcp.Description("New body")),
		mcp.WithString("priority", mcp.Description("high, medium, or low")),
		mcp.WithString("status", mcp.Description("New status name")),
		mcp.WithString("tags", mcp.Description("Comma-separated tags, replaces the current set")),
		mcp.WithString("related", mcp.Description("Comma-separated type-id references, replaces the current set")),
		mcp.WithString("start_date", mcp.Description("YYYY-MM-DD")),
		mcp.WithString("end_date", mcp.Description("YYYY-MM-DD")),
	), s.updateItem)

	s.mcp.AddTool(mcp.NewTool("delete_item",
		mcp.WithDescription("Permanently delete an item (file and index row)."),
		mcp.WithString("type", mcp.Required(), mcp.Description("Item type")),
		mcp.WithString("id", mcp.Required(), mcp.Description("Item id")),
	), s.deleteItem)

	s.mcp.AddTool(mcp.NewTool("search_items",
		mcp.WithDescription("Full-text search across item titles, descriptions, bodies, and tags."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithString("types", mcp.Description("Comma-separated type filter")),
		mcp.WithNumber("limit", mcp.Description("Max results (default 20)")),
	), s.searchItems)

	s.mcp.AddTool(mcp.NewTool("search_items_by_tag",
		mcp.WithDescription("Find items carrying an exact tag, optionally restricted to some types."),
		mcp.WithString("tag", mcp.Required(), mcp.Description("Tag to match exactly")),
		mcp.WithString("types", mcp.Description("Comma-separated type filter")),
	), s.searchItemsByTag)

	s.mcp.AddTool(mcp.NewTool("get_tags",
		mcp.WithDescription("List the tag vocabulary."),
	), s.getTags)

	s.mcp.AddTool(mcp.NewTool("delete_tag",
		mcp.WithDescription("Remove a tag from the vocabulary. Items keep the tag string in their files; it simply stops matching."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Tag name")),
	), s.deleteTag)

	s.mcp.AddTool(mcp.NewTool("get_statuses",
		mcp.WithDescription("List the status vocabulary with the closed flag per status."),
	), s.getStatuses)

	s.mcp.AddTool(mcp.NewTool("create_type",
		mcp.WithDescription("Register a custom item type with sequential ids."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Type name: lowercase letter first, then lowercase letters, digits, underscores")),
		mcp.WithString("base_type", mcp.Required(), mcp.Description("tasks or documents")),
		mcp.WithString("description", mcp.Description("What this type holds")),
	), s.createType)

	s.mcp.AddTool(mcp.NewTool("get_types",
		mcp.WithDescription("List registered types."),
		mcp.WithBoolean("include_builtin", mcp.Description("Include built-in types (default true)")),
	), s.getTypes)

	s.mcp.AddTool(mcp.NewTool("delete_type",
		mcp.WithDescription("Delete a type. Fails while any item of the type exists."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Type name")),
	), s.deleteType)

	s.mcp.AddTool(mcp.NewTool("rebuild_index",
		mcp.WithDescription("Rebuild the search index from the record files. Also resynchronizes the id counters after manual file edits."),
		mcp.WithString("type", mcp.Description("Limit the rebuild to one type")),
	), s.rebuildIndex)

	s.mcp.AddTool(mcp.NewTool("get_record_contract",
		mcp.WithDescription("Returns the canonical record format contract. Call this before creating or updating items."),
	), s.getRecordContract)

	// Resource: record format contract.
	s.mcp.AddResource(
		mcp.NewResource("kb://record-format", "Record Format Contract",
			mcp.WithResourceDescription("Canonical durable record format all items follow."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readRecordFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// csv splits a comma-separated argument into trimmed parts.
func csv(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// boolArg extracts a boolean argument, defaultVal when absent.
func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}

// intArg extracts an integer argument (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// strPtr returns a pointer to the string argument when it was supplied,
// nil when absent. Update tools need the distinction between "not sent"
// and "set to empty".
func strPtr(req mcp.CallToolRequest, key string) *string {
	v, ok := req.GetArguments()[key].(string)
	if !ok {
		return nil
	}
	return &v
}

func jsonResult(v any) *mcp.CallToolResult {
	out, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(out))
}

func (s *Server) createItem(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typeName, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	item, err := s.svc.CreateItem(ctx, itemservice.CreateInput{
		Type:        typeName,
		ID:          req.GetString("id", ""),
		Title:       title,
		Description: req.GetString("description", ""),
		Content:     req.GetString("content", ""),
		Priority:    req.GetString("priority", ""),
		Status:      req.GetString("status", ""),
		Tags:        csv(req.GetString("tags", "")),
		Related:     csv(req.GetString("related", "")),
		StartDate:   req.GetString("start_date", ""),
		EndDate:     req.GetString("end_date", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(item), nil
}

func (s *Server) getItems(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typeName, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	items, err := s.svc.GetItems(ctx, itemservice.ListInput{
		Type:          typeName,
		IncludeClosed: boolArg(req, "include_closed_statuses", false),
		Statuses:      csv(req.GetString("statuses", "")),
		StartDate:     req.GetString("start_date", ""),
		EndDate:       req.GetString("end_date", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(items), nil
}

func (s *Server) getItemDetail(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typeName, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	item, err := s.svc.GetItem(ctx, typeName, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(item), nil
}

func (s *Server) updateItem(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typeName, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	in := itemservice.UpdateInput{
		Title:       strPtr(req, "title"),
		Description: strPtr(req, "description"),
		Content:     strPtr(req, "content"),
		Priority:    strPtr(req, "priority"),
		Status:      strPtr(req, "status"),
		StartDate:   strPtr(req, "start_date"),
		EndDate:     strPtr(req, "end_date"),
	}
	if raw := strPtr(req, "tags"); raw != nil {
		tags := csv(*raw)
		if tags == nil {
			tags = []string{}
		}
		in.Tags = tags
	}
	if raw := strPtr(req, "related"); raw != nil {
		related := csv(*raw)
		if related == nil {
			related = []string{}
		}
		in.Related = related
	}

	item, err := s.svc.UpdateItem(ctx, typeName, id, in)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(item), nil
}

func (s *Server) deleteItem(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typeName, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := s.svc.DeleteItem(ctx, typeName, id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %s-%s", typeName, id)), nil
}

func (s *Server) searchItems(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	results, err := s.svc.SearchItems(ctx, query, csv(req.GetString("types", "")), intArg(req, "limit", 20))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results), nil
}

func (s *Server) searchItemsByTag(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tag, err := req.RequireString("tag")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	items, err := s.svc.SearchByTag(ctx, tag, csv(req.GetString("types", "")))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(items), nil
}

func (s *Server) getTags(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tags, err := s.svc.Tags(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(tags) == 0 {
		return mcp.NewToolResultText("no tags"), nil
	}
	return mcp.NewToolResultText(strings.Join(tags, "\n")), nil
}

func (s *Server) deleteTag(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.DeleteTag(ctx, name); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted tag: %s", name)), nil
}

func (s *Server) getStatuses(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Statuses(ctx)), nil
}

func (s *Server) createType(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	base, err := req.RequireString("base_type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	typ, err := s.svc.CreateType(ctx, name, models.BaseType(base), req.GetString("description", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(typ), nil
}

func (s *Server) getTypes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	types, err := s.svc.Types(ctx, boolArg(req, "include_builtin", true))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(types), nil
}

func (s *Server) deleteType(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.DeleteType(ctx, name); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted type: %s", name)), nil
}

func (s *Server) rebuildIndex(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if typeName := req.GetString("type", ""); typeName != "" {
		res, err := s.svc.Rebuild(ctx, typeName)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(res), nil
	}

	results, err := s.svc.RebuildAll(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results), nil
}

func (s *Server) getRecordContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(RecordFormatContract), nil
}

func (s *Server) readRecordFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "kb://record-format",
			MIMEType: "text/markdown",
			Text:     RecordFormatContract,
		},
	}, nil
}
