// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes codex tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/codex/internal/apperr"
	"github.com/starford/codex/internal/change"
	"github.com/starford/codex/internal/cms"
	"github.com/starford/codex/internal/models"
)

// Server wraps the MCP server with codex tools. Every write acts as one
// configured user.
type Server struct {
	mcp  *server.MCPServer
	svc  *cms.Service
	user *models.User
}

// New creates a new MCP server with all codex tools registered. A nil
// user means anonymous, which cannot commit.
func New(svc *cms.Service, user *models.User) *Server {
	if user == nil {
		user = models.Anonymous()
	}
	s := &Server{svc: svc, user: user}

	s.mcp = server.NewMCPServer(
		"Codex",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("resolve_url",
		mcp.WithDescription("Find the element that owns a site URL."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Site URL, e.g. /about/team")),
	), s.resolveURL)

	s.mcp.AddTool(mcp.NewTool("element_urls",
		mcp.WithDescription("List the URLs owned by an element, per language."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Element id")),
	), s.elementURLs)

	s.mcp.AddTool(mcp.NewTool("get_element",
		mcp.WithDescription("Read an element with all its versions, contents and URLs."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Element id")),
	), s.getElement)

	s.mcp.AddTool(mcp.NewTool("check_slugs",
		mcp.WithDescription("Check whether slugs would collide with existing URLs below a parent, "+
			"and suggest free variants for the ones that do."),
		mcp.WithString("parent", mcp.Description("Parent element id (empty for the site root)")),
		mcp.WithString("slugs", mcp.Required(), mcp.Description(`JSON list of slugs, e.g. [{"url":"about","language":"en"}]`)),
		mcp.WithString("existing", mcp.Description("Element the slugs belong to, excluded from the check")),
	), s.checkSlugs)

	s.mcp.AddTool(mcp.NewTool("commit_transaction",
		mcp.WithDescription("Validate and apply a list of changes as one transaction. "+
			"Read the change format first via the get_change_contract tool or the codex://change-format resource."),
		mcp.WithString("changes", mcp.Required(), mcp.Description(`JSON list of changes, each {"kind": ..., "args": {...}}`)),
	), s.commitTransaction)

	s.mcp.AddTool(mcp.NewTool("rollback_transaction",
		mcp.WithDescription("Revert a committed transaction by its id."),
		mcp.WithString("xid", mcp.Required(), mcp.Description("Transaction id returned by commit_transaction")),
	), s.rollbackTransaction)

	s.mcp.AddTool(mcp.NewTool("rebuild_url_index",
		mcp.WithDescription("Rebuild the URL index from the stored elements."),
	), s.rebuildURLIndex)

	s.mcp.AddTool(mcp.NewTool("register_file",
		mcp.WithDescription("Register the metadata of an uploaded file (image or PDF) given as a base64 data URI."),
		mcp.WithString("data", mcp.Required(), mcp.Description("data:<mime>;base64,<content>")),
		mcp.WithString("name", mcp.Description("File name; derived from the MIME type when empty")),
		mcp.WithString("element", mcp.Description("Element the file belongs to")),
	), s.registerFile)

	s.mcp.AddTool(mcp.NewTool("get_change_contract",
		mcp.WithDescription("Returns the change format accepted by commit_transaction."),
	), s.getChangeContract)

	// Resource: change format contract.
	s.mcp.AddResource(
		mcp.NewResource("codex://change-format", "Change Format Contract",
			mcp.WithResourceDescription("Kinds and arguments of the changes a transaction is made of."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readChangeFormatResource,
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

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func optionalString(req mcp.CallToolRequest, key string) string {
	if v, err := req.RequireString(key); err == nil {
		return v
	}
	return ""
}

func errorResult(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError("not found")
	case errors.Is(err, apperr.ErrUnknownTransaction):
		return mcp.NewToolResultError("unknown transaction")
	case errors.Is(err, apperr.ErrAlreadyRolledBack):
		return mcp.NewToolResultError("transaction already rolled back")
	default:
		return mcp.NewToolResultError(err.Error())
	}
}

func (s *Server) resolveURL(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p, err := s.svc.Resolve(ctx, url)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(p)
}

func (s *Server) elementURLs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	urls, err := s.svc.ElementURLs(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(urls)
}

func (s *Server) getElement(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, err := s.svc.GetElement(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(d)
}

type slugCheck struct {
	Conflicts   []string          `json:"conflicts"`
	Suggestions map[string]string `json:"suggestions,omitempty"`
}

func (s *Server) checkSlugs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("slugs")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var slugs []models.Slug
	if err := json.Unmarshal([]byte(raw), &slugs); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid slugs: %v", err)), nil
	}
	parent := optionalString(req, "parent")
	existing := optionalString(req, "existing")

	conflicts, err := s.svc.CheckSlugs(ctx, parent, slugs, existing)
	if err != nil {
		return errorResult(err), nil
	}
	out := slugCheck{Conflicts: []string{}}
	for _, c := range conflicts {
		out.Conflicts = append(out.Conflicts, c.String())
		sug, err := s.svc.SuggestSlug(ctx, parent, c.Slug, existing)
		if err != nil {
			continue
		}
		if out.Suggestions == nil {
			out.Suggestions = map[string]string{}
		}
		out.Suggestions[c.Slug.Language+":"+c.Slug.URL] = sug
	}
	return jsonResult(out)
}

func (s *Server) commitTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("changes")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var specs []change.Spec
	if err := json.Unmarshal([]byte(raw), &specs); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid changes: %v", err)), nil
	}
	return s.commit(ctx, specs)
}

func (s *Server) commit(ctx context.Context, specs []change.Spec) (*mcp.CallToolResult, error) {
	r, err := s.svc.Commit(ctx, s.user, specs)
	if err != nil {
		return errorResult(err), nil
	}
	if !r.Success() {
		out, _ := json.Marshal(r.Summary())
		return mcp.NewToolResultError(string(out)), nil
	}
	return jsonResult(r.Summary())
}

func (s *Server) rollbackTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	xid, err := req.RequireString("xid")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if s.user.IsAnonymous() {
		return mcp.NewToolResultError("anonymous users cannot roll back"), nil
	}
	r, err := s.svc.Rollback(ctx, xid, s.user)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(r.Summary())
}

func (s *Server) rebuildURLIndex(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n, err := s.svc.RebuildURLs(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("rebuilt: %d urls", n)), nil
}

func (s *Server) getChangeContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(ChangeFormatContract), nil
}

func (s *Server) readChangeFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "codex://change-format",
			MIMEType: "text/markdown",
			Text:     ChangeFormatContract,
		},
	}, nil
}
