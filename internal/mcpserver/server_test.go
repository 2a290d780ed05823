package mcpserver

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/codex/internal/change"
	"github.com/starford/codex/internal/cms"
	"github.com/starford/codex/internal/engine"
	"github.com/starford/codex/internal/models"
	"github.com/starford/codex/internal/storage"
	"github.com/starford/codex/internal/testutil"
	"github.com/starford/codex/internal/undolog"
	"github.com/starford/codex/internal/urlindex"
)

type fixture struct {
	srv   *Server
	st    *storage.Store
	root  *models.Element
	about *models.Element
}

func testServer(t *testing.T, user *models.User) *fixture {
	t.Helper()
	st := testutil.TestStore(t)
	ix := urlindex.New(st, testutil.Logger())
	undo, err := undolog.New(st, undolog.WithLogger(testutil.Logger()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { undo.Close() })

	root := testutil.Page("", testutil.Slug("en", "", true))
	about := testutil.Page(root.ID, testutil.Slug("en", "about", true))
	testutil.Put(t, st, root, about)

	en := engine.New(st, ix, undo, engine.WithLogger(testutil.Logger()))
	svc := cms.NewService(st, ix, en, cms.WithLogger(testutil.Logger()))
	return &fixture{srv: New(svc, user), st: st, root: root, about: about}
}

func editor() *models.User {
	return &models.User{ID: models.NewID(), Name: "editor"}
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no test helper for calling a tool, so handlers are
	// invoked directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "resolve_url":
		result, err = srv.resolveURL(ctx, req)
	case "element_urls":
		result, err = srv.elementURLs(ctx, req)
	case "get_element":
		result, err = srv.getElement(ctx, req)
	case "check_slugs":
		result, err = srv.checkSlugs(ctx, req)
	case "commit_transaction":
		result, err = srv.commitTransaction(ctx, req)
	case "rollback_transaction":
		result, err = srv.rollbackTransaction(ctx, req)
	case "rebuild_url_index":
		result, err = srv.rebuildURLIndex(ctx, req)
	case "register_file":
		result, err = srv.registerFile(ctx, req)
	case "get_change_contract":
		result, err = srv.getChangeContract(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func changesJSON(t *testing.T, changes ...change.Change) string {
	t.Helper()
	specs := make([]change.Spec, 0, len(changes))
	for _, c := range changes {
		sp, err := change.ToSpec(c)
		if err != nil {
			t.Fatal(err)
		}
		specs = append(specs, sp)
	}
	out, err := json.Marshal(specs)
	if err != nil {
		t.Fatal(err)
	}
	return string(out)
}

func TestResolveURL(t *testing.T) {
	f := testServer(t, nil)

	r := callTool(t, f.srv, "resolve_url", map[string]interface{}{"url": "/about"})
	if r.IsError {
		t.Fatalf("resolve error: %s", resultText(r))
	}
	var p models.URLPointer
	if err := json.Unmarshal([]byte(resultText(r)), &p); err != nil {
		t.Fatal(err)
	}
	if p.Element != f.about.ID {
		t.Errorf("element = %q, want %q", p.Element, f.about.ID)
	}

	r = callTool(t, f.srv, "resolve_url", map[string]interface{}{"url": "/nope"})
	if !r.IsError || resultText(r) != "not found" {
		t.Errorf("missing url = %q (error %v)", resultText(r), r.IsError)
	}
}

func TestElementURLsAndGetElement(t *testing.T) {
	f := testServer(t, nil)

	r := callTool(t, f.srv, "element_urls", map[string]interface{}{"id": f.about.ID})
	if !strings.Contains(resultText(r), `"/about"`) {
		t.Errorf("element_urls = %s", resultText(r))
	}

	r = callTool(t, f.srv, "get_element", map[string]interface{}{"id": f.about.ID})
	var d cms.ElementDetail
	if err := json.Unmarshal([]byte(resultText(r)), &d); err != nil {
		t.Fatal(err)
	}
	if d.Element == nil || d.Element.ID != f.about.ID || d.ETag == "" {
		t.Errorf("detail = %+v", d)
	}

	r = callTool(t, f.srv, "get_element", map[string]interface{}{"id": models.NewID()})
	if !r.IsError {
		t.Error("expected error for missing element")
	}
}

func TestCheckSlugs(t *testing.T) {
	f := testServer(t, nil)

	r := callTool(t, f.srv, "check_slugs", map[string]interface{}{
		"parent": f.root.ID,
		"slugs":  `[{"url":"about","language":"en"},{"url":"contact","language":"en"}]`,
	})
	var out slugCheck
	if err := json.Unmarshal([]byte(resultText(r)), &out); err != nil {
		t.Fatalf("%v: %s", err, resultText(r))
	}
	if len(out.Conflicts) != 1 {
		t.Fatalf("conflicts = %v", out.Conflicts)
	}
	if out.Suggestions["en:about"] != "about_2" {
		t.Errorf("suggestions = %v", out.Suggestions)
	}

	r = callTool(t, f.srv, "check_slugs", map[string]interface{}{
		"parent":   f.root.ID,
		"slugs":    `[{"url":"about","language":"en"}]`,
		"existing": f.about.ID,
	})
	if err := json.Unmarshal([]byte(resultText(r)), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Conflicts) != 0 {
		t.Errorf("own slugs reported as conflicts: %v", out.Conflicts)
	}

	r = callTool(t, f.srv, "check_slugs", map[string]interface{}{"slugs": "not json"})
	if !r.IsError {
		t.Error("expected error for malformed slugs")
	}
}

func TestCommitAndRollback(t *testing.T) {
	f := testServer(t, editor())

	r := callTool(t, f.srv, "commit_transaction", map[string]interface{}{
		"changes": changesJSON(t, change.NewSetSlugs(f.about.ID, 1, []models.Slug{testutil.Slug("en", "company", true)}, false)),
	})
	if r.IsError {
		t.Fatalf("commit error: %s", resultText(r))
	}
	var sum change.Summary
	if err := json.Unmarshal([]byte(resultText(r)), &sum); err != nil {
		t.Fatal(err)
	}
	if !sum.Success || sum.TransactionID == "" {
		t.Fatalf("summary = %+v", sum)
	}

	r = callTool(t, f.srv, "resolve_url", map[string]interface{}{"url": "/company"})
	if r.IsError {
		t.Errorf("/company not resolvable after commit: %s", resultText(r))
	}

	r = callTool(t, f.srv, "rollback_transaction", map[string]interface{}{"xid": sum.TransactionID})
	if r.IsError {
		t.Fatalf("rollback error: %s", resultText(r))
	}
	r = callTool(t, f.srv, "resolve_url", map[string]interface{}{"url": "/about"})
	if r.IsError {
		t.Errorf("/about not resolvable after rollback: %s", resultText(r))
	}

	r = callTool(t, f.srv, "rollback_transaction", map[string]interface{}{"xid": sum.TransactionID})
	if !r.IsError || resultText(r) != "transaction already rolled back" {
		t.Errorf("second rollback = %q", resultText(r))
	}

	r = callTool(t, f.srv, "rollback_transaction", map[string]interface{}{"xid": models.NewID()})
	if !r.IsError || resultText(r) != "unknown transaction" {
		t.Errorf("unknown xid = %q", resultText(r))
	}
}

func TestCommit_Failures(t *testing.T) {
	f := testServer(t, editor())

	r := callTool(t, f.srv, "commit_transaction", map[string]interface{}{
		"changes": changesJSON(t, change.NewSetState(f.about.ID, 9, models.StatePublished)),
	})
	if !r.IsError || !strings.Contains(resultText(r), `"success":false`) {
		t.Errorf("invalid change = %s", resultText(r))
	}

	r = callTool(t, f.srv, "commit_transaction", map[string]interface{}{"changes": "[{"})
	if !r.IsError {
		t.Error("expected error for malformed changes")
	}
}

func TestAnonymousCannotWrite(t *testing.T) {
	f := testServer(t, nil)

	r := callTool(t, f.srv, "commit_transaction", map[string]interface{}{
		"changes": changesJSON(t, change.NewSetDefinition(f.about.ID, 1, "landing")),
	})
	if !r.IsError {
		t.Errorf("anonymous commit succeeded: %s", resultText(r))
	}

	r = callTool(t, f.srv, "rollback_transaction", map[string]interface{}{"xid": models.NewID()})
	if !r.IsError {
		t.Error("anonymous rollback succeeded")
	}
}

func TestRebuildURLIndex(t *testing.T) {
	f := testServer(t, nil)
	r := callTool(t, f.srv, "rebuild_url_index", map[string]interface{}{})
	if text := resultText(r); text != "rebuilt: 2 urls" {
		t.Errorf("rebuild = %q", text)
	}
}

func TestGetChangeContract(t *testing.T) {
	f := testServer(t, nil)
	text := resultText(callTool(t, f.srv, "get_change_contract", map[string]interface{}{}))
	for _, kind := range []change.Kind{change.KindCreateElement, change.KindSetSlugs, change.KindAddFileMeta} {
		if !strings.Contains(text, string(kind)) {
			t.Errorf("contract does not mention %s", kind)
		}
	}
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func TestRegisterFile(t *testing.T) {
	f := testServer(t, editor())
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngHeader)

	r := callTool(t, f.srv, "register_file", map[string]interface{}{
		"data":    uri,
		"name":    "../logo big.png",
		"element": f.about.ID,
	})
	if r.IsError {
		t.Fatalf("register error: %s", resultText(r))
	}
	var out registerResult
	if err := json.Unmarshal([]byte(resultText(r)), &out); err != nil {
		t.Fatal(err)
	}
	if out.Name != "logo_big.png" || out.Size != len(pngHeader) || out.XID == "" {
		t.Errorf("result = %+v", out)
	}

	meta, err := f.st.LoadFileMeta(context.Background(), out.FileID)
	if err != nil {
		t.Fatal(err)
	}
	if meta.MimeType != "image/png" || meta.Element != f.about.ID || meta.Checksum != out.Checksum {
		t.Errorf("stored meta = %+v", meta)
	}
}

func TestRegisterFile_Rejects(t *testing.T) {
	f := testServer(t, editor())
	png := base64.StdEncoding.EncodeToString(pngHeader)

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"not a data uri", map[string]interface{}{"data": "http://example.com/a.png"}},
		{"not base64", map[string]interface{}{"data": "data:image/png,abc"}},
		{"unsupported mime", map[string]interface{}{"data": "data:text/html;base64," + png}},
		{"bad extension", map[string]interface{}{"data": "data:image/png;base64," + png, "name": "a.exe"}},
		{"content mismatch", map[string]interface{}{"data": "data:image/jpeg;base64," + png, "name": "a.jpg"}},
		{"svg without tag", map[string]interface{}{"data": "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte("hello"))}},
		{"missing element", map[string]interface{}{"data": "data:image/png;base64," + png, "element": models.NewID()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := callTool(t, f.srv, "register_file", tt.args)
			if !r.IsError {
				t.Errorf("accepted: %s", resultText(r))
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct{ in, want string }{
		{"photo.png", "photo.png"},
		{"../../etc/passwd", "passwd"},
		{"my file (1).jpg", "my_file__1_.jpg"},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
