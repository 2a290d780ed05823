package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/starford/codex/internal/change"
	"github.com/starford/codex/internal/cms"
	"github.com/starford/codex/internal/engine"
	"github.com/starford/codex/internal/models"
	"github.com/starford/codex/internal/testutil"
	"github.com/starford/codex/internal/undolog"
	"github.com/starford/codex/internal/urlindex"
)

type testSite struct {
	svc    *cms.Service
	router http.Handler
	editor *models.User
	root   *models.Element
	about  *models.Element
}

// testEnv builds a service over an in-memory store holding "/" and
// "/about", with one registered editor. A non-empty authToken enables
// token mode.
func testEnv(t *testing.T, authToken string) *testSite {
	t.Helper()
	return testEnvWithSSE(t, authToken != "", authToken, nil)
}

func testEnvWithSSE(t *testing.T, authEnabled bool, token string, sseHandler http.Handler) *testSite {
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
	editor := &models.User{Name: "editor"}
	if err := svc.RegisterUser(context.Background(), editor); err != nil {
		t.Fatal(err)
	}
	return &testSite{
		svc:    svc,
		router: NewRouter(svc, authEnabled, token, sseHandler),
		editor: editor,
		root:   root,
		about:  about,
	}
}

func (s *testSite) do(t *testing.T, method, target string, body any, user *models.User) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	if user != nil {
		req.Header.Set(UserHeader, user.ID)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func specOf(t *testing.T, c change.Change) change.Spec {
	t.Helper()
	sp, err := change.ToSpec(c)
	if err != nil {
		t.Fatal(err)
	}
	return sp
}

func TestResolveURL(t *testing.T) {
	s := testEnv(t, "")

	w := s.do(t, http.MethodGet, "/urls?url=/about/", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("resolve status = %d, body = %s", w.Code, w.Body.String())
	}
	var p models.URLPointer
	_ = json.Unmarshal(w.Body.Bytes(), &p)
	if p.Element != s.about.ID {
		t.Errorf("element = %q", p.Element)
	}

	if w := s.do(t, http.MethodGet, "/urls?url=/nope", nil, nil); w.Code != http.StatusNotFound {
		t.Errorf("missing url = %d, want 404", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/urls", nil, nil); w.Code != http.StatusBadRequest {
		t.Errorf("no query = %d, want 400", w.Code)
	}
}

func TestGetElement(t *testing.T) {
	s := testEnv(t, "")

	w := s.do(t, http.MethodGet, "/elements/"+s.about.ID, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var d ElementDetail
	_ = json.Unmarshal(w.Body.Bytes(), &d)
	if d.Element == nil || d.Element.ID != s.about.ID || len(d.URLs) != 1 {
		t.Errorf("detail = %+v", d)
	}
	if etag := w.Header().Get("ETag"); etag != `"`+d.ETag+`"` {
		t.Errorf("ETag header = %q, body etag %q", etag, d.ETag)
	}

	w = s.do(t, http.MethodGet, "/elements/"+s.root.ID+"/urls", nil, nil)
	var urls URLsResponse
	_ = json.Unmarshal(w.Body.Bytes(), &urls)
	if w.Code != http.StatusOK || len(urls.URLs) != 1 || urls.URLs[0].URL != "/" {
		t.Errorf("root urls = %d %+v", w.Code, urls)
	}

	if w := s.do(t, http.MethodGet, "/elements/"+models.NewID(), nil, nil); w.Code != http.StatusNotFound {
		t.Errorf("missing element = %d, want 404", w.Code)
	}
}

func TestCheckSlugs(t *testing.T) {
	s := testEnv(t, "")

	w := s.do(t, http.MethodPost, "/slugs/check", CheckSlugsRequest{
		Parent:  s.root.ID,
		Slugs:   []models.Slug{{URL: "about", Language: "en"}, {URL: "free", Language: "en"}},
		Suggest: true,
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("check status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp CheckSlugsResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Conflicts) != 1 || resp.Conflicts[0].Element != s.about.ID {
		t.Errorf("conflicts = %+v", resp.Conflicts)
	}
	if resp.Suggestions["en:about"] != "about_2" {
		t.Errorf("suggestions = %v", resp.Suggestions)
	}

	if w := s.do(t, http.MethodPost, "/slugs/check", CheckSlugsRequest{Parent: s.root.ID}, nil); w.Code != http.StatusBadRequest {
		t.Errorf("no slugs = %d, want 400", w.Code)
	}
}

func TestCommitAndRollback(t *testing.T) {
	s := testEnv(t, "")

	w := s.do(t, http.MethodPost, "/transactions", CommitRequest{Changes: []change.Spec{
		specOf(t, change.NewSetSlugs(s.about.ID, 1, []models.Slug{testutil.Slug("en", "company", true)}, false)),
	}}, s.editor)
	if w.Code != http.StatusCreated {
		t.Fatalf("commit status = %d, body = %s", w.Code, w.Body.String())
	}
	var sum ResultSummary
	_ = json.Unmarshal(w.Body.Bytes(), &sum)
	if !sum.Success || sum.TransactionID == "" || len(sum.Elements) != 1 {
		t.Fatalf("summary = %+v", sum)
	}

	if w := s.do(t, http.MethodGet, "/urls?url=/company", nil, nil); w.Code != http.StatusOK {
		t.Errorf("new url = %d", w.Code)
	}

	w = s.do(t, http.MethodGet, "/transactions/"+sum.TransactionID, nil, nil)
	var d TransactionDetail
	_ = json.Unmarshal(w.Body.Bytes(), &d)
	if w.Code != http.StatusOK || d.Stamp == nil || d.Stamp.User != s.editor.ID {
		t.Errorf("transaction = %d %+v", w.Code, d)
	}

	if w := s.do(t, http.MethodPost, "/transactions/"+sum.TransactionID+"/rollback", nil, nil); w.Code != http.StatusForbidden {
		t.Errorf("anonymous rollback = %d, want 403", w.Code)
	}
	w = s.do(t, http.MethodPost, "/transactions/"+sum.TransactionID+"/rollback", nil, s.editor)
	if w.Code != http.StatusOK {
		t.Fatalf("rollback status = %d, body = %s", w.Code, w.Body.String())
	}
	if w := s.do(t, http.MethodGet, "/urls?url=/about", nil, nil); w.Code != http.StatusOK {
		t.Errorf("restored url = %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/urls?url=/company", nil, nil); w.Code != http.StatusNotFound {
		t.Errorf("rolled back url = %d, want 404", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/transactions/"+sum.TransactionID+"/rollback", nil, s.editor); w.Code != http.StatusConflict {
		t.Errorf("second rollback = %d, want 409", w.Code)
	}
}

func TestCommit_Statuses(t *testing.T) {
	s := testEnv(t, "")
	noop := CommitRequest{Changes: []change.Spec{
		specOf(t, change.NewSetState(s.about.ID, 1, models.StateEditing)),
	}}
	invalid := CommitRequest{Changes: []change.Spec{
		specOf(t, change.NewSetState(s.about.ID, 5, models.StatePublished)),
	}}

	tests := []struct {
		name string
		body any
		user *models.User
		want int
	}{
		{"nothing to do", noop, s.editor, http.StatusOK},
		{"validation failure", invalid, s.editor, http.StatusUnprocessableEntity},
		{"anonymous", noop, nil, http.StatusUnprocessableEntity},
		{"unknown kind", CommitRequest{Changes: []change.Spec{{Kind: "frobnicate"}}}, s.editor, http.StatusBadRequest},
		{"empty", CommitRequest{}, s.editor, http.StatusBadRequest},
		{"unknown user", noop, &models.User{ID: models.NewID()}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := s.do(t, http.MethodPost, "/transactions", tt.body, tt.user); w.Code != tt.want {
				t.Errorf("status = %d, want %d, body = %s", w.Code, tt.want, w.Body.String())
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/transactions", strings.NewReader("{"))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad json = %d, want 400", w.Code)
	}
}

func TestTransaction_Unknown(t *testing.T) {
	s := testEnv(t, "")
	for _, target := range []string{"/transactions/" + models.NewID(), "/transactions/bogus"} {
		if w := s.do(t, http.MethodGet, target, nil, nil); w.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", target, w.Code)
		}
	}
	if w := s.do(t, http.MethodPost, "/transactions/"+models.NewID()+"/rollback", nil, s.editor); w.Code != http.StatusNotFound {
		t.Errorf("rollback unknown = %d, want 404", w.Code)
	}
}

func TestRebuildURLs(t *testing.T) {
	s := testEnv(t, "")
	w := s.do(t, http.MethodPost, "/urls/rebuild", nil, nil)
	var resp RebuildResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if w.Code != http.StatusOK || resp.URLs != 2 {
		t.Errorf("rebuild = %d %+v", w.Code, resp)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	s := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/elements/"+s.about.ID, nil)
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authed get = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	s := testEnv(t, "secret123")

	if w := s.do(t, http.MethodGet, "/urls?url=/", nil, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	s := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/urls?url=/", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	s := testEnv(t, "")

	if w := s.do(t, http.MethodGet, "/urls?url=/", nil, nil); w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

func TestUserFrom(t *testing.T) {
	if u := UserFrom(context.Background()); !u.IsAnonymous() {
		t.Errorf("empty context user = %+v", u)
	}

	r := chi.NewRouter()
	r.Use(UserMiddleware(func(_ context.Context, id string) (*models.User, error) {
		return &models.User{ID: id, Name: "x"}, nil
	}))
	var got *models.User
	r.Get("/", func(_ http.ResponseWriter, r *http.Request) { got = UserFrom(r.Context()) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(UserHeader, " u1 ")
	r.ServeHTTP(httptest.NewRecorder(), req)
	if got == nil || got.ID != "u1" {
		t.Errorf("user = %+v", got)
	}
}

// SSE endpoint auth tests.

// sseStub writes headers and blocks until the request context is done.
var sseStub = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
})

func TestSSEEvents_AuthProtected(t *testing.T) {
	s := testEnvWithSSE(t, true, "secret", sseStub)

	// No token → 401.
	if w := s.do(t, http.MethodGet, "/events", nil, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_AuthDisabled(t *testing.T) {
	s := testEnvWithSSE(t, false, "", sseStub)

	// Disabled mode → should not 401. SSE handler will write 200 and block,
	// so we cancel the context after a short time.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE should not require auth when disabled")
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	s := testEnvWithSSE(t, true, "tok", sseStub)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}
