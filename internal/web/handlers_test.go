package web

import (
	"context"
	"encoding/json"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hpungsan/inkwell/internal/config"
	"github.com/hpungsan/inkwell/internal/generation"
	"github.com/hpungsan/inkwell/internal/workspace"
)

const sampleContent = `# Launch notes

The **new editor** ships on Monday.

- autosave
- offline mode
`

func setupTest(t *testing.T) *Handlers {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.UserID = "web-user"
	cfg.AutosaveDelayMs = 20
	cfg.ConnectivityIntervalSec = 0

	ws, err := workspace.Open(context.Background(), workspace.Options{
		Config:    cfg,
		BaseDir:   t.TempDir(),
		Generator: generation.Echo(),
	})
	if err != nil {
		t.Fatalf("workspace.Open: %v", err)
	}
	t.Cleanup(func() { ws.Close(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ws.Wait(ctx); err != nil {
		t.Fatalf("hydration: %v", err)
	}

	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		t.Fatalf("template sub-FS: %v", err)
	}

	return &Handlers{
		ws:       ws,
		renderer: NewRenderer(templateSub, "test", nil),
	}
}

// seedDocument creates a document and returns its ID.
func seedDocument(t *testing.T, h *Handlers, title, content string) string {
	t.Helper()
	d, _, err := h.ws.CreateDocument(context.Background(), title, content)
	if err != nil {
		t.Fatalf("seed document %q: %v", title, err)
	}
	return d.ID
}

func serve(h *Handlers, req *http.Request) *httptest.ResponseRecorder {
	staticSub, _ := fs.Sub(staticFS, "static")
	rec := httptest.NewRecorder()
	securityHeaders(h.routes(staticSub)).ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON response: %v\n%s", err, rec.Body.String())
	}
	return body
}

// --- Health and session ---

func TestHandleReady_Hydrated(t *testing.T) {
	h := setupTest(t)

	rec := serve(h, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if state := decodeBody(t, rec)["state"]; state != "hydrated" {
		t.Errorf("state = %v, want hydrated", state)
	}
}

func TestHandleSession(t *testing.T) {
	h := setupTest(t)
	seedDocument(t, h, "Notes", "one two three")

	rec := serve(h, httptest.NewRequest("GET", "/session", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["title"] != "Notes" {
		t.Errorf("title = %v", body["title"])
	}
	if body["word_count"] != float64(3) {
		t.Errorf("word_count = %v, want 3", body["word_count"])
	}
	if body["remote"] != false {
		t.Errorf("remote = %v, want false", body["remote"])
	}
}

func TestHandleSync_LocalOnly(t *testing.T) {
	h := setupTest(t)

	rec := serve(h, httptest.NewRequest("POST", "/sync", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if remaining := decodeBody(t, rec)["remaining"]; remaining != float64(0) {
		t.Errorf("remaining = %v, want 0", remaining)
	}
}

// --- Documents ---

func TestHandleList(t *testing.T) {
	h := setupTest(t)
	seedDocument(t, h, "Alpha", "first")
	seedDocument(t, h, "", "second")

	rec := serve(h, httptest.NewRequest("GET", "/documents", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"Alpha", "Untitled", "<title>Documents"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in response", want)
		}
	}
}

func TestHandleList_JSON(t *testing.T) {
	h := setupTest(t)
	seedDocument(t, h, "Alpha", "first")

	req := httptest.NewRequest("GET", "/documents", nil)
	req.Header.Set("Accept", "application/json")
	rec := serve(h, req)

	items, ok := decodeBody(t, rec)["items"].([]any)
	if !ok || len(items) != 1 {
		t.Fatalf("items = %v, want 1 document", items)
	}
}

func TestHandleDetail_RendersMarkdown(t *testing.T) {
	h := setupTest(t)
	id := seedDocument(t, h, "Launch", sampleContent)

	rec := serve(h, httptest.NewRequest("GET", "/documents/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<strong>new editor</strong>") {
		t.Error("expected markdown to be rendered as HTML")
	}
	if !strings.Contains(body, "<li>offline mode</li>") {
		t.Error("expected list items in rendered HTML")
	}
	if !strings.Contains(body, `<span class="badge">active</span>`) {
		t.Error("expected the active badge for the active document")
	}
}

func TestHandleDetail_EscapesRawHTML(t *testing.T) {
	h := setupTest(t)
	id := seedDocument(t, h, "XSS", "hello <script>alert(1)</script>")

	rec := serve(h, httptest.NewRequest("GET", "/documents/"+id, nil))
	if strings.Contains(rec.Body.String(), "<script>alert(1)</script>") {
		t.Error("raw HTML in content must not be rendered")
	}
}

func TestHandleDetail_ShowsUnsavedEditorContent(t *testing.T) {
	h := setupTest(t)
	id := seedDocument(t, h, "Draft", "before")
	h.ws.Editor().Type(" after")

	req := httptest.NewRequest("GET", "/documents/"+id, nil)
	req.Header.Set("Accept", "application/json")
	rec := serve(h, req)

	if content := decodeBody(t, rec)["content"]; content != "before after" {
		t.Errorf("content = %v, want editor content", content)
	}
}

func TestHandleDetail_NotFound(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/documents/missing", nil)
	req.Header.Set("Accept", "application/json")
	rec := serve(h, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	errObj := decodeBody(t, rec)["error"].(map[string]any)
	if errObj["code"] != "NOT_FOUND" {
		t.Errorf("code = %v, want NOT_FOUND", errObj["code"])
	}

	// HTML error page
	rec = serve(h, httptest.NewRequest("GET", "/documents/missing", nil))
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "Error 404") {
		t.Errorf("expected HTML error page, got %d", rec.Code)
	}

	// HTMX fragment
	req = httptest.NewRequest("GET", "/documents/missing", nil)
	req.Header.Set("HX-Request", "true")
	rec = serve(h, req)
	if !strings.HasPrefix(rec.Body.String(), `<div class="error-message">`) {
		t.Errorf("expected HTMX error fragment, got %q", rec.Body.String())
	}
}

func TestHandleDelete(t *testing.T) {
	h := setupTest(t)
	id := seedDocument(t, h, "Doomed", "bye")

	req := httptest.NewRequest("DELETE", "/documents/"+id, nil)
	req.Header.Set("Accept", "application/json")
	rec := serve(h, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if decodeBody(t, rec)["deleted"] != true {
		t.Error("expected deleted=true")
	}

	active, _ := h.ws.ActiveDocument()
	if active != nil {
		t.Errorf("deleted document still active: %s", active.ID)
	}

	rec = serve(h, httptest.NewRequest("GET", "/documents/"+id, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status after delete = %d, want 404", rec.Code)
	}
}

func TestHandleDelete_HTMXRedirect(t *testing.T) {
	h := setupTest(t)
	id := seedDocument(t, h, "Doomed", "bye")

	req := httptest.NewRequest("DELETE", "/documents/"+id, nil)
	req.Header.Set("HX-Request", "true")
	rec := serve(h, req)
	if got := rec.Header().Get("HX-Redirect"); got != "/documents" {
		t.Errorf("HX-Redirect = %q, want /documents", got)
	}
}

// --- Routing and helpers ---

func TestRootRedirects(t *testing.T) {
	h := setupTest(t)

	rec := serve(h, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/documents" {
		t.Errorf("got %d -> %q, want 302 -> /documents", rec.Code, rec.Header().Get("Location"))
	}
}

func TestSecurityHeaders(t *testing.T) {
	h := setupTest(t)

	rec := serve(h, httptest.NewRequest("GET", "/static/style.css", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("static status = %d, want 200", rec.Code)
	}
	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if !strings.Contains(rec.Header().Get("Content-Security-Policy"), "default-src 'self'") {
		t.Error("missing Content-Security-Policy")
	}
}

func TestFormatCount(t *testing.T) {
	tests := []struct {
		in   int
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
		{-4200, "-4,200"},
	}
	for _, tt := range tests {
		if got := formatCount(tt.in); got != tt.want {
			t.Errorf("formatCount(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatTime(t *testing.T) {
	if got := formatTime(time.Time{}); got != "-" {
		t.Errorf("formatTime(zero) = %q, want -", got)
	}
	ts := time.Date(2024, 3, 9, 14, 5, 0, 0, time.FixedZone("X", 3600))
	if got := formatTime(ts); got != "2024-03-09 13:05" {
		t.Errorf("formatTime = %q", got)
	}
}
