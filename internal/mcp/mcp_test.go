package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/inkwell/internal/config"
	"github.com/hpungsan/inkwell/internal/errors"
	"github.com/hpungsan/inkwell/internal/generation"
	"github.com/hpungsan/inkwell/internal/workspace"
)

// testSetup opens a hydrated workspace in a temporary directory.
func testSetup(t *testing.T) (*workspace.Workspace, *config.Config) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.UserID = "mcp-user"
	cfg.AutosaveDelayMs = 20
	cfg.ConnectivityIntervalSec = 0

	ws, err := workspace.Open(context.Background(), workspace.Options{
		Config:    cfg,
		BaseDir:   t.TempDir(),
		Generator: generation.Echo(),
	})
	if err != nil {
		t.Fatalf("failed to open workspace: %v", err)
	}
	t.Cleanup(func() { ws.Close(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ws.Wait(ctx); err != nil {
		t.Fatalf("hydration: %v", err)
	}
	return ws, cfg
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func createDoc(t *testing.T, h *Handlers, content string) string {
	t.Helper()
	result, err := h.HandleDocumentCreate(context.Background(), makeRequest(map[string]any{
		"title":   "Draft",
		"content": content,
	}))
	if err != nil {
		t.Fatalf("HandleDocumentCreate error: %v", err)
	}
	out := parseOutput(t, result)
	doc := out["document"].(map[string]any)
	return doc["id"].(string)
}

func TestHandleDocumentCreateAndGet(t *testing.T) {
	ws, _ := testSetup(t)
	h := NewHandlers(ws)

	id := createDoc(t, h, "Hello **world**")

	result, err := h.HandleDocumentGet(context.Background(), makeRequest(map[string]any{"id": id}))
	if err != nil {
		t.Fatalf("HandleDocumentGet error: %v", err)
	}
	doc := parseOutput(t, result)["document"].(map[string]any)
	if doc["content"] != "Hello **world**" {
		t.Errorf("content = %v", doc["content"])
	}
	meta := doc["metadata"].(map[string]any)
	if meta["word_count"] != float64(2) {
		t.Errorf("word_count = %v, want 2", meta["word_count"])
	}

	// Active document when id is omitted.
	result, _ = h.HandleDocumentGet(context.Background(), makeRequest(map[string]any{}))
	active := parseOutput(t, result)["document"].(map[string]any)
	if active["id"] != id {
		t.Errorf("active id = %v, want %v", active["id"], id)
	}

	result, _ = h.HandleDocumentGet(context.Background(), makeRequest(map[string]any{"id": "missing"}))
	assertErrorCode(t, result, "NOT_FOUND")
}

func TestHandleDocumentUpdate(t *testing.T) {
	ws, _ := testSetup(t)
	h := NewHandlers(ws)
	id := createDoc(t, h, "v1")

	result, err := h.HandleDocumentUpdate(context.Background(), makeRequest(map[string]any{
		"id":      id,
		"content": "v2 text",
	}))
	if err != nil {
		t.Fatalf("HandleDocumentUpdate error: %v", err)
	}
	out := parseOutput(t, result)
	if out["document"].(map[string]any)["content"] != "v2 text" {
		t.Errorf("content not updated: %v", out["document"])
	}

	saved, _, err := ws.Gateway().LoadLocalDocument(ws.Context(context.Background()), id)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if saved.Content != "v2 text" {
		t.Errorf("saved content = %q, want flushed", saved.Content)
	}

	result, _ = h.HandleDocumentUpdate(context.Background(), makeRequest(map[string]any{"id": id}))
	assertErrorCode(t, result, "INVALID_REQUEST")
}

func TestHandleDocumentDeleteAndList(t *testing.T) {
	ws, _ := testSetup(t)
	h := NewHandlers(ws)
	first := createDoc(t, h, "one")
	createDoc(t, h, "two")

	result, _ := h.HandleDocumentList(context.Background(), makeRequest(nil))
	items := parseOutput(t, result)["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("list len = %d, want 2", len(items))
	}

	result, _ = h.HandleDocumentDelete(context.Background(), makeRequest(map[string]any{"id": first}))
	out := parseOutput(t, result)
	if out["deleted"] != true {
		t.Errorf("deleted = %v", out["deleted"])
	}

	result, _ = h.HandleDocumentList(context.Background(), makeRequest(nil))
	if n := len(parseOutput(t, result)["items"].([]any)); n != 1 {
		t.Errorf("list len after delete = %d, want 1", n)
	}

	result, _ = h.HandleDocumentDelete(context.Background(), makeRequest(map[string]any{}))
	assertErrorCode(t, result, "INVALID_REQUEST")
}

func TestHandleSelectionAndToolRun(t *testing.T) {
	ws, _ := testSetup(t)
	h := NewHandlers(ws)
	createDoc(t, h, "Hello world")

	result, _ := h.HandleToolRun(context.Background(), makeRequest(map[string]any{"tool_id": "shorten"}))
	assertErrorCode(t, result, "INVALID_REQUEST")

	result, _ = h.HandleSelectionSet(context.Background(), makeRequest(map[string]any{"from": 6, "to": 11}))
	sel := parseOutput(t, result)["selection"].(map[string]any)
	if sel["text"] != "world" {
		t.Errorf("selection text = %v", sel["text"])
	}

	result, _ = h.HandleToolRun(context.Background(), makeRequest(map[string]any{"tool_id": "shorten"}))
	out := parseOutput(t, result)
	if out["applied"] != true || out["output"] != "WORLD" {
		t.Errorf("tool result = %v", out)
	}
	if ws.Editor().Content() != "Hello WORLD" {
		t.Errorf("content = %q", ws.Editor().Content())
	}

	result, _ = h.HandleSelectionSet(context.Background(), makeRequest(map[string]any{"from": 5, "to": 500}))
	assertErrorCode(t, result, "INVALID_REQUEST")
}

func TestHandleGenerationFlow(t *testing.T) {
	ws, _ := testSetup(t)
	h := NewHandlers(ws)
	ctx := context.Background()

	result, _ := h.HandleGenerationStart(ctx, makeRequest(map[string]any{"template_id": "blog_post"}))
	assertErrorCode(t, result, "INVALID_REQUEST") // no active document

	createDoc(t, h, "")
	result, _ = h.HandleGenerationStart(ctx, makeRequest(map[string]any{"template_id": "blog_post"}))
	progress := parseOutput(t, result)["progress"].(map[string]any)
	if progress["total_sections"] != float64(6) {
		t.Fatalf("total_sections = %v", progress["total_sections"])
	}

	result, _ = h.HandleGenerationAdvance(ctx, makeRequest(map[string]any{
		"section_index": 0,
		"form_data":     map[string]any{"topic": "Go", "audience": "gophers"},
	}))
	out := parseOutput(t, result)
	if out["section_id"] != "outline" || out["content"] == "" {
		t.Errorf("advance result = %v", out)
	}

	result, _ = h.HandleGenerationDraft(ctx, makeRequest(map[string]any{
		"section_index": 1,
		"form_data":     map[string]any{"hook": "a story"},
	}))
	parseOutput(t, result)

	result, _ = h.HandleGenerationSkip(ctx, makeRequest(map[string]any{"section_index": 2}))
	parseOutput(t, result)

	result, _ = h.HandleGenerationRegenerate(ctx, makeRequest(map[string]any{"section_index": 0}))
	if parseOutput(t, result)["section_id"] != "outline" {
		t.Error("regenerate did not target outline")
	}

	result, _ = h.HandleGenerationResume(ctx, makeRequest(map[string]any{"section_index": 1}))
	form := parseOutput(t, result)
	if form["form_data"].(map[string]any)["hook"] != "a story" {
		t.Errorf("form_data = %v", form["form_data"])
	}

	result, _ = h.HandleGenerationResume(ctx, makeRequest(nil))
	if parseOutput(t, result)["section_index"] != float64(3) {
		t.Error("resume should land on the section after the skipped one")
	}

	result, _ = h.HandleGenerationStatus(ctx, makeRequest(nil))
	sections := parseOutput(t, result)["sections"].([]any)
	states := make([]string, 0, len(sections))
	for _, s := range sections {
		states = append(states, s.(map[string]any)["state"].(string))
	}
	if got := strings.Join(states[:3], ","); got != "generated,drafted,skipped" {
		t.Errorf("states = %s", got)
	}

	result, _ = h.HandleGenerationSkip(ctx, makeRequest(map[string]any{}))
	assertErrorCode(t, result, "INVALID_REQUEST")
}

func TestHandleGenerationMarkModifiedAndAbandon(t *testing.T) {
	ws, _ := testSetup(t)
	h := NewHandlers(ws)
	ctx := context.Background()

	createDoc(t, h, "")
	result, _ := h.HandleGenerationStart(ctx, makeRequest(map[string]any{"template_id": "blog_post"}))
	parseOutput(t, result)

	result, _ = h.HandleGenerationMarkModified(ctx, makeRequest(map[string]any{"section_index": 0}))
	assertErrorCode(t, result, "INVALID_REQUEST") // nothing generated yet

	result, _ = h.HandleGenerationAdvance(ctx, makeRequest(map[string]any{
		"section_index": 0,
		"form_data":     map[string]any{"topic": "Go", "audience": "gophers"},
	}))
	parseOutput(t, result)

	result, _ = h.HandleGenerationMarkModified(ctx, makeRequest(map[string]any{"section_index": 0}))
	parseOutput(t, result)

	result, _ = h.HandleGenerationStatus(ctx, makeRequest(nil))
	sections := parseOutput(t, result)["sections"].([]any)
	if state := sections[0].(map[string]any)["state"]; state != "modified" {
		t.Errorf("section 0 state = %v, want modified", state)
	}

	result, _ = h.HandleGenerationAbandon(ctx, makeRequest(nil))
	progress := parseOutput(t, result)["progress"].(map[string]any)
	if progress["status"] != "abandoned" {
		t.Errorf("status = %v, want abandoned", progress["status"])
	}

	result, _ = h.HandleGenerationAdvance(ctx, makeRequest(map[string]any{
		"section_index": 1,
		"form_data":     map[string]any{"hook": "a story", "tone": "friendly"},
	}))
	assertErrorCode(t, result, "INVALID_REQUEST")
}

func TestHandleSessionStatusAndReconcile(t *testing.T) {
	ws, _ := testSetup(t)
	h := NewHandlers(ws)
	createDoc(t, h, "status text")

	result, _ := h.HandleSessionStatus(context.Background(), makeRequest(nil))
	out := parseOutput(t, result)
	if out["hydration"] != "hydrated" {
		t.Errorf("hydration = %v", out["hydration"])
	}
	if out["word_count"] != float64(2) {
		t.Errorf("word_count = %v", out["word_count"])
	}

	result, _ = h.HandleSyncReconcile(context.Background(), makeRequest(nil))
	out = parseOutput(t, result)
	if out["remaining"] != float64(0) {
		t.Errorf("remaining = %v", out["remaining"])
	}
}

func TestHandleTemplateList(t *testing.T) {
	ws, _ := testSetup(t)
	h := NewHandlers(ws)

	result, _ := h.HandleTemplateList(context.Background(), makeRequest(nil))
	out := parseOutput(t, result)
	if len(out["templates"].([]any)) == 0 || len(out["tools"].([]any)) == 0 {
		t.Errorf("catalog empty: %v", out)
	}
}

func TestServerRegistration(t *testing.T) {
	ws, cfg := testSetup(t)

	s := NewServer(ws, cfg, "test")
	tools := s.ListTools()
	if tools == nil {
		t.Fatal("expected tools to be registered, got nil")
	}

	if len(tools) != len(toolRegistry) {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(toolRegistry))
	}

	for _, name := range []string{
		"document_create", "document_get", "document_update", "document_delete",
		"selection_set", "tool_run",
		"generation_start", "generation_draft", "generation_advance",
		"generation_regenerate", "generation_skip", "generation_resume",
		"generation_mark_modified", "generation_abandon",
		"session_status", "sync_reconcile",
	} {
		if _, ok := tools[name]; !ok {
			t.Errorf("missing registered tool: %s", name)
		}
	}
}

func TestServerRegistration_WithDisabledTools(t *testing.T) {
	ws, cfg := testSetup(t)

	cfg.DisabledTools = []string{"document_delete", "tool_run", "tool_run"}
	s := NewServer(ws, cfg, "test")
	tools := s.ListTools()

	if len(tools) != len(toolRegistry)-2 {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(toolRegistry)-2)
	}
	for _, name := range []string{"document_delete", "tool_run"} {
		if _, ok := tools[name]; ok {
			t.Errorf("disabled tool %q should not be registered", name)
		}
	}
}

func TestServerRegistration_AllToolsDisabled(t *testing.T) {
	ws, cfg := testSetup(t)

	cfg.DisabledTools = AllToolNames()
	s := NewServer(ws, cfg, "test")
	if tools := s.ListTools(); len(tools) != 0 {
		t.Errorf("registered tool count = %d, want 0 (all disabled)", len(tools))
	}
}

func TestValidateDisabledTools(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		wantLen int
	}{
		{"all valid", []string{"document_delete", "sync_reconcile"}, 0},
		{"one unknown", []string{"tool_run", "document_rename"}, 1},
		{"all unknown", []string{"foo", "bar", "baz"}, 3},
		{"empty list", []string{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unknown := ValidateDisabledTools(tt.input)
			if len(unknown) != tt.wantLen {
				t.Errorf("ValidateDisabledTools() returned %d unknown, want %d", len(unknown), tt.wantLen)
			}
		})
	}
}

func TestAllToolNames(t *testing.T) {
	names := AllToolNames()
	if len(names) != len(toolRegistry) {
		t.Errorf("AllToolNames() returned %d names, want %d", len(names), len(toolRegistry))
	}
	if unknown := ValidateDisabledTools(names); len(unknown) != 0 {
		t.Errorf("AllToolNames() returned invalid names: %v", unknown)
	}
}

func TestErrorResult_InternalDoesNotExposeDetails(t *testing.T) {
	r := errorResult(errors.NewInternal(fmt.Errorf("sql error: open /tmp/secret.db: permission denied")))
	if !r.IsError {
		t.Fatal("expected IsError=true")
	}

	errObj := errorObject(t, r)
	if errObj["code"] != string(errors.ErrInternal) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrInternal)
	}
	if strings.Contains(errObj["message"].(string), "secret.db") {
		t.Fatal("expected INTERNAL errors to hide the cause")
	}
	if _, ok := errObj["details"]; ok {
		t.Fatal("expected INTERNAL errors to omit details")
	}
}

func TestErrorResult_WrappedErrorPreservesContext(t *testing.T) {
	wrappedErr := fmt.Errorf("section 3: %w", errors.NewGenerationFailure(context.DeadlineExceeded))

	errObj := errorObject(t, errorResult(wrappedErr))
	if errObj["code"] != string(errors.ErrGenerationFailure) {
		t.Errorf("code=%v, want %v", errObj["code"], errors.ErrGenerationFailure)
	}
	if !strings.Contains(errObj["message"].(string), "section 3") {
		t.Errorf("message should contain wrapper context, got: %s", errObj["message"])
	}
	if errObj["retryable"] != true {
		t.Error("generation failures are retryable")
	}
}

func TestErrorResult_NonInternalIncludesDetails(t *testing.T) {
	errObj := errorObject(t, errorResult(errors.NewNotFound("document", "abc")))
	if errObj["code"] != string(errors.ErrNotFound) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrNotFound)
	}
	if _, ok := errObj["details"]; !ok {
		t.Fatal("expected non-INTERNAL errors to include details when present")
	}
}

// Helper functions

// parseOutput extracts and unmarshals the JSON output from an MCP result.
func parseOutput(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractErrorMessage(result))
	}
	var output map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &output); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return output
}

func errorObject(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	errObj, ok := payload["error"].(map[string]any)
	if !ok {
		t.Fatalf("no error object in payload")
	}
	return errObj
}

func assertErrorCode(t *testing.T, result *mcp.CallToolResult, expectedCode string) {
	t.Helper()

	if !result.IsError {
		t.Errorf("expected error %s, got success: %s", expectedCode, extractErrorMessage(result))
		return
	}
	if code, _ := errorObject(t, result)["code"].(string); code != expectedCode {
		t.Errorf("got error code %q, want %q", code, expectedCode)
	}
}

func extractErrorMessage(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return "<no content>"
	}

	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return "<not text content>"
	}

	return text.Text
}
