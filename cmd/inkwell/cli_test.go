package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// runCLI runs the app against a temporary data directory and returns stdout.
func runCLI(t *testing.T, home string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newCLIApp()
	app.Writer = &out
	app.ErrWriter = &bytes.Buffer{}
	full := append([]string{"inkwell", "--home", home, "--user", "cli-user"}, args...)
	err := app.Run(full)
	return out.String(), err
}

func mustRun(t *testing.T, home string, args ...string) map[string]any {
	t.Helper()
	out, err := runCLI(t, home, args...)
	if err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	var result map[string]any
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("failed to parse output %q: %v", out, err)
	}
	return result
}

func TestResolveUserID(t *testing.T) {
	tests := []struct {
		name       string
		candidates []string
		expected   string
	}{
		{"flag wins", []string{"flag", "config", "env"}, "flag"},
		{"config next", []string{"", "config", "env"}, "config"},
		{"env last", []string{"", " ", "env"}, "env"},
		{"none", []string{"", ""}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolveUserID(tt.candidates...); got != tt.expected {
				t.Errorf("resolveUserID(%q) = %q, want %q", tt.candidates, got, tt.expected)
			}
		})
	}
}

func TestCLIDocLifecycle(t *testing.T) {
	home := t.TempDir()

	created := mustRun(t, home, "doc", "new", "--title", "Notes", "--content", "first draft")
	doc := created["document"].(map[string]any)
	id := doc["id"].(string)
	if doc["title"] != "Notes" || doc["content"] != "first draft" {
		t.Fatalf("unexpected document: %v", doc)
	}

	// The new document survives the process boundary and is active.
	shown := mustRun(t, home, "doc", "show")
	if shown["document"].(map[string]any)["id"] != id {
		t.Errorf("active document = %v, want %s", shown["document"], id)
	}

	written := mustRun(t, home, "doc", "write", "--content", "second draft here", id)
	wdoc := written["document"].(map[string]any)
	if wdoc["content"] != "second draft here" {
		t.Errorf("content = %v", wdoc["content"])
	}
	if wc := wdoc["metadata"].(map[string]any)["word_count"]; wc != float64(3) {
		t.Errorf("word_count = %v, want 3", wc)
	}

	raw, err := runCLI(t, home, "doc", "show", "--raw", id)
	if err != nil {
		t.Fatalf("doc show --raw: %v", err)
	}
	if raw != "second draft here" {
		t.Errorf("raw output = %q", raw)
	}

	listed := mustRun(t, home, "doc", "list")
	if items := listed["items"].([]any); len(items) != 1 {
		t.Errorf("list returned %d items, want 1", len(items))
	}

	removed := mustRun(t, home, "doc", "rm", id)
	if removed["deleted"] != true {
		t.Errorf("rm result = %v", removed)
	}

	_, err = runCLI(t, home, "doc", "show", id)
	if err == nil || !strings.Contains(err.Error(), "[NOT_FOUND]") {
		t.Errorf("expected NOT_FOUND after rm, got %v", err)
	}
}

func TestCLIDocWriteRequiresID(t *testing.T) {
	_, err := runCLI(t, t.TempDir(), "doc", "write", "--content", "x")
	if err == nil || !strings.Contains(err.Error(), "[INVALID_REQUEST]") {
		t.Errorf("expected INVALID_REQUEST, got %v", err)
	}
}

func TestCLIDocShowWithoutActive(t *testing.T) {
	_, err := runCLI(t, t.TempDir(), "doc", "show")
	if err == nil || !strings.Contains(err.Error(), "[NOT_FOUND]") {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestCLISync_LocalOnly(t *testing.T) {
	home := t.TempDir()
	mustRun(t, home, "doc", "new", "--content", "offline")

	report := mustRun(t, home, "sync")
	if report["remaining"] != float64(0) {
		t.Errorf("remaining = %v, want 0 without a remote", report["remaining"])
	}
	if report["healthy"] != false {
		t.Errorf("healthy = %v, want false without a remote", report["healthy"])
	}
}

func TestCLITemplates(t *testing.T) {
	out := mustRun(t, t.TempDir(), "templates")
	templates := out["templates"].([]any)
	if len(templates) == 0 {
		t.Fatal("expected built-in templates")
	}
	found := false
	for _, tmpl := range templates {
		if tmpl.(map[string]any)["id"] == "blog_post" {
			found = true
		}
	}
	if !found {
		t.Error("expected blog_post template")
	}
}

func TestCLITemplates_RepoOverlay(t *testing.T) {
	home := t.TempDir()
	tmplDir := filepath.Join(home, "templates")
	if err := os.MkdirAll(tmplDir, 0o755); err != nil {
		t.Fatal(err)
	}
	overlay := `tools:
  - id: pirate
    name: Pirate
    prompt: Rewrite the text like a pirate.
`
	if err := os.WriteFile(filepath.Join(tmplDir, "extra.yaml"), []byte(overlay), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := `{"templates_dir": "` + filepath.ToSlash(tmplDir) + `"}`
	if err := os.WriteFile(filepath.Join(home, "config.json"), []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	out := mustRun(t, home, "templates")
	found := false
	for _, tool := range out["tools"].([]any) {
		if tool.(map[string]any)["id"] == "pirate" {
			found = true
		}
	}
	if !found {
		t.Error("expected the overlay tool to be listed")
	}
}

func TestCLIMigrate(t *testing.T) {
	home := t.TempDir()
	mustRun(t, home, "doc", "new", "--content", "current schema")

	out := mustRun(t, home, "migrate")
	if out["migrated"] != float64(0) {
		t.Errorf("migrated = %v, want 0 for current records", out["migrated"])
	}
}

func TestCLIMigrate_RequiresUser(t *testing.T) {
	t.Setenv("USER", "")
	t.Setenv("INKWELL_USER", "")
	var out bytes.Buffer
	app := newCLIApp()
	app.Writer = &out
	err := app.Run([]string{"inkwell", "--home", t.TempDir(), "migrate"})
	if err == nil || !strings.Contains(err.Error(), "[UNAUTHENTICATED]") {
		t.Errorf("expected UNAUTHENTICATED, got %v", err)
	}
}
