package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/hpungsan/folio/internal/config"
	"github.com/hpungsan/folio/internal/errors"
	"github.com/hpungsan/folio/internal/session"
)

// testSetup opens a local-only in-memory session.
func testSetup(t *testing.T) (*session.Session, func()) {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "")

	cfg := config.DefaultConfig()
	cfg.LocalStore = "memory"
	log, _ := test.NewNullLogger()

	s, err := session.Open(context.Background(), cfg, t.TempDir(), log, nil)
	if err != nil {
		t.Fatalf("failed to open session: %v", err)
	}
	return s, func() { _ = s.Close() }
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func call(t *testing.T, fn ToolHandlerFunc, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	result, err := fn(context.Background(), makeRequest(args))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	return result
}

func TestHandleTree(t *testing.T) {
	s, cleanup := testSetup(t)
	defer cleanup()
	h := NewHandlers(s)

	out := parseOutput(t, call(t, h.HandleTree, nil))
	files, ok := out["files"].([]any)
	if !ok || len(files) != 2 {
		t.Fatalf("files = %v, want the two seed folders", out["files"])
	}
	if out["active_file_id"] != s.Workspace.Snapshot().ActiveFileID {
		t.Errorf("active_file_id = %v", out["active_file_id"])
	}
}

func TestHandleSearch(t *testing.T) {
	s, cleanup := testSetup(t)
	defer cleanup()
	h := NewHandlers(s)

	out := parseOutput(t, call(t, h.HandleSearch, map[string]any{"query": "ideas"}))
	files := out["files"].([]any)
	if len(files) != 1 {
		t.Fatalf("got %d root matches, want 1", len(files))
	}
	folder := files[0].(map[string]any)
	if folder["name"] != "Projects" || folder["isOpen"] != true {
		t.Errorf("unexpected match %v", folder)
	}

	out = parseOutput(t, call(t, h.HandleSearch, map[string]any{"query": "zzz"}))
	if len(out["files"].([]any)) != 0 {
		t.Errorf("expected no matches, got %v", out["files"])
	}
}

func TestHandleStatus(t *testing.T) {
	s, cleanup := testSetup(t)
	defer cleanup()
	h := NewHandlers(s)

	out := parseOutput(t, call(t, h.HandleStatus, nil))
	if out["mode"] != "LOCAL_FALLBACK" || out["indicator"] != "saved" {
		t.Errorf("status = %v", out)
	}
}

func TestHandleNodeAdd(t *testing.T) {
	s, cleanup := testSetup(t)
	defer cleanup()
	h := NewHandlers(s)

	folder := parseOutput(t, call(t, h.HandleNodeAdd, map[string]any{"type": "folder", "name": "Research"}))
	folderID := folder["id"].(string)

	tests := []struct {
		name      string
		args      map[string]any
		wantError bool
		errorCode string
	}{
		{
			name: "file under folder",
			args: map[string]any{"type": "file", "name": "Notes", "parent_id": folderID},
		},
		{
			name: "file at root",
			args: map[string]any{"type": "file", "name": "Loose"},
		},
		{
			name:      "blank name",
			args:      map[string]any{"type": "file", "name": "  "},
			wantError: true,
			errorCode: "INVALID_NAME",
		},
		{
			name:      "unknown type",
			args:      map[string]any{"type": "link", "name": "x"},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
		{
			name:      "missing parent",
			args:      map[string]any{"type": "file", "name": "x", "parent_id": "nope"},
			wantError: true,
			errorCode: "NOT_FOUND",
		},
		{
			name:      "bad argument type",
			args:      map[string]any{"type": "file", "name": 42},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := call(t, h.HandleNodeAdd, tt.args)
			if tt.wantError {
				if !result.IsError {
					t.Fatalf("expected error result, got success")
				}
				assertErrorCode(t, result, tt.errorCode)
				return
			}
			out := parseOutput(t, result)
			if out["active"] != true {
				t.Errorf("new file should become active: %v", out)
			}
		})
	}
}

func TestHandleNodeLifecycle(t *testing.T) {
	s, cleanup := testSetup(t)
	defer cleanup()
	h := NewHandlers(s)

	a := parseOutput(t, call(t, h.HandleNodeAdd, map[string]any{"type": "folder", "name": "A"}))["id"].(string)
	b := parseOutput(t, call(t, h.HandleNodeAdd, map[string]any{"type": "folder", "name": "B", "parent_id": a}))["id"].(string)
	f := parseOutput(t, call(t, h.HandleNodeAdd, map[string]any{"type": "file", "name": "F", "parent_id": b}))["id"].(string)

	// rename
	parseOutput(t, call(t, h.HandleNodeRename, map[string]any{"id": f, "name": "Renamed"}))
	if n, _ := s.Workspace.Find(f); n.Name != "Renamed" {
		t.Errorf("name = %q, want Renamed", n.Name)
	}
	assertErrorCode(t, call(t, h.HandleNodeRename, map[string]any{"id": f, "name": ""}), "INVALID_NAME")

	// cycle
	assertErrorCode(t, call(t, h.HandleNodeMove, map[string]any{"id": a, "target_parent_id": b}), "CYCLE")

	// move to root
	parseOutput(t, call(t, h.HandleNodeMove, map[string]any{"id": b}))
	root := s.Workspace.Snapshot().Files
	if root[len(root)-1].ID != b {
		t.Errorf("B should be the last root node")
	}

	// toggle
	before, _ := s.Workspace.Find(a)
	parseOutput(t, call(t, h.HandleFolderToggle, map[string]any{"id": a}))
	after, _ := s.Workspace.Find(a)
	if before.IsOpen == after.IsOpen {
		t.Errorf("toggle did not flip isOpen")
	}

	// select folder refused
	assertErrorCode(t, call(t, h.HandleFileSelect, map[string]any{"id": a}), "NOT_A_FILE")

	// delete clears the active file
	out := parseOutput(t, call(t, h.HandleNodeDelete, map[string]any{"id": b}))
	if _, ok := out["active_file_id"]; ok {
		t.Errorf("active_file_id should be cleared, got %v", out["active_file_id"])
	}
	assertErrorCode(t, call(t, h.HandleNodeDelete, map[string]any{"id": b}), "NOT_FOUND")
}

func TestHandleFileReadWrite(t *testing.T) {
	s, cleanup := testSetup(t)
	defer cleanup()
	h := NewHandlers(s)

	parseOutput(t, call(t, h.HandleFileWrite, map[string]any{"content": "# Title\n\nSome *text*", "markdown": true}))
	out := parseOutput(t, call(t, h.HandleFileRead, map[string]any{"plain": true}))
	if !strings.Contains(out["content"].(string), "<h1>Title</h1>") {
		t.Errorf("content = %v", out["content"])
	}
	if out["text"] != "Title Some text" {
		t.Errorf("text = %q", out["text"])
	}
	stats := out["stats"].(map[string]any)
	if stats["chars"].(float64) == 0 {
		t.Errorf("stats = %v", stats)
	}

	assertErrorCode(t, call(t, h.HandleFileWrite, map[string]any{"id": "x"}), "INVALID_REQUEST")
	assertErrorCode(t, call(t, h.HandleFileRead, map[string]any{"id": "missing"}), "NOT_FOUND")

	folderID := s.Workspace.Snapshot().Files[0].ID
	assertErrorCode(t, call(t, h.HandleFileRead, map[string]any{"id": folderID}), "NOT_A_FILE")

	parseOutput(t, call(t, h.HandleFileSelect, map[string]any{"id": ""}))
	assertErrorCode(t, call(t, h.HandleFileRead, nil), "NO_ACTIVE_FILE")
}

func TestHandleLinks(t *testing.T) {
	s, cleanup := testSetup(t)
	defer cleanup()
	h := NewHandlers(s)

	link := parseOutput(t, call(t, h.HandleLinkAdd, map[string]any{"title": "Go", "url": "https://go.dev"}))
	id := link["id"].(string)
	if id == "" {
		t.Fatal("link id not minted")
	}

	updated := parseOutput(t, call(t, h.HandleLinkUpdate, map[string]any{"id": id, "description": "docs"}))
	if updated["title"] != "Go" || updated["description"] != "docs" {
		t.Errorf("update lost fields: %v", updated)
	}
	assertErrorCode(t, call(t, h.HandleLinkUpdate, map[string]any{"id": "missing"}), "NOT_FOUND")
	assertErrorCode(t, call(t, h.HandleLinkUpdate, map[string]any{}), "INVALID_REQUEST")

	parseOutput(t, call(t, h.HandleLinkDelete, map[string]any{"id": id}))
	active, _ := s.Workspace.ActiveNode()
	for _, l := range active.Links {
		if l.ID == id {
			t.Errorf("link %s not deleted", id)
		}
	}

	parseOutput(t, call(t, h.HandleFileSelect, map[string]any{}))
	assertErrorCode(t, call(t, h.HandleLinkAdd, map[string]any{"title": "x", "url": "y"}), "NO_ACTIVE_FILE")
}

func TestHandlePrompts(t *testing.T) {
	s, cleanup := testSetup(t)
	defer cleanup()
	h := NewHandlers(s)

	p := parseOutput(t, call(t, h.HandlePromptAdd, map[string]any{"title": "Tr", "prompt_text": "Translate"}))
	id := p["id"].(string)

	updated := parseOutput(t, call(t, h.HandlePromptUpdate, map[string]any{"id": id, "prompt_text": "Translate to French"}))
	if updated["title"] != "Tr" || updated["promptText"] != "Translate to French" {
		t.Errorf("update = %v", updated)
	}

	// No API key: the failure is reported in the result text.
	run := parseOutput(t, call(t, h.HandlePromptRun, map[string]any{"id": id}))
	if !strings.HasPrefix(run["result"].(string), "Prompt failed") {
		t.Errorf("result = %v", run["result"])
	}
	assertErrorCode(t, call(t, h.HandlePromptRun, map[string]any{"id": "missing"}), "NOT_FOUND")

	parseOutput(t, call(t, h.HandlePromptDelete, map[string]any{"id": id}))
	assertErrorCode(t, call(t, h.HandlePromptDelete, map[string]any{"id": id}), "NOT_FOUND")
}

func TestServerRegistration(t *testing.T) {
	s, cleanup := testSetup(t)
	defer cleanup()

	srv := NewServer(s, "test")
	tools := srv.ListTools()
	if tools == nil {
		t.Fatal("expected tools to be registered, got nil")
	}

	if len(tools) != len(toolRegistry) {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(toolRegistry))
	}
	for _, name := range AllToolNames() {
		if _, ok := tools[name]; !ok {
			t.Errorf("missing registered tool: %s", name)
		}
	}
}

func TestServerRegistration_WithDisabledTools(t *testing.T) {
	s, cleanup := testSetup(t)
	defer cleanup()

	s.Config.DisabledTools = []string{"node_delete", "prompt_run", "prompt_run"}
	tools := NewServer(s, "test").ListTools()

	if len(tools) != 16 {
		t.Errorf("registered tool count = %d, want 16", len(tools))
	}
	for _, name := range []string{"node_delete", "prompt_run"} {
		if _, ok := tools[name]; ok {
			t.Errorf("disabled tool %q should not be registered", name)
		}
	}
}

func TestServerRegistration_WithDisabledTypes(t *testing.T) {
	s, cleanup := testSetup(t)
	defer cleanup()

	s.Config.DisabledTypes = []string{"link", "prompt"}
	tools := NewServer(s, "test").ListTools()

	if len(tools) != 11 {
		t.Errorf("registered tool count = %d, want 11", len(tools))
	}
	for name := range tools {
		if typ := GetTypeForTool(name); typ == "link" || typ == "prompt" {
			t.Errorf("tool %q of a disabled type is registered", name)
		}
	}
}

func TestServerRegistration_AllToolsDisabled(t *testing.T) {
	s, cleanup := testSetup(t)
	defer cleanup()

	s.Config.DisabledTools = AllToolNames()
	if tools := NewServer(s, "test").ListTools(); len(tools) != 0 {
		t.Errorf("registered tool count = %d, want 0 (all disabled)", len(tools))
	}
}

func TestValidateDisabledTools(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		wantLen int
	}{
		{"all valid", []string{"node_delete", "prompt_run"}, 0},
		{"one unknown", []string{"node_delete", "capsule_store"}, 1},
		{"all unknown", []string{"foo", "bar", "baz"}, 3},
		{"empty list", []string{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if unknown := ValidateDisabledTools(tt.input); len(unknown) != tt.wantLen {
				t.Errorf("ValidateDisabledTools() returned %d unknown, want %d", len(unknown), tt.wantLen)
			}
		})
	}
}

func TestValidateDisabledTypes(t *testing.T) {
	if unknown := ValidateDisabledTypes([]string{"link", "capsule"}); len(unknown) != 1 || unknown[0] != "capsule" {
		t.Errorf("ValidateDisabledTypes() = %v, want [capsule]", unknown)
	}
}

func TestAllToolNames(t *testing.T) {
	names := AllToolNames()
	if len(names) != 18 {
		t.Errorf("AllToolNames() returned %d names, want 18", len(names))
	}
	if unknown := ValidateDisabledTools(names); len(unknown) != 0 {
		t.Errorf("AllToolNames() returned invalid names: %v", unknown)
	}
	for _, name := range names {
		if !contains(KnownTypes, GetTypeForTool(name)) {
			t.Errorf("tool %q has no known type", name)
		}
	}
}

func TestNewServer_WarnsUnknownDisabledNames(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	cfg := config.DefaultConfig()
	cfg.LocalStore = "memory"
	cfg.DisabledTools = []string{"node_delete", "capsule_store"}
	cfg.DisabledTypes = []string{"widget"}
	log, hook := test.NewNullLogger()

	s, err := session.Open(context.Background(), cfg, t.TempDir(), log, nil)
	if err != nil {
		t.Fatalf("failed to open session: %v", err)
	}
	defer s.Close()
	hook.Reset()

	tools := NewServer(s, "test").ListTools()
	if len(tools) != len(toolRegistry)-1 {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(toolRegistry)-1)
	}

	var warned []string
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warned = append(warned, e.Message)
		}
	}
	if len(warned) != 2 {
		t.Fatalf("warnings = %v, want one for tools and one for types", warned)
	}
}

func TestGetTypeForTool(t *testing.T) {
	tests := map[string]string{
		"node_add":        "node",
		"workspace_tree":  "workspace",
		"nounderscore":    "",
		"_leading":        "",
		"prompt_run_fast": "prompt",
	}
	for name, want := range tests {
		if got := GetTypeForTool(name); got != want {
			t.Errorf("GetTypeForTool(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestDecode(t *testing.T) {
	type args struct {
		ID    string  `json:"id"`
		Plain bool    `json:"plain"`
		Title *string `json:"title"`
	}

	got, err := decode[args](makeRequest(nil))
	if err != nil || got.ID != "" {
		t.Fatalf("empty arguments: got %+v, err %v", got, err)
	}

	got, err = decode[args](makeRequest(map[string]any{"id": "a", "title": "T", "extra": 1}))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "a" || got.Title == nil || *got.Title != "T" {
		t.Errorf("got %+v", got)
	}

	tests := []struct {
		name string
		args map[string]any
		msg  string
	}{
		{"bool as string", map[string]any{"plain": "yes"}, "plain must be a boolean"},
		{"pointer field", map[string]any{"title": 3}, "title must be a string"},
		{"string as number", map[string]any{"id": 7}, "id must be a string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decode[args](makeRequest(tt.args))
			if !errors.Is(err, errors.ErrInvalidRequest) {
				t.Fatalf("err = %v, want INVALID_REQUEST", err)
			}
			if !strings.Contains(err.Error(), tt.msg) {
				t.Errorf("err = %q, want it to mention %q", err.Error(), tt.msg)
			}
		})
	}
}

func TestHandler_BadArgumentType(t *testing.T) {
	s, cleanup := testSetup(t)
	defer cleanup()
	h := NewHandlers(s)

	r := call(t, h.HandleFileRead, map[string]any{"plain": "yes"})
	assertErrorCode(t, r, "INVALID_REQUEST")
	if msg := errorObject(t, r)["message"].(string); !strings.Contains(msg, "plain must be a boolean") {
		t.Errorf("message = %q", msg)
	}
}

func TestErrorResult_InternalDoesNotExposeDetails(t *testing.T) {
	r := errorResult(errors.NewInternal(fmt.Errorf("open /tmp/secret.db: permission denied")))
	if !r.IsError {
		t.Fatal("expected IsError=true")
	}
	errObj := errorObject(t, r)
	if errObj["code"] != string(errors.ErrInternal) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrInternal)
	}
	if _, ok := errObj["details"]; ok {
		t.Fatal("expected INTERNAL errors to omit details")
	}
}

func TestErrorResult_WrappedErrorPreservesContext(t *testing.T) {
	r := errorResult(fmt.Errorf("move node: %w", errors.NewCycle("a", "b")))
	errObj := errorObject(t, r)
	if errObj["code"] != string(errors.ErrCycle) {
		t.Errorf("code=%v, want %v", errObj["code"], errors.ErrCycle)
	}
	if msg := errObj["message"].(string); !strings.Contains(msg, "move node") {
		t.Errorf("message should contain wrapper context, got: %s", msg)
	}
}

func TestErrorResult_PlainErrorIsInternal(t *testing.T) {
	errObj := errorObject(t, errorResult(fmt.Errorf("boom")))
	if errObj["code"] != "INTERNAL" || errObj["message"] != "an internal error occurred" {
		t.Errorf("error = %v", errObj)
	}
}

// Helper functions

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

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
	return payload["error"].(map[string]any)
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
