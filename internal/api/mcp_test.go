package api

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/referlane/referlane/internal/budget"
	"github.com/referlane/referlane/internal/funnel"
	"github.com/referlane/referlane/internal/interaction"
	"github.com/referlane/referlane/internal/nudge"
	"github.com/referlane/referlane/internal/profile"
	"github.com/referlane/referlane/internal/provider"
	"github.com/referlane/referlane/internal/storage"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T) (Deps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	manager := profile.NewManager(store)
	return Deps{
		Jobs:     provider.NewSQLiteJobProvider(store),
		Profiles: provider.NewSQLiteProfileProvider(manager),
		Manager:  manager,
		Nudges:   nudge.NewGenerator(nil, nil),
		Recorder: interaction.NewRecorder(store),
		Funnel:   funnel.NewAggregator(store),
		Budget:   budget.New(budget.Limits{DailyUSD: 5}, time.Hour),
		Store:    store,
		Token:    testToken,
	}, store
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestMCPTool_GetNudges(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	seedJob(t, store)
	seedProfile(t, store)
	handler := mcpGetNudges(deps)

	result, err := handler(context.Background(), makeCallToolRequest("get_nudges", map[string]interface{}{
		"member_id": "m1",
		"job_id":    "job-1",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var resp NudgesResponse
	if err := json.Unmarshal([]byte(toolText(t, result)), &resp); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if len(resp.Nudges) == 0 {
		t.Fatal("expected nudges for an overlapping profile")
	}
}

func TestMCPTool_GetNudges_MissingArgs(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpGetNudges(deps)

	result, err := handler(context.Background(), makeCallToolRequest("get_nudges", map[string]interface{}{
		"member_id": "m1",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for missing job_id")
	}
}

func TestMCPTool_GetNudges_UnknownJob(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpGetNudges(deps)

	result, err := handler(context.Background(), makeCallToolRequest("get_nudges", map[string]interface{}{
		"member_id": "m1",
		"job_id":    "missing",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for unknown job")
	}
}

func TestMCPTool_LogInteraction(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	handler := mcpLogInteraction(deps)

	result, err := handler(context.Background(), makeCallToolRequest("log_interaction", map[string]interface{}{
		"member_id": "m1",
		"job_id":    "job-1",
		"nudge_id":  "abc123",
		"action":    "SHARE_WHATSAPP",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	rows, err := store.ListInteractions(context.Background(), storage.InteractionFilter{MemberID: "m1"})
	if err != nil {
		t.Fatalf("listing interactions: %v", err)
	}
	if len(rows) != 1 || rows[0].Action != "SHARE_WHATSAPP" {
		t.Fatalf("expected one SHARE_WHATSAPP row, got %+v", rows)
	}
}

func TestMCPTool_LogInteraction_BadAction(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpLogInteraction(deps)

	result, err := handler(context.Background(), makeCallToolRequest("log_interaction", map[string]interface{}{
		"member_id": "m1",
		"job_id":    "job-1",
		"nudge_id":  "abc123",
		"action":    "TELEPORTED",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for unknown action")
	}
}

func TestMCPTool_FunnelReport(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	handler := mcpFunnelReport(deps)

	err := store.AppendEvent(context.Background(), storage.EventRow{
		ID: "e1", Type: funnel.EventJobViewed, MemberID: "m1", JobID: "job-1",
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("appending event: %v", err)
	}

	result, err := handler(context.Background(), makeCallToolRequest("funnel_report", map[string]interface{}{
		"job_id": "job-1",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var snap funnel.Snapshot
	if err := json.Unmarshal([]byte(toolText(t, result)), &snap); err != nil {
		t.Fatalf("decoding snapshot: %v", err)
	}
	if snap.Subjects != 1 {
		t.Errorf("subjects = %d, want 1", snap.Subjects)
	}
}

func TestMCPTool_BudgetStatus(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpBudgetStatus(deps)

	result, err := handler(context.Background(), makeCallToolRequest("budget_status", nil))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var status budget.Status
	if err := json.Unmarshal([]byte(toolText(t, result)), &status); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if status.Limits.DailyUSD != 5 {
		t.Errorf("limits = %+v, want daily usd 5", status.Limits)
	}
}

func TestMCPResource_Budget(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpResourceBudget(deps)

	contents, err := handler(context.Background(), makeReadResourceRequest("referlane://budget"))
	if err != nil {
		t.Fatalf("resource error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected one resource content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var status budget.Status
	if err := json.Unmarshal([]byte(tc.Text), &status); err != nil {
		t.Fatalf("decoding resource: %v", err)
	}
}

func TestNewMCPServer_Constructs(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	if s := NewMCPServer(deps); s == nil {
		t.Fatal("expected a server")
	}
}
