package mcprt

import (
	"context"
	"testing"
)

func TestCreateNewSQLToolAdvancesLifecycleState(t *testing.T) {
	d, reg, _ := newTestDispatcher(t)
	RegisterBuiltins(d)
	ctx := context.Background()

	if _, err := d.CallTool(ctx, DefaultPersona, "create_new_sql_tool", map[string]any{
		"tool_name":   "sales_by_store",
		"description": "d",
		"sql_query":   "SELECT 1",
		"parameters":  map[string]any{},
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	tool, ok := reg.GetTool("sales_by_store", DefaultPersona)
	if !ok {
		t.Fatal("expected tool to exist after creation")
	}
	if tool.State != ToolCreated {
		t.Fatalf("state after creation = %q, want %q", tool.State, ToolCreated)
	}

	tool.State = ToolVerified
	if err := reg.UpsertTool(ctx, tool); err != nil {
		t.Fatalf("mark verified: %v", err)
	}
	if err := reg.LoadAll(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if _, err := d.CallTool(ctx, DefaultPersona, "create_new_sql_tool", map[string]any{
		"tool_name":   "sales_by_store",
		"description": "d",
		"sql_query":   "SELECT 2",
		"parameters":  map[string]any{},
	}); err != nil {
		t.Fatalf("re-create with new digest: %v", err)
	}
	reloaded, ok := reg.GetTool("sales_by_store", DefaultPersona)
	if !ok {
		t.Fatal("expected tool to still exist after re-creation")
	}
	if reloaded.State != ToolUpdated {
		t.Fatalf("state after re-pointing a verified tool = %q, want %q", reloaded.State, ToolUpdated)
	}
}

func TestCreateNewSQLToolUnverifiedStaysCreatedOnRepoint(t *testing.T) {
	d, reg, _ := newTestDispatcher(t)
	RegisterBuiltins(d)
	ctx := context.Background()

	args := map[string]any{
		"tool_name":   "report",
		"description": "d",
		"sql_query":   "SELECT 1",
		"parameters":  map[string]any{},
	}
	if _, err := d.CallTool(ctx, DefaultPersona, "create_new_sql_tool", args); err != nil {
		t.Fatalf("create: %v", err)
	}

	args["sql_query"] = "SELECT 2"
	if _, err := d.CallTool(ctx, DefaultPersona, "create_new_sql_tool", args); err != nil {
		t.Fatalf("re-create: %v", err)
	}

	tool, ok := reg.GetTool("report", DefaultPersona)
	if !ok {
		t.Fatal("expected tool to exist")
	}
	if tool.State != ToolCreated {
		t.Fatalf("state for never-verified tool = %q, want %q", tool.State, ToolCreated)
	}
}
