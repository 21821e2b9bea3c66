package mcprt

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kestrelmcp/kestrel/pkg/audit"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *Registry, *ArtifactStore) {
	t.Helper()
	db := openTestDB(t)
	store := NewArtifactStore(db)
	reg := NewRegistry(db, store)
	logger := audit.NewSQLiteLogger(db)
	notebook := audit.NewNotebook(db)

	for _, initer := range []interface{ Init() error }{store, reg, logger, notebook} {
		if err := initer.Init(); err != nil {
			t.Fatalf("init: %v", err)
		}
	}
	t.Cleanup(func() { logger.Close() })

	return NewDispatcher(reg, store, NewSQLExecutor(nil, nil), logger, notebook), reg, store
}

func TestCallToolUnknownNameReturnsToolNotFound(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	_, err := d.CallTool(context.Background(), "", "missing", nil)
	if _, ok := err.(*ToolNotFoundError); !ok {
		t.Fatalf("expected ToolNotFoundError, got %T: %v", err, err)
	}
}

func TestCallToolRunsScriptArtifact(t *testing.T) {
	d, reg, store := newTestDispatcher(t)
	ctx := context.Background()

	body := `package main

import (
	"context"

	"github.com/kestrelmcp/kestrel/pkg/tool"
)

type Greet struct {
	tool.Base
}

func (g *Greet) Run(_ context.Context, c *tool.Context) (any, error) {
	name, _ := c.Arguments["name"].(string)
	return "hello " + name, nil
}
`
	digest, err := store.Put(ctx, body, KindScript)
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.UpsertTool(ctx, &ToolRecord{
		Name: "greet", Persona: DefaultPersona, Description: "d",
		InputSchema: map[string]any{}, ArtifactDigest: digest,
	}); err != nil {
		t.Fatal(err)
	}
	if err := reg.LoadAll(ctx); err != nil {
		t.Fatal(err)
	}

	out, err := d.CallTool(ctx, "", "greet", map[string]any{"name": "world"})
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}
	if out != "hello world" {
		t.Fatalf("unexpected output: %v", out)
	}
}

func TestDispatchUIKindReturnsURLAndWritesFile(t *testing.T) {
	d, reg, store := newTestDispatcher(t)
	ctx := context.Background()

	dir := t.TempDir()
	d.DashboardBaseURL = "http://127.0.0.1:8765"
	d.DashboardStorageDir = dir

	digest, err := store.Put(ctx, "<html>dashboard</html>", KindUI)
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.UpsertTool(ctx, &ToolRecord{
		Name: "board", Persona: DefaultPersona, Description: "d",
		InputSchema: map[string]any{}, ArtifactDigest: digest,
	}); err != nil {
		t.Fatal(err)
	}
	if err := reg.LoadAll(ctx); err != nil {
		t.Fatal(err)
	}

	out, err := d.CallTool(ctx, "", "board", nil)
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}
	want := "http://127.0.0.1:8765/dashboard/board"
	if out != want {
		t.Fatalf("expected dashboard URL %q, got %v", want, out)
	}

	written, err := os.ReadFile(filepath.Join(dir, "board.html"))
	if err != nil {
		t.Fatalf("expected mirrored dashboard file: %v", err)
	}
	if string(written) != "<html>dashboard</html>" {
		t.Fatalf("unexpected mirrored body: %q", written)
	}

	body, err := d.DashboardBody(ctx, "", "board")
	if err != nil {
		t.Fatalf("dashboard body: %v", err)
	}
	if body != "<html>dashboard</html>" {
		t.Fatalf("unexpected dashboard body: %q", body)
	}
}

func TestDashboardBodyRejectsNonUITool(t *testing.T) {
	d, reg, store := newTestDispatcher(t)
	ctx := context.Background()

	digest, err := store.Put(ctx, "SELECT 1", KindSelect)
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.UpsertTool(ctx, &ToolRecord{
		Name: "q", Persona: DefaultPersona, Description: "d",
		InputSchema: map[string]any{}, ArtifactDigest: digest,
	}); err != nil {
		t.Fatal(err)
	}
	if err := reg.LoadAll(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := d.DashboardBody(ctx, "", "q"); err == nil {
		t.Fatal("expected error for non-ui tool")
	}
}
