package specio

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/kestrelmcp/kestrel/pkg/mcprt"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedOneOfEach(t *testing.T, ctx context.Context, reg *mcprt.Registry, store *mcprt.ArtifactStore) {
	t.Helper()

	scriptDigest, err := store.Put(ctx, "package main", mcprt.KindScript)
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.UpsertTool(ctx, &mcprt.ToolRecord{
		Name: "greet", Persona: mcprt.DefaultPersona, Description: "d",
		InputSchema: map[string]any{}, ArtifactDigest: scriptDigest,
	}); err != nil {
		t.Fatal(err)
	}

	selectDigest, err := store.Put(ctx, "SELECT 1", mcprt.KindSelect)
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.UpsertResource(ctx, &mcprt.ResourceRecord{
		URI: "res://one", Persona: mcprt.DefaultPersona, Name: "one",
		IsDynamic: true, ArtifactDigest: selectDigest, MimeType: "application/json",
	}); err != nil {
		t.Fatal(err)
	}

	if err := reg.UpsertPrompt(ctx, &mcprt.PromptRecord{
		Name: "p1", Persona: mcprt.DefaultPersona, Description: "d", Template: "hi {name}",
	}); err != nil {
		t.Fatal(err)
	}

	if err := reg.UpsertMacro(ctx, &mcprt.MacroRecord{
		Name: "m1", Description: "d", Template: "-- macro", IsActive: true,
	}); err != nil {
		t.Fatal(err)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()

	srcDB := openTestDB(t)
	srcStore := mcprt.NewArtifactStore(srcDB)
	srcReg := mcprt.NewRegistry(srcDB, srcStore)
	if err := srcStore.Init(); err != nil {
		t.Fatal(err)
	}
	if err := srcReg.Init(); err != nil {
		t.Fatal(err)
	}
	seedOneOfEach(t, ctx, srcReg, srcStore)
	if err := srcReg.LoadAll(ctx); err != nil {
		t.Fatal(err)
	}

	data, err := Export(ctx, srcReg, srcStore)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	dstDB := openTestDB(t)
	dstStore := mcprt.NewArtifactStore(dstDB)
	dstReg := mcprt.NewRegistry(dstDB, dstStore)
	if err := dstStore.Init(); err != nil {
		t.Fatal(err)
	}
	if err := dstReg.Init(); err != nil {
		t.Fatal(err)
	}

	if err := Import(ctx, data, dstReg, dstStore); err != nil {
		t.Fatalf("import: %v", err)
	}
	if err := dstReg.LoadAll(ctx); err != nil {
		t.Fatal(err)
	}

	srcArtifacts, err := srcStore.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	dstArtifacts, err := dstStore.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(srcArtifacts) != len(dstArtifacts) {
		t.Fatalf("expected %d artifacts after import, got %d", len(srcArtifacts), len(dstArtifacts))
	}

	tool, ok := dstReg.GetTool("greet", mcprt.DefaultPersona)
	if !ok {
		t.Fatal("expected greet tool to round-trip")
	}
	if tool.ArtifactDigest == "" {
		t.Fatal("expected tool to keep its artifact digest")
	}

	if _, ok := dstReg.GetResource("res://one", mcprt.DefaultPersona); !ok {
		t.Fatal("expected resource to round-trip")
	}
	if _, ok := dstReg.GetPrompt("p1", mcprt.DefaultPersona); !ok {
		t.Fatal("expected prompt to round-trip")
	}

	macros := dstReg.ActiveMacros()
	if len(macros) != 1 || macros[0].Name != "m1" {
		t.Fatalf("expected macro m1 to round-trip, got %+v", macros)
	}
}
