package mcprt

import (
	"context"
	"testing"
)

func newTestRegistry(t *testing.T) (*Registry, *ArtifactStore) {
	t.Helper()
	db := openTestDB(t)
	store := NewArtifactStore(db)
	reg := NewRegistry(db, store)
	if err := store.Init(); err != nil {
		t.Fatalf("init store: %v", err)
	}
	if err := reg.Init(); err != nil {
		t.Fatalf("init registry: %v", err)
	}
	return reg, store
}

func TestRegistryIsEmptyBeforeAndAfterSeed(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	empty, err := reg.IsEmpty(ctx)
	if err != nil {
		t.Fatalf("is empty: %v", err)
	}
	if !empty {
		t.Fatal("expected fresh registry to be empty")
	}

	digest, err := store.Put(ctx, "package main", KindScript)
	if err != nil {
		t.Fatal(err)
	}
	err = reg.UpsertTool(ctx, &ToolRecord{
		Name: "t1", Persona: DefaultPersona, Description: "d",
		InputSchema: map[string]any{}, ArtifactDigest: digest,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	empty, err = reg.IsEmpty(ctx)
	if err != nil {
		t.Fatalf("is empty after upsert: %v", err)
	}
	if empty {
		t.Fatal("expected registry to be non-empty after upsert")
	}
}

func TestRegistryUpsertRejectsMissingArtifact(t *testing.T) {
	reg, _ := newTestRegistry(t)
	err := reg.UpsertTool(context.Background(), &ToolRecord{
		Name: "t1", Persona: DefaultPersona, Description: "d",
		InputSchema: map[string]any{}, ArtifactDigest: "does-not-exist",
	})
	if err == nil {
		t.Fatal("expected error for unresolvable artifact digest")
	}
}

func TestRegistryLoadAllPopulatesInMemoryMap(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	digest, err := store.Put(ctx, "package main", KindScript)
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.UpsertTool(ctx, &ToolRecord{
		Name: "t1", Persona: DefaultPersona, Description: "d",
		InputSchema: map[string]any{}, ArtifactDigest: digest,
	}); err != nil {
		t.Fatal(err)
	}

	fresh := NewRegistry(reg.db, store)
	if err := fresh.LoadAll(ctx); err != nil {
		t.Fatalf("load all: %v", err)
	}
	if _, ok := fresh.GetTool("t1", DefaultPersona); !ok {
		t.Fatal("expected t1 to be loaded")
	}
}

func TestRegistryTempToolResolvesAheadOfPersistent(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	digest, err := store.Put(ctx, "package main", KindScript)
	if err != nil {
		t.Fatal(err)
	}
	persistent := &ToolRecord{Name: "shared", Persona: DefaultPersona, Description: "persisted", ArtifactDigest: digest, InputSchema: map[string]any{}}
	if err := reg.UpsertTool(ctx, persistent); err != nil {
		t.Fatal(err)
	}

	temp := &ToolRecord{Name: "shared", Persona: DefaultPersona, Description: "temporary", ArtifactDigest: digest, InputSchema: map[string]any{}}
	reg.CreateTempTool(temp)

	got, ok := reg.GetTool("shared", DefaultPersona)
	if !ok {
		t.Fatal("expected shared to resolve")
	}
	if got.Description != "temporary" {
		t.Fatalf("expected temp tool to win resolution, got description %q", got.Description)
	}
}

func TestRegistrySnapshotIsPersonaUnfiltered(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	digest, err := store.Put(ctx, "package main", KindScript)
	if err != nil {
		t.Fatal(err)
	}
	for _, persona := range []string{"default", "ops"} {
		if err := reg.UpsertTool(ctx, &ToolRecord{
			Name: "t", Persona: persona, Description: "d",
			InputSchema: map[string]any{}, ArtifactDigest: digest,
		}); err != nil {
			t.Fatal(err)
		}
	}

	snap := reg.Snapshot()
	if len(snap.Tools) != 2 {
		t.Fatalf("expected 2 tools across personas, got %d", len(snap.Tools))
	}
}
