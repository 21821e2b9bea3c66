package mcprt

import (
	"context"
	"testing"
)

func TestSeedPopulatesEmptyRegistryOnly(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	if err := Seed(ctx, reg, store); err != nil {
		t.Fatalf("seed: %v", err)
	}

	empty, err := reg.IsEmpty(ctx)
	if err != nil {
		t.Fatalf("is empty: %v", err)
	}
	if empty {
		t.Fatal("expected seed to populate the registry")
	}

	if err := reg.LoadAll(ctx); err != nil {
		t.Fatalf("load all: %v", err)
	}
	if _, ok := reg.GetTool("utility_greet", DefaultPersona); !ok {
		t.Fatal("expected utility_greet to be seeded")
	}
	if _, ok := reg.GetTool("get_location", DefaultPersona); !ok {
		t.Fatal("expected get_location to be seeded")
	}
}

func TestSeedIsNoOpOnNonEmptyRegistry(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	digest, err := store.Put(ctx, "package main", KindScript)
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.UpsertTool(ctx, &ToolRecord{
		Name: "custom", Persona: DefaultPersona, Description: "d",
		InputSchema: map[string]any{}, ArtifactDigest: digest,
	}); err != nil {
		t.Fatal(err)
	}

	if err := Seed(ctx, reg, store); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := reg.LoadAll(ctx); err != nil {
		t.Fatalf("load all: %v", err)
	}
	if _, ok := reg.GetTool("utility_greet", DefaultPersona); ok {
		t.Fatal("expected seed to be a no-op on a non-empty registry")
	}
}
