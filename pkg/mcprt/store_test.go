package mcprt

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestArtifactStorePutIsContentAddressed(t *testing.T) {
	db := openTestDB(t)
	store := NewArtifactStore(db)
	if err := store.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}

	ctx := context.Background()
	d1, err := store.Put(ctx, "hello", KindScript)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	d2, err := store.Put(ctx, "hello", KindScript)
	if err != nil {
		t.Fatalf("put again: %v", err)
	}
	if d1 != d2 {
		t.Fatalf("expected idempotent digest, got %s and %s", d1, d2)
	}
	if d1 != Digest("hello") {
		t.Fatalf("digest mismatch: got %s, want %s", d1, Digest("hello"))
	}
}

func TestArtifactStoreGetMissing(t *testing.T) {
	db := openTestDB(t)
	store := NewArtifactStore(db)
	if err := store.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}

	_, err := store.Get(context.Background(), "deadbeef")
	var missing *ArtifactMissingError
	if !asMissing(err, &missing) {
		t.Fatalf("expected ArtifactMissingError, got %v", err)
	}
}

func asMissing(err error, target **ArtifactMissingError) bool {
	if e, ok := err.(*ArtifactMissingError); ok {
		*target = e
		return true
	}
	return false
}

func TestVerifyDetectsCorruption(t *testing.T) {
	a := &Artifact{Digest: Digest("original"), Body: "original", Kind: KindScript}
	if err := Verify(a); err != nil {
		t.Fatalf("expected verify to pass, got %v", err)
	}

	a.Body = "tampered"
	if err := Verify(a); err == nil {
		t.Fatal("expected verify to fail on tampered body")
	}
}

func TestArtifactStoreAllListsEverything(t *testing.T) {
	db := openTestDB(t)
	store := NewArtifactStore(db)
	if err := store.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}

	ctx := context.Background()
	if _, err := store.Put(ctx, "one", KindScript); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Put(ctx, "two", KindSelect); err != nil {
		t.Fatal(err)
	}

	all, err := store.All(ctx)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(all))
	}
}
