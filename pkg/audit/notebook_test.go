package audit

import (
	"context"
	"testing"
)

func TestNotebookGetMissingReturnsNotOK(t *testing.T) {
	db := openTestDB(t)
	nb := NewNotebook(db)
	if err := nb.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}

	_, ok, err := nb.Get(context.Background(), SelfCorrectionDomain, "greet")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("expected missing key to report ok=false")
	}
}

func TestNotebookAppendAccumulatesHistory(t *testing.T) {
	db := openTestDB(t)
	nb := NewNotebook(db)
	if err := nb.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	ctx := context.Background()

	if err := nb.Append(ctx, SelfCorrectionDomain, "greet_error", `{"error":"first"}`, "dispatcher"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := nb.Append(ctx, SelfCorrectionDomain, "greet_error", `{"error":"second"}`, "dispatcher"); err != nil {
		t.Fatalf("append again: %v", err)
	}

	value, ok, err := nb.Get(ctx, SelfCorrectionDomain, "greet_error")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("expected value to be present")
	}
	if value != `{"error":"second"}` {
		t.Fatalf("expected latest value to win, got %s", value)
	}

	var historyCount int
	if err := db.QueryRow(`SELECT COUNT(*) FROM notebook_history WHERE domain = ? AND key = ?`, SelfCorrectionDomain, "greet_error").Scan(&historyCount); err != nil {
		t.Fatalf("count history: %v", err)
	}
	if historyCount != 2 {
		t.Fatalf("expected 2 history rows, got %d", historyCount)
	}
}
