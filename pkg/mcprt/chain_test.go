package mcprt

import (
	"context"
	"testing"
)

func TestRunChainRejectsForwardReference(t *testing.T) {
	steps := []Step{
		{ID: "a", Tool: "t1", Args: map[string]any{"x": "${b}"}},
		{ID: "b", Tool: "t2", Args: map[string]any{}},
	}
	report := RunChain(context.Background(), "", steps, func(ctx context.Context, persona, tool string, args map[string]any) (any, error) {
		t.Fatal("dispatch should not run when validation fails")
		return nil, nil
	})
	if !report.Failed {
		t.Fatal("expected chain to fail on forward reference")
	}
}

func TestRunChainRejectsDuplicateIDs(t *testing.T) {
	steps := []Step{
		{ID: "a", Tool: "t1"},
		{ID: "a", Tool: "t2"},
	}
	report := RunChain(context.Background(), "", steps, func(ctx context.Context, persona, tool string, args map[string]any) (any, error) {
		t.Fatal("dispatch should not run when validation fails")
		return nil, nil
	})
	if !report.Failed {
		t.Fatal("expected chain to fail on duplicate step id")
	}
}

func TestRunChainSubstitutesPriorStepOutput(t *testing.T) {
	steps := []Step{
		{ID: "loc", Tool: "get_location", Args: map[string]any{}},
		{ID: "greet", Tool: "utility_greet", Args: map[string]any{"name": "${loc.city}"}},
	}

	var seenArgs map[string]any
	report := RunChain(context.Background(), "", steps, func(ctx context.Context, persona, tool string, args map[string]any) (any, error) {
		if tool == "get_location" {
			return map[string]any{"city": "Springfield"}, nil
		}
		seenArgs = args
		return "hello " + args["name"].(string), nil
	})

	if report.Failed {
		t.Fatalf("expected chain to succeed, steps: %+v", report.Steps)
	}
	if seenArgs["name"] != "Springfield" {
		t.Fatalf("expected substituted city, got %v", seenArgs["name"])
	}
	if report.Results["greet"] != "hello Springfield" {
		t.Fatalf("unexpected final result: %v", report.Results["greet"])
	}
}

func TestRunChainStopsOnFirstFailure(t *testing.T) {
	steps := []Step{
		{ID: "a", Tool: "fails"},
		{ID: "b", Tool: "never_runs"},
	}
	called := false
	report := RunChain(context.Background(), "", steps, func(ctx context.Context, persona, tool string, args map[string]any) (any, error) {
		if tool == "never_runs" {
			called = true
		}
		return nil, &ToolNotFoundError{Name: tool}
	})
	if !report.Failed {
		t.Fatal("expected chain to fail")
	}
	if called {
		t.Fatal("expected chain to halt after first failure")
	}
	if len(report.Steps) != 1 {
		t.Fatalf("expected exactly 1 step report, got %d", len(report.Steps))
	}
}
