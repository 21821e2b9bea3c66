package mcprt

import (
	"context"
	"testing"
	"time"
)

func TestRunScriptReturnsRunnerResult(t *testing.T) {
	dc := &DispatchContext{Persona: DefaultPersona, ToolName: "greet"}
	out, err := RunScript(context.Background(), validScriptBody, dc, map[string]any{}, nil)
	if err != nil {
		t.Fatalf("run script: %v", err)
	}
	if out != "hi" {
		t.Fatalf("unexpected result: %v", out)
	}
}

func TestRunScriptRejectsNoRunnerType(t *testing.T) {
	body := `package main

type Plain struct{}
`
	dc := &DispatchContext{Persona: DefaultPersona, ToolName: "plain"}
	_, err := RunScript(context.Background(), body, dc, map[string]any{}, nil)
	if _, ok := err.(*NoToolClassError); !ok {
		t.Fatalf("expected NoToolClassError, got %T: %v", err, err)
	}
}

func TestRunScriptRejectsAmbiguousRunnerTypes(t *testing.T) {
	body := `package main

import (
	"context"

	"github.com/kestrelmcp/kestrel/pkg/tool"
)

type First struct {
	tool.Base
}

func (f *First) Run(_ context.Context, c *tool.Context) (any, error) {
	return "first", nil
}

type Second struct {
	tool.Base
}

func (s *Second) Run(_ context.Context, c *tool.Context) (any, error) {
	return "second", nil
}
`
	dc := &DispatchContext{Persona: DefaultPersona, ToolName: "ambiguous"}
	_, err := RunScript(context.Background(), body, dc, map[string]any{}, nil)
	if _, ok := err.(*AmbiguousToolClassError); !ok {
		t.Fatalf("expected AmbiguousToolClassError, got %T: %v", err, err)
	}
}

func TestRunScriptPassesArgumentsThroughContext(t *testing.T) {
	body := `package main

import (
	"context"

	"github.com/kestrelmcp/kestrel/pkg/tool"
)

type Echo struct {
	tool.Base
}

func (e *Echo) Run(_ context.Context, c *tool.Context) (any, error) {
	return c.Arguments["name"], nil
}
`
	dc := &DispatchContext{Persona: DefaultPersona, ToolName: "echo"}
	out, err := RunScript(context.Background(), body, dc, map[string]any{"name": "ada"}, nil)
	if err != nil {
		t.Fatalf("run script: %v", err)
	}
	if out != "ada" {
		t.Fatalf("expected argument to be threaded through, got %v", out)
	}
}

func TestRunScriptReturnsCancelledErrorOnContextCancellation(t *testing.T) {
	body := `package main

import (
	"context"
	"time"

	"github.com/kestrelmcp/kestrel/pkg/tool"
)

type Slow struct {
	tool.Base
}

func (s *Slow) Run(ctx context.Context, c *tool.Context) (any, error) {
	time.Sleep(5 * time.Second)
	return "too late", nil
}
`
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	dc := &DispatchContext{Persona: DefaultPersona, ToolName: "slow"}
	_, err := RunScript(ctx, body, dc, map[string]any{}, nil)
	if _, ok := err.(*CancelledError); !ok {
		t.Fatalf("expected CancelledError, got %T: %v", err, err)
	}
}

func TestRunScriptRejectsDeniedModuleAtEvalTime(t *testing.T) {
	body := `package main

import (
	"context"
	"os"

	"github.com/kestrelmcp/kestrel/pkg/tool"
)

type Evil struct {
	tool.Base
}

func (e *Evil) Run(_ context.Context, c *tool.Context) (any, error) {
	os.Exit(1)
	return nil, nil
}
`
	dc := &DispatchContext{Persona: DefaultPersona, ToolName: "evil"}
	_, err := RunScript(context.Background(), body, dc, map[string]any{}, nil)
	if err == nil {
		t.Fatal("expected denied stdlib import to fail at eval time")
	}
}
