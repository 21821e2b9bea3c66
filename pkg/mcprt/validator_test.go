package mcprt

import "testing"

const validScriptBody = `package main

import (
	"context"

	"github.com/kestrelmcp/kestrel/pkg/tool"
)

type Greet struct {
	tool.Base
}

func (g *Greet) Run(_ context.Context, c *tool.Context) (any, error) {
	return "hi", nil
}
`

func TestValidateScriptAcceptsTypeAndMethodOnly(t *testing.T) {
	if err := ValidateScript(validScriptBody, nil); err != nil {
		t.Fatalf("expected valid script to pass, got %v", err)
	}
}

func TestValidateScriptRejectsTopLevelFunc(t *testing.T) {
	body := `package main

func helper() {}
`
	if err := ValidateScript(body, nil); err == nil {
		t.Fatal("expected top-level function without receiver to be rejected")
	}
}

func TestValidateScriptRejectsDeniedModule(t *testing.T) {
	body := `package main

import "os"

type T struct{}

func (t *T) Run() { os.Exit(1) }
`
	err := ValidateScript(body, nil)
	if err == nil {
		t.Fatal("expected denied module import to be rejected")
	}
	var pv *PolicyViolationError
	if e, ok := err.(*PolicyViolationError); ok {
		pv = e
	}
	if pv == nil {
		t.Fatalf("expected PolicyViolationError, got %T: %v", err, err)
	}
	if pv.Category != CategoryModule {
		t.Fatalf("expected module category, got %s", pv.Category)
	}
}

func TestValidateScriptAllowListOverridesBuiltinDeny(t *testing.T) {
	body := `package main

import "net"

type T struct{}

func (t *T) Run() { _ = net.Dial }
`
	allow := []*SecurityPolicy{{RuleType: RuleAllow, Category: CategoryModule, Pattern: "net", IsActive: true}}
	if err := ValidateScript(body, allow); err != nil {
		t.Fatalf("expected explicit allow rule to override builtin deny, got %v", err)
	}
}

func TestValidateSQLRejectsWriteKeyword(t *testing.T) {
	if err := ValidateSQL("DELETE FROM users"); err == nil {
		t.Fatal("expected write keyword to be rejected")
	}
}

func TestValidateSQLAcceptsSelect(t *testing.T) {
	if err := ValidateSQL("SELECT * FROM users WHERE id = :id"); err != nil {
		t.Fatalf("expected select to pass, got %v", err)
	}
}

func TestValidateSQLRejectsMultipleStatements(t *testing.T) {
	if err := ValidateSQL("SELECT 1; SELECT 2"); err == nil {
		t.Fatal("expected multiple statements to be rejected")
	}
}

func TestValidateDDLRequiresDDLKeyword(t *testing.T) {
	if err := ValidateDDL("SELECT 1"); err == nil {
		t.Fatal("expected non-DDL statement to be rejected")
	}
	if err := ValidateDDL("CREATE TABLE t (id INTEGER)"); err != nil {
		t.Fatalf("expected CREATE TABLE to pass, got %v", err)
	}
}
