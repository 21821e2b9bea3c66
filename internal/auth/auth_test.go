package auth

import (
	"net/http"
	"testing"
	"time"
)

func TestIssueAndValidateToken(t *testing.T) {
	a := New("test-secret", 60)
	tok, err := a.IssueToken("ops")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	claims, err := a.ValidateToken(tok)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Persona != "ops" {
		t.Fatalf("persona = %q, want ops", claims.Persona)
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	a := New("test-secret", 60)
	tok, err := a.IssueToken("ops")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	other := New("other-secret", 60)
	if _, err := other.ValidateToken(tok); err == nil {
		t.Fatal("expected validation failure with mismatched secret")
	}
}

func TestValidateTokenExpired(t *testing.T) {
	a := New("test-secret", -1)
	tok, err := a.IssueToken("ops")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := a.ValidateToken(tok); err == nil {
		t.Fatal("expected expired token to fail validation")
	}
}

func TestExtractClaims(t *testing.T) {
	a := New("test-secret", 60)
	tok, err := a.IssueToken("analyst")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, "/dashboard/x", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	claims := a.ExtractClaims(req)
	if claims == nil || claims.Persona != "analyst" {
		t.Fatalf("ExtractClaims = %+v, want persona analyst", claims)
	}

	reqNoAuth, _ := http.NewRequest(http.MethodGet, "/dashboard/x", nil)
	if c := a.ExtractClaims(reqNoAuth); c != nil {
		t.Fatalf("expected nil claims without Authorization header, got %+v", c)
	}

	reqBadScheme, _ := http.NewRequest(http.MethodGet, "/dashboard/x", nil)
	reqBadScheme.Header.Set("Authorization", "Basic "+tok)
	if c := a.ExtractClaims(reqBadScheme); c != nil {
		t.Fatalf("expected nil claims for non-bearer scheme, got %+v", c)
	}
}
