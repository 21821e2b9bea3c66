package mcprt

import "testing"

func TestRenderSQLRendersJinjaConditionalWhenArgumentPresent(t *testing.T) {
	body := "SELECT * FROM users WHERE id = :id {% if hasKey arguments \"active\" %}AND active = 1{% endif %}"
	out, err := RenderSQL(body, map[string]any{"id": 1, "active": true}, nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !contains(out, "AND active = 1") {
		t.Fatalf("expected conditional branch to render, got %q", out)
	}
}

func TestRenderSQLOmitsConditionalWhenArgumentAbsent(t *testing.T) {
	body := "SELECT 1 {% if hasKey arguments \"active\" %}AND active = 1{% endif %}"
	out, err := RenderSQL(body, map[string]any{}, nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if contains(out, "AND active = 1") {
		t.Fatalf("expected conditional branch to be omitted, got %q", out)
	}
}

func TestRenderSQLPrependsActiveMacrosInOrder(t *testing.T) {
	macros := []*MacroRecord{
		{Name: "m1", Template: "-- macro one", IsActive: true},
		{Name: "m2", Template: "-- macro two", IsActive: true},
	}
	out, err := RenderSQL("SELECT 1", nil, macros)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	i1 := indexOf(out, "macro one")
	i2 := indexOf(out, "macro two")
	if i1 < 0 || i2 < 0 || i1 > i2 {
		t.Fatalf("expected macros to appear in textual order, got %q", out)
	}
}

func TestRenderPromptRequiresDeclaredArgument(t *testing.T) {
	p := &PromptRecord{
		Template:        "Hello {name}",
		ArgumentsSchema: []PromptArgument{{Name: "name", Required: true}},
	}
	if _, err := RenderPrompt(p, map[string]any{}); err == nil {
		t.Fatal("expected missing required argument to fail")
	}

	out, err := RenderPrompt(p, map[string]any{"name": "Ada"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "Hello Ada" {
		t.Fatalf("unexpected render: %q", out)
	}
}

func TestRenderPromptMultiplePlaceholders(t *testing.T) {
	p := &PromptRecord{
		Template: "{greeting}, {name}!",
	}
	out, err := RenderPrompt(p, map[string]any{"greeting": "Hi", "name": "Ada"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "Hi, Ada!" {
		t.Fatalf("unexpected render: %q", out)
	}
}

func contains(s, sub string) bool { return indexOf(s, sub) >= 0 }

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
