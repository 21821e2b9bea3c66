package mcprt

import "context"

// Seed populates an empty registry with the built-in demonstration tools
// named by the testable-property scenarios: a trivial greeter and a
// location lookup whose result feeds a chained greet call.
func Seed(ctx context.Context, reg *Registry, store *ArtifactStore) error {
	empty, err := reg.IsEmpty(ctx)
	if err != nil {
		return err
	}
	if !empty {
		return nil
	}

	seeds := []struct {
		name, description, body string
	}{
		{
			name:        "utility_greet",
			description: "Return a friendly greeting for the given name",
			body: `package main

import (
	"context"

	"github.com/kestrelmcp/kestrel/pkg/tool"
)

type Greet struct {
	tool.Base
}

func (g *Greet) Run(_ context.Context, c *tool.Context) (any, error) {
	name, _ := c.Arguments["name"].(string)
	if name == "" {
		name = "there"
	}
	return "Hello, " + name + "!", nil
}
`,
		},
		{
			name:        "get_location",
			description: "Return a fixed demonstration location record",
			body: `package main

import (
	"context"

	"github.com/kestrelmcp/kestrel/pkg/tool"
)

type Location struct {
	tool.Base
}

func (l *Location) Run(_ context.Context, c *tool.Context) (any, error) {
	return map[string]any{"city": "Springfield", "country": "US"}, nil
}
`,
		},
	}

	for _, s := range seeds {
		digest, err := store.Put(ctx, s.body, KindScript)
		if err != nil {
			return err
		}
		t := &ToolRecord{
			Name:           s.name,
			Persona:        DefaultPersona,
			Description:    s.description,
			InputSchema:    map[string]any{"type": "object", "properties": map[string]any{}},
			ArtifactDigest: digest,
			IsAutoCreated:  false,
			State:          ToolCreated,
		}
		if err := reg.UpsertTool(ctx, t); err != nil {
			return err
		}
	}
	return nil
}
