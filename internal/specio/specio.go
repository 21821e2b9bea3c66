// Package specio is the YAML spec loader/exporter: a thin adapter that
// snapshots the registry and artifact store into a portable document and
// reloads one back, so that exporting and then importing yields a
// byte-equivalent artifact set and a row-equivalent registry, modulo
// ordering of multi-valued columns.
package specio

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/kestrelmcp/kestrel/pkg/mcprt"
)

// Document is the on-disk shape of an exported spec: every artifact body
// keyed by its own digest, plus the registry rows that reference them.
type Document struct {
	Artifacts []ArtifactDoc          `yaml:"artifacts"`
	Tools     []mcprt.ToolRecord     `yaml:"tools"`
	Resources []mcprt.ResourceRecord `yaml:"resources"`
	Prompts   []mcprt.PromptRecord   `yaml:"prompts"`
	Macros    []mcprt.MacroRecord    `yaml:"macros"`
}

// ArtifactDoc mirrors mcprt.Artifact; kept as its own type so the YAML tags
// don't leak into the runtime struct.
type ArtifactDoc struct {
	Digest string             `yaml:"digest"`
	Kind   mcprt.ArtifactKind `yaml:"kind"`
	Body   string             `yaml:"body"`
}

// Export snapshots the full registry and every artifact it references into a
// Document and marshals it to YAML.
func Export(ctx context.Context, reg *mcprt.Registry, store *mcprt.ArtifactStore) ([]byte, error) {
	snap := reg.Snapshot()
	artifacts, err := store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}

	doc := Document{Macros: derefMacros(snap.Macros)}
	for _, a := range artifacts {
		doc.Artifacts = append(doc.Artifacts, ArtifactDoc{Digest: a.Digest, Kind: a.Kind, Body: a.Body})
	}
	for _, t := range snap.Tools {
		doc.Tools = append(doc.Tools, *t)
	}
	for _, r := range snap.Resources {
		doc.Resources = append(doc.Resources, *r)
	}
	for _, p := range snap.Prompts {
		doc.Prompts = append(doc.Prompts, *p)
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshaling spec: %w", err)
	}
	return out, nil
}

// Import decodes data and upserts every artifact and registry row it
// contains. Put derives each artifact's digest from its body and ignores the
// recorded digest, so an artifact whose body was tampered with in transit
// lands under a different digest than the one its referencing rows expect —
// callers should Verify affected tools before trusting a freshly imported
// spec.
func Import(ctx context.Context, data []byte, reg *mcprt.Registry, store *mcprt.ArtifactStore) error {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing spec: %w", err)
	}

	for _, a := range doc.Artifacts {
		if _, err := store.Put(ctx, a.Body, a.Kind); err != nil {
			return fmt.Errorf("importing artifact %s: %w", a.Digest, err)
		}
	}
	for _, m := range doc.Macros {
		m := m
		if err := reg.UpsertMacro(ctx, &m); err != nil {
			return fmt.Errorf("importing macro %s: %w", m.Name, err)
		}
	}
	for _, t := range doc.Tools {
		t := t
		if err := reg.UpsertTool(ctx, &t); err != nil {
			return fmt.Errorf("importing tool %s: %w", t.Name, err)
		}
	}
	for _, r := range doc.Resources {
		r := r
		if err := reg.UpsertResource(ctx, &r); err != nil {
			return fmt.Errorf("importing resource %s: %w", r.URI, err)
		}
	}
	for _, p := range doc.Prompts {
		p := p
		if err := reg.UpsertPrompt(ctx, &p); err != nil {
			return fmt.Errorf("importing prompt %s: %w", p.Name, err)
		}
	}
	return nil
}

func derefMacros(in []*mcprt.MacroRecord) []mcprt.MacroRecord {
	out := make([]mcprt.MacroRecord, len(in))
	for i, m := range in {
		out[i] = *m
	}
	return out
}
