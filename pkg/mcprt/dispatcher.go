package mcprt

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kestrelmcp/kestrel/internal/kit"
	"github.com/kestrelmcp/kestrel/pkg/audit"
)

// AutoBuildPrefix marks a listed tool's description as having been created
// by a meta-tool rather than hand-authored, so clients can tell the two
// apart at a glance without a separate field.
const AutoBuildPrefix = "[AUTO-BUILD] "

// DefaultPersona is the persona every call falls back to when none is
// resolvable from context. Persona resolution never fails a call.
const DefaultPersona = "default"

func resolvePersona(persona string) string {
	if persona == "" {
		return DefaultPersona
	}
	return persona
}

// MetaToolFunc is the shape every meta-tool implements.
type MetaToolFunc func(ctx context.Context, d *Dispatcher, persona string, arguments map[string]any) (any, error)

// Dispatcher resolves a (name, persona) call to an artifact, routes to the
// matching executor, and records the outcome.
type Dispatcher struct {
	Registry *Registry
	Store    *ArtifactStore
	SQL      *SQLExecutor
	Logger   audit.Logger
	Notebook *audit.Notebook

	// DashboardBaseURL is the dashboard listener's externally reachable
	// address (the configured port plus one, e.g. "http://127.0.0.1:8766"). Dispatching a ui-kind tool
	// never runs its body; it returns DashboardBaseURL + "/dashboard/" +
	// tool name for the dashboard HTTP adapter to serve.
	DashboardBaseURL string

	// DashboardStorageDir, when non-empty, receives a copy of every
	// dispatched ui-kind artifact's body, named after its tool. The
	// dashboard HTTP adapter does not read these files; it serves bodies
	// through DashboardBody.
	DashboardStorageDir string

	meta map[string]MetaToolFunc
}

func NewDispatcher(registry *Registry, store *ArtifactStore, sqlExec *SQLExecutor, logger audit.Logger, notebook *audit.Notebook) *Dispatcher {
	return &Dispatcher{
		Registry: registry,
		Store:    store,
		SQL:      sqlExec,
		Logger:   logger,
		Notebook: notebook,
		meta:     make(map[string]MetaToolFunc),
	}
}

// RegisterMetaTool wires one of the privileged built-in tools into the name
// space CallTool checks before the registry.
func (d *Dispatcher) RegisterMetaTool(name string, fn MetaToolFunc) {
	d.meta[name] = fn
}

// ListTools returns the persona's tool catalog with the auto-build marker
// applied to every auto-created tool's description.
func (d *Dispatcher) ListTools(persona string) []*ToolRecord {
	persona = resolvePersona(persona)
	records := d.Registry.ListTools(persona)
	out := make([]*ToolRecord, len(records))
	for i, t := range records {
		cp := *t
		if cp.IsAutoCreated && !strings.HasPrefix(cp.Description, AutoBuildPrefix) {
			cp.Description = AutoBuildPrefix + cp.Description
		}
		out[i] = &cp
	}
	return out
}

func (d *Dispatcher) ListResources(persona string) []*ResourceRecord {
	return d.Registry.ListResources(resolvePersona(persona))
}

func (d *Dispatcher) ListPrompts(persona string) []*PromptRecord {
	return d.Registry.ListPrompts(resolvePersona(persona))
}

// CallTool resolves name against meta-tools first, then the registry
// (temporary before persistent, per GetTool), validates and executes the
// underlying artifact, and audits the outcome regardless of success.
func (d *Dispatcher) CallTool(ctx context.Context, persona, name string, arguments map[string]any) (any, error) {
	persona = resolvePersona(persona)

	if fn, ok := d.meta[name]; ok {
		return d.audited(ctx, persona, name, arguments, func() (any, error) {
			return fn(ctx, d, persona, arguments)
		})
	}

	t, ok := d.Registry.GetTool(name, persona)
	if !ok {
		err := &ToolNotFoundError{Name: name, Persona: persona}
		_ = d.Logger.Log(ctx, &audit.Entry{Action: name, UserID: kit.GetUserID(ctx), RequestID: kit.GetRequestID(ctx), Error: err.Error(), Status: "error"})
		return nil, err
	}

	return d.audited(ctx, persona, name, arguments, func() (any, error) {
		return d.dispatchTool(ctx, persona, t, arguments)
	})
}

// audited runs fn, writes one ExecutionLog entry synchronously regardless of
// outcome, and on failure appends a timestamped line to the tool's
// self-correction notebook entry so a follow-up call can read back its
// errors. A failure of a cancelled call is recorded as a CancelledError.
func (d *Dispatcher) audited(ctx context.Context, persona, name string, arguments map[string]any, fn func() (any, error)) (any, error) {
	if ctx.Err() != nil {
		return nil, &CancelledError{Cause: ctx.Err()}
	}

	start := time.Now()
	out, err := fn()
	if err != nil && ctx.Err() != nil {
		err = &CancelledError{Cause: ctx.Err()}
	}

	entry := &audit.Entry{
		Action:     name,
		Transport:  kit.GetTransport(ctx),
		UserID:     kit.GetUserID(ctx),
		RequestID:  kit.GetRequestID(ctx),
		DurationMs: time.Since(start).Milliseconds(),
	}
	if params, e := json.Marshal(arguments); e == nil {
		entry.Parameters = string(params)
	}
	if err != nil {
		entry.Error = err.Error()
		entry.Status = "error"
		if note, e := json.Marshal(map[string]any{"tool": name, "persona": persona, "error": err.Error()}); e == nil {
			nctx := context.WithoutCancel(ctx)
			line := time.Now().UTC().Format(time.RFC3339) + " " + string(note)
			if prev, ok, _ := d.Notebook.Get(nctx, audit.SelfCorrectionDomain, name+"_error"); ok {
				line = prev + "\n" + line
			}
			_ = d.Notebook.Append(nctx, audit.SelfCorrectionDomain, name+"_error", line, "dispatcher")
		}
	} else {
		entry.Status = "success"
		if result, e := json.Marshal(out); e == nil {
			entry.Result = string(result)
		}
	}
	_ = d.Logger.Log(ctx, entry)

	if ctx.Err() != nil && err != nil {
		return nil, err
	}
	return out, err
}

// dispatchTool fetches and verifies the artifact referenced by t and routes
// to the matching executor.
func (d *Dispatcher) dispatchTool(ctx context.Context, persona string, t *ToolRecord, arguments map[string]any) (any, error) {
	artifact, err := d.Store.Get(ctx, t.ArtifactDigest)
	if err != nil {
		return nil, err
	}
	if err := Verify(artifact); err != nil {
		return nil, err
	}

	dc := &DispatchContext{
		Persona:  persona,
		ToolName: t.Name,
		SubExec: func(ctx context.Context, name string, args map[string]any) (string, error) {
			out, err := d.CallTool(ctx, persona, name, args)
			if err != nil {
				return "", err
			}
			b, err := json.Marshal(out)
			return string(b), err
		},
	}

	switch artifact.Kind {
	case KindSelect:
		isTemp := d.Registry.IsTempTool(t.Name, persona)
		return d.SQL.Execute(ctx, artifact.Body, arguments, d.Registry.ActiveMacros(), isTemp)
	case KindScript:
		if err := ValidateScript(artifact.Body, d.Registry.ActivePolicies()); err != nil {
			return nil, err
		}
		return RunScript(ctx, artifact.Body, dc, arguments, d.Registry.ActivePolicies())
	case KindUI:
		d.writeDashboardFile(t.Name, artifact.Body)
		return d.DashboardBaseURL + "/dashboard/" + t.Name, nil
	default:
		return nil, &InvalidStructureError{Reason: "unknown artifact kind " + string(artifact.Kind)}
	}
}

// GetResource resolves a resource URI against the persona's registry and
// returns its body: the static body verbatim, or the rendered/executed
// result of its backing artifact for a dynamic resource.
func (d *Dispatcher) GetResource(ctx context.Context, persona, uri string) (body, mimeType string, err error) {
	persona = resolvePersona(persona)
	rr, ok := d.Registry.GetResource(uri, persona)
	if !ok {
		return "", "", &ToolNotFoundError{Name: uri, Persona: persona}
	}
	if !rr.IsDynamic {
		return rr.StaticBody, rr.MimeType, nil
	}

	artifact, err := d.Store.Get(ctx, rr.ArtifactDigest)
	if err != nil {
		return "", "", err
	}
	if err := Verify(artifact); err != nil {
		return "", "", err
	}

	switch artifact.Kind {
	case KindSelect:
		rows, err := d.SQL.Execute(ctx, artifact.Body, map[string]any{}, d.Registry.ActiveMacros(), false)
		if err != nil {
			return "", "", err
		}
		b, err := json.Marshal(rows)
		return string(b), rr.MimeType, err
	case KindScript:
		if err := ValidateScript(artifact.Body, d.Registry.ActivePolicies()); err != nil {
			return "", "", err
		}
		dc := &DispatchContext{Persona: persona, ToolName: rr.Name}
		out, err := RunScript(ctx, artifact.Body, dc, map[string]any{}, d.Registry.ActivePolicies())
		if err != nil {
			return "", "", err
		}
		b, err := json.Marshal(out)
		return string(b), rr.MimeType, err
	default:
		return "", "", &InvalidStructureError{Reason: "dynamic resource artifact must be select or script kind"}
	}
}

// writeDashboardFile persists body to DashboardStorageDir/name.html as a copy
// of the tool's stored body. Write failures are discarded and
// not logged, so dispatch does not fail just because the mirror write did.
func (d *Dispatcher) writeDashboardFile(name, body string) {
	if d.DashboardStorageDir == "" {
		return
	}
	path := filepath.Join(d.DashboardStorageDir, name+".html")
	_ = os.MkdirAll(d.DashboardStorageDir, 0o755)
	_ = os.WriteFile(path, []byte(body), 0o644)
}

// DashboardBody resolves the stored ui-kind body for name, the call the
// dashboard HTTP adapter makes when a client follows a dashboard URL this
// Dispatcher handed out.
func (d *Dispatcher) DashboardBody(ctx context.Context, persona, name string) (string, error) {
	persona = resolvePersona(persona)
	t, ok := d.Registry.GetTool(name, persona)
	if !ok {
		return "", &ToolNotFoundError{Name: name, Persona: persona}
	}
	artifact, err := d.Store.Get(ctx, t.ArtifactDigest)
	if err != nil {
		return "", err
	}
	if artifact.Kind != KindUI {
		return "", &InvalidStructureError{Reason: name + " is not a dashboard tool"}
	}
	return artifact.Body, nil
}

// GetPrompt resolves and renders a prompt template.
func (d *Dispatcher) GetPrompt(ctx context.Context, persona, name string, arguments map[string]any) (string, error) {
	persona = resolvePersona(persona)
	p, ok := d.Registry.GetPrompt(name, persona)
	if !ok {
		return "", &ToolNotFoundError{Name: name, Persona: persona}
	}
	return RenderPrompt(p, arguments)
}

// RunWorkflow composes CallTool invocations into a validated chain.
func (d *Dispatcher) RunWorkflow(ctx context.Context, persona string, steps []Step) *ChainReport {
	persona = resolvePersona(persona)
	return RunChain(ctx, persona, steps, func(ctx context.Context, persona, tool string, args map[string]any) (any, error) {
		return d.CallTool(ctx, persona, tool, args)
	})
}
