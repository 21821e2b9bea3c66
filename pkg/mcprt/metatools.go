package mcprt

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/kestrelmcp/kestrel/pkg/audit"
)

// RegisterBuiltins wires every privileged meta-tool into d. Callers invoke
// these exactly like any dynamic tool, through CallTool.
func RegisterBuiltins(d *Dispatcher) {
	d.RegisterMetaTool("create_new_sql_tool", createNewSQLTool)
	d.RegisterMetaTool("create_new_prompt", createNewPrompt)
	d.RegisterMetaTool("create_new_resource", createNewResource)
	d.RegisterMetaTool("create_temp_tool", createTempTool)
	d.RegisterMetaTool("create_temp_resource", createTempResource)
	d.RegisterMetaTool("register_macro", registerMacro)
	d.RegisterMetaTool("create_dashboard", createDashboard)
	d.RegisterMetaTool("system_update_manual", systemUpdateManual)
	d.RegisterMetaTool("system_inspect_tool", systemInspectTool)
	d.RegisterMetaTool("system_verify_tool", systemVerifyTool)
	d.RegisterMetaTool("get_last_error", getLastError)
	d.RegisterMetaTool("reconnect_db", reconnectDB)
	d.RegisterMetaTool("test_db_connection", testDBConnection)
	d.RegisterMetaTool("execute_workflow", executeWorkflow)
	d.RegisterMetaTool("general_merge_tool", generalMergeTool)
	d.RegisterMetaTool("execute_ddl_tool", executeDDLTool)
}

func argString(args map[string]any, key string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func argBool(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func argMap(args map[string]any, key string) map[string]any {
	if v, ok := args[key].(map[string]any); ok {
		return v
	}
	return map[string]any{}
}

// nextToolState advances the CREATED -> VERIFIED -> UPDATED lifecycle for a
// tool being (re)created with newDigest. Re-pointing a verified (or
// already-updated) tool at a new artifact moves it to UPDATED rather than
// regressing it back to CREATED; an unverified tool or an unchanged digest
// keeps its current state.
func nextToolState(existing *ToolRecord, newDigest string) ToolState {
	if existing == nil {
		return ToolCreated
	}
	if existing.ArtifactDigest == newDigest {
		return existing.State
	}
	if existing.State == ToolVerified || existing.State == ToolUpdated {
		return ToolUpdated
	}
	return ToolCreated
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// relaxedSQLPrecheck validates a tool body as-written, before it has been
// rendered through the template engine: {% %} control blocks are stripped
// first since they are not yet valid SQL syntax on their own.
func relaxedSQLPrecheck(body string) error {
	stripped := strings.NewReplacer("{%", "", "%}", "").Replace(rewriteTemplateSyntax(body))
	return ValidateSQL(stripped)
}

// schemaFromParameters synthesizes a JSON-schema-shaped input_schema from
// the meta-tool's {name: {type, description, required}} parameter map.
func schemaFromParameters(parameters map[string]any) map[string]any {
	properties := map[string]any{}
	var required []string
	for name, spec := range parameters {
		specMap, _ := spec.(map[string]any)
		prop := map[string]any{
			"type":        specMap["type"],
			"description": specMap["description"],
		}
		properties[name] = prop
		if req, _ := specMap["required"].(bool); req {
			required = append(required, name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// createNewSQLTool implements the generated-tool contract: a validation
// failure is returned as a descriptive result string, never as a raised
// error, matching the source's own generated-tool error convention.
func createNewSQLTool(ctx context.Context, d *Dispatcher, persona string, arguments map[string]any) (any, error) {
	name := argString(arguments, "tool_name")
	description := argString(arguments, "description")
	body := argString(arguments, "sql_query")
	parameters := argMap(arguments, "parameters")

	if err := relaxedSQLPrecheck(body); err != nil {
		msg := fmt.Sprintf("Error: %s (query: %s)", err.Error(), truncate(body, 200))
		logSoftFailure(ctx, d, "create_new_sql_tool", arguments, msg)
		return msg, nil
	}

	digest, err := d.Store.Put(ctx, body, KindSelect)
	if err != nil {
		return nil, err
	}
	existing, _ := d.Registry.GetTool(name, DefaultPersona)
	t := &ToolRecord{
		Name:           name,
		Persona:        DefaultPersona,
		Description:    description,
		InputSchema:    schemaFromParameters(parameters),
		ArtifactDigest: digest,
		IsAutoCreated:  true,
		State:          nextToolState(existing, digest),
	}
	if err := d.Registry.UpsertTool(ctx, t); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Tool %q created (digest %s)", name, digest[:12]), nil
}

func createNewPrompt(ctx context.Context, d *Dispatcher, persona string, arguments map[string]any) (any, error) {
	p := &PromptRecord{
		Name:        argString(arguments, "name"),
		Persona:     DefaultPersona,
		Description: argString(arguments, "description"),
		Template:    argString(arguments, "template"),
	}
	if argsSchema, ok := arguments["arguments_schema"].([]any); ok {
		for _, raw := range argsSchema {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			p.ArgumentsSchema = append(p.ArgumentsSchema, PromptArgument{
				Name:        argString(m, "name"),
				Description: argString(m, "description"),
				Required:    argBool(m, "required"),
			})
		}
	}
	if err := d.Registry.UpsertPrompt(ctx, p); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Prompt %q created", p.Name), nil
}

func createNewResource(ctx context.Context, d *Dispatcher, persona string, arguments map[string]any) (any, error) {
	rr := &ResourceRecord{
		URI:         argString(arguments, "uri"),
		Persona:     DefaultPersona,
		Name:        argString(arguments, "name"),
		Description: argString(arguments, "description"),
		MimeType:    argString(arguments, "mime_type"),
		IsDynamic:   false,
		StaticBody:  argString(arguments, "body"),
	}
	if rr.MimeType == "" {
		rr.MimeType = "text/plain"
	}
	if err := d.Registry.UpsertResource(ctx, rr); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Resource %q created", rr.URI), nil
}

func createTempTool(ctx context.Context, d *Dispatcher, persona string, arguments map[string]any) (any, error) {
	name := argString(arguments, "tool_name")
	body := argString(arguments, "sql_query")
	if err := relaxedSQLPrecheck(body); err != nil {
		msg := fmt.Sprintf("Error: %s (query: %s)", err.Error(), truncate(body, 200))
		logSoftFailure(ctx, d, "create_temp_tool", arguments, msg)
		return msg, nil
	}
	digest, err := d.Store.Put(ctx, body, KindSelect)
	if err != nil {
		return nil, err
	}
	existing, _ := d.Registry.GetTool(name, persona)
	t := &ToolRecord{
		Name:           name,
		Persona:        persona,
		Description:    argString(arguments, "description"),
		InputSchema:    schemaFromParameters(argMap(arguments, "parameters")),
		ArtifactDigest: digest,
		IsAutoCreated:  true,
		State:          nextToolState(existing, digest),
	}
	d.Registry.CreateTempTool(t)
	return fmt.Sprintf("Temp tool %q created for persona %q", name, persona), nil
}

func createTempResource(ctx context.Context, d *Dispatcher, persona string, arguments map[string]any) (any, error) {
	rr := &ResourceRecord{
		URI:         argString(arguments, "uri"),
		Persona:     persona,
		Name:        argString(arguments, "name"),
		Description: argString(arguments, "description"),
		MimeType:    argString(arguments, "mime_type"),
		StaticBody:  argString(arguments, "body"),
	}
	if rr.MimeType == "" {
		rr.MimeType = "text/plain"
	}
	d.Registry.CreateTempResource(rr)
	return fmt.Sprintf("Temp resource %q created for persona %q", rr.URI, persona), nil
}

const (
	macroOpenToken  = "{% macro"
	macroCloseToken = "{% endmacro %}"
)

func registerMacro(ctx context.Context, d *Dispatcher, persona string, arguments map[string]any) (any, error) {
	body := argString(arguments, "template")
	trimmed := strings.TrimSpace(body)
	if !strings.HasPrefix(trimmed, macroOpenToken) || !strings.HasSuffix(trimmed, macroCloseToken) {
		return fmt.Sprintf("Error: macro body must start with %q and end with %q", macroOpenToken, macroCloseToken), nil
	}
	m := &MacroRecord{
		Name:        argString(arguments, "name"),
		Description: argString(arguments, "description"),
		Template:    body,
		IsActive:    true,
	}
	if err := d.Registry.UpsertMacro(ctx, m); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Macro %q registered", m.Name), nil
}

// createDashboard stores a ui-kind artifact and registers a ToolRecord for
// it under the default persona; dispatching a ui tool returns a URL rather
// than running the body.
func createDashboard(ctx context.Context, d *Dispatcher, persona string, arguments map[string]any) (any, error) {
	name := argString(arguments, "tool_name")
	body := argString(arguments, "html")
	digest, err := d.Store.Put(ctx, body, KindUI)
	if err != nil {
		return nil, err
	}
	existing, _ := d.Registry.GetTool(name, DefaultPersona)
	t := &ToolRecord{
		Name:           name,
		Persona:        DefaultPersona,
		Description:    argString(arguments, "description"),
		InputSchema:    map[string]any{"type": "object", "properties": map[string]any{}},
		ArtifactDigest: digest,
		IsAutoCreated:  true,
		State:          nextToolState(existing, digest),
	}
	if err := d.Registry.UpsertTool(ctx, t); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Dashboard tool %q created (digest %s)", name, digest[:12]), nil
}

func systemUpdateManual(ctx context.Context, d *Dispatcher, persona string, arguments map[string]any) (any, error) {
	name := argString(arguments, "tool_name")
	mode := argString(arguments, "mode")
	t, ok := d.Registry.GetTool(name, DefaultPersona)
	if !ok {
		return nil, &ToolNotFoundError{Name: name, Persona: DefaultPersona}
	}
	incoming := &ToolManual{}
	if raw, err := json.Marshal(arguments["manual"]); err == nil {
		_ = json.Unmarshal(raw, incoming)
	}

	if t.Manual == nil || mode == "replace" {
		t.Manual = incoming
	} else {
		if incoming.UsageGuide != "" {
			t.Manual.UsageGuide = incoming.UsageGuide
		}
		t.Manual.Examples = append(t.Manual.Examples, incoming.Examples...)
		t.Manual.Pitfalls = append(t.Manual.Pitfalls, incoming.Pitfalls...)
		t.Manual.ErrorCodes = append(t.Manual.ErrorCodes, incoming.ErrorCodes...)
	}
	for i := range t.Manual.Examples {
		t.Manual.Examples[i].Verified = false
	}
	if err := d.Registry.UpsertTool(ctx, t); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Manual for %q updated (%s)", name, mode), nil
}

func systemInspectTool(ctx context.Context, d *Dispatcher, persona string, arguments map[string]any) (any, error) {
	name := argString(arguments, "tool_name")
	t, ok := d.Registry.GetTool(name, DefaultPersona)
	if !ok {
		return nil, &ToolNotFoundError{Name: name, Persona: DefaultPersona}
	}
	return t, nil
}

func systemVerifyTool(ctx context.Context, d *Dispatcher, persona string, arguments map[string]any) (any, error) {
	name := argString(arguments, "tool_name")
	t, ok := d.Registry.GetTool(name, DefaultPersona)
	if !ok {
		return nil, &ToolNotFoundError{Name: name, Persona: DefaultPersona}
	}
	if t.Manual == nil {
		return "no manual examples to verify", nil
	}
	allVerified := true
	for i, ex := range t.Manual.Examples {
		out, err := d.CallTool(ctx, DefaultPersona, name, ex.Input)
		summary := fmt.Sprintf("%v", out)
		verified := err == nil && summary == ex.ExpectedSummary
		t.Manual.Examples[i].Verified = verified
		if !verified {
			allVerified = false
		}
	}
	if allVerified && len(t.Manual.Examples) > 0 {
		t.State = ToolVerified
	}
	if err := d.Registry.UpsertTool(ctx, t); err != nil {
		return nil, err
	}
	return t.Manual, nil
}

func getLastError(ctx context.Context, d *Dispatcher, persona string, arguments map[string]any) (any, error) {
	filter := argString(arguments, "tool_name")
	querier, ok := d.Logger.(interface {
		LastFailure(context.Context, string) (*audit.Entry, error)
	})
	if !ok {
		return "get_last_error is unavailable: audit logger does not support querying", nil
	}
	entry, err := querier.LastFailure(ctx, filter)
	if err != nil {
		return "no recorded failures", nil
	}
	return fmt.Sprintf("[%d] tool=%s status=%s error=%s args=%s",
		entry.Timestamp, entry.Action, entry.Status, entry.Error, entry.Parameters), nil
}

// reconnectDB opens a fresh data-session against dsn and swaps it in,
// observable to every subsequent dispatched call. The prior connection is
// closed once the swap succeeds.
func reconnectDB(ctx context.Context, d *Dispatcher, persona string, arguments map[string]any) (any, error) {
	dsn := argString(arguments, "dsn")
	if dsn == "" {
		return nil, fmt.Errorf("reconnect_db requires a dsn argument")
	}
	newDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := newDB.PingContext(ctx); err != nil {
		newDB.Close()
		return nil, err
	}
	old := d.SQL.data
	d.SQL.SetData(newDB)
	if old != nil {
		old.Close()
	}
	return "reconnected", nil
}

func testDBConnection(ctx context.Context, d *Dispatcher, persona string, arguments map[string]any) (any, error) {
	if !d.SQL.Available() {
		return "offline: no data-session open", nil
	}
	return "ok", nil
}

func executeWorkflow(ctx context.Context, d *Dispatcher, persona string, arguments map[string]any) (any, error) {
	rawSteps, _ := arguments["steps"].([]any)
	steps := make([]Step, 0, len(rawSteps))
	for _, raw := range rawSteps {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		steps = append(steps, Step{
			ID:   argString(m, "id"),
			Tool: argString(m, "tool"),
			Args: argMap(m, "args"),
		})
	}
	return d.RunWorkflow(ctx, persona, steps), nil
}

func generalMergeTool(ctx context.Context, d *Dispatcher, persona string, arguments map[string]any) (any, error) {
	table := argString(arguments, "table")
	var keyCols, valueCols []string
	if raw, ok := arguments["key_columns"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				keyCols = append(keyCols, s)
			}
		}
	}
	if raw, ok := arguments["value_columns"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				valueCols = append(valueCols, s)
			}
		}
	}
	stmt, err := BuildMergeSQL(d.SQL.Dialect(), table, keyCols, valueCols)
	if err != nil {
		return nil, err
	}
	values := argMap(arguments, "values")
	if err := d.SQL.ExecuteWrite(ctx, stmt, values); err != nil {
		return nil, err
	}
	return fmt.Sprintf("merged into %s", table), nil
}

func executeDDLTool(ctx context.Context, d *Dispatcher, persona string, arguments map[string]any) (any, error) {
	confirm := argString(arguments, "confirm")
	if confirm != "YES" {
		return "Error: execute_ddl_tool requires confirm=\"YES\"", nil
	}
	body := argString(arguments, "ddl")
	if err := d.SQL.ExecuteDDL(ctx, body); err != nil {
		return nil, err
	}
	return "ddl executed", nil
}

func logSoftFailure(ctx context.Context, d *Dispatcher, action string, arguments map[string]any, message string) {
	params, _ := json.Marshal(arguments)
	d.Logger.LogAsync(&audit.Entry{
		Action:     action,
		Parameters: string(params),
		Error:      message,
		Status:     "error",
	})
}
