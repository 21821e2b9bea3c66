package mcprt

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const RegistrySchema = `
CREATE TABLE IF NOT EXISTS tools_registry (
	name TEXT NOT NULL,
	persona TEXT NOT NULL DEFAULT 'default',
	description TEXT NOT NULL,
	input_schema TEXT NOT NULL DEFAULT '{}',
	artifact_digest TEXT NOT NULL REFERENCES artifacts(digest),
	is_auto_created INTEGER NOT NULL DEFAULT 0 CHECK(is_auto_created IN (0,1)),
	tool_group TEXT NOT NULL DEFAULT '',
	manual TEXT,
	state TEXT NOT NULL DEFAULT 'CREATED',
	created_at INTEGER NOT NULL DEFAULT (strftime('%s','now')),
	updated_at INTEGER,
	PRIMARY KEY (name, persona)
);
CREATE INDEX IF NOT EXISTS idx_tools_persona ON tools_registry(persona);

CREATE TABLE IF NOT EXISTS tools_history (
	history_id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	persona TEXT NOT NULL,
	artifact_digest TEXT NOT NULL,
	changed_at INTEGER NOT NULL DEFAULT (strftime('%s','now')),
	change_reason TEXT
);

CREATE TRIGGER IF NOT EXISTS trg_tools_updated_at
AFTER UPDATE ON tools_registry
FOR EACH ROW
BEGIN
	UPDATE tools_registry SET updated_at = strftime('%s','now') WHERE name = NEW.name AND persona = NEW.persona;
END;

CREATE TABLE IF NOT EXISTS resources_registry (
	uri TEXT NOT NULL,
	persona TEXT NOT NULL DEFAULT 'default',
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	mime_type TEXT NOT NULL DEFAULT 'text/plain',
	is_dynamic INTEGER NOT NULL DEFAULT 0 CHECK(is_dynamic IN (0,1)),
	static_body TEXT,
	artifact_digest TEXT REFERENCES artifacts(digest),
	resource_group TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (uri, persona)
);
CREATE INDEX IF NOT EXISTS idx_resources_persona ON resources_registry(persona);

CREATE TABLE IF NOT EXISTS prompts_registry (
	name TEXT NOT NULL,
	persona TEXT NOT NULL DEFAULT 'default',
	description TEXT NOT NULL DEFAULT '',
	template TEXT NOT NULL,
	arguments_schema TEXT NOT NULL DEFAULT '[]',
	prompt_group TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (name, persona)
);
CREATE INDEX IF NOT EXISTS idx_prompts_persona ON prompts_registry(persona);

CREATE TABLE IF NOT EXISTS macros_registry (
	name TEXT PRIMARY KEY,
	description TEXT NOT NULL DEFAULT '',
	template TEXT NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1 CHECK(is_active IN (0,1))
);

CREATE TABLE IF NOT EXISTS icons_registry (
	name TEXT PRIMARY KEY,
	format TEXT NOT NULL CHECK(format IN ('svg','png')),
	body_base64 TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS security_policies (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	rule_type TEXT NOT NULL CHECK(rule_type IN ('allow','deny')),
	category TEXT NOT NULL CHECK(category IN ('module','function','attribute')),
	pattern TEXT NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1 CHECK(is_active IN (0,1)),
	description TEXT NOT NULL DEFAULT ''
);
`

// Registry owns all tool/resource/prompt/macro/icon/policy records. The hot
// path is a lock-guarded in-memory snapshot reloaded wholesale on change,
// generalizing a single-map dynamic-tool cache to all five record kinds.
type Registry struct {
	db    *sql.DB
	store *ArtifactStore

	mu        sync.RWMutex
	tools     map[string]*ToolRecord
	resources map[string]*ResourceRecord
	prompts   map[string]*PromptRecord
	macros    map[string]*MacroRecord
	icons     map[string]*IconRecord
	policies  []*SecurityPolicy

	lastVersion int64
	temp        *temporaryRegistry
}

func NewRegistry(db *sql.DB, store *ArtifactStore) *Registry {
	return &Registry{
		db:        db,
		store:     store,
		tools:     make(map[string]*ToolRecord),
		resources: make(map[string]*ResourceRecord),
		prompts:   make(map[string]*PromptRecord),
		macros:    make(map[string]*MacroRecord),
		icons:     make(map[string]*IconRecord),
		temp:      newTemporaryRegistry(),
	}
}

func (r *Registry) Init() error {
	_, err := r.db.Exec(RegistrySchema)
	return err
}

// IsEmpty reports whether the tools_registry table has no rows, the signal
// the host uses to decide whether to auto-seed on startup.
func (r *Registry) IsEmpty(ctx context.Context) (bool, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tools_registry`).Scan(&count); err != nil {
		return false, err
	}
	return count == 0, nil
}

// LoadAll reloads every in-memory map from the metadata store.
func (r *Registry) LoadAll(ctx context.Context) error {
	tools, err := r.loadTools(ctx)
	if err != nil {
		return fmt.Errorf("load tools: %w", err)
	}
	resources, err := r.loadResources(ctx)
	if err != nil {
		return fmt.Errorf("load resources: %w", err)
	}
	prompts, err := r.loadPrompts(ctx)
	if err != nil {
		return fmt.Errorf("load prompts: %w", err)
	}
	macros, err := r.loadMacros(ctx)
	if err != nil {
		return fmt.Errorf("load macros: %w", err)
	}
	icons, err := r.loadIcons(ctx)
	if err != nil {
		return fmt.Errorf("load icons: %w", err)
	}
	policies, err := r.loadPolicies(ctx)
	if err != nil {
		return fmt.Errorf("load policies: %w", err)
	}

	r.mu.Lock()
	r.tools, r.resources, r.prompts, r.macros, r.icons, r.policies = tools, resources, prompts, macros, icons, policies
	r.mu.Unlock()

	slog.Info("registry reloaded",
		"tools", len(tools), "resources", len(resources), "prompts", len(prompts),
		"macros", len(macros), "icons", len(icons), "policies", len(policies))
	return nil
}

func (r *Registry) loadTools(ctx context.Context) (map[string]*ToolRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, persona, description, input_schema, artifact_digest,
		       is_auto_created, tool_group, manual, state
		FROM tools_registry`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*ToolRecord)
	for rows.Next() {
		var t ToolRecord
		var schemaJSON string
		var manualJSON sql.NullString
		var isAuto int
		if err := rows.Scan(&t.Name, &t.Persona, &t.Description, &schemaJSON, &t.ArtifactDigest,
			&isAuto, &t.Group, &manualJSON, &t.State); err != nil {
			return nil, err
		}
		t.IsAutoCreated = isAuto == 1
		if err := json.Unmarshal([]byte(schemaJSON), &t.InputSchema); err != nil {
			slog.Warn("bad input_schema, skipping tool", "tool", t.Name, "error", err)
			continue
		}
		if manualJSON.Valid && manualJSON.String != "" {
			var m ToolManual
			if err := json.Unmarshal([]byte(manualJSON.String), &m); err == nil {
				t.Manual = &m
			}
		}
		out[tempKey(t.Name, t.Persona)] = &t
	}
	return out, rows.Err()
}

func (r *Registry) loadResources(ctx context.Context) (map[string]*ResourceRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT uri, persona, name, description, mime_type, is_dynamic,
		       COALESCE(static_body,''), COALESCE(artifact_digest,''), resource_group
		FROM resources_registry`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*ResourceRecord)
	for rows.Next() {
		var rr ResourceRecord
		var isDynamic int
		if err := rows.Scan(&rr.URI, &rr.Persona, &rr.Name, &rr.Description, &rr.MimeType, &isDynamic,
			&rr.StaticBody, &rr.ArtifactDigest, &rr.Group); err != nil {
			return nil, err
		}
		rr.IsDynamic = isDynamic == 1
		out[tempKey(rr.URI, rr.Persona)] = &rr
	}
	return out, rows.Err()
}

func (r *Registry) loadPrompts(ctx context.Context) (map[string]*PromptRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, persona, description, template, arguments_schema, prompt_group FROM prompts_registry`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*PromptRecord)
	for rows.Next() {
		var p PromptRecord
		var argsJSON string
		if err := rows.Scan(&p.Name, &p.Persona, &p.Description, &p.Template, &argsJSON, &p.Group); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(argsJSON), &p.ArgumentsSchema)
		out[tempKey(p.Name, p.Persona)] = &p
	}
	return out, rows.Err()
}

func (r *Registry) loadMacros(ctx context.Context) (map[string]*MacroRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, description, template, is_active FROM macros_registry WHERE is_active = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*MacroRecord)
	for rows.Next() {
		var m MacroRecord
		var active int
		if err := rows.Scan(&m.Name, &m.Description, &m.Template, &active); err != nil {
			return nil, err
		}
		m.IsActive = active == 1
		out[m.Name] = &m
	}
	return out, rows.Err()
}

func (r *Registry) loadIcons(ctx context.Context) (map[string]*IconRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, format, body_base64 FROM icons_registry`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*IconRecord)
	for rows.Next() {
		var ic IconRecord
		if err := rows.Scan(&ic.Name, &ic.Format, &ic.BodyBase64); err != nil {
			return nil, err
		}
		out[ic.Name] = &ic
	}
	return out, rows.Err()
}

func (r *Registry) loadPolicies(ctx context.Context) ([]*SecurityPolicy, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, rule_type, category, pattern, is_active, description FROM security_policies WHERE is_active = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SecurityPolicy
	for rows.Next() {
		var p SecurityPolicy
		var active int
		if err := rows.Scan(&p.ID, &p.RuleType, &p.Category, &p.Pattern, &active, &p.Description); err != nil {
			return nil, err
		}
		p.IsActive = active == 1
		out = append(out, &p)
	}
	return out, rows.Err()
}

// ListTools returns every ToolRecord (persistent + temporary) matching
// persona, ordered by group then name.
func (r *Registry) ListTools(persona string) []*ToolRecord {
	r.mu.RLock()
	var out []*ToolRecord
	for _, t := range r.tools {
		if t.Persona == persona {
			out = append(out, t)
		}
	}
	r.mu.RUnlock()

	r.temp.mu.RLock()
	for _, t := range r.temp.tools {
		if t.Persona == persona {
			out = append(out, t)
		}
	}
	r.temp.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Group != out[j].Group {
			return out[i].Group < out[j].Group
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (r *Registry) ListResources(persona string) []*ResourceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*ResourceRecord
	for _, rr := range r.resources {
		if rr.Persona == persona {
			out = append(out, rr)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Group != out[j].Group {
			return out[i].Group < out[j].Group
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (r *Registry) ListPrompts(persona string) []*PromptRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*PromptRecord
	for _, p := range r.prompts {
		if p.Persona == persona {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Group != out[j].Group {
			return out[i].Group < out[j].Group
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Snapshot is a full, persona-unfiltered copy of the persistent registry, the
// shape the spec exporter walks to build a round-trippable document.
type Snapshot struct {
	Tools     []*ToolRecord
	Resources []*ResourceRecord
	Prompts   []*PromptRecord
	Macros    []*MacroRecord
}

// Snapshot returns every persistent record regardless of persona. Temporary
// tools/resources are excluded: they are process-local and never persisted,
// so they have no place in an exported spec.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := &Snapshot{}
	for _, t := range r.tools {
		snap.Tools = append(snap.Tools, t)
	}
	for _, rr := range r.resources {
		snap.Resources = append(snap.Resources, rr)
	}
	for _, p := range r.prompts {
		snap.Prompts = append(snap.Prompts, p)
	}
	for _, m := range r.macros {
		snap.Macros = append(snap.Macros, m)
	}
	sort.Slice(snap.Tools, func(i, j int) bool { return snap.Tools[i].Persona+snap.Tools[i].Name < snap.Tools[j].Persona+snap.Tools[j].Name })
	sort.Slice(snap.Resources, func(i, j int) bool { return snap.Resources[i].Persona+snap.Resources[i].URI < snap.Resources[j].Persona+snap.Resources[j].URI })
	sort.Slice(snap.Prompts, func(i, j int) bool { return snap.Prompts[i].Persona+snap.Prompts[i].Name < snap.Prompts[j].Persona+snap.Prompts[j].Name })
	sort.Slice(snap.Macros, func(i, j int) bool { return snap.Macros[i].Name < snap.Macros[j].Name })
	return snap
}

// GetTool resolves (name, persona) against the temporary registry first,
// then the persistent one, so a temp tool always shadows a persistent one
// of the same name.
func (r *Registry) GetTool(name, persona string) (*ToolRecord, bool) {
	r.temp.mu.RLock()
	if t, ok := r.temp.tools[tempKey(name, persona)]; ok {
		r.temp.mu.RUnlock()
		return t, true
	}
	r.temp.mu.RUnlock()

	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[tempKey(name, persona)]
	return t, ok
}

func (r *Registry) GetResource(uri, persona string) (*ResourceRecord, bool) {
	r.temp.mu.RLock()
	if rr, ok := r.temp.resources[tempKey(uri, persona)]; ok {
		r.temp.mu.RUnlock()
		return rr, true
	}
	r.temp.mu.RUnlock()

	r.mu.RLock()
	defer r.mu.RUnlock()
	rr, ok := r.resources[tempKey(uri, persona)]
	return rr, ok
}

func (r *Registry) GetPrompt(name, persona string) (*PromptRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.prompts[tempKey(name, persona)]
	return p, ok
}

// IsTempTool reports whether (name, persona) resolves against the
// process-local temporary registry, the signal the SQL executor uses to
// apply the temp-tool row cap.
func (r *Registry) IsTempTool(name, persona string) bool {
	r.temp.mu.RLock()
	defer r.temp.mu.RUnlock()
	_, ok := r.temp.tools[tempKey(name, persona)]
	return ok
}

// ActiveMacros returns the active macro set ordered by name, the same
// order they are concatenated into the macro prelude.
func (r *Registry) ActiveMacros() []*MacroRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*MacroRecord, 0, len(r.macros))
	for _, m := range r.macros {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ActivePolicies returns the active SecurityPolicy set. An empty result
// signals "apply built-in defaults" per the data model invariant.
func (r *Registry) ActivePolicies() []*SecurityPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*SecurityPolicy, len(r.policies))
	copy(out, r.policies)
	return out
}

// UpsertTool checks that the referenced digest is present in the artifact
// store, writes the row through to the metadata store (in its own statement,
// not a transaction shared with the artifact write), then refreshes the
// in-memory map immediately (no waiting on the poll).
func (r *Registry) UpsertTool(ctx context.Context, t *ToolRecord) error {
	if _, err := r.store.Get(ctx, t.ArtifactDigest); err != nil {
		return fmt.Errorf("upsert tool %s: %w", t.Name, err)
	}
	schemaJSON, err := json.Marshal(t.InputSchema)
	if err != nil {
		return err
	}
	var manualJSON sql.NullString
	if t.Manual != nil {
		b, err := json.Marshal(t.Manual)
		if err != nil {
			return err
		}
		manualJSON = sql.NullString{String: string(b), Valid: true}
	}
	if t.State == "" {
		t.State = ToolCreated
	}
	isAuto := 0
	if t.IsAutoCreated {
		isAuto = 1
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO tools_registry (name, persona, description, input_schema, artifact_digest, is_auto_created, tool_group, manual, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name, persona) DO UPDATE SET
			description = excluded.description,
			input_schema = excluded.input_schema,
			artifact_digest = excluded.artifact_digest,
			tool_group = excluded.tool_group,
			manual = excluded.manual,
			state = excluded.state`,
		t.Name, t.Persona, t.Description, string(schemaJSON), t.ArtifactDigest, isAuto, t.Group, manualJSON, t.State)
	if err != nil {
		return fmt.Errorf("upsert tool %s: %w", t.Name, err)
	}

	r.mu.Lock()
	r.tools[tempKey(t.Name, t.Persona)] = t
	r.mu.Unlock()
	return nil
}

// UpsertResource enforces the static-xor-dynamic invariant before writing through.
func (r *Registry) UpsertResource(ctx context.Context, rr *ResourceRecord) error {
	if rr.IsDynamic == (rr.StaticBody != "") {
		return fmt.Errorf("upsert resource %s: exactly one of static_body/artifact_digest must be set", rr.URI)
	}
	if rr.IsDynamic {
		if _, err := r.store.Get(ctx, rr.ArtifactDigest); err != nil {
			return fmt.Errorf("upsert resource %s: %w", rr.URI, err)
		}
	}
	isDynamic := 0
	if rr.IsDynamic {
		isDynamic = 1
	}
	var digest, static sql.NullString
	if rr.ArtifactDigest != "" {
		digest = sql.NullString{String: rr.ArtifactDigest, Valid: true}
	}
	if rr.StaticBody != "" {
		static = sql.NullString{String: rr.StaticBody, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO resources_registry (uri, persona, name, description, mime_type, is_dynamic, static_body, artifact_digest, resource_group)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uri, persona) DO UPDATE SET
			name = excluded.name, description = excluded.description, mime_type = excluded.mime_type,
			is_dynamic = excluded.is_dynamic, static_body = excluded.static_body,
			artifact_digest = excluded.artifact_digest, resource_group = excluded.resource_group`,
		rr.URI, rr.Persona, rr.Name, rr.Description, rr.MimeType, isDynamic, static, digest, rr.Group)
	if err != nil {
		return fmt.Errorf("upsert resource %s: %w", rr.URI, err)
	}

	r.mu.Lock()
	r.resources[tempKey(rr.URI, rr.Persona)] = rr
	r.mu.Unlock()
	return nil
}

func (r *Registry) UpsertPrompt(ctx context.Context, p *PromptRecord) error {
	argsJSON, err := json.Marshal(p.ArgumentsSchema)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO prompts_registry (name, persona, description, template, arguments_schema, prompt_group)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name, persona) DO UPDATE SET
			description = excluded.description, template = excluded.template,
			arguments_schema = excluded.arguments_schema, prompt_group = excluded.prompt_group`,
		p.Name, p.Persona, p.Description, p.Template, string(argsJSON), p.Group)
	if err != nil {
		return fmt.Errorf("upsert prompt %s: %w", p.Name, err)
	}

	r.mu.Lock()
	r.prompts[tempKey(p.Name, p.Persona)] = p
	r.mu.Unlock()
	return nil
}

func (r *Registry) UpsertMacro(ctx context.Context, m *MacroRecord) error {
	active := 1
	if !m.IsActive {
		active = 0
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO macros_registry (name, description, template, is_active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET description = excluded.description, template = excluded.template, is_active = excluded.is_active`,
		m.Name, m.Description, m.Template, active)
	if err != nil {
		return fmt.Errorf("upsert macro %s: %w", m.Name, err)
	}

	r.mu.Lock()
	if m.IsActive {
		r.macros[m.Name] = m
	} else {
		delete(r.macros, m.Name)
	}
	r.mu.Unlock()
	return nil
}

// CreateTempTool registers t in the process-local temporary registry only.
func (r *Registry) CreateTempTool(t *ToolRecord) {
	r.temp.mu.Lock()
	r.temp.tools[tempKey(t.Name, t.Persona)] = t
	r.temp.mu.Unlock()
}

func (r *Registry) CreateTempResource(rr *ResourceRecord) {
	r.temp.mu.Lock()
	r.temp.resources[tempKey(rr.URI, rr.Persona)] = rr
	r.temp.mu.Unlock()
}

// RunWatcher polls PRAGMA data_version and reloads the registry on change,
// the same hot-reload mechanism the single-table dynamic-tool registry this
// is grounded on uses, generalized across all five record kinds.
func (r *Registry) RunWatcher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("registry watcher started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("registry watcher stopped")
			return
		case <-ticker.C:
			var ver int64
			if err := r.db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&ver); err != nil {
				slog.Warn("data_version poll failed", "error", err)
				continue
			}
			if ver != r.lastVersion && r.lastVersion != 0 {
				slog.Info("registry change detected, reloading")
				if err := r.LoadAll(ctx); err != nil {
					slog.Error("reload failed", "error", err)
				}
			}
			r.lastVersion = ver
		}
	}
}
