// Package mcprt is the dynamic dispatch, validation, and execution engine:
// the subsystem that turns a registry row plus a call argument bag into a
// validated, executed, and audited result. Its tool, resource, and prompt
// catalog lives in the metadata database rather than in source files.
package mcprt

import (
	"context"
	"sync"
)

// ArtifactKind tags the three shapes a stored code/SQL blob can take.
type ArtifactKind string

const (
	KindScript ArtifactKind = "script"
	KindSelect ArtifactKind = "select"
	KindUI     ArtifactKind = "ui"
)

// Artifact is a content-addressed, immutable blob. Its digest is the
// SHA-256 hex digest of its body; bodies are written once and never mutated
// — updating a tool changes the digest it references, never the blob.
type Artifact struct {
	Digest string
	Body   string
	Kind   ArtifactKind
}

// ManualExample is one worked usage example attached to a ToolRecord's manual.
type ManualExample struct {
	Input            map[string]any `json:"input"`
	ExpectedSummary  string         `json:"expected_summary"`
	Verified         bool           `json:"verified"`
}

// ToolManual carries human- and agent-facing documentation for a tool,
// updated by the system_update_manual meta-tool and checked by
// system_verify_tool.
type ToolManual struct {
	UsageGuide string          `json:"usage_guide,omitempty"`
	Examples   []ManualExample `json:"examples,omitempty"`
	Pitfalls   []string        `json:"pitfalls,omitempty"`
	ErrorCodes []string        `json:"error_codes,omitempty"`
}

// ToolState is the visible lifecycle state of an auto-created tool.
type ToolState string

const (
	ToolCreated  ToolState = "CREATED"
	ToolVerified ToolState = "VERIFIED"
	ToolUpdated  ToolState = "UPDATED"
)

// ToolRecord describes one dispatchable tool within one persona namespace.
type ToolRecord struct {
	Name           string
	Persona        string
	Description    string
	InputSchema    map[string]any
	ArtifactDigest string
	IsAutoCreated  bool
	Group          string
	Manual         *ToolManual
	State          ToolState
}

// ResourceRecord describes one dispatchable resource. Exactly one of
// StaticBody / ArtifactDigest is populated, mirroring the static-xor-dynamic
// invariant in the data model.
type ResourceRecord struct {
	URI            string
	Persona        string
	Name           string
	Description    string
	MimeType       string
	IsDynamic      bool
	StaticBody     string
	ArtifactDigest string
	Group          string
}

// PromptRecord describes one dispatchable prompt template.
type PromptRecord struct {
	Name            string
	Persona         string
	Description     string
	Template        string
	ArgumentsSchema []PromptArgument
	Group           string
}

type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// MacroRecord is one reusable SQL template macro definition.
type MacroRecord struct {
	Name        string
	Description string
	Template    string
	IsActive    bool
}

// IconRecord is a small embedded image referenced by tools/resources.
type IconRecord struct {
	Name       string
	Format     string // "svg" or "png"
	BodyBase64 string
}

// PolicyRuleType and PolicyCategory enumerate the SecurityPolicy shape.
type PolicyRuleType string
type PolicyCategory string

const (
	RuleAllow PolicyRuleType = "allow"
	RuleDeny  PolicyRuleType = "deny"

	CategoryModule    PolicyCategory = "module"
	CategoryFunction  PolicyCategory = "function"
	CategoryAttribute PolicyCategory = "attribute"
)

// SecurityPolicy is one allow/deny rule consulted by the script validator.
type SecurityPolicy struct {
	ID          int64
	RuleType    PolicyRuleType
	Category    PolicyCategory
	Pattern     string
	IsActive    bool
	Description string
}

// DispatchContext is the capability set injected into every dispatched call:
// the persona and tool name under which the call is running, and the
// sub-executor closure that is the sole mechanism by which one tool may
// invoke another.
type DispatchContext struct {
	Persona   string
	ToolName  string
	SubExec   SubExecutor
}

// SubExecutor re-enters call_tool with the same persona and meta-session.
type SubExecutor func(ctx context.Context, name string, arguments map[string]any) (string, error)

// temporaryRegistry holds the process-local, never-persisted shadow
// registries for temp tools and temp resources (Design Note: global
// process-local registries as explicit lock-guarded maps, not ambient
// globals).
type temporaryRegistry struct {
	mu        sync.RWMutex
	tools     map[string]*ToolRecord
	resources map[string]*ResourceRecord
}

func newTemporaryRegistry() *temporaryRegistry {
	return &temporaryRegistry{
		tools:     make(map[string]*ToolRecord),
		resources: make(map[string]*ResourceRecord),
	}
}

func tempKey(name, persona string) string { return persona + "\x00" + name }
