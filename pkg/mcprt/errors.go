package mcprt

import "fmt"

// ToolNotFoundError is raised when a (name, persona) pair resolves against
// neither the temporary nor the persistent registry.
type ToolNotFoundError struct {
	Name    string
	Persona string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %s (persona=%s)", e.Name, e.Persona)
}

// ArtifactMissingError is raised when a ToolRecord/ResourceRecord references
// a digest absent from the Artifact Store.
type ArtifactMissingError struct{ Digest string }

func (e *ArtifactMissingError) Error() string {
	return fmt.Sprintf("artifact missing: %s", e.Digest)
}

// ArtifactCorruptError is raised when a recomputed digest does not match
// the stored one.
type ArtifactCorruptError struct{ Digest, Recomputed string }

func (e *ArtifactCorruptError) Error() string {
	return fmt.Sprintf("artifact corrupt: stored digest %s, recomputed %s", e.Digest, e.Recomputed)
}

// InvalidStructureError is raised by the script validator when the artifact
// fails to parse or its top level contains anything besides imports, type
// declarations, and methods on a type.
type InvalidStructureError struct{ Reason string }

func (e *InvalidStructureError) Error() string { return "invalid structure: " + e.Reason }

// NotReadOnlyError is raised when a rendered SQL statement contains a
// write-category keyword.
type NotReadOnlyError struct{ Keyword string }

func (e *NotReadOnlyError) Error() string { return "not read-only: forbidden keyword " + e.Keyword }

// MultipleStatementsError is raised when a rendered SQL statement contains
// an interior statement terminator.
type MultipleStatementsError struct{}

func (e *MultipleStatementsError) Error() string { return "multiple statements in one artifact" }

// PolicyViolationError is raised when a script artifact's import/call/
// selector matches an active deny policy.
type PolicyViolationError struct {
	Category PolicyCategory
	Pattern  string
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("policy violation: %s %q", e.Category, e.Pattern)
}

// DataBackendUnavailableError is raised when a select-kind dispatch is
// attempted with no data session open (offline mode).
type DataBackendUnavailableError struct{}

func (e *DataBackendUnavailableError) Error() string { return "data backend unavailable" }

// MissingArgumentError is raised by prompt rendering when a required
// argument is absent from the argument bag.
type MissingArgumentError struct{ Name string }

func (e *MissingArgumentError) Error() string { return "missing required argument: " + e.Name }

// DuplicateStepIdError is raised by chain DAG validation.
type DuplicateStepIdError struct{ ID string }

func (e *DuplicateStepIdError) Error() string { return "duplicate step id: " + e.ID }

// ForwardReferenceError is raised by chain DAG validation when a step
// references an id that is unknown or does not appear at a strictly
// earlier position.
type ForwardReferenceError struct {
	StepIndex int
	StepID    string
	Referent  string
}

func (e *ForwardReferenceError) Error() string {
	return fmt.Sprintf("step %d (%s) references %s out of order or unknown", e.StepIndex, e.StepID, e.Referent)
}

// FieldNotFoundError is raised when a ${id.path} substitution navigates
// through a missing field.
type FieldNotFoundError struct {
	StepID string
	Path   string
}

func (e *FieldNotFoundError) Error() string {
	return fmt.Sprintf("field not found: %s.%s", e.StepID, e.Path)
}

// NoToolClassError and AmbiguousToolClassError are raised by the script
// executor's plugin-type discovery step.
type NoToolClassError struct{}

func (e *NoToolClassError) Error() string { return "no type implementing Runner found in artifact" }

type AmbiguousToolClassError struct{ Count int }

func (e *AmbiguousToolClassError) Error() string {
	return fmt.Sprintf("ambiguous tool type: %d candidates implement Runner", e.Count)
}

// CancelledError wraps a caller-cancelled dispatch so the audit entry can
// record a distinct terminal diagnostic.
type CancelledError struct{ Cause error }

func (e *CancelledError) Error() string { return "cancelled: " + e.Cause.Error() }
func (e *CancelledError) Unwrap() error { return e.Cause }
