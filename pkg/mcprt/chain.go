package mcprt

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Step is one node in a client-supplied chain plan.
type Step struct {
	ID   string
	Tool string
	Args map[string]any
}

// StepReport is one entry in a chain run's report, success or failure.
type StepReport struct {
	ID     string
	Tool   string
	Output any    `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ChainReport is the full outcome of one execute_workflow call.
type ChainReport struct {
	RunID   string
	Steps   []StepReport
	Results map[string]any `json:"results,omitempty"`
	Failed  bool
}

var refRe = regexp.MustCompile(`\$\{([a-zA-Z0-9_]+)((?:\.[a-zA-Z0-9_]+)*)\}`)

// validateChain runs the DAG check once, before any step executes: no
// duplicate ids, and every ${id...} reference inside any step's args must
// name a step at a strictly earlier position.
func validateChain(steps []Step) error {
	seen := make(map[string]int)
	for i, s := range steps {
		if _, dup := seen[s.ID]; dup {
			return &DuplicateStepIdError{ID: s.ID}
		}
		seen[s.ID] = i
	}

	for i, s := range steps {
		refs := collectRefs(s.Args)
		for _, ref := range refs {
			pos, ok := seen[ref]
			if !ok || pos >= i {
				return &ForwardReferenceError{StepIndex: i, StepID: s.ID, Referent: ref}
			}
		}
	}
	return nil
}

func collectRefs(v any) []string {
	var out []string
	switch t := v.(type) {
	case string:
		for _, m := range refRe.FindAllStringSubmatch(t, -1) {
			out = append(out, m[1])
		}
	case map[string]any:
		for _, vv := range t {
			out = append(out, collectRefs(vv)...)
		}
	case []any:
		for _, vv := range t {
			out = append(out, collectRefs(vv)...)
		}
	}
	return out
}

// substitute replaces every ${id} / ${id.path.to.field} reference in v
// with the corresponding value (or rendering) from results.
func substitute(v any, stepID string, results map[string]any) (any, error) {
	switch t := v.(type) {
	case string:
		if m := refRe.FindStringSubmatch(t); m != nil && m[0] == t {
			return resolveRef(stepID, m[1], m[2], results)
		}
		var err error
		out := refRe.ReplaceAllStringFunc(t, func(match string) string {
			m := refRe.FindStringSubmatch(match)
			val, e := resolveRef(stepID, m[1], m[2], results)
			if e != nil {
				err = e
				return match
			}
			return fmt.Sprintf("%v", val)
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			sub, err := substitute(vv, stepID, results)
			if err != nil {
				return nil, err
			}
			out[k] = sub
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			sub, err := substitute(vv, stepID, results)
			if err != nil {
				return nil, err
			}
			out[i] = sub
		}
		return out, nil
	default:
		return v, nil
	}
}

func resolveRef(stepID, refID, path string, results map[string]any) (any, error) {
	val, ok := results[refID]
	if !ok {
		return nil, &FieldNotFoundError{StepID: stepID, Path: refID}
	}
	if path == "" {
		return val, nil
	}
	cur := val
	for _, key := range strings.Split(strings.TrimPrefix(path, "."), ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, &FieldNotFoundError{StepID: stepID, Path: refID + path}
		}
		cur, ok = m[key]
		if !ok {
			return nil, &FieldNotFoundError{StepID: stepID, Path: refID + path}
		}
	}
	return cur, nil
}

// DispatchFunc is the Dispatcher entry point the chain engine composes
// steps through, kept as a function value to avoid an import cycle with
// the Dispatcher.
type DispatchFunc func(ctx context.Context, persona, tool string, args map[string]any) (any, error)

// RunChain validates the DAG once, then executes steps strictly in list
// order, halting and returning a partial report on the first failure.
func RunChain(ctx context.Context, persona string, steps []Step, dispatch DispatchFunc) *ChainReport {
	report := &ChainReport{RunID: uuid.NewString(), Results: map[string]any{}}

	if err := validateChain(steps); err != nil {
		report.Failed = true
		report.Steps = []StepReport{{Error: err.Error()}}
		return report
	}

	for _, s := range steps {
		args, err := substitute(s.Args, s.ID, report.Results)
		if err != nil {
			report.Failed = true
			report.Steps = append(report.Steps, StepReport{ID: s.ID, Tool: s.Tool, Error: err.Error()})
			return report
		}
		argsMap, _ := args.(map[string]any)

		out, err := dispatch(ctx, persona, s.Tool, argsMap)
		if err != nil {
			report.Failed = true
			report.Steps = append(report.Steps, StepReport{ID: s.ID, Tool: s.Tool, Error: err.Error()})
			return report
		}
		report.Results[s.ID] = out
		report.Steps = append(report.Steps, StepReport{ID: s.ID, Tool: s.Tool, Output: out})
	}
	return report
}
