package mcprt

import (
	"context"
	"go/ast"
	"go/parser"
	"go/token"
	"reflect"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/kestrelmcp/kestrel/pkg/tool"
)

// toolSymbols exposes pkg/tool to the sandboxed interpreter, the one
// package every script artifact imports to receive its call arguments and
// declare its Runner implementation. Grounded on the yaegi executor's
// pattern of loading a curated symbol table via i.Use rather than a
// dynamically discovered one.
var toolSymbols = interp.Exports{
	"github.com/kestrelmcp/kestrel/pkg/tool/tool": map[string]reflect.Value{
		"Context": reflect.ValueOf((*tool.Context)(nil)),
		"Base":    reflect.ValueOf((*tool.Base)(nil)),
		"Runner":  reflect.ValueOf((*tool.Runner)(nil)),
	},
}

// canonicalImportPath strips the trailing package-name segment yaegi's
// stdlib.Symbols keys duplicate onto the import path ("encoding/json/json"
// -> "encoding/json") so policy patterns can be matched against the real
// import path.
func canonicalImportPath(key string) string {
	idx := strings.LastIndex(key, "/")
	if idx < 0 {
		return key
	}
	return key[:idx]
}

// prunedSymbols withholds every stdlib package denied by the active module
// policy (or the built-in default) from the interpreter entirely, so a
// denied import fails at Eval time even if it slipped past the AST check.
func prunedSymbols(policies []*SecurityPolicy) interp.Exports {
	modulePolicies := filterCategory(policies, CategoryModule)
	allowed := make(interp.Exports, len(stdlib.Symbols))
	for key, syms := range stdlib.Symbols {
		if !policyAllows(modulePolicies, defaultModuleDeny, canonicalImportPath(key)) {
			continue
		}
		allowed[key] = syms
	}
	return allowed
}

func wrapScript(body string) string {
	if strings.Contains(body, "package ") {
		return body
	}
	return "package main\n\n" + body
}

// declaredTypeNames returns the top-level type names declared in body,
// the candidate set for Runner discovery.
func declaredTypeNames(body string) ([]string, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "artifact.go", wrapScript(body), parser.AllErrors)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, decl := range file.Decls {
		gd, ok := decl.(*ast.GenDecl)
		if !ok || gd.Tok != token.TYPE {
			continue
		}
		for _, spec := range gd.Specs {
			if ts, ok := spec.(*ast.TypeSpec); ok {
				names = append(names, ts.Name.Name)
			}
		}
	}
	return names, nil
}

// discoverRunner evaluates "&Name{}" for every candidate type declared in
// the artifact and keeps the ones implementing tool.Runner. Exactly one
// candidate must match.
func discoverRunner(i *interp.Interpreter, body string) (tool.Runner, error) {
	names, err := declaredTypeNames(body)
	if err != nil {
		return nil, &InvalidStructureError{Reason: err.Error()}
	}

	var found []tool.Runner
	for _, name := range names {
		v, err := i.Eval("&main." + name + "{}")
		if err != nil {
			continue
		}
		if runner, ok := v.Interface().(tool.Runner); ok {
			found = append(found, runner)
		}
	}

	switch len(found) {
	case 0:
		return nil, &NoToolClassError{}
	case 1:
		return found[0], nil
	default:
		return nil, &AmbiguousToolClassError{Count: len(found)}
	}
}

// RunScript executes a script-kind artifact in a fresh, single-use yaegi
// interpreter: stdlib symbols pruned to the policy-derived allow set,
// pkg/tool injected, the sole Runner implementer discovered and invoked
// with the caller's context so cancellation propagates.
func RunScript(ctx context.Context, body string, dc *DispatchContext, arguments map[string]any, policies []*SecurityPolicy) (any, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(prunedSymbols(policies)); err != nil {
		return nil, err
	}
	if err := i.Use(toolSymbols); err != nil {
		return nil, err
	}

	if _, err := i.Eval(wrapScript(body)); err != nil {
		return nil, &InvalidStructureError{Reason: err.Error()}
	}

	runner, err := discoverRunner(i, body)
	if err != nil {
		return nil, err
	}

	tc := &tool.Context{
		Arguments: arguments,
		Persona:   dc.Persona,
		ToolName:  dc.ToolName,
		CallTool:  dc.SubExec,
	}

	type outcome struct {
		val any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := runner.Run(ctx, tc)
		done <- outcome{v, err}
	}()

	select {
	case o := <-done:
		return o.val, o.err
	case <-ctx.Done():
		return nil, &CancelledError{Cause: ctx.Err()}
	}
}
