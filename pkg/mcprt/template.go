package mcprt

import (
	"regexp"
	"strings"
	"text/template"
)

// macroPrelude concatenates the ordered active macro set into the prelude
// prepended to every SQL render, in the same textual order they are stored.
func macroPrelude(macros []*MacroRecord) string {
	var b strings.Builder
	for _, m := range macros {
		b.WriteString(m.Template)
		b.WriteString("\n")
	}
	return b.String()
}

var (
	bareArgumentsRe     = regexp.MustCompile(`(^|[^.\w])arguments\b`)
	closeTagRe          = regexp.MustCompile(`\b(endif|endfor|endrange)\b`)
	promptPlaceholderRe = regexp.MustCompile(`\{(\w+)\}`)
)

// rewritePromptSyntax translates a stored prompt template's bare
// single-brace placeholders ("{name}") into text/template's dot-prefixed
// field access ("{.name}"), so prompt authors only ever need to write the
// `{name}` form the data model documents.
func rewritePromptSyntax(body string) string {
	return promptPlaceholderRe.ReplaceAllString(body, "{.$1}")
}

// rewriteTemplateSyntax translates the Jinja-flavored surface syntax used by
// stored artifacts — bare "arguments.x" field access and "endif"/"endfor"
// closing tags — into text/template's dot-prefixed field access and
// uniform "end" tag, without requiring authors to relearn Go template
// syntax to write a conditional SQL block.
func rewriteTemplateSyntax(body string) string {
	body = closeTagRe.ReplaceAllString(body, "end")
	body = bareArgumentsRe.ReplaceAllString(body, "$1.arguments")
	return body
}

var templateFuncs = template.FuncMap{
	"hasKey": func(m map[string]any, key string) bool {
		_, ok := m[key]
		return ok
	},
}

// RenderPrompt substitutes named placeholders in a prompt template from the
// call's argument bag, failing with MissingArgument when a placeholder the
// prompt declares required is absent. Prompt templates use single-brace
// "{name}" placeholders rather than Go's default "{{.name}}" syntax, so the
// template is parsed with single-brace delimiters after rewriting each
// placeholder to a dot-prefixed field reference.
func RenderPrompt(p *PromptRecord, arguments map[string]any) (string, error) {
	for _, arg := range p.ArgumentsSchema {
		if !arg.Required {
			continue
		}
		if _, ok := arguments[arg.Name]; !ok {
			return "", &MissingArgumentError{Name: arg.Name}
		}
	}

	tmpl, err := template.New("prompt").Delims("{", "}").Parse(rewritePromptSyntax(p.Template))
	if err != nil {
		return "", err
	}
	var out strings.Builder
	if err := tmpl.Execute(&out, arguments); err != nil {
		return "", err
	}
	return out.String(), nil
}

// RenderSQL renders body with the macro prelude prepended and arguments
// bound into the template namespace. It does not interpolate values into
// SQL text — arguments are only reachable from conditional/loop control
// structures; every value still travels through the `:name` bind mechanism
// at execution time.
func RenderSQL(body string, arguments map[string]any, macros []*MacroRecord) (string, error) {
	if arguments == nil {
		arguments = map[string]any{}
	}
	full := macroPrelude(macros) + body
	full = rewriteTemplateSyntax(full)

	tmpl, err := template.New("sql").Delims("{%", "%}").Funcs(templateFuncs).Parse(full)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	if err := tmpl.Execute(&out, map[string]any{"arguments": arguments}); err != nil {
		return "", err
	}
	return out.String(), nil
}
