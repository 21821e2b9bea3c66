package mcprt

import (
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"
	"strings"
)

// defaultModuleDeny is the built-in deny list applied when no explicit
// module policies are active: packages granting arbitrary process control,
// filesystem access, or unrestricted network access. This list must stay
// in sync with the symbol pruning the script executor applies to its
// yaegi interpreter — a module denied here but still reachable at runtime
// would make the check theater.
var defaultModuleDeny = []string{"os", "os/exec", "net", "syscall", "plugin", "unsafe"}

// defaultAttributeDeny mirrors the source's "arbitrary file I/O, interactive
// input, interpreter exit, dynamic import" function-category defaults,
// expressed as Go selector expressions since nearly everything dangerous in
// Go's standard library is package-qualified rather than a bare builtin.
var defaultAttributeDeny = []string{
	"os.Open", "os.OpenFile", "os.Remove", "os.RemoveAll", "os.Exit",
	"exec.Command", "exec.CommandContext",
	"fmt.Scanln", "fmt.Scanf", "fmt.Scan",
	"plugin.Open",
}

// ValidateScript parses body as Go source and enforces the top-level AST
// discipline: only import declarations, type declarations ("class
// definitions"), and methods on a declared type are permitted. It then
// walks every import, call, and selector expression against the active
// policy set.
func ValidateScript(body string, policies []*SecurityPolicy) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "artifact.go", body, parser.AllErrors)
	if err != nil {
		return &InvalidStructureError{Reason: err.Error()}
	}

	declaredTypes := make(map[string]bool)
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.GenDecl:
			switch d.Tok {
			case token.IMPORT:
				// permitted
			case token.TYPE:
				for _, spec := range d.Specs {
					if ts, ok := spec.(*ast.TypeSpec); ok {
						declaredTypes[ts.Name.Name] = true
					}
				}
			default:
				return &InvalidStructureError{Reason: "top-level " + d.Tok.String() + " declaration is not permitted"}
			}
		case *ast.FuncDecl:
			if d.Recv == nil {
				return &InvalidStructureError{Reason: "top-level function " + d.Name.Name + " without a receiver is not permitted (only methods on a declared type)"}
			}
		default:
			return &InvalidStructureError{Reason: "unrecognized top-level declaration"}
		}
	}

	modulePolicies := filterCategory(policies, CategoryModule)
	functionPolicies := filterCategory(policies, CategoryFunction)
	attributePolicies := filterCategory(policies, CategoryAttribute)

	for _, imp := range file.Imports {
		path := strings.Trim(imp.Path.Value, `"`)
		if !policyAllows(modulePolicies, defaultModuleDeny, path) {
			return &PolicyViolationError{Category: CategoryModule, Pattern: path}
		}
	}

	var violation error
	ast.Inspect(file, func(n ast.Node) bool {
		if violation != nil {
			return false
		}
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		switch fn := call.Fun.(type) {
		case *ast.Ident:
			if !policyAllows(functionPolicies, nil, fn.Name) {
				violation = &PolicyViolationError{Category: CategoryFunction, Pattern: fn.Name}
				return false
			}
		case *ast.SelectorExpr:
			if id, ok := fn.X.(*ast.Ident); ok {
				full := id.Name + "." + fn.Sel.Name
				if !policyAllows(attributePolicies, defaultAttributeDeny, full) {
					violation = &PolicyViolationError{Category: CategoryAttribute, Pattern: full}
					return false
				}
			}
		}
		return true
	})
	if violation != nil {
		return violation
	}

	return nil
}

func filterCategory(policies []*SecurityPolicy, category PolicyCategory) []*SecurityPolicy {
	var out []*SecurityPolicy
	for _, p := range policies {
		if p.Category == category {
			out = append(out, p)
		}
	}
	return out
}

// policyAllows applies the precedence rule: deny always wins over allow on
// identical patterns; an empty active set falls back to builtinDeny; a
// non-empty active set with at least one allow rule switches to allow-list
// mode (anything not explicitly allowed is rejected).
func policyAllows(active []*SecurityPolicy, builtinDeny []string, candidate string) bool {
	if len(active) == 0 {
		for _, pattern := range builtinDeny {
			if patternMatches(pattern, candidate) {
				return false
			}
		}
		return true
	}

	hasAllow := false
	for _, p := range active {
		if p.RuleType == RuleAllow {
			hasAllow = true
		}
	}
	for _, p := range active {
		if p.RuleType == RuleDeny && patternMatches(p.Pattern, candidate) {
			return false
		}
	}
	if hasAllow {
		for _, p := range active {
			if p.RuleType == RuleAllow && patternMatches(p.Pattern, candidate) {
				return true
			}
		}
		return false
	}
	return true
}

func patternMatches(pattern, candidate string) bool {
	return candidate == pattern || strings.HasPrefix(candidate, pattern+"/") || strings.HasPrefix(candidate, pattern+".")
}

var (
	lineCommentRe  = regexp.MustCompile(`--[^\n]*`)
	blockCommentRe = regexp.MustCompile(`/\*.*?\*/`)

	writeKeywordRe = regexp.MustCompile(`(?i)(\bINSERT\s*(\(|INTO)|\bUPDATE\s+\S+\s+SET|\bDELETE\s+(FROM|\s)|\bDROP\s+|\bALTER\s+|\bCREATE\s+|\bTRUNCATE\s+|\bEXEC(UTE)?\s*(\(|\s)|\bGRANT\s+|\bREVOKE\s+)`)
	ddlKeywordRe   = regexp.MustCompile(`(?i)^\s*(CREATE|ALTER|DROP|TRUNCATE)\b`)
	selectPrefixRe = regexp.MustCompile(`(?is)^\s*(WITH\b.*?\bSELECT|SELECT)\b`)
)

// stripSQLComments removes line and block comments, matching the
// comment-stripping step both validate_sql and validate_ddl apply before
// any keyword inspection.
func stripSQLComments(sql string) string {
	sql = blockCommentRe.ReplaceAllString(sql, " ")
	sql = lineCommentRe.ReplaceAllString(sql, " ")
	return sql
}

// singleStatement enforces the single-statement rule: a trailing statement
// terminator is tolerated, an interior one is an error.
func singleStatement(sql string) error {
	trimmed := strings.TrimRight(strings.TrimSpace(sql), ";")
	if strings.Contains(trimmed, ";") {
		return &MultipleStatementsError{}
	}
	return nil
}

// ValidateSQL enforces read-only, single-statement SQL. Parameter
// placeholders (:name) are not interpreted here — binding happens at
// execution time in the SQL executor.
func ValidateSQL(rendered string) error {
	working := stripSQLComments(rendered)
	if err := singleStatement(working); err != nil {
		return err
	}
	if !selectPrefixRe.MatchString(working) {
		return &NotReadOnlyError{Keyword: "missing SELECT/WITH prefix"}
	}
	if m := writeKeywordRe.FindString(working); m != "" {
		return &NotReadOnlyError{Keyword: strings.TrimSpace(m)}
	}
	return nil
}

// ValidateDDL inverts ValidateSQL's read-only rule for the DDL meta-tool:
// the first significant token must be CREATE, ALTER, DROP, or TRUNCATE, and
// the single-statement rule still holds.
func ValidateDDL(body string) error {
	working := stripSQLComments(body)
	if err := singleStatement(working); err != nil {
		return err
	}
	if !ddlKeywordRe.MatchString(working) {
		return &NotReadOnlyError{Keyword: "missing CREATE/ALTER/DROP/TRUNCATE prefix"}
	}
	return nil
}
