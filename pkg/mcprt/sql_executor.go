package mcprt

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kestrelmcp/kestrel/pkg/trace"
)

// trailingLimitRe strips an existing trailing LIMIT clause so the temp-tool
// row cap can be applied deterministically instead of stacking a second
// LIMIT onto the caller's own.
var trailingLimitRe = regexp.MustCompile(`(?is)\s+LIMIT\s+\d+\s*;?\s*$`)

// TempToolRowCap is the hard row ceiling applied to every temp tool's
// rendered SELECT, regardless of what the caller requested.
const TempToolRowCap = 3

// SQLExecutor renders, validates, binds, and runs select-kind artifacts
// against the data backend. data may be nil, signaling offline mode.
type SQLExecutor struct {
	data    *sql.DB
	traces  *trace.Store
	dialect string
}

func NewSQLExecutor(data *sql.DB, traces *trace.Store) *SQLExecutor {
	return &SQLExecutor{data: data, traces: traces, dialect: "sqlite"}
}

// SetData swaps the live data connection, used by reconnect_db.
func (e *SQLExecutor) SetData(data *sql.DB) { e.data = data }

func (e *SQLExecutor) Available() bool { return e.data != nil }

// SetDialect records the data backend's SQL dialect, consulted by
// general_merge_tool to choose an upsert form. Only "sqlite" is backed by a
// driver actually wired into this module; the other forms are kept as the
// dialect switch the meta-tool's contract describes for an operator who
// points the data-session at a different backend.
func (e *SQLExecutor) SetDialect(d string) { e.dialect = d }

func (e *SQLExecutor) Dialect() string { return e.dialect }

// record is a nil-tolerant wrapper around traces.Record: a SQLExecutor built
// without a trace store (offline mode, or a test harness) must still run.
func (e *SQLExecutor) record(ctx context.Context, op, query string, d time.Duration, err error) {
	if e.traces == nil {
		return
	}
	e.traces.Record(ctx, op, query, d, err)
}

func capRows(rendered string, isTempTool bool) string {
	if !isTempTool {
		return rendered
	}
	trimmed := trailingLimitRe.ReplaceAllString(strings.TrimRight(strings.TrimSpace(rendered), ";"), "")
	return fmt.Sprintf("%s LIMIT %d", trimmed, TempToolRowCap)
}

// Execute renders body through the template engine, validates the result is
// read-only and single-statement, binds named arguments, and returns each
// row as a column-name map.
func (e *SQLExecutor) Execute(ctx context.Context, body string, arguments map[string]any, macros []*MacroRecord, isTempTool bool) ([]map[string]any, error) {
	if e.data == nil {
		return nil, &DataBackendUnavailableError{}
	}

	rendered, err := RenderSQL(body, arguments, macros)
	if err != nil {
		return nil, &InvalidStructureError{Reason: err.Error()}
	}
	if err := ValidateSQL(rendered); err != nil {
		return nil, err
	}
	rendered = capRows(rendered, isTempTool)

	named := make([]any, 0, len(arguments))
	for k, v := range arguments {
		named = append(named, sql.Named(k, v))
	}

	start := time.Now()
	rows, err := e.data.QueryContext(ctx, rendered, named...)
	if err != nil {
		e.record(ctx, "select", rendered, time.Since(start), err)
		return nil, fmt.Errorf("execute select: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		record := make(map[string]any, len(cols))
		for i, col := range cols {
			record[col] = normalizeColumn(raw[i])
		}
		out = append(out, record)
	}
	e.record(ctx, "select", rendered, time.Since(start), rows.Err())
	return out, rows.Err()
}

// normalizeColumn converts driver-native byte slices to strings so JSON
// encoding of result rows never produces base64 blobs for plain text
// columns, matching modernc.org/sqlite's TEXT-as-[]byte scan behavior.
func normalizeColumn(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// ExecuteDDL runs a validated CREATE/ALTER/DROP/TRUNCATE statement against
// the data backend, used exclusively by the execute_ddl_tool meta-tool.
func (e *SQLExecutor) ExecuteDDL(ctx context.Context, body string) error {
	if e.data == nil {
		return &DataBackendUnavailableError{}
	}
	if err := ValidateDDL(body); err != nil {
		return err
	}
	start := time.Now()
	_, err := e.data.ExecContext(ctx, body)
	e.record(ctx, "ddl", body, time.Since(start), err)
	return err
}

// ExecuteWrite runs a bound, non-SELECT statement against the data backend
// without the read-only validation path, for the write-capable meta-tools
// (general_merge_tool) that generate their own statements rather than
// executing a stored artifact.
func (e *SQLExecutor) ExecuteWrite(ctx context.Context, stmt string, values map[string]any) error {
	if e.data == nil {
		return &DataBackendUnavailableError{}
	}
	named := make([]any, 0, len(values))
	for k, v := range values {
		named = append(named, sql.Named(k, v))
	}
	start := time.Now()
	_, err := e.data.ExecContext(ctx, stmt, named...)
	e.record(ctx, "merge", stmt, time.Since(start), err)
	return err
}

// BuildMergeSQL produces a dialect-specific upsert statement for
// general_merge_tool: SQLite's ON CONFLICT DO UPDATE form, the ANSI
// conflict-update form used by most other engines with the same clause
// syntax, or a MERGE INTO statement for dialects that require it.
func BuildMergeSQL(dialect, table string, keyCols, valueCols []string) (string, error) {
	if len(keyCols) == 0 {
		return "", fmt.Errorf("build merge: at least one key column required")
	}
	allCols := append(append([]string{}, keyCols...), valueCols...)
	placeholders := make([]string, len(allCols))
	for i, c := range allCols {
		placeholders[i] = ":" + c
	}

	switch dialect {
	case "mssql":
		var sets []string
		for _, c := range valueCols {
			sets = append(sets, fmt.Sprintf("target.%s = source.%s", c, c))
		}
		var onClauses []string
		for _, c := range keyCols {
			onClauses = append(onClauses, fmt.Sprintf("target.%s = source.%s", c, c))
		}
		return fmt.Sprintf(
			"MERGE INTO %s AS target USING (SELECT %s) AS source ON %s WHEN MATCHED THEN UPDATE SET %s WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s);",
			table, joinAs(allCols), strings.Join(onClauses, " AND "), strings.Join(sets, ", "),
			strings.Join(allCols, ", "), strings.Join(placeholders, ", "),
		), nil
	default: // "sqlite", "postgres", and any dialect sharing ON CONFLICT syntax
		var sets []string
		for _, c := range valueCols {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
		}
		update := "NOTHING"
		if len(sets) > 0 {
			update = "UPDATE SET " + strings.Join(sets, ", ")
		}
		return fmt.Sprintf(
			"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO %s;",
			table, strings.Join(allCols, ", "), strings.Join(placeholders, ", "),
			strings.Join(keyCols, ", "), update,
		), nil
	}
}

func joinAs(cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = ":" + c + " AS " + c
	}
	return strings.Join(parts, ", ")
}
