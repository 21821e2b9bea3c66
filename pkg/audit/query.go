package audit

import (
	"context"
	"database/sql"
)

// LastFailure returns the most recent error-status entry, optionally
// filtered by action (tool name), for the get_last_error meta-tool. It
// queries synchronously against the same table LogAsync eventually flushes
// into, so a failure recorded moments earlier via Log (not LogAsync) is
// immediately visible; entries still sitting in the async flush buffer are
// not.
func (l *SQLiteLogger) LastFailure(ctx context.Context, actionFilter string) (*Entry, error) {
	var (
		row *sql.Row
		e   Entry
	)
	if actionFilter == "" {
		row = l.db.QueryRowContext(ctx, `
			SELECT entry_id, timestamp, action, transport, user_id, request_id,
			       parameters, result, error_message, duration_ms, status
			FROM audit_log WHERE status = 'error' ORDER BY timestamp DESC LIMIT 1`)
	} else {
		row = l.db.QueryRowContext(ctx, `
			SELECT entry_id, timestamp, action, transport, user_id, request_id,
			       parameters, result, error_message, duration_ms, status
			FROM audit_log WHERE status = 'error' AND action = ? ORDER BY timestamp DESC LIMIT 1`, actionFilter)
	}
	err := row.Scan(&e.EntryID, &e.Timestamp, &e.Action, &e.Transport, &e.UserID, &e.RequestID,
		&e.Parameters, &e.Result, &e.Error, &e.DurationMs, &e.Status)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
