package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/kestrelmcp/kestrel/internal/idgen"
)

// SelfCorrectionDomain is the reserved notebook domain the dispatcher's
// failure handler appends to.
const SelfCorrectionDomain = "self_correction"

const NotebookSchema = `
CREATE TABLE IF NOT EXISTS notebook_entries (
	domain TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	updated_by TEXT,
	is_active INTEGER NOT NULL DEFAULT 1 CHECK(is_active IN (0,1)),
	PRIMARY KEY (domain, key)
);

CREATE TABLE IF NOT EXISTS notebook_history (
	history_id TEXT PRIMARY KEY,
	domain TEXT NOT NULL,
	key TEXT NOT NULL,
	old_value TEXT,
	new_value TEXT NOT NULL,
	changed_at INTEGER NOT NULL,
	changed_by TEXT
);
CREATE INDEX IF NOT EXISTS idx_notebook_history_dk ON notebook_history(domain, key, changed_at DESC);
`

// Notebook is an append-history key/value memory scoped by domain. Unlike
// the execution log, reads immediately follow writes within the same
// dispatched call (get_last_error-adjacent meta-tools read back an entry
// they just appended), so writes are synchronous.
type Notebook struct {
	db *sql.DB
}

func NewNotebook(db *sql.DB) *Notebook {
	return &Notebook{db: db}
}

func (n *Notebook) Init() error {
	_, err := n.db.Exec(NotebookSchema)
	return err
}

// Get returns the current value for (domain, key), or ok=false if absent or soft-deleted.
func (n *Notebook) Get(ctx context.Context, domain, key string) (value string, ok bool, err error) {
	row := n.db.QueryRowContext(ctx, `SELECT value FROM notebook_entries WHERE domain=? AND key=? AND is_active=1`, domain, key)
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

// Append sets (domain, key) to value, recording the prior value (if any) in
// notebook_history. This is the operation the self_correction domain uses:
// repeated calls accumulate history rather than silently overwriting.
func (n *Notebook) Append(ctx context.Context, domain, key, value, updatedBy string) error {
	tx, err := n.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var oldValue sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT value FROM notebook_entries WHERE domain=? AND key=?`, domain, key).Scan(&oldValue)
	if err != nil && err != sql.ErrNoRows {
		return err
	}

	now := time.Now().Unix()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO notebook_entries (domain, key, value, created_at, updated_at, updated_by, is_active)
		VALUES (?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(domain, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at,
			updated_by = excluded.updated_by,
			is_active = 1`,
		domain, key, value, now, now, updatedBy); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO notebook_history (history_id, domain, key, old_value, new_value, changed_at, changed_by)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		"nbh_"+idgen.New(), domain, key, nullableString(oldValue), value, now, updatedBy); err != nil {
		return err
	}

	return tx.Commit()
}

func nullableString(s sql.NullString) any {
	if !s.Valid {
		return nil
	}
	return s.String
}
