// Package db opens the two SQL connections the core depends on: the
// meta-session, which backs the registry, artifact store, audit log,
// notebook, and trace store, and the optional data-session the SQL executor
// dispatches rendered queries against. Table creation is owned by each
// subsystem's own Init method, not by this package.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Open opens dsn against modernc.org/sqlite, creating the parent directory
// of a file-backed DSN if needed, and verifies the connection with a ping.
// dsn may be a bare file path, a file path with query parameters, or an
// in-memory DSN such as ":memory:" or "file::memory:?cache=shared".
func Open(dsn string) (*sql.DB, error) {
	if path := filePath(dsn); path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database dir: %w", err)
			}
		}
	}

	sqlDB, err := sql.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", dsn, err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging database %q: %w", dsn, err)
	}
	return sqlDB, nil
}

// filePath returns the filesystem path component of dsn, or "" for an
// in-memory or otherwise non-file DSN.
func filePath(dsn string) string {
	if dsn == "" || strings.Contains(dsn, ":memory:") {
		return ""
	}
	path := dsn
	if i := strings.IndexByte(dsn, '?'); i >= 0 {
		path = dsn[:i]
	}
	return strings.TrimPrefix(path, "file:")
}

func withPragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma=") || strings.Contains(dsn, ":memory:") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)"
}
