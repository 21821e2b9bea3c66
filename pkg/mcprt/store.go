package mcprt

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
)

const ArtifactSchema = `
CREATE TABLE IF NOT EXISTS artifacts (
	digest TEXT PRIMARY KEY,
	body TEXT NOT NULL,
	kind TEXT NOT NULL CHECK(kind IN ('script','select','ui')),
	created_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
);
`

// ArtifactStore is the content-addressed, immutable blob store.
type ArtifactStore struct {
	db *sql.DB
}

func NewArtifactStore(db *sql.DB) *ArtifactStore {
	return &ArtifactStore{db: db}
}

func (s *ArtifactStore) Init() error {
	_, err := s.db.Exec(ArtifactSchema)
	return err
}

// Digest computes the content digest of a body without storing it.
func Digest(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// Put inserts body under its computed digest if absent (idempotent on the
// digest) and returns the digest.
func (s *ArtifactStore) Put(ctx context.Context, body string, kind ArtifactKind) (string, error) {
	digest := Digest(body)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (digest, body, kind) VALUES (?, ?, ?)
		ON CONFLICT(digest) DO NOTHING`, digest, body, string(kind))
	if err != nil {
		return "", fmt.Errorf("put artifact: %w", err)
	}
	return digest, nil
}

// Get returns the stored body and kind for digest, or a *ArtifactMissingError.
func (s *ArtifactStore) Get(ctx context.Context, digest string) (*Artifact, error) {
	var a Artifact
	a.Digest = digest
	row := s.db.QueryRowContext(ctx, `SELECT body, kind FROM artifacts WHERE digest = ?`, digest)
	var kind string
	if err := row.Scan(&a.Body, &kind); err != nil {
		if err == sql.ErrNoRows {
			return nil, &ArtifactMissingError{Digest: digest}
		}
		return nil, err
	}
	a.Kind = ArtifactKind(kind)
	return &a, nil
}

// All returns every stored artifact, for the spec exporter's snapshot walk.
func (s *ArtifactStore) All(ctx context.Context) ([]*Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT digest, body, kind FROM artifacts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Artifact
	for rows.Next() {
		var a Artifact
		var kind string
		if err := rows.Scan(&a.Digest, &a.Body, &kind); err != nil {
			return nil, err
		}
		a.Kind = ArtifactKind(kind)
		out = append(out, &a)
	}
	return out, rows.Err()
}

// Verify recomputes the digest of a.Body and compares it against a.Digest,
// returning an *ArtifactCorruptError on mismatch.
func Verify(a *Artifact) error {
	recomputed := Digest(a.Body)
	if recomputed != a.Digest {
		return &ArtifactCorruptError{Digest: a.Digest, Recomputed: recomputed}
	}
	return nil
}
