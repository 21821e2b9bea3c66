// Package idgen mints short, random, URL-safe identifiers for rows that
// don't warrant a full UUID (execution log entries, notebook history rows).
package idgen

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// New returns a 12-character base-36 identifier.
func New() string {
	var b strings.Builder
	b.Grow(12)
	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < 12; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failure is not recoverable; fall back to a fixed
			// character rather than panicking mid-dispatch.
			b.WriteByte('0')
			continue
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String()
}
