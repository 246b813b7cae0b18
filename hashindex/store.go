// Package hashindex maintains the reverse map from content hash to token
// key for the full token universe. The index is built once offline and then
// serves O(1) point lookups during validation.
package hashindex

import (
	"errors"
	"fmt"
	"strings"

	"github.com/b-open-io/token-index/token"
)

var ErrNotFound = errors.New("hash not found in index")

// Entry is one persisted index record.
type Entry struct {
	Hash   string
	Level  int
	Number int
}

// Store is the persistence capability the index builder and lookups run
// against. Implementations must make PutBatch atomic together with the level
// watermark so a crashed build can resume from Checkpoint.
type Store interface {
	// PutBatch commits entries and advances the level's watermark to last in
	// one transaction. Inserts are idempotent by hash.
	PutBatch(level, last int, entries []Entry) error
	// Lookup resolves a hex hash to its token key, or ErrNotFound.
	Lookup(hash string) (token.Key, error)
	// Checkpoint returns the highest committed token number for a level,
	// 0 when the level has never been built.
	Checkpoint(level int) (int, error)
	// Count returns the total number of persisted entries.
	Count() (int64, error)
	// Clear drops all entries and watermarks.
	Clear() error
	Close() error
}

// Open dispatches on the URL shape: "sqlite://path" or a bare "*.db" path
// opens the legacy SQLite store, anything else is a pebble directory.
func Open(rawURL string) (Store, error) {
	switch {
	case strings.HasPrefix(rawURL, "sqlite://"):
		return NewSQLiteStore(strings.TrimPrefix(rawURL, "sqlite://"))
	case strings.HasPrefix(rawURL, "pebble://"):
		return NewPebbleStore(strings.TrimPrefix(rawURL, "pebble://"))
	case strings.HasSuffix(rawURL, ".db"):
		return NewSQLiteStore(rawURL)
	case rawURL == "":
		return nil, fmt.Errorf("hash index URL is empty")
	default:
		return NewPebbleStore(rawURL)
	}
}
