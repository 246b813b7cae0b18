// Package cidcache persists the forward map from CID to token content and
// metadata. Entries are immutable once written: content addressing guarantees
// the same input always yields the same CID, so the only write path is
// insert-if-absent.
package cidcache

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrNotFound = errors.New("cid not found in cache")

// Entry is one cached token, keyed by CID.
type Entry struct {
	Cid     string `json:"cid"`
	Content string `json:"content"`
	Level   int    `json:"token_level"`
	Number  int    `json:"token_number"`
}

// Store is the persistence layer behind the cache builder and lookup service.
type Store interface {
	// PutBatch commits entries atomically, skipping CIDs already present.
	PutBatch(ctx context.Context, entries []Entry) error
	// Get resolves one CID, or ErrNotFound.
	Get(ctx context.Context, cid string) (*Entry, error)
	// GetBatch resolves many CIDs in a single query; absent CIDs are simply
	// missing from the result map.
	GetBatch(ctx context.Context, cids []string) (map[string]*Entry, error)
	// Count returns the number of cached entries.
	Count(ctx context.Context) (int64, error)
	Close() error
}

// Open selects a backend by URL scheme: "redis://" for Redis, anything else
// is a SQLite database path.
func Open(rawURL string) (Store, error) {
	switch {
	case rawURL == "":
		return nil, fmt.Errorf("cid cache URL is empty")
	case strings.HasPrefix(rawURL, "redis://"), strings.HasPrefix(rawURL, "rediss://"):
		return NewRedisStore(rawURL)
	case strings.HasPrefix(rawURL, "sqlite://"):
		return NewSQLiteStore(strings.TrimPrefix(rawURL, "sqlite://"))
	default:
		return NewSQLiteStore(rawURL)
	}
}
