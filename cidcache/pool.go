package cidcache

import (
	"context"
	"fmt"
)

// Pool is a checkout pool of store connections. SQLite forbids sharing one
// handle across concurrent callers, so each serving worker checks a store
// out for the duration of a request and returns it after.
type Pool struct {
	stores chan Store
	size   int
}

// NewPool opens size independent stores against the same URL.
func NewPool(rawURL string, size int) (*Pool, error) {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		stores: make(chan Store, size),
		size:   size,
	}
	for i := 0; i < size; i++ {
		store, err := Open(rawURL)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("open pool store %d: %w", i, err)
		}
		p.stores <- store
	}
	return p, nil
}

// Get checks a store out, blocking until one is free or ctx is done.
func (p *Pool) Get(ctx context.Context) (Store, error) {
	select {
	case store := <-p.stores:
		return store, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Put returns a checked-out store.
func (p *Pool) Put(store Store) {
	p.stores <- store
}

// Close closes every store currently in the pool.
func (p *Pool) Close() error {
	var firstErr error
	for {
		select {
		case store := <-p.stores:
			if err := store.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		default:
			return firstErr
		}
	}
}
