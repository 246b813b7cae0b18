// Package validator admits or rejects tokens reported by ledger nodes.
//
// For each pending token it fetches the published content by CID, decodes
// it, resolves the token number through the hash index, checks the level's
// issuance limit, and either pins the content or marks the token rejected.
package validator

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/b-open-io/token-index/hashindex"
	"github.com/b-open-io/token-index/token"
)

// Token status values in the ledger. Both outcomes are terminal; nothing
// ever transitions out of StatusRejected.
const (
	StatusPending  = 0
	StatusRejected = 2302
)

// Network is the storage-network surface the validator needs. Each node
// context carries its own Network bound to that node's endpoint; contexts
// are never shared across concurrently processed nodes.
type Network interface {
	Cat(ctx context.Context, cid string) (string, error)
	Add(ctx context.Context, content string) (string, error)
	Pin(ctx context.Context, cid string) error
	IsPinned(ctx context.Context, cid string) (bool, error)
}

// Ledger is the per-node token record surface.
type Ledger interface {
	PendingCids(ctx context.Context) ([]string, error)
	SetStatus(ctx context.Context, cid string, status int) error
}

// Index resolves content hashes back to token keys.
type Index interface {
	Lookup(hash string) (token.Key, error)
}

// NodeContext binds one node's collaborators for the lifetime of a run.
type NodeContext struct {
	Name    string
	Network Network
	Ledger  Ledger
}

// Stats counts outcomes for one node's run.
type Stats struct {
	Processed int
	Pinned    int
	Invalid   int
	Errors    int
}

// Validator checks pending tokens against the hash index and level limits.
type Validator struct {
	Index Index
	// AdmitStatus, when non-zero, is written to the ledger after a
	// successful pin. The admitted status value is deployment
	// configuration, not part of this workflow; zero leaves the record
	// untouched on success.
	AdmitStatus int
}

// Process runs the validation workflow for one node. Individual token
// failures mark that token rejected and never abort the run; the returned
// error covers only the pending-token query itself. In dry-run mode no
// status is written and nothing is pinned.
func (v *Validator) Process(ctx context.Context, node NodeContext, dryRun bool) (*Stats, error) {
	cids, err := node.Ledger.PendingCids(ctx)
	if err != nil {
		return nil, err
	}
	log.Printf("[%s] %d pending tokens", node.Name, len(cids))

	stats := &Stats{}
	for _, cid := range cids {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}
		stats.Processed++
		v.processOne(ctx, node, cid, dryRun, stats)
		if stats.Processed%100 == 0 {
			log.Printf("[%s] progress: %d/%d", node.Name, stats.Processed, len(cids))
		}
	}
	log.Printf("[%s] done: processed %d, pinned %d, invalid %d, errors %d",
		node.Name, stats.Processed, stats.Pinned, stats.Invalid, stats.Errors)
	return stats, nil
}

func (v *Validator) processOne(ctx context.Context, node NodeContext, cid string, dryRun bool, stats *Stats) {
	reject := func(reason string) {
		log.Printf("[%s] rejecting %s: %s", node.Name, cid, reason)
		if !dryRun {
			if err := node.Ledger.SetStatus(ctx, cid, StatusRejected); err != nil {
				log.Printf("[%s] status update failed for %s: %v", node.Name, cid, err)
			}
		}
	}

	content, err := node.Network.Cat(ctx, cid)
	if err != nil {
		reject("fetch failed: " + err.Error())
		stats.Errors++
		return
	}
	content = strings.TrimSpace(content)

	level, hash, err := token.ParseContent(content)
	if err != nil {
		reject("bad content: " + err.Error())
		stats.Errors++
		return
	}

	key, err := v.Index.Lookup(hash)
	if err == hashindex.ErrNotFound {
		reject("hash not in index")
		stats.Invalid++
		return
	}
	if err != nil {
		// Index store trouble is not the token's fault; leave it pending
		// for the next run.
		log.Printf("[%s] index lookup failed for %s: %v", node.Name, cid, err)
		stats.Errors++
		return
	}

	if limit := token.LevelLimit[level]; key.Number < 1 || key.Number > limit {
		reject(key.String() + " outside level limit")
		stats.Invalid++
		return
	}

	// The published content must match the canonical derivation exactly. On
	// mismatch, re-add the canonical form: if it addresses to the same CID
	// the original was merely dressed up (whitespace), otherwise the CID
	// does not belong to this token.
	if expected := token.ContentFromHash(level, hash); content != expected && !dryRun {
		newCid, err := node.Network.Add(ctx, expected)
		if err != nil {
			reject("re-add failed: " + err.Error())
			stats.Errors++
			return
		}
		if newCid != cid {
			reject("cid mismatch: canonical content addresses to " + newCid)
			stats.Errors++
			return
		}
	}

	if dryRun {
		stats.Pinned++
		return
	}
	if pinned, err := node.Network.IsPinned(ctx, cid); err == nil && pinned {
		stats.Pinned++
	} else if err := node.Network.Pin(ctx, cid); err != nil {
		log.Printf("[%s] pin failed for %s: %v", node.Name, cid, err)
		stats.Errors++
		return
	} else {
		stats.Pinned++
	}
	if v.AdmitStatus != 0 {
		if err := node.Ledger.SetStatus(ctx, cid, v.AdmitStatus); err != nil {
			log.Printf("[%s] admit status update failed for %s: %v", node.Name, cid, err)
		}
	}
}

// ProcessAll validates nodes with bounded concurrency. Every node carries
// its own NodeContext, so no network binding leaks between nodes.
func ProcessAll(ctx context.Context, v *Validator, nodes []NodeContext, concurrency int, dryRun bool) map[string]*Stats {
	if concurrency < 1 {
		concurrency = 1
	}
	limiter := make(chan struct{}, concurrency)
	results := make(map[string]*Stats, len(nodes))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, node := range nodes {
		limiter <- struct{}{}
		wg.Add(1)
		go func(node NodeContext) {
			defer func() {
				wg.Done()
				<-limiter
			}()
			stats, err := v.Process(ctx, node, dryRun)
			if err != nil {
				log.Printf("[%s] run failed: %v", node.Name, err)
			}
			if stats != nil {
				mu.Lock()
				results[node.Name] = stats
				mu.Unlock()
			}
		}(node)
	}
	wg.Wait()
	return results
}
