package hashindex

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/b-open-io/token-index/token"
)

// DefaultBatchSize is the number of entries committed per transaction.
// Hashing is cheap; the commit is the expensive step, so the batch size, not
// the worker count, is the dominant throughput lever.
const DefaultBatchSize = 10000

// Builder enumerates the token universe and persists the reverse index.
type Builder struct {
	Store     Store
	Limits    map[int]int // defaults to token.LevelLimit
	BatchSize int
	Workers   int // hashing goroutines per batch, defaults to NumCPU
}

func (b *Builder) limits() map[int]int {
	if b.Limits != nil {
		return b.Limits
	}
	return token.LevelLimit
}

func (b *Builder) batchSize() int {
	if b.BatchSize > 0 {
		return b.BatchSize
	}
	return DefaultBatchSize
}

func (b *Builder) workers() int {
	if b.Workers > 0 {
		return b.Workers
	}
	return runtime.NumCPU()
}

// Build populates the index for the given levels (all levels when empty).
// Re-running resumes from each level's checkpoint; force clears the store and
// rebuilds from scratch.
func (b *Builder) Build(ctx context.Context, levels []int, force bool) error {
	limits := b.limits()
	if len(levels) == 0 {
		for level := range limits {
			levels = append(levels, level)
		}
		sort.Ints(levels)
	}
	for _, level := range levels {
		if _, ok := limits[level]; !ok {
			return fmt.Errorf("unknown level %d", level)
		}
	}

	if force {
		log.Println("Clearing existing index")
		if err := b.Store.Clear(); err != nil {
			return fmt.Errorf("clear index: %w", err)
		}
	}

	start := time.Now()
	var written int64
	for _, level := range levels {
		n, err := b.buildLevel(ctx, level, limits[level])
		if err != nil {
			return err
		}
		written += n
	}
	log.Printf("Index build complete: %d entries written in %v", written, time.Since(start))
	return nil
}

func (b *Builder) buildLevel(ctx context.Context, level, limit int) (int64, error) {
	from, err := b.Store.Checkpoint(level)
	if err != nil {
		return 0, fmt.Errorf("read checkpoint for level %d: %w", level, err)
	}
	if from >= limit {
		log.Printf("Level %d already complete (%d entries), skipping", level, limit)
		return 0, nil
	}
	if from > 0 {
		log.Printf("Resuming level %d from token %d", level, from+1)
	}

	batchSize := b.batchSize()
	workers := b.workers()
	var written int64
	lastReport := time.Now()

	for lo := from + 1; lo <= limit; lo += batchSize {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		hi := lo + batchSize - 1
		if hi > limit {
			hi = limit
		}
		entries := make([]Entry, hi-lo+1)

		// Hash the batch in parallel, one contiguous stripe per worker.
		var wg sync.WaitGroup
		stripe := (len(entries) + workers - 1) / workers
		for w := 0; w < workers; w++ {
			first := w * stripe
			if first >= len(entries) {
				break
			}
			last := first + stripe
			if last > len(entries) {
				last = len(entries)
			}
			wg.Add(1)
			go func(first, last int) {
				defer wg.Done()
				for i := first; i < last; i++ {
					number := lo + i
					entries[i] = Entry{Hash: token.Hash(number), Level: level, Number: number}
				}
			}(first, last)
		}
		wg.Wait()

		if err := b.Store.PutBatch(level, hi, entries); err != nil {
			return written, fmt.Errorf("commit level %d tokens %d..%d: %w", level, lo, hi, err)
		}
		written += int64(len(entries))

		if time.Since(lastReport) >= 5*time.Second {
			log.Printf("Level %d: %d / %d tokens indexed", level, hi, limit)
			lastReport = time.Now()
		}
	}
	log.Printf("Level %d complete: %d tokens", level, limit)
	return written, nil
}

// VerifyReport summarizes a verification pass.
type VerifyReport struct {
	Checked    int64
	Missing    int64
	Mismatched int64
}

// OK reports whether every checked entry round-tripped.
func (r *VerifyReport) OK() bool {
	return r.Missing == 0 && r.Mismatched == 0
}

// Verify re-derives entries and confirms the stored mapping, without
// mutating state. Every sample-th token is checked; sample 1 checks the full
// universe.
func (b *Builder) Verify(ctx context.Context, sample int) (*VerifyReport, error) {
	if sample < 1 {
		sample = 1
	}
	limits := b.limits()
	levels := make([]int, 0, len(limits))
	for level := range limits {
		levels = append(levels, level)
	}
	sort.Ints(levels)

	report := &VerifyReport{}
	for _, level := range levels {
		for number := 1; number <= limits[level]; number += sample {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			default:
			}
			hash := token.Hash(number)
			key, err := b.Store.Lookup(hash)
			report.Checked++
			if err == ErrNotFound {
				report.Missing++
				continue
			}
			if err != nil {
				return report, fmt.Errorf("lookup during verify: %w", err)
			}
			// A level-1 token's hash is also every other level's hash for the
			// same number; any level claiming this number within range is
			// consistent with the enumeration.
			if key.Number != number || !key.Valid() {
				log.Printf("Mismatch: hash %s resolves to %s, derived from number %d", hash, key, number)
				report.Mismatched++
			}
		}
	}
	return report, nil
}
