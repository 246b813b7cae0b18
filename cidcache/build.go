package cidcache

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/b-open-io/token-index/token"
)

const (
	// DefaultBatchSize is the writer's commit size.
	DefaultBatchSize = 5000
	// DefaultQueueSize bounds the producer/writer hand-off; producers block
	// when the writer falls behind.
	DefaultQueueSize = 10000
)

// ContentAdder submits content to the storage network and returns its
// canonical CID. The network owns the CID algorithm, so a network round trip
// is required even though the content is derived locally.
type ContentAdder interface {
	Add(ctx context.Context, content string) (string, error)
}

// Builder populates the CID cache for a token number range of one level.
//
// Workers each take a disjoint sub-slice of the range, derive content, submit
// it to the network, and hand the resulting entry to a single writer over a
// bounded channel. The writer is the only store mutator, committing in
// batches. Inserts are keyed by CID and skip-if-present, so overlapping
// reruns are safe; a rerun costs only repeated add calls.
type Builder struct {
	Store     Store
	Adder     ContentAdder
	Workers   int // defaults to NumCPU-1
	BatchSize int
	QueueSize int
}

// Summary reports a completed run.
type Summary struct {
	Processed int64
	Written   int64
	Skipped   int64
	Elapsed   time.Duration
}

func (b *Builder) workers() int {
	if b.Workers > 0 {
		return b.Workers
	}
	if n := runtime.NumCPU() - 1; n > 1 {
		return n
	}
	return 1
}

func (b *Builder) batchSize() int {
	if b.BatchSize > 0 {
		return b.BatchSize
	}
	return DefaultBatchSize
}

func (b *Builder) queueSize() int {
	if b.QueueSize > 0 {
		return b.QueueSize
	}
	return DefaultQueueSize
}

// Run builds the cache for tokens [start, end] of level. end is clamped to
// the level's limit. An individual add failure logs and skips that token; a
// batch commit failure aborts the run and the operator reruns the range.
func (b *Builder) Run(ctx context.Context, level, start, end int) (*Summary, error) {
	limit, ok := token.LevelLimit[level]
	if !ok {
		return nil, fmt.Errorf("invalid level %d, must be %d-%d", level, token.MinLevel, token.MaxLevel)
	}
	if end > limit {
		end = limit
	}
	if start < 1 || start > end {
		return nil, fmt.Errorf("invalid range %d..%d for level %d (limit %d)", start, end, level, limit)
	}

	workers := b.workers()
	log.Printf("Building cid cache: level %d tokens %d..%d, %d workers, batch size %d",
		level, start, end, workers, b.batchSize())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan Entry, b.queueSize())
	summary := &Summary{}
	started := time.Now()

	// Single writer: the only persistence-layer mutator. A commit failure is
	// fatal for the run, so the writer cancels the producers on its way out.
	writerErr := make(chan error, 1)
	go func() {
		err := b.write(runCtx, queue, summary)
		if err != nil {
			cancel()
			// Drain so blocked producers can finish their sends.
			for range queue {
			}
		}
		writerErr <- err
	}()

	// Progress reporter.
	reporterDone := make(chan struct{})
	go func() {
		defer close(reporterDone)
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		total := int64(end - start + 1)
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				processed := atomic.LoadInt64(&summary.Processed)
				elapsed := time.Since(started).Seconds()
				rate := float64(processed) / elapsed
				log.Printf("Progress: %d/%d (%.1f%%) | %.0f/sec | errors %d",
					processed, total, float64(processed)/float64(total)*100,
					rate, atomic.LoadInt64(&summary.Skipped))
			}
		}
	}()

	// Producers: disjoint contiguous sub-slices of [start, end].
	var wg sync.WaitGroup
	count := end - start + 1
	stripe := (count + workers - 1) / workers
	for w := 0; w < workers; w++ {
		lo := start + w*stripe
		if lo > end {
			break
		}
		hi := lo + stripe - 1
		if hi > end {
			hi = end
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			b.produce(runCtx, queue, level, lo, hi, summary)
		}(lo, hi)
	}

	wg.Wait()
	close(queue)
	err := <-writerErr
	cancel()
	<-reporterDone

	summary.Elapsed = time.Since(started)
	if err != nil {
		return summary, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return summary, ctxErr
	}
	log.Printf("Completed level %d tokens %d..%d: %d written, %d skipped in %v",
		level, start, end, summary.Written, summary.Skipped, summary.Elapsed)
	return summary, nil
}

func (b *Builder) produce(ctx context.Context, queue chan<- Entry, level, lo, hi int, summary *Summary) {
	for number := lo; number <= hi; number++ {
		select {
		case <-ctx.Done():
			return
		default:
		}
		content := token.Content(level, number)
		cid, err := b.Adder.Add(ctx, content)
		atomic.AddInt64(&summary.Processed, 1)
		if err != nil {
			// Skip and move on; the token stays absent from the cache and a
			// later pass over the same range picks it up.
			log.Printf("Add failed for level %d token %d: %v", level, number, err)
			atomic.AddInt64(&summary.Skipped, 1)
			continue
		}
		select {
		case queue <- Entry{Cid: cid, Content: content, Level: level, Number: number}:
		case <-ctx.Done():
			return
		}
	}
}

func (b *Builder) write(ctx context.Context, queue <-chan Entry, summary *Summary) error {
	batchSize := b.batchSize()
	batch := make([]Entry, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := b.Store.PutBatch(ctx, batch); err != nil {
			return fmt.Errorf("commit batch of %d (tokens %d..%d): %w",
				len(batch), batch[0].Number, batch[len(batch)-1].Number, err)
		}
		atomic.AddInt64(&summary.Written, int64(len(batch)))
		batch = batch[:0]
		return nil
	}

	for entry := range queue {
		batch = append(batch, entry)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}
