package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"deskrag/features/corpus"
	"deskrag/features/job"
	"deskrag/internal/backing"
	"deskrag/internal/embed"
	"deskrag/internal/syncer"
	"deskrag/internal/text"
)

// BatchStats reports what one ProcessBatch invocation did.
type BatchStats struct {
	Claimed   int `json:"claimed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Released  int `json:"released"`
}

// Processor drains the ingestion job queue in bounded batches. Jobs are
// independent by (source_type, source_id), so a batch fans out over a
// fixed-size pool; one job's failure never aborts the rest.
type Processor struct {
	queue    job.Queue
	repo     corpus.Repository
	registry *syncer.Registry
	embedder embed.Embedder

	concurrency int
	maxAttempts int
	stuckAfter  time.Duration
}

func NewProcessor(queue job.Queue, repo corpus.Repository, registry *syncer.Registry, embedder embed.Embedder, concurrency, maxAttempts int, stuckAfter time.Duration) *Processor {
	if concurrency < 1 {
		concurrency = 1
	}
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	return &Processor{
		queue:       queue,
		repo:        repo,
		registry:    registry,
		embedder:    embedder,
		concurrency: concurrency,
		maxAttempts: maxAttempts,
		stuckAfter:  stuckAfter,
	}
}

// ProcessBatch claims up to limit eligible jobs and processes each
// independently. Jobs stuck in processing past the staleness threshold are
// released back to pending first, so a killed run cannot strand work.
func (p *Processor) ProcessBatch(ctx context.Context, limit int) (*BatchStats, error) {
	stats := &BatchStats{}

	released, err := p.queue.ReleaseStuck(ctx, p.stuckAfter)
	if err != nil {
		return nil, fmt.Errorf("release stuck jobs: %w", err)
	}
	stats.Released = int(released)
	if released > 0 {
		slog.InfoContext(ctx, "released stuck jobs", "count", released)
	}

	jobs, err := p.queue.ClaimBatch(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	stats.Claimed = len(jobs)
	if len(jobs) == 0 {
		return stats, nil
	}

	pool, err := ants.NewPool(p.concurrency)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := range jobs {
		j := jobs[i]
		wg.Add(1)
		run := func() {
			defer wg.Done()
			ok := p.processJob(ctx, j)
			mu.Lock()
			if ok {
				stats.Completed++
			} else {
				stats.Failed++
			}
			mu.Unlock()
		}
		if err := pool.Submit(run); err != nil {
			run()
		}
	}
	wg.Wait()

	slog.InfoContext(ctx, "batch processed",
		"claimed", stats.Claimed, "completed", stats.Completed, "failed", stats.Failed)
	return stats, nil
}

// processJob runs one job to a terminal decision. Errors are recorded on the
// job, never propagated: isolate-and-continue.
func (p *Processor) processJob(ctx context.Context, j job.Job) bool {
	var err error
	switch j.Operation {
	case job.OpDelete:
		err = p.repo.DeleteSource(ctx, j.SourceType, j.SourceID)
	case job.OpIndex, job.OpReindex:
		err = p.index(ctx, j)
	default:
		err = fmt.Errorf("unknown operation %q", j.Operation)
	}

	if err != nil {
		slog.ErrorContext(ctx, "job failed",
			"job_id", j.ID, "source_type", j.SourceType, "source_id", j.SourceID,
			"operation", j.Operation, "attempts", j.Attempts, "error", err)
		if failErr := p.queue.Fail(ctx, j.ID, err.Error(), p.maxAttempts); failErr != nil {
			slog.ErrorContext(ctx, "failed to record job failure", "job_id", j.ID, "error", failErr)
		}
		return false
	}

	if err := p.queue.Complete(ctx, j.ID); err != nil {
		slog.ErrorContext(ctx, "failed to mark job completed", "job_id", j.ID, "error", err)
	}
	return true
}

func (p *Processor) index(ctx context.Context, j job.Job) error {
	handler, err := p.registry.Get(j.SourceType)
	if err != nil {
		return err
	}

	doc, err := handler.Load(ctx, j.SourceID)
	if errors.Is(err, backing.ErrRecordGone) {
		// Deleted between enqueue and processing. Clearing the index rows
		// here is exactly what a delete job would have done.
		return p.repo.DeleteSource(ctx, j.SourceType, j.SourceID)
	}
	if err != nil {
		return err
	}

	src := &corpus.Source{
		SourceType: j.SourceType,
		SourceID:   j.SourceID,
		CustomerID: doc.CustomerID,
		Metadata:   doc.Metadata,
	}

	pieces := text.Chunk(j.SourceType, doc.Text)
	chunks := make([]corpus.Chunk, 0, len(pieces))
	for i, piece := range pieces {
		chunk := corpus.Chunk{
			ChunkIndex:    i,
			Text:          piece,
			TokenEstimate: text.EstimateTokens(piece),
		}

		vector, err := p.embedder.Embed(ctx, piece)
		switch {
		case errors.Is(err, embed.ErrInputRejected):
			// Permanent for this input: keep the chunk retrievable-by-text
			// with a null embedding, surfaced for later backfill.
			slog.WarnContext(ctx, "embedding rejected, storing null vector",
				"source_type", j.SourceType, "source_id", j.SourceID, "chunk_index", i)
		case err != nil:
			return fmt.Errorf("embed chunk %d: %w", i, err)
		default:
			chunk.Embedding = vector
		}
		chunks = append(chunks, chunk)
	}

	// Empty text yields an empty chunk set, not an error; the replace still
	// clears any chunks from a previous snapshot.
	if err := p.repo.ReplaceChunks(ctx, src, chunks); err != nil {
		return fmt.Errorf("replace chunks: %w", err)
	}
	return nil
}
