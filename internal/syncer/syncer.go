package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"deskrag/features/corpus"
	"deskrag/features/cursor"
	"deskrag/features/job"
)

// ErrUpstreamOpen is returned when the circuit breaker is refusing calls to
// a source type's upstream.
var ErrUpstreamOpen = fmt.Errorf("upstream circuit breaker open")

// Options bounds a single sync run.
type Options struct {
	// StartAt bounds a reindex walk; zero means full history.
	StartAt time.Time
	// MaxPages caps how many change-feed pages one run may fetch.
	MaxPages int
	// ResetCursor drops the source type's watermark before a reindex.
	ResetCursor bool
}

// Result reports what one sync run did.
type Result struct {
	SourceType   corpus.SourceType `json:"source_type"`
	ItemsSeen    int               `json:"items_seen"`
	JobsEnqueued int               `json:"jobs_enqueued"`
}

// Syncer runs incremental and reindex passes over registered source types.
// Each invocation is short-lived and bounded; an external trigger decides
// when runs happen.
type Syncer struct {
	registry *Registry
	cursors  cursor.Store
	queue    job.Queue
	breaker  *Breaker

	pageSize int
	// safetyOverlap widens the incremental window backwards so records
	// committed with server-side latency around the watermark are re-read.
	safetyOverlap time.Duration
}

func New(registry *Registry, cursors cursor.Store, queue job.Queue, breaker *Breaker, pageSize int, safetyOverlap time.Duration) *Syncer {
	if pageSize < 1 {
		pageSize = 100
	}
	return &Syncer{
		registry:      registry,
		cursors:       cursors,
		queue:         queue,
		breaker:       breaker,
		pageSize:      pageSize,
		safetyOverlap: safetyOverlap,
	}
}

// SyncIncremental fetches records changed since the source type's cursor,
// enqueues an index job per record, and advances the cursor to the newest
// changed-at timestamp seen. A fetch failure aborts the run with the cursor
// unmoved; jobs already enqueued from earlier pages stay valid because job
// processing is idempotent per (source_type, source_id).
func (s *Syncer) SyncIncremental(ctx context.Context, t corpus.SourceType, maxPages int) (*Result, error) {
	h, err := s.registry.Get(t)
	if err != nil {
		return nil, err
	}
	if !s.breaker.Allow(h.Upstream()) {
		return nil, fmt.Errorf("%s: %w", h.Upstream(), ErrUpstreamOpen)
	}

	since, err := s.cursors.Get(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("read cursor %s: %w", t, err)
	}
	if !since.IsZero() {
		since = since.Add(-s.safetyOverlap)
	}

	result, latest, err := s.walk(ctx, h, since, maxPages, job.OpIndex)
	if err != nil {
		s.breaker.Failure(h.Upstream())
		return nil, err
	}
	s.breaker.Success(h.Upstream())

	if !latest.IsZero() {
		if err := s.cursors.Advance(ctx, t, latest); err != nil {
			// Jobs are durably enqueued; re-running against the stale
			// cursor reproduces them, so this is safe to surface.
			return nil, fmt.Errorf("advance cursor %s: %w", t, err)
		}
	}

	slog.InfoContext(ctx, "incremental sync finished",
		"source_type", t, "items_seen", result.ItemsSeen, "jobs_enqueued", result.JobsEnqueued)
	return result, nil
}

// SyncReindex walks the change feed from opts.StartAt (or all history) and
// enqueues reindex jobs for every record regardless of prior index state.
// The cursor is ignored, and optionally reset first.
func (s *Syncer) SyncReindex(ctx context.Context, t corpus.SourceType, opts Options) (*Result, error) {
	h, err := s.registry.Get(t)
	if err != nil {
		return nil, err
	}
	if !s.breaker.Allow(h.Upstream()) {
		return nil, fmt.Errorf("%s: %w", h.Upstream(), ErrUpstreamOpen)
	}

	if opts.ResetCursor {
		if err := s.cursors.Reset(ctx, t); err != nil {
			return nil, fmt.Errorf("reset cursor %s: %w", t, err)
		}
	}

	result, _, err := s.walk(ctx, h, opts.StartAt, opts.MaxPages, job.OpReindex)
	if err != nil {
		s.breaker.Failure(h.Upstream())
		return nil, err
	}
	s.breaker.Success(h.Upstream())

	slog.InfoContext(ctx, "reindex sync finished",
		"source_type", t, "items_seen", result.ItemsSeen, "jobs_enqueued", result.JobsEnqueued)
	return result, nil
}

// SyncAll runs an incremental pass for every registered source type.
// Failures are isolated per type: one upstream being down never blocks the
// other syncers.
func (s *Syncer) SyncAll(ctx context.Context, maxPages int) []Result {
	var results []Result
	for _, t := range s.registry.Types() {
		res, err := s.SyncIncremental(ctx, t, maxPages)
		if err != nil {
			slog.ErrorContext(ctx, "sync failed", "source_type", t, "error", err)
			continue
		}
		results = append(results, *res)
	}
	return results
}

func (s *Syncer) walk(ctx context.Context, h SourceHandler, since time.Time, maxPages int, op job.Operation) (*Result, time.Time, error) {
	if maxPages < 1 {
		maxPages = 1
	}

	result := &Result{SourceType: h.Type()}
	var latest time.Time

	for page := 0; page < maxPages; page++ {
		records, err := h.FetchChanged(ctx, since, s.pageSize, page*s.pageSize)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("fetch page %d for %s: %w", page, h.Type(), err)
		}
		if len(records) == 0 {
			break
		}

		jobs := make([]*job.Job, 0, len(records))
		for _, r := range records {
			jobs = append(jobs, job.NewIndexJob(h.Type(), r.SourceID, op))
			if r.ChangedAt.After(latest) {
				latest = r.ChangedAt
			}
		}
		if err := s.queue.EnqueueBatch(ctx, jobs); err != nil {
			return nil, time.Time{}, fmt.Errorf("enqueue page %d for %s: %w", page, h.Type(), err)
		}

		result.ItemsSeen += len(records)
		result.JobsEnqueued += len(jobs)

		if len(records) < s.pageSize {
			break
		}
	}

	return result, latest, nil
}
