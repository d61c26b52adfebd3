package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"deskrag/features/corpus"
	"deskrag/features/cursor"
	"deskrag/features/job"
	"deskrag/internal/backing"
	"deskrag/internal/middleware"
	"deskrag/internal/syncer"
)

var ErrConflictingScope = errors.New("customerId and sourceType are mutually exclusive")

// EventPublisher publishes pipeline ticks; backed by NSQ in production.
type EventPublisher interface {
	Publish(topic string, body []byte) error
}

// CustomerLister is the slice of the backing store the customer fan-out needs.
type CustomerLister interface {
	ListByCustomer(ctx context.Context, spec backing.Spec, customerID int64) ([]string, error)
}

type ReindexRequest struct {
	CustomerID  *int64 `json:"customerId,omitempty"`
	SourceType  string `json:"sourceType,omitempty"`
	SinceDays   int    `json:"sinceDays,omitempty"`
	ResetCursor bool   `json:"resetCursor,omitempty"`
}

type ReindexResult struct {
	Status       string `json:"status"`
	Scope        string `json:"scope"`
	ItemsSeen    int    `json:"itemsSeen"`
	JobsEnqueued int    `json:"jobsEnqueued"`
}

type StatusReport struct {
	Jobs           map[job.Status]int         `json:"jobs"`
	RecentFailed   []job.Job                  `json:"recentFailed"`
	NullEmbeddings *corpus.NullEmbeddingStats `json:"nullEmbeddings"`
	Cursors        []cursor.Cursor            `json:"cursors"`
	Sources        int                        `json:"sources"`
	Chunks         int                        `json:"chunks"`
}

type Service struct {
	syncer    *syncer.Syncer
	queue     job.Queue
	cursors   cursor.Store
	repo      corpus.Repository
	customers CustomerLister
	pub       EventPublisher

	ingestTickTopic string
}

func NewService(s *syncer.Syncer, queue job.Queue, cursors cursor.Store, repo corpus.Repository, customers CustomerLister, pub EventPublisher, ingestTickTopic string) *Service {
	return &Service{
		syncer:          s,
		queue:           queue,
		cursors:         cursors,
		repo:            repo,
		customers:       customers,
		pub:             pub,
		ingestTickTopic: ingestTickTopic,
	}
}

// Reindex queues a re-derivation of chunks for the requested scope: one
// customer's entities, one source type, or everything.
func (s *Service) Reindex(ctx context.Context, req ReindexRequest) (*ReindexResult, error) {
	if req.CustomerID != nil && req.SourceType != "" {
		return nil, ErrConflictingScope
	}

	var result *ReindexResult
	var err error
	switch {
	case req.CustomerID != nil:
		result, err = s.reindexCustomer(ctx, *req.CustomerID)
	case req.SourceType != "":
		result, err = s.reindexType(ctx, corpus.SourceType(req.SourceType), req)
	default:
		result, err = s.reindexAll(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	// Nudge the worker so queued jobs don't wait for the next scheduled tick.
	s.publishIngestTick(ctx)
	return result, nil
}

func (s *Service) reindexCustomer(ctx context.Context, customerID int64) (*ReindexResult, error) {
	result := &ReindexResult{Status: "queued", Scope: fmt.Sprintf("customer:%d", customerID)}

	for _, spec := range backing.Specs() {
		ids, err := s.customers.ListByCustomer(ctx, spec, customerID)
		if err != nil {
			return nil, fmt.Errorf("list %s for customer %d: %w", spec.Type, customerID, err)
		}
		jobs := make([]*job.Job, 0, len(ids))
		for _, id := range ids {
			jobs = append(jobs, job.NewIndexJob(spec.Type, id, job.OpReindex))
		}
		if err := s.queue.EnqueueBatch(ctx, jobs); err != nil {
			return nil, fmt.Errorf("enqueue %s jobs: %w", spec.Type, err)
		}
		result.ItemsSeen += len(ids)
		result.JobsEnqueued += len(jobs)
	}
	return result, nil
}

func (s *Service) reindexType(ctx context.Context, t corpus.SourceType, req ReindexRequest) (*ReindexResult, error) {
	if !t.IsValid() {
		return nil, fmt.Errorf("unknown source type %q", t)
	}

	res, err := s.syncer.SyncReindex(ctx, t, syncer.Options{
		StartAt:     sinceDaysToTime(req.SinceDays),
		MaxPages:    reindexMaxPages,
		ResetCursor: req.ResetCursor,
	})
	if err != nil {
		return nil, err
	}
	return &ReindexResult{
		Status:       "queued",
		Scope:        fmt.Sprintf("sourceType:%s", t),
		ItemsSeen:    res.ItemsSeen,
		JobsEnqueued: res.JobsEnqueued,
	}, nil
}

func (s *Service) reindexAll(ctx context.Context, req ReindexRequest) (*ReindexResult, error) {
	result := &ReindexResult{Status: "queued", Scope: "all"}
	startAt := sinceDaysToTime(req.SinceDays)

	for _, t := range corpus.AllTypes() {
		res, err := s.syncer.SyncReindex(ctx, t, syncer.Options{
			StartAt:     startAt,
			MaxPages:    reindexMaxPages,
			ResetCursor: req.ResetCursor,
		})
		if err != nil {
			// Full reindex keeps going; one broken upstream shouldn't block
			// re-deriving every other type.
			slog.ErrorContext(ctx, "reindex failed for type", "source_type", t, "error", err)
			continue
		}
		result.ItemsSeen += res.ItemsSeen
		result.JobsEnqueued += res.JobsEnqueued
	}
	return result, nil
}

// Status assembles the admin health view of the pipeline.
func (s *Service) Status(ctx context.Context) (*StatusReport, error) {
	histogram, err := s.queue.StatusHistogram(ctx)
	if err != nil {
		return nil, fmt.Errorf("job histogram: %w", err)
	}
	failed, err := s.queue.RecentFailed(ctx, recentFailedLimit)
	if err != nil {
		return nil, fmt.Errorf("recent failed jobs: %w", err)
	}
	if failed == nil {
		failed = []job.Job{}
	}
	nulls, err := s.repo.NullEmbeddings(ctx, nullEmbeddingSampleSize)
	if err != nil {
		return nil, fmt.Errorf("null embedding stats: %w", err)
	}
	cursors, err := s.cursors.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	if cursors == nil {
		cursors = []cursor.Cursor{}
	}
	sources, err := s.repo.CountSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("count sources: %w", err)
	}
	chunks, err := s.repo.CountChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}

	return &StatusReport{
		Jobs:           histogram,
		RecentFailed:   failed,
		NullEmbeddings: nulls,
		Cursors:        cursors,
		Sources:        sources,
		Chunks:         chunks,
	}, nil
}

func (s *Service) publishIngestTick(ctx context.Context) {
	payload := fmt.Sprintf(`{"correlation_id":%q}`, middleware.GetCorrelationID(ctx))
	if err := s.pub.Publish(s.ingestTickTopic, []byte(payload)); err != nil {
		slog.WarnContext(ctx, "failed to publish ingest tick", "error", err)
	}
}

func sinceDaysToTime(days int) time.Time {
	if days <= 0 {
		return time.Time{}
	}
	return time.Now().AddDate(0, 0, -days)
}

const (
	recentFailedLimit       = 50
	nullEmbeddingSampleSize = 10
	// reindexMaxPages caps one reindex walk; anything beyond it is picked
	// up by a follow-up request.
	reindexMaxPages = 1000
)
