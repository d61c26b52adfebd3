package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"deskrag/features/corpus"
	"deskrag/features/job"
	"deskrag/internal/middleware"
	"deskrag/internal/sweeper"
	"deskrag/internal/syncer"
)

// Tick consumers connect the external scheduler to the pipeline. Each tick
// triggers exactly one bounded unit of work; all durable state lives in
// Postgres, so a dropped or duplicated tick costs nothing but time.

type SyncTickPayload struct {
	SourceType    string `json:"source_type,omitempty"`
	MaxPages      int    `json:"max_pages,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

type IngestTickPayload struct {
	Limit         int    `json:"limit,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

type SweepTickPayload struct {
	LimitPerType  int    `json:"limit_per_type,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

type SyncTickConsumer struct {
	syncer          *syncer.Syncer
	defaultMaxPages int
}

func NewSyncTickConsumer(s *syncer.Syncer, defaultMaxPages int) *SyncTickConsumer {
	return &SyncTickConsumer{syncer: s, defaultMaxPages: defaultMaxPages}
}

func (c *SyncTickConsumer) HandleMessage(m *nsq.Message) error {
	var payload SyncTickPayload
	if len(m.Body) > 0 {
		if err := json.Unmarshal(m.Body, &payload); err != nil {
			slog.Error("invalid sync tick, dropping", "error", err)
			return nil
		}
	}
	ctx := tickContext(payload.CorrelationID)

	maxPages := payload.MaxPages
	if maxPages < 1 {
		maxPages = c.defaultMaxPages
	}

	if payload.SourceType != "" {
		t := corpus.SourceType(payload.SourceType)
		if !t.IsValid() {
			slog.ErrorContext(ctx, "unknown source type in sync tick, dropping", "source_type", payload.SourceType)
			return nil
		}
		if _, err := c.syncer.SyncIncremental(ctx, t, maxPages); err != nil {
			// The cursor didn't move; the next tick covers the same window.
			slog.ErrorContext(ctx, "sync tick failed", "source_type", t, "error", err)
		}
		return nil
	}

	c.syncer.SyncAll(ctx, maxPages)
	return nil
}

type IngestTickConsumer struct {
	processor    *Processor
	defaultLimit int
}

func NewIngestTickConsumer(p *Processor, defaultLimit int) *IngestTickConsumer {
	return &IngestTickConsumer{processor: p, defaultLimit: defaultLimit}
}

func (c *IngestTickConsumer) HandleMessage(m *nsq.Message) error {
	var payload IngestTickPayload
	if len(m.Body) > 0 {
		if err := json.Unmarshal(m.Body, &payload); err != nil {
			slog.Error("invalid ingest tick, dropping", "error", err)
			return nil
		}
	}
	ctx := tickContext(payload.CorrelationID)

	limit := payload.Limit
	if limit < 1 {
		limit = c.defaultLimit
	}

	if _, err := c.processor.ProcessBatch(ctx, limit); err != nil {
		slog.ErrorContext(ctx, "ingest tick failed", "error", err)
	}
	return nil
}

type SweepTickConsumer struct {
	sweeper      *sweeper.Sweeper
	queue        job.Queue
	retention    time.Duration
	defaultLimit int
}

func NewSweepTickConsumer(s *sweeper.Sweeper, queue job.Queue, retention time.Duration, defaultLimit int) *SweepTickConsumer {
	return &SweepTickConsumer{sweeper: s, queue: queue, retention: retention, defaultLimit: defaultLimit}
}

func (c *SweepTickConsumer) HandleMessage(m *nsq.Message) error {
	var payload SweepTickPayload
	if len(m.Body) > 0 {
		if err := json.Unmarshal(m.Body, &payload); err != nil {
			slog.Error("invalid sweep tick, dropping", "error", err)
			return nil
		}
	}
	ctx := tickContext(payload.CorrelationID)

	limit := payload.LimitPerType
	if limit < 1 {
		limit = c.defaultLimit
	}

	start := time.Now()
	reports := c.sweeper.Sweep(ctx, limit)

	// Sweep ticks double as the maintenance pass for the job table.
	purged, err := c.queue.Purge(ctx, c.retention)
	if err != nil {
		slog.ErrorContext(ctx, "job purge failed", "error", err)
	}

	slog.InfoContext(ctx, "sweep pass finished",
		"types", len(reports), "purged_jobs", purged, "duration", time.Since(start))
	return nil
}

func tickContext(correlationID string) context.Context {
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	return middleware.WithCorrelationID(context.Background(), correlationID)
}
