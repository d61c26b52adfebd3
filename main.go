package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"deskrag/features/admin"
	"deskrag/features/corpus"
	"deskrag/features/cursor"
	"deskrag/features/job"
	"deskrag/internal/adapter/gemini"
	"deskrag/internal/app"
	"deskrag/internal/backing"
	"deskrag/internal/config"
	"deskrag/internal/embed"
	"deskrag/internal/logger"
	"deskrag/internal/middleware"
	"deskrag/internal/sweeper"
	"deskrag/internal/syncer"
	"deskrag/internal/worker"

	"github.com/nsqio/go-nsq"
)

func main() {
	// Structured logger with correlation IDs pulled from context
	base := slog.NewJSONHandler(os.Stdout, nil)
	slog.SetDefault(slog.New(logger.NewContextHandler(base)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer deps.DB.Close()
	slog.Info("migrations applied successfully")

	// Repositories
	corpusRepo := corpus.NewPostgresRepo(deps.DB)
	jobQueue := job.NewPostgresQueue(deps.DB)
	cursorStore := cursor.NewPostgresStore(deps.DB)
	backingStore := backing.NewStore(deps.DB)

	// Embedder: Gemini when a key is configured, deterministic mock otherwise
	// so local stacks run without external credentials.
	var embedder embed.Embedder
	if cfg.GeminiAPIKey != "" {
		geminiEmbedder, err := gemini.NewEmbedder(ctx, cfg.GeminiAPIKey)
		if err != nil {
			slog.Error("failed to create gemini embedder", "error", err)
			os.Exit(1)
		}
		defer geminiEmbedder.Close()
		embedder = geminiEmbedder
	} else {
		slog.Warn("GEMINI_API_KEY not set, using mock embedder")
		embedder = embed.NewMockEmbedder()
	}

	// Pipeline
	registry := syncer.NewRegistry()
	syncer.RegisterTableHandlers(registry, backingStore)

	breaker := syncer.NewBreaker(cfg.BreakerFailureLimit, time.Duration(cfg.BreakerCooldownMinutes)*time.Minute)
	syncEngine := syncer.New(registry, cursorStore, jobQueue, breaker,
		cfg.SyncPageSize, time.Duration(cfg.SyncSafetyOverlapSec)*time.Second)

	processor := worker.NewProcessor(jobQueue, corpusRepo, registry, embedder,
		cfg.WorkerConcurrency, cfg.JobMaxAttempts, time.Duration(cfg.JobStuckAfterMinutes)*time.Minute)

	orphanSweeper := sweeper.New(corpusRepo, backingStore)

	// NSQ tick consumers
	consumers := []struct {
		topic   string
		handler nsq.Handler
	}{
		{config.TopicSyncTick, worker.NewSyncTickConsumer(syncEngine, cfg.SyncMaxPages)},
		{config.TopicIngestTick, worker.NewIngestTickConsumer(processor, cfg.WorkerBatchLimit)},
		{config.TopicSweepTick, worker.NewSweepTickConsumer(orphanSweeper, jobQueue,
			time.Duration(cfg.JobRetentionDays)*24*time.Hour, cfg.SweepLimitPerType)},
	}
	for _, c := range consumers {
		consumer, err := nsq.NewConsumer(c.topic, "deskrag", nsq.NewConfig())
		if err != nil {
			slog.Error("failed to create NSQ consumer", "topic", c.topic, "error", err)
			os.Exit(1)
		}
		consumer.AddHandler(c.handler)
		if err := consumer.ConnectToNSQLookupd(cfg.NSQLookupd); err != nil {
			slog.Error("failed to connect to NSQLookupd", "topic", c.topic, "error", err)
			os.Exit(1)
		}
		slog.Info("NSQ consumer connected", "topic", c.topic)
	}

	// Admin surface
	adminService := admin.NewService(syncEngine, jobQueue, cursorStore, corpusRepo,
		backingStore, deps.NSQProducer, config.TopicIngestTick)
	adminHandler := admin.NewHandler(adminService)

	auth := middleware.NewAdminAuth(cfg.AdminJWTSecret)
	limiter := middleware.NewRateLimiter(deps.Redis, cfg.AdminRateLimit,
		time.Duration(cfg.AdminRateWindowSec)*time.Second)

	guard := func(next http.HandlerFunc) http.Handler {
		return middleware.CorrelationID(limiter.Limit(auth.Require(next)))
	}
	http.Handle("POST /admin/rag/reindex", guard(adminHandler.Reindex))
	http.Handle("GET /admin/rag/status", guard(adminHandler.Status))

	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	slog.Info("server starting", "port", cfg.ServerPort)
	if err := http.ListenAndServe(addr, nil); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
