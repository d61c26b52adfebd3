package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskrag/features/corpus"
	"deskrag/features/job"
	"deskrag/internal/backing"
	"deskrag/internal/embed"
	"deskrag/internal/syncer"
	"deskrag/internal/worker"
)

type stubQueue struct {
	mu        sync.Mutex
	claimable []job.Job
	completed []int64
	failed    map[int64]string
	released  int64
	claimErr  error
}

func newStubQueue(jobs ...job.Job) *stubQueue {
	return &stubQueue{claimable: jobs, failed: make(map[int64]string)}
}

func (q *stubQueue) Enqueue(context.Context, *job.Job) error        { return nil }
func (q *stubQueue) EnqueueBatch(context.Context, []*job.Job) error { return nil }

func (q *stubQueue) ClaimBatch(_ context.Context, limit int) ([]job.Job, error) {
	if q.claimErr != nil {
		return nil, q.claimErr
	}
	if limit > len(q.claimable) {
		limit = len(q.claimable)
	}
	batch := q.claimable[:limit]
	q.claimable = q.claimable[limit:]
	return batch, nil
}

func (q *stubQueue) Complete(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed = append(q.completed, id)
	return nil
}

func (q *stubQueue) Fail(_ context.Context, id int64, reason string, _ int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed[id] = reason
	return nil
}

func (q *stubQueue) ReleaseStuck(context.Context, time.Duration) (int64, error) {
	return q.released, nil
}

func (q *stubQueue) Purge(context.Context, time.Duration) (int64, error) { return 0, nil }

func (q *stubQueue) StatusHistogram(context.Context) (map[job.Status]int, error) {
	return nil, nil
}

func (q *stubQueue) RecentFailed(context.Context, int) ([]job.Job, error) { return nil, nil }

type stubRepo struct {
	corpus.Repository
	mu       sync.Mutex
	replaced map[string][]corpus.Chunk
	sources  map[string]*corpus.Source
	deleted  []string
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		replaced: make(map[string][]corpus.Chunk),
		sources:  make(map[string]*corpus.Source),
	}
}

func key(t corpus.SourceType, id string) string { return string(t) + ":" + id }

func (r *stubRepo) ReplaceChunks(_ context.Context, src *corpus.Source, chunks []corpus.Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(src.SourceType, src.SourceID)
	r.replaced[k] = chunks
	r.sources[k] = src
	return nil
}

func (r *stubRepo) DeleteSource(_ context.Context, t corpus.SourceType, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, key(t, id))
	return nil
}

type stubHandler struct {
	sourceType corpus.SourceType
	docs       map[string]*backing.Document
	loadErr    error
}

func (h *stubHandler) Type() corpus.SourceType { return h.sourceType }
func (h *stubHandler) Upstream() string        { return "internal" }

func (h *stubHandler) FetchChanged(context.Context, time.Time, int, int) ([]backing.ChangedRecord, error) {
	return nil, nil
}

func (h *stubHandler) Load(_ context.Context, sourceID string) (*backing.Document, error) {
	if h.loadErr != nil {
		return nil, h.loadErr
	}
	doc, ok := h.docs[sourceID]
	if !ok {
		return nil, backing.ErrRecordGone
	}
	return doc, nil
}

func newRegistry(handlers ...*stubHandler) *syncer.Registry {
	reg := syncer.NewRegistry()
	for _, h := range handlers {
		reg.Register(h)
	}
	return reg
}

func TestProcessBatch(t *testing.T) {
	customerID := int64(42)

	t.Run("Index Job Replaces Chunks", func(t *testing.T) {
		queue := newStubQueue(job.Job{ID: 1, SourceType: corpus.TypeTicket, SourceID: "1001", Operation: job.OpIndex})
		repo := newStubRepo()
		handler := &stubHandler{
			sourceType: corpus.TypeTicket,
			docs: map[string]*backing.Document{
				"1001": {Text: "Login broken.\n\nCannot sign in.", CustomerID: &customerID},
			},
		}
		p := worker.NewProcessor(queue, repo, newRegistry(handler), embed.NewMockEmbedder(), 2, 3, time.Minute)

		stats, err := p.ProcessBatch(context.Background(), 10)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Claimed)
		assert.Equal(t, 1, stats.Completed)
		assert.Zero(t, stats.Failed)

		chunks := repo.replaced[key(corpus.TypeTicket, "1001")]
		require.NotEmpty(t, chunks)
		assert.NotNil(t, chunks[0].Embedding)
		assert.Equal(t, 0, chunks[0].ChunkIndex)
		require.NotNil(t, repo.sources[key(corpus.TypeTicket, "1001")].CustomerID)
		assert.Contains(t, queue.completed, int64(1))
	})

	t.Run("Delete Job Removes Source", func(t *testing.T) {
		queue := newStubQueue(job.Job{ID: 2, SourceType: corpus.TypeTicket, SourceID: "1001", Operation: job.OpDelete})
		repo := newStubRepo()
		p := worker.NewProcessor(queue, repo, newRegistry(), embed.NewMockEmbedder(), 2, 3, time.Minute)

		stats, err := p.ProcessBatch(context.Background(), 10)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Completed)
		assert.Contains(t, repo.deleted, key(corpus.TypeTicket, "1001"))
	})

	t.Run("Record Gone Becomes Delete", func(t *testing.T) {
		queue := newStubQueue(job.Job{ID: 3, SourceType: corpus.TypeTicket, SourceID: "gone", Operation: job.OpIndex})
		repo := newStubRepo()
		handler := &stubHandler{sourceType: corpus.TypeTicket, docs: map[string]*backing.Document{}}
		p := worker.NewProcessor(queue, repo, newRegistry(handler), embed.NewMockEmbedder(), 2, 3, time.Minute)

		stats, err := p.ProcessBatch(context.Background(), 10)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Completed, "a vanished record is a successful cleanup, not a failure")
		assert.Contains(t, repo.deleted, key(corpus.TypeTicket, "gone"))
		assert.Empty(t, repo.replaced)
	})

	t.Run("Rejected Input Stores Null Embedding", func(t *testing.T) {
		queue := newStubQueue(job.Job{ID: 4, SourceType: corpus.TypeTicket, SourceID: "1001", Operation: job.OpIndex})
		repo := newStubRepo()
		handler := &stubHandler{
			sourceType: corpus.TypeTicket,
			docs:       map[string]*backing.Document{"1001": {Text: "blocked content"}},
		}
		embedder := embed.NewMockEmbedder()
		embedder.EmbedFunc = func(context.Context, string) ([]float32, error) {
			return nil, embed.ErrInputRejected
		}
		p := worker.NewProcessor(queue, repo, newRegistry(handler), embedder, 2, 3, time.Minute)

		stats, err := p.ProcessBatch(context.Background(), 10)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Completed)

		chunks := repo.replaced[key(corpus.TypeTicket, "1001")]
		require.Len(t, chunks, 1)
		assert.Nil(t, chunks[0].Embedding)
		assert.Equal(t, "blocked content", chunks[0].Text)
	})

	t.Run("Transient Embed Error Fails The Job", func(t *testing.T) {
		queue := newStubQueue(job.Job{ID: 5, SourceType: corpus.TypeTicket, SourceID: "1001", Operation: job.OpIndex})
		repo := newStubRepo()
		handler := &stubHandler{
			sourceType: corpus.TypeTicket,
			docs:       map[string]*backing.Document{"1001": {Text: "some text"}},
		}
		embedder := embed.NewMockEmbedder()
		embedder.EmbedFunc = func(context.Context, string) ([]float32, error) {
			return nil, errors.New("rate limited")
		}
		p := worker.NewProcessor(queue, repo, newRegistry(handler), embedder, 2, 3, time.Minute)

		stats, err := p.ProcessBatch(context.Background(), 10)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Failed)
		assert.Contains(t, queue.failed[5], "rate limited")
		assert.Empty(t, repo.replaced, "no partial chunk writes on failure")
	})

	t.Run("One Bad Job Does Not Abort The Batch", func(t *testing.T) {
		queue := newStubQueue(
			job.Job{ID: 6, SourceType: corpus.TypeTicket, SourceID: "ok", Operation: job.OpIndex},
			job.Job{ID: 7, SourceType: corpus.TypeTicket, SourceID: "bad", Operation: job.Operation("bogus")},
		)
		repo := newStubRepo()
		handler := &stubHandler{
			sourceType: corpus.TypeTicket,
			docs:       map[string]*backing.Document{"ok": {Text: "fine"}},
		}
		p := worker.NewProcessor(queue, repo, newRegistry(handler), embed.NewMockEmbedder(), 2, 3, time.Minute)

		stats, err := p.ProcessBatch(context.Background(), 10)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Claimed)
		assert.Equal(t, 1, stats.Completed)
		assert.Equal(t, 1, stats.Failed)
	})

	t.Run("Empty Text Clears Previous Chunks", func(t *testing.T) {
		queue := newStubQueue(job.Job{ID: 8, SourceType: corpus.TypeTicket, SourceID: "1001", Operation: job.OpReindex})
		repo := newStubRepo()
		handler := &stubHandler{
			sourceType: corpus.TypeTicket,
			docs:       map[string]*backing.Document{"1001": {Text: "   "}},
		}
		p := worker.NewProcessor(queue, repo, newRegistry(handler), embed.NewMockEmbedder(), 2, 3, time.Minute)

		stats, err := p.ProcessBatch(context.Background(), 10)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Completed)

		chunks, ok := repo.replaced[key(corpus.TypeTicket, "1001")]
		assert.True(t, ok, "replace must still run to clear the old snapshot")
		assert.Empty(t, chunks)
	})

	t.Run("Empty Queue", func(t *testing.T) {
		queue := newStubQueue()
		p := worker.NewProcessor(queue, newStubRepo(), newRegistry(), embed.NewMockEmbedder(), 2, 3, time.Minute)

		stats, err := p.ProcessBatch(context.Background(), 10)
		require.NoError(t, err)
		assert.Zero(t, stats.Claimed)
	})

	t.Run("Reports Released Stuck Jobs", func(t *testing.T) {
		queue := newStubQueue()
		queue.released = 3
		p := worker.NewProcessor(queue, newStubRepo(), newRegistry(), embed.NewMockEmbedder(), 2, 3, time.Minute)

		stats, err := p.ProcessBatch(context.Background(), 10)
		require.NoError(t, err)
		assert.Equal(t, 3, stats.Released)
	})
}
