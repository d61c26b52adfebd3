package corpus_test

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskrag/features/corpus"
)

func TestPostgresRepo_UpsertSource(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := corpus.NewPostgresRepo(db)

	t.Run("Insert Returns ID", func(t *testing.T) {
		customerID := int64(42)
		src := &corpus.Source{
			SourceType: corpus.TypeTicket,
			SourceID:   "1001",
			CustomerID: &customerID,
			Metadata:   json.RawMessage(`{"status":"open"}`),
		}

		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO rag_sources (source_type, source_id, customer_id, metadata)")).
			WithArgs(src.SourceType, src.SourceID, src.CustomerID, src.Metadata).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

		err := repo.UpsertSource(context.Background(), src)
		assert.NoError(t, err)
		assert.Equal(t, int64(7), src.ID)
	})
}

func TestPostgresRepo_ReplaceChunks(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := corpus.NewPostgresRepo(db)

	t.Run("Atomic Swap", func(t *testing.T) {
		src := &corpus.Source{
			SourceType: corpus.TypeTicket,
			SourceID:   "1001",
			Metadata:   json.RawMessage(`{}`),
		}
		chunks := []corpus.Chunk{
			{ChunkIndex: 0, Text: "first", Embedding: []float32{0.1, 0.2}, TokenEstimate: 2},
			{ChunkIndex: 1, Text: "second", Embedding: nil, TokenEstimate: 2},
		}

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO rag_sources (source_type, source_id, customer_id, metadata)")).
			WithArgs(src.SourceType, src.SourceID, src.CustomerID, src.Metadata).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM rag_chunks WHERE rag_source_id = $1")).
			WithArgs(int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO rag_chunks (rag_source_id, chunk_index, text, embedding, token_estimate) VALUES ($1, $2, $3, $4, $5)"))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO rag_chunks")).
			WithArgs(int64(7), 0, "first", pq.Float32Array{0.1, 0.2}, 2).
			WillReturnResult(sqlmock.NewResult(1, 1))
		// Null embedding stays null until a later re-embed.
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO rag_chunks")).
			WithArgs(int64(7), 1, "second", nil, 2).
			WillReturnResult(sqlmock.NewResult(2, 1))
		mock.ExpectCommit()

		err := repo.ReplaceChunks(context.Background(), src, chunks)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Rollback On Chunk Error", func(t *testing.T) {
		src := &corpus.Source{SourceType: corpus.TypeTicket, SourceID: "1002", Metadata: json.RawMessage(`{}`)}
		chunks := []corpus.Chunk{{ChunkIndex: 0, Text: "only", TokenEstimate: 1}}

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO rag_sources")).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(8)))
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM rag_chunks")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO rag_chunks"))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO rag_chunks")).
			WillReturnError(assert.AnError)
		mock.ExpectRollback()

		err := repo.ReplaceChunks(context.Background(), src, chunks)
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresRepo_DeleteSources(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := corpus.NewPostgresRepo(db)

	t.Run("Batch Delete", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM rag_sources WHERE source_type = $1 AND source_id = ANY($2)")).
			WithArgs(corpus.TypeShopifyOrder, pq.Array([]string{"o1", "o2"})).
			WillReturnResult(sqlmock.NewResult(0, 2))

		deleted, err := repo.DeleteSources(context.Background(), corpus.TypeShopifyOrder, []string{"o1", "o2"})
		assert.NoError(t, err)
		assert.Equal(t, int64(2), deleted)
	})

	t.Run("Empty Batch Is A No-Op", func(t *testing.T) {
		deleted, err := repo.DeleteSources(context.Background(), corpus.TypeShopifyOrder, nil)
		assert.NoError(t, err)
		assert.Zero(t, deleted)
	})
}

func TestPostgresRepo_ListUnscopedSourceIDs(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := corpus.NewPostgresRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT source_id FROM rag_sources WHERE source_type = $1 AND customer_id IS NULL ORDER BY id LIMIT $2")).
		WithArgs(corpus.TypeTicket, 100).
		WillReturnRows(sqlmock.NewRows([]string{"source_id"}).AddRow("t1").AddRow("t2"))

	ids, err := repo.ListUnscopedSourceIDs(context.Background(), corpus.TypeTicket, 100)
	assert.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, ids)
}

func TestPostgresRepo_GetChunks(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := corpus.NewPostgresRepo(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "rag_source_id", "chunk_index", "text", "embedding", "token_estimate", "created_at"}).
		AddRow(int64(1), int64(7), 0, "first", "{0.5,0.5}", 2, now).
		AddRow(int64(2), int64(7), 1, "second", nil, 2, now)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT c.id, c.rag_source_id, c.chunk_index, c.text, c.embedding, c.token_estimate, c.created_at")).
		WithArgs(corpus.TypeTicket, "1001").
		WillReturnRows(rows)

	chunks, err := repo.GetChunks(context.Background(), corpus.TypeTicket, "1001")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, []float32{0.5, 0.5}, chunks[0].Embedding)
	assert.Nil(t, chunks[1].Embedding)
	assert.Equal(t, 1, chunks[1].ChunkIndex)
}

func TestPostgresRepo_NullEmbeddings(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := corpus.NewPostgresRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM rag_chunks WHERE embedding IS NULL")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT s.source_type || ':' || s.source_id")).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"key"}).AddRow("ticket:1001").AddRow("email:9"))

	stats, err := repo.NullEmbeddings(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Count)
	assert.Equal(t, []string{"ticket:1001", "email:9"}, stats.Sample)
}
