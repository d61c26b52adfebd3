package corpus

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

type Repository interface {
	UpsertSource(ctx context.Context, src *Source) error
	ReplaceChunks(ctx context.Context, src *Source, chunks []Chunk) error
	DeleteSource(ctx context.Context, sourceType SourceType, sourceID string) error
	DeleteSources(ctx context.Context, sourceType SourceType, sourceIDs []string) (int64, error)
	ListSourceIDs(ctx context.Context, sourceType SourceType, limit int) ([]string, error)
	ListUnscopedSourceIDs(ctx context.Context, sourceType SourceType, limit int) ([]string, error)
	GetChunks(ctx context.Context, sourceType SourceType, sourceID string) ([]Chunk, error)
	CountSources(ctx context.Context) (int, error)
	CountChunks(ctx context.Context) (int, error)
	NullEmbeddings(ctx context.Context, sampleSize int) (*NullEmbeddingStats, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// UpsertSource inserts or refreshes the row for (source_type, source_id).
// Re-ingesting the same record is an overwrite, never a duplicate.
func (r *PostgresRepo) UpsertSource(ctx context.Context, src *Source) error {
	query := `INSERT INTO rag_sources (source_type, source_id, customer_id, metadata)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (source_type, source_id) DO UPDATE SET
			customer_id = EXCLUDED.customer_id,
			metadata = EXCLUDED.metadata,
			updated_at = NOW()
		RETURNING id`
	return r.db.QueryRowContext(ctx, query,
		src.SourceType, src.SourceID, src.CustomerID, src.Metadata,
	).Scan(&src.ID)
}

// ReplaceChunks upserts the source row and swaps its full chunk set in one
// transaction. Chunks are never partially updated: either the previous set
// survives intact or the new set replaces it wholesale.
func (r *PostgresRepo) ReplaceChunks(ctx context.Context, src *Source, chunks []Chunk) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	upsert := `INSERT INTO rag_sources (source_type, source_id, customer_id, metadata)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (source_type, source_id) DO UPDATE SET
			customer_id = EXCLUDED.customer_id,
			metadata = EXCLUDED.metadata,
			updated_at = NOW()
		RETURNING id`
	if err := tx.QueryRowContext(ctx, upsert,
		src.SourceType, src.SourceID, src.CustomerID, src.Metadata,
	).Scan(&src.ID); err != nil {
		return fmt.Errorf("upsert source: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM rag_chunks WHERE rag_source_id = $1`, src.ID); err != nil {
		return fmt.Errorf("delete old chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO rag_chunks (rag_source_id, chunk_index, text, embedding, token_estimate) VALUES ($1, $2, $3, $4, $5)`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		var embedding interface{}
		if c.Embedding != nil {
			embedding = pq.Float32Array(c.Embedding)
		}
		if _, err := stmt.ExecContext(ctx, src.ID, c.ChunkIndex, c.Text, embedding, c.TokenEstimate); err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.ChunkIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *PostgresRepo) DeleteSource(ctx context.Context, sourceType SourceType, sourceID string) error {
	query := `DELETE FROM rag_sources WHERE source_type = $1 AND source_id = $2`
	_, err := r.db.ExecContext(ctx, query, sourceType, sourceID)
	return err
}

// DeleteSources removes a batch of sources by natural key. Chunks cascade.
func (r *PostgresRepo) DeleteSources(ctx context.Context, sourceType SourceType, sourceIDs []string) (int64, error) {
	if len(sourceIDs) == 0 {
		return 0, nil
	}
	query := `DELETE FROM rag_sources WHERE source_type = $1 AND source_id = ANY($2)`
	res, err := r.db.ExecContext(ctx, query, sourceType, pq.Array(sourceIDs))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRepo) ListSourceIDs(ctx context.Context, sourceType SourceType, limit int) ([]string, error) {
	query := `SELECT source_id FROM rag_sources WHERE source_type = $1 ORDER BY id LIMIT $2`
	return r.queryIDs(ctx, query, sourceType, limit)
}

// ListUnscopedSourceIDs returns sources still missing a customer scope,
// candidates for the security sweep.
func (r *PostgresRepo) ListUnscopedSourceIDs(ctx context.Context, sourceType SourceType, limit int) ([]string, error) {
	query := `SELECT source_id FROM rag_sources WHERE source_type = $1 AND customer_id IS NULL ORDER BY id LIMIT $2`
	return r.queryIDs(ctx, query, sourceType, limit)
}

func (r *PostgresRepo) queryIDs(ctx context.Context, query string, sourceType SourceType, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, sourceType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PostgresRepo) GetChunks(ctx context.Context, sourceType SourceType, sourceID string) ([]Chunk, error) {
	query := `SELECT c.id, c.rag_source_id, c.chunk_index, c.text, c.embedding, c.token_estimate, c.created_at
		FROM rag_chunks c
		JOIN rag_sources s ON s.id = c.rag_source_id
		WHERE s.source_type = $1 AND s.source_id = $2
		ORDER BY c.chunk_index`
	rows, err := r.db.QueryContext(ctx, query, sourceType, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var embedding pq.Float32Array
		if err := rows.Scan(&c.ID, &c.RagSourceID, &c.ChunkIndex, &c.Text, &embedding, &c.TokenEstimate, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Embedding = []float32(embedding)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (r *PostgresRepo) CountSources(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rag_sources`).Scan(&count)
	return count, err
}

func (r *PostgresRepo) CountChunks(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rag_chunks`).Scan(&count)
	return count, err
}

// NullEmbeddings reports chunks whose embedding is still null, with a small
// sample of owning source keys for the admin status view.
func (r *PostgresRepo) NullEmbeddings(ctx context.Context, sampleSize int) (*NullEmbeddingStats, error) {
	stats := &NullEmbeddingStats{Sample: []string{}}

	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rag_chunks WHERE embedding IS NULL`).Scan(&stats.Count); err != nil {
		return nil, err
	}

	query := `SELECT DISTINCT s.source_type || ':' || s.source_id
		FROM rag_chunks c
		JOIN rag_sources s ON s.id = c.rag_source_id
		WHERE c.embedding IS NULL
		LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, sampleSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		stats.Sample = append(stats.Sample, key)
	}
	return stats, rows.Err()
}
