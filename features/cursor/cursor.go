package cursor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"deskrag/features/corpus"
)

// Cursor is the per-source-type sync watermark. LastSyncedAt is the changed-at
// timestamp of the newest record a sync run durably enqueued, not wall time,
// so server-side write latency never skips records.
type Cursor struct {
	SourceType   corpus.SourceType `json:"source_type"`
	LastSyncedAt time.Time         `json:"last_synced_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

type Store interface {
	Get(ctx context.Context, sourceType corpus.SourceType) (time.Time, error)
	Advance(ctx context.Context, sourceType corpus.SourceType, to time.Time) error
	Reset(ctx context.Context, sourceType corpus.SourceType) error
	List(ctx context.Context) ([]Cursor, error)
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get returns the watermark for a source type. A type never synced before
// reports the zero time, which makes the first incremental run a full walk.
func (s *PostgresStore) Get(ctx context.Context, sourceType corpus.SourceType) (time.Time, error) {
	var last time.Time
	query := `SELECT last_synced_at FROM rag_sync_cursors WHERE source_type = $1`
	err := s.db.QueryRowContext(ctx, query, sourceType).Scan(&last)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return last, nil
}

// Advance moves the watermark forward. The WHERE guard on the upsert makes a
// stale writer a no-op, so the cursor is monotonic even under concurrent runs.
func (s *PostgresStore) Advance(ctx context.Context, sourceType corpus.SourceType, to time.Time) error {
	query := `INSERT INTO rag_sync_cursors (source_type, last_synced_at)
		VALUES ($1, $2)
		ON CONFLICT (source_type) DO UPDATE SET
			last_synced_at = EXCLUDED.last_synced_at,
			updated_at = NOW()
		WHERE rag_sync_cursors.last_synced_at < EXCLUDED.last_synced_at`
	if _, err := s.db.ExecContext(ctx, query, sourceType, to); err != nil {
		return fmt.Errorf("advance cursor %s: %w", sourceType, err)
	}
	return nil
}

// Reset removes the watermark entirely; the next incremental run starts from
// the beginning of history. Used by reindex with resetCursor.
func (s *PostgresStore) Reset(ctx context.Context, sourceType corpus.SourceType) error {
	query := `DELETE FROM rag_sync_cursors WHERE source_type = $1`
	_, err := s.db.ExecContext(ctx, query, sourceType)
	return err
}

func (s *PostgresStore) List(ctx context.Context) ([]Cursor, error) {
	query := `SELECT source_type, last_synced_at, updated_at FROM rag_sync_cursors ORDER BY source_type`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cursors []Cursor
	for rows.Next() {
		var c Cursor
		if err := rows.Scan(&c.SourceType, &c.LastSyncedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		cursors = append(cursors, c)
	}
	return cursors, rows.Err()
}
