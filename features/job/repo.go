package job

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"deskrag/features/corpus"
)

type Queue interface {
	Enqueue(ctx context.Context, j *Job) error
	EnqueueBatch(ctx context.Context, jobs []*Job) error
	ClaimBatch(ctx context.Context, limit int) ([]Job, error)
	Complete(ctx context.Context, id int64) error
	Fail(ctx context.Context, id int64, reason string, maxAttempts int) error
	ReleaseStuck(ctx context.Context, olderThan time.Duration) (int64, error)
	Purge(ctx context.Context, olderThan time.Duration) (int64, error)
	StatusHistogram(ctx context.Context) (map[Status]int, error)
	RecentFailed(ctx context.Context, limit int) ([]Job, error)
}

type PostgresQueue struct {
	db *sql.DB
}

func NewPostgresQueue(db *sql.DB) *PostgresQueue {
	return &PostgresQueue{db: db}
}

const enqueueQuery = `INSERT INTO rag_ingestion_jobs (source_type, source_id, operation)
	VALUES ($1, $2, $3)
	ON CONFLICT (source_type, source_id, operation) WHERE status = 'pending' DO NOTHING`

// Enqueue adds a pending job. A pending duplicate for the same
// (source_type, source_id, operation) is a no-op: the queued job already
// covers the newer change because processing re-reads the system of record.
func (q *PostgresQueue) Enqueue(ctx context.Context, j *Job) error {
	_, err := q.db.ExecContext(ctx, enqueueQuery, j.SourceType, j.SourceID, j.Operation)
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// EnqueueBatch inserts a sync batch's jobs in one transaction so a cursor
// advance never races ahead of a half-written batch.
func (q *PostgresQueue) EnqueueBatch(ctx context.Context, jobs []*Job) error {
	if len(jobs) == 0 {
		return nil
	}
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, enqueueQuery)
	if err != nil {
		return fmt.Errorf("prepare enqueue: %w", err)
	}
	defer stmt.Close()

	for _, j := range jobs {
		if _, err := stmt.ExecContext(ctx, j.SourceType, j.SourceID, j.Operation); err != nil {
			return fmt.Errorf("enqueue %s/%s: %w", j.SourceType, j.SourceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ClaimBatch atomically moves up to limit pending jobs to processing and
// returns them. FOR UPDATE SKIP LOCKED lets concurrent workers claim
// disjoint batches without an external lock.
func (q *PostgresQueue) ClaimBatch(ctx context.Context, limit int) ([]Job, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	selectQuery := `SELECT id, source_type, source_id, operation, status, attempts, COALESCE(last_error, ''), created_at, updated_at
		FROM rag_ingestion_jobs
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`

	rows, err := tx.QueryContext(ctx, selectQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending jobs: %w", err)
	}

	var jobs []Job
	var ids []int64
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.SourceType, &j.SourceID, &j.Operation, &j.Status, &j.Attempts, &j.LastError, &j.CreatedAt, &j.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
		ids = append(ids, j.ID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, nil
	}

	updateQuery := `UPDATE rag_ingestion_jobs
		SET status = 'processing', attempts = attempts + 1, updated_at = NOW()
		WHERE id = ANY($1)`
	if _, err := tx.ExecContext(ctx, updateQuery, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	for i := range jobs {
		jobs[i].Status = StatusProcessing
		jobs[i].Attempts++
	}
	return jobs, nil
}

func (q *PostgresQueue) Complete(ctx context.Context, id int64) error {
	query := `UPDATE rag_ingestion_jobs SET status = 'completed', last_error = '', updated_at = NOW() WHERE id = $1`
	_, err := q.db.ExecContext(ctx, query, id)
	return err
}

// Fail records the error and either returns the job to pending for a later
// batch or marks it terminally failed once attempts reach maxAttempts.
func (q *PostgresQueue) Fail(ctx context.Context, id int64, reason string, maxAttempts int) error {
	query := `UPDATE rag_ingestion_jobs
		SET status = CASE WHEN attempts < $2 THEN 'pending' ELSE 'failed' END,
			last_error = $3,
			updated_at = NOW()
		WHERE id = $1`
	_, err := q.db.ExecContext(ctx, query, id, maxAttempts, reason)
	return err
}

// ReleaseStuck returns processing jobs older than the staleness threshold to
// pending. A killed worker leaves its claims here; the next batch picks them up.
func (q *PostgresQueue) ReleaseStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `UPDATE rag_ingestion_jobs
		SET status = 'pending', updated_at = NOW()
		WHERE status = 'processing' AND updated_at < $1`
	res, err := q.db.ExecContext(ctx, query, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Purge removes terminal jobs older than the retention window.
func (q *PostgresQueue) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `DELETE FROM rag_ingestion_jobs
		WHERE status IN ('completed', 'failed') AND updated_at < $1`
	res, err := q.db.ExecContext(ctx, query, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *PostgresQueue) StatusHistogram(ctx context.Context) (map[Status]int, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM rag_ingestion_jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	histogram := map[Status]int{
		StatusPending: 0, StatusProcessing: 0, StatusCompleted: 0, StatusFailed: 0,
	}
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		histogram[status] = count
	}
	return histogram, rows.Err()
}

func (q *PostgresQueue) RecentFailed(ctx context.Context, limit int) ([]Job, error) {
	query := `SELECT id, source_type, source_id, operation, status, attempts, COALESCE(last_error, ''), created_at, updated_at
		FROM rag_ingestion_jobs
		WHERE status = 'failed'
		ORDER BY updated_at DESC
		LIMIT $1`
	rows, err := q.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.SourceType, &j.SourceID, &j.Operation, &j.Status, &j.Attempts, &j.LastError, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// NewIndexJob is a convenience constructor for syncer enqueues.
func NewIndexJob(t corpus.SourceType, sourceID string, op Operation) *Job {
	return &Job{SourceType: t, SourceID: sourceID, Operation: op, Status: StatusPending}
}
