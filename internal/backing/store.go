package backing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// ErrRecordGone marks a backing record that no longer exists. The worker
// treats it as a signal to drop the index rows rather than as a failure.
var ErrRecordGone = errors.New("backing record no longer exists")

// ChangedRecord is one entry of a change feed page.
type ChangedRecord struct {
	SourceID  string
	ChangedAt time.Time
}

// Document is a backing record rendered for indexing.
type Document struct {
	Text       string
	Metadata   json.RawMessage
	CustomerID *int64
}

// Store reads backing tables on behalf of the pipeline. All queries are
// built from Spec fields, never from caller input.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// FetchChanged returns one page of records changed at or after since,
// ordered oldest first. The inclusive bound re-reads the boundary record on
// the next run; re-ingestion is idempotent so the overlap is harmless and
// protects against server-side write latency.
func (s *Store) FetchChanged(ctx context.Context, spec Spec, since time.Time, limit, offset int) ([]ChangedRecord, error) {
	query := fmt.Sprintf(
		`SELECT %s, %s FROM %s WHERE %s >= $1 ORDER BY %s ASC, %s ASC LIMIT $2 OFFSET $3`,
		spec.IDExpr, spec.ChangedCol, spec.Table, spec.ChangedCol, spec.ChangedCol, spec.IDExpr,
	)
	rows, err := s.db.QueryContext(ctx, query, since, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("fetch changed %s: %w", spec.Type, err)
	}
	defer rows.Close()

	var records []ChangedRecord
	for rows.Next() {
		var r ChangedRecord
		if err := rows.Scan(&r.SourceID, &r.ChangedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// LoadDocument renders the current state of one backing record.
func (s *Store) LoadDocument(ctx context.Context, spec Spec, sourceID string) (*Document, error) {
	customerExpr := "NULL::bigint"
	if spec.CustomerCol != "" {
		customerExpr = spec.CustomerCol
	}
	query := fmt.Sprintf(
		`SELECT %s, %s, %s FROM %s WHERE %s = $1`,
		spec.TextExpr, spec.MetaExpr, customerExpr, spec.Table, spec.IDExpr,
	)

	var doc Document
	var customerID sql.NullInt64
	err := s.db.QueryRowContext(ctx, query, sourceID).Scan(&doc.Text, &doc.Metadata, &customerID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s/%s: %w", spec.Type, sourceID, ErrRecordGone)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s/%s: %w", spec.Type, sourceID, err)
	}
	if customerID.Valid {
		doc.CustomerID = &customerID.Int64
	}
	return &doc, nil
}

// FilterMissing returns the subset of ids with no live backing record,
// i.e. referential orphans from the index's point of view.
func (s *Store) FilterMissing(ctx context.Context, spec Spec, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ANY($1)`, spec.IDExpr, spec.Table, spec.IDExpr)
	present, err := s.queryIDSet(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("filter missing %s: %w", spec.Type, err)
	}

	var missing []string
	for _, id := range ids {
		if !present[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// FilterScoped returns the subset of ids whose backing record has a non-null
// customer link. For an unscoped index row this means the scope was dropped
// on the index side only, a potential cross-customer leak. Records whose
// backing row also lacks a customer are deliberately excluded; that state
// may be legitimate.
func (s *Store) FilterScoped(ctx context.Context, spec Spec, ids []string) ([]string, error) {
	if len(ids) == 0 || spec.CustomerCol == "" {
		return nil, nil
	}
	query := fmt.Sprintf(
		`SELECT %s FROM %s WHERE %s = ANY($1) AND %s IS NOT NULL`,
		spec.IDExpr, spec.Table, spec.IDExpr, spec.CustomerCol,
	)
	scoped, err := s.queryIDSet(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("filter scoped %s: %w", spec.Type, err)
	}

	var out []string
	for _, id := range ids {
		if scoped[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

// ListByCustomer returns every backing record id owned by a customer, for
// admin reindex fan-out.
func (s *Store) ListByCustomer(ctx context.Context, spec Spec, customerID int64) ([]string, error) {
	if spec.CustomerCol == "" {
		return nil, nil
	}
	query := fmt.Sprintf(
		`SELECT %s FROM %s WHERE %s = $1 ORDER BY %s`,
		spec.IDExpr, spec.Table, spec.CustomerCol, spec.IDExpr,
	)
	rows, err := s.db.QueryContext(ctx, query, customerID)
	if err != nil {
		return nil, fmt.Errorf("list by customer %s: %w", spec.Type, err)
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

func (s *Store) queryIDSet(ctx context.Context, query string, ids []string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set := make(map[string]bool, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		set[id] = true
	}
	return set, rows.Err()
}
