// Package sweeper reconciles the index against the systems of record. It is
// the safety net for drift the job queue missed: deletes that never enqueued
// a cleanup job, and customer links dropped on the index side only.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"

	"deskrag/features/corpus"
	"deskrag/internal/backing"
)

// BackingReader is the slice of the backing store the sweeps need. The
// SQL joins stay behind it so the sweep logic is storage-agnostic.
type BackingReader interface {
	FilterMissing(ctx context.Context, spec backing.Spec, ids []string) ([]string, error)
	FilterScoped(ctx context.Context, spec backing.Spec, ids []string) ([]string, error)
}

// Report summarizes one source type's sweep pass.
type Report struct {
	SourceType    corpus.SourceType `json:"source_type"`
	CheckedCount  int               `json:"checked_count"`
	OrphanedCount int               `json:"orphaned_count"`
	DeletedCount  int               `json:"deleted_count"`
}

type Sweeper struct {
	repo    corpus.Repository
	backing BackingReader
}

func New(repo corpus.Repository, backingReader BackingReader) *Sweeper {
	return &Sweeper{repo: repo, backing: backingReader}
}

// Sweep runs both reconciliation passes for every source type, each bounded
// by limitPerType. Orphans and scope drops are expected steady-state
// conditions, reported as counts rather than errors; a per-type failure is
// logged and the remaining types still run.
func (s *Sweeper) Sweep(ctx context.Context, limitPerType int) []Report {
	if limitPerType < 1 {
		limitPerType = 100
	}

	var reports []Report
	for _, spec := range backing.Specs() {
		report, err := s.sweepType(ctx, spec, limitPerType)
		if err != nil {
			slog.ErrorContext(ctx, "sweep failed", "source_type", spec.Type, "error", err)
			continue
		}
		reports = append(reports, *report)
		if report.DeletedCount > 0 {
			slog.InfoContext(ctx, "sweep removed orphans",
				"source_type", spec.Type,
				"checked", report.CheckedCount,
				"orphaned", report.OrphanedCount,
				"deleted", report.DeletedCount)
		}
	}
	return reports
}

func (s *Sweeper) sweepType(ctx context.Context, spec backing.Spec, limit int) (*Report, error) {
	report := &Report{SourceType: spec.Type}

	// Referential orphans: index rows whose backing record is gone.
	ids, err := s.repo.ListSourceIDs(ctx, spec.Type, limit)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	report.CheckedCount += len(ids)

	missing, err := s.backing.FilterMissing(ctx, spec, ids)
	if err != nil {
		return nil, fmt.Errorf("find missing backing records: %w", err)
	}
	report.OrphanedCount += len(missing)

	deleted, err := s.repo.DeleteSources(ctx, spec.Type, missing)
	if err != nil {
		return nil, fmt.Errorf("delete orphans: %w", err)
	}
	report.DeletedCount += int(deleted)

	// Scope drift: unscoped index rows whose backing record does have a
	// customer. Left in place, such a row could surface in a query allowed
	// to cross customer boundaries. Rows whose backing record is also
	// unscoped are left alone; that may be a legitimate state.
	unscoped, err := s.repo.ListUnscopedSourceIDs(ctx, spec.Type, limit)
	if err != nil {
		return nil, fmt.Errorf("list unscoped sources: %w", err)
	}
	report.CheckedCount += len(unscoped)

	leaked, err := s.backing.FilterScoped(ctx, spec, unscoped)
	if err != nil {
		return nil, fmt.Errorf("find customer mismatches: %w", err)
	}
	report.OrphanedCount += len(leaked)

	deleted, err = s.repo.DeleteSources(ctx, spec.Type, leaked)
	if err != nil {
		return nil, fmt.Errorf("delete unscoped rows: %w", err)
	}
	report.DeletedCount += int(deleted)

	return report, nil
}
