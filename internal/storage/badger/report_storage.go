package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/attestor/internal/interfaces"
	"github.com/ternarybob/attestor/internal/models"
)

// ReportStorage implements interfaces.ReportStorage on Badger
type ReportStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

var _ interfaces.ReportStorage = (*ReportStorage)(nil)

// NewReportStorage creates a new ReportStorage instance
func NewReportStorage(db *BadgerDB, logger arbor.ILogger) *ReportStorage {
	return &ReportStorage{
		db:     db,
		logger: logger,
	}
}

// Save persists a completed report. Runs are write-once: saving an
// existing run id fails rather than overwriting.
func (s *ReportStorage) Save(ctx context.Context, report *models.Report) error {
	if report == nil || report.RunID == "" {
		return fmt.Errorf("report run id is required")
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now()
	}

	if err := s.db.Store().Insert(report.RunID, report); err != nil {
		if err == badgerhold.ErrKeyExists {
			return fmt.Errorf("run %s already persisted: %w", report.RunID, err)
		}
		return fmt.Errorf("failed to save report: %w", err)
	}

	s.logger.Debug().
		Str("run_id", report.RunID).
		Str("framework", report.Framework).
		Str("firm", report.Firm).
		Int("findings", len(report.Findings)).
		Int("sections", len(report.Sections)).
		Msg("Report persisted")

	return nil
}

// Load retrieves a persisted report by run id
func (s *ReportStorage) Load(ctx context.Context, runID string) (*models.Report, error) {
	var report models.Report
	if err := s.db.Store().Get(runID, &report); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("run not found: %s", runID)
		}
		return nil, fmt.Errorf("failed to load report: %w", err)
	}
	return &report, nil
}

// LoadRagDebug returns the retrieval debug rows captured for a run.
// Runs executed without debug capture yield an empty map.
func (s *ReportStorage) LoadRagDebug(ctx context.Context, runID string) (map[string][]models.RagDebugRow, error) {
	report, err := s.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if report.RagDebug == nil {
		return map[string][]models.RagDebugRow{}, nil
	}
	return report.RagDebug, nil
}

// List returns persisted run ids, newest first
func (s *ReportStorage) List(ctx context.Context) ([]string, error) {
	var reports []models.Report
	if err := s.db.Store().Find(&reports, badgerhold.Where("RunID").Ne("")); err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}

	sort.Slice(reports, func(i, j int) bool {
		return reports[i].CreatedAt.After(reports[j].CreatedAt)
	})

	ids := make([]string, 0, len(reports))
	for _, r := range reports {
		ids = append(ids, r.RunID)
	}
	return ids, nil
}
