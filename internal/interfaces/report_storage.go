package interfaces

import (
	"context"

	"github.com/ternarybob/attestor/internal/models"
)

// ReportStorage persists completed report runs. Run ids are globally
// unique and stable; a saved report is write-once and retrieved later
// for PDF rendering and debug inspection.
type ReportStorage interface {
	// Save persists a report under its run id. Saving an existing
	// run id is an error; runs never overwrite each other.
	Save(ctx context.Context, report *models.Report) error

	// Load retrieves a persisted report by run id.
	Load(ctx context.Context, runID string) (*models.Report, error)

	// LoadRagDebug retrieves the per-control retrieval debug rows
	// captured for a run, or an empty map if none were kept.
	LoadRagDebug(ctx context.Context, runID string) (map[string][]models.RagDebugRow, error)

	// List returns run ids of persisted reports, newest first.
	List(ctx context.Context) ([]string, error)
}
