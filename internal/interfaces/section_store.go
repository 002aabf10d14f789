package interfaces

import (
	"context"

	"github.com/ternarybob/attestor/internal/models"
)

// SectionStore provides admin-defined section definitions per framework,
// ordered by position.
type SectionStore interface {
	SectionsFor(ctx context.Context, framework string) ([]models.Section, error)
	SaveSection(ctx context.Context, framework string, section models.Section) error
	DeleteSection(ctx context.Context, framework, sectionID string) error
}
