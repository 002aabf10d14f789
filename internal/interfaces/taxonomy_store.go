package interfaces

import (
	"github.com/ternarybob/attestor/internal/models"
)

// TaxonomyStore resolves a framework name to its control taxonomy.
type TaxonomyStore interface {
	// TaxonomyFor returns the taxonomy for a framework, or an error
	// when the framework is unknown.
	TaxonomyFor(framework string) (*models.Taxonomy, error)

	// Frameworks lists the known framework names.
	Frameworks() []string
}
