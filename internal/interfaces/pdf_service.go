package interfaces

import (
	"github.com/ternarybob/attestor/internal/models"
)

// PDFService renders a completed report to a PDF document.
type PDFService interface {
	RenderReport(report *models.Report, sections []models.Section) ([]byte, error)
}
