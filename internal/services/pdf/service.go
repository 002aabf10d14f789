package pdf

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/ternarybob/arbor"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/ternarybob/attestor/internal/interfaces"
	"github.com/ternarybob/attestor/internal/models"
)

// Service renders completed reports to PDF. The report is first
// composed as markdown (section narratives plus a findings appendix),
// then laid out with fpdf via a goldmark AST walk.
type Service struct {
	logger arbor.ILogger
}

// Compile-time assertion
var _ interfaces.PDFService = (*Service)(nil)

// NewService creates a new PDF service
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		logger: logger,
	}
}

// RenderReport produces the PDF document for a completed run. sections
// supplies the display names and ordering for the report's section ids.
func (s *Service) RenderReport(report *models.Report, sections []models.Section) ([]byte, error) {
	markdown := composeMarkdown(report, sections)

	s.logger.Debug().
		Str("run_id", report.RunID).
		Int("markdown_len", len(markdown)).
		Msg("Rendering report PDF")

	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetTitle(fmt.Sprintf("%s compliance report - %s", report.Framework, report.Firm), true)
	doc.SetMargins(10, 10, 10)
	doc.SetAutoPageBreak(true, 10)
	doc.AddPage()
	doc.SetFont("Arial", "", 9)

	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	source := []byte(markdown)
	root := md.Parser().Parse(text.NewReader(source))

	layout := &reportLayout{doc: doc, source: source}
	if err := ast.Walk(root, layout.walk); err != nil {
		s.logger.Error().Err(err).Str("run_id", report.RunID).Msg("Failed to lay out PDF")
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to generate PDF output: %w", err)
	}

	s.logger.Debug().Str("run_id", report.RunID).Int("pdf_size", buf.Len()).Msg("PDF generated")
	return buf.Bytes(), nil
}

// composeMarkdown assembles the printable document: header, each
// selected section in order, then the findings appendix.
func composeMarkdown(report *models.Report, sections []models.Section) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("# Compliance Report: %s\n\n", report.Firm))
	b.WriteString(fmt.Sprintf("**Framework:** %s\n\n", report.Framework))
	if report.Scope != "" {
		b.WriteString(fmt.Sprintf("**Scope:** %s\n\n", report.Scope))
	}
	b.WriteString(fmt.Sprintf("**Run:** %s\n\n", report.RunID))
	if !report.CompletedAt.IsZero() {
		b.WriteString(fmt.Sprintf("**Completed:** %s\n\n", report.CompletedAt.Format("2 January 2006 15:04 MST")))
	}

	names := make(map[string]string, len(sections))
	for _, section := range sections {
		names[section.ID] = section.Name
	}
	for _, id := range report.SelectedSections {
		name := names[id]
		if name == "" {
			name = id
		}
		b.WriteString(fmt.Sprintf("## %s\n\n", name))
		b.WriteString(strings.TrimSpace(report.Sections[id]))
		b.WriteString("\n\n")
	}

	if len(report.Findings) > 0 {
		b.WriteString("## Appendix: Control Findings\n\n")
		b.WriteString("| Control | Assessment | Confidence | Evidence |\n")
		b.WriteString("| --- | --- | --- | --- |\n")
		for _, f := range report.Findings {
			refs := make([]string, 0, len(f.EvidenceLinks))
			for _, link := range f.EvidenceLinks {
				refs = append(refs, fmt.Sprintf("%s p.%d", link.DocID, link.Page))
			}
			b.WriteString(fmt.Sprintf("| %s | %s | %.2f | %s |\n",
				f.ControlID, f.Assessment, f.Confidence, strings.Join(refs, "; ")))
		}
		b.WriteString("\n")
	}

	return b.String()
}

// reportLayout walks the markdown AST and drives fpdf.
type reportLayout struct {
	doc    *fpdf.Fpdf
	source []byte
	bold   bool
	italic bool
}

func (r *reportLayout) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node := n.(type) {
	case *ast.Heading:
		r.heading(node, entering)
	case *ast.Paragraph:
		if !entering {
			r.doc.Ln(7)
		}
	case *ast.Text:
		if entering {
			r.doc.Write(5, string(node.Text(r.source)))
		}
	case *ast.Emphasis:
		if node.Level == 2 {
			r.bold = entering
		} else {
			r.italic = entering
		}
		r.applyFont()
	case *ast.List:
		if !entering {
			r.doc.Ln(2)
		}
	case *ast.ListItem:
		if entering {
			r.doc.Ln(5)
			r.doc.SetX(15)
			r.doc.Write(5, "- ")
		}
	case *ast.ThematicBreak:
		if entering {
			r.doc.Ln(2)
			r.doc.Line(15, r.doc.GetY(), 195, r.doc.GetY())
			r.doc.Ln(2)
		}
	case *extast.Table:
		if entering {
			r.table(node)
			return ast.WalkSkipChildren, nil
		}
	}
	return ast.WalkContinue, nil
}

func (r *reportLayout) heading(n *ast.Heading, entering bool) {
	if entering {
		r.doc.Ln(6)
		size := 10.0
		switch n.Level {
		case 1:
			size = 14
		case 2:
			size = 12
		case 3:
			size = 11
		}
		r.doc.SetFont("Arial", "B", size)
		return
	}
	r.doc.Ln(6)
	r.applyFont()
}

func (r *reportLayout) applyFont() {
	style := ""
	if r.bold {
		style += "B"
	}
	if r.italic {
		style += "I"
	}
	r.doc.SetFont("Arial", style, 9)
}

func (r *reportLayout) table(n *extast.Table) {
	var rows [][]string
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		switch child.(type) {
		case *extast.TableHeader, *extast.TableRow:
			// A TableHeader holds its cells directly, like a row.
			rows = append(rows, r.cells(child))
		}
	}
	if len(rows) == 0 {
		return
	}

	r.doc.Ln(2)
	cols := len(rows[0])
	pageWidth, _ := r.doc.GetPageSize()
	left, _, right, _ := r.doc.GetMargins()
	colWidth := (pageWidth - left - right) / float64(cols)

	for i, row := range rows {
		if i == 0 {
			r.doc.SetFont("Arial", "B", 8)
			r.doc.SetFillColor(235, 235, 235)
		} else {
			r.doc.SetFont("Arial", "", 8)
			r.doc.SetFillColor(255, 255, 255)
		}
		for _, cell := range row {
			r.doc.CellFormat(colWidth, 6, cell, "1", 0, "L", i == 0, 0, "")
		}
		r.doc.Ln(-1)
	}
	r.doc.Ln(2)
	r.applyFont()
}

func (r *reportLayout) cells(n ast.Node) []string {
	var row []string
	for cell := n.FirstChild(); cell != nil; cell = cell.NextSibling() {
		if _, ok := cell.(*extast.TableCell); ok {
			row = append(row, string(cell.Text(r.source)))
		}
	}
	return row
}
