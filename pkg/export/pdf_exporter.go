package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

const (
	pageWidthLandscape = 277.0
	rowHeight          = 6.0
)

// PDFExporter renders datasets into a landscape tabular PDF.
type PDFExporter struct {
	// MaxCellRunes truncates long cells such as log messages.
	MaxCellRunes int
	Now          func() time.Time
}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{MaxCellRunes: 90, Now: time.Now}
}

// Render creates a PDF document with a title, generation stamp and table body.
func (e *PDFExporter) Render(data Dataset, title string) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("pdf requires at least one header")
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetMargins(10, 12, 10)
	pdf.SetAutoPageBreak(true, 12)
	pdf.AddPage()

	if title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 9, tr(title), "", 1, "L", false, 0, "")
	}
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	pdf.SetFont("Arial", "I", 8)
	pdf.CellFormat(0, 5, tr("Generated "+now().UTC().Format(time.RFC3339)), "", 1, "L", false, 0, "")
	pdf.Ln(3)

	var total float64
	for _, header := range data.Headers {
		total += data.weight(header)
	}
	widths := make([]float64, len(data.Headers))
	for i, header := range data.Headers {
		widths[i] = pageWidthLandscape * data.weight(header) / total
	}

	writeHeader := func() {
		pdf.SetFont("Arial", "B", 9)
		pdf.SetFillColor(230, 230, 230)
		for i, header := range data.Headers {
			pdf.CellFormat(widths[i], 7, tr(header), "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 8)
	}
	writeHeader()

	_, pageHeight := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	for _, row := range data.Rows {
		if pdf.GetY()+rowHeight > pageHeight-bottom {
			pdf.AddPage()
			writeHeader()
		}
		for i, header := range data.Headers {
			pdf.CellFormat(widths[i], rowHeight, tr(e.clip(row[header])), "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *PDFExporter) clip(value string) string {
	if e.MaxCellRunes <= 0 {
		return value
	}
	runes := []rune(value)
	if len(runes) <= e.MaxCellRunes {
		return value
	}
	return string(runes[:e.MaxCellRunes]) + "..."
}
