package export

import (
	"fmt"
	"io"

	"github.com/go-pdf/fpdf"
)

// RenderPDF writes t as a letter-size document holding a title and one table.
func RenderPDF(w io.Writer, t Table) error {
	pdf := fpdf.New("P", "mm", "Letter", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(t.Title, true)
	pdf.AddPage()

	if t.Title != "" {
		pdf.SetFont("Helvetica", "B", 16)
		pdf.CellFormat(0, 10, tr(t.Title), "", 1, "C", false, 0, "")
		pdf.Ln(4)
	}

	headers := t.Headers()
	if len(headers) > 0 {
		pageWidth, _ := pdf.GetPageSize()
		left, _, right, _ := pdf.GetMargins()
		colWidth := (pageWidth - left - right) / float64(len(headers))

		pdf.SetDrawColor(0, 0, 0)
		pdf.SetFillColor(128, 128, 128)
		pdf.SetTextColor(245, 245, 245)
		pdf.SetFont("Helvetica", "B", 11)
		for _, h := range headers {
			pdf.CellFormat(colWidth, 10, tr(h), "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)

		pdf.SetFillColor(245, 245, 220)
		pdf.SetTextColor(0, 0, 0)
		pdf.SetFont("Helvetica", "", 10)
		for _, row := range t.Rows {
			for _, field := range row {
				pdf.CellFormat(colWidth, 8, tr(FormatValue(field.Value)), "1", 0, "C", true, 0, "")
			}
			pdf.Ln(-1)
		}
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}
