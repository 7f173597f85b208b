// Package export writes report tables as spreadsheets, PDF and CSV documents,
// and renders charts as PNG images.
package export

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	ErrNoChartData       = errors.New("no data to chart")
)

// Format is an export file format.
type Format string

const (
	Excel Format = "excel"
	PDF   Format = "pdf"
	CSV   Format = "csv"
)

// ParseFormat accepts the query values used by the report endpoints.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "excel", "xlsx":
		return Excel, nil
	case "pdf":
		return PDF, nil
	case "csv":
		return CSV, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

func (f Format) ContentType() string {
	switch f {
	case Excel:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case PDF:
		return "application/pdf"
	case CSV:
		return "text/csv; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

func (f Format) Extension() string {
	switch f {
	case Excel:
		return "xlsx"
	case PDF:
		return "pdf"
	case CSV:
		return "csv"
	default:
		return "bin"
	}
}

// Field is one key-value cell of a row.
type Field struct {
	Key   string
	Value any
}

// Row is an ordered list of fields.
type Row []Field

// Table is a flat list of rows. Headers come from the first row's keys.
type Table struct {
	Title string
	Sheet string
	Rows  []Row
}

// Headers returns the keys of the first row.
func (t Table) Headers() []string {
	if len(t.Rows) == 0 {
		return nil
	}
	headers := make([]string, len(t.Rows[0]))
	for i, f := range t.Rows[0] {
		headers[i] = f.Key
	}
	return headers
}

// Render writes t to w in format f.
func Render(w io.Writer, f Format, t Table) error {
	switch f {
	case Excel:
		return RenderExcel(w, t)
	case PDF:
		return RenderPDF(w, t)
	case CSV:
		return RenderCSV(w, t)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, string(f))
	}
}

// FormatValue renders a cell value as text.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case decimal.Decimal:
		return x.StringFixed(2)
	case float64:
		return decimal.NewFromFloat(x).StringFixed(2)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
