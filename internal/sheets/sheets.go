// Package sheets publishes report tables to spreadsheet tabs.
package sheets

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"finanzas/internal/export"
)

// maxTabName is the longest tab title Google Sheets accepts.
const maxTabName = 100

// Publisher replaces the content of a spreadsheet tab with a report table.
type Publisher interface {
	// Publish writes t to tab, creating the tab when missing, and returns
	// the A1 range written.
	Publish(ctx context.Context, tab string, t export.Table) (string, error)
}

// Values lays t out as a grid: title, blank row, header row, data rows.
// Decimal amounts become numbers so the sheet can sum them.
func Values(t export.Table) [][]any {
	out := make([][]any, 0, len(t.Rows)+3)
	out = append(out, []any{t.Title}, []any{})

	headers := t.Headers()
	header := make([]any, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	out = append(out, header)

	for _, row := range t.Rows {
		cells := make([]any, len(row))
		for i, f := range row {
			cells[i] = cellValue(f.Value)
		}
		out = append(out, cells)
	}
	return out
}

func cellValue(v any) any {
	switch x := v.(type) {
	case decimal.Decimal:
		return x.Round(2).InexactFloat64()
	case int, int64, float64:
		return x
	default:
		return export.FormatValue(v)
	}
}

// TabName joins base and suffix into a valid tab title.
func TabName(base, suffix string) string {
	name := strings.TrimSpace(strings.TrimSpace(base) + " " + strings.TrimSpace(suffix))
	name = strings.Map(func(r rune) rune {
		switch r {
		case '[', ']', '*', '?', '/', '\\', ':':
			return '-'
		}
		return r
	}, name)
	if name == "" {
		name = "Report"
	}
	if r := []rune(name); len(r) > maxTabName {
		name = string(r[:maxTabName])
	}
	return name
}

// A1Range is the range covering rows x cols cells from A1 on tab.
func A1Range(tab string, rows, cols int) string {
	if rows < 1 {
		rows = 1
	}
	if cols < 1 {
		cols = 1
	}
	return fmt.Sprintf("%s!A1:%s%d", QuoteTab(tab), ColumnLetter(cols), rows)
}

// QuoteTab quotes a tab title for use in A1 notation.
func QuoteTab(tab string) string {
	return "'" + strings.ReplaceAll(tab, "'", "''") + "'"
}

// ColumnLetter converts a 1-based column number to its letter (1 -> A, 27 -> AA).
func ColumnLetter(n int) string {
	var b []byte
	for n > 0 {
		n--
		b = append([]byte{byte('A' + n%26)}, b...)
		n /= 26
	}
	return string(b)
}

// Width is the number of columns of the widest row.
func Width(values [][]any) int {
	w := 0
	for _, row := range values {
		w = max(w, len(row))
	}
	return w
}
