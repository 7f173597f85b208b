package sheets

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finanzas/internal/export"
)

func sampleTable() export.Table {
	return export.Table{
		Title: "Monthly Report 2024-03 (EUR)",
		Sheet: "Monthly Report",
		Rows: []export.Row{
			{{Key: "section", Value: "summary"}, {Key: "label", Value: "Total Expenses"}, {Key: "amount", Value: decimal.RequireFromString("120.456")}, {Key: "count", Value: 4}},
			{{Key: "section", Value: "category"}, {Key: "label", Value: "Food"}, {Key: "amount", Value: decimal.RequireFromString("20")}, {Key: "count", Value: 1}},
		},
	}
}

func TestValues(t *testing.T) {
	values := Values(sampleTable())

	require.Len(t, values, 5)
	assert.Equal(t, []any{"Monthly Report 2024-03 (EUR)"}, values[0])
	assert.Empty(t, values[1])
	assert.Equal(t, []any{"section", "label", "amount", "count"}, values[2])
	assert.Equal(t, []any{"summary", "Total Expenses", 120.46, 4}, values[3])
	assert.Equal(t, 4, Width(values))
}

func TestValuesEmptyTable(t *testing.T) {
	values := Values(export.Table{Title: "Empty"})
	require.Len(t, values, 3)
	assert.Empty(t, values[2])
}

func TestTabName(t *testing.T) {
	tests := []struct {
		base, suffix, want string
	}{
		{"Reports", "2024-03", "Reports 2024-03"},
		{"", "2024", "2024"},
		{"Reports", "", "Reports"},
		{"", "", "Report"},
		{"a/b", "x:y", "a-b x-y"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TabName(tt.base, tt.suffix), "TabName(%q, %q)", tt.base, tt.suffix)
	}

	long := TabName(strings.Repeat("x", 150), "")
	assert.Len(t, []rune(long), 100)
}

func TestColumnLetter(t *testing.T) {
	tests := map[int]string{1: "A", 5: "E", 26: "Z", 27: "AA", 52: "AZ", 703: "AAA"}
	for n, want := range tests {
		assert.Equal(t, want, ColumnLetter(n), "ColumnLetter(%d)", n)
	}
}

func TestA1Range(t *testing.T) {
	assert.Equal(t, "'Reports 2024-03'!A1:E36", A1Range("Reports 2024-03", 36, 5))
	assert.Equal(t, "'Ana''s'!A1:A1", A1Range("Ana's", 0, 0))
}
