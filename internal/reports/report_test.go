package reports

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finanzas/internal/core"
	"finanzas/internal/export"
)

func marchReport() Report {
	return BuildReport(ReportInput{
		Type:       core.MonthlyReport,
		Year:       2024,
		Month:      3,
		Period:     MonthRange(2024, 3),
		Currency:   "EUR",
		Operations: marchLedger(),
	})
}

func TestBuildReport(t *testing.T) {
	r := marchReport()

	assert.Equal(t, "Monthly Report 2024-03", r.Title)
	assert.True(t, dec("830.50").Equal(r.Totals.Expenses))
	require.Len(t, r.Expenses, 2)
	require.Len(t, r.Income, 1)
	assert.Equal(t, Daily, r.BreakdownGranularity)
	assert.Len(t, r.Breakdown, 31)

	assert.Equal(t, "2024-02-01", r.Comparison.Previous.Start.String())
	assert.True(t, dec("99").Equal(r.Comparison.Expenses.Previous))
	assert.Equal(t, 20.0, r.Comparison.Income.ChangePct)

	assert.Equal(t, "2024-04-01", r.Projection.Period.Start.String())
	assert.Len(t, r.Projection.Basis, 3)
	assert.True(t, r.Projection.Basis[0].IsZero())
	assert.True(t, dec("444.95").Equal(r.Projection.Amount), "got %s", r.Projection.Amount)

	assert.Equal(t, []string{"Rent", "Food"}, r.Charts.Pie.Labels)
	assert.Len(t, r.Charts.Breakdown.Labels, 31)
}

func TestHistoryRange(t *testing.T) {
	h := HistoryRange(MonthRange(2024, 3))
	assert.Equal(t, "2024-01-01", h.Start.String())
	assert.Equal(t, "2024-03-31", h.End.String())
}

func TestReportFilename(t *testing.T) {
	r := marchReport()
	assert.Equal(t, "monthly_report_2024_3.xlsx", r.Filename("xlsx"))

	annual := BuildReport(ReportInput{Type: core.AnnualReport, Year: 2024, Period: YearRange(2024)})
	assert.Equal(t, "annual_report_2024.pdf", annual.Filename("pdf"))
	assert.Equal(t, "Annual Report 2024", annual.Title)

	custom := BuildReport(ReportInput{Period: Period{Kind: Custom, Start: date("2024-03-01"), End: date("2024-03-10")}})
	assert.Equal(t, core.CustomReport, custom.Type)
	assert.Equal(t, "report_2024-03-01_2024-03-10.csv", custom.Filename("csv"))
	assert.Equal(t, "Report", custom.SheetName())
}

func TestExportRowCount(t *testing.T) {
	monthly := marchReport()
	rows := ExportRows(monthly)
	assert.Len(t, rows, 3+len(monthly.Expenses)+31)
	assert.Equal(t, "summary", rows[0][0].Value)
	assert.Equal(t, "Rent", rows[3][1].Value)
	assert.Equal(t, SectionDaily, rows[len(rows)-1][0].Value)

	annual := BuildReport(ReportInput{Type: core.AnnualReport, Year: 2024, Period: YearRange(2024), Operations: marchLedger()})
	rows = ExportRows(annual)
	assert.Len(t, rows, 3+2+12)
	assert.Equal(t, SectionMonthly, rows[len(rows)-1][0].Value)
	assert.Equal(t, "2024-12", rows[len(rows)-1][1].Value)

	empty := BuildReport(ReportInput{Period: Period{Kind: Custom, Start: date("2024-03-01"), End: date("2024-03-03")}})
	assert.Len(t, ExportRows(empty), 3+0+3)
}

func TestExportTable(t *testing.T) {
	table := ExportTable(marchReport())
	assert.Equal(t, "Monthly Report 2024-03 (EUR)", table.Title)
	assert.Equal(t, "Monthly Report", table.Sheet)
	assert.Equal(t, []string{"section", "label", "amount", "count", "average"}, table.Headers())

	var buf bytes.Buffer
	require.NoError(t, export.RenderCSV(&buf, table))
	assert.Contains(t, buf.String(), "summary,Total Expenses,830.50,3,")
	assert.Contains(t, buf.String(), "category,Food,30.50,2,15.25")
}

func TestRenderChart(t *testing.T) {
	r := marchReport()

	var buf bytes.Buffer
	require.NoError(t, RenderChart(&buf, r, PieChart))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")))

	buf.Reset()
	require.NoError(t, RenderChart(&buf, r, LineChart))
	assert.NotZero(t, buf.Len())

	empty := BuildReport(ReportInput{Period: MonthRange(2024, 5)})
	assert.ErrorIs(t, RenderChart(&buf, empty, PieChart), export.ErrNoChartData)
}
