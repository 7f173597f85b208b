package reports

import (
	"fmt"
	"io"

	"finanzas/internal/export"
)

// Export row sections.
const (
	SectionSummary  = "summary"
	SectionCategory = "category"
	SectionDaily    = "daily"
	SectionMonthly  = "monthly"
)

// ExportRows flattens a report into rows keyed section, label, amount, count
// and average: three summary rows, one row per expense category and one row
// per breakdown bucket.
func ExportRows(r Report) []export.Row {
	rows := make([]export.Row, 0, 3+len(r.Expenses)+len(r.Breakdown))

	expenseCount, incomeCount := 0, 0
	for _, g := range r.Expenses {
		expenseCount += g.Count
	}
	for _, g := range r.Income {
		incomeCount += g.Count
	}

	rows = append(rows,
		exportRow(SectionSummary, "Total Expenses", r.Totals.Expenses, expenseCount, nil),
		exportRow(SectionSummary, "Total Income", r.Totals.Income, incomeCount, nil),
		exportRow(SectionSummary, "Balance", r.Totals.Balance, expenseCount+incomeCount, nil),
	)

	for _, g := range r.Expenses {
		rows = append(rows, exportRow(SectionCategory, g.Name, g.Total, g.Count, g.Average))
	}

	section := SectionDaily
	if r.BreakdownGranularity == Monthly {
		section = SectionMonthly
	}
	for _, p := range r.Breakdown {
		rows = append(rows, exportRow(section, p.Label, p.Expenses, p.Count, p.ExpenseAverage()))
	}
	return rows
}

func exportRow(section, label string, amount any, count int, average any) export.Row {
	if average == nil {
		average = ""
	}
	return export.Row{
		{Key: "section", Value: section},
		{Key: "label", Value: label},
		{Key: "amount", Value: amount},
		{Key: "count", Value: count},
		{Key: "average", Value: average},
	}
}

// ExportTable wraps the report rows with the report's title and sheet name.
func ExportTable(r Report) export.Table {
	title := r.Title
	if r.Currency != "" {
		title = fmt.Sprintf("%s (%s)", r.Title, r.Currency)
	}
	return export.Table{
		Title: title,
		Sheet: r.SheetName(),
		Rows:  ExportRows(r),
	}
}

// RenderChart draws the report as a PNG: a pie of expense categories, or
// lines of expenses and income over the breakdown buckets.
func RenderChart(w io.Writer, r Report, kind ChartKind) error {
	if kind == LineChart {
		expenses := export.Series{Name: "Expenses"}
		income := export.Series{Name: "Income"}
		for _, p := range r.Breakdown {
			expenses.Times = append(expenses.Times, p.Period.Time)
			expenses.Values = append(expenses.Values, p.Expenses.InexactFloat64())
			income.Times = append(income.Times, p.Period.Time)
			income.Values = append(income.Values, p.Income.InexactFloat64())
		}
		return export.RenderLineChart(w, r.Title, []export.Series{expenses, income})
	}

	slices := make([]export.Slice, len(r.Expenses))
	for i, g := range r.Expenses {
		slices[i] = export.Slice{Label: g.Name, Value: g.Total.InexactFloat64()}
	}
	return export.RenderPieChart(w, r.Title, slices)
}
