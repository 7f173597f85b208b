package reports

import (
	"fmt"

	"github.com/shopspring/decimal"

	"finanzas/internal/core"
)

// Report is the full result of a monthly, annual, weekly or custom report.
type Report struct {
	Title       string          `json:"title"`
	Type        core.ReportType `json:"report_type"`
	Year        int             `json:"year,omitempty"`
	Month       int             `json:"month,omitempty"`
	Period      Period          `json:"period"`
	Currency    string          `json:"currency"`
	CategoryIDs []int64         `json:"categories,omitempty"`

	Totals               core.Totals     `json:"totals"`
	Expenses             []CategoryGroup `json:"expenses_by_category"`
	Income               []CategoryGroup `json:"income_by_category"`
	Trend                []PeriodGroup   `json:"expense_trend"`
	Breakdown            []TrendPoint    `json:"breakdown"`
	BreakdownGranularity Granularity     `json:"breakdown_granularity"`
	Comparison           Comparison      `json:"comparison"`
	Projection           Projection      `json:"projection"`
	Charts               ReportCharts    `json:"charts"`
}

type ReportCharts struct {
	Pie       ChartData `json:"pie"`
	Bar       ChartData `json:"bar"`
	Trend     ChartData `json:"trend"`
	Breakdown ChartData `json:"breakdown"`
}

// ReportInput is everything BuildReport needs. Operations must cover
// HistoryRange(Period); extra operations are ignored.
type ReportInput struct {
	Title       string
	Type        core.ReportType
	Year        int
	Month       int
	Period      Period
	Currency    string
	CategoryIDs []int64
	Operations  []core.Operation
}

// HistoryRange is the span of operations a report over p reads: the period
// itself and the two before it, used for comparison and projection.
func HistoryRange(p Period) Period {
	oldest := PreviousRange(PreviousRange(p))
	return Period{Kind: Custom, Start: oldest.Start, End: p.End}
}

// BuildReport aggregates the operations of in.Period.
func BuildReport(in ReportInput) Report {
	p := in.Period
	filter := Filter{Start: p.Start, End: p.End, CategoryIDs: in.CategoryIDs}

	r := Report{
		Title:       in.Title,
		Type:        in.Type,
		Year:        in.Year,
		Month:       in.Month,
		Period:      p,
		Currency:    in.Currency,
		CategoryIDs: in.CategoryIDs,
	}
	if r.Type == "" {
		r.Type = ReportTypeFor(p.Kind)
	}
	if r.Title == "" {
		r.Title = DefaultTitle(r.Type, p)
	}

	r.Totals = ComputeTotals(in.Operations, filter)
	r.Expenses = SummarizeByCategory(in.Operations, filter.WithType(core.Expense))
	r.Income = SummarizeByCategory(in.Operations, filter.WithType(core.Income))
	r.Trend = SummarizeByPeriod(in.Operations, filter.WithType(core.Expense), Monthly)
	r.BreakdownGranularity = BreakdownGranularity(p)
	r.Breakdown = BuildTrend(in.Operations, filter, r.BreakdownGranularity)

	prev := PreviousRange(p)
	prevFilter := Filter{Start: prev.Start, End: prev.End, CategoryIDs: in.CategoryIDs}
	r.Comparison = ComparePeriods(prev, r.Totals, ComputeTotals(in.Operations, prevFilter))

	oldest := PreviousRange(prev)
	oldestFilter := Filter{Start: oldest.Start, End: oldest.End, CategoryIDs: in.CategoryIDs}
	basis := []decimal.Decimal{
		ComputeTotals(in.Operations, oldestFilter).Expenses,
		r.Comparison.Expenses.Previous,
		r.Totals.Expenses,
	}
	r.Projection = Projection{
		Period:  NextRange(p),
		Basis:   basis,
		Amount:  Project(basis),
		Weights: ProjectionWeights,
	}

	r.Charts = ReportCharts{
		Pie:       CategoryChart(PieChart, r.Expenses),
		Bar:       CategoryChart(BarChart, r.Expenses),
		Trend:     TrendChart(r.Trend),
		Breakdown: DailyTrendChart(r.Breakdown),
	}
	return r
}

// DefaultTitle names a report after its type and range.
func DefaultTitle(t core.ReportType, p Period) string {
	switch t {
	case core.MonthlyReport:
		return fmt.Sprintf("Monthly Report %s", p.Start.Format("2006-01"))
	case core.AnnualReport:
		return fmt.Sprintf("Annual Report %d", p.Start.Year())
	case core.WeeklyReport:
		return fmt.Sprintf("Weekly Report %s - %s", p.Start, p.End)
	default:
		return fmt.Sprintf("Report %s - %s", p.Start, p.End)
	}
}

// Filename is the download name for the report in a format with extension ext.
func (r Report) Filename(ext string) string {
	switch {
	case r.Type == core.MonthlyReport && r.Year > 0 && r.Month > 0:
		return fmt.Sprintf("monthly_report_%d_%d.%s", r.Year, r.Month, ext)
	case r.Type == core.AnnualReport && r.Year > 0:
		return fmt.Sprintf("annual_report_%d.%s", r.Year, ext)
	default:
		return fmt.Sprintf("report_%s_%s.%s", r.Period.Start, r.Period.End, ext)
	}
}

// SheetName is the worksheet name used for spreadsheet exports.
func (r Report) SheetName() string {
	switch r.Type {
	case core.MonthlyReport:
		return "Monthly Report"
	case core.AnnualReport:
		return "Annual Report"
	case core.WeeklyReport:
		return "Weekly Report"
	default:
		return "Report"
	}
}
