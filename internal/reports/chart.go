package reports

import (
	"github.com/shopspring/decimal"

	"finanzas/internal/core"
)

// ChartKind names the chart types the dashboard draws.
type ChartKind string

const (
	PieChart      ChartKind = "pie"
	DoughnutChart ChartKind = "doughnut"
	BarChart      ChartKind = "bar"
	LineChart     ChartKind = "line"
)

const (
	ExpenseColor     = "#dc3545"
	IncomeColor      = "#28a745"
	TrendLineColor   = "#3498db"
	expenseFillColor = "rgba(220, 53, 69, 0.1)"
	incomeFillColor  = "rgba(40, 167, 69, 0.1)"
)

// ChartData is the Chart.js "data" object.
type ChartData struct {
	Labels   []string  `json:"labels"`
	Datasets []Dataset `json:"datasets"`
}

// Dataset is one Chart.js dataset. BackgroundColor holds a single color or a
// color per point.
type Dataset struct {
	Label           string    `json:"label,omitempty"`
	Data            []float64 `json:"data"`
	BackgroundColor any       `json:"backgroundColor,omitempty"`
	BorderColor     string    `json:"borderColor,omitempty"`
	BorderWidth     int       `json:"borderWidth,omitempty"`
	Fill            *bool     `json:"fill,omitempty"`
	Tension         float64   `json:"tension,omitempty"`
}

func boolPtr(b bool) *bool { return &b }

func floats(values []decimal.Decimal) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v.InexactFloat64()
	}
	return out
}

// CategoryChart shapes category groups for a pie, doughnut or bar chart.
// Any other kind is drawn as a pie.
func CategoryChart(kind ChartKind, groups []CategoryGroup) ChartData {
	labels := make([]string, len(groups))
	values := make([]decimal.Decimal, len(groups))
	colors := make([]string, len(groups))
	for i, g := range groups {
		labels[i] = g.Name
		values[i] = g.Total
		colors[i] = g.Color
	}

	ds := Dataset{Data: floats(values), BackgroundColor: colors, BorderWidth: 1}
	if kind == BarChart {
		ds.Label = "Expenses by Category"
	}
	return ChartData{Labels: labels, Datasets: []Dataset{ds}}
}

// TrendChart shapes period groups as the expense trend line.
func TrendChart(groups []PeriodGroup) ChartData {
	labels := make([]string, len(groups))
	values := make([]decimal.Decimal, len(groups))
	for i, g := range groups {
		labels[i] = g.Period.String()
		values[i] = g.Total
	}
	return ChartData{
		Labels: labels,
		Datasets: []Dataset{{
			Label:       "Expense Trend",
			Data:        floats(values),
			Fill:        boolPtr(false),
			BorderColor: TrendLineColor,
			Tension:     0.1,
		}},
	}
}

// DailyTrendChart draws expenses and income of every bucket as two filled lines.
func DailyTrendChart(points []TrendPoint) ChartData {
	labels := make([]string, len(points))
	expenses := make([]decimal.Decimal, len(points))
	income := make([]decimal.Decimal, len(points))
	for i, p := range points {
		labels[i] = p.Period.String()
		expenses[i] = p.Expenses
		income[i] = p.Income
	}
	return ChartData{
		Labels: labels,
		Datasets: []Dataset{
			{
				Label:           "Expenses",
				Data:            floats(expenses),
				BorderColor:     ExpenseColor,
				BackgroundColor: expenseFillColor,
				Fill:            boolPtr(true),
				Tension:         0.4,
			},
			{
				Label:           "Income",
				Data:            floats(income),
				BorderColor:     IncomeColor,
				BackgroundColor: incomeFillColor,
				Fill:            boolPtr(true),
				Tension:         0.4,
			},
		},
	}
}

// IncomeExpenseChart is the two-slice income vs expenses pie.
func IncomeExpenseChart(t core.Totals) ChartData {
	return CategoryChart(PieChart, []CategoryGroup{
		{Name: "Income", Color: IncomeColor, Stats: Stats{Total: t.Income}},
		{Name: "Expenses", Color: ExpenseColor, Stats: Stats{Total: t.Expenses}},
	})
}
