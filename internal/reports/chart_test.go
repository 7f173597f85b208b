package reports

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finanzas/internal/core"
)

func TestCategoryChartJSON(t *testing.T) {
	groups := SummarizeByCategory(marchLedger(), FilterFor(MonthRange(2024, 3)).WithType(core.Expense))

	b, err := json.Marshal(CategoryChart(BarChart, groups))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"labels": ["Rent", "Food"],
		"datasets": [{
			"label": "Expenses by Category",
			"data": [800, 30.5],
			"backgroundColor": ["#00ff00", "#ff0000"],
			"borderWidth": 1
		}]
	}`, string(b))

	pie := CategoryChart(PieChart, groups)
	assert.Empty(t, pie.Datasets[0].Label)
}

func TestTrendChart(t *testing.T) {
	groups := SummarizeByPeriod(marchLedger(), FilterFor(MonthRange(2024, 3)).WithType(core.Expense), Monthly)
	c := TrendChart(groups)

	assert.Equal(t, []string{"2024-03-01"}, c.Labels)
	ds := c.Datasets[0]
	assert.Equal(t, "Expense Trend", ds.Label)
	assert.Equal(t, TrendLineColor, ds.BorderColor)
	require.NotNil(t, ds.Fill)
	assert.False(t, *ds.Fill)
	assert.Equal(t, 0.1, ds.Tension)
	assert.Equal(t, []float64{830.5}, ds.Data)
}

func TestDailyTrendChartJSON(t *testing.T) {
	points := BuildTrend(marchLedger(), FilterFor(Period{Start: date("2024-03-04"), End: date("2024-03-05")}), Daily)

	b, err := json.Marshal(DailyTrendChart(points))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"labels": ["2024-03-04", "2024-03-05"],
		"datasets": [
			{"label": "Expenses", "data": [0, 20], "borderColor": "#dc3545",
			 "backgroundColor": "rgba(220, 53, 69, 0.1)", "fill": true, "tension": 0.4},
			{"label": "Income", "data": [0, 3000], "borderColor": "#28a745",
			 "backgroundColor": "rgba(40, 167, 69, 0.1)", "fill": true, "tension": 0.4}
		]
	}`, string(b))
}

func TestIncomeExpenseChart(t *testing.T) {
	c := IncomeExpenseChart(core.Totals{Expenses: dec("40"), Income: dec("60")})
	assert.Equal(t, []string{"Income", "Expenses"}, c.Labels)
	assert.Equal(t, []string{IncomeColor, ExpenseColor}, c.Datasets[0].BackgroundColor)
	assert.Equal(t, []float64{60, 40}, c.Datasets[0].Data)
}
