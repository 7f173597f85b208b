package reports

import (
	"github.com/shopspring/decimal"

	"finanzas/internal/core"
)

const topExpenseCategories = 5

// Dashboard summarizes the current month for the home screen.
type Dashboard struct {
	Period           Period          `json:"period"`
	Today            core.Date       `json:"today"`
	Currency         string          `json:"currency"`
	Totals           core.Totals     `json:"totals"`
	PreviousTotals   core.Totals     `json:"previous_totals"`
	ExpenseChangePct float64         `json:"expense_change_pct"`
	IncomeChangePct  float64         `json:"income_change_pct"`
	TopExpenses      []CategoryGroup `json:"top_expenses"`
	IncomeByCategory []CategoryGroup `json:"income_by_category"`
	DailyTrend       []TrendPoint    `json:"daily_trend"`
	DaysLeft         int             `json:"days_left_in_month"`
	Budget           *Budget         `json:"budget,omitempty"`
	Charts           DashboardCharts `json:"charts"`
}

type DashboardCharts struct {
	ExpensePie       ChartData `json:"expense_pie"`
	IncomePie        ChartData `json:"income_pie"`
	IncomeVsExpenses ChartData `json:"income_vs_expenses"`
	DailyTrend       ChartData `json:"daily_trend"`
}

// Budget tracks spending against the profile's monthly budget.
type Budget struct {
	Monthly    decimal.Decimal `json:"monthly"`
	Spent      decimal.Decimal `json:"spent"`
	Remaining  decimal.Decimal `json:"remaining"`
	Percentage float64         `json:"percentage"`
	DailyLeft  decimal.Decimal `json:"daily_budget_left"`
}

// DashboardInput carries the operations of the current and previous month.
type DashboardInput struct {
	Profile  core.Profile
	Today    core.Date
	Current  []core.Operation
	Previous []core.Operation
}

// DashboardPeriods returns the month containing today and the month before.
func DashboardPeriods(today core.Date) (current, previous Period) {
	current = MonthRange(today.Year(), today.Month())
	return current, PreviousRange(current)
}

// BuildDashboard computes the dashboard for the month containing in.Today.
func BuildDashboard(in DashboardInput) Dashboard {
	current, previous := DashboardPeriods(in.Today)
	filter := FilterFor(current)

	d := Dashboard{
		Period:   current,
		Today:    in.Today,
		Currency: in.Profile.Currency,
	}
	d.Totals = ComputeTotals(in.Current, filter)
	d.PreviousTotals = ComputeTotals(in.Previous, FilterFor(previous))
	d.ExpenseChangePct = PercentChange(d.Totals.Expenses, d.PreviousTotals.Expenses)
	d.IncomeChangePct = PercentChange(d.Totals.Income, d.PreviousTotals.Income)

	expenses := SummarizeByCategory(in.Current, filter.WithType(core.Expense))
	if len(expenses) > topExpenseCategories {
		expenses = expenses[:topExpenseCategories]
	}
	d.TopExpenses = expenses
	d.IncomeByCategory = SummarizeByCategory(in.Current, filter.WithType(core.Income))
	d.DailyTrend = BuildTrend(in.Current, filter, Daily)
	d.DaysLeft = in.Today.DaysUntil(current.End)
	d.Budget = budgetStatus(in.Profile.MonthlyBudget, d.Totals.Expenses, d.DaysLeft)

	d.Charts = DashboardCharts{
		ExpensePie:       CategoryChart(PieChart, d.TopExpenses),
		IncomePie:        CategoryChart(PieChart, d.IncomeByCategory),
		IncomeVsExpenses: IncomeExpenseChart(d.Totals),
		DailyTrend:       DailyTrendChart(d.DailyTrend),
	}
	return d
}

// budgetStatus returns nil when no budget is set.
func budgetStatus(budget decimal.NullDecimal, spent decimal.Decimal, daysLeft int) *Budget {
	if !budget.Valid || budget.Decimal.IsZero() {
		return nil
	}
	b := &Budget{
		Monthly:   budget.Decimal,
		Spent:     spent,
		Remaining: budget.Decimal.Sub(spent),
	}
	b.Percentage = decimal.NewFromInt(1).Sub(spent.Div(budget.Decimal)).Mul(hundred).Round(2).InexactFloat64()
	if daysLeft > 0 && b.Remaining.IsPositive() {
		b.DailyLeft = core.RoundMoney(b.Remaining.Div(decimal.NewFromInt(int64(daysLeft))))
	}
	return b
}
