package reports

import (
	"github.com/shopspring/decimal"

	"finanzas/internal/core"
)

var hundred = decimal.NewFromInt(100)

// ProjectionWeights apply to the three most recent periods, oldest first.
var ProjectionWeights = []decimal.Decimal{
	decimal.RequireFromString("0.2"),
	decimal.RequireFromString("0.3"),
	decimal.RequireFromString("0.5"),
}

// Percentage returns part as a percentage of total, rounded to two places.
// A zero total yields 0.
func Percentage(part, total decimal.Decimal) float64 {
	if total.IsZero() {
		return 0
	}
	return part.Div(total).Mul(hundred).Round(2).InexactFloat64()
}

// PercentChange returns the change from previous to current in percent.
// A zero previous value yields 0.
func PercentChange(current, previous decimal.Decimal) float64 {
	if previous.IsZero() {
		return 0
	}
	return current.Sub(previous).Div(previous.Abs()).Mul(hundred).Round(2).InexactFloat64()
}

// Project estimates the next value from the last three of series (oldest
// first). Missing older values count as zero.
func Project(series []decimal.Decimal) decimal.Decimal {
	n := len(ProjectionWeights)
	if len(series) > n {
		series = series[len(series)-n:]
	}
	offset := n - len(series)

	projected := decimal.Zero
	for i, v := range series {
		projected = projected.Add(v.Mul(ProjectionWeights[offset+i]))
	}
	return core.RoundMoney(projected)
}

// Change compares one figure across two periods.
type Change struct {
	Current   decimal.Decimal `json:"current"`
	Previous  decimal.Decimal `json:"previous"`
	ChangePct float64         `json:"change_pct"`
}

func Compare(current, previous decimal.Decimal) Change {
	return Change{Current: current, Previous: previous, ChangePct: PercentChange(current, previous)}
}

// Comparison is the period-over-period view of a report.
type Comparison struct {
	Previous Period `json:"previous_period"`
	Expenses Change `json:"expenses"`
	Income   Change `json:"income"`
	Balance  Change `json:"balance"`
}

// ComparePeriods compares totals of the current period against the previous one.
func ComparePeriods(previous Period, current, prior core.Totals) Comparison {
	return Comparison{
		Previous: previous,
		Expenses: Compare(current.Expenses, prior.Expenses),
		Income:   Compare(current.Income, prior.Income),
		Balance:  Compare(current.Balance, prior.Balance),
	}
}

// Projection is the weighted estimate of next period's expenses.
type Projection struct {
	Period  Period            `json:"period"`
	Basis   []decimal.Decimal `json:"basis"`
	Amount  decimal.Decimal   `json:"amount"`
	Weights []decimal.Decimal `json:"weights"`
}
