package core

import "github.com/shopspring/decimal"

// Totals splits a set of operations by category type.
type Totals struct {
	Expenses decimal.Decimal `json:"expenses"`
	Income   decimal.Decimal `json:"income"`
	Balance  decimal.Decimal `json:"balance"`
}

// SumTotals adds up ops by category type. Uncategorized operations are not
// counted on either side.
func SumTotals(ops []Operation) Totals {
	var t Totals
	for _, op := range ops {
		switch op.Type() {
		case Expense:
			t.Expenses = t.Expenses.Add(op.Amount)
		case Income:
			t.Income = t.Income.Add(op.Amount)
		}
	}
	t.Balance = t.Income.Sub(t.Expenses)
	return t
}
