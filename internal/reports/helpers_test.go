package reports

import (
	"github.com/shopspring/decimal"

	"finanzas/internal/core"
)

var (
	food   = &core.Category{ID: 1, UserID: 7, Name: "Food", Type: core.Expense, Color: "#ff0000", Icon: "fa-utensils"}
	rent   = &core.Category{ID: 2, UserID: 7, Name: "Rent", Type: core.Expense, Color: "#00ff00", Icon: "fa-home"}
	salary = &core.Category{ID: 3, UserID: 7, Name: "Salary", Type: core.Income, Color: "#0000ff", Icon: "fa-money"}
)

func date(s string) core.Date {
	d, err := core.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func op(id int64, c *core.Category, amount, day string) core.Operation {
	o := core.Operation{ID: id, UserID: 7, Amount: dec(amount), Date: date(day)}
	if c != nil {
		cid := c.ID
		o.CategoryID = &cid
		o.Category = c
	}
	return o
}

// marchLedger spans February and March 2024.
func marchLedger() []core.Operation {
	return []core.Operation{
		op(1, food, "10.50", "2024-03-01"),
		op(2, rent, "800", "2024-03-02"),
		op(3, food, "20.00", "2024-03-05"),
		op(4, salary, "3000", "2024-03-05"),
		op(5, nil, "5", "2024-03-10"),
		op(6, food, "99", "2024-02-28"),
		op(7, salary, "2500", "2024-02-01"),
	}
}
