package reports

import (
	"sort"

	"github.com/shopspring/decimal"

	"finanzas/internal/core"
)

const (
	UncategorizedLabel = "Uncategorized"
	UncategorizedColor = "#95a5a6"
)

// Filter selects the operations that take part in an aggregation.
type Filter struct {
	Start       core.Date
	End         core.Date
	CategoryIDs []int64
	Type        core.CategoryType
}

// FilterFor selects every operation in p.
func FilterFor(p Period) Filter {
	return Filter{Start: p.Start, End: p.End}
}

// WithType returns a copy of f restricted to one category type.
func (f Filter) WithType(t core.CategoryType) Filter {
	f.Type = t
	return f
}

// Query converts f into a storage query.
func (f Filter) Query() core.OperationQuery {
	return core.OperationQuery{Start: f.Start, End: f.End, CategoryIDs: f.CategoryIDs, Type: f.Type}
}

// Select returns the operations matching f, preserving order.
func Select(ops []core.Operation, f Filter) []core.Operation {
	q := f.Query()
	out := make([]core.Operation, 0, len(ops))
	for _, op := range ops {
		if q.Matches(op) {
			out = append(out, op)
		}
	}
	return out
}

// Stats are the figures computed for every group.
type Stats struct {
	Total      decimal.Decimal `json:"total"`
	Count      int             `json:"count"`
	Average    decimal.Decimal `json:"average"`
	Percentage float64         `json:"percentage"`
}

func (s *Stats) add(amount decimal.Decimal) {
	s.Total = s.Total.Add(amount)
	s.Count++
}

func (s *Stats) finish(grandTotal decimal.Decimal) {
	if s.Count > 0 {
		s.Average = core.RoundMoney(s.Total.Div(decimal.NewFromInt(int64(s.Count))))
	}
	s.Percentage = Percentage(s.Total, grandTotal)
}

// CategoryGroup is the aggregate of one category.
type CategoryGroup struct {
	CategoryID *int64            `json:"category_id"`
	Name       string            `json:"name"`
	Color      string            `json:"color"`
	Icon       string            `json:"icon,omitempty"`
	Type       core.CategoryType `json:"type,omitempty"`
	Stats
}

// PeriodGroup is the aggregate of one time bucket.
type PeriodGroup struct {
	Period core.Date `json:"period"`
	Label  string    `json:"label"`
	Stats
}

// SummarizeByCategory groups the operations matching f by category, ordered
// by total descending. Uncategorized operations form their own group.
func SummarizeByCategory(ops []core.Operation, f Filter) []CategoryGroup {
	selected := Select(ops, f)

	var grand decimal.Decimal
	byKey := make(map[int64]*CategoryGroup)
	var uncategorized *CategoryGroup
	for _, op := range selected {
		grand = grand.Add(op.Amount)

		if op.CategoryID == nil {
			if uncategorized == nil {
				uncategorized = &CategoryGroup{Name: UncategorizedLabel, Color: UncategorizedColor}
			}
			uncategorized.add(op.Amount)
			continue
		}

		g, ok := byKey[*op.CategoryID]
		if !ok {
			id := *op.CategoryID
			g = &CategoryGroup{CategoryID: &id, Color: core.DefaultCategoryColor}
			if op.Category != nil {
				g.Name = op.Category.Name
				g.Color = op.Category.Color
				g.Icon = op.Category.Icon
				g.Type = op.Category.Type
			}
			byKey[id] = g
		}
		g.add(op.Amount)
	}

	groups := make([]CategoryGroup, 0, len(byKey)+1)
	for _, g := range byKey {
		groups = append(groups, *g)
	}
	if uncategorized != nil {
		groups = append(groups, *uncategorized)
	}
	for i := range groups {
		groups[i].finish(grand)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if c := groups[i].Total.Cmp(groups[j].Total); c != 0 {
			return c > 0
		}
		return groups[i].Name < groups[j].Name
	})
	return groups
}

// SummarizeByPeriod groups the operations matching f into buckets of g,
// ordered by bucket start. Empty buckets are omitted.
func SummarizeByPeriod(ops []core.Operation, f Filter, g Granularity) []PeriodGroup {
	selected := Select(ops, f)

	var grand decimal.Decimal
	byStart := make(map[core.Date]*PeriodGroup)
	for _, op := range selected {
		grand = grand.Add(op.Amount)
		start := g.Truncate(op.Date)
		pg, ok := byStart[start]
		if !ok {
			pg = &PeriodGroup{Period: start, Label: g.Label(start)}
			byStart[start] = pg
		}
		pg.add(op.Amount)
	}

	groups := make([]PeriodGroup, 0, len(byStart))
	for _, pg := range byStart {
		pg.finish(grand)
		groups = append(groups, *pg)
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Period.Before(groups[j].Period)
	})
	return groups
}

// FillPeriods returns one group per bucket between start and end, taking
// figures from groups and zero values for buckets with no operations.
func FillPeriods(groups []PeriodGroup, start, end core.Date, g Granularity) []PeriodGroup {
	byStart := make(map[core.Date]PeriodGroup, len(groups))
	for _, pg := range groups {
		byStart[pg.Period] = pg
	}

	var out []PeriodGroup
	for d := g.Truncate(start); !d.After(end); d = g.Next(d) {
		if pg, ok := byStart[d]; ok {
			out = append(out, pg)
			continue
		}
		out = append(out, PeriodGroup{Period: d, Label: g.Label(d)})
	}
	return out
}

// ComputeTotals returns expenses, income and balance for the operations
// matching f, ignoring f.Type.
func ComputeTotals(ops []core.Operation, f Filter) core.Totals {
	f.Type = ""
	return core.SumTotals(Select(ops, f))
}

// TrendPoint holds expenses and income of one bucket.
type TrendPoint struct {
	Period   core.Date       `json:"period"`
	Label    string          `json:"label"`
	Expenses decimal.Decimal `json:"expenses"`
	Income   decimal.Decimal `json:"income"`
	Count    int             `json:"count"`
}

// ExpenseAverage is the mean expense amount in the bucket.
func (p TrendPoint) ExpenseAverage() decimal.Decimal {
	if p.Count == 0 {
		return decimal.Zero
	}
	return core.RoundMoney(p.Expenses.Div(decimal.NewFromInt(int64(p.Count))))
}

// BuildTrend returns one point per bucket of g in [f.Start, f.End] with the
// expenses and income of the operations matching f. Count is the number of
// expense operations.
func BuildTrend(ops []core.Operation, f Filter, g Granularity) []TrendPoint {
	if f.Start.IsZero() || f.End.IsZero() {
		return nil
	}
	expenses := FillPeriods(SummarizeByPeriod(ops, f.WithType(core.Expense), g), f.Start, f.End, g)
	income := FillPeriods(SummarizeByPeriod(ops, f.WithType(core.Income), g), f.Start, f.End, g)

	out := make([]TrendPoint, len(expenses))
	for i, e := range expenses {
		out[i] = TrendPoint{
			Period:   e.Period,
			Label:    e.Label,
			Expenses: e.Total,
			Income:   income[i].Total,
			Count:    e.Count,
		}
	}
	return out
}
