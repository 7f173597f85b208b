// Package reports turns a user's operations into summaries, comparisons,
// projections and chart-ready data.
package reports

import (
	"strings"
	"time"

	"finanzas/internal/core"
)

type PeriodKind string

const (
	Week   PeriodKind = "week"
	Month  PeriodKind = "month"
	Year   PeriodKind = "year"
	Custom PeriodKind = "custom"
)

// Period is an inclusive range of calendar days.
type Period struct {
	Kind  PeriodKind `json:"kind"`
	Start core.Date  `json:"start"`
	End   core.Date  `json:"end"`
}

// RangeOptions carries the optional overrides accepted by ResolveRange.
// Year and Month apply to month and year periods, Start and End to custom ones.
type RangeOptions struct {
	Year  int
	Month int
	Start core.Date
	End   core.Date
}

// ParsePeriodKind maps a query value to a kind. Unknown values are custom.
func ParsePeriodKind(s string) PeriodKind {
	switch PeriodKind(strings.ToLower(strings.TrimSpace(s))) {
	case Week:
		return Week
	case Month:
		return Month
	case Year:
		return Year
	default:
		return Custom
	}
}

// KindForReport maps a saved report type to the period it covers.
func KindForReport(t core.ReportType) PeriodKind {
	switch t {
	case core.WeeklyReport:
		return Week
	case core.MonthlyReport:
		return Month
	case core.AnnualReport:
		return Year
	default:
		return Custom
	}
}

// ReportTypeFor is the inverse of KindForReport.
func ReportTypeFor(k PeriodKind) core.ReportType {
	switch k {
	case Week:
		return core.WeeklyReport
	case Month:
		return core.MonthlyReport
	case Year:
		return core.AnnualReport
	default:
		return core.CustomReport
	}
}

// Today returns the current calendar day in loc.
func Today(loc *time.Location, now time.Time) core.Date {
	if loc == nil {
		loc = time.UTC
	}
	return core.DateOf(now.In(loc))
}

// ResolveRange computes the inclusive bounds of a period of the given kind.
// Today is taken in loc. Invalid overrides fall back to the current period.
func ResolveRange(kind PeriodKind, loc *time.Location, now time.Time, opts RangeOptions) Period {
	today := Today(loc, now)

	switch kind {
	case Week:
		return WeekRange(today)
	case Month:
		year, month := today.Year(), today.Month()
		if validYear(opts.Year) {
			year = opts.Year
		}
		if validMonth(opts.Month) {
			month = opts.Month
		}
		return MonthRange(year, month)
	case Year:
		year := today.Year()
		if validYear(opts.Year) {
			year = opts.Year
		}
		return YearRange(year)
	default:
		if !opts.Start.IsZero() && !opts.End.IsZero() && !opts.Start.After(opts.End) {
			return Period{Kind: Custom, Start: opts.Start, End: opts.End}
		}
		p := MonthRange(today.Year(), today.Month())
		p.Kind = Custom
		return p
	}
}

// WeekRange returns Monday..Sunday of the week containing day.
func WeekRange(day core.Date) Period {
	offset := (int(day.Weekday()) + 6) % 7
	start := day.AddDays(-offset)
	return Period{Kind: Week, Start: start, End: start.AddDays(6)}
}

// MonthRange returns the first and last day of the month.
func MonthRange(year, month int) Period {
	start := core.NewDate(year, month, 1)
	var next core.Date
	if month == 12 {
		next = core.NewDate(year+1, 1, 1)
	} else {
		next = core.NewDate(year, month+1, 1)
	}
	return Period{Kind: Month, Start: start, End: next.AddDays(-1)}
}

// YearRange returns Jan 1..Dec 31.
func YearRange(year int) Period {
	return Period{Kind: Year, Start: core.NewDate(year, 1, 1), End: core.NewDate(year, 12, 31)}
}

// PreviousRange returns the period of the same kind right before p.
func PreviousRange(p Period) Period {
	switch p.Kind {
	case Week:
		return WeekRange(p.Start.AddDays(-7))
	case Month:
		year, month := p.Start.Year(), p.Start.Month()-1
		if month < 1 {
			month = 12
			year--
		}
		return MonthRange(year, month)
	case Year:
		return YearRange(p.Start.Year() - 1)
	default:
		days := p.Days()
		end := p.Start.AddDays(-1)
		return Period{Kind: p.Kind, Start: end.AddDays(-(days - 1)), End: end}
	}
}

// Days is the number of calendar days in the period, both ends included.
func (p Period) Days() int {
	if p.End.Before(p.Start) {
		return 0
	}
	return p.Start.DaysUntil(p.End) + 1
}

func (p Period) Contains(d core.Date) bool {
	return d.Between(p.Start, p.End)
}

func validYear(y int) bool { return y >= 1 && y <= 9999 }

func validMonth(m int) bool { return m >= 1 && m <= 12 }

// NextRange returns the period of the same kind right after p.
func NextRange(p Period) Period {
	switch p.Kind {
	case Week:
		return WeekRange(p.End.AddDays(1))
	case Month:
		year, month := p.Start.Year(), p.Start.Month()+1
		if month > 12 {
			month = 1
			year++
		}
		return MonthRange(year, month)
	case Year:
		return YearRange(p.Start.Year() + 1)
	default:
		start := p.End.AddDays(1)
		return Period{Kind: p.Kind, Start: start, End: start.AddDays(p.Days() - 1)}
	}
}
