package reports

import (
	"strings"

	"finanzas/internal/core"
)

// Granularity is the bucket size used when grouping operations over time.
type Granularity string

const (
	Daily   Granularity = "day"
	Weekly  Granularity = "week"
	Monthly Granularity = "month"
	Yearly  Granularity = "year"
)

// ParseGranularity maps a query value to a granularity, defaulting to monthly.
func ParseGranularity(s string) Granularity {
	switch Granularity(strings.ToLower(strings.TrimSpace(s))) {
	case Daily:
		return Daily
	case Weekly:
		return Weekly
	case Yearly:
		return Yearly
	default:
		return Monthly
	}
}

// Truncate returns the first day of the bucket containing d. Weeks start on Monday.
func (g Granularity) Truncate(d core.Date) core.Date {
	switch g {
	case Daily:
		return core.NewDate(d.Year(), d.Month(), d.Day())
	case Weekly:
		return WeekRange(d).Start
	case Yearly:
		return core.NewDate(d.Year(), 1, 1)
	default:
		return core.NewDate(d.Year(), d.Month(), 1)
	}
}

// Next returns the first day of the bucket after the one starting at d.
func (g Granularity) Next(d core.Date) core.Date {
	switch g {
	case Daily:
		return d.AddDays(1)
	case Weekly:
		return d.AddDays(7)
	case Yearly:
		return core.NewDate(d.Year()+1, 1, 1)
	default:
		if d.Month() == 12 {
			return core.NewDate(d.Year()+1, 1, 1)
		}
		return core.NewDate(d.Year(), d.Month()+1, 1)
	}
}

// Label formats a bucket start for display.
func (g Granularity) Label(d core.Date) string {
	switch g {
	case Monthly:
		return d.Format("2006-01")
	case Yearly:
		return d.Format("2006")
	default:
		return d.String()
	}
}

// BreakdownGranularity picks day buckets for short periods and month buckets
// for annual or long ones.
func BreakdownGranularity(p Period) Granularity {
	if p.Kind == Year || p.Days() > 92 {
		return Monthly
	}
	return Daily
}
