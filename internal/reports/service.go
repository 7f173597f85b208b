package reports

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"finanzas/internal/cache"
	"finanzas/internal/core"
	"finanzas/internal/log"
)

// Store is the read side of the ledger the reports are computed from.
// ListOperations must populate Operation.Category.
type Store interface {
	GetProfile(ctx context.Context, userID int64) (core.Profile, error)
	ListOperations(ctx context.Context, userID int64, q core.OperationQuery) ([]core.Operation, error)
	GetSavedReport(ctx context.Context, userID, id int64) (core.SavedReport, error)
}

// Query describes a report request. Start and End override the range of
// month and year reports when both are set and ordered.
type Query struct {
	Kind        PeriodKind
	Year        int
	Month       int
	Start       core.Date
	End         core.Date
	CategoryIDs []int64
}

// Service builds reports and dashboards for a user, caching results until
// the user's ledger changes.
type Service struct {
	store       Store
	reports     cache.LoadingCache[Report]
	dashboards  cache.LoadingCache[Dashboard]
	now         func() time.Time
	loadTimeout time.Duration

	mu sync.Mutex
	// generations is bumped by Invalidate; cache keys carry it so results
	// computed before a write never become visible after it.
	generations map[int64]uint64
}

// DefaultLoadTimeout bounds a cached computation shared by several requests.
const DefaultLoadTimeout = 30 * time.Second

type Option func(*Service)

func WithReportCache(c cache.LoadingCache[Report]) Option {
	return func(s *Service) { s.reports = c }
}

func WithDashboardCache(c cache.LoadingCache[Dashboard]) Option {
	return func(s *Service) { s.dashboards = c }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLoadTimeout bounds cached computations, which run detached from the
// requesting caller.
func WithLoadTimeout(d time.Duration) Option {
	return func(s *Service) { s.loadTimeout = d }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		now:         time.Now,
		loadTimeout: DefaultLoadTimeout,
		generations: make(map[int64]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func userPrefix(userID int64) string {
	return fmt.Sprintf("u:%d|", userID)
}

// keyPrefix is the cache key prefix for the user's current generation.
func (s *Service) keyPrefix(userID int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("%sg%d|", userPrefix(userID), s.generations[userID])
}

// Invalidate drops every cached report and dashboard of the user. Reports
// still being computed from older data are stored under keys no longer read.
func (s *Service) Invalidate(userID int64) int {
	s.mu.Lock()
	s.generations[userID]++
	s.mu.Unlock()

	removed := 0
	if s.reports != nil {
		removed += s.reports.DeletePrefix(userPrefix(userID))
	}
	if s.dashboards != nil {
		removed += s.dashboards.DeletePrefix(userPrefix(userID))
	}
	return removed
}

func cached[T any](ctx context.Context, s *Service, c cache.LoadingCache[T], key string, load func(context.Context) (T, error)) (T, error) {
	if c == nil {
		return load(ctx)
	}
	return c.GetOrLoad(ctx, key, func(ctx context.Context) (T, error) {
		ctx, cancel := context.WithTimeout(ctx, s.loadTimeout)
		defer cancel()
		return load(ctx)
	})
}

// Today is the current calendar day in the user's timezone.
func (s *Service) Today(ctx context.Context, userID int64) (core.Date, core.Profile, error) {
	profile, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return core.Date{}, core.Profile{}, fmt.Errorf("load profile: %w", err)
	}
	return Today(profile.Location(), s.now()), profile, nil
}

// Build resolves q in the user's timezone and computes the report.
func (s *Service) Build(ctx context.Context, userID int64, q Query) (Report, error) {
	profile, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return Report{}, fmt.Errorf("load profile: %w", err)
	}

	opts := RangeOptions{Year: q.Year, Month: q.Month, Start: q.Start, End: q.End}
	p := ResolveRange(q.Kind, profile.Location(), s.now(), opts)

	in := ReportInput{
		Type:        ReportTypeFor(p.Kind),
		Period:      p,
		Currency:    profile.Currency,
		CategoryIDs: q.CategoryIDs,
	}
	switch p.Kind {
	case Month:
		in.Year, in.Month = p.Start.Year(), p.Start.Month()
	case Year:
		in.Year = p.Start.Year()
	}
	if p.Kind == Month || p.Kind == Year {
		if !q.Start.IsZero() && !q.End.IsZero() && !q.Start.After(q.End) {
			in.Period = Period{Kind: Custom, Start: q.Start, End: q.End}
			in.Title = DefaultTitle(in.Type, p)
		}
	}
	return s.generate(ctx, userID, in)
}

// Monthly is Build for a month report.
func (s *Service) Monthly(ctx context.Context, userID int64, year, month int, categoryIDs []int64) (Report, error) {
	return s.Build(ctx, userID, Query{Kind: Month, Year: year, Month: month, CategoryIDs: categoryIDs})
}

// Annual is Build for a year report.
func (s *Service) Annual(ctx context.Context, userID int64, year int, categoryIDs []int64) (Report, error) {
	return s.Build(ctx, userID, Query{Kind: Year, Year: year, CategoryIDs: categoryIDs})
}

// RunSaved recomputes a saved report over its stored range and filters.
func (s *Service) RunSaved(ctx context.Context, userID, id int64) (Report, error) {
	saved, err := s.store.GetSavedReport(ctx, userID, id)
	if err != nil {
		return Report{}, fmt.Errorf("load saved report %d: %w", id, err)
	}
	profile, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return Report{}, fmt.Errorf("load profile: %w", err)
	}

	in := ReportInput{
		Title:       saved.Name,
		Type:        saved.ReportType,
		Currency:    profile.Currency,
		CategoryIDs: saved.CategoryIDs(),
	}
	start := saved.StartDate
	switch KindForReport(saved.ReportType) {
	case Week:
		in.Period = WeekRange(start)
	case Month:
		in.Period = MonthRange(start.Year(), start.Month())
		in.Year, in.Month = start.Year(), start.Month()
	case Year:
		in.Period = YearRange(start.Year())
		in.Year = start.Year()
	default:
		in.Type = core.CustomReport
		in.Period = Period{Kind: Custom, Start: start, End: saved.EndDate}
	}
	return s.generate(ctx, userID, in)
}

func (s *Service) generate(ctx context.Context, userID int64, in ReportInput) (Report, error) {
	p := in.Period
	key := fmt.Sprintf("%sreport|%s|%d-%d|%s|%s|%s|%v|%s",
		s.keyPrefix(userID), in.Type, in.Year, in.Month, p.Kind, p.Start, p.End, in.CategoryIDs, in.Title)

	return cached(ctx, s, s.reports, key, func(ctx context.Context) (Report, error) {
		history := HistoryRange(p)
		ops, err := s.store.ListOperations(ctx, userID, core.OperationQuery{
			Start:       history.Start,
			End:         history.End,
			CategoryIDs: in.CategoryIDs,
		})
		if err != nil {
			return Report{}, fmt.Errorf("load operations: %w", err)
		}
		in.Operations = ops
		r := BuildReport(in)

		log.FromContext(ctx).WithComponent(log.ComponentReports).DebugContext(ctx, "Report computed",
			log.NewFields().
				WithUser(userID).
				WithOperation(log.OpReport).
				WithPeriod(string(p.Kind), p.Start.Time, p.End.Time).
				ToSlice()...)
		return r, nil
	})
}

// Dashboard computes the current month's dashboard. The current and previous
// months are loaded concurrently.
func (s *Service) Dashboard(ctx context.Context, userID int64) (Dashboard, error) {
	today, profile, err := s.Today(ctx, userID)
	if err != nil {
		return Dashboard{}, err
	}
	key := fmt.Sprintf("%sdashboard|%s", s.keyPrefix(userID), today)

	return cached(ctx, s, s.dashboards, key, func(ctx context.Context) (Dashboard, error) {
		current, previous := DashboardPeriods(today)
		in := DashboardInput{Profile: profile, Today: today}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			ops, err := s.store.ListOperations(gctx, userID, FilterFor(current).Query())
			if err != nil {
				return fmt.Errorf("load current month: %w", err)
			}
			in.Current = ops
			return nil
		})
		g.Go(func() error {
			ops, err := s.store.ListOperations(gctx, userID, FilterFor(previous).Query())
			if err != nil {
				return fmt.Errorf("load previous month: %w", err)
			}
			in.Previous = ops
			return nil
		})
		if err := g.Wait(); err != nil {
			return Dashboard{}, err
		}
		return BuildDashboard(in), nil
	})
}

// Trend returns expenses and income per bucket of g between start and end.
// Without a valid range it covers the last twelve months.
func (s *Service) Trend(ctx context.Context, userID int64, g Granularity, start, end core.Date) ([]TrendPoint, Period, error) {
	today, _, err := s.Today(ctx, userID)
	if err != nil {
		return nil, Period{}, err
	}

	p := Period{Kind: Custom, Start: start, End: end}
	if start.IsZero() || end.IsZero() || start.After(end) {
		last := MonthRange(today.Year(), today.Month())
		first := last
		for i := 0; i < 11; i++ {
			first = PreviousRange(first)
		}
		p = Period{Kind: Custom, Start: first.Start, End: last.End}
	}

	ops, err := s.store.ListOperations(ctx, userID, FilterFor(p).Query())
	if err != nil {
		return nil, Period{}, fmt.Errorf("load operations: %w", err)
	}
	return BuildTrend(ops, FilterFor(p), g), p, nil
}
