package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"finanzas/internal/amqp"
	"finanzas/internal/core"
	"finanzas/internal/export"
	"finanzas/internal/log"
	"finanzas/internal/reports"
	"finanzas/internal/sheets"
)

var ErrSheetsDisabled = errors.New("google sheets publishing is not configured")

// ReportBuilder computes reports. *reports.Service implements it.
type ReportBuilder interface {
	Build(ctx context.Context, userID int64, q reports.Query) (reports.Report, error)
}

// UserLister lists every registered user.
type UserLister interface {
	ListUsers(ctx context.Context) ([]core.User, error)
}

// ExportWorker delivers reports outside the request path: queued export
// requests, refreshes of published sheets after ledger changes, and the
// monthly export of every user's previous month.
type ExportWorker struct {
	reports   ReportBuilder
	users     UserLister
	publisher sheets.Publisher
	sheetBase string
	exportDir string
	now       func() time.Time
	logger    *log.Logger

	mu    sync.Mutex
	dirty map[int64]struct{}
}

type Options struct {
	// Publisher is nil when Sheets is not configured.
	Publisher sheets.Publisher
	SheetBase string
	ExportDir string
	Logger    *log.Logger
	Now       func() time.Time
}

func NewExportWorker(builder ReportBuilder, users UserLister, opts Options) *ExportWorker {
	w := &ExportWorker{
		reports:   builder,
		users:     users,
		publisher: opts.Publisher,
		sheetBase: opts.SheetBase,
		exportDir: opts.ExportDir,
		now:       opts.Now,
		logger:    opts.Logger,
		dirty:     make(map[int64]struct{}),
	}
	if w.now == nil {
		w.now = time.Now
	}
	if w.logger == nil {
		w.logger = log.New(log.Config{Component: log.ComponentWorker})
	}
	if w.exportDir == "" {
		w.exportDir = "."
	}
	return w
}

// QueryFromMessage translates an export request into a report query.
func QueryFromMessage(msg *amqp.ExportRequestMessage) (reports.Query, error) {
	q := reports.Query{
		Kind:        reports.ParsePeriodKind(msg.Kind),
		Year:        msg.Year,
		Month:       msg.Month,
		CategoryIDs: msg.CategoryIDs,
	}
	var err error
	if msg.StartDate != "" {
		if q.Start, err = core.ParseDate(msg.StartDate); err != nil {
			return reports.Query{}, fmt.Errorf("start date %q: %w", msg.StartDate, amqp.ErrInvalidMessage)
		}
	}
	if msg.EndDate != "" {
		if q.End, err = core.ParseDate(msg.EndDate); err != nil {
			return reports.Query{}, fmt.Errorf("end date %q: %w", msg.EndDate, amqp.ErrInvalidMessage)
		}
	}
	return q, nil
}

// HandleExportRequest builds the requested report and delivers it.
func (w *ExportWorker) HandleExportRequest(ctx context.Context, msg *amqp.ExportRequestMessage) error {
	q, err := QueryFromMessage(msg)
	if err != nil {
		return err
	}
	r, err := w.reports.Build(ctx, msg.UserID, q)
	if err != nil {
		return fmt.Errorf("build report: %w", err)
	}
	location, err := w.Deliver(ctx, msg.UserID, r, msg.Format)
	if err != nil {
		return err
	}
	w.logger.InfoContext(ctx, "Export request delivered",
		"id", msg.ID,
		log.FieldUserID, msg.UserID,
		log.FieldExportFormat, msg.Format,
		"location", location)
	return nil
}

// Deliver publishes r to Google Sheets (format "sheets") or writes it as a
// file under the export directory. It returns the sheet range or file path.
func (w *ExportWorker) Deliver(ctx context.Context, userID int64, r reports.Report, format string) (string, error) {
	table := reports.ExportTable(r)
	if format == amqp.TargetSheets {
		if w.publisher == nil {
			return "", ErrSheetsDisabled
		}
		rng, err := w.publisher.Publish(ctx, w.TabFor(userID, r), table)
		if err != nil {
			return "", fmt.Errorf("publish to sheets: %w", err)
		}
		return rng, nil
	}

	f, err := export.ParseFormat(format)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(w.exportDir, strconv.FormatInt(userID, 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(dir, r.Filename(f.Extension()))
	if err := writeFile(path, func(out *os.File) error { return export.Render(out, f, table) }); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// writeFile renders into a temporary file and renames it into place so
// readers never see a partial export.
func writeFile(path string, render func(*os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := render(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// TabFor names the spreadsheet tab holding a user's report.
func (w *ExportWorker) TabFor(userID int64, r reports.Report) string {
	var period string
	switch {
	case r.Type == core.MonthlyReport && r.Year > 0 && r.Month > 0:
		period = fmt.Sprintf("%04d-%02d", r.Year, r.Month)
	case r.Type == core.AnnualReport && r.Year > 0:
		period = strconv.Itoa(r.Year)
	default:
		period = fmt.Sprintf("%s..%s", r.Period.Start, r.Period.End)
	}
	return sheets.TabName(w.sheetBase, fmt.Sprintf("u%d %s", userID, period))
}

// HandleLedgerEvent marks the user's published month as stale. Stale users
// are republished by FlushPending.
func (w *ExportWorker) HandleLedgerEvent(ctx context.Context, e *amqp.LedgerEvent) error {
	if w.publisher == nil || e.UserID <= 0 {
		return nil
	}
	w.markDirty(e.UserID)
	w.logger.DebugContext(ctx, "Ledger change queued for sheet refresh",
		log.FieldUserID, e.UserID,
		"entity", e.Entity,
		"action", e.Action)
	return nil
}

func (w *ExportWorker) markDirty(userID int64) {
	w.mu.Lock()
	w.dirty[userID] = struct{}{}
	w.mu.Unlock()
}

// Pending lists users waiting for a sheet refresh.
func (w *ExportWorker) Pending() []int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]int64, 0, len(w.dirty))
	for id := range w.dirty {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// FlushPending republishes the current month of every stale user. A user is
// unqueued before its report is built, so changes arriving during the
// refresh queue it again. Users whose refresh fails stay queued for the
// next flush.
func (w *ExportWorker) FlushPending(ctx context.Context) error {
	if w.publisher == nil {
		return nil
	}
	var errs []error
	for _, userID := range w.Pending() {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.mu.Lock()
		delete(w.dirty, userID)
		w.mu.Unlock()

		r, err := w.reports.Build(ctx, userID, reports.Query{Kind: reports.Month})
		if err == nil {
			_, err = w.Deliver(ctx, userID, r, amqp.TargetSheets)
		}
		if err != nil {
			w.markDirty(userID)
			errs = append(errs, fmt.Errorf("user %d: %w", userID, err))
		}
	}
	return errors.Join(errs...)
}

// RunMonthly exports the month before the current one for every user. A
// failing user does not stop the others.
func (w *ExportWorker) RunMonthly(ctx context.Context, format string) error {
	users, err := w.users.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	// the 1st of the month in UTC; each report resolves in the user's timezone
	prev := reports.PreviousRange(reports.MonthRange(w.now().UTC().Year(), int(w.now().UTC().Month())))
	year, month := prev.Start.Year(), prev.Start.Month()

	var errs []error
	delivered := 0
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		r, err := w.reports.Build(ctx, u.ID, reports.Query{Kind: reports.Month, Year: year, Month: month})
		if err == nil {
			_, err = w.Deliver(ctx, u.ID, r, format)
		}
		if err != nil {
			w.logger.ErrorContext(ctx, "Monthly export failed",
				log.FieldUserID, u.ID,
				log.FieldError, err)
			errs = append(errs, fmt.Errorf("user %d: %w", u.ID, err))
			continue
		}
		delivered++
	}
	w.logger.InfoContext(ctx, "Monthly export finished",
		"year", year,
		"month", month,
		"delivered", delivered,
		"failed", len(errs))
	return errors.Join(errs...)
}
