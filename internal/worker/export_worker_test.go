package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finanzas/internal/amqp"
	"finanzas/internal/core"
	"finanzas/internal/export"
	"finanzas/internal/reports"
	sheetsmem "finanzas/internal/sheets/memory"
	"finanzas/internal/storage/memory"
)

type env struct {
	store     *memory.Store
	publisher *sheetsmem.Publisher
	worker    *ExportWorker
	user      core.User
	dir       string
}

func newEnv(t *testing.T, now time.Time, withSheets bool) env {
	t.Helper()
	ctx := context.Background()
	e := env{store: memory.New(), dir: t.TempDir()}

	u, err := e.store.CreateUser(ctx, core.User{Username: "ana", Email: "ana@example.com"}, core.DefaultProfile(0))
	require.NoError(t, err)
	e.user = u

	food, err := e.store.CreateCategory(ctx, core.Category{UserID: u.ID, Name: "Food", Type: core.Expense, Color: "#ff0000", Icon: "fa-tag"})
	require.NoError(t, err)
	salary, err := e.store.CreateCategory(ctx, core.Category{UserID: u.ID, Name: "Salary", Type: core.Income, Color: "#00ff00", Icon: "fa-tag"})
	require.NoError(t, err)

	for _, op := range []struct {
		cat    int64
		amount string
		date   core.Date
	}{
		{food.ID, "12.50", core.NewDate(2024, 3, 2)},
		{food.ID, "30.00", core.NewDate(2024, 3, 18)},
		{salary.ID, "2500", core.NewDate(2024, 3, 1)},
	} {
		cat := op.cat
		_, err := e.store.CreateOperation(ctx, core.Operation{
			UserID:     u.ID,
			CategoryID: &cat,
			Amount:     decimal.RequireFromString(op.amount),
			Date:       op.date,
		})
		require.NoError(t, err)
	}

	svc := reports.NewService(e.store, reports.WithClock(func() time.Time { return now }))
	opts := Options{SheetBase: "Reports", ExportDir: e.dir, Now: func() time.Time { return now }}
	if withSheets {
		e.publisher = sheetsmem.New()
		opts.Publisher = e.publisher
	}
	e.worker = NewExportWorker(svc, e.store, opts)
	return e
}

func march(userID int64, format string) *amqp.ExportRequestMessage {
	msg := amqp.NewExportRequestMessage(userID, "month", format)
	msg.Year, msg.Month = 2024, 3
	return msg
}

func TestHandleExportRequestPublishesToSheets(t *testing.T) {
	e := newEnv(t, time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC), true)

	require.NoError(t, e.worker.HandleExportRequest(context.Background(), march(e.user.ID, "")))

	tab := "Reports u" + strconv.FormatInt(e.user.ID, 10) + " 2024-03"
	values, ok := e.publisher.Tab(tab)
	require.True(t, ok, "tabs: %v", e.publisher.Tabs())
	// title, blank, header, 3 summary rows, 1 category, 31 days
	assert.Len(t, values, 3+3+1+31)
	assert.Equal(t, []any{"section", "label", "amount", "count", "average"}, values[2])
	assert.Equal(t, "Total Expenses", values[3][1])
	assert.Equal(t, 42.5, values[3][2])
}

func TestHandleExportRequestWritesFile(t *testing.T) {
	e := newEnv(t, time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC), false)

	require.NoError(t, e.worker.HandleExportRequest(context.Background(), march(e.user.ID, "excel")))

	path := filepath.Join(e.dir, strconv.FormatInt(e.user.ID, 10), "monthly_report_2024_3.xlsx")
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	leftovers, err := filepath.Glob(filepath.Join(e.dir, "*", ".export-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestHandleExportRequestErrors(t *testing.T) {
	e := newEnv(t, time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC), false)
	ctx := context.Background()

	err := e.worker.HandleExportRequest(ctx, march(e.user.ID, amqp.TargetSheets))
	assert.ErrorIs(t, err, ErrSheetsDisabled)

	err = e.worker.HandleExportRequest(ctx, march(e.user.ID, "docx"))
	assert.ErrorIs(t, err, export.ErrUnsupportedFormat)

	msg := march(e.user.ID, "csv")
	msg.Kind, msg.StartDate = "custom", "2024-13-01"
	err = e.worker.HandleExportRequest(ctx, msg)
	assert.ErrorIs(t, err, amqp.ErrInvalidMessage)

	err = e.worker.HandleExportRequest(ctx, march(9999, "csv"))
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestQueryFromMessage(t *testing.T) {
	msg := amqp.NewExportRequestMessage(1, "custom", "pdf")
	msg.StartDate, msg.EndDate = "2024-01-05", "2024-02-10"
	msg.CategoryIDs = []int64{3}

	q, err := QueryFromMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, reports.Custom, q.Kind)
	assert.Equal(t, "2024-01-05", q.Start.String())
	assert.Equal(t, "2024-02-10", q.End.String())
	assert.Equal(t, []int64{3}, q.CategoryIDs)
}

func TestTabFor(t *testing.T) {
	w := NewExportWorker(nil, nil, Options{SheetBase: "Reports"})

	tests := []struct {
		name string
		r    reports.Report
		want string
	}{
		{"monthly", reports.Report{Type: core.MonthlyReport, Year: 2024, Month: 3}, "Reports u7 2024-03"},
		{"annual", reports.Report{Type: core.AnnualReport, Year: 2024}, "Reports u7 2024"},
		{"custom", reports.Report{
			Type:   core.CustomReport,
			Period: reports.Period{Kind: reports.Custom, Start: core.NewDate(2024, 1, 1), End: core.NewDate(2024, 1, 31)},
		}, "Reports u7 2024-01-01..2024-01-31"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.TabFor(7, tt.r))
		})
	}
}

func TestLedgerEventsRefreshCurrentMonth(t *testing.T) {
	e := newEnv(t, time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC), true)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ev := amqp.NewLedgerEvent(e.user.ID, amqp.EntityOperation, int64(i), amqp.ActionCreated)
		require.NoError(t, e.worker.HandleLedgerEvent(ctx, ev))
	}
	assert.Equal(t, []int64{e.user.ID}, e.worker.Pending())

	require.NoError(t, e.worker.FlushPending(ctx))
	assert.Empty(t, e.worker.Pending())
	assert.Equal(t, 1, e.publisher.Published())
	_, ok := e.publisher.Tab("Reports u" + strconv.FormatInt(e.user.ID, 10) + " 2024-03")
	assert.True(t, ok)
}

func TestFlushPendingKeepsFailedUsers(t *testing.T) {
	e := newEnv(t, time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC), true)
	ctx := context.Background()

	require.NoError(t, e.worker.HandleLedgerEvent(ctx, amqp.NewLedgerEvent(4242, amqp.EntityCategory, 1, amqp.ActionDeleted)))
	err := e.worker.FlushPending(ctx)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, []int64{4242}, e.worker.Pending())
}

// changingBuilder reports a ledger change for the user while the first
// report is being built.
type changingBuilder struct {
	next   ReportBuilder
	worker *ExportWorker
	builds int
}

func (b *changingBuilder) Build(ctx context.Context, userID int64, q reports.Query) (reports.Report, error) {
	b.builds++
	if b.builds == 1 {
		ev := amqp.NewLedgerEvent(userID, amqp.EntityOperation, 99, amqp.ActionCreated)
		if err := b.worker.HandleLedgerEvent(ctx, ev); err != nil {
			return reports.Report{}, err
		}
	}
	return b.next.Build(ctx, userID, q)
}

func TestFlushPendingKeepsChangesDuringRefresh(t *testing.T) {
	now := time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)
	e := newEnv(t, now, true)
	ctx := context.Background()

	b := &changingBuilder{next: e.worker.reports}
	w := NewExportWorker(b, e.store, Options{Publisher: e.publisher, SheetBase: "Reports", ExportDir: e.dir, Now: func() time.Time { return now }})
	b.worker = w

	require.NoError(t, w.HandleLedgerEvent(ctx, amqp.NewLedgerEvent(e.user.ID, amqp.EntityOperation, 1, amqp.ActionCreated)))
	require.NoError(t, w.FlushPending(ctx))
	assert.Equal(t, []int64{e.user.ID}, w.Pending())
	assert.Equal(t, 1, e.publisher.Published())

	require.NoError(t, w.FlushPending(ctx))
	assert.Empty(t, w.Pending())
	assert.Equal(t, 2, e.publisher.Published())
	assert.Equal(t, 2, b.builds)
}

func TestLedgerEventsIgnoredWithoutSheets(t *testing.T) {
	e := newEnv(t, time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC), false)

	require.NoError(t, e.worker.HandleLedgerEvent(context.Background(), amqp.NewLedgerEvent(e.user.ID, amqp.EntityOperation, 1, amqp.ActionCreated)))
	assert.Empty(t, e.worker.Pending())
	assert.NoError(t, e.worker.FlushPending(context.Background()))
}

func TestRunMonthlyExportsPreviousMonth(t *testing.T) {
	e := newEnv(t, time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC), false)
	ctx := context.Background()

	_, err := e.store.CreateUser(ctx, core.User{Username: "bob", Email: "bob@example.com"}, core.DefaultProfile(0))
	require.NoError(t, err)

	require.NoError(t, e.worker.RunMonthly(ctx, "csv"))

	users, err := e.store.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	for _, u := range users {
		path := filepath.Join(e.dir, strconv.FormatInt(u.ID, 10), "monthly_report_2024_3.csv")
		_, err := os.Stat(path)
		assert.NoError(t, err, "user %d", u.ID)
	}
}

func TestRunMonthlyJanuaryRollsBackToDecember(t *testing.T) {
	e := newEnv(t, time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC), false)

	require.NoError(t, e.worker.RunMonthly(context.Background(), "pdf"))

	path := filepath.Join(e.dir, strconv.FormatInt(e.user.ID, 10), "monthly_report_2024_12.pdf")
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

type failingUsers struct{}

func (failingUsers) ListUsers(context.Context) ([]core.User, error) {
	return nil, errors.New("db down")
}

func TestRunMonthlyListError(t *testing.T) {
	w := NewExportWorker(nil, failingUsers{}, Options{})
	assert.Error(t, w.RunMonthly(context.Background(), "csv"))
}

func TestScheduleMonthlyRejectsBadSpec(t *testing.T) {
	w := NewExportWorker(nil, failingUsers{}, Options{})
	_, err := ScheduleMonthly(context.Background(), "not a spec", "csv", w, w.logger)
	assert.Error(t, err)

	c, err := ScheduleMonthly(context.Background(), "0 9 1 * *", "csv", w, w.logger)
	require.NoError(t, err)
	<-c.Stop().Done()
}
