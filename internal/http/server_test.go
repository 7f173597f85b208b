package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finanzas/internal/amqp"
	"finanzas/internal/cache"
	"finanzas/internal/core"
	"finanzas/internal/log"
	"finanzas/internal/reports"
	"finanzas/internal/services"
	"finanzas/internal/storage/memory"
)

var testNow = time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC)

type fakeQueue struct {
	mu   sync.Mutex
	msgs []*amqp.ExportRequestMessage
	err  error
}

func (q *fakeQueue) PublishExportRequest(_ context.Context, msg *amqp.ExportRequestMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.msgs = append(q.msgs, msg)
	return nil
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("database is locked") }

type apiEnv struct {
	t      *testing.T
	srv    *Server
	store  *memory.Store
	queue  *fakeQueue
	user   core.User
	food   core.Category
	rent   core.Category
	salary core.Category
}

type envOption func(*Options)

func withQueue(q *fakeQueue) envOption {
	return func(o *Options) { o.Exports = q }
}

func withRateLimit(n int) envOption {
	return func(o *Options) { o.RateLimit = n }
}

func newAPI(t *testing.T, opts ...envOption) *apiEnv {
	t.Helper()
	store := memory.New()
	reportCache := cache.NewLRUCache[reports.Report](64, time.Minute)
	rep := reports.NewService(store,
		reports.WithClock(func() time.Time { return testNow }),
		reports.WithReportCache(reportCache))
	ledger := services.NewLedgerService(store, services.WithInvalidator(rep))

	o := Options{
		Ledger:    ledger,
		Reports:   rep,
		Storage:   store,
		Logger:    log.New(log.Config{Output: io.Discard}),
		RateLimit: 10000,
		Caches:    map[string]Sizer{"reports": reportCache},
	}
	for _, opt := range opts {
		opt(&o)
	}
	srv, err := NewServer(o)
	require.NoError(t, err)
	t.Cleanup(srv.limiter.Stop)

	e := &apiEnv{t: t, srv: srv, store: store}
	if q, ok := o.Exports.(*fakeQueue); ok {
		e.queue = q
	}
	return e
}

// seed creates a user with March 2024 operations: Food 12.50 and 30.00,
// Rent 800, Salary 2500.
func (e *apiEnv) seed() *apiEnv {
	t := e.t
	t.Helper()
	ctx := context.Background()

	u, err := e.store.CreateUser(ctx, core.User{Username: "ana", Email: "ana@example.com"}, core.DefaultProfile(0))
	require.NoError(t, err)
	e.user = u

	newCat := func(name string, typ core.CategoryType) core.Category {
		c, err := e.store.CreateCategory(ctx, core.Category{UserID: u.ID, Name: name, Type: typ, Color: "#336699", Icon: "fa-tag"})
		require.NoError(t, err)
		return c
	}
	e.food = newCat("Food", core.Expense)
	e.rent = newCat("Rent", core.Expense)
	e.salary = newCat("Salary", core.Income)

	for _, op := range []struct {
		cat    int64
		amount string
		date   core.Date
	}{
		{e.food.ID, "12.50", core.NewDate(2024, 3, 2)},
		{e.food.ID, "30.00", core.NewDate(2024, 3, 18)},
		{e.rent.ID, "800", core.NewDate(2024, 3, 5)},
		{e.salary.ID, "2500", core.NewDate(2024, 3, 1)},
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
	return e
}

func (e *apiEnv) do(method, path, body string, userID int64) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if strings.HasPrefix(body, "{") {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID > 0 {
		req.Header.Set(UserIDHeader, fmt.Sprint(userID))
	}
	rr := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)
	return rr
}

// as performs the request as the seeded user.
func (e *apiEnv) as(method, path, body string) *httptest.ResponseRecorder {
	return e.do(method, path, body, e.user.ID)
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msg string) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "%s: want %s, got %s", msg, want, got)
}

type reportBody struct {
	Title    string      `json:"title"`
	Totals   core.Totals `json:"totals"`
	Expenses []struct {
		Name  string          `json:"name"`
		Total decimal.Decimal `json:"total"`
	} `json:"expenses_by_category"`
	Breakdown            []json.RawMessage   `json:"breakdown"`
	BreakdownGranularity reports.Granularity `json:"breakdown_granularity"`
	Period               reports.Period      `json:"period"`
}

func TestHealthAndReady(t *testing.T) {
	e := newAPI(t)

	rr := e.do(http.MethodGet, "/healthz", "", 0)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decode[map[string]any](t, rr)["status"])

	rr = e.do(http.MethodGet, "/readyz", "", 0)
	require.Equal(t, http.StatusOK, rr.Code)
	ready := decode[struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}](t, rr)
	assert.Equal(t, "ready", ready.Status)
	assert.Equal(t, "ok", ready.Checks["storage"])
	assert.Equal(t, "disabled", ready.Checks["exports"])

	e.srv.storage = failingPinger{}
	rr = e.do(http.MethodGet, "/readyz", "", 0)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "database is locked")
}

func TestMiddlewareHeaders(t *testing.T) {
	e := newAPI(t)
	rr := e.do(http.MethodGet, "/healthz", "", 0)

	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = e.do(http.MethodGet, "/nowhere", "", 0)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	rr = e.do(http.MethodPatch, "/api/users", "", 0)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestRequireUser(t *testing.T) {
	e := newAPI(t).seed()

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not a number", "abc", http.StatusUnauthorized},
		{"unknown user", "999", http.StatusUnauthorized},
		{"known user", fmt.Sprint(e.user.ID), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			if tt.header != "" {
				req.Header.Set(UserIDHeader, tt.header)
			}
			rr := httptest.NewRecorder()
			e.srv.Handler.ServeHTTP(rr, req)
			assert.Equal(t, tt.status, rr.Code)
		})
	}

	me := decode[core.User](t, e.as(http.MethodGet, "/api/me", ""))
	assert.Equal(t, "ana", me.Username)
}

func TestUsers(t *testing.T) {
	e := newAPI(t)

	rr := e.do(http.MethodPost, "/api/users", `{"username":"luis","email":"luis@example.com","first_name":"Luis"}`, 0)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	u := decode[core.User](t, rr)
	assert.Positive(t, u.ID)

	rr = e.do(http.MethodPost, "/api/users", `{"username":"luis","email":"other@example.com"}`, 0)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = e.do(http.MethodPost, "/api/users", "username=&email=x", 0)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	body := decode[ErrorBody](t, rr)
	assert.Contains(t, body.Fields, "username")

	rr = e.do(http.MethodPost, "/api/users", `{"username": `, 0)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = e.do(http.MethodPut, "/api/me", `{"last_name":"Pérez"}`, u.ID)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	updated := decode[core.User](t, rr)
	assert.Equal(t, "Luis", updated.FirstName, "unsent fields are kept")
	assert.Equal(t, "Pérez", updated.LastName)
	assert.Equal(t, "luis", updated.Username)

	profile := decode[core.Profile](t, e.do(http.MethodGet, "/api/profile", "", u.ID))
	assert.Equal(t, core.DefaultCurrency, profile.Currency)
}

func TestProfile(t *testing.T) {
	e := newAPI(t).seed()

	rr := e.as(http.MethodPut, "/api/profile", `{"currency":"eur","monthly_budget":"1500","timezone":"Europe/Madrid"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	p := decode[core.Profile](t, rr)
	assert.Equal(t, "EUR", p.Currency)
	assert.Equal(t, "Europe/Madrid", p.Timezone)
	require.True(t, p.MonthlyBudget.Valid)
	assertDecimal(t, "1500", p.MonthlyBudget.Decimal, "budget")

	p = decode[core.Profile](t, e.as(http.MethodPut, "/api/profile", `{"monthly_budget":""}`))
	assert.False(t, p.MonthlyBudget.Valid)
	assert.Equal(t, "EUR", p.Currency)

	for name, body := range map[string]string{
		"timezone": `{"timezone":"Mars/Olympus"}`,
		"currency": `{"currency":"XYZ"}`,
		"budget":   `{"monthly_budget":"-4"}`,
	} {
		t.Run(name, func(t *testing.T) {
			rr := e.as(http.MethodPut, "/api/profile", body)
			require.Equal(t, http.StatusBadRequest, rr.Code)
			assert.NotEmpty(t, decode[ErrorBody](t, rr).Fields)
		})
	}
}

func TestCategories(t *testing.T) {
	e := newAPI(t).seed()
	other, err := e.store.CreateUser(context.Background(), core.User{Username: "bob"}, core.DefaultProfile(0))
	require.NoError(t, err)

	rr := e.as(http.MethodPost, "/api/categories", `{"name":"Travel","type":"expense","color":"#112233"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	travel := decode[core.Category](t, rr)
	assert.Equal(t, core.DefaultCategoryIcon, travel.Icon)

	rr = e.as(http.MethodPost, "/api/categories", `{"name":"Travel","type":"expense"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = e.as(http.MethodPost, "/api/categories", `{"name":"Gifts","type":"ingreso"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, core.Income, decode[core.Category](t, rr).Type)

	rr = e.as(http.MethodPost, "/api/categories", `{"name":"Odd","type":"transfer"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	groups := decode[services.CategoryGroups](t, e.as(http.MethodGet, "/api/categories", ""))
	assert.Len(t, groups.Expense, 3)
	assert.Len(t, groups.Income, 2)

	groups = decode[services.CategoryGroups](t, e.as(http.MethodGet, "/api/categories?type=income", ""))
	assert.Len(t, groups.Income, 2)
	assert.Empty(t, groups.Expense)

	assert.Equal(t, http.StatusBadRequest, e.as(http.MethodGet, "/api/categories?type=bogus", "").Code)

	path := fmt.Sprintf("/api/categories/%d", travel.ID)
	assert.Equal(t, http.StatusOK, e.as(http.MethodGet, path, "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, path, "", other.ID).Code)
	assert.Equal(t, http.StatusNotFound, e.as(http.MethodGet, "/api/categories/abc", "").Code)

	rr = e.as(http.MethodPut, path, `{"name":"Holidays"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	renamed := decode[core.Category](t, rr)
	assert.Equal(t, "Holidays", renamed.Name)
	assert.Equal(t, "#112233", renamed.Color)

	assert.Equal(t, http.StatusNoContent, e.as(http.MethodDelete, path, "").Code)
	assert.Equal(t, http.StatusNotFound, e.as(http.MethodGet, path, "").Code)
}

func TestOperations(t *testing.T) {
	e := newAPI(t).seed()
	other, err := e.store.CreateUser(context.Background(), core.User{Username: "bob"}, core.DefaultProfile(0))
	require.NoError(t, err)
	foreign, err := e.store.CreateCategory(context.Background(), core.Category{UserID: other.ID, Name: "Theirs", Type: core.Expense, Color: "#000000", Icon: "fa-tag"})
	require.NoError(t, err)

	body := fmt.Sprintf(`{"category_id":%d,"amount":"7,25","date":"2024-03-21","description":"coffee"}`, e.food.ID)
	rr := e.as(http.MethodPost, "/api/operations", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	op := decode[core.Operation](t, rr)
	assertDecimal(t, "7.25", op.Amount, "amount")

	rr = e.as(http.MethodPost, "/api/operations", `{"amount":"abc","date":"21/03/2024"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	fields := decode[ErrorBody](t, rr).Fields
	assert.Contains(t, fields, "amount")
	assert.Contains(t, fields, "date")

	rr = e.as(http.MethodPost, "/api/operations", fmt.Sprintf(`{"category_id":%d,"amount":"5","date":"2024-03-21"}`, foreign.ID))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	list := decode[services.OperationList](t, e.as(http.MethodGet, "/api/operations?start_date=2024-03-01&end_date=2024-03-31", ""))
	assert.Equal(t, 5, list.Total)
	assert.Equal(t, 1, list.Pages)
	assertDecimal(t, "849.75", list.Totals.Expenses, "expenses")
	assertDecimal(t, "2500", list.Totals.Income, "income")

	list = decode[services.OperationList](t, e.as(http.MethodGet, fmt.Sprintf("/api/operations?category=%d", e.food.ID), ""))
	assert.Equal(t, 3, list.Total)

	path := fmt.Sprintf("/api/operations/%d", op.ID)
	rr = e.as(http.MethodPut, path, `{"amount":20,"category_id":null}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	updated := decode[core.Operation](t, rr)
	assertDecimal(t, "20", updated.Amount, "updated amount")
	assert.Nil(t, updated.CategoryID)
	assert.Equal(t, "coffee", updated.Description)

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, path, "", other.ID).Code)
	assert.Equal(t, http.StatusNoContent, e.as(http.MethodDelete, path, "").Code)
	assert.Equal(t, http.StatusNotFound, e.as(http.MethodGet, path, "").Code)
}

func TestMonthlyReport(t *testing.T) {
	e := newAPI(t).seed()

	rr := e.as(http.MethodGet, "/api/reports/monthly?year=2024&month=3", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	rep := decode[reportBody](t, rr)
	assertDecimal(t, "842.5", rep.Totals.Expenses, "expenses")
	assertDecimal(t, "2500", rep.Totals.Income, "income")
	require.Len(t, rep.Expenses, 2)
	assert.Equal(t, "Rent", rep.Expenses[0].Name)
	assert.Len(t, rep.Breakdown, 31)

	filtered := decode[reportBody](t, e.as(http.MethodGet,
		fmt.Sprintf("/api/reports/monthly?year=2024&month=3&categories=%d", e.salary.ID), ""))
	assert.True(t, filtered.Totals.Expenses.IsZero())
	assertDecimal(t, "2500", filtered.Totals.Income, "filtered income")

	fallback := decode[reportBody](t, e.as(http.MethodGet, "/api/reports/monthly?year=abc&month=13", ""))
	assert.Equal(t, core.NewDate(2024, 3, 1), fallback.Period.Start, "invalid params fall back to the current month")
}

func TestReportExport(t *testing.T) {
	e := newAPI(t).seed()

	rr := e.as(http.MethodGet, "/api/reports/monthly?year=2024&month=3&export=csv", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "text/csv; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="monthly_report_2024_3.csv"`, rr.Header().Get("Content-Disposition"))
	assert.Contains(t, rr.Body.String(), "Rent")

	rr = e.as(http.MethodGet, "/api/reports/annual?year=2024&export=excel", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, `attachment; filename="annual_report_2024.xlsx"`, rr.Header().Get("Content-Disposition"))
	assert.True(t, bytes.HasPrefix(rr.Body.Bytes(), []byte("PK")), "xlsx is a zip archive")

	rr = e.as(http.MethodGet, "/api/reports/monthly?year=2024&month=3&export=pdf", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, bytes.HasPrefix(rr.Body.Bytes(), []byte("%PDF")))

	rr = e.as(http.MethodGet, "/api/reports/monthly?export=doc", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAnnualAndPeriodReports(t *testing.T) {
	e := newAPI(t).seed()

	annual := decode[reportBody](t, e.as(http.MethodGet, "/api/reports/annual?year=2024", ""))
	assertDecimal(t, "842.5", annual.Totals.Expenses, "annual expenses")
	assert.Len(t, annual.Breakdown, 12)
	assert.Equal(t, reports.Monthly, annual.BreakdownGranularity)

	custom := decode[reportBody](t, e.as(http.MethodGet,
		"/api/reports/period?period=custom&start_date=2024-03-01&end_date=2024-03-10", ""))
	assertDecimal(t, "812.5", custom.Totals.Expenses, "custom expenses")
	assert.Equal(t, reports.Custom, custom.Period.Kind)

	week := decode[reportBody](t, e.as(http.MethodGet, "/api/reports/period?period=week", ""))
	assert.Equal(t, core.NewDate(2024, 3, 18), week.Period.Start)
	assertDecimal(t, "30", week.Totals.Expenses, "week expenses")
}

func TestDashboardAndTrend(t *testing.T) {
	e := newAPI(t).seed()

	rr := e.as(http.MethodGet, "/api/reports/dashboard", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	dash := decode[struct {
		Totals     core.Totals       `json:"totals"`
		DailyTrend []json.RawMessage `json:"daily_trend"`
	}](t, rr)
	assertDecimal(t, "842.5", dash.Totals.Expenses, "dashboard expenses")
	assert.Len(t, dash.DailyTrend, 31)

	rr = e.as(http.MethodGet, "/api/reports/trend?granularity=month&start_date=2024-01-01&end_date=2024-03-31", "")
	require.Equal(t, http.StatusOK, rr.Code)
	trend := decode[trendResponse](t, rr)
	require.Len(t, trend.Points, 3)
	assert.True(t, trend.Points[0].Expenses.IsZero())
	assertDecimal(t, "842.5", trend.Points[2].Expenses, "march")

	trend = decode[trendResponse](t, e.as(http.MethodGet, "/api/reports/trend", ""))
	assert.Len(t, trend.Points, 12, "defaults to the last twelve months")
}

func TestChart(t *testing.T) {
	e := newAPI(t).seed()

	for _, kind := range []string{"pie", "line"} {
		rr := e.as(http.MethodGet, "/api/reports/chart.png?year=2024&month=3&chart="+kind, "")
		require.Equal(t, http.StatusOK, rr.Code, kind)
		assert.Equal(t, "image/png", rr.Header().Get("Content-Type"))
		assert.True(t, bytes.HasPrefix(rr.Body.Bytes(), []byte("\x89PNG")), kind)
	}

	rr := e.as(http.MethodGet, "/api/reports/chart.png?year=2023&month=1", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSavedReports(t *testing.T) {
	e := newAPI(t).seed()

	body := fmt.Sprintf(`{"name":"March food","report_type":"monthly","start_date":"2024-03-01","end_date":"2024-03-31","categories":[%d]}`, e.food.ID)
	rr := e.as(http.MethodPost, "/api/reports/saved", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	saved := decode[core.SavedReport](t, rr)
	assert.Equal(t, []int64{e.food.ID}, saved.CategoryIDs())

	list := decode[[]core.SavedReport](t, e.as(http.MethodGet, "/api/reports/saved", ""))
	assert.Len(t, list, 1)

	path := fmt.Sprintf("/api/reports/saved/%d", saved.ID)
	assert.Equal(t, http.StatusOK, e.as(http.MethodGet, path, "").Code)

	run := decode[reportBody](t, e.as(http.MethodGet, path+"/run", ""))
	assert.Equal(t, "March food", run.Title)
	assertDecimal(t, "42.5", run.Totals.Expenses, "food only")
	assert.True(t, run.Totals.Income.IsZero())

	rr = e.as(http.MethodGet, path+"/run?export=pdf", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/pdf", rr.Header().Get("Content-Type"))

	rr = e.as(http.MethodPost, "/api/reports/saved", `{"name":"Bad","report_type":"monthly","start_date":"March","end_date":"2024-03-31"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decode[ErrorBody](t, rr).Fields, "start_date")

	rr = e.as(http.MethodPost, "/api/reports/saved", `{"name":"Wrong","report_type":"monthly","start_date":"2024-03-31","end_date":"2024-03-01"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	assert.Equal(t, http.StatusNoContent, e.as(http.MethodDelete, path, "").Code)
	assert.Equal(t, http.StatusNotFound, e.as(http.MethodGet, path+"/run", "").Code)
}

func TestQueueExport(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		e := newAPI(t).seed()
		rr := e.as(http.MethodPost, "/api/reports/exports", `{"format":"excel"}`)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})

	t.Run("queued", func(t *testing.T) {
		e := newAPI(t, withQueue(&fakeQueue{})).seed()

		rr := e.as(http.MethodPost, "/api/reports/exports", `{"format":"xlsx","year":2024,"month":3,"categories":"4,5"}`)
		require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
		accepted := decode[exportAccepted](t, rr)
		assert.Equal(t, "queued", accepted.Status)

		require.Len(t, e.queue.msgs, 1)
		msg := e.queue.msgs[0]
		assert.Equal(t, accepted.ID, msg.ID)
		assert.Equal(t, e.user.ID, msg.UserID)
		assert.Equal(t, "month", msg.Kind)
		assert.Equal(t, "excel", msg.Format)
		assert.Equal(t, 2024, msg.Year)
		assert.Equal(t, 3, msg.Month)
		assert.Equal(t, []int64{4, 5}, msg.CategoryIDs)

		rr = e.as(http.MethodPost, "/api/reports/exports", `{"kind":"custom","start_date":"2024-01-01","end_date":"2024-02-15"}`)
		require.Equal(t, http.StatusAccepted, rr.Code)
		msg = e.queue.msgs[1]
		assert.Equal(t, amqp.TargetSheets, msg.Format)
		assert.Equal(t, "custom", msg.Kind)
		assert.Equal(t, "2024-02-15", msg.EndDate)
	})

	t.Run("invalid", func(t *testing.T) {
		e := newAPI(t, withQueue(&fakeQueue{})).seed()
		assert.Equal(t, http.StatusBadRequest, e.as(http.MethodPost, "/api/reports/exports", `{"format":"doc"}`).Code)
		assert.Equal(t, http.StatusBadRequest, e.as(http.MethodPost, "/api/reports/exports", `{"start_date":"yesterday"}`).Code)
		assert.Empty(t, e.queue.msgs)
	})

	t.Run("broker down", func(t *testing.T) {
		e := newAPI(t, withQueue(&fakeQueue{err: amqp.ErrCircuitOpen})).seed()
		rr := e.as(http.MethodPost, "/api/reports/exports", `{}`)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})
}

func TestWritesInvalidateCachedReports(t *testing.T) {
	e := newAPI(t).seed()

	first := decode[reportBody](t, e.as(http.MethodGet, "/api/reports/monthly?year=2024&month=3", ""))
	assertDecimal(t, "842.5", first.Totals.Expenses, "before")

	body := fmt.Sprintf(`{"category_id":%d,"amount":"7.50","date":"2024-03-10"}`, e.food.ID)
	require.Equal(t, http.StatusCreated, e.as(http.MethodPost, "/api/operations", body).Code)

	second := decode[reportBody](t, e.as(http.MethodGet, "/api/reports/monthly?year=2024&month=3", ""))
	assertDecimal(t, "850", second.Totals.Expenses, "after")
}

func TestRateLimit(t *testing.T) {
	e := newAPI(t, withRateLimit(2))

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/api/me", "", 0).Code)
	}
	rr := e.do(http.MethodGet, "/api/me", "", 0)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/healthz", "", 0).Code, "health checks are not limited")
}

func TestMetrics(t *testing.T) {
	e := newAPI(t).seed()
	e.as(http.MethodGet, "/api/reports/monthly?year=2024&month=3", "")
	e.do(http.MethodGet, "/.env", "", 0)

	rr := e.do(http.MethodGet, "/metrics", "", 0)
	require.Equal(t, http.StatusOK, rr.Code)
	out := rr.Body.String()
	assert.Contains(t, out, "http_requests_total 2")
	assert.Contains(t, out, "security_suspicious_requests_total 1")
	assert.Contains(t, out, `cache_entries{cache="reports"} 1`)
}

func TestNewServer_Errors(t *testing.T) {
	_, err := NewServer(Options{})
	assert.Error(t, err)

	store := memory.New()
	_, err = NewServer(Options{
		Ledger:         services.NewLedgerService(store),
		Reports:        reports.NewService(store),
		TrustedProxies: []string{"nope"},
	})
	assert.Error(t, err)
}
