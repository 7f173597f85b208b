package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"finanzas/internal/core"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ Repository = (*SQLiteRepository)(nil)

func dsn(dbPath string) string {
	return dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, now: time.Now}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) timestamp() string {
	return formatTimestamp(r.now())
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	return err
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func sqliteBind(int) string { return "?" }

// Users

const userColumns = "id, username, email, first_name, last_name, joined_at"

func scanUser(s interface{ Scan(...any) error }) (core.User, error) {
	var u core.User
	var joined string
	if err := s.Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &joined); err != nil {
		return core.User{}, err
	}
	u.JoinedAt = parseTimestamp(joined)
	return u, nil
}

// CreateUser inserts the user and its profile in one transaction.
func (r *SQLiteRepository) CreateUser(ctx context.Context, u core.User, p core.Profile) (core.User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.User{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := r.timestamp()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO users (username, email, first_name, last_name, joined_at) VALUES (?, ?, ?, ?, ?)`,
		u.Username, u.Email, u.FirstName, u.LastName, now)
	if isUniqueViolation(err) {
		return core.User{}, core.ErrDuplicateUsername
	}
	if err != nil {
		return core.User{}, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.User{}, fmt.Errorf("user id: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO profiles (user_id, timezone, monthly_budget_cents, currency, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, p.Timezone, BudgetCents(p.MonthlyBudget), p.Currency, now); err != nil {
		return core.User{}, fmt.Errorf("insert profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return core.User{}, fmt.Errorf("commit user: %w", err)
	}

	slog.InfoContext(ctx, "User created", "user_id", id, "username", u.Username)
	return r.GetUser(ctx, id)
}

func (r *SQLiteRepository) GetUser(ctx context.Context, id int64) (core.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		return core.User{}, fmt.Errorf("get user %d: %w", id, notFound(err))
	}
	return u, nil
}

func (r *SQLiteRepository) ListUsers(ctx context.Context) ([]core.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []core.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *SQLiteRepository) UpdateUser(ctx context.Context, u core.User) (core.User, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET email = ?, first_name = ?, last_name = ? WHERE id = ?`,
		u.Email, u.FirstName, u.LastName, u.ID)
	if err != nil {
		return core.User{}, fmt.Errorf("update user %d: %w", u.ID, err)
	}
	if err := checkAffected(res); err != nil {
		return core.User{}, fmt.Errorf("update user %d: %w", u.ID, err)
	}
	return r.GetUser(ctx, u.ID)
}

// Profiles

// BudgetCents converts an optional budget to nullable cents.
func BudgetCents(b decimal.NullDecimal) *int64 {
	if !b.Valid {
		return nil
	}
	cents := core.ToCents(b.Decimal)
	return &cents
}

// BudgetFromCents is the inverse of BudgetCents.
func BudgetFromCents(cents *int64) decimal.NullDecimal {
	if cents == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(core.FromCents(*cents))
}

func (r *SQLiteRepository) GetProfile(ctx context.Context, userID int64) (core.Profile, error) {
	var p core.Profile
	var budget *int64
	var updated string
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, timezone, monthly_budget_cents, currency, updated_at FROM profiles WHERE user_id = ?`, userID).
		Scan(&p.UserID, &p.Timezone, &budget, &p.Currency, &updated)
	if err != nil {
		return core.Profile{}, fmt.Errorf("get profile %d: %w", userID, notFound(err))
	}
	p.MonthlyBudget = BudgetFromCents(budget)
	p.UpdatedAt = parseTimestamp(updated)
	return p, nil
}

func (r *SQLiteRepository) UpdateProfile(ctx context.Context, p core.Profile) (core.Profile, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE profiles SET timezone = ?, monthly_budget_cents = ?, currency = ?, updated_at = ? WHERE user_id = ?`,
		p.Timezone, BudgetCents(p.MonthlyBudget), p.Currency, r.timestamp(), p.UserID)
	if err != nil {
		return core.Profile{}, fmt.Errorf("update profile %d: %w", p.UserID, err)
	}
	if err := checkAffected(res); err != nil {
		return core.Profile{}, fmt.Errorf("update profile %d: %w", p.UserID, err)
	}
	return r.GetProfile(ctx, p.UserID)
}

// Categories

const categoryColumns = "id, user_id, name, description, type, color, icon, created_at, updated_at"

func scanCategory(s interface{ Scan(...any) error }) (core.Category, error) {
	var c core.Category
	var created, updated string
	if err := s.Scan(&c.ID, &c.UserID, &c.Name, &c.Description, &c.Type, &c.Color, &c.Icon, &created, &updated); err != nil {
		return core.Category{}, err
	}
	c.CreatedAt = parseTimestamp(created)
	c.UpdatedAt = parseTimestamp(updated)
	return c, nil
}

func (r *SQLiteRepository) ListCategories(ctx context.Context, userID int64, t core.CategoryType) ([]core.Category, error) {
	query := `SELECT ` + categoryColumns + ` FROM categories WHERE user_id = ?`
	args := []any{userID}
	if t != "" {
		query += ` AND type = ?`
		args = append(args, string(t))
	}
	query += ` ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var categories []core.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (r *SQLiteRepository) GetCategory(ctx context.Context, userID, id int64) (core.Category, error) {
	c, err := scanCategory(r.db.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE id = ? AND user_id = ?`, id, userID))
	if err != nil {
		return core.Category{}, fmt.Errorf("get category %d: %w", id, notFound(err))
	}
	return c, nil
}

func (r *SQLiteRepository) CreateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	now := r.timestamp()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO categories (user_id, name, description, type, color, icon, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.UserID, c.Name, c.Description, string(c.Type), c.Color, c.Icon, now, now)
	if isUniqueViolation(err) {
		return core.Category{}, core.ErrDuplicateCategory
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("insert category: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Category{}, fmt.Errorf("category id: %w", err)
	}
	return r.GetCategory(ctx, c.UserID, id)
}

func (r *SQLiteRepository) UpdateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE categories SET name = ?, description = ?, type = ?, color = ?, icon = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		c.Name, c.Description, string(c.Type), c.Color, c.Icon, r.timestamp(), c.ID, c.UserID)
	if isUniqueViolation(err) {
		return core.Category{}, core.ErrDuplicateCategory
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("update category %d: %w", c.ID, err)
	}
	if err := checkAffected(res); err != nil {
		return core.Category{}, fmt.Errorf("update category %d: %w", c.ID, err)
	}
	return r.GetCategory(ctx, c.UserID, c.ID)
}

// DeleteCategory removes the category; its operations become uncategorized.
func (r *SQLiteRepository) DeleteCategory(ctx context.Context, userID, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM categories WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete category %d: %w", id, err)
	}
	if err := checkAffected(res); err != nil {
		return fmt.Errorf("delete category %d: %w", id, err)
	}
	return nil
}

// Operations

const operationSelect = `SELECT o.id, o.user_id, o.category_id, o.amount_cents, o.date, o.description,
	o.created_at, o.updated_at, c.name, c.description, c.type, c.color, c.icon
	FROM operations o LEFT JOIN categories c ON c.id = o.category_id`

func scanOperation(s interface{ Scan(...any) error }) (core.Operation, error) {
	var o core.Operation
	var cents int64
	var day, created, updated string
	var name, desc, typ, color, icon *string
	if err := s.Scan(&o.ID, &o.UserID, &o.CategoryID, &cents, &day, &o.Description,
		&created, &updated, &name, &desc, &typ, &color, &icon); err != nil {
		return core.Operation{}, err
	}
	date, err := core.ParseDate(day)
	if err != nil {
		return core.Operation{}, fmt.Errorf("operation %d date %q: %w", o.ID, day, err)
	}
	o.Date = date
	o.Amount = core.FromCents(cents)
	o.CreatedAt = parseTimestamp(created)
	o.UpdatedAt = parseTimestamp(updated)
	if o.CategoryID != nil && name != nil {
		o.Category = &core.Category{
			ID:          *o.CategoryID,
			UserID:      o.UserID,
			Name:        *name,
			Description: deref(desc),
			Type:        core.CategoryType(deref(typ)),
			Color:       deref(color),
			Icon:        deref(icon),
		}
	}
	return o, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (r *SQLiteRepository) ListOperations(ctx context.Context, userID int64, q core.OperationQuery) ([]core.Operation, error) {
	where, args := OperationFilter(userID, q, sqliteBind)
	query := operationSelect + ` WHERE ` + where + ` ORDER BY o.date DESC, o.created_at DESC, o.id DESC` + PageClause(q)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	var ops []core.Operation
	for rows.Next() {
		o, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		ops = append(ops, o)
	}
	return ops, rows.Err()
}

func (r *SQLiteRepository) OperationStats(ctx context.Context, userID int64, q core.OperationQuery) (core.Totals, int, error) {
	where, args := OperationFilter(userID, q, sqliteBind)
	query := `SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN c.type = 'expense' THEN o.amount_cents END), 0),
		COALESCE(SUM(CASE WHEN c.type = 'income' THEN o.amount_cents END), 0)
		FROM operations o LEFT JOIN categories c ON c.id = o.category_id WHERE ` + where

	var count int
	var expenses, income int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count, &expenses, &income); err != nil {
		return core.Totals{}, 0, fmt.Errorf("operation stats: %w", err)
	}
	return TotalsFromCents(expenses, income), count, nil
}

// TotalsFromCents builds totals from summed cents.
func TotalsFromCents(expenses, income int64) core.Totals {
	e, i := core.FromCents(expenses), core.FromCents(income)
	return core.Totals{Expenses: e, Income: i, Balance: i.Sub(e)}
}

func (r *SQLiteRepository) GetOperation(ctx context.Context, userID, id int64) (core.Operation, error) {
	o, err := scanOperation(r.db.QueryRowContext(ctx,
		operationSelect+` WHERE o.id = ? AND o.user_id = ?`, id, userID))
	if err != nil {
		return core.Operation{}, fmt.Errorf("get operation %d: %w", id, notFound(err))
	}
	return o, nil
}

func (r *SQLiteRepository) CreateOperation(ctx context.Context, o core.Operation) (core.Operation, error) {
	now := r.timestamp()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO operations (user_id, category_id, amount_cents, date, description, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.UserID, o.CategoryID, core.ToCents(o.Amount), o.Date.String(), o.Description, now, now)
	if err != nil {
		return core.Operation{}, fmt.Errorf("insert operation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Operation{}, fmt.Errorf("operation id: %w", err)
	}

	slog.DebugContext(ctx, "Operation saved", "id", id, "user_id", o.UserID, "amount", o.Amount.StringFixed(2))
	return r.GetOperation(ctx, o.UserID, id)
}

func (r *SQLiteRepository) UpdateOperation(ctx context.Context, o core.Operation) (core.Operation, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE operations SET category_id = ?, amount_cents = ?, date = ?, description = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		o.CategoryID, core.ToCents(o.Amount), o.Date.String(), o.Description, r.timestamp(), o.ID, o.UserID)
	if err != nil {
		return core.Operation{}, fmt.Errorf("update operation %d: %w", o.ID, err)
	}
	if err := checkAffected(res); err != nil {
		return core.Operation{}, fmt.Errorf("update operation %d: %w", o.ID, err)
	}
	return r.GetOperation(ctx, o.UserID, o.ID)
}

func (r *SQLiteRepository) DeleteOperation(ctx context.Context, userID, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM operations WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete operation %d: %w", id, err)
	}
	if err := checkAffected(res); err != nil {
		return fmt.Errorf("delete operation %d: %w", id, err)
	}
	return nil
}

// Saved reports

const savedReportColumns = "id, user_id, name, report_type, start_date, end_date, filters, created_at"

func scanSavedReport(s interface{ Scan(...any) error }) (core.SavedReport, error) {
	var sr core.SavedReport
	var start, end, filters, created string
	if err := s.Scan(&sr.ID, &sr.UserID, &sr.Name, &sr.ReportType, &start, &end, &filters, &created); err != nil {
		return core.SavedReport{}, err
	}
	var err error
	if sr.StartDate, err = core.ParseDate(start); err != nil {
		return core.SavedReport{}, fmt.Errorf("saved report %d start %q: %w", sr.ID, start, err)
	}
	if sr.EndDate, err = core.ParseDate(end); err != nil {
		return core.SavedReport{}, fmt.Errorf("saved report %d end %q: %w", sr.ID, end, err)
	}
	if sr.Filters, err = DecodeFilters([]byte(filters)); err != nil {
		return core.SavedReport{}, fmt.Errorf("saved report %d filters: %w", sr.ID, err)
	}
	sr.CreatedAt = parseTimestamp(created)
	return sr, nil
}

// EncodeFilters serializes saved report filters, never as null.
func EncodeFilters(filters map[string]any) ([]byte, error) {
	if filters == nil {
		filters = map[string]any{}
	}
	return json.Marshal(filters)
}

func DecodeFilters(b []byte) (map[string]any, error) {
	filters := map[string]any{}
	if len(b) == 0 {
		return filters, nil
	}
	if err := json.Unmarshal(b, &filters); err != nil {
		return nil, err
	}
	return filters, nil
}

func (r *SQLiteRepository) ListSavedReports(ctx context.Context, userID int64) ([]core.SavedReport, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+savedReportColumns+` FROM saved_reports WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list saved reports: %w", err)
	}
	defer rows.Close()

	var reports []core.SavedReport
	for rows.Next() {
		sr, err := scanSavedReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan saved report: %w", err)
		}
		reports = append(reports, sr)
	}
	return reports, rows.Err()
}

func (r *SQLiteRepository) GetSavedReport(ctx context.Context, userID, id int64) (core.SavedReport, error) {
	sr, err := scanSavedReport(r.db.QueryRowContext(ctx,
		`SELECT `+savedReportColumns+` FROM saved_reports WHERE id = ? AND user_id = ?`, id, userID))
	if err != nil {
		return core.SavedReport{}, fmt.Errorf("get saved report %d: %w", id, notFound(err))
	}
	return sr, nil
}

func (r *SQLiteRepository) CreateSavedReport(ctx context.Context, sr core.SavedReport) (core.SavedReport, error) {
	filters, err := EncodeFilters(sr.Filters)
	if err != nil {
		return core.SavedReport{}, fmt.Errorf("encode filters: %w", err)
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO saved_reports (user_id, name, report_type, start_date, end_date, filters, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sr.UserID, sr.Name, string(sr.ReportType), sr.StartDate.String(), sr.EndDate.String(), string(filters), r.timestamp())
	if err != nil {
		return core.SavedReport{}, fmt.Errorf("insert saved report: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.SavedReport{}, fmt.Errorf("saved report id: %w", err)
	}
	return r.GetSavedReport(ctx, sr.UserID, id)
}

func (r *SQLiteRepository) DeleteSavedReport(ctx context.Context, userID, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM saved_reports WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete saved report %d: %w", id, err)
	}
	if err := checkAffected(res); err != nil {
		return fmt.Errorf("delete saved report %d: %w", id, err)
	}
	return nil
}
