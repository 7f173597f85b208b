// Package postgres is the PostgreSQL storage backend.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"finanzas/internal/core"
	"finanzas/internal/storage"
)

const uniqueViolation = "23505"

type Repository struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Repository)(nil)

// New migrates the database at url and opens a connection pool.
func New(ctx context.Context, url string) (*Repository, error) {
	if err := RunMigrations(url); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Repository{pool: pool}, nil
}

func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func bind(n int) string { return fmt.Sprintf("$%d", n) }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return core.ErrNotFound
	}
	return err
}

func affected(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

// Users

const userColumns = "id, username, email, first_name, last_name, joined_at"

func scanUser(row pgx.Row) (core.User, error) {
	var u core.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.JoinedAt)
	return u, err
}

func (r *Repository) CreateUser(ctx context.Context, u core.User, p core.Profile) (core.User, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return core.User{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := scanUser(tx.QueryRow(ctx,
		`INSERT INTO users (username, email, first_name, last_name)
		 VALUES ($1, $2, $3, $4) RETURNING `+userColumns,
		u.Username, u.Email, u.FirstName, u.LastName))
	if isUniqueViolation(err) {
		return core.User{}, core.ErrDuplicateUsername
	}
	if err != nil {
		return core.User{}, fmt.Errorf("insert user: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO profiles (user_id, timezone, monthly_budget_cents, currency) VALUES ($1, $2, $3, $4)`,
		created.ID, p.Timezone, storage.BudgetCents(p.MonthlyBudget), p.Currency); err != nil {
		return core.User{}, fmt.Errorf("insert profile: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return core.User{}, fmt.Errorf("commit user: %w", err)
	}

	slog.InfoContext(ctx, "User created", "user_id", created.ID, "username", created.Username)
	return created, nil
}

func (r *Repository) GetUser(ctx context.Context, id int64) (core.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return core.User{}, fmt.Errorf("get user %d: %w", id, notFound(err))
	}
	return u, nil
}

func (r *Repository) ListUsers(ctx context.Context) ([]core.User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
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

func (r *Repository) UpdateUser(ctx context.Context, u core.User) (core.User, error) {
	updated, err := scanUser(r.pool.QueryRow(ctx,
		`UPDATE users SET email = $1, first_name = $2, last_name = $3 WHERE id = $4 RETURNING `+userColumns,
		u.Email, u.FirstName, u.LastName, u.ID))
	if err != nil {
		return core.User{}, fmt.Errorf("update user %d: %w", u.ID, notFound(err))
	}
	return updated, nil
}

// Profiles

const profileColumns = "user_id, timezone, monthly_budget_cents, currency, updated_at"

func scanProfile(row pgx.Row) (core.Profile, error) {
	var p core.Profile
	var budget *int64
	if err := row.Scan(&p.UserID, &p.Timezone, &budget, &p.Currency, &p.UpdatedAt); err != nil {
		return core.Profile{}, err
	}
	p.MonthlyBudget = storage.BudgetFromCents(budget)
	return p, nil
}

func (r *Repository) GetProfile(ctx context.Context, userID int64) (core.Profile, error) {
	p, err := scanProfile(r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE user_id = $1`, userID))
	if err != nil {
		return core.Profile{}, fmt.Errorf("get profile %d: %w", userID, notFound(err))
	}
	return p, nil
}

func (r *Repository) UpdateProfile(ctx context.Context, p core.Profile) (core.Profile, error) {
	updated, err := scanProfile(r.pool.QueryRow(ctx,
		`UPDATE profiles SET timezone = $1, monthly_budget_cents = $2, currency = $3, updated_at = NOW()
		 WHERE user_id = $4 RETURNING `+profileColumns,
		p.Timezone, storage.BudgetCents(p.MonthlyBudget), p.Currency, p.UserID))
	if err != nil {
		return core.Profile{}, fmt.Errorf("update profile %d: %w", p.UserID, notFound(err))
	}
	return updated, nil
}

// Categories

const categoryColumns = "id, user_id, name, description, type, color, icon, created_at, updated_at"

func scanCategory(row pgx.Row) (core.Category, error) {
	var c core.Category
	var typ string
	if err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Description, &typ, &c.Color, &c.Icon, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return core.Category{}, err
	}
	c.Type = core.CategoryType(typ)
	return c, nil
}

func (r *Repository) ListCategories(ctx context.Context, userID int64, t core.CategoryType) ([]core.Category, error) {
	query := `SELECT ` + categoryColumns + ` FROM categories WHERE user_id = $1`
	args := []any{userID}
	if t != "" {
		query += ` AND type = $2`
		args = append(args, string(t))
	}
	query += ` ORDER BY name`

	rows, err := r.pool.Query(ctx, query, args...)
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

func (r *Repository) GetCategory(ctx context.Context, userID, id int64) (core.Category, error) {
	c, err := scanCategory(r.pool.QueryRow(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE id = $1 AND user_id = $2`, id, userID))
	if err != nil {
		return core.Category{}, fmt.Errorf("get category %d: %w", id, notFound(err))
	}
	return c, nil
}

func (r *Repository) CreateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	created, err := scanCategory(r.pool.QueryRow(ctx,
		`INSERT INTO categories (user_id, name, description, type, color, icon)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+categoryColumns,
		c.UserID, c.Name, c.Description, string(c.Type), c.Color, c.Icon))
	if isUniqueViolation(err) {
		return core.Category{}, core.ErrDuplicateCategory
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("insert category: %w", err)
	}
	return created, nil
}

func (r *Repository) UpdateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	updated, err := scanCategory(r.pool.QueryRow(ctx,
		`UPDATE categories SET name = $1, description = $2, type = $3, color = $4, icon = $5, updated_at = NOW()
		 WHERE id = $6 AND user_id = $7 RETURNING `+categoryColumns,
		c.Name, c.Description, string(c.Type), c.Color, c.Icon, c.ID, c.UserID))
	if isUniqueViolation(err) {
		return core.Category{}, core.ErrDuplicateCategory
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("update category %d: %w", c.ID, notFound(err))
	}
	return updated, nil
}

func (r *Repository) DeleteCategory(ctx context.Context, userID, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM categories WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete category %d: %w", id, err)
	}
	if err := affected(tag); err != nil {
		return fmt.Errorf("delete category %d: %w", id, err)
	}
	return nil
}

// Operations

const operationSelect = `SELECT o.id, o.user_id, o.category_id, o.amount_cents, o.date, o.description,
	o.created_at, o.updated_at, c.name, c.description, c.type, c.color, c.icon
	FROM operations o LEFT JOIN categories c ON c.id = o.category_id`

func scanOperation(row pgx.Row) (core.Operation, error) {
	var o core.Operation
	var cents int64
	var day time.Time
	var name, desc, typ, color, icon *string
	if err := row.Scan(&o.ID, &o.UserID, &o.CategoryID, &cents, &day, &o.Description,
		&o.CreatedAt, &o.UpdatedAt, &name, &desc, &typ, &color, &icon); err != nil {
		return core.Operation{}, err
	}
	o.Amount = core.FromCents(cents)
	o.Date = core.DateOf(day)
	if o.CategoryID != nil && name != nil {
		o.Category = &core.Category{
			ID:          *o.CategoryID,
			UserID:      o.UserID,
			Name:        *name,
			Description: value(desc),
			Type:        core.CategoryType(value(typ)),
			Color:       value(color),
			Icon:        value(icon),
		}
	}
	return o, nil
}

func value(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (r *Repository) ListOperations(ctx context.Context, userID int64, q core.OperationQuery) ([]core.Operation, error) {
	where, args := storage.OperationFilter(userID, q, bind)
	query := operationSelect + ` WHERE ` + where + ` ORDER BY o.date DESC, o.created_at DESC, o.id DESC` + storage.PageClause(q)

	rows, err := r.pool.Query(ctx, query, args...)
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

func (r *Repository) OperationStats(ctx context.Context, userID int64, q core.OperationQuery) (core.Totals, int, error) {
	where, args := storage.OperationFilter(userID, q, bind)
	query := `SELECT COUNT(*),
		COALESCE(SUM(o.amount_cents) FILTER (WHERE c.type = 'expense'), 0)::bigint,
		COALESCE(SUM(o.amount_cents) FILTER (WHERE c.type = 'income'), 0)::bigint
		FROM operations o LEFT JOIN categories c ON c.id = o.category_id WHERE ` + where

	var count int
	var expenses, income int64
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&count, &expenses, &income); err != nil {
		return core.Totals{}, 0, fmt.Errorf("operation stats: %w", err)
	}
	return storage.TotalsFromCents(expenses, income), count, nil
}

func (r *Repository) GetOperation(ctx context.Context, userID, id int64) (core.Operation, error) {
	o, err := scanOperation(r.pool.QueryRow(ctx, operationSelect+` WHERE o.id = $1 AND o.user_id = $2`, id, userID))
	if err != nil {
		return core.Operation{}, fmt.Errorf("get operation %d: %w", id, notFound(err))
	}
	return o, nil
}

func (r *Repository) CreateOperation(ctx context.Context, o core.Operation) (core.Operation, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO operations (user_id, category_id, amount_cents, date, description)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		o.UserID, o.CategoryID, core.ToCents(o.Amount), o.Date.Time, o.Description).Scan(&id)
	if err != nil {
		return core.Operation{}, fmt.Errorf("insert operation: %w", err)
	}
	return r.GetOperation(ctx, o.UserID, id)
}

func (r *Repository) UpdateOperation(ctx context.Context, o core.Operation) (core.Operation, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE operations SET category_id = $1, amount_cents = $2, date = $3, description = $4, updated_at = NOW()
		 WHERE id = $5 AND user_id = $6`,
		o.CategoryID, core.ToCents(o.Amount), o.Date.Time, o.Description, o.ID, o.UserID)
	if err != nil {
		return core.Operation{}, fmt.Errorf("update operation %d: %w", o.ID, err)
	}
	if err := affected(tag); err != nil {
		return core.Operation{}, fmt.Errorf("update operation %d: %w", o.ID, err)
	}
	return r.GetOperation(ctx, o.UserID, o.ID)
}

func (r *Repository) DeleteOperation(ctx context.Context, userID, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM operations WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete operation %d: %w", id, err)
	}
	if err := affected(tag); err != nil {
		return fmt.Errorf("delete operation %d: %w", id, err)
	}
	return nil
}

// Saved reports

const savedReportColumns = "id, user_id, name, report_type, start_date, end_date, filters, created_at"

func scanSavedReport(row pgx.Row) (core.SavedReport, error) {
	var sr core.SavedReport
	var typ string
	var start, end time.Time
	var filters []byte
	if err := row.Scan(&sr.ID, &sr.UserID, &sr.Name, &typ, &start, &end, &filters, &sr.CreatedAt); err != nil {
		return core.SavedReport{}, err
	}
	decoded, err := storage.DecodeFilters(filters)
	if err != nil {
		return core.SavedReport{}, fmt.Errorf("saved report %d filters: %w", sr.ID, err)
	}
	sr.ReportType = core.ReportType(typ)
	sr.StartDate = core.DateOf(start)
	sr.EndDate = core.DateOf(end)
	sr.Filters = decoded
	return sr, nil
}

func (r *Repository) ListSavedReports(ctx context.Context, userID int64) ([]core.SavedReport, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+savedReportColumns+` FROM saved_reports WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
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

func (r *Repository) GetSavedReport(ctx context.Context, userID, id int64) (core.SavedReport, error) {
	sr, err := scanSavedReport(r.pool.QueryRow(ctx,
		`SELECT `+savedReportColumns+` FROM saved_reports WHERE id = $1 AND user_id = $2`, id, userID))
	if err != nil {
		return core.SavedReport{}, fmt.Errorf("get saved report %d: %w", id, notFound(err))
	}
	return sr, nil
}

func (r *Repository) CreateSavedReport(ctx context.Context, sr core.SavedReport) (core.SavedReport, error) {
	filters, err := storage.EncodeFilters(sr.Filters)
	if err != nil {
		return core.SavedReport{}, fmt.Errorf("encode filters: %w", err)
	}
	created, err := scanSavedReport(r.pool.QueryRow(ctx,
		`INSERT INTO saved_reports (user_id, name, report_type, start_date, end_date, filters)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+savedReportColumns,
		sr.UserID, sr.Name, string(sr.ReportType), sr.StartDate.Time, sr.EndDate.Time, string(filters)))
	if err != nil {
		return core.SavedReport{}, fmt.Errorf("insert saved report: %w", err)
	}
	return created, nil
}

func (r *Repository) DeleteSavedReport(ctx context.Context, userID, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM saved_reports WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete saved report %d: %w", id, err)
	}
	if err := affected(tag); err != nil {
		return fmt.Errorf("delete saved report %d: %w", id, err)
	}
	return nil
}
