// Package storage persists the ledger: users, profiles, categories,
// operations and saved reports.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"finanzas/internal/core"
)

// Repository is implemented by every storage backend. Lookups scoped by
// user return core.ErrNotFound for rows owned by someone else.
type Repository interface {
	CreateUser(ctx context.Context, u core.User, p core.Profile) (core.User, error)
	GetUser(ctx context.Context, id int64) (core.User, error)
	ListUsers(ctx context.Context) ([]core.User, error)
	UpdateUser(ctx context.Context, u core.User) (core.User, error)

	GetProfile(ctx context.Context, userID int64) (core.Profile, error)
	UpdateProfile(ctx context.Context, p core.Profile) (core.Profile, error)

	ListCategories(ctx context.Context, userID int64, t core.CategoryType) ([]core.Category, error)
	GetCategory(ctx context.Context, userID, id int64) (core.Category, error)
	CreateCategory(ctx context.Context, c core.Category) (core.Category, error)
	UpdateCategory(ctx context.Context, c core.Category) (core.Category, error)
	DeleteCategory(ctx context.Context, userID, id int64) error

	// ListOperations returns matching operations newest first with their
	// Category populated.
	ListOperations(ctx context.Context, userID int64, q core.OperationQuery) ([]core.Operation, error)
	// OperationStats totals every operation matching q, ignoring Limit and Offset.
	OperationStats(ctx context.Context, userID int64, q core.OperationQuery) (core.Totals, int, error)
	GetOperation(ctx context.Context, userID, id int64) (core.Operation, error)
	CreateOperation(ctx context.Context, o core.Operation) (core.Operation, error)
	UpdateOperation(ctx context.Context, o core.Operation) (core.Operation, error)
	DeleteOperation(ctx context.Context, userID, id int64) error

	ListSavedReports(ctx context.Context, userID int64) ([]core.SavedReport, error)
	GetSavedReport(ctx context.Context, userID, id int64) (core.SavedReport, error)
	CreateSavedReport(ctx context.Context, r core.SavedReport) (core.SavedReport, error)
	DeleteSavedReport(ctx context.Context, userID, id int64) error

	Ping(ctx context.Context) error
	Close() error
}

// OperationFilter renders the WHERE clause shared by the SQL backends for
// operations aliased o joined to categories aliased c. bind returns the
// placeholder for the n-th argument, starting at 1.
func OperationFilter(userID int64, q core.OperationQuery, bind func(n int) string) (string, []any) {
	args := []any{userID}
	clauses := []string{"o.user_id = " + bind(1)}

	add := func(format string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(format, bind(len(args))))
	}
	if !q.Start.IsZero() {
		add("o.date >= %s", q.Start.String())
	}
	if !q.End.IsZero() {
		add("o.date <= %s", q.End.String())
	}
	if q.Type != "" {
		add("c.type = %s", string(q.Type))
	}
	if len(q.CategoryIDs) > 0 {
		placeholders := make([]string, len(q.CategoryIDs))
		for i, id := range q.CategoryIDs {
			args = append(args, id)
			placeholders[i] = bind(len(args))
		}
		clauses = append(clauses, "o.category_id IN ("+strings.Join(placeholders, ", ")+")")
	}
	return strings.Join(clauses, " AND "), args
}

// PageClause renders LIMIT/OFFSET for q, empty when q is unbounded.
func PageClause(q core.OperationQuery) string {
	if q.Limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", q.Limit, max(q.Offset, 0))
}

// timestampLayout is fixed width so stored timestamps sort as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(s string) time.Time {
	for _, layout := range []string{timestampLayout, time.RFC3339Nano, time.DateTime} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
