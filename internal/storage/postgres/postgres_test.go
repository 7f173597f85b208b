package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finanzas/internal/core"
)

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@localhost:5432/db", migrateURL("postgres://u:p@localhost:5432/db"))
	assert.Equal(t, "pgx5://localhost/db", migrateURL("postgresql://localhost/db"))
	assert.Equal(t, "pgx5://localhost/db", migrateURL("pgx5://localhost/db"))
}

func TestBind(t *testing.T) {
	assert.Equal(t, "$12", bind(12))
}

// TestRepositoryIntegration needs a disposable database in FINANZAS_TEST_POSTGRES_URL.
func TestRepositoryIntegration(t *testing.T) {
	url := os.Getenv("FINANZAS_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("FINANZAS_TEST_POSTGRES_URL not set")
	}
	ctx := context.Background()

	repo, err := New(ctx, url)
	require.NoError(t, err)
	defer repo.Close()

	_, err = repo.pool.Exec(ctx, `TRUNCATE users RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	u, err := repo.CreateUser(ctx, core.User{Username: "ana", Email: "ana@example.com"}, core.DefaultProfile(0))
	require.NoError(t, err)

	_, err = repo.CreateUser(ctx, core.User{Username: "ana", Email: "ana@example.com"}, core.DefaultProfile(0))
	assert.ErrorIs(t, err, core.ErrDuplicateUsername)

	food, err := repo.CreateCategory(ctx, core.Category{UserID: u.ID, Name: "Food", Type: core.Expense, Color: "#ff0000", Icon: "fa-tag"})
	require.NoError(t, err)
	_, err = repo.CreateCategory(ctx, core.Category{UserID: u.ID, Name: "Food", Type: core.Expense, Color: "#ff0000", Icon: "fa-tag"})
	assert.ErrorIs(t, err, core.ErrDuplicateCategory)

	op, err := repo.CreateOperation(ctx, core.Operation{
		UserID: u.ID, CategoryID: &food.ID, Amount: decimal.RequireFromString("12.34"), Date: core.NewDate(2024, 3, 5),
	})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-05", op.Date.String())
	require.NotNil(t, op.Category)

	totals, count, err := repo.OperationStats(ctx, u.ID, core.OperationQuery{Type: core.Expense})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, "12.34", totals.Expenses.StringFixed(2))

	require.NoError(t, repo.DeleteCategory(ctx, u.ID, food.ID))
	op, err = repo.GetOperation(ctx, u.ID, op.ID)
	require.NoError(t, err)
	assert.Nil(t, op.Category)

	sr, err := repo.CreateSavedReport(ctx, core.SavedReport{
		UserID: u.ID, Name: "March", ReportType: core.MonthlyReport,
		StartDate: core.NewDate(2024, 3, 1), EndDate: core.NewDate(2024, 3, 31),
		Filters: core.CategoryFilter([]int64{1}),
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, sr.CategoryIDs())
}
