package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"finanzas/internal/core"
	"finanzas/internal/reports"
)

// reportFlags are the range and filter flags shared by report and export.
type reportFlags struct {
	user       int64
	period     string
	year       int
	month      int
	start      string
	end        string
	categories []int64
	saved      int64
}

func (f *reportFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.Int64Var(&f.user, "user", 0, "user id (required)")
	flags.StringVar(&f.period, "period", "month", "week, month, year or custom")
	flags.IntVar(&f.year, "year", 0, "year (default: current)")
	flags.IntVar(&f.month, "month", 0, "month 1-12 (default: current)")
	flags.StringVar(&f.start, "start", "", "first day, YYYY-MM-DD")
	flags.StringVar(&f.end, "end", "", "last day, YYYY-MM-DD")
	flags.Int64SliceVar(&f.categories, "categories", nil, "only these category ids")
	flags.Int64Var(&f.saved, "saved", 0, "run a saved report instead")
	_ = cmd.MarkFlagRequired("user")
}

func (f *reportFlags) query() (reports.Query, error) {
	q := reports.Query{
		Kind:        reports.ParsePeriodKind(f.period),
		Year:        f.year,
		Month:       f.month,
		CategoryIDs: f.categories,
	}
	var err error
	if f.start != "" {
		if q.Start, err = core.ParseDate(f.start); err != nil {
			return reports.Query{}, fmt.Errorf("--start %q: %w", f.start, err)
		}
	}
	if f.end != "" {
		if q.End, err = core.ParseDate(f.end); err != nil {
			return reports.Query{}, fmt.Errorf("--end %q: %w", f.end, err)
		}
	}
	return q, nil
}

// build computes the report selected by the flags.
func (f *reportFlags) build(cmd *cobra.Command, svc *reports.Service) (reports.Report, error) {
	if f.saved > 0 {
		return svc.RunSaved(cmd.Context(), f.user, f.saved)
	}
	q, err := f.query()
	if err != nil {
		return reports.Report{}, err
	}
	return svc.Build(cmd.Context(), f.user, q)
}

func reportCmd(a *app) *cobra.Command {
	var f reportFlags
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print a report in the terminal",
		Example: `  finanzasctl report --user 1
  finanzasctl report --user 1 --period year --year 2024
  finanzasctl report --user 1 --period custom --start 2024-03-01 --end 2024-03-15`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, store, err := a.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			rep, err := f.build(cmd, reports.NewService(store.Repository))
			if err != nil {
				return err
			}
			return renderReport(cmd.OutOrStdout(), rep)
		},
	}
	f.register(cmd)
	return cmd
}

func renderReport(out io.Writer, r reports.Report) error {
	fmt.Fprintln(out, titleStyle.Render(r.Title))
	fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf("%s to %s, %s", r.Period.Start, r.Period.End, r.Currency)))
	fmt.Fprintln(out)

	fmt.Fprintf(out, "Expenses  %s  (%+.1f%% vs previous)\n",
		expenseStyle.Render(r.Totals.Expenses.StringFixed(2)), r.Comparison.Expenses.ChangePct)
	fmt.Fprintf(out, "Income    %s  (%+.1f%% vs previous)\n",
		incomeStyle.Render(r.Totals.Income.StringFixed(2)), r.Comparison.Income.ChangePct)
	fmt.Fprintf(out, "Balance   %s\n", r.Totals.Balance.StringFixed(2))
	fmt.Fprintf(out, "Projected expenses for %s to %s: %s\n\n",
		r.Projection.Period.Start, r.Projection.Period.End, r.Projection.Amount.StringFixed(2))

	for _, section := range []struct {
		title  string
		groups []reports.CategoryGroup
	}{
		{"Expenses by category", r.Expenses},
		{"Income by category", r.Income},
	} {
		fmt.Fprintln(out, titleStyle.Render(section.title))
		if len(section.groups) == 0 {
			fmt.Fprintln(out, mutedStyle.Render("  (none)"))
			fmt.Fprintln(out)
			continue
		}
		t := newTable(out, "Category", "Total", "Count", "Share")
		for _, g := range section.groups {
			t.row(g.Name, g.Total.StringFixed(2), g.Count, fmt.Sprintf("%.1f%%", g.Percentage))
		}
		if err := t.flush(); err != nil {
			return err
		}
		fmt.Fprintln(out)
	}
	return nil
}
