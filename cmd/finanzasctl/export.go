package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"finanzas/internal/amqp"
	"finanzas/internal/cli"
	"finanzas/internal/export"
	"finanzas/internal/reports"
	"finanzas/internal/sheets"
	gsheet "finanzas/internal/sheets/google"
	"finanzas/internal/worker"
)

func exportCmd(a *app) *cobra.Command {
	var (
		f      reportFlags
		format string
		outDir string
		queue  bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a report to a file or Google Sheets",
		Long: `Build a report and write it as an excel, pdf or csv file under the export
directory, or publish it to the configured spreadsheet with --format sheets.
With --queue the request is handed to finanzas-worker instead.`,
		Example: `  finanzasctl export --user 1 --format excel
  finanzasctl export --user 1 --period year --year 2024 --format sheets
  finanzasctl export --user 1 --format pdf --queue`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != amqp.TargetSheets {
				parsed, err := export.ParseFormat(format)
				if err != nil {
					return err
				}
				format = string(parsed)
			}
			if queue {
				return a.queueExport(cmd, f, format)
			}

			_, store, err := a.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			var publisher sheets.Publisher
			if format == amqp.TargetSheets {
				if !a.cfg.SheetsEnabled() {
					return worker.ErrSheetsDisabled
				}
				client, err := gsheet.New(cmd.Context(), gsheet.OptionsFromConfig(a.cfg))
				if err != nil {
					return err
				}
				publisher = client
			}
			if outDir == "" {
				outDir = a.cfg.ExportDir
			}

			svc := reports.NewService(store.Repository)
			rep, err := f.build(cmd, svc)
			if err != nil {
				return err
			}
			w := worker.NewExportWorker(svc, store.Repository, worker.Options{
				Publisher: publisher,
				SheetBase: a.cfg.GoogleSheetName,
				ExportDir: outDir,
				Logger:    a.logger,
			})
			location, err := w.Deliver(cmd.Context(), f.user, rep, format)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", successStyle.Render("exported"), location)
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&format, "format", "csv", "excel, pdf, csv or sheets")
	cmd.Flags().StringVar(&outDir, "out", "", "export directory (default: EXPORT_DIR)")
	cmd.Flags().BoolVar(&queue, "queue", false, "queue the export for finanzas-worker")
	return cmd
}

func (a *app) queueExport(cmd *cobra.Command, f reportFlags, format string) error {
	if f.saved > 0 {
		return fmt.Errorf("saved reports cannot be queued; run them with --saved without --queue")
	}
	client, err := cli.ConnectAMQP(a.cfg, a.logger)
	if err != nil {
		return err
	}
	if client == nil {
		return fmt.Errorf("AMQP_URL is required to queue exports")
	}
	defer client.Close()

	msg := amqp.NewExportRequestMessage(f.user, string(reports.ParsePeriodKind(f.period)), format)
	msg.Year, msg.Month = f.year, f.month
	msg.StartDate, msg.EndDate = f.start, f.end
	msg.CategoryIDs = f.categories
	if _, err := worker.QueryFromMessage(msg); err != nil {
		return err
	}
	if err := client.PublishExportRequest(cmd.Context(), msg); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s export %s\n", successStyle.Render("queued"), msg.ID)
	return nil
}
