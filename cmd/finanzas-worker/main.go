package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"finanzas/internal/cli"
	"finanzas/internal/config"
	"finanzas/internal/log"
	"finanzas/internal/reports"
	"finanzas/internal/sheets"
	gsheet "finanzas/internal/sheets/google"
	memsheet "finanzas/internal/sheets/memory"
	"finanzas/internal/worker"
)

// sheetRefreshInterval batches ledger events into one sheet refresh per
// user per interval.
const sheetRefreshInterval = time.Minute

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg, log.ComponentWorker)

	logger.Info("Starting finanzas-worker")
	if err := run(cfg, logger); err != nil {
		logger.Error("Worker stopped", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Worker shutdown complete")
}

func run(cfg *config.Config, logger *log.Logger) error {
	store, err := cli.OpenBackend(context.Background(), cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	defer store.Close()

	publisher, err := newPublisher(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize google sheets client: %w", err)
	}

	exportWorker := worker.NewExportWorker(reports.NewService(store.Repository), store.Repository, worker.Options{
		Publisher: publisher,
		SheetBase: cfg.GoogleSheetName,
		ExportDir: cfg.ExportDir,
		Logger:    logger,
	})

	amqpClient, err := cli.ConnectAMQP(cfg, logger)
	if err != nil {
		return err
	}
	if amqpClient != nil {
		defer amqpClient.Close()
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)
	g, gctx := errgroup.WithContext(ctx)

	if amqpClient != nil {
		g.Go(func() error {
			return amqpClient.ConsumeExportRequests(gctx, exportWorker.HandleExportRequest)
		})
		g.Go(func() error {
			return amqpClient.ConsumeLedgerEvents(gctx, exportWorker.HandleLedgerEvent)
		})
	} else {
		logger.Info("Skipping AMQP message consumption - no AMQP_URL provided")
	}

	if publisher != nil {
		g.Go(func() error {
			ticker := time.NewTicker(sheetRefreshInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if err := exportWorker.FlushPending(gctx); err != nil && gctx.Err() == nil {
						logger.Error("Sheet refresh failed", log.FieldError, err)
					}
				}
			}
		})
	}

	if cfg.MonthlyExportSchedule != "" {
		scheduler, err := worker.ScheduleMonthly(gctx, cfg.MonthlyExportSchedule, cfg.MonthlyExportFormat, exportWorker, logger)
		if err != nil {
			return err
		}
		defer func() { <-scheduler.Stop().Done() }()
		logger.Info("Monthly export scheduled",
			"schedule", cfg.MonthlyExportSchedule,
			"format", cfg.MonthlyExportFormat)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	cli.WaitForShutdown(ctx, done)
	return nil
}

// newPublisher returns the Google Sheets client when a spreadsheet is
// configured, an in-memory publisher for the memory backend, and nil
// otherwise.
func newPublisher(cfg *config.Config, logger *log.Logger) (sheets.Publisher, error) {
	switch {
	case cfg.SheetsEnabled():
		client, err := gsheet.New(context.Background(), gsheet.OptionsFromConfig(cfg))
		if err != nil {
			return nil, err
		}
		logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
		return client, nil
	case cfg.DataBackend == "memory":
		logger.Info("Publishing sheets in memory")
		return memsheet.New(), nil
	default:
		logger.Info("Google Sheets disabled - no GOOGLE_SPREADSHEET_ID provided")
		return nil, nil
	}
}
