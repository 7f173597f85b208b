package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"finanzas/internal/cache"
	"finanzas/internal/cli"
	apphttp "finanzas/internal/http"
	"finanzas/internal/log"
	"finanzas/internal/reports"
	"finanzas/internal/services"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg, log.ComponentApp)

	ctx := context.Background()
	store, err := cli.OpenBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize storage", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	reportCache := cache.NewLRUCache[reports.Report](cfg.ReportCacheSize, cfg.ReportCacheTTL)
	dashboardCache := cache.NewLRUCache[reports.Dashboard](cfg.ReportCacheSize, cfg.ReportCacheTTL)
	cacheManager := cache.NewManager(logger.WithComponent(log.ComponentCache).Slog())
	cacheManager.Register(reportCache)
	cacheManager.Register(dashboardCache)
	cacheManager.StartCleanup(cfg.ReportCacheTTL)

	reportService := reports.NewService(store.Repository,
		reports.WithReportCache(reportCache),
		reports.WithDashboardCache(dashboardCache))

	ledgerOpts := []services.Option{
		services.WithInvalidator(reportService),
		services.WithLogger(logger.WithComponent(log.ComponentLedger)),
	}
	opts := apphttp.Options{
		Addr:           ":" + cfg.Port,
		Reports:        reportService,
		Storage:        store.Repository,
		Logger:         logger,
		RequestTimeout: cfg.RequestTimeout,
		RateLimit:      cfg.RateLimit,
		TrustedProxies: cfg.TrustedProxies,
		Caches: map[string]apphttp.Sizer{
			"reports":    reportCache,
			"dashboards": dashboardCache,
		},
	}

	amqpClient, err := cli.ConnectAMQP(cfg, logger)
	if err != nil {
		// the API works without the queue; exports answer 503
		logger.Warn("Continuing without AMQP", log.FieldError, err)
	}
	if amqpClient != nil {
		ledgerOpts = append(ledgerOpts, services.WithEvents(amqpClient))
		opts.Exports = amqpClient
	}

	ledger := services.NewLedgerService(store.Repository, ledgerOpts...)
	opts.Ledger = ledger

	srv, err := apphttp.NewServer(opts)
	if err != nil {
		logger.Error("Failed to create HTTP server", log.FieldError, err)
		os.Exit(1)
	}

	shutdownCtx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		cacheManager.Stop()
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("AMQP close error", log.FieldError, err)
			}
		}
		if err := store.Close(); err != nil {
			logger.Warn("Storage close error", log.FieldError, err)
		}
	})

	logger.Info("Starting finanzas server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"exports", amqpClient != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(shutdownCtx, done)
	logger.Info("Server stopped gracefully")
}
