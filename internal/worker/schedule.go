package worker

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"finanzas/internal/log"
)

// ScheduleMonthly runs w.RunMonthly on the cron spec (standard five
// fields, e.g. "0 9 1 * *"). Stop the returned scheduler on shutdown.
func ScheduleMonthly(ctx context.Context, spec, format string, w *ExportWorker, logger *log.Logger) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		logger.InfoContext(ctx, "Starting monthly export", "format", format)
		if err := w.RunMonthly(ctx, format); err != nil {
			logger.ErrorContext(ctx, "Monthly export completed with errors", log.FieldError, err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule monthly export %q: %w", spec, err)
	}
	c.Start()
	return c, nil
}
