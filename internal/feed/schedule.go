package feed

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether expr is a five-field cron expression or a
// descriptor such as "@hourly".
func ValidateSchedule(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// Schedule runs the ingestor on expr until ctx is cancelled. Feeds only list
// their latest entries, so repeated collection grows the candidate pool.
// Overlapping ticks are skipped. Store faults stop the schedule and are
// returned.
func Schedule(ctx context.Context, ing *Ingestor, expr string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ValidateSchedule(expr); err != nil {
		return err
	}
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(expr, func() {
		report, err := ing.Run(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("scheduled collection failed", zap.Error(err))
				cancel(err)
			}
			return
		}
		logger.Info("scheduled collection done",
			zap.Int("new", report.New),
			zap.Int("duplicate", report.Duplicate),
		)
	}); err != nil {
		return fmt.Errorf("schedule collection: %w", err)
	}

	logger.Info("collection scheduled", zap.String("cron", expr))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()

	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return nil
}
