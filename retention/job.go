package retention

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/robfig/cron/v3"
)

// Hook runs after each scheduled sweep.
type Hook func(ctx context.Context)

// StartRetentionJob runs sweeps on the given cron schedule (e.g. "@every 6h" or "0 */6 * * *")
// until ctx is canceled. A sweep runs immediately on start. Overlapping runs are skipped.
// The schedule "off" disables the job.
func StartRetentionJob(ctx context.Context, m *Manager, schedule string, hooks ...Hook) error {
	logger := slog.Default().With(slog.String("component", "retention_job"))
	if strings.EqualFold(schedule, "off") || schedule == "" {
		logger.Info("retention job disabled")
		return nil
	}

	run := func() {
		m.Sweep(ctx)
		for _, h := range hooks {
			h(ctx)
		}
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, run); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}

	p := m.Policy()
	logger.Info("retention job starting",
		slog.String("schedule", schedule),
		slog.Any("roots", p.Roots),
		slog.Int("max_age_days", p.MaxAgeDays),
		slog.Float64("max_entry_mb", p.MaxEntrySizeMB),
		slog.Float64("max_root_mb", p.MaxRootQuotaMB),
		slog.Bool("dry_run", p.DryRun))

	run()
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	logger.Info("retention job stopped")
	return nil
}
