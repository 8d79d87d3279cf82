package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// runScheduled runs job on sched until ctx is done. A run that is still in
// progress when the next tick fires makes that tick a no-op.
func runScheduled(ctx context.Context, sched cron.Schedule, job func(ctx context.Context)) error {
	l := slog.With(slog.String("component", "schedule"))

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(sched, cron.FuncJob(func() {
		l.Info("starting scheduled report")
		job(ctx)
	}))

	c.Start()
	l.Info("scheduler started", slog.Time("next", sched.Next(time.Now())))

	<-ctx.Done()
	l.Info("stopping scheduler")
	<-c.Stop().Done()
	return nil
}
