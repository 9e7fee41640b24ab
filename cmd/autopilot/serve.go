package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"autopilot/internal/infra/logger"
	"autopilot/internal/infra/metrics"
	"autopilot/internal/usecase/eventbus"
	"autopilot/internal/usecase/scheduling"
)

func newServeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the workers, the periodic scheduler and the metrics listener",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, *cfgPath)
		},
	}
}

func serve(ctx context.Context, cfgPath string) error {
	a, err := openApp(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Close(shutdownCtx); err != nil {
			a.log.Error("shutdown error", "error", err)
		}
	}()

	unsub := eventbus.LogEvents(a.bus, logger.Component(a.log, "events"))
	defer unsub()

	g, ctx := errgroup.WithContext(ctx)

	worker := a.newWorker()
	g.Go(func() error { return worker.Run(ctx) })

	if a.cfg.Scheduler.Enabled {
		sched := scheduling.NewScheduler(logger.Component(a.log, "scheduler"))
		sched.RegisterQueueActions(a.queue)
		if err := sched.AddTasks(scheduling.TasksFromConfig(a.cfg.Scheduler)); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		g.Go(func() error {
			<-ctx.Done()
			return sched.Stop()
		})
	}

	if a.cfg.Metrics.Enabled {
		g.Go(func() error { return metrics.Serve(ctx, a.cfg.Metrics, logger.Component(a.log, "metrics")) })
	}

	a.log.Info("autopilot serving",
		"version", version,
		"queues", worker.Queues(),
		"scheduler", a.cfg.Scheduler.Enabled,
		"metrics", a.cfg.Metrics.Enabled,
	)
	err = g.Wait()
	a.log.Info("autopilot stopped")
	return err
}
