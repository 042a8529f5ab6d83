// Package worker provides the long-running pipeline worker command.
package worker

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/battycoda/battycoda/internal/alerting"
	"github.com/battycoda/battycoda/internal/app"
	"github.com/battycoda/battycoda/internal/conf"
	"github.com/battycoda/battycoda/internal/logger"
	"github.com/battycoda/battycoda/internal/observability"
)

// Command returns the worker command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the job runner, classification dispatcher and health monitor",
		Long: `Worker starts the background job runner and feeds it every pending
segmentation, clustering, spectrogram and training job. It drains the
classification queue one run at a time, watches disk and memory of the media host, and serves
Prometheus metrics when enabled. It runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Run(settings, run)
		},
	}
}

func run(ctx context.Context, a *app.App) error {
	log := logger.Global().Module("worker")

	a.Runner.Start(ctx)

	monitor := alerting.NewHealthMonitor(a.Alerter, a.Settings.Main.MediaRoot, &a.Settings.Alerting)
	monitor.Start(ctx)
	defer monitor.Stop()

	g, gctx := errgroup.WithContext(ctx)

	poller := a.NewPoller()
	g.Go(func() error { return poller.Run(gctx) })

	if a.Classification != nil {
		g.Go(func() error { return a.Classification.Dispatch(gctx, a.Runner) })
	} else {
		log.Warn("classification dispatcher disabled", logger.Error(a.RequireRServer()))
	}

	if a.Settings.Metrics.Enabled {
		endpoint, err := observability.NewEndpoint(&a.Settings.Metrics, a.Metrics)
		if err != nil {
			return err
		}
		g.Go(func() error { return endpoint.Run(gctx) })
	}

	log.Info("worker started",
		logger.Int("workers", a.Settings.Jobs.Workers),
		logger.Int("job_kinds", len(poller.Kinds())),
		logger.Bool("metrics", a.Settings.Metrics.Enabled))

	err := g.Wait()

	log.Info("worker stopping", logger.Duration("timeout", a.ShutdownTimeout()))
	if stopErr := a.Runner.StopWithTimeout(a.ShutdownTimeout()); stopErr != nil {
		log.Warn("jobs were cancelled during shutdown", logger.Error(stopErr))
	}
	return err
}
