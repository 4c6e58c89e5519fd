package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-isp-billing/app/service"
	"github.com/vibast-solutions/ms-go-isp-billing/config"
)

var (
	workerMode bool
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Run periodic billing jobs",
}

var sweepExpirationsCmd = &cobra.Command{
	Use:   "sweep-expirations",
	Short: "Deactivate subscriptions past their end date and revoke router access",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"sweep_expirations",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.SweepInterval },
			func(s *service.JobService, ctx context.Context) (int, error) {
				return s.RunSweepExpirationsBatch(ctx)
			},
		)
	},
}

var reconcilePendingCmd = &cobra.Command{
	Use:   "reconcile-pending",
	Short: "Query the gateway for payments whose callback never arrived",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"reconcile_pending",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.ReconcileInterval },
			func(s *service.JobService, ctx context.Context) (int, error) {
				return s.RunReconcilePendingBatch(ctx)
			},
		)
	},
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(sweepExpirationsCmd)
	jobsCmd.AddCommand(reconcilePendingCmd)

	rootCmd.PersistentFlags().BoolVar(&workerMode, "worker", false, "Run continuously using configured interval")
}

func runCommand(
	name string,
	intervalResolver func(cfg *config.Config) time.Duration,
	fn func(s *service.JobService, ctx context.Context) (int, error),
) {
	app, cleanup := mustCreateApplication()
	defer cleanup()

	if workerMode {
		runWorker(name, intervalResolver(app.cfg), app.jobs, fn)
		return
	}

	ctx := context.Background()
	runJob(name, func() (int, error) { return fn(app.jobs, ctx) })
}

func runWorker(
	name string,
	interval time.Duration,
	jobService *service.JobService,
	fn func(s *service.JobService, ctx context.Context) (int, error),
) {
	if interval <= 0 {
		logrus.WithField("job", name).Fatal("invalid worker interval")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runJob(name, func() (int, error) { return fn(jobService, ctx) })

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case <-quit:
			logrus.WithField("job", name).Info("Worker shutdown requested")
			return
		case <-ticker.C:
			runJob(name, func() (int, error) { return fn(jobService, ctx) })
		}
	}
}

func runJob(name string, fn func() (int, error)) {
	start := time.Now()
	processed, err := fn()
	latency := time.Since(start)
	entry := logrus.WithField("job", name).WithField("latency", latency.String())
	if errors.Is(err, service.ErrJobAlreadyRunning) {
		entry.Info("job_skipped")
		return
	}
	if err != nil {
		entry.WithError(err).WithField("processed", processed).Error("job_failed")
		return
	}
	entry.WithField("processed", processed).Info("job_completed")
}
