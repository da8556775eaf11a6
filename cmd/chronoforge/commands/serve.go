package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/radioactive-labs/chrono-forge/internal/examples"
	"github.com/radioactive-labs/chrono-forge/internal/logging"
	"github.com/radioactive-labs/chrono-forge/internal/queue"
	"github.com/radioactive-labs/chrono-forge/internal/store"
	"github.com/radioactive-labs/chrono-forge/internal/telemetry"
	"github.com/radioactive-labs/chrono-forge/pkg/chronoforge"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the worker loop, consuming the job queue and dispatching workflows",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// A process-local tracer/meter provider: no exporter wired by
		// default, just enough to exercise the same instrumentation path
		// a production deployment would point at an OTLP collector.
		tp := sdktrace.NewTracerProvider()
		defer tp.Shutdown(context.Background())
		otel.SetTracerProvider(tp)

		mp := sdkmetric.NewMeterProvider()
		defer mp.Shutdown(context.Background())
		otel.SetMeterProvider(mp)

		db, err := store.Open(databaseURL())
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer db.Close()

		q, err := queue.New(ctx, queue.Options{
			Embedded: natsURL() == "",
			URL:      natsURL(),
			StoreDir: natsStoreDir(),
		})
		if err != nil {
			return fmt.Errorf("starting queue: %w", err)
		}
		defer q.Close()

		sqlStore := store.New(db)
		engine := chronoforge.NewEngineWithTelemetry(sqlStore, q, telemetry.New())
		engine.Register(examples.SampleJobClass, examples.SampleWorkflow)

		g, ctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			return q.Subscribe(ctx, examples.SampleJobClass, func(ctx context.Context, key string, payload chronoforge.JobPayload) error {
				return engine.Dispatch(ctx, examples.SampleJobClass, key, payload)
			})
		})

		g.Go(func() error {
			return runReaper(ctx, sqlStore)
		})

		logging.Info("chronoforge serve: listening for %s", examples.SampleJobClass)
		<-ctx.Done()
		return g.Wait()
	},
}

// runReaper schedules a cron job (seconds precision, verbose logging, in
// the teacher's own SchedulerService style) that reports workflows whose
// lease has outlived max_duration: observability atop the Lock Manager's
// own staleness rule, not a replacement for it.
func runReaper(ctx context.Context, s *store.SQLStore) error {
	c := cron.New(cron.WithSeconds(), cron.WithLogger(cron.VerbosePrintfLogger(reaperLogWriter{})))

	_, err := c.AddFunc("*/30 * * * * *", func() {
		stale, err := s.ListStale(ctx, time.Now().UTC().Add(-10*time.Minute))
		if err != nil {
			logging.Error("chronoforge reap: listing stale workflows: %v", err)
			return
		}
		for _, w := range stale {
			logging.Info("chronoforge reap: workflow %s/%s has been running since %s", w.JobClass, w.Key, w.LockedAt)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling reaper: %w", err)
	}

	c.Start()
	<-ctx.Done()
	stopCtx := c.Stop()
	<-stopCtx.Done()
	return nil
}

type reaperLogWriter struct{}

func (reaperLogWriter) Printf(format string, v ...any) {
	logging.Debug(format, v...)
}
