package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/next-trace/scg-consumer/config"
	"github.com/next-trace/scg-consumer/consumer"
	"github.com/next-trace/scg-consumer/logging"
	"github.com/next-trace/scg-consumer/metrics"
	"github.com/next-trace/scg-consumer/registry"
)

func newConsumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "consume",
		Short: "Run the consumer until SIGINT or SIGTERM",
		Long: `Load the config file, connect the transport, draw the routes it declares and
start one listener per (topic, channel). The process exits 0 after a signal-driven
shutdown and non-zero when startup fails.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			return runConsume(cmd.Context(), cfg)
		},
	}
}

func runConsume(ctx context.Context, cfg *config.Config) error {
	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	reg := registry.New(logger)
	if err := registerResponders(reg, logger); err != nil {
		return err
	}

	transport, cleanup, err := openTransport(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c := consumer.New(transport, reg,
		consumer.WithLogger(logger),
		consumer.WithMetrics(metrics.New(promReg)),
		consumer.WithWorkers(cfg.Workers),
		consumer.WithQueueCapacity(cfg.QueueCapacity),
		consumer.WithShutdownTimeout(cfg.ShutdownTimeoutDuration(consumer.DefaultShutdownTimeout)),
		consumer.WithConfigSource(cfg),
		consumer.WithMiddleware(logJobs(logger)),
	)

	if err := c.Draw(cfg.DrawRoutes); err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		stop := serveMetrics(cfg.Metrics.Addr, metrics.NewRouter(promReg, c.Healthy), logger)
		defer stop()
	}

	return c.Run(ctx)
}

// serveMetrics starts the metrics listener and returns its shutdown func.
func serveMetrics(addr string, h http.Handler, logger *slog.Logger) func() {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("metrics listening", "addr", addr)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "err", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = srv.Shutdown(ctx)
	}
}
