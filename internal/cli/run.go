package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	natsbroker "github.com/syntrixbase/cdc-stitcher/internal/broker/nats"
	"github.com/syntrixbase/cdc-stitcher/internal/config"
	"github.com/syntrixbase/cdc-stitcher/internal/filter"
	"github.com/syntrixbase/cdc-stitcher/internal/health"
	"github.com/syntrixbase/cdc-stitcher/internal/ingest"
	"github.com/syntrixbase/cdc-stitcher/internal/logging"
	"github.com/syntrixbase/cdc-stitcher/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Consume, stitch and persist change events",
		Long: `Start the ingestion loop.

The worker binds the durable JetStream consumer, stitches each row change
with the context message of its transaction, writes the result to the
configured sink and acknowledges the stream up to the highest fully
handled sequence. SIGINT and SIGTERM stop it after the current cycle.

Example:
  cdc-stitcher run --config-dir ./configs
  NATS_URL=nats://localhost:4222 SINK_BACKEND=pebble cdc-stitcher run`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWorker(ctx, rootOpts)
		},
	}
	return cmd
}

// loadAndInitialize loads configuration and installs the global logger.
func loadAndInitialize(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigDir)
	if err != nil {
		return nil, err
	}
	if err := logging.Initialize(cfg.Logging); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runWorker(ctx context.Context, opts *RootOptions) error {
	cfg, err := loadAndInitialize(opts)
	if err != nil {
		return err
	}
	defer logging.Shutdown()

	logger := slog.Default()

	flt, err := filter.New(cfg.Ingest.Filter)
	if err != nil {
		return fmt.Errorf("invalid ingest.filter: %w", err)
	}

	provider := natsbroker.NewProvider(cfg.Broker.URL, cfg.Broker.ClientName, logger)
	if err := provider.Connect(ctx); err != nil {
		return err
	}
	defer provider.Close()

	consumer, err := provider.NewConsumer(ctx, natsbroker.ConsumerOptions{
		Stream:        cfg.Broker.Stream,
		Durable:       cfg.Broker.Durable,
		FilterSubject: cfg.Broker.FilterSubject,
	})
	if err != nil {
		return err
	}

	store, err := openSink(ctx, cfg.Sink, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Error("Failed to close sink", "error", err)
		}
	}()

	if _, err := ensureSchema(ctx, store); err != nil {
		return err
	}

	checker := health.NewChecker(logger)
	checker.RecordSuccess(health.ComponentBroker)
	checker.RecordSuccess(health.ComponentSink)

	if cfg.Health.Enabled {
		addr := fmt.Sprintf(":%d", cfg.Health.Port)
		go func() {
			if err := health.StartServer(ctx, addr, cfg.Health.Path, checker); err != nil {
				logger.Error("Health server failed", "addr", addr, "error", err)
			}
		}()
	}
	if cfg.Metrics.Enabled {
		addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		go func() {
			if err := metrics.StartServer(ctx, addr, cfg.Metrics.Path, logger); err != nil {
				logger.Error("Metrics server failed", "addr", addr, "error", err)
			}
		}()
	}

	loop, err := ingest.New(ingest.Options{
		Consumer: consumer,
		Sink:     store,
		Filter:   flt,
		Config:   cfg.Ingest,
		Logger:   logger,
		Health:   checker,
	})
	if err != nil {
		return err
	}

	logger.Info("Worker started",
		"stream", cfg.Broker.Stream,
		"durable", cfg.Broker.Durable,
		"sink", cfg.Sink.Backend,
		"pid", os.Getpid())

	if err := loop.Run(ctx); err != nil {
		return fmt.Errorf("ingestion stopped: %w", err)
	}

	logger.Info("Worker stopped", "buffered", loop.Buffered())
	return nil
}
