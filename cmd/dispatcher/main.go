// Package main provides the Loadstone dispatcher service.
//
// The dispatcher consumes load notifications from Kafka and runs the full
// load pipeline for each manifest it receives. Failed runs are left
// uncommitted so the broker redelivers them.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/loadstone-io/loadstone/internal/config"
	"github.com/loadstone-io/loadstone/internal/dispatch"
	"github.com/loadstone-io/loadstone/internal/exceptions"
	"github.com/loadstone-io/loadstone/internal/ledger"
	"github.com/loadstone-io/loadstone/internal/loader"
	"github.com/loadstone-io/loadstone/internal/manifest"
	"github.com/loadstone-io/loadstone/internal/pipeline"
	"github.com/loadstone-io/loadstone/internal/staging"
	"github.com/loadstone-io/loadstone/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "loadstone-dispatcher"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))

	logger.Info("Starting Loadstone dispatcher",
		slog.String("service", name),
		slog.String("version", version),
	)

	fileConfig, err := pipeline.LoadFileConfigFromEnv()
	if err != nil {
		logger.Error("Failed to load file configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sourceDir := config.GetEnvStr("SOURCE_DIR", ".")
	if fileConfig.SourceDir != "" {
		sourceDir = fileConfig.SourceDir
	}

	storageConfig := storage.LoadConfig()

	conn, err := storage.Open(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = conn.Close() // Ensure connection closes on normal shutdown
	}()

	logger.Info("Database connection established",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
	)

	p, err := buildPipeline(conn, fileConfig, sourceDir, logger)
	if err != nil {
		logger.Error("Failed to assemble pipeline", slog.String("error", err.Error()))

		_ = conn.Close()
		//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
		os.Exit(1)
	}

	dispatchConfig := dispatch.LoadConfig()

	consumer, err := dispatch.NewConsumer(dispatchConfig, runnerFor(p), dispatch.WithLogger(logger))
	if err != nil {
		logger.Error("Failed to create consumer", slog.String("error", err.Error()))
		_ = conn.Close()
		os.Exit(1)
	}

	logger.Info("Consumer initialized",
		slog.Any("brokers", dispatchConfig.Brokers),
		slog.String("topic", dispatchConfig.Topic),
		slog.String("group_id", dispatchConfig.GroupID),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Consumer stopped", slog.String("error", err.Error()))
		_ = conn.Close()
		os.Exit(1)
	}

	logger.Info("Dispatcher shut down cleanly")
}

// buildPipeline wires the load pipeline the same way the standalone loader
// does, minus the manifest file read; manifests arrive over Kafka here.
func buildPipeline(
	conn *storage.Connection,
	fileConfig *pipeline.FileConfig,
	sourceDir string,
	logger *slog.Logger,
) (*pipeline.Pipeline, error) {
	store, err := staging.NewStore(conn, staging.LoadConfig(), staging.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	ledgerConfig := ledger.LoadConfig()
	exceptionConfig := exceptions.LoadConfig()

	if fileConfig.ReportDir != "" {
		ledgerConfig.ReportDir = fileConfig.ReportDir
		exceptionConfig.ReportDir = fileConfig.ReportDir
	}

	ledgerSvc, err := ledger.NewService(ledgerConfig, ledger.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	reporter, err := exceptions.NewReporter(exceptionConfig, exceptions.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	return pipeline.New(
		store,
		loader.NewOrchestrator(conn, loader.WithLogger(logger)),
		ledgerSvc,
		reporter,
		sourceDir,
		pipeline.WithLogger(logger),
	), nil
}

// runnerFor adapts the pipeline to the consumer's runner contract. Aborted
// runs return an error so the message stays uncommitted and is redelivered.
func runnerFor(p *pipeline.Pipeline) dispatch.LoadRunner {
	return func(ctx context.Context, m *manifest.Manifest) error {
		_, err := p.Run(ctx, m)

		return err
	}
}
