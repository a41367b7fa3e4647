// Package main provides the Loadstone batch loader.
//
// The loader runs one manifest-declared load end to end: staging, ordered
// upserts into production, ledger reconciliation, and exception reporting.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/loadstone-io/loadstone/internal/config"
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
	name    = "loadstone-loader"
)

// Exit codes mirror the terminal load states so schedulers can branch on
// the result without parsing logs.
const (
	exitSuccess = 0
	exitAborted = 1
	exitPartial = 2
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	purgeFlag := flag.Bool("purge", false, "purge expired staging rows instead of running a load")
	manifestFlag := flag.String("manifest", "", "path to the load manifest (default <source_dir>/manifest.json)")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(exitSuccess)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))

	logger.Info("Starting Loadstone loader",
		slog.String("service", name),
		slog.String("version", version),
	)

	fileConfig, err := pipeline.LoadFileConfigFromEnv()
	if err != nil {
		logger.Error("Failed to load file configuration", slog.String("error", err.Error()))
		os.Exit(exitAborted)
	}

	sourceDir := config.GetEnvStr("SOURCE_DIR", ".")
	if fileConfig.SourceDir != "" {
		sourceDir = fileConfig.SourceDir
	}

	storageConfig := storage.LoadConfig()

	conn, err := storage.Open(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(exitAborted)
	}

	defer func() {
		_ = conn.Close() // Ensure connection closes on normal shutdown
	}()

	logger.Info("Database connection established",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
	)

	stagingConfig := staging.LoadConfig()
	if fileConfig.Retention() > 0 {
		stagingConfig.Retention = fileConfig.Retention()
	}

	store, err := staging.NewStore(conn, stagingConfig, staging.WithLogger(logger))
	if err != nil {
		logger.Error("Failed to create staging store", slog.String("error", err.Error()))

		_ = conn.Close()
		//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
		os.Exit(exitAborted)
	}

	ctx := context.Background()

	if *purgeFlag {
		os.Exit(runPurge(ctx, store, stagingConfig, logger))
	}

	ledgerConfig := ledger.LoadConfig()
	exceptionConfig := exceptions.LoadConfig()

	if fileConfig.ReportDir != "" {
		ledgerConfig.ReportDir = fileConfig.ReportDir
		exceptionConfig.ReportDir = fileConfig.ReportDir
	}

	ledgerSvc, err := ledger.NewService(ledgerConfig, ledger.WithLogger(logger))
	if err != nil {
		logger.Error("Failed to create ledger service", slog.String("error", err.Error()))
		_ = conn.Close()
		os.Exit(exitAborted)
	}

	reporter, err := exceptions.NewReporter(exceptionConfig, exceptions.WithLogger(logger))
	if err != nil {
		logger.Error("Failed to create exception reporter", slog.String("error", err.Error()))
		_ = conn.Close()
		os.Exit(exitAborted)
	}

	manifestPath := *manifestFlag
	if manifestPath == "" {
		manifestPath = filepath.Join(sourceDir, "manifest.json")
	}

	m, err := readManifest(manifestPath)
	if err != nil {
		logger.Error("Failed to read load manifest",
			slog.String("path", manifestPath),
			slog.String("error", err.Error()),
		)

		_ = conn.Close()
		os.Exit(exitAborted)
	}

	p := pipeline.New(
		store,
		loader.NewOrchestrator(conn, loader.WithLogger(logger)),
		ledgerSvc,
		reporter,
		sourceDir,
		pipeline.WithLogger(logger),
	)

	status, err := p.Run(ctx, m)
	if err != nil {
		logger.Error("Load run failed",
			slog.String("load_id", m.LoadID),
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
	}

	_ = conn.Close()
	os.Exit(exitCode(status))
}

// readManifest decodes and validates the manifest at path.
func readManifest(path string) (*manifest.Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = f.Close()
	}()

	return manifest.Decode(f)
}

// runPurge deletes staged rows older than the configured retention.
func runPurge(ctx context.Context, store *staging.Store, cfg *staging.Config, logger *slog.Logger) int {
	deleted, err := store.PurgeOlderThan(ctx, cfg.Retention)
	if err != nil {
		logger.Error("Staging purge failed", slog.String("error", err.Error()))

		return exitAborted
	}

	logger.Info("Staging purge complete",
		slog.Int64("rows_deleted", deleted),
		slog.Duration("retention", cfg.Retention),
	)

	return exitSuccess
}

func exitCode(status loader.Status) int {
	switch status {
	case loader.StatusSuccess:
		return exitSuccess
	case loader.StatusPartial:
		return exitPartial
	default:
		return exitAborted
	}
}
