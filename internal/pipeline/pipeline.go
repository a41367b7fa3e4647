// Package pipeline composes the full load path: manifest-declared CSVs are
// verified and staged, the orchestrator drives them into production, and the
// ledger and exception services persist the run's audit artifacts.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/loadstone-io/loadstone/internal/config"
	"github.com/loadstone-io/loadstone/internal/entity"
	"github.com/loadstone-io/loadstone/internal/exceptions"
	"github.com/loadstone-io/loadstone/internal/ledger"
	"github.com/loadstone-io/loadstone/internal/loader"
	"github.com/loadstone-io/loadstone/internal/manifest"
	"github.com/loadstone-io/loadstone/internal/staging"
)

type (
	// Pipeline runs one load end to end. It is stateless across runs;
	// concurrent Run calls for distinct loads are safe.
	Pipeline struct {
		store        *staging.Store
		orchestrator *loader.Orchestrator
		ledgerSvc    *ledger.Service
		reporter     *exceptions.Reporter
		sourceDir    string
		logger       *slog.Logger
	}

	// Option configures optional Pipeline behavior.
	Option func(*Pipeline)
)

// WithLogger overrides the default JSON logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// New assembles a pipeline from its collaborators. sourceDir is where
// manifest-declared CSV files are read from.
func New(
	store *staging.Store,
	orchestrator *loader.Orchestrator,
	ledgerSvc *ledger.Service,
	reporter *exceptions.Reporter,
	sourceDir string,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		store:        store,
		orchestrator: orchestrator,
		ledgerSvc:    ledgerSvc,
		reporter:     reporter,
		sourceDir:    sourceDir,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Run processes one load: stage, upsert, reconcile, report. The returned
// status is always meaningful, even when err is non-nil; no run finishes
// without a persisted ledger summary.
func (p *Pipeline) Run(ctx context.Context, m *manifest.Manifest) (loader.Status, error) {
	loadID := m.LoadID
	validator := entity.NewValidator()

	headerErrs := make(map[entity.Type][]entity.ValidationError)
	stageErrs := make(map[entity.Type][]string)

	p.logger.Info("load run starting",
		slog.String("load_id", loadID),
		slog.Int("files", len(m.Files)),
	)

	for typ, err := range p.store.CreateAreas(ctx, loadID) {
		if err != nil {
			stageErrs[typ] = append(stageErrs[typ], err.Error())
		}
	}

	for _, f := range m.Files {
		src, err := readSourceFile(p.sourceDir, f, validator)
		if err != nil {
			typ, terr := manifest.EntityType(f.Name)
			if terr != nil {
				return loader.StatusAborted, terr
			}

			stageErrs[typ] = append(stageErrs[typ], err.Error())

			p.logger.Error("source file rejected",
				slog.String("load_id", loadID),
				slog.String("file", f.Name),
				slog.String("error", err.Error()),
			)

			continue
		}

		if len(src.headerErrs) > 0 {
			headerErrs[src.entityType] = append(headerErrs[src.entityType], src.headerErrs...)
		}

		if _, err := p.store.AppendRows(ctx, src.entityType, src.rows, loadID); err != nil {
			stageErrs[src.entityType] = append(stageErrs[src.entityType], err.Error())
		}
	}

	stagingCounts, err := p.store.CountAll(ctx, loadID)
	if err != nil {
		return loader.StatusAborted, fmt.Errorf("count staged rows: %w", err)
	}

	staged := make(map[entity.Type][]entity.Record, len(stagingCounts))

	for typ, count := range stagingCounts {
		if count == 0 {
			continue
		}

		rows, err := p.store.FetchRows(ctx, typ, loadID)
		if err != nil {
			return loader.StatusAborted, fmt.Errorf("fetch staged rows for %s: %w", typ, err)
		}

		staged[typ] = rows
	}

	result, runErr := p.orchestrator.ProcessLoad(ctx, loadID, staged)
	if result == nil {
		return loader.StatusAborted, runErr
	}

	for typ, errs := range headerErrs {
		result.ValidationErrors[typ] = append(errs, result.ValidationErrors[typ]...)
	}

	for typ, errs := range stageErrs {
		result.ProcessingErrors[typ] = append(errs, result.ProcessingErrors[typ]...)
	}

	summary := p.ledgerSvc.Reconcile(loadID, result.Ledger, m.ExpectedCounts(), stagingCounts)

	if _, err := p.ledgerSvc.Persist(summary); err != nil {
		p.logger.Error("failed to persist transfer summary",
			slog.String("load_id", loadID),
			slog.String("error", err.Error()),
		)
	}

	if hasFailures(result) {
		exceptionSummary := p.reporter.Report(loadID, result.Ledger.Outcomes,
			result.ValidationErrors, result.ProcessingErrors)

		if _, err := p.reporter.Persist(exceptionSummary); err != nil {
			p.logger.Error("failed to persist exception reports",
				slog.String("load_id", loadID),
				slog.String("error", err.Error()),
			)
		}
	}

	p.logger.Info("load run finished",
		slog.String("load_id", loadID),
		slog.String("status", string(result.Ledger.Status)),
		slog.Float64("success_rate", summary.SuccessRate),
	)

	return result.Ledger.Status, runErr
}

func hasFailures(result *loader.Result) bool {
	if len(result.ValidationErrors) > 0 || len(result.ProcessingErrors) > 0 {
		return true
	}

	for _, o := range result.Ledger.Outcomes {
		if !o.Success || o.RowsFailed > 0 {
			return true
		}
	}

	return false
}
