// Package ledger reconciles the three independent row counts of a load (the
// manifest's declared counts, the rows landed in staging, and the rows
// committed to production) into a durable transfer summary.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/loadstone-io/loadstone/internal/config"
	"github.com/loadstone-io/loadstone/internal/entity"
	"github.com/loadstone-io/loadstone/internal/loader"
)

// ErrSummaryExists is returned when a summary file for the same load and
// timestamp is already on disk. Summaries are immutable once written.
var ErrSummaryExists = errors.New("transfer summary already persisted")

type (
	// EntityTransfer is the reconciled view of one entity type.
	EntityTransfer struct {
		EntityType    entity.Type `json:"entity_type"`
		ExpectedRows  int         `json:"expected_rows"`
		StagedRows    int         `json:"staged_rows"`
		ProcessedRows int         `json:"processed_rows"`
		InsertedRows  int         `json:"inserted_rows"`
		UpdatedRows   int         `json:"updated_rows"`
		FailedRows    int         `json:"failed_rows"`
		Warnings      []string    `json:"warnings,omitempty"`
	}

	// TransferSummary is the persisted, load-wide reconciliation document.
	TransferSummary struct {
		SummaryID      string           `json:"summary_id"`
		LoadID         string           `json:"load_id"`
		GeneratedAt    time.Time        `json:"generated_at"`
		Status         loader.Status    `json:"status"`
		Entities       []EntityTransfer `json:"entities"`
		TotalExpected  int              `json:"total_expected_rows"`
		TotalProcessed int              `json:"total_processed_rows"`
		SuccessRate    float64          `json:"success_rate"`
		Ledger         *loader.Ledger   `json:"ledger"`
	}

	// Service reconciles counts and persists summaries.
	Service struct {
		cfg    *Config
		logger *slog.Logger
	}

	// ServiceOption configures optional Service behavior.
	ServiceOption func(*Service)
)

// WithLogger overrides the default JSON logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates a ledger service. Returns an error when the
// configuration is invalid.
func NewService(cfg *Config, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		cfg = LoadConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		cfg: cfg,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Reconcile maps the manifest-declared counts against staging and the
// ledger's committed counts for every entity type, attaching a warning for
// each mismatch. The load-wide success rate is processed/expected*100, with
// a declared-empty load counting as fully successful.
func (s *Service) Reconcile(
	loadID string,
	l *loader.Ledger,
	manifestCounts map[entity.Type]int,
	stagingCounts map[entity.Type]int,
) *TransferSummary {
	summary := &TransferSummary{
		SummaryID:   uuid.NewString(),
		LoadID:      loadID,
		GeneratedAt: time.Now().UTC(),
		Status:      l.Status,
		Ledger:      l,
	}

	for _, typ := range entity.Types() {
		et := EntityTransfer{
			EntityType:   typ,
			ExpectedRows: manifestCounts[typ],
			StagedRows:   stagingCounts[typ],
		}

		if outcome, ok := l.Outcome(typ); ok {
			et.ProcessedRows = outcome.RowsProcessed
			et.InsertedRows = outcome.RowsInserted
			et.UpdatedRows = outcome.RowsUpdated
			et.FailedRows = outcome.RowsFailed
		}

		if et.ExpectedRows != et.StagedRows {
			et.Warnings = append(et.Warnings, fmt.Sprintf(
				"manifest declares %d rows but %d were staged", et.ExpectedRows, et.StagedRows))
		}

		if et.StagedRows != et.ProcessedRows {
			et.Warnings = append(et.Warnings, fmt.Sprintf(
				"%d rows staged but %d were processed", et.StagedRows, et.ProcessedRows))
		}

		summary.TotalExpected += et.ExpectedRows
		summary.TotalProcessed += et.ProcessedRows
		summary.Entities = append(summary.Entities, et)
	}

	summary.SuccessRate = SuccessRate(summary.TotalProcessed, summary.TotalExpected)

	s.logger.Info("load reconciled",
		slog.String("load_id", loadID),
		slog.Int("expected", summary.TotalExpected),
		slog.Int("processed", summary.TotalProcessed),
		slog.Float64("success_rate", summary.SuccessRate),
	)

	return summary
}

// SuccessRate computes processed/expected*100. An expectation of zero rows
// that was met is fully successful.
func SuccessRate(processed, expected int) float64 {
	if expected == 0 {
		return 100.0
	}

	return float64(processed) / float64(expected) * 100.0
}

// Persist writes the summary to the report directory exactly once and
// returns the file path. The file is created exclusively; a second attempt
// for the same load and timestamp fails with ErrSummaryExists.
func (s *Service) Persist(summary *TransferSummary) (string, error) {
	if err := os.MkdirAll(s.cfg.ReportDir, 0o755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}

	name := fmt.Sprintf("ledger_%s_%s.json",
		summary.LoadID, summary.GeneratedAt.Format("20060102_150405"))
	path := filepath.Join(s.cfg.ReportDir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrSummaryExists, path)
		}

		return "", fmt.Errorf("create summary file: %w", err)
	}

	defer func() {
		_ = f.Close()
	}()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")

	if err := enc.Encode(summary); err != nil {
		return "", fmt.Errorf("encode summary: %w", err)
	}

	s.logger.Info("transfer summary persisted",
		slog.String("load_id", summary.LoadID),
		slog.String("path", path),
	)

	return path, nil
}

// FieldCompleteness profiles staged rows for one entity type: the fraction
// of non-null values per schema field. Diagnostic only, independent of the
// ledger.
func FieldCompleteness(d *entity.Descriptor, rows []entity.Record) map[string]float64 {
	profile := make(map[string]float64, len(d.Schema))

	if len(rows) == 0 {
		for _, f := range d.Schema {
			profile[f.Name] = 0
		}

		return profile
	}

	for _, f := range d.Schema {
		present := 0

		for _, row := range rows {
			if v, ok := row[f.Name]; ok && v != nil {
				present++
			}
		}

		profile[f.Name] = float64(present) / float64(len(rows))
	}

	return profile
}
