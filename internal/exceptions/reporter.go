// Package exceptions converts row-level validation failures and processing
// errors into per-entity exception reports and a load-wide critical digest,
// persisted as JSON plus one CSV per entity type.
package exceptions

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/loadstone-io/loadstone/internal/config"
	"github.com/loadstone-io/loadstone/internal/entity"
	"github.com/loadstone-io/loadstone/internal/ledger"
	"github.com/loadstone-io/loadstone/internal/loader"
)

// criticalRateThreshold is the entity success rate below which the entity is
// escalated to the critical digest.
const criticalRateThreshold = 50.0

// Fixed remediation text per validation category. One string per category
// present, independent of how many errors fall into it.
var remediations = map[string]string{
	entity.CategoryRequiredFieldMissing: "Review the data source for missing required fields",
	entity.CategoryInvalidFormat:        "Validate field formats in the source extract before processing",
	entity.CategoryConstraintViolation:  "Check business rules and value constraints in the source system",
	entity.CategoryTypeMismatch:         "Verify source column types match the expected schema",
	entity.CategoryMissingHeader:        "Ensure the source file carries every schema column header",
	entity.CategoryExtraHeader:          "Remove columns that are not part of the schema from the source file",
}

// remediationProcessing covers free-text processing errors, which have no
// validation category.
const remediationProcessing = "Review processing errors and re-run the load after correcting the source"

type (
	// EntityReport is the exception view of one entity type.
	EntityReport struct {
		EntityType       entity.Type              `json:"entity_type"`
		LoadID           string                   `json:"load_id"`
		TotalRecords     int                      `json:"total_records"`
		FailedRecords    int                      `json:"failed_records"`
		SuccessRate      float64                  `json:"success_rate"`
		ValidationErrors []entity.ValidationError `json:"validation_errors"`
		ProcessingErrors []string                 `json:"processing_errors"`
		Recommendations  []string                 `json:"recommendations"`
	}

	// Summary is the persisted, load-wide exception document.
	Summary struct {
		LoadID             string         `json:"load_id"`
		GeneratedAt        time.Time      `json:"generated_at"`
		TotalEntities      int            `json:"total_entities"`
		FailedEntities     int            `json:"failed_entities"`
		OverallSuccessRate float64        `json:"overall_success_rate"`
		EntityReports      []EntityReport `json:"entity_reports"`
		CriticalErrors     []string       `json:"critical_errors"`
	}

	// Reporter builds and persists exception summaries.
	Reporter struct {
		cfg    *Config
		logger *slog.Logger
	}

	// ReporterOption configures optional Reporter behavior.
	ReporterOption func(*Reporter)
)

// WithLogger overrides the default JSON logger.
func WithLogger(logger *slog.Logger) ReporterOption {
	return func(r *Reporter) {
		r.logger = logger
	}
}

// NewReporter creates an exception reporter. Returns an error when the
// configuration is invalid.
func NewReporter(cfg *Config, opts ...ReporterOption) (*Reporter, error) {
	if cfg == nil {
		cfg = LoadConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Reporter{
		cfg: cfg,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Report classifies the load's failures into per-entity reports and a
// critical digest. One report per ledger outcome; entity types never
// attempted carry no report.
func (r *Reporter) Report(
	loadID string,
	outcomes []loader.Outcome,
	validationErrors map[entity.Type][]entity.ValidationError,
	processingErrors map[entity.Type][]string,
) *Summary {
	summary := &Summary{
		LoadID:      loadID,
		GeneratedAt: time.Now().UTC(),
	}

	var rateSum float64

	for _, outcome := range outcomes {
		report := r.buildEntityReport(loadID, outcome,
			validationErrors[outcome.EntityType], processingErrors[outcome.EntityType])

		summary.EntityReports = append(summary.EntityReports, report)
		summary.CriticalErrors = append(summary.CriticalErrors, criticalErrors(report)...)

		rateSum += report.SuccessRate

		if report.SuccessRate < 100.0 {
			summary.FailedEntities++
		}
	}

	summary.TotalEntities = len(summary.EntityReports)

	if summary.TotalEntities > 0 {
		summary.OverallSuccessRate = rateSum / float64(summary.TotalEntities)
	} else {
		summary.OverallSuccessRate = 100.0
	}

	r.logger.Info("exception summary generated",
		slog.String("load_id", loadID),
		slog.Int("entities", summary.TotalEntities),
		slog.Int("failed_entities", summary.FailedEntities),
		slog.Int("critical_errors", len(summary.CriticalErrors)),
	)

	return summary
}

func (r *Reporter) buildEntityReport(
	loadID string,
	outcome loader.Outcome,
	vErrs []entity.ValidationError,
	procErrs []string,
) EntityReport {
	report := EntityReport{
		EntityType:       outcome.EntityType,
		LoadID:           loadID,
		TotalRecords:     outcome.RowsProcessed,
		FailedRecords:    outcome.RowsFailed,
		SuccessRate:      entityRate(outcome),
		ValidationErrors: vErrs,
		ProcessingErrors: procErrs,
	}

	seen := make(map[string]bool)

	for _, e := range vErrs {
		if seen[e.Category] {
			continue
		}

		seen[e.Category] = true

		if text, ok := remediations[e.Category]; ok {
			report.Recommendations = append(report.Recommendations, text)
		}
	}

	if len(procErrs) > 0 {
		report.Recommendations = append(report.Recommendations, remediationProcessing)
	}

	return report
}

// entityRate applies the ledger's success rate formula scoped to one entity:
// successfully written rows over attempted rows, with an empty batch fully
// successful.
func entityRate(o loader.Outcome) float64 {
	return ledger.SuccessRate(o.RowsInserted+o.RowsUpdated, o.RowsProcessed)
}

// criticalErrors escalates an entity report into the load-wide digest when a
// critical field failed validation, the success rate fell below 50%, or any
// processing error exists.
func criticalErrors(report EntityReport) []string {
	var critical []string

	criticalFields := make(map[string]bool)

	if d, err := entity.Lookup(report.EntityType); err == nil {
		for _, f := range d.CriticalFields {
			criticalFields[f] = true
		}
	}

	for _, e := range report.ValidationErrors {
		if criticalFields[e.FieldName] && e.Severity == entity.SeverityError {
			critical = append(critical, fmt.Sprintf(
				"%s: critical field %q error - %s", report.EntityType, e.FieldName, e.Message))
		}
	}

	if report.SuccessRate < criticalRateThreshold {
		critical = append(critical, fmt.Sprintf(
			"%s: high failure rate (%.1f%%)", report.EntityType, report.SuccessRate))
	}

	if len(report.ProcessingErrors) > 0 {
		critical = append(critical, fmt.Sprintf(
			"%s: %d processing errors", report.EntityType, len(report.ProcessingErrors)))
	}

	return critical
}

// Persist writes the JSON summary plus one CSV per entity report listing
// every validation error. Returns the summary file path.
func (r *Reporter) Persist(summary *Summary) (string, error) {
	if err := os.MkdirAll(r.cfg.ReportDir, 0o755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}

	ts := summary.GeneratedAt.Format("20060102_150405")

	path := filepath.Join(r.cfg.ReportDir,
		fmt.Sprintf("exceptions_%s_%s.json", summary.LoadID, ts))

	f, err := os.Create(path)
	if err != nil {
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

	for _, report := range summary.EntityReports {
		if err := r.persistEntityCSV(report, ts); err != nil {
			return "", err
		}
	}

	r.logger.Info("exception reports persisted",
		slog.String("load_id", summary.LoadID),
		slog.String("path", path),
	)

	return path, nil
}

func (r *Reporter) persistEntityCSV(report EntityReport, ts string) error {
	path := filepath.Join(r.cfg.ReportDir,
		fmt.Sprintf("exceptions_%s_%s_%s.csv", report.EntityType, report.LoadID, ts))

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create entity csv: %w", err)
	}

	defer func() {
		_ = f.Close()
	}()

	w := csv.NewWriter(f)

	header := []string{"Row Number", "Field Name", "Field Value", "Error Type", "Error Message", "Severity"}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, e := range report.ValidationErrors {
		row := []string{
			strconv.Itoa(e.RowNumber),
			e.FieldName,
			fmt.Sprintf("%v", e.Value),
			e.Category,
			e.Message,
			e.Severity,
		}

		if err := w.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	w.Flush()

	return w.Error()
}
