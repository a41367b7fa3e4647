package exceptions

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loadstone-io/loadstone/internal/entity"
	"github.com/loadstone-io/loadstone/internal/loader"
)

func newTestReporter(t *testing.T) *Reporter {
	t.Helper()

	r, err := NewReporter(&Config{ReportDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewReporter() error = %v", err)
	}

	return r
}

func TestReport_CleanLoadHasNoFailures(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	r := newTestReporter(t)

	outcomes := []loader.Outcome{
		{EntityType: entity.TypeCustomers, RowsProcessed: 3, RowsInserted: 3, Success: true},
	}

	summary := r.Report("load-001", outcomes, nil, nil)

	if summary.FailedEntities != 0 {
		t.Errorf("FailedEntities = %d, want 0", summary.FailedEntities)
	}

	if summary.OverallSuccessRate != 100.0 {
		t.Errorf("OverallSuccessRate = %v, want 100.0", summary.OverallSuccessRate)
	}

	if len(summary.CriticalErrors) != 0 {
		t.Errorf("CriticalErrors = %v, want none", summary.CriticalErrors)
	}
}

func TestReport_RemediationIsFixedPerCategory(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	r := newTestReporter(t)

	outcomes := []loader.Outcome{
		{EntityType: entity.TypeCustomers, RowsProcessed: 5, RowsInserted: 2, RowsFailed: 3, Success: true},
	}

	vErrs := map[entity.Type][]entity.ValidationError{
		entity.TypeCustomers: {
			{RowNumber: 1, FieldName: "zip_code", Category: entity.CategoryInvalidFormat, Severity: entity.SeverityError},
			{RowNumber: 2, FieldName: "zip_code", Category: entity.CategoryInvalidFormat, Severity: entity.SeverityError},
			{RowNumber: 3, FieldName: "year", Category: entity.CategoryTypeMismatch, Severity: entity.SeverityError},
		},
	}

	summary := r.Report("load-001", outcomes, vErrs, nil)
	report := summary.EntityReports[0]

	// One recommendation per category present, regardless of error count.
	if len(report.Recommendations) != 2 {
		t.Fatalf("Recommendations = %v, want exactly 2", report.Recommendations)
	}

	again := r.Report("load-001", outcomes, vErrs, nil)
	for i, rec := range again.EntityReports[0].Recommendations {
		if rec != report.Recommendations[i] {
			t.Errorf("remediation text not deterministic: %q vs %q", rec, report.Recommendations[i])
		}
	}
}

func TestReport_CriticalDigest(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	r := newTestReporter(t)

	tests := []struct {
		name     string
		outcomes []loader.Outcome
		vErrs    map[entity.Type][]entity.ValidationError
		procErrs map[entity.Type][]string
		want     int
	}{
		{
			name: "critical field error escalates",
			outcomes: []loader.Outcome{
				{EntityType: entity.TypeCustomers, RowsProcessed: 2, RowsInserted: 1, RowsFailed: 1, Success: true},
			},
			vErrs: map[entity.Type][]entity.ValidationError{
				entity.TypeCustomers: {{
					RowNumber: 1, FieldName: "external_customer_id",
					Category: entity.CategoryRequiredFieldMissing, Severity: entity.SeverityError,
				}},
			},
			want: 1,
		},
		{
			name: "non-critical field error does not escalate",
			outcomes: []loader.Outcome{
				{EntityType: entity.TypeCustomers, RowsProcessed: 2, RowsInserted: 1, RowsFailed: 1, Success: true},
			},
			vErrs: map[entity.Type][]entity.ValidationError{
				entity.TypeCustomers: {{
					RowNumber: 1, FieldName: "street_address2",
					Category: entity.CategoryInvalidFormat, Severity: entity.SeverityError,
				}},
			},
			want: 0,
		},
		{
			name: "sub-50 percent rate escalates",
			outcomes: []loader.Outcome{
				{EntityType: entity.TypeSuppliers, RowsProcessed: 10, RowsInserted: 4, RowsFailed: 6, Success: true},
			},
			want: 1,
		},
		{
			name: "processing error escalates",
			outcomes: []loader.Outcome{
				{EntityType: entity.TypeSuppliers, RowsProcessed: 1, RowsInserted: 1, Success: true},
			},
			procErrs: map[entity.Type][]string{
				entity.TypeSuppliers: {"commit suppliers: connection reset"},
			},
			want: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			summary := r.Report("load-001", tt.outcomes, tt.vErrs, tt.procErrs)
			if len(summary.CriticalErrors) != tt.want {
				t.Errorf("CriticalErrors = %v, want %d entries", summary.CriticalErrors, tt.want)
			}
		})
	}
}

func TestReport_EntityRateFormula(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	r := newTestReporter(t)

	outcomes := []loader.Outcome{
		{EntityType: entity.TypeCustomers, RowsProcessed: 4, RowsInserted: 2, RowsUpdated: 1, RowsFailed: 1, Success: true},
		{EntityType: entity.TypePayments, Success: true}, // empty batch
	}

	summary := r.Report("load-001", outcomes, nil, nil)

	if got := summary.EntityReports[0].SuccessRate; got != 75.0 {
		t.Errorf("customers SuccessRate = %v, want 75.0", got)
	}

	if got := summary.EntityReports[1].SuccessRate; got != 100.0 {
		t.Errorf("empty payments SuccessRate = %v, want 100.0", got)
	}

	if summary.FailedEntities != 1 {
		t.Errorf("FailedEntities = %d, want 1", summary.FailedEntities)
	}
}

func TestPersist_WritesJSONAndPerEntityCSV(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	dir := t.TempDir()

	r, err := NewReporter(&Config{ReportDir: dir})
	if err != nil {
		t.Fatalf("NewReporter() error = %v", err)
	}

	outcomes := []loader.Outcome{
		{EntityType: entity.TypeCustomers, RowsProcessed: 2, RowsInserted: 1, RowsFailed: 1, Success: true},
	}

	vErrs := map[entity.Type][]entity.ValidationError{
		entity.TypeCustomers: {{
			RowNumber: 2, FieldName: "zip_code", Value: "not-a-zip",
			Category: entity.CategoryInvalidFormat, Message: "zip code must be 5 digits",
			Severity: entity.SeverityError,
		}},
	}

	summary := r.Report("load-001", outcomes, vErrs, nil)

	path, err := r.Persist(summary)
	if err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	if !strings.HasPrefix(filepath.Base(path), "exceptions_load-001_") {
		t.Errorf("summary filename = %s, want exceptions_<loadID>_<ts>.json", filepath.Base(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	var decoded Summary
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("persisted summary is not valid JSON: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "exceptions_customers_load-001_*.csv"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("per-entity csv glob = %v (err %v), want one file", matches, err)
	}

	f, err := os.Open(matches[0])
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("csv read error = %v", err)
	}

	if len(rows) != 2 {
		t.Fatalf("csv rows = %d, want header plus one error", len(rows))
	}

	if rows[1][1] != "zip_code" || rows[1][2] != "not-a-zip" {
		t.Errorf("csv error row = %v", rows[1])
	}
}
