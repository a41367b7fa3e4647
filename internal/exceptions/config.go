package exceptions

import (
	"errors"

	"github.com/loadstone-io/loadstone/internal/config"
)

// defaultReportDir is where exception artifacts land when
// EXCEPTION_REPORT_DIR is unset.
const defaultReportDir = "reports"

// ErrReportDirEmpty is returned when the report directory is not configured.
var ErrReportDirEmpty = errors.New("exception report directory cannot be empty")

// Config holds exception reporter configuration.
type Config struct {
	// ReportDir is the directory exception summaries and per-entity CSVs are
	// written to.
	ReportDir string
}

// LoadConfig loads reporter configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		ReportDir: config.GetEnvStr("EXCEPTION_REPORT_DIR", defaultReportDir),
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.ReportDir == "" {
		return ErrReportDirEmpty
	}

	return nil
}
