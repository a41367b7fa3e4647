package ledger

import (
	"errors"

	"github.com/loadstone-io/loadstone/internal/config"
)

// defaultReportDir is where summaries land when REPORT_DIR is unset.
const defaultReportDir = "reports"

// ErrReportDirEmpty is returned when the report directory is not configured.
var ErrReportDirEmpty = errors.New("report directory cannot be empty")

// Config holds ledger service configuration.
type Config struct {
	// ReportDir is the directory transfer summaries are persisted to.
	ReportDir string
}

// LoadConfig loads ledger configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		ReportDir: config.GetEnvStr("REPORT_DIR", defaultReportDir),
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.ReportDir == "" {
		return ErrReportDirEmpty
	}

	return nil
}
