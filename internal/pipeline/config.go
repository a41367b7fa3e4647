package pipeline

import (
	"errors"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/loadstone-io/loadstone/internal/config"
)

// DefaultConfigPath is the default location of the pipeline configuration
// file.
const DefaultConfigPath = "loadstone.yaml"

// ConfigPathEnvVar points at an alternative configuration file.
const ConfigPathEnvVar = "LOADSTONE_CONFIG_PATH"

// FileConfig holds pipeline settings loaded from loadstone.yaml. Every field
// is optional; unset fields fall back to environment variables and package
// defaults.
type FileConfig struct {
	// SourceDir is the directory holding the manifest and its CSV files.
	SourceDir string `yaml:"source_dir"`

	// ReportDir overrides where ledger and exception artifacts are written.
	ReportDir string `yaml:"report_dir"`

	// StagingRetentionDays overrides how long staged rows are kept.
	StagingRetentionDays int `yaml:"staging_retention_days"`
}

// Retention converts StagingRetentionDays to a duration. Zero means the
// file does not override retention.
func (c *FileConfig) Retention() time.Duration {
	return time.Duration(c.StagingRetentionDays) * 24 * time.Hour
}

// LoadFileConfig loads pipeline configuration from a YAML file.
//
// Behavior:
//   - Returns empty config (not error) if the file does not exist - the file
//     is optional
//   - Returns empty config + logs warning if the YAML is invalid (graceful
//     degradation)
//   - Returns populated config on success
func LoadFileConfig(path string) (*FileConfig, error) {
	cfg := &FileConfig{}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("Config file not found, continuing with environment defaults",
				slog.String("path", path))

			return cfg, nil
		}

		slog.Warn("Failed to read config file, continuing with environment defaults",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return cfg, nil
	}

	if len(data) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		slog.Warn("Failed to parse config file, continuing with environment defaults",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return &FileConfig{}, nil
	}

	return cfg, nil
}

// LoadFileConfigFromEnv loads config from the path in LOADSTONE_CONFIG_PATH,
// falling back to loadstone.yaml in the current directory.
func LoadFileConfigFromEnv() (*FileConfig, error) {
	path := config.GetEnvStr(ConfigPathEnvVar, DefaultConfigPath)

	return LoadFileConfig(path)
}
