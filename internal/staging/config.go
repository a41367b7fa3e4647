package staging

import (
	"errors"
	"time"

	"github.com/loadstone-io/loadstone/internal/config"
)

const (
	// DefaultRetention is how long staged rows are kept before purge.
	DefaultRetention = 90 * 24 * time.Hour

	defaultPurgeBatchSize  = 10000
	defaultPurgeRatePerSec = 10
)

var (
	// ErrInvalidRetention is returned when a non-positive retention period is provided.
	ErrInvalidRetention = errors.New("retention period must be greater than zero")

	// ErrInvalidPurgeBatchSize is returned when a non-positive purge batch size is configured.
	ErrInvalidPurgeBatchSize = errors.New("purge batch size must be greater than zero")

	// ErrInvalidPurgeRate is returned when a non-positive purge rate is configured.
	// A zero rate would let the limiter hand out its single burst token and
	// then block every later batch indefinitely.
	ErrInvalidPurgeRate = errors.New("purge rate per second must be greater than zero")
)

// Config holds staging store tuning knobs.
type Config struct {
	// Retention is the default age cutoff for PurgeOlderThan.
	Retention time.Duration

	// PurgeBatchSize bounds the number of rows deleted per statement so the
	// purge never holds a lock across more than one delete.
	PurgeBatchSize int

	// PurgeRatePerSec throttles delete statements so a purge running next to
	// active loads cannot monopolize the staging tables.
	PurgeRatePerSec int
}

// LoadConfig loads staging configuration from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		Retention:       config.GetEnvDuration("STAGING_RETENTION", DefaultRetention),
		PurgeBatchSize:  config.GetEnvInt("STAGING_PURGE_BATCH_SIZE", defaultPurgeBatchSize),
		PurgeRatePerSec: config.GetEnvInt("STAGING_PURGE_RATE_PER_SEC", defaultPurgeRatePerSec),
	}
}

// Validate checks the staging configuration.
func (c *Config) Validate() error {
	if c.Retention <= 0 {
		return ErrInvalidRetention
	}

	if c.PurgeBatchSize <= 0 {
		return ErrInvalidPurgeBatchSize
	}

	if c.PurgeRatePerSec <= 0 {
		return ErrInvalidPurgeRate
	}

	return nil
}
