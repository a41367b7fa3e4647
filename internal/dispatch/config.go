package dispatch

import (
	"errors"

	"github.com/loadstone-io/loadstone/internal/config"
)

// Defaults for the load notification topic.
const (
	defaultTopic   = "load-notifications"
	defaultGroupID = "loadstone-dispatcher"
)

// Sentinel errors for dispatch configuration.
var (
	ErrNoBrokers  = errors.New("kafka brokers cannot be empty")
	ErrTopicEmpty = errors.New("kafka topic cannot be empty")
	ErrGroupEmpty = errors.New("kafka consumer group cannot be empty")
)

// Config holds the Kafka consumer configuration.
type Config struct {
	// Brokers is the bootstrap broker list.
	Brokers []string

	// Topic carries one load notification per message.
	Topic string

	// GroupID is the consumer group; one group member owns a notification
	// at a time, so loads are not double-processed.
	GroupID string
}

// LoadConfig loads dispatcher configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		Brokers: config.ParseCommaSeparatedList(config.GetEnvStr("KAFKA_BROKERS", "localhost:9092")),
		Topic:   config.GetEnvStr("KAFKA_TOPIC", defaultTopic),
		GroupID: config.GetEnvStr("KAFKA_GROUP_ID", defaultGroupID),
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return ErrNoBrokers
	}

	if c.Topic == "" {
		return ErrTopicEmpty
	}

	if c.GroupID == "" {
		return ErrGroupEmpty
	}

	return nil
}
