// Package dispatch is the pipeline's front door: a Kafka consumer that turns
// load notification messages into pipeline runs.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/loadstone-io/loadstone/internal/config"
	"github.com/loadstone-io/loadstone/internal/manifest"
)

type (
	// Notification is one load announcement: the manifest travels inline so
	// the dispatcher needs no side channel to start a run.
	Notification struct {
		LoadID   string            `json:"load_id"`
		Manifest manifest.Manifest `json:"manifest"`
	}

	// LoadRunner executes one load end to end. An error means the message is
	// not committed and will be redelivered.
	LoadRunner func(ctx context.Context, m *manifest.Manifest) error

	// Consumer reads load notifications and hands them to a LoadRunner,
	// committing offsets only after the run returns. Malformed messages are
	// logged, committed, and skipped so they cannot poison the partition.
	Consumer struct {
		reader *kafka.Reader
		runner LoadRunner
		logger *slog.Logger
	}

	// ConsumerOption configures optional Consumer behavior.
	ConsumerOption func(*Consumer)
)

// WithLogger overrides the default JSON logger.
func WithLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// NewConsumer creates a dispatcher consumer. Returns an error when the
// configuration is invalid.
func NewConsumer(cfg *Config, runner LoadRunner, opts ...ConsumerOption) (*Consumer, error) {
	if cfg == nil {
		cfg = LoadConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1e3,
			MaxBytes: 10e6,
		}),
		runner: runner,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Run enters the consume loop until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("dispatcher started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("dispatcher stopping", slog.String("reason", ctx.Err().Error()))

				return c.reader.Close()
			}

			c.logger.Error("failed to fetch message", slog.String("error", err.Error()))

			continue
		}

		runID := uuid.NewString()

		n, err := decodeNotification(msg.Value)
		if err != nil {
			// A bad payload never becomes good on redelivery.
			c.logger.Error("malformed load notification, skipping",
				slog.String("run_id", runID),
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()),
			)

			c.commit(ctx, msg)

			continue
		}

		c.logger.Info("load notification received",
			slog.String("run_id", runID),
			slog.String("load_id", n.LoadID),
			slog.Int("files", len(n.Manifest.Files)),
		)

		if err := c.runner(ctx, &n.Manifest); err != nil {
			c.logger.Error("load run failed, leaving message uncommitted",
				slog.String("run_id", runID),
				slog.String("load_id", n.LoadID),
				slog.String("error", err.Error()),
			)

			continue
		}

		c.commit(ctx, msg)
	}
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.logger.Error("failed to commit message",
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)
	}
}

func decodeNotification(value []byte) (*Notification, error) {
	var n Notification

	if err := json.Unmarshal(value, &n); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}

	if n.LoadID == "" {
		n.LoadID = n.Manifest.LoadID
	}

	if err := n.Manifest.Validate(); err != nil {
		return nil, err
	}

	if n.LoadID != n.Manifest.LoadID {
		return nil, fmt.Errorf("notification load_id %q does not match manifest load_id %q",
			n.LoadID, n.Manifest.LoadID)
	}

	return &n, nil
}
