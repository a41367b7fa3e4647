package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/loadstone-io/loadstone/internal/manifest"
)

func TestConsumer_DispatchesNotifications(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	kafkaContainer, err := tckafka.Run(ctx,
		"confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("loadstone-test"),
	)
	require.NoError(t, err, "Failed to start kafka container")

	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(kafkaContainer)
	})

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err, "Failed to get broker list")

	const topic = "load-notifications-test"

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		AllowAutoTopicCreation: true,
	}

	t.Cleanup(func() {
		_ = writer.Close()
	})

	valid, err := json.Marshal(Notification{
		LoadID: "load-001",
		Manifest: manifest.Manifest{
			LoadID: "load-001",
			Files: []manifest.File{{
				Name:     "customers.csv",
				Rows:     2,
				Checksum: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
			}},
		},
	})
	require.NoError(t, err)

	// The malformed message must be skipped, not redelivered forever.
	writeCtx, cancelWrite := context.WithTimeout(ctx, time.Minute)
	defer cancelWrite()

	err = writer.WriteMessages(writeCtx,
		kafka.Message{Value: []byte("definitely not a notification")},
		kafka.Message{Value: valid},
	)
	require.NoError(t, err, "Failed to produce test messages")

	received := make(chan *manifest.Manifest, 1)

	consumer, err := NewConsumer(&Config{
		Brokers: brokers,
		Topic:   topic,
		GroupID: "dispatch-test",
	}, func(_ context.Context, m *manifest.Manifest) error {
		received <- m

		return nil
	})
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)

	go func() {
		done <- consumer.Run(runCtx)
	}()

	select {
	case m := <-received:
		assert.Equal(t, "load-001", m.LoadID)

		counts := m.ExpectedCounts()
		assert.Equal(t, 2, counts["customers"])
	case <-time.After(2 * time.Minute):
		t.Fatal("timed out waiting for notification dispatch")
	}

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(30 * time.Second):
		t.Fatal("consumer did not stop after cancellation")
	}
}

func TestConsumer_FailedRunIsRedelivered(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	kafkaContainer, err := tckafka.Run(ctx,
		"confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("loadstone-test-redelivery"),
	)
	require.NoError(t, err, "Failed to start kafka container")

	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(kafkaContainer)
	})

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)

	const topic = "load-notifications-redelivery"

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		AllowAutoTopicCreation: true,
	}

	t.Cleanup(func() {
		_ = writer.Close()
	})

	valid, err := json.Marshal(Notification{
		LoadID: "load-002",
		Manifest: manifest.Manifest{
			LoadID: "load-002",
			Files: []manifest.File{{
				Name:     "suppliers.csv",
				Rows:     1,
				Checksum: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
			}},
		},
	})
	require.NoError(t, err)

	writeCtx, cancelWrite := context.WithTimeout(ctx, time.Minute)
	defer cancelWrite()

	require.NoError(t, writer.WriteMessages(writeCtx, kafka.Message{Value: valid}))

	attempts := make(chan string, 4)

	// First run fails and leaves the offset uncommitted. The consumer is
	// restarted to force a group rebalance and redelivery.
	failing, err := NewConsumer(&Config{
		Brokers: brokers,
		Topic:   topic,
		GroupID: "redelivery-test",
	}, func(_ context.Context, m *manifest.Manifest) error {
		attempts <- m.LoadID

		return fmt.Errorf("transient failure")
	})
	require.NoError(t, err)

	runCtx1, cancel1 := context.WithCancel(ctx)
	go func() { _ = failing.Run(runCtx1) }()

	select {
	case loadID := <-attempts:
		assert.Equal(t, "load-002", loadID)
	case <-time.After(2 * time.Minute):
		cancel1()
		t.Fatal("timed out waiting for first delivery")
	}

	cancel1()
	require.NoError(t, failing.Close())

	succeeding, err := NewConsumer(&Config{
		Brokers: brokers,
		Topic:   topic,
		GroupID: "redelivery-test",
	}, func(_ context.Context, m *manifest.Manifest) error {
		attempts <- m.LoadID

		return nil
	})
	require.NoError(t, err)

	runCtx2, cancel2 := context.WithCancel(ctx)
	defer cancel2()

	go func() { _ = succeeding.Run(runCtx2) }()

	select {
	case loadID := <-attempts:
		assert.Equal(t, "load-002", loadID, "uncommitted message must be redelivered")
	case <-time.After(2 * time.Minute):
		t.Fatal("timed out waiting for redelivery")
	}
}
