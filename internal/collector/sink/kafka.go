// Package sink forwards accepted batches to downstream systems.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"neurotravel/internal/collector/models"
	"neurotravel/pkg/platform/sentinel"
	"neurotravel/pkg/telemetry"
)

const (
	// HeaderReceivedAt carries the collector receive time in RFC 3339 form.
	HeaderReceivedAt = "receivedAt"
	// HeaderStream names the telemetry stream of the record.
	HeaderStream = "stream"

	defaultRetentionMs = "604800000" // 7d
)

// Kafka publishes every record of a batch to a per-stream topic, keyed by
// session ID so one session's records stay ordered within a partition.
type Kafka struct {
	client *kgo.Client
	admin  *kadm.Client
	prefix string
	logger *slog.Logger
}

type KafkaOption func(*Kafka)

func WithKafkaLogger(logger *slog.Logger) KafkaOption {
	return func(k *Kafka) {
		k.logger = logger
	}
}

// NewKafka connects a producer to brokers. Topics are named
// "<topicPrefix>.<stream>".
func NewKafka(brokers []string, topicPrefix string, opts ...KafkaOption) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka sink: no brokers: %w", sentinel.ErrInvalidState)
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(5*time.Millisecond),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka sink: create client: %w", err)
	}
	k := &Kafka{
		client: client,
		admin:  kadm.NewClient(client),
		prefix: topicPrefix,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k, nil
}

func (k *Kafka) Name() string { return "kafka" }

// Topic returns the topic records of stream are published to.
func (k *Kafka) Topic(stream telemetry.Stream) string {
	return topicName(k.prefix, stream)
}

// EnsureTopics creates one topic per stream. Existing topics are left alone.
func (k *Kafka) EnsureTopics(ctx context.Context, partitions int32, replication int16) error {
	topics := make([]string, 0, len(telemetry.Streams()))
	for _, stream := range telemetry.Streams() {
		topics = append(topics, k.Topic(stream))
	}
	retention := defaultRetentionMs
	resp, err := k.admin.CreateTopics(ctx, partitions, replication,
		map[string]*string{"retention.ms": &retention}, topics...)
	if err != nil {
		return errors.Join(sentinel.ErrUnavailable, fmt.Errorf("create topics: %w", err))
	}
	var errs []error
	for _, r := range resp.Sorted() {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			errs = append(errs, fmt.Errorf("create topic %s: %w", r.Topic, r.Err))
			continue
		}
		k.logger.Info("kafka topic ensured", "topic", r.Topic, "partitions", partitions)
	}
	return errors.Join(errs...)
}

// Write publishes the batch and waits for every record to be acknowledged.
func (k *Kafka) Write(ctx context.Context, batch *models.Batch) error {
	records, err := buildRecords(k.prefix, batch)
	if err != nil {
		return err
	}
	if err := k.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return errors.Join(sentinel.ErrUnavailable, fmt.Errorf("produce %s batch: %w", batch.Stream, err))
	}
	return nil
}

// Ping checks that at least one broker is reachable.
func (k *Kafka) Ping(ctx context.Context) error {
	if err := k.client.Ping(ctx); err != nil {
		return errors.Join(sentinel.ErrUnavailable, err)
	}
	return nil
}

// Close flushes buffered records and closes the client.
func (k *Kafka) Close() {
	k.client.Close()
}

func topicName(prefix string, stream telemetry.Stream) string {
	if prefix == "" {
		return string(stream)
	}
	return prefix + "." + string(stream)
}

func buildRecords(prefix string, batch *models.Batch) ([]*kgo.Record, error) {
	topic := topicName(prefix, batch.Stream)
	headers := []kgo.RecordHeader{
		{Key: HeaderReceivedAt, Value: []byte(batch.ReceivedAt.Format(time.RFC3339Nano))},
		{Key: HeaderStream, Value: []byte(batch.Stream)},
	}

	records := make([]*kgo.Record, 0, batch.Len())
	add := func(sessionID string, v any) error {
		value, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s record %d: %w", batch.Stream, len(records), err)
		}
		if sessionID == "" {
			sessionID = batch.SessionID
		}
		records = append(records, &kgo.Record{
			Topic:   topic,
			Key:     []byte(sessionID),
			Value:   value,
			Headers: headers,
		})
		return nil
	}

	var err error
	switch batch.Stream {
	case telemetry.StreamAnalytics:
		for _, e := range batch.Events {
			if err = add(e.SessionID, e); err != nil {
				return nil, err
			}
		}
	case telemetry.StreamErrors:
		for _, e := range batch.Errors {
			if err = add(e.SessionID, e); err != nil {
				return nil, err
			}
		}
	case telemetry.StreamPerformance:
		for _, m := range batch.Metrics {
			if err = add(m.SessionID, m); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("kafka sink: stream %q: %w", batch.Stream, sentinel.ErrInvalidState)
	}
	return records, nil
}

