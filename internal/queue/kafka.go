package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaOptions configures a KafkaQueue.
type KafkaOptions struct {
	Brokers string
	Topic   string
	GroupID string
}

// KafkaQueue publishes jobs as JSON to a topic and consumes them through a
// consumer group, so several worker processes share the load.
type KafkaQueue struct {
	writer *kafka.Writer
	reader *kafka.Reader
}

// NewKafkaQueue creates a Kafka-backed queue. Brokers is comma separated.
func NewKafkaQueue(opts KafkaOptions) (*KafkaQueue, error) {
	if opts.Brokers == "" {
		return nil, errors.New("kafka queue: brokers not configured")
	}
	if opts.Topic == "" {
		opts.Topic = "sentinel.jobs"
	}
	if opts.GroupID == "" {
		opts.GroupID = "sentinel-workers"
	}
	brokers := strings.Split(opts.Brokers, ",")
	return &KafkaQueue{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        opts.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    opts.Topic,
			GroupID:  opts.GroupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
	}, nil
}

// Enqueue writes the job keyed by campaign so one campaign's jobs stay on
// one partition.
func (q *KafkaQueue) Enqueue(ctx context.Context, job Job) error {
	value, err := encodeJob(job)
	if err != nil {
		return err
	}
	key := job.CampaignID
	if key == "" {
		key = job.ID
	}
	if err := q.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value, Time: job.EnqueuedAt}); err != nil {
		return fmt.Errorf("kafka enqueue: %w", err)
	}
	return nil
}

// Consume reads jobs and commits each after its handler returns. Undecodable
// messages are logged and committed.
func (q *KafkaQueue) Consume(ctx context.Context, h Handler) error {
	for {
		msg, err := q.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			slog.Warn("KafkaQueue: fetch error", "error", err)
			continue
		}
		job, err := decodeJob(msg.Value)
		if err != nil {
			slog.Warn("KafkaQueue: dropping message", "offset", msg.Offset, "partition", msg.Partition, "error", err)
		} else if err := h(ctx, job); err != nil {
			slog.Warn("Job failed", "id", job.ID, "kind", job.Kind, "error", err)
		}
		if err := q.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			slog.Warn("KafkaQueue: commit failed", "offset", msg.Offset, "error", err)
		}
	}
}

// Close flushes the writer and leaves the consumer group.
func (q *KafkaQueue) Close() error {
	werr := q.writer.Close()
	rerr := q.reader.Close()
	return errors.Join(werr, rerr)
}
