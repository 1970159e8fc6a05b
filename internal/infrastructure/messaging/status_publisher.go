package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	domain "github.com/mohammadpnp/suggestion-import/internal/domain/suggestion"
	"github.com/segmentio/kafka-go"
)

const DefaultStatusTopic = "match-import.status"

// MessageWriter is the subset of *kafka.Writer used for publishing.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	if topic == "" {
		topic = DefaultStatusTopic
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// KafkaStatusPublisher sends one message per finished job, keyed by job id so
// all events of a job land on one partition.
type KafkaStatusPublisher struct {
	writer      MessageWriter
	logger      *slog.Logger
	interval    time.Duration
	maxInterval time.Duration
}

func NewKafkaStatusPublisher(writer MessageWriter, logger *slog.Logger) *KafkaStatusPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaStatusPublisher{
		writer:      writer,
		logger:      logger,
		interval:    100 * time.Millisecond,
		maxInterval: 5 * time.Second,
	}
}

var _ domain.StatusPublisher = (*KafkaStatusPublisher)(nil)

func (p *KafkaStatusPublisher) Publish(ctx context.Context, event domain.StatusEvent) error {
	if event.SuccessList == nil {
		event.SuccessList = []string{}
	}
	if event.FailedList == nil {
		event.FailedList = []string{}
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode status event: %w", err)
	}
	return p.writeWithBackoff(ctx, kafka.Message{
		Key:   []byte(event.JobID),
		Value: body,
		Time:  time.Now().UTC(),
	})
}

// writeWithBackoff retries temporary broker errors, doubling the wait up to
// maxInterval, until ctx is done.
func (p *KafkaStatusPublisher) writeWithBackoff(ctx context.Context, messages ...kafka.Message) error {
	interval := p.interval
	tries := 0
	for {
		tries++
		err := p.writer.WriteMessages(ctx, messages...)
		if err == nil {
			return nil
		}

		var kerr kafka.Error
		var werrs kafka.WriteErrors
		switch {
		case errors.As(err, &werrs):
			var remaining []kafka.Message
			for i, m := range messages {
				if i >= len(werrs) || werrs[i] == nil {
					continue
				}
				var merr kafka.Error
				if !errors.As(werrs[i], &merr) || !merr.Temporary() {
					return fmt.Errorf("deliver status event: %w", werrs[i])
				}
				remaining = append(remaining, m)
			}
			messages = remaining
			if len(messages) == 0 {
				return nil
			}
		case errors.As(err, &kerr) && kerr.Temporary():
		default:
			return fmt.Errorf("deliver status event after %d tries: %w", tries, err)
		}

		p.logger.Warn("temporary kafka write error", slog.Int("tries", tries), slog.Any("error", err))

		timer := time.NewTimer(interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("deliver status event after %d tries: %w", tries, errors.Join(err, ctx.Err()))
		}
		interval *= 2
		if interval > p.maxInterval {
			interval = p.maxInterval
		}
	}
}

func (p *KafkaStatusPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher writes events to the log. It stands in when no broker is
// configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, event domain.StatusEvent) error {
	p.logger.Info("import status",
		slog.String("job_id", event.JobID),
		slog.String("group_id", event.GroupID),
		slog.String("status", string(event.Status)),
		slog.Int64("processed", event.Processed),
		slog.Int64("total", event.Total))
	return nil
}

func (p *LogPublisher) Close() error { return nil }
