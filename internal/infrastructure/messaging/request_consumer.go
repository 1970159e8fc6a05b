package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	domain "github.com/mohammadpnp/suggestion-import/internal/domain/suggestion"
	"github.com/segmentio/kafka-go"
)

// MessageReader is the subset of *kafka.Reader used by the consumer.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	io.Closer
}

func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 1 << 20,
		MaxWait:  time.Second,
	})
}

// ImportRequest asks for one file to be imported. JobID is optional.
type ImportRequest struct {
	JobID      string `json:"jobId,omitempty"`
	SourcePath string `json:"sourcePath"`
	GroupID    string `json:"groupId"`
	BatchSize  int    `json:"batchSize,omitempty"`
}

var (
	ErrInvalidRequest = errors.New("invalid import request")

	errStopped = errors.New("consumer stopped")
)

func DecodeImportRequest(value []byte) (ImportRequest, error) {
	var req ImportRequest
	if err := json.Unmarshal(value, &req); err != nil {
		return ImportRequest{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	req.SourcePath = strings.TrimSpace(req.SourcePath)
	req.GroupID = strings.TrimSpace(req.GroupID)
	if req.SourcePath == "" || req.GroupID == "" {
		return ImportRequest{}, fmt.Errorf("%w: sourcePath and groupId are required", ErrInvalidRequest)
	}
	return req, nil
}

// RequestHandler submits a decoded request. Returning an error wrapping
// domain.ErrUnavailable stops the consumer without committing the message.
type RequestHandler func(ctx context.Context, req ImportRequest) error

// ImportRequestConsumer pulls import requests from Kafka and commits each
// offset after its request has been handed over.
type ImportRequestConsumer struct {
	reader  MessageReader
	handle  RequestHandler
	logger  *slog.Logger
	backoff time.Duration
}

func NewImportRequestConsumer(reader MessageReader, handle RequestHandler, logger *slog.Logger) *ImportRequestConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImportRequestConsumer{reader: reader, handle: handle, logger: logger, backoff: 500 * time.Millisecond}
}

// Run consumes until ctx is cancelled or the reader is closed.
func (c *ImportRequestConsumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			if temporary(err) {
				c.logger.Warn("temporary kafka fetch error", slog.Any("error", err))
				if !sleepWithContext(ctx, c.backoff) {
					return nil
				}
				continue
			}
			return fmt.Errorf("fetch import request: %w", err)
		}

		if err := c.process(ctx, msg); err != nil {
			if errors.Is(err, errStopped) {
				c.logger.Info("import request consumer stopping, message left uncommitted", slog.Int64("offset", msg.Offset))
				return nil
			}
			return err
		}
	}
}

func (c *ImportRequestConsumer) process(ctx context.Context, msg kafka.Message) error {
	logger := c.logger.With(
		slog.String("topic", msg.Topic),
		slog.Int("partition", msg.Partition),
		slog.Int64("offset", msg.Offset))

	req, err := DecodeImportRequest(msg.Value)
	if err != nil {
		logger.Warn("dropping malformed import request", slog.Any("error", err))
	} else if err := c.handle(ctx, req); err != nil {
		if errors.Is(err, domain.ErrUnavailable) || ctx.Err() != nil {
			return errStopped
		}
		logger.Error("import request rejected",
			slog.String("group_id", req.GroupID),
			slog.String("source_path", req.SourcePath),
			slog.Any("error", err))
	}

	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("commit import request: %w", err)
	}
	return nil
}

func (c *ImportRequestConsumer) Close() error {
	return c.reader.Close()
}

func temporary(err error) bool {
	if errors.Is(err, kafka.RebalanceInProgress) {
		return true
	}
	var kerr kafka.Error
	return errors.As(err, &kerr) && kerr.Temporary()
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
