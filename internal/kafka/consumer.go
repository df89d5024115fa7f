package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"chillerhub/internal/logger"
	"chillerhub/internal/metrics"
	"chillerhub/internal/models"
)

// Handler receives every decoded alert envelope.
type Handler func(env *models.AlertEnvelope)

// messageReader is the subset of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerConfig configures an AlertConsumer.
type ConsumerConfig struct {
	Brokers     []string
	Topic       string
	GroupID     string
	PollTimeout time.Duration
}

// AlertConsumer reads alert envelopes and hands them to a Handler. Each
// node uses its own group so every node sees every alert.
type AlertConsumer struct {
	cfg     ConsumerConfig
	reader  messageReader
	handler Handler
}

// NewAlertConsumer creates a consumer that starts at the newest offset.
func NewAlertConsumer(cfg ConsumerConfig, handler Handler) (*AlertConsumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("topic is required")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, errors.New("consumer group is required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return newAlertConsumer(cfg, reader, handler)
}

func newAlertConsumer(cfg ConsumerConfig, reader messageReader, handler Handler) (*AlertConsumer, error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	return &AlertConsumer{cfg: cfg, reader: reader, handler: handler}, nil
}

// GroupID returns the per-node consumer group for prefix.
func GroupID(prefix, node string) string {
	return prefix + "-" + node
}

// Run consumes until ctx ends or the reader is closed.
func (c *AlertConsumer) Run(ctx context.Context) error {
	log := logger.WithComponent("kafka_consumer")
	log.Info().
		Str("topic", c.cfg.Topic).
		Str("group", c.cfg.GroupID).
		Strs("brokers", c.cfg.Brokers).
		Msg("alert consumer started")
	defer log.Info().Msg("alert consumer stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
		msg, err := c.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			switch {
			case errors.Is(err, context.DeadlineExceeded):
				continue
			case errors.Is(err, context.Canceled):
				if ctx.Err() != nil {
					return nil
				}
				continue
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrClosedPipe), errors.Is(err, kafka.ErrGroupClosed):
				return nil
			}
			metrics.KafkaConsumedTotal.WithLabelValues("failed").Inc()
			log.Error().Err(err).Msg("fetch alert message")
			continue
		}

		var env models.AlertEnvelope
		if err := json.Unmarshal(msg.Value, &env); err != nil || env.Event == nil {
			metrics.KafkaConsumedTotal.WithLabelValues("malformed").Inc()
			log.Warn().
				Err(err).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("skipping malformed alert envelope")
		} else {
			metrics.KafkaConsumedTotal.WithLabelValues("delivered").Inc()
			c.handler(&env)
		}

		commitCtx, commitCancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
		if err := c.reader.CommitMessages(commitCtx, msg); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Int64("offset", msg.Offset).Msg("commit alert offset")
		}
		commitCancel()
	}
}

// Close closes the underlying reader.
func (c *AlertConsumer) Close() error {
	return c.reader.Close()
}
