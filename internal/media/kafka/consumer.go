package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
)

type ConsumerConfig struct {
	Brokers  []string
	Topic    string
	GroupID  string
	MinBytes int
	MaxBytes int
	MaxWait  time.Duration
	Logger   zerolog.Logger
}

// Consumer reads a topic as part of a consumer group with explicit commits,
// so a message is redelivered unless it is committed.
type Consumer struct {
	reader *kafkago.Reader
	closed atomic.Bool
	logger zerolog.Logger
}

func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("brokers list is empty")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is empty")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("group id is empty")
	}
	if cfg.MinBytes == 0 {
		cfg.MinBytes = 1
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 10 << 20
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = time.Second
	}

	return &Consumer{
		reader: kafkago.NewReader(kafkago.ReaderConfig{
			Brokers:        cfg.Brokers,
			Topic:          cfg.Topic,
			GroupID:        cfg.GroupID,
			MinBytes:       cfg.MinBytes,
			MaxBytes:       cfg.MaxBytes,
			MaxWait:        cfg.MaxWait,
			CommitInterval: 0,
			StartOffset:    kafkago.FirstOffset,
		}),
		logger: cfg.Logger.With().Str("component", "kafka_consumer").Str("topic", cfg.Topic).Logger(),
	}, nil
}

func (c *Consumer) Fetch(ctx context.Context) (Message, kafkago.Message, error) {
	if c.closed.Load() {
		return Message{}, kafkago.Message{}, errors.New("consumer is closed")
	}
	km, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return Message{}, kafkago.Message{}, fmt.Errorf("kafka fetch: %w", err)
	}
	msg := Message{Key: string(km.Key), Value: km.Value}
	if len(km.Headers) > 0 {
		msg.Headers = make(map[string]string, len(km.Headers))
		for _, h := range km.Headers {
			msg.Headers[h.Key] = string(h.Value)
		}
	}
	return msg, km, nil
}

func (c *Consumer) Commit(ctx context.Context, km kafkago.Message) error {
	if err := c.reader.CommitMessages(ctx, km); err != nil {
		return fmt.Errorf("kafka commit: %w", err)
	}
	return nil
}

func (c *Consumer) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return errors.New("consumer already closed")
	}
	return c.reader.Close()
}
