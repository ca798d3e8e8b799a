package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/romariotrain/vod-pipeline/internal/config"
	"github.com/romariotrain/vod-pipeline/internal/media/kafka"
	"github.com/romariotrain/vod-pipeline/internal/media/outbox"
	"github.com/romariotrain/vod-pipeline/internal/storage/postgres"
)

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	if cfg.DB.Backend != config.BackendPostgres {
		return fmt.Errorf("outbox relay requires STORE_BACKEND=postgres, got %q", cfg.DB.Backend)
	}

	db, err := postgres.Connect(ctx, cfg.DB.URL)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer db.Close()

	producer, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.Kafka.Brokers,
		Topic:        cfg.Kafka.EventTopic,
		MaxRetries:   cfg.Kafka.MaxRetries,
		RetryBackoff: cfg.Kafka.RetryBackoff,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("kafka producer: %w", err)
	}
	defer func() {
		m := producer.GetMetrics()
		logger.Info().
			Int64("published", m.MessagesPublished).
			Int64("failed", m.MessagesFailed).
			Int64("retries", m.RetriesTotal).
			Dur("avg_publish_time", m.AvgPublishTime).
			Msg("event producer metrics")
		_ = producer.Close()
	}()

	if err := producer.HealthCheck(ctx); err != nil {
		logger.Warn().Err(err).Msg("kafka not reachable yet, relay will keep retrying")
	}

	relay, err := outbox.NewPublisher(outbox.PublisherConfig{
		Store:     postgres.NewOutboxRepo(db),
		Producer:  producer,
		Interval:  cfg.Outbox.Interval,
		BatchSize: cfg.Outbox.BatchSize,
		Retention: cfg.Outbox.Retention,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
