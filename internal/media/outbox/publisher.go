package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/romariotrain/vod-pipeline/internal/media/kafka"
	"github.com/romariotrain/vod-pipeline/internal/storage/postgres"
)

type Store interface {
	GetPending(ctx context.Context, limit int) ([]postgres.OutboxRecord, error)
	MarkProcessed(ctx context.Context, id int64) error
	DeleteProcessed(ctx context.Context, before time.Time) (int64, error)
}

type EventProducer interface {
	PublishMessage(ctx context.Context, msg kafka.Message) error
}

// Publisher relays content status events from the outbox table to Kafka.
// Delivery is at-least-once; consumers must tolerate duplicates.
type Publisher struct {
	store     Store
	producer  EventProducer
	interval  time.Duration
	batchSize int
	retention time.Duration
	clock     func() time.Time
	logger    zerolog.Logger
}

type PublisherConfig struct {
	Store     Store
	Producer  EventProducer
	Interval  time.Duration
	BatchSize int
	// Retention enables pruning of relayed events older than this. Zero keeps them.
	Retention time.Duration
	Logger    zerolog.Logger
}

func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("outbox store is required")
	}
	if cfg.Producer == nil {
		return nil, fmt.Errorf("kafka producer is required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got: %v", cfg.Interval)
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got: %d", cfg.BatchSize)
	}
	if cfg.Retention < 0 {
		return nil, fmt.Errorf("retention must not be negative, got: %v", cfg.Retention)
	}

	return &Publisher{
		store:     cfg.Store,
		producer:  cfg.Producer,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		retention: cfg.Retention,
		clock:     time.Now,
		logger:    cfg.Logger.With().Str("component", "outbox_publisher").Logger(),
	}, nil
}

// Start polls the outbox until ctx is cancelled. A failed batch is logged and
// retried on the next tick.
func (p *Publisher) Start(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var prune <-chan time.Time
	if p.retention > 0 {
		pruneTicker := time.NewTicker(min(p.retention, time.Hour))
		defer pruneTicker.Stop()
		prune = pruneTicker.C
	}

	p.logger.Info().
		Dur("interval", p.interval).
		Int("batch_size", p.batchSize).
		Dur("retention", p.retention).
		Msg("outbox publisher started")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Err(ctx.Err()).Msg("outbox publisher stopped")
			return ctx.Err()

		case <-ticker.C:
			if _, err := p.PublishBatch(ctx); err != nil {
				p.logger.Error().Err(err).Msg("failed to publish batch")
			}

		case <-prune:
			if err := p.prune(ctx); err != nil {
				p.logger.Warn().Err(err).Msg("failed to prune outbox")
			}
		}
	}
}

type BatchResult struct {
	Total     int
	Published int
	Failed    int
	Marked    int
}

// PublishBatch relays one batch of pending events.
func (p *Publisher) PublishBatch(ctx context.Context) (BatchResult, error) {
	var res BatchResult

	records, err := p.store.GetPending(ctx, p.batchSize)
	if err != nil {
		return res, fmt.Errorf("get pending records: %w", err)
	}
	res.Total = len(records)
	if len(records) == 0 {
		p.logger.Debug().Msg("no pending events to publish")
		return res, nil
	}

	for _, record := range records {
		eventLogger := p.logger.With().
			Str("event_id", record.EventID).
			Str("event_type", record.EventType).
			Str("aggregate_id", record.AggregateID).
			Int64("outbox_id", record.ID).
			Logger()

		// Keyed by content id so one item's transitions stay ordered within a partition.
		msg := kafka.Message{
			Key:   record.AggregateID,
			Value: record.Payload,
			Headers: map[string]string{
				"event_id":   record.EventID,
				"event_type": record.EventType,
			},
		}
		if err := p.producer.PublishMessage(ctx, msg); err != nil {
			eventLogger.Error().Err(err).Msg("failed to publish event to kafka")
			res.Failed++
			// Stop here to keep per-aggregate order; the rest goes out next tick.
			break
		}
		res.Published++

		if err := p.store.MarkProcessed(ctx, record.ID); err != nil {
			// Republished on the next tick.
			eventLogger.Warn().Err(err).Msg("failed to mark event as processed")
			continue
		}
		res.Marked++
	}

	p.logger.Info().
		Int("total", res.Total).
		Int("published", res.Published).
		Int("failed", res.Failed).
		Int("marked", res.Marked).
		Msg("batch processing completed")

	return res, nil
}

func (p *Publisher) prune(ctx context.Context) error {
	n, err := p.store.DeleteProcessed(ctx, p.clock().Add(-p.retention))
	if err != nil {
		return err
	}
	if n > 0 {
		p.logger.Info().Int64("deleted", n).Msg("pruned relayed outbox events")
	}
	return nil
}
