package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/romariotrain/vod-pipeline/internal/media/models"
	"github.com/romariotrain/vod-pipeline/internal/media/queue"
	"github.com/romariotrain/vod-pipeline/internal/media/repository"
)

const stalledMessage = "processing stalled"

type SweeperConfig struct {
	Interval    time.Duration
	StaleAfter  time.Duration
	MaxAttempts int
	BatchSize   int
	Logger      zerolog.Logger
}

// Sweeper fails PROCESSING items whose lease has not been refreshed within
// StaleAfter and requeues them while attempts remain.
type Sweeper struct {
	repo      repository.ContentRepository
	publisher queue.Publisher
	cfg       SweeperConfig
	clock     func() time.Time
	logger    zerolog.Logger
}

type SweepResult struct {
	Failed   int
	Requeued int
}

func NewSweeper(repo repository.ContentRepository, publisher queue.Publisher, cfg SweeperConfig) (*Sweeper, error) {
	if repo == nil || publisher == nil {
		return nil, fmt.Errorf("sweeper dependencies are required: %w", models.ErrInvalidArgument)
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got: %v", cfg.Interval)
	}
	if cfg.StaleAfter <= 0 {
		return nil, fmt.Errorf("stale after must be positive, got: %v", cfg.StaleAfter)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Sweeper{
		repo:      repo,
		publisher: publisher,
		cfg:       cfg,
		clock:     time.Now,
		logger:    cfg.Logger.With().Str("component", "stale_sweeper").Logger(),
	}, nil
}

func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info().
		Dur("interval", s.cfg.Interval).
		Dur("stale_after", s.cfg.StaleAfter).
		Msg("stale sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Err(ctx.Err()).Msg("stale sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}

// SweepOnce handles one batch of stale items.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	now := s.clock()
	items, err := s.repo.ListStale(ctx, models.ProcessingStatus, now.Add(-s.cfg.StaleAfter), s.cfg.BatchSize)
	if err != nil {
		return res, fmt.Errorf("list stale: %w", err)
	}

	var errs []error
	for _, item := range items {
		log := s.logger.With().
			Str("content_id", item.ID.String()).
			Int("attempts", item.Attempts).
			Time("updated_at", item.UpdatedAt).
			Logger()

		msg := stalledMessage
		failed, err := s.repo.CompareAndSwap(ctx, item.ID, item.Token(), models.Update{
			Status:    models.FailedStatus,
			LastError: &msg,
		})
		if errors.Is(err, models.ErrConflict) {
			log.Debug().Msg("item moved since listing, skipping")
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("fail %s: %w", item.ID, err))
			continue
		}
		res.Failed++

		if failed.Attempts >= s.cfg.MaxAttempts {
			log.Warn().Msg("stalled item failed permanently")
			continue
		}
		job := models.NewTranscodeJob(failed.ID, failed.Attempts, now)
		if err := s.publisher.Publish(ctx, job); err != nil {
			errs = append(errs, fmt.Errorf("requeue %s: %w", item.ID, err))
			continue
		}
		res.Requeued++
		log.Warn().Msg("stalled item requeued")
	}

	if res.Failed > 0 {
		s.logger.Info().Int("failed", res.Failed).Int("requeued", res.Requeued).Msg("sweep completed")
	}
	return res, errors.Join(errs...)
}
