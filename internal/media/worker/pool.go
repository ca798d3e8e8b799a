package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/romariotrain/vod-pipeline/internal/media/queue"
)

type Handler interface {
	Handle(ctx context.Context, d queue.Delivery) error
}

type PoolConfig struct {
	Workers int
	// ConsumeBackoff is the pause after a failed Consume call.
	ConsumeBackoff time.Duration
	Logger         zerolog.Logger
}

// Pool runs Workers goroutines pulling from one consumer. Workers coordinate
// only through the per-item claim.
type Pool struct {
	consumer queue.Consumer
	handler  Handler
	workers  int
	backoff  time.Duration
	logger   zerolog.Logger
}

func NewPool(consumer queue.Consumer, handler Handler, cfg PoolConfig) (*Pool, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("workers must be positive, got: %d", cfg.Workers)
	}
	if cfg.ConsumeBackoff <= 0 {
		cfg.ConsumeBackoff = time.Second
	}
	return &Pool{
		consumer: consumer,
		handler:  handler,
		workers:  cfg.Workers,
		backoff:  cfg.ConsumeBackoff,
		logger:   cfg.Logger.With().Str("component", "worker_pool").Logger(),
	}, nil
}

// Run blocks until ctx is cancelled or the queue is closed.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info().Int("workers", p.workers).Msg("worker pool started")

	g, gctx := errgroup.WithContext(ctx)
	for i := range p.workers {
		g.Go(func() error { return p.loop(gctx, i) })
	}

	err := g.Wait()
	p.logger.Info().Err(err).Msg("worker pool stopped")
	if errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrClosed) {
		return nil
	}
	return err
}

func (p *Pool) loop(ctx context.Context, id int) error {
	log := p.logger.With().Int("worker", id).Logger()
	for {
		d, err := p.consumer.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, queue.ErrClosed) {
				return err
			}
			log.Error().Err(err).Dur("backoff", p.backoff).Msg("consume failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.backoff):
			}
			continue
		}

		if err := p.handler.Handle(ctx, d); err != nil && ctx.Err() == nil {
			log.Debug().Err(err).Str("content_id", d.Job().ContentID.String()).Msg("job finished with error")
		}
	}
}
