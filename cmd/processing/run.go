package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/romariotrain/vod-pipeline/internal/app"
	"github.com/romariotrain/vod-pipeline/internal/config"
)

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	if cfg.InProcessOnly() {
		return fmt.Errorf("processing service needs shared backends; use WORKER_EMBEDDED in the media service instead")
	}

	backends, err := app.OpenBackends(ctx, cfg, true, logger)
	if err != nil {
		return err
	}
	defer backends.Close()

	pool, sweeper, err := app.NewWorkers(cfg, backends, logger)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(ctx) })
	g.Go(func() error { return sweeper.Run(ctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
