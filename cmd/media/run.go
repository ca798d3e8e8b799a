package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/romariotrain/vod-pipeline/internal/app"
	"github.com/romariotrain/vod-pipeline/internal/config"
	"github.com/romariotrain/vod-pipeline/internal/media/delivery"
	"github.com/romariotrain/vod-pipeline/internal/media/httpapi"
	"github.com/romariotrain/vod-pipeline/internal/media/service"
	"github.com/romariotrain/vod-pipeline/internal/media/worker"
)

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	// Only an embedded worker pool consumes jobs from this process.
	backends, err := app.OpenBackends(ctx, cfg, cfg.Worker.Embedded, logger)
	if err != nil {
		return err
	}
	defer backends.Close()

	svc := service.New(backends.Content, backends.Store, backends.Queue, service.Config{
		StoreRetry: app.StoreRetry(),
		Logger:     logger,
	})
	stream := delivery.New(backends.Content, backends.Store, delivery.Config{
		StoreRetry: app.StoreRetry(),
		Views:      backends.Views,
		Logger:     logger,
	})
	router := httpapi.NewRouter(httpapi.New(svc, stream, logger))

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}

	var (
		pool    *worker.Pool
		sweeper *worker.Sweeper
	)
	if cfg.Worker.Embedded {
		if pool, sweeper, err = app.NewWorkers(cfg, backends, logger); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen and serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return svc.RunRequeue(ctx)
	})

	if cfg.Worker.Embedded {
		logger.Warn().Msg("worker pool embedded in the http process")
		g.Go(func() error { return pool.Run(ctx) })
		g.Go(func() error { return sweeper.Run(ctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
