package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

type Runner func(ctx context.Context) error

// shutdownGrace bounds how long a runner may take to return after a signal.
var shutdownGrace = 30 * time.Second

func Run(serviceName string, logger zerolog.Logger, run Runner) int {
	logger.Info().Msgf("%s starting", serviceName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return wait(ctx, serviceName, logger, run)
}

func wait(ctx context.Context, serviceName string, logger zerolog.Logger, run Runner) int {
	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx) }()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		logger.Info().Msgf("%s shutting down", serviceName)
		select {
		case err = <-errCh:
		case <-time.After(shutdownGrace):
			logger.Error().Dur("grace", shutdownGrace).Msgf("%s did not stop in time", serviceName)
			return 1
		}
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msgf("%s failed", serviceName)
		return 1
	}
	logger.Info().Msgf("%s stopped", serviceName)
	return 0
}
