package main

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"

	"github.com/romariotrain/vod-pipeline/internal/app"
	"github.com/romariotrain/vod-pipeline/internal/config"
	"github.com/romariotrain/vod-pipeline/internal/media/service"
)

type commandContext struct {
	envFile *string
	verbose *bool

	cfg      *config.Config
	backends *app.Backends
	logger   zerolog.Logger
}

func newCommandContext(envFile *string, verbose *bool) *commandContext {
	return &commandContext{envFile: envFile, verbose: verbose, logger: zerolog.Nop()}
}

func (c *commandContext) ensureConfig(stderr io.Writer) (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}

	var files []string
	if *c.envFile != "" {
		files = append(files, *c.envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return nil, err
	}
	if cfg.InProcessOnly() {
		return nil, errors.New("mediactl needs shared backends; memory backends only live inside a running service")
	}

	level := zerolog.WarnLevel
	if *c.verbose {
		level = zerolog.DebugLevel
	}
	c.logger = zerolog.New(zerolog.ConsoleWriter{Out: stderr}).Level(level).With().Timestamp().Logger()
	c.cfg = cfg
	return cfg, nil
}

// withBackends opens publish-only backends for the duration of fn.
func (c *commandContext) withBackends(ctx context.Context, stderr io.Writer, fn func(*app.Backends) error) error {
	cfg, err := c.ensureConfig(stderr)
	if err != nil {
		return err
	}
	b, err := app.OpenBackends(ctx, cfg, false, c.logger)
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(b)
}

func (c *commandContext) withService(ctx context.Context, stderr io.Writer, fn func(*service.Service) error) error {
	return c.withBackends(ctx, stderr, func(b *app.Backends) error {
		return fn(service.New(b.Content, b.Store, b.Queue, service.Config{
			StoreRetry: app.StoreRetry(),
			Logger:     c.logger,
		}))
	})
}
