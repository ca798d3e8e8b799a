package main

import (
	"context"
	"fmt"
	"os"

	"github.com/romariotrain/vod-pipeline/internal/app"
	"github.com/romariotrain/vod-pipeline/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := app.NewLogger("processing", cfg.Log)

	code := app.Run("processing", logger, func(ctx context.Context) error {
		return run(ctx, cfg, logger)
	})
	os.Exit(code)
}
