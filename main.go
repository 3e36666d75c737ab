package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"telegram-story-bot/internal/bot"
	"telegram-story-bot/internal/config"
	"telegram-story-bot/internal/logging"
)

func main() {
	logging.Init()

	cfg, err := config.Load()
	if err != nil {
		logging.Log.Fatal().Err(err).Msg("config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bot.Run(ctx, cfg); err != nil {
		logging.Log.Error().Err(err).Msg("bot stopped")
		stop()
		os.Exit(1)
	}
	logging.Log.Info().Msg("bye")
}
