package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gear6io/annolake/cli"
	"github.com/rs/zerolog"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(zerolog.WarnLevel).
		With().
		Timestamp().
		Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := cli.ExecuteWithContext(ctx)
	stop()
	if err != nil {
		logger.Error().Str("cmd", "main").Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
