package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"guildbot/internal/bot"
	"guildbot/internal/config"
	"guildbot/internal/logging"
	"guildbot/internal/version"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.New()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log := logging.Setup(cfg.LogDir, cfg.Debug)
	log.Info().
		Str("version", version.Version).
		Str("built", version.BuildDate).
		Msgf("starting %s", version.AppName)

	b, err := bot.New(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("init failed")
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := b.Run(ctx); err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("shutting down")
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("bot error")
			cancel()
			os.Exit(1)
		}
	}

	log.Info().Msg("exited cleanly")
}
