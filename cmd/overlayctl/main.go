package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/overlayctl/internal/config"
	"github.com/danmuck/overlayctl/internal/logging"
	"github.com/danmuck/overlayctl/internal/server"
	"github.com/danmuck/overlayctl/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config (defaults apply when empty)")
	flag.Parse()

	logging.ConfigureRuntime()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	st := store.New(cfg.DefaultTTL())
	srv := server.New(cfg, st)
	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Msg("start server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		log.Info().Msg("signal received, shutting down")
		if err := srv.Stop(); err != nil {
			log.Error().Err(err).Msg("stop server")
		}
		<-srv.Done()
	case <-srv.Done():
		// Stopped by an exit command.
	}
}
