package main

import (
	"flag"
	"os"

	"CapTrack/internal/di"
	"CapTrack/pkg/config"

	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	log.Info().
		Str("env", cfg.Environment).
		Str("backend", cfg.Backend.Type).
		Strs("brokers", cfg.Kafka.Brokers).
		Msg("starting")

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("app initialization failed")
	}

	if err := app.Run(); err != nil {
		log.Error().Err(err).Msg("app exited with error")
		os.Exit(1)
	}
}
