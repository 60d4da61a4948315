// Package main runs the MACI key vault daemon for one principal. It holds
// the principal's signing keys and master password, serves signing requests
// over NATS and asks a human to approve every key generation and signature.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mesmerverse/maci-keyvault/internal/config"
	"github.com/mesmerverse/maci-keyvault/internal/harden"
)

// Version is set at build time
var Version = "dev"

func main() {
	configPath := flag.String("config", "/etc/keyvault/keyvault.yaml", "Path to configuration file")
	devMode := flag.Bool("dev-mode", false, "Run in development mode (console logs, no hardening)")
	logLevel := flag.String("log-level", "", "Log level (overrides config)")
	principal := flag.String("principal", "", "Principal id (overrides config)")
	natsURL := flag.String("nats-url", "", "NATS server URL (overrides config)")
	httpPort := flag.Int("http-port", 0, "Approval API port (overrides config)")
	lockMemory := flag.Bool("lock-memory", false, "Lock the process in RAM (overrides config)")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if *devMode {
		cfg.DevMode = true
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *principal != "" {
		cfg.Principal.ID = *principal
	}
	if *natsURL != "" {
		cfg.NATS.URL = *natsURL
	}
	if *httpPort != 0 {
		cfg.Approval.HTTPPort = *httpPort
	}
	if *lockMemory {
		cfg.Harden.LockMemory = true
	}

	if cfg.DevMode {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("version", Version).
		Str("config", *configPath).
		Bool("dev_mode", cfg.DevMode).
		Msg("Key vault starting")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	harden.Apply(hardenOptions(cfg))
	if !cfg.DevMode {
		if err := harden.Verify(); err != nil {
			log.Warn().Err(err).Msg("Process hardening incomplete")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	if err := NewDaemon(cfg).Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Key vault error")
	}

	log.Info().Msg("Key vault shutdown complete")
}

func hardenOptions(cfg *config.Config) harden.Options {
	return harden.Options{DevMode: cfg.DevMode, LockMemory: cfg.Harden.LockMemory}
}
