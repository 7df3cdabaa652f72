// Package main is the entry point for notero-sync, a one-way reverse sync
// service that mirrors a Notion page's relevant properties and "Zotero
// Notes" sections onto the Zotero item it is linked to.
package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mfromano/notero-sync/internal/cli"
)

// Version information set by build flags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "notero-sync").Logger()

	if env("ENV", "") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	if level, err := zerolog.ParseLevel(env("LOG_LEVEL", "info")); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		log.Warn().Str("log_level", os.Getenv("LOG_LEVEL")).Msg("invalid LOG_LEVEL, defaulting to info")
	}

	cli.SetVersion(version, commit, date)
	if err := cli.Execute(); err != nil {
		log.Error().Err(err).Msg("fatal error")
		os.Exit(1)
	}
}
