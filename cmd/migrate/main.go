package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/psicoconnect/server-go/internal/database"
)

type migrateConfig struct {
	DatabaseURL string `env:"DATABASE_URL,required"`
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "usage: migrate [-steps n] up|down|version\n")
	flag.PrintDefaults()
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	steps := flag.Int("steps", 1, "number of migrations to roll back with down")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatal().Err(err).Msg("failed to load .env")
	}
	var cfg migrateConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatal().Err(err).Msg("failed to parse config")
	}

	switch flag.Arg(0) {
	case "up":
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			log.Fatal().Err(err).Msg("migrate up failed")
		}

	case "down":
		if err := database.RollbackMigrations(cfg.DatabaseURL, *steps); err != nil {
			log.Fatal().Err(err).Msg("migrate down failed")
		}
		log.Info().Int("steps", *steps).Msg("migrations rolled back")

	case "version":
		m, err := database.NewMigrator(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open migrator")
		}
		defer m.Close()

		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Info().Msg("no migrations applied")
			return
		}
		if err != nil {
			log.Fatal().Err(err).Msg("failed to read schema version")
		}
		log.Info().Uint("version", version).Bool("dirty", dirty).Msg("schema version")

	default:
		usage()
		os.Exit(2)
	}
}
