// migrate applies the embedded schema migrations: go run ./cmd/migrate -direction up|down|version.
package main

import (
	"errors"
	"flag"

	"github.com/sirupsen/logrus"

	"trade-identity/internal/config"
	"trade-identity/internal/db/migrate"
	"trade-identity/internal/logging"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up, down, or version to print the current version")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	if cfg.DatabaseURL == "" {
		log.Fatal(migrate.ErrNoDSN.Error() + "; create a .env or set DATABASE_URL")
	}

	if *direction == "version" {
		version, dirty, err := migrate.Version(cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("migrate: version")
		}
		log.WithFields(logrus.Fields{"version": version, "dirty": dirty}).Info("migrate: current version")
		return
	}

	dir, err := migrate.ParseDirection(*direction)
	if err != nil {
		log.WithError(err).Fatal("migrate")
	}
	if err := migrate.Run(cfg.DatabaseURL, dir); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.WithField("direction", dir).Info("migrate: no change")
			return
		}
		log.WithError(err).Fatal("migrate")
	}
	log.WithField("direction", dir).Info("migrate: done")
}
