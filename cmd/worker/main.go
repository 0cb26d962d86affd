// Worker runs background jobs: pruning the rate-limit attempt log on PRUNE_SCHEDULE and, when
// AUDIT_KAFKA_BROKERS and LOKI_URL are set, forwarding the audit topic to Loki.
// The prune job needs DELETE on rate_limit_attempts, so DATABASE_URL should be the migration owner.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"trade-identity/internal/config"
	"trade-identity/internal/db"
	"trade-identity/internal/logging"
	"trade-identity/internal/ratelimit"
	"trade-identity/internal/telemetry"
	"trade-identity/internal/telemetry/loki"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var pruner ratelimit.Pruner
	switch cfg.RateLimitBackend {
	case "redis":
		store, client, err := ratelimit.DialRedis(ctx, cfg.RedisURL, cfg.AttemptRetentionDuration())
		if err != nil {
			log.WithError(err).Fatal("worker: redis")
		}
		defer client.Close()
		pruner = store
	default:
		if cfg.DatabaseURL == "" {
			log.Fatal("worker: DATABASE_URL is required")
		}
		conn, err := db.Open(cfg.DatabaseURL, cfg.DBTimeoutDuration())
		if err != nil {
			log.WithError(err).Fatal("worker: db")
		}
		defer conn.Close()
		pruner = ratelimit.NewPostgresStore(conn, cfg.DBTimeoutDuration())
	}

	retention := cfg.AttemptRetentionDuration()
	if w := cfg.RateLimitWindowDuration(); retention < w {
		retention = w
	}
	c := cron.New()
	if _, err := c.AddJob(cfg.PruneSchedule, ratelimit.NewPruneJob(pruner, retention, log)); err != nil {
		log.WithError(err).WithField("schedule", cfg.PruneSchedule).Fatal("worker: schedule prune job")
	}
	c.Start()
	log.WithFields(logrus.Fields{"schedule": cfg.PruneSchedule, "retention": retention.String()}).Info("worker: prune job scheduled")

	var wg sync.WaitGroup
	brokers := cfg.AuditKafkaBrokersList()
	if len(brokers) > 0 && cfg.LokiURL != "" {
		client, err := loki.NewClient(cfg.LokiURL, nil)
		if err != nil {
			log.WithError(err).Fatal("worker: loki")
		}
		reader := telemetry.NewAuditReader(brokers, cfg.AuditKafkaTopic, cfg.AuditKafkaGroupID)
		defer reader.Close()

		wg.Add(1)
		go func() {
			defer wg.Done()
			log.WithFields(logrus.Fields{
				"topic": cfg.AuditKafkaTopic,
				"group": cfg.AuditKafkaGroupID,
				"loki":  cfg.LokiURL,
			}).Info("worker: forwarding audit records")
			if err := telemetry.NewForwarder(reader, client, log).Run(ctx); err != nil {
				log.WithError(err).Error("worker: audit forwarder stopped")
			}
		}()
	} else {
		log.Info("worker: audit forwarder disabled (set AUDIT_KAFKA_BROKERS and LOKI_URL)")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("worker: shutting down")
	cancel()
	<-c.Stop().Done()
	wg.Wait()
	log.Info("worker: stopped")
}
