// server serves the identity HTTP API and, when HEALTH_GRPC_ADDR is set, the gRPC health service.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	adminrepo "trade-identity/internal/admin/repository"
	accounttokenrepo "trade-identity/internal/accounttoken/repository"
	"trade-identity/internal/audit"
	auditrepo "trade-identity/internal/audit/repository"
	"trade-identity/internal/config"
	"trade-identity/internal/db"
	healthhandler "trade-identity/internal/health/handler"
	identityhandler "trade-identity/internal/identity/handler"
	"trade-identity/internal/identity/service"
	"trade-identity/internal/logging"
	"trade-identity/internal/mail"
	membershiprepo "trade-identity/internal/membership/repository"
	"trade-identity/internal/metrics"
	"trade-identity/internal/policy/engine"
	"trade-identity/internal/ratelimit"
	"trade-identity/internal/realm"
	refreshtokenrepo "trade-identity/internal/refreshtoken/repository"
	"trade-identity/internal/security"
	"trade-identity/internal/server"
	"trade-identity/internal/server/interceptors"
	"trade-identity/internal/telemetry/otel"
	"trade-identity/internal/tenancy"
	tenantrepo "trade-identity/internal/tenant/repository"
	userrepo "trade-identity/internal/user/repository"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()
	providers, err := otel.NewProviders(ctx, otel.Options{
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		ServiceName: server.ServiceName,
		Environment: cfg.Env,
	}, log)
	if err != nil {
		log.WithError(err).Fatal("telemetry")
	}
	providers.SetGlobal()

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	database, err := db.Open(cfg.DatabaseURL, cfg.DBTimeoutDuration())
	if err != nil {
		log.WithError(err).Fatal("database")
	}
	defer database.Close()
	runner := tenancy.NewRunner(database, cfg.DBTimeoutDuration())

	keys, err := loadKeyring(cfg)
	if err != nil {
		log.WithError(err).Fatal("signing keys")
	}

	store, closeStore, err := newAttemptStore(ctx, cfg, database)
	if err != nil {
		log.WithError(err).Fatal("rate limit store")
	}
	defer closeStore()
	gate := ratelimit.NewGate(store, cfg.RateLimitThreshold, cfg.RateLimitWindowDuration())

	module, err := engine.LoadPolicyFile(cfg.SessionPolicyPath)
	if err != nil {
		log.WithError(err).Fatal("session policy")
	}
	policy, err := engine.NewOPAEvaluator(ctx, module)
	if err != nil {
		log.WithError(err).Fatal("session policy")
	}

	var sinks []audit.Sink
	kafkaSink := audit.NewKafkaSink(cfg.AuditKafkaBrokersList(), cfg.AuditKafkaTopic)
	if kafkaSink != nil {
		sinks = append(sinks, kafkaSink)
		log.WithField("topic", cfg.AuditKafkaTopic).Info("audit: kafka sink enabled")
	}
	if cfg.OTLPEndpoint != "" {
		sinks = append(sinks, audit.NewOTelSink(providers.LoggerProvider))
	}
	auditLogger := audit.NewLogger(runner, auditrepo.NewPostgresRepository(), log, sinks...)

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)

	svc, err := service.New(service.Deps{
		Runner:        runner,
		Users:         userrepo.NewPostgresRepository(),
		Admins:        adminrepo.NewPostgresRepository(),
		Tenants:       tenantrepo.NewPostgresRepository(),
		Memberships:   membershiprepo.NewPostgresRepository(),
		RefreshTokens: refreshtokenrepo.NewPostgresRepository(),
		AccountTokens: accounttokenrepo.NewPostgresRepository(),
		Hasher:        security.NewHasher(cfg.BcryptCost),
		Keys:          keys,
		Gate:          gate,
		Policy:        policy,
		Audit:         auditLogger,
		Mail:          mail.NewLogSender(log),
		Recorder:      m,
		Log:           log,
	}, service.Options{
		RefreshTTL: cfg.RefreshTTL(),
		ResetTTL:   cfg.ResetTTL(),
		VerifyTTL:  cfg.VerifyTTL(),
		AppBaseURL: cfg.AppBaseURL,
	})
	if err != nil {
		log.WithError(err).Fatal("identity service")
	}

	trusted, err := interceptors.ParseTrustedProxies(cfg.TrustedProxiesList())
	if err != nil {
		log.WithError(err).Fatal("config: TRUSTED_PROXIES")
	}

	checker := healthhandler.NewChecker(database, policy)
	router := server.NewRouter(server.Deps{
		Identity: identityhandler.New(svc, identityhandler.CookieConfig{
			Secure: cfg.CookieSecure,
			Domain: cfg.CookieDomain,
		}, log),
		Health:         checker,
		Metrics:        m,
		Registry:       registry,
		CORSOrigins:    cfg.CORSOriginsList(),
		TrustedProxies: trusted,
		Log:            log,
	})
	httpServer := server.NewHTTPServer(cfg.HTTPAddr, router)

	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http serve")
		}
	}()

	var grpcServer *grpc.Server
	if cfg.HealthGRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.HealthGRPCAddr)
		if err != nil {
			log.WithError(err).Fatal("grpc listen")
		}
		grpcServer = server.NewGRPCServer(checker)
		go func() {
			log.WithField("addr", cfg.HealthGRPCAddr).Info("grpc health server listening")
			if err := grpcServer.Serve(lis); err != nil {
				log.WithError(err).Error("grpc serve")
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), audit.ShutdownDrainDuration)
	auditLogger.Drain(drainCtx)
	drainCancel()
	if kafkaSink != nil {
		if err := kafkaSink.Close(); err != nil {
			log.WithError(err).Warn("audit: kafka close")
		}
	}
	_ = providers.Shutdown(shutdownCtx)
	log.Info("stopped")
}

// loadKeyring builds the tenant and admin token providers. The keyring rejects a shared key pair.
func loadKeyring(cfg *config.Config) (*security.Keyring, error) {
	tenant, err := security.LoadTokenProvider(realm.Tenant, cfg.JWTTenantPrivateKey, cfg.JWTTenantPublicKey, cfg.JWTIssuer, cfg.AccessTTL())
	if err != nil {
		return nil, err
	}
	admin, err := security.LoadTokenProvider(realm.Admin, cfg.JWTAdminPrivateKey, cfg.JWTAdminPublicKey, cfg.JWTIssuer, cfg.AccessTTL())
	if err != nil {
		return nil, err
	}
	return security.NewKeyring(tenant, admin)
}

// newAttemptStore returns the configured attempt log and a function releasing its client.
func newAttemptStore(ctx context.Context, cfg *config.Config, database *sql.DB) (ratelimit.AttemptStore, func(), error) {
	if cfg.RateLimitBackend != "redis" {
		return ratelimit.NewPostgresStore(database, cfg.DBTimeoutDuration()), func() {}, nil
	}
	store, client, err := ratelimit.DialRedis(ctx, cfg.RedisURL, cfg.AttemptRetentionDuration())
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = client.Close() }, nil
}
