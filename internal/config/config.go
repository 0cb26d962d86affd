// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// HealthGRPCAddr is the address of the gRPC health endpoint; empty disables it.
	HealthGRPCAddr string `mapstructure:"HEALTH_GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// DBTimeout bounds every database unit of work (e.g. "5s").
	DBTimeout string `mapstructure:"DB_TIMEOUT"`

	// JWTTenantPrivateKey / JWTTenantPublicKey sign and verify tenant-realm access tokens (PEM inline or file path).
	JWTTenantPrivateKey string `mapstructure:"JWT_TENANT_PRIVATE_KEY"`
	JWTTenantPublicKey  string `mapstructure:"JWT_TENANT_PUBLIC_KEY"`
	// JWTAdminPrivateKey / JWTAdminPublicKey sign and verify admin-realm access tokens. Must differ from the tenant pair.
	JWTAdminPrivateKey string `mapstructure:"JWT_ADMIN_PRIVATE_KEY"`
	JWTAdminPublicKey  string `mapstructure:"JWT_ADMIN_PUBLIC_KEY"`
	// JWTIssuer is the iss claim.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// RateLimitThreshold is the number of attempts per key allowed inside the window.
	RateLimitThreshold int `mapstructure:"RATE_LIMIT_THRESHOLD"`
	// RateLimitWindow is the trailing window for attempt counting (e.g. "15m").
	RateLimitWindow string `mapstructure:"RATE_LIMIT_WINDOW"`
	// RateLimitBackend selects the attempt log: "postgres" or "redis".
	RateLimitBackend string `mapstructure:"RATE_LIMIT_BACKEND"`
	// RedisURL is required when RateLimitBackend is "redis" (e.g. redis://localhost:6379/0).
	RedisURL string `mapstructure:"REDIS_URL"`

	// CookieSecure sets the Secure flag on realm cookies. Must be true in production.
	CookieSecure bool `mapstructure:"COOKIE_SECURE"`
	// CookieDomain is the optional Domain attribute for realm cookies.
	CookieDomain string `mapstructure:"COOKIE_DOMAIN"`
	// CORSAllowedOrigins is a comma-separated list of browser origins allowed to call the API with credentials.
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	// TrustedProxies is a comma-separated list of CIDRs or addresses whose X-Forwarded-For and
	// X-Real-IP headers are honoured. Empty trusts only the TCP peer.
	TrustedProxies string `mapstructure:"TRUSTED_PROXIES"`

	// AuditKafkaBrokers is a comma-separated list of Kafka brokers; when set, audit records are mirrored to Kafka.
	AuditKafkaBrokers string `mapstructure:"AUDIT_KAFKA_BROKERS"`
	// AuditKafkaTopic is the Kafka topic for audit records.
	AuditKafkaTopic string `mapstructure:"AUDIT_KAFKA_TOPIC"`

	// OTLPEndpoint is the OpenTelemetry collector endpoint; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext gRPC to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// LogLevel is the logrus level name (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogFormat is "json" or "text".
	LogFormat string `mapstructure:"LOG_FORMAT"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// AppBaseURL is the public web origin used to build reset and verification links.
	AppBaseURL string `mapstructure:"APP_BASE_URL"`

	// ResetTokenTTL is the password reset link lifetime.
	ResetTokenTTL string `mapstructure:"RESET_TOKEN_TTL"`
	// VerifyTokenTTL is the email verification link lifetime.
	VerifyTokenTTL string `mapstructure:"VERIFY_TOKEN_TTL"`

	// SessionPolicyPath is an optional Rego module replacing the built-in session grant policy.
	SessionPolicyPath string `mapstructure:"SESSION_POLICY_PATH"`

	// Worker-only: AttemptRetention is how long rate-limit attempts are kept before pruning.
	AttemptRetention string `mapstructure:"ATTEMPT_RETENTION"`
	// PruneSchedule is the cron spec for the prune job (e.g. "@hourly").
	PruneSchedule string `mapstructure:"PRUNE_SCHEDULE"`
	// Worker-only: LokiURL enables forwarding the audit topic to Grafana Loki (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// AuditKafkaGroupID is the consumer group of the audit forwarder.
	AuditKafkaGroupID string `mapstructure:"AUDIT_KAFKA_GROUP_ID"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("HEALTH_GRPC_ADDR", ":9090")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_TIMEOUT", "5s")
	v.SetDefault("JWT_TENANT_PRIVATE_KEY", "")
	v.SetDefault("JWT_TENANT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ADMIN_PRIVATE_KEY", "")
	v.SetDefault("JWT_ADMIN_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "trade-identity")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("RATE_LIMIT_THRESHOLD", 5)
	v.SetDefault("RATE_LIMIT_WINDOW", "15m")
	v.SetDefault("RATE_LIMIT_BACKEND", "postgres")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("COOKIE_SECURE", false)
	v.SetDefault("COOKIE_DOMAIN", "")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "")
	v.SetDefault("TRUSTED_PROXIES", "")
	v.SetDefault("AUDIT_KAFKA_BROKERS", "")
	v.SetDefault("AUDIT_KAFKA_TOPIC", "identity-audit")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("APP_BASE_URL", "http://localhost:3000")
	v.SetDefault("RESET_TOKEN_TTL", "1h")
	v.SetDefault("VERIFY_TOKEN_TTL", "48h")
	v.SetDefault("SESSION_POLICY_PATH", "")
	v.SetDefault("ATTEMPT_RETENTION", "720h") // 30d
	v.SetDefault("PRUNE_SCHEDULE", "@hourly")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("AUDIT_KAFKA_GROUP_ID", "identity-audit-forwarder")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	if cfg.RateLimitThreshold <= 0 {
		return nil, errors.New("config: RATE_LIMIT_THRESHOLD must be positive")
	}
	switch cfg.RateLimitBackend {
	case "postgres":
	case "redis":
		if cfg.RedisURL == "" {
			return nil, errors.New("config: REDIS_URL must be set when RATE_LIMIT_BACKEND=redis")
		}
	default:
		return nil, errors.New("config: RATE_LIMIT_BACKEND must be postgres or redis")
	}

	if cfg.Env == "production" && !cfg.CookieSecure {
		return nil, errors.New("config: COOKIE_SECURE must be true when APP_ENV=production")
	}

	if cfg.JWTTenantPrivateKey != "" && cfg.JWTTenantPrivateKey == cfg.JWTAdminPrivateKey {
		return nil, errors.New("config: tenant and admin signing keys must differ")
	}

	return &cfg, nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 15*time.Minute)
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parseDuration(c.JWTRefreshTTL, 168*time.Hour)
}

// DBTimeoutDuration parses DBTimeout. Returns 5s if unset or invalid.
func (c *Config) DBTimeoutDuration() time.Duration {
	return parseDuration(c.DBTimeout, 5*time.Second)
}

// RateLimitWindowDuration parses RateLimitWindow. Returns 15m if unset or invalid.
func (c *Config) RateLimitWindowDuration() time.Duration {
	return parseDuration(c.RateLimitWindow, 15*time.Minute)
}

// ResetTTL parses ResetTokenTTL. Returns 1h if unset or invalid.
func (c *Config) ResetTTL() time.Duration {
	return parseDuration(c.ResetTokenTTL, time.Hour)
}

// VerifyTTL parses VerifyTokenTTL. Returns 48h if unset or invalid.
func (c *Config) VerifyTTL() time.Duration {
	return parseDuration(c.VerifyTokenTTL, 48*time.Hour)
}

// AttemptRetentionDuration parses AttemptRetention. Returns 720h if unset or invalid.
func (c *Config) AttemptRetentionDuration() time.Duration {
	return parseDuration(c.AttemptRetention, 720*time.Hour)
}

// AuditKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty list disables the Kafka audit sink.
func (c *Config) AuditKafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.AuditKafkaBrokers)
}

// CORSOriginsList returns the allowed CORS origins from the comma-separated config.
func (c *Config) CORSOriginsList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.CORSAllowedOrigins)
}

// TrustedProxiesList returns the trusted proxy entries from the comma-separated config.
func (c *Config) TrustedProxiesList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.TrustedProxies)
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
