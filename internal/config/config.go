package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                string        `mapstructure:"PORT"`
	Env                 string        `mapstructure:"ENV"`
	AuthMode            string        `mapstructure:"AUTH_MODE"`
	DatabaseURL         string        `mapstructure:"DATABASE_URL"`
	DBMaxConns          int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns          int32         `mapstructure:"DB_MIN_CONNS"`
	DBMaxConnLifetime   time.Duration `mapstructure:"DB_MAX_CONN_LIFETIME"`
	DBMaxConnIdleTime   time.Duration `mapstructure:"DB_MAX_CONN_IDLE_TIME"`
	DBHealthCheckPeriod time.Duration `mapstructure:"DB_HEALTH_CHECK_PERIOD"`
	RedisURL            string        `mapstructure:"REDIS_URL"`
	AuthIssuer          string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL         string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience        string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey      string        `mapstructure:"AUTH_SIGNING_KEY"`
	DefaultTenant       string        `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins         []string      `mapstructure:"CORS_ORIGINS"`

	LogLevel       string `mapstructure:"LOG_LEVEL"`
	LogFile        string `mapstructure:"LOG_FILE"`
	OTLPEndpoint   string `mapstructure:"OTLP_ENDPOINT"`
	MetricsEnabled bool   `mapstructure:"METRICS_ENABLED"`

	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	// MigrationsDir overrides the migrations compiled into the binary.
	MigrationsDir string `mapstructure:"MIGRATIONS_DIR"`

	// Clinical data handling
	RejectParseFailures        bool          `mapstructure:"REJECT_PARSE_FAILURES"`
	DefaultPhoneRegion         string        `mapstructure:"DEFAULT_PHONE_REGION"`
	IntegrityRepairConcurrency int           `mapstructure:"INTEGRITY_REPAIR_CONCURRENCY"`
	IntegrityLockTTL           time.Duration `mapstructure:"INTEGRITY_LOCK_TTL"`
}

var envKeys = []string{
	"PORT", "ENV", "AUTH_MODE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"DEFAULT_TENANT", "CORS_ORIGINS", "LOG_LEVEL", "LOG_FILE", "OTLP_ENDPOINT",
	"METRICS_ENABLED", "REJECT_PARSE_FAILURES", "DEFAULT_PHONE_REGION",
	"INTEGRITY_REPAIR_CONCURRENCY", "INTEGRITY_LOCK_TTL", "RATE_LIMIT_RPS",
	"RATE_LIMIT_BURST", "REQUEST_TIMEOUT", "BODY_LIMIT", "MIGRATIONS_DIR",
	"DB_MAX_CONN_LIFETIME", "DB_MAX_CONN_IDLE_TIME", "DB_HEALTH_CHECK_PERIOD",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // auto-detect: "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DB_MAX_CONN_LIFETIME", "1h")
	v.SetDefault("DB_MAX_CONN_IDLE_TIME", "30m")
	v.SetDefault("DB_HEALTH_CHECK_PERIOD", "1m")
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("REJECT_PARSE_FAILURES", true)
	v.SetDefault("DEFAULT_PHONE_REGION", "IN")
	v.SetDefault("INTEGRITY_REPAIR_CONCURRENCY", 4)
	v.SetDefault("INTEGRITY_LOCK_TTL", "10m")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "1M")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil || (len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",")) {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active, all requests get admin access.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise, the mode is inferred:
//   - ENV=development      → "development" (no auth, all requests get admin)
//   - AUTH_SIGNING_KEY set → "local" (HS256 tokens minted by the clinic front end)
//   - Otherwise            → "external" (issuer + JWKS)
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	if c.AuthSigningKey != "" {
		return "local"
	}
	return "external"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch mode := c.ResolvedAuthMode(); mode {
	case "development":
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE=development is not allowed in production")
		}
	case "local":
		if len(c.AuthSigningKey) < 32 {
			return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes, got %d", len(c.AuthSigningKey))
		}
	case "external":
		if c.AuthIssuer == "" {
			return fmt.Errorf(
				"AUTH_ISSUER must be set when AUTH_MODE is \"external\" (current ENV=%q). "+
					"Refusing to start without authentication configuration", c.Env)
		}
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\", \"local\", or \"external\", got %q", mode)
	}

	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.DBMaxConnLifetime < 0 || c.DBMaxConnIdleTime < 0 || c.DBHealthCheckPeriod < 0 {
		return fmt.Errorf("database pool durations must not be negative")
	}
	if c.IntegrityRepairConcurrency < 1 || c.IntegrityRepairConcurrency > 64 {
		return fmt.Errorf("INTEGRITY_REPAIR_CONCURRENCY must be between 1 and 64, got %d", c.IntegrityRepairConcurrency)
	}
	if c.IntegrityLockTTL < time.Minute {
		return fmt.Errorf("INTEGRITY_LOCK_TTL must be at least 1m, got %s", c.IntegrityLockTTL)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive, got %g/%d", c.RateLimitRPS, c.RateLimitBurst)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	if len(c.DefaultPhoneRegion) != 2 {
		return fmt.Errorf("DEFAULT_PHONE_REGION must be a two-letter region code, got %q", c.DefaultPhoneRegion)
	}
	return nil
}
