package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	AES       AESConfig       `mapstructure:"aes"`
	Log       LogConfig       `mapstructure:"log"`
	Gateways  GatewaysConfig  `mapstructure:"gateways"`
	Payout    PayoutConfig    `mapstructure:"payout"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"` // debug, release, test
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres, memory
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	PoolSize int           `mapstructure:"pool_size"`
	Timeout  time.Duration `mapstructure:"timeout"` // per-command read/write timeout
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	Expiry time.Duration `mapstructure:"expiry"` // lifetime of merchant tokens issued at provisioning
}

type AESConfig struct {
	Key string `mapstructure:"key"` // 32-byte hex-encoded master key for credential encryption
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// GatewayEndpoint configures one provider's API client.
type GatewayEndpoint struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	RPS     float64       `mapstructure:"rps"` // outbound requests per second; 0 disables throttling
}

type GatewaysConfig struct {
	Stripe   GatewayEndpoint `mapstructure:"stripe"`
	PayPal   GatewayEndpoint `mapstructure:"paypal"`
	Razorpay GatewayEndpoint `mapstructure:"razorpay"`
	// Stripe-Signature timestamps older than this are rejected.
	StripeSignatureTolerance time.Duration `mapstructure:"stripe_signature_tolerance"`
}

type PayoutConfig struct {
	MinAmount       string        `mapstructure:"min_amount"` // decimal string, used when a merchant has no settings row
	DefaultSchedule string        `mapstructure:"default_schedule"`
	MaxRetries      int           `mapstructure:"max_retries"`
	BatchInterval   time.Duration `mapstructure:"batch_interval"`
	Workers         int           `mapstructure:"workers"`
	DispatchLockTTL time.Duration `mapstructure:"dispatch_lock_ttl"`
}

type WebhookConfig struct {
	DedupeTTL time.Duration `mapstructure:"dedupe_ttl"`
}

type LedgerConfig struct {
	ExpirySweepInterval time.Duration `mapstructure:"expiry_sweep_interval"`
}

type RateLimitConfig struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: GCL_ (Gift Card Ledger).
// Nested keys use underscore: GCL_DATABASE_HOST, GCL_PAYOUT_MAX_RETRIES, etc.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("GCL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// A missing file is fine when env vars carry everything.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "giftcard_ledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.timeout", "500ms")

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "giftcard-ledger")
	v.SetDefault("jwt.expiry", "720h")
	v.SetDefault("aes.key", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("gateways.stripe.base_url", "https://api.stripe.com")
	v.SetDefault("gateways.stripe.timeout", "15s")
	v.SetDefault("gateways.stripe.rps", 25)
	v.SetDefault("gateways.paypal.base_url", "https://api-m.paypal.com")
	v.SetDefault("gateways.paypal.timeout", "15s")
	v.SetDefault("gateways.paypal.rps", 25)
	v.SetDefault("gateways.razorpay.base_url", "https://api.razorpay.com")
	v.SetDefault("gateways.razorpay.timeout", "15s")
	v.SetDefault("gateways.razorpay.rps", 25)
	v.SetDefault("gateways.stripe_signature_tolerance", "5m")

	v.SetDefault("payout.min_amount", "10.00")
	v.SetDefault("payout.default_schedule", "DAILY")
	v.SetDefault("payout.max_retries", 3)
	v.SetDefault("payout.batch_interval", "1m")
	v.SetDefault("payout.workers", 4)
	v.SetDefault("payout.dispatch_lock_ttl", "2m")

	v.SetDefault("webhook.dedupe_ttl", "24h")
	v.SetDefault("ledger.expiry_sweep_interval", "10m")

	v.SetDefault("ratelimit.limit", 120)
	v.SetDefault("ratelimit.window", "1m")
}

// Validate checks values that have no safe default.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("database.driver must be postgres or memory, got %q", c.Database.Driver)
	}
	switch c.Payout.DefaultSchedule {
	case "IMMEDIATE", "DAILY", "WEEKLY", "MONTHLY":
	default:
		return fmt.Errorf("payout.default_schedule %q is not a valid schedule", c.Payout.DefaultSchedule)
	}
	if c.Payout.Workers < 1 {
		return fmt.Errorf("payout.workers must be at least 1")
	}
	if c.Payout.MaxRetries < 0 {
		return fmt.Errorf("payout.max_retries must not be negative")
	}
	return nil
}
