package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	LogFormat      string   `mapstructure:"LOG_FORMAT"`
	LogLevel       string   `mapstructure:"LOG_LEVEL"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir  string   `mapstructure:"MIGRATIONS_DIR"`
	DefaultTenant  string   `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`

	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	TxMaxRetries   int           `mapstructure:"TX_MAX_RETRIES"`

	// TaxRatePercent is the combined rate; it is split into two equal halves
	// labelled by TaxLabels.
	TaxRatePercent float64  `mapstructure:"TAX_RATE_PERCENT"`
	TaxLabels      []string `mapstructure:"TAX_LABELS"`

	WebhookURL        string        `mapstructure:"WEBHOOK_URL"`
	WebhookSecret     string        `mapstructure:"WEBHOOK_SECRET"`
	KafkaBrokers      []string      `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic        string        `mapstructure:"KAFKA_TOPIC"`
	NotifyQueueSize   int           `mapstructure:"NOTIFY_QUEUE_SIZE"`
	NotifyMaxAttempts int           `mapstructure:"NOTIFY_MAX_ATTEMPTS"`
	StaleAfter        time.Duration `mapstructure:"STALE_AFTER"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_FORMAT", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REQUEST_TIMEOUT", "15s")
	v.SetDefault("TX_MAX_RETRIES", 3)
	v.SetDefault("TAX_RATE_PERCENT", 0)
	v.SetDefault("TAX_LABELS", "CGST,SGST")
	v.SetDefault("KAFKA_TOPIC", "billing.events")
	v.SetDefault("NOTIFY_QUEUE_SIZE", 1024)
	v.SetDefault("NOTIFY_MAX_ATTEMPTS", 5)
	v.SetDefault("STALE_AFTER", "72h")

	for _, key := range []string{
		"PORT", "ENV", "LOG_FORMAT", "LOG_LEVEL", "DATABASE_URL",
		"DB_MAX_CONNS", "DB_MIN_CONNS", "MIGRATIONS_DIR", "DEFAULT_TENANT",
		"CORS_ORIGINS", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
		"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT", "TX_MAX_RETRIES",
		"TAX_RATE_PERCENT", "TAX_LABELS", "WEBHOOK_URL", "WEBHOOK_SECRET",
		"KAFKA_BROKERS", "KAFKA_TOPIC", "NOTIFY_QUEUE_SIZE", "NOTIFY_MAX_ATTEMPTS",
		"STALE_AFTER",
	} {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.TaxLabels = splitList(cfg.TaxLabels, v.GetString("TAX_LABELS"))
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers, v.GetString("KAFKA_BROKERS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

// splitList normalises comma separated env values. Viper hands back a single
// element slice when the value came from the environment.
func splitList(parsed []string, raw string) []string {
	if len(parsed) > 1 {
		return parsed
	}
	if raw == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// TaxRate returns the configured combined tax percentage as a decimal.
func (c *Config) TaxRate() decimal.Decimal {
	return decimal.NewFromFloat(c.TaxRatePercent).Round(4)
}

// Validate checks that the configuration is safe to run. Outside development
// a signing key is mandatory so that bearer tokens are actually verified.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes, got %d", len(c.AuthSigningKey))
	}
	if c.TaxRatePercent < 0 || c.TaxRatePercent >= 100 {
		return fmt.Errorf("TAX_RATE_PERCENT must be in [0, 100), got %v", c.TaxRatePercent)
	}
	if len(c.TaxLabels) != 2 {
		return fmt.Errorf("TAX_LABELS must name exactly two components, got %d", len(c.TaxLabels))
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.TxMaxRetries < 0 {
		return fmt.Errorf("TX_MAX_RETRIES must not be negative")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}
	if c.WebhookURL != "" && c.WebhookSecret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required when WEBHOOK_URL is set")
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}
