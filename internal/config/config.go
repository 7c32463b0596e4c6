package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port      string `env:"PORT" envDefault:"8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Empty DatabaseURL keeps everything in memory.
	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"postgres"`
	DatabaseURL    string `env:"DATABASE_URL"`

	JWTSecret string `env:"JWT_SECRET"`
	// AdminUserIDs are granted the admin role at startup.
	AdminUserIDs []string `env:"ADMIN_USER_IDS" envSeparator:","`

	RedisAddr      string        `env:"REDIS_ADDR"`
	RedisPassword  string        `env:"REDIS_PASSWORD"`
	ReportCacheTTL time.Duration `env:"REPORT_CACHE_TTL" envDefault:"60s"`
	// ReportCacheSize bounds the in-process cache used without Redis.
	ReportCacheSize uint64 `env:"REPORT_CACHE_SIZE" envDefault:"1024"`

	AdsURL     string `env:"ADS_API_URL"`
	CrmURL     string `env:"CRM_API_URL"`
	SinkURL    string `env:"SINK_URL"`
	SinkSecret string `env:"SINK_SECRET"`

	PhoneBotWebhookURL string `env:"PHONE_BOT_WEBHOOK_URL"`
	WebhookSecret      string `env:"WEBHOOK_SECRET"`

	HTTPTimeoutSeconds int `env:"HTTP_TIMEOUT_SECONDS" envDefault:"15"`
	HTTPTimeout        time.Duration

	ScoringRulesPath string   `env:"SCORING_RULES_PATH"`
	CORSOrigins      []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	LeadRateLimit   int           `env:"LEAD_RATE_LIMIT" envDefault:"5"`
	SignalRateLimit int           `env:"SIGNAL_RATE_LIMIT" envDefault:"120"`
	RateWindow      time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
}

func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.HTTPTimeoutSeconds <= 0 {
		cfg.HTTPTimeoutSeconds = 15
	}
	cfg.HTTPTimeout = time.Duration(cfg.HTTPTimeoutSeconds) * time.Second
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.DatabaseURL != "" && c.DatabaseDriver != "postgres" && c.DatabaseDriver != "sqlite" {
		return fmt.Errorf("DATABASE_DRIVER %q: want postgres or sqlite", c.DatabaseDriver)
	}
	if c.LeadRateLimit <= 0 || c.SignalRateLimit <= 0 || c.RateWindow <= 0 {
		return errors.New("rate limits must be positive")
	}
	return nil
}
