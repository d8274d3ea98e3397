// Package config содержит логику чтения конфигурации сервиса DigiBite.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Режимы проверки подписи уведомлений платёжного шлюза.
const (
	SignatureModeStrict  = "strict"
	SignatureModeLenient = "lenient"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	RedisURL    string `env:"REDIS_URL"`

	JWTSecret string `env:"JWT_SECRET"`

	MidtransServerKey    string        `env:"MIDTRANS_SERVER_KEY"`
	MidtransIsProduction bool          `env:"MIDTRANS_IS_PRODUCTION" envDefault:"false"`
	MidtransBaseURL      string        `env:"MIDTRANS_BASE_URL"`
	FrontendURL          string        `env:"FRONTEND_URL" envDefault:"http://localhost:8080"`
	GatewayTimeout       time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`
	SessionTTL           time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	WebhookSignatureMode string        `env:"WEBHOOK_SIGNATURE_MODE" envDefault:"strict"`

	ServiceFee    int64 `env:"SERVICE_FEE" envDefault:"2000"`
	MinWithdrawal int64 `env:"MIN_WITHDRAWAL" envDefault:"10000"`

	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"1m"`
	ReconcileAfter    time.Duration `env:"RECONCILE_AFTER" envDefault:"15m"`
}

// Parse считывает конфигурацию из файла .env, флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envRedisURL := cfg.RedisURL

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.RedisURL, "r", "", "redis URL for realtime fan-out and carts")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envRedisURL != "" {
		cfg.RedisURL = envRedisURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.WebhookSignatureMode {
	case SignatureModeStrict, SignatureModeLenient:
	default:
		return fmt.Errorf("unknown webhook signature mode %q", c.WebhookSignatureMode)
	}
	if c.ServiceFee < 0 {
		return fmt.Errorf("service fee must not be negative: %d", c.ServiceFee)
	}
	if c.MinWithdrawal <= 0 {
		return fmt.Errorf("minimum withdrawal must be positive: %d", c.MinWithdrawal)
	}
	if c.GatewayTimeout <= 0 {
		return fmt.Errorf("gateway timeout must be positive: %s", c.GatewayTimeout)
	}
	return nil
}

// GatewayURLs возвращает адреса Snap API и Core API платёжного шлюза с учётом окружения.
// MIDTRANS_BASE_URL подменяет оба адреса.
func (c *Config) GatewayURLs() (snapURL, apiURL string) {
	switch {
	case c.MidtransBaseURL != "":
		return c.MidtransBaseURL, c.MidtransBaseURL
	case c.MidtransIsProduction:
		return "https://app.midtrans.com", "https://api.midtrans.com"
	default:
		return "https://app.sandbox.midtrans.com", "https://api.sandbox.midtrans.com"
	}
}

// StrictSignatures сообщает, нужно ли отклонять уведомления с неверной подписью.
func (c *Config) StrictSignatures() bool {
	return c.WebhookSignatureMode == SignatureModeStrict
}
