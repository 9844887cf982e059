// Package config содержит логику чтения конфигурации сервиса оплаты заказов.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	defaultRunAddress     = "localhost:8080"
	defaultGatewayAddress = "https://api.portone.io"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	CatalogPath string `env:"CATALOG_PATH"`

	GatewayAddress   string        `env:"GATEWAY_API_ADDRESS"`
	GatewayStoreID   string        `env:"GATEWAY_STORE_ID"`
	GatewayAPISecret string        `env:"GATEWAY_API_SECRET"`
	GatewayTimeout   time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"5s"`
	WebhookSecret    string        `env:"WEBHOOK_SECRET"`

	KafkaBrokers string `env:"KAFKA_BROKERS"`
	KafkaTopic   string `env:"KAFKA_TOPIC" envDefault:"storefront.order-status"`

	PendingOrderTTL    time.Duration `env:"PENDING_ORDER_TTL" envDefault:"0s"`
	PendingSweepPeriod time.Duration `env:"PENDING_SWEEP_INTERVAL" envDefault:"1m"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами. Файл .env, если он есть,
// дополняет окружение, не перезаписывая уже заданные переменные.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envGatewayAddress := cfg.GatewayAddress
	envCatalogPath := cfg.CatalogPath

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.GatewayAddress, "g", defaultGatewayAddress, "payment gateway API address")
	flag.StringVar(&cfg.CatalogPath, "c", "", "catalog file path (embedded catalog if empty)")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envGatewayAddress != "" {
		cfg.GatewayAddress = envGatewayAddress
	}
	if envCatalogPath != "" {
		cfg.CatalogPath = envCatalogPath
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.GatewayAddress == "" {
		cfg.GatewayAddress = defaultGatewayAddress
	}

	if cfg.GatewayTimeout <= 0 {
		return nil, fmt.Errorf("GATEWAY_TIMEOUT must be positive, got %s", cfg.GatewayTimeout)
	}
	if cfg.PendingOrderTTL < 0 {
		return nil, fmt.Errorf("PENDING_ORDER_TTL must not be negative, got %s", cfg.PendingOrderTTL)
	}

	return cfg, nil
}
