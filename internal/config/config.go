package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration for the service.
// Values come from environment variables or an optional .env file in the working directory.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`

	DBHost     string `mapstructure:"DB_HOST"`
	DBPort     string `mapstructure:"DB_PORT"`
	DBUser     string `mapstructure:"DB_USER"`
	DBPassword string `mapstructure:"DB_PASSWORD"`
	DBName     string `mapstructure:"DB_NAME"`
	DBSSLMode  string `mapstructure:"DB_SSLMODE"`

	PaystackBaseURL           string  `mapstructure:"PAYSTACK_BASE_URL"`
	PaystackSecretKey         string  `mapstructure:"PAYSTACK_SECRET_KEY"`
	PaystackPreferredBank     string  `mapstructure:"PAYSTACK_PREFERRED_BANK"`
	PaystackRequestsPerSecond float64 `mapstructure:"PAYSTACK_REQUESTS_PER_SECOND"`

	VendorBaseURL        string        `mapstructure:"VENDOR_BASE_URL"`
	VendorAPIKey         string        `mapstructure:"VENDOR_API_KEY"`
	VendorTimeout        time.Duration `mapstructure:"VENDOR_TIMEOUT"`
	PurchasePendingAfter time.Duration `mapstructure:"PURCHASE_PENDING_AFTER"`
	PurchaseSettleWindow time.Duration `mapstructure:"PURCHASE_SETTLE_WINDOW"`

	RabbitMQURL    string `mapstructure:"RABBITMQ_URL"`
	EventsExchange string `mapstructure:"EVENTS_EXCHANGE"`

	RedisURL                   string `mapstructure:"REDIS_URL"`
	PurchaseRateLimitPerMinute int    `mapstructure:"PURCHASE_RATE_LIMIT_PER_MINUTE"`

	PendingSweepSchedule string        `mapstructure:"PENDING_SWEEP_SCHEDULE"`
	TempAccountTTL       time.Duration `mapstructure:"TEMP_ACCOUNT_TTL"`
	ProvisioningTimeout  time.Duration `mapstructure:"PROVISIONING_TIMEOUT"`
}

var keys = []string{
	"SERVER_PORT",
	"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE",
	"PAYSTACK_BASE_URL", "PAYSTACK_SECRET_KEY", "PAYSTACK_PREFERRED_BANK", "PAYSTACK_REQUESTS_PER_SECOND",
	"VENDOR_BASE_URL", "VENDOR_API_KEY", "VENDOR_TIMEOUT", "PURCHASE_PENDING_AFTER", "PURCHASE_SETTLE_WINDOW",
	"RABBITMQ_URL", "EVENTS_EXCHANGE",
	"REDIS_URL", "PURCHASE_RATE_LIMIT_PER_MINUTE",
	"PENDING_SWEEP_SCHEDULE", "TEMP_ACCOUNT_TTL", "PROVISIONING_TIMEOUT",
}

// Load reads configuration from the environment and an optional .env file.
func Load() (*Config, error) {
	v := viper.New()
	v.AddConfigPath(".")
	v.SetConfigName(".env")
	v.SetConfigType("env")

	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "password")
	v.SetDefault("DB_NAME", "billpay_wallet")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("PAYSTACK_BASE_URL", "https://api.paystack.co")
	v.SetDefault("PAYSTACK_PREFERRED_BANK", "wema-bank")
	v.SetDefault("PAYSTACK_REQUESTS_PER_SECOND", 10)
	v.SetDefault("VENDOR_TIMEOUT", "90s")
	v.SetDefault("PURCHASE_PENDING_AFTER", "60s")
	v.SetDefault("PURCHASE_SETTLE_WINDOW", "10m")
	v.SetDefault("EVENTS_EXCHANGE", "wallet.events")
	v.SetDefault("PURCHASE_RATE_LIMIT_PER_MINUTE", 10)
	v.SetDefault("PENDING_SWEEP_SCHEDULE", "*/5 * * * *")
	v.SetDefault("TEMP_ACCOUNT_TTL", "24h")
	v.SetDefault("PROVISIONING_TIMEOUT", "30s")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the purchase and sync flows cannot run with.
func (c *Config) Validate() error {
	if c.PurchasePendingAfter <= 0 {
		return fmt.Errorf("PURCHASE_PENDING_AFTER must be positive, got %s", c.PurchasePendingAfter)
	}
	if c.VendorTimeout <= 0 {
		return fmt.Errorf("VENDOR_TIMEOUT must be positive, got %s", c.VendorTimeout)
	}
	if c.TempAccountTTL <= 0 {
		return fmt.Errorf("TEMP_ACCOUNT_TTL must be positive, got %s", c.TempAccountTTL)
	}
	if c.PaystackRequestsPerSecond <= 0 {
		return fmt.Errorf("PAYSTACK_REQUESTS_PER_SECOND must be positive, got %v", c.PaystackRequestsPerSecond)
	}
	return nil
}

// GetDBConnectionString returns the lib/pq connection string.
func (c *Config) GetDBConnectionString() string {
	sslMode := c.DBSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, sslMode)
}
