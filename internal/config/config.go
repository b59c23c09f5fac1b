package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Unsubscribe UnsubscribeConfig `yaml:"unsubscribe"`
	SparkPost   SparkPostConfig   `yaml:"sparkpost"`
	SES         SESConfig         `yaml:"ses"`
	Dispatch    DispatchConfig    `yaml:"dispatch"`
	Billing     BillingConfig     `yaml:"billing"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GetHost returns the server host, with container detection.
func (c ServerConfig) GetHost() string {
	// In a container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds Redis settings for distributed locks.
// Redis is optional; without it dispatch locks fall back to PG advisory locks.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

// UnsubscribeConfig holds token signing and link settings.
type UnsubscribeConfig struct {
	SigningKey   string `yaml:"signing_key"`
	BaseURL      string `yaml:"base_url"`
	ValidityDays int    `yaml:"validity_days"`
}

// Validity returns the token validity window as a duration.
func (c UnsubscribeConfig) Validity() time.Duration {
	return time.Duration(c.ValidityDays) * 24 * time.Hour
}

// SparkPostConfig holds SparkPost API configuration.
type SparkPostConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Enabled        bool   `yaml:"enabled"`
}

// Timeout returns the configured timeout as a duration.
func (c SparkPostConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SESConfig holds AWS SES API configuration.
type SESConfig struct {
	Region         string `yaml:"region"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Enabled        bool   `yaml:"enabled"`
}

// Timeout returns the configured timeout as a duration.
func (c SESConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DispatchConfig holds campaign dispatch settings.
type DispatchConfig struct {
	NumWorkers     int `yaml:"num_workers"`
	LockTTLSeconds int `yaml:"lock_ttl_seconds"`
}

// LockTTL returns the campaign lock TTL as a duration.
func (c DispatchConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// BillingConfig holds payment gateway settings.
type BillingConfig struct {
	Gateway string `yaml:"gateway"`
	BaseURL string `yaml:"base_url"`
	Secret  string `yaml:"secret"`
	Enabled bool   `yaml:"enabled"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Unsubscribe.ValidityDays == 0 {
		cfg.Unsubscribe.ValidityDays = 30
	}
	if cfg.Unsubscribe.BaseURL == "" {
		cfg.Unsubscribe.BaseURL = "https://links.leadwave.io"
	}
	if cfg.SparkPost.BaseURL == "" {
		cfg.SparkPost.BaseURL = "https://api.sparkpost.com/api/v1"
	}
	if cfg.SparkPost.TimeoutSeconds == 0 {
		cfg.SparkPost.TimeoutSeconds = 30
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-east-1"
	}
	if cfg.SES.TimeoutSeconds == 0 {
		cfg.SES.TimeoutSeconds = 30
	}
	if cfg.Dispatch.NumWorkers == 0 {
		cfg.Dispatch.NumWorkers = 4
	}
	if cfg.Dispatch.LockTTLSeconds == 0 {
		cfg.Dispatch.LockTTLSeconds = 300
	}
	if cfg.Billing.Gateway == "" {
		cfg.Billing.Gateway = "paystack"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
		cfg.Redis.Enabled = true
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}
	if key := os.Getenv("UNSUBSCRIBE_SIGNING_KEY"); key != "" {
		cfg.Unsubscribe.SigningKey = key
	}
	if baseURL := os.Getenv("UNSUBSCRIBE_BASE_URL"); baseURL != "" {
		cfg.Unsubscribe.BaseURL = baseURL
	}
	if apiKey := os.Getenv("SPARKPOST_API_KEY"); apiKey != "" {
		cfg.SparkPost.APIKey = apiKey
		cfg.SparkPost.Enabled = true
	}
	if baseURL := os.Getenv("SPARKPOST_BASE_URL"); baseURL != "" {
		cfg.SparkPost.BaseURL = baseURL
	}
	if accessKey := os.Getenv("AWS_SES_ACCESS_KEY"); accessKey != "" {
		cfg.SES.AccessKey = accessKey
		cfg.SES.Enabled = true
	}
	if secretKey := os.Getenv("AWS_SES_SECRET_KEY"); secretKey != "" {
		cfg.SES.SecretKey = secretKey
	}
	if region := os.Getenv("AWS_SES_REGION"); region != "" {
		cfg.SES.Region = region
	}
	if workers := os.Getenv("DISPATCH_WORKERS"); workers != "" {
		if n, err := strconv.Atoi(workers); err == nil && n > 0 {
			cfg.Dispatch.NumWorkers = n
		}
	}
	if url := os.Getenv("PAYMENT_GATEWAY_URL"); url != "" {
		cfg.Billing.BaseURL = url
		cfg.Billing.Enabled = true
	}
	if secret := os.Getenv("PAYMENT_GATEWAY_SECRET"); secret != "" {
		cfg.Billing.Secret = secret
	}

	return cfg, nil
}
