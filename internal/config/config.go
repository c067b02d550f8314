package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Steam    SteamConfig    `mapstructure:"steam"`
	Sweep    SweepConfig    `mapstructure:"sweep"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SteamConfig holds the market price endpoint configuration
type SteamConfig struct {
	PriceURL    string        `mapstructure:"price_url"`
	AppID       int           `mapstructure:"app_id"`
	Currency    int           `mapstructure:"currency"`
	Timeout     time.Duration `mapstructure:"timeout"`
	BaseDelay   time.Duration `mapstructure:"base_delay"` // backoff after the n-th 429 is base_delay * 2^n
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// SweepConfig holds pacing and cooldown configuration
type SweepConfig struct {
	CatalogPath          string        `mapstructure:"catalog_path"`
	ItemDelay            time.Duration `mapstructure:"item_delay"`
	ItemJitter           time.Duration `mapstructure:"item_jitter"`
	BatchSize            int           `mapstructure:"batch_size"` // 0 disables the short cooldown
	BatchCooldown        time.Duration `mapstructure:"batch_cooldown"`
	MaxRequests          int           `mapstructure:"max_requests"` // 0 disables the long cooldown
	LongCooldown         time.Duration `mapstructure:"long_cooldown"`
	Pause                time.Duration `mapstructure:"pause"`
	MaxConcurrentFetches int           `mapstructure:"max_concurrent_fetches"`
}

// StorageConfig holds persistence configuration
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr      string `mapstructure:"addr"`
	StaticDir string `mapstructure:"static_dir"`
}

// RedisConfig holds read cache configuration
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Threshold      float64       `mapstructure:"threshold"` // absolute percent change worth reporting
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("CASEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every key so that environment overrides apply even
// when the file omits them.
func setDefaults(v *viper.Viper) {
	v.SetDefault("steam.price_url", "https://steamcommunity.com/market/priceoverview/")
	v.SetDefault("steam.app_id", 730)
	v.SetDefault("steam.currency", 1) // USD
	v.SetDefault("steam.timeout", "15s")
	v.SetDefault("steam.base_delay", "1s")
	v.SetDefault("steam.max_attempts", 5)

	v.SetDefault("sweep.catalog_path", "./cases.json")
	v.SetDefault("sweep.item_delay", "1.5s")
	v.SetDefault("sweep.item_jitter", "1.5s")
	v.SetDefault("sweep.batch_size", 20)
	v.SetDefault("sweep.batch_cooldown", "30s")
	v.SetDefault("sweep.max_requests", 0)
	v.SetDefault("sweep.long_cooldown", "5m")
	v.SetDefault("sweep.pause", "0s")
	v.SetDefault("sweep.max_concurrent_fetches", 1)

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", "")

	v.SetDefault("server.addr", ":3000")
	v.SetDefault("server.static_dir", "")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "30s")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.threshold", 10.0)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Steam.PriceURL == "" {
		return fmt.Errorf("steam.price_url is required")
	}
	if c.Steam.AppID < 1 {
		return fmt.Errorf("steam.app_id must be positive")
	}
	if c.Steam.Timeout <= 0 {
		return fmt.Errorf("steam.timeout must be positive")
	}
	if c.Steam.BaseDelay < 100*time.Millisecond || c.Steam.BaseDelay > 10*time.Second {
		return fmt.Errorf("steam.base_delay must be between 100ms and 10s")
	}
	if c.Steam.MaxAttempts < 1 || c.Steam.MaxAttempts > 10 {
		return fmt.Errorf("steam.max_attempts must be between 1 and 10")
	}

	if c.Sweep.CatalogPath == "" {
		return fmt.Errorf("sweep.catalog_path is required")
	}
	if c.Sweep.ItemDelay < 0 || c.Sweep.ItemJitter < 0 {
		return fmt.Errorf("sweep.item_delay and sweep.item_jitter must not be negative")
	}
	if c.Sweep.BatchSize < 0 {
		return fmt.Errorf("sweep.batch_size must not be negative")
	}
	if c.Sweep.MaxRequests < 0 {
		return fmt.Errorf("sweep.max_requests must not be negative")
	}
	if c.Sweep.BatchCooldown < 0 || c.Sweep.LongCooldown < 0 || c.Sweep.Pause < 0 {
		return fmt.Errorf("sweep cooldowns must not be negative")
	}
	if c.Sweep.MaxConcurrentFetches != 1 {
		return fmt.Errorf("sweep.max_concurrent_fetches must be 1, got %d", c.Sweep.MaxConcurrentFetches)
	}

	switch c.Storage.Driver {
	case "sqlite":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("storage.driver must be one of: sqlite, postgres")
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when redis is enabled")
		}
		if c.Redis.TTL <= 0 {
			return fmt.Errorf("redis.ttl must be positive")
		}
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}
	if c.Telegram.Threshold < 0 {
		return fmt.Errorf("telegram.threshold must not be negative")
	}
	if c.Telegram.MaxRetries < 0 {
		return fmt.Errorf("telegram.max_retries must not be negative")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
