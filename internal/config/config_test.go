package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAndValidate(t *testing.T) {
	path := writeConfig(t, `
steam:
  base_delay: 2s
  max_attempts: 4

sweep:
  catalog_path: "./testdata/cases.json"
  item_delay: 500ms
  batch_size: 10

storage:
  driver: sqlite
  dsn: "./data/test.db"

telegram:
  bot_token: "test_token"
  chat_id: "test_chat_id"
  enabled: true

logging:
  level: "debug"
  format: "text"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Steam.BaseDelay != 2*time.Second {
		t.Errorf("Unexpected base delay: %v", cfg.Steam.BaseDelay)
	}
	if cfg.Steam.MaxAttempts != 4 {
		t.Errorf("Unexpected max attempts: %d", cfg.Steam.MaxAttempts)
	}
	if cfg.Sweep.ItemDelay != 500*time.Millisecond {
		t.Errorf("Unexpected item delay: %v", cfg.Sweep.ItemDelay)
	}
	if cfg.Sweep.BatchSize != 10 {
		t.Errorf("Unexpected batch size: %d", cfg.Sweep.BatchSize)
	}
	if cfg.Storage.DSN != "./data/test.db" {
		t.Errorf("Unexpected dsn: %s", cfg.Storage.DSN)
	}

	// Defaults fill whatever the file omits
	if cfg.Steam.AppID != 730 {
		t.Errorf("Expected default app id 730, got %d", cfg.Steam.AppID)
	}
	if cfg.Sweep.ItemJitter != 1500*time.Millisecond {
		t.Errorf("Expected default jitter 1.5s, got %v", cfg.Sweep.ItemJitter)
	}
	if cfg.Sweep.MaxConcurrentFetches != 1 {
		t.Errorf("Expected default concurrency 1, got %d", cfg.Sweep.MaxConcurrentFetches)
	}
	if cfg.Server.Addr != ":3000" {
		t.Errorf("Expected default addr :3000, got %s", cfg.Server.Addr)
	}
	if cfg.Telegram.Threshold != 10 {
		t.Errorf("Expected default threshold 10, got %f", cfg.Telegram.Threshold)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CASEWATCH_SWEEP_BATCH_SIZE", "5")
	t.Setenv("CASEWATCH_STORAGE_DRIVER", "postgres")
	t.Setenv("CASEWATCH_STORAGE_DSN", "postgres://localhost/casewatch?sslmode=disable")

	cfg, err := Load(writeConfig(t, "sweep:\n  batch_size: 20\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Sweep.BatchSize != 5 {
		t.Errorf("Expected env override 5, got %d", cfg.Sweep.BatchSize)
	}
	if cfg.Storage.Driver != "postgres" {
		t.Errorf("Expected postgres driver, got %s", cfg.Storage.Driver)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"base delay too short", func(c *Config) { c.Steam.BaseDelay = 10 * time.Millisecond }},
		{"base delay too long", func(c *Config) { c.Steam.BaseDelay = time.Minute }},
		{"zero attempts", func(c *Config) { c.Steam.MaxAttempts = 0 }},
		{"too many attempts", func(c *Config) { c.Steam.MaxAttempts = 11 }},
		{"missing price url", func(c *Config) { c.Steam.PriceURL = "" }},
		{"missing catalog", func(c *Config) { c.Sweep.CatalogPath = "" }},
		{"negative jitter", func(c *Config) { c.Sweep.ItemJitter = -time.Second }},
		{"negative batch size", func(c *Config) { c.Sweep.BatchSize = -1 }},
		{"parallel fetches", func(c *Config) { c.Sweep.MaxConcurrentFetches = 4 }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mysql" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres"; c.Storage.DSN = "" }},
		{"redis without addr", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }},
		{"missing telegram token when enabled", func(c *Config) { c.Telegram.Enabled = true; c.Telegram.ChatID = "1" }},
		{"missing telegram chat when enabled", func(c *Config) { c.Telegram.Enabled = true; c.Telegram.BotToken = "t" }},
		{"invalid log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"invalid log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
