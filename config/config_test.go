package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var configKeys = []string{
	"CONFIG_FILE", "SERVER_PORT", "DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE",
	"JWT_SECRET", "JWT_EXPIRY_HOURS", "REDIS_HOST", "REDIS_PORT", "REDIS_PASSWORD", "REDIS_DB",
	"CORS_ALLOWED_ORIGINS", "WS_POLL_INTERVAL_MS", "LOG_LEVEL", "MODEL_TREES", "MODEL_TEST_FRACTION",
	"DISPATCH_MIN_TIER", "TELEGRAM_ENABLED", "ARCHIVE_ENABLED",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		if old, ok := os.LookupEnv(key); ok {
			os.Unsetenv(key)
			t.Cleanup(func() { os.Setenv(key, old) })
		}
	}
}

func TestGetDSN(t *testing.T) {
	db := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "railway",
		Password: "secret",
		Name:     "railway",
		SSLMode:  "disable",
	}
	dsn := db.GetDSN()

	expected := "host=localhost port=5432 user=railway password=secret dbname=railway sslmode=disable"
	if dsn != expected {
		t.Errorf("GetDSN() = %q, want %q", dsn, expected)
	}
}

func TestGetDSNCustomValues(t *testing.T) {
	db := DatabaseConfig{
		Host:     "db.example.com",
		Port:     5433,
		User:     "admin",
		Password: "p@ss",
		Name:     "mydb",
		SSLMode:  "require",
	}
	dsn := db.GetDSN()

	if !strings.Contains(dsn, "host=db.example.com") {
		t.Errorf("DSN missing host, got: %s", dsn)
	}
	if !strings.Contains(dsn, "port=5433") {
		t.Errorf("DSN missing port, got: %s", dsn)
	}
	if !strings.Contains(dsn, "sslmode=require") {
		t.Errorf("DSN missing sslmode, got: %s", dsn)
	}
}

func TestGetURL(t *testing.T) {
	db := DatabaseConfig{Host: "pg", Port: 5432, User: "u", Password: "p", Name: "railway", SSLMode: "disable"}
	want := "postgres://u:p@pg:5432/railway?sslmode=disable"
	if got := db.GetURL(); got != want {
		t.Errorf("GetURL() = %q, want %q", got, want)
	}
}

func TestRedisAddr(t *testing.T) {
	r := RedisConfig{Host: "cache", Port: 6380}
	if got := r.GetAddr(); got != "cache:6380" {
		t.Errorf("GetAddr() = %q", got)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Host != "localhost" {
		t.Errorf("Database.Host = %q, want %q", cfg.Database.Host, "localhost")
	}
	if cfg.Database.Port != 5432 {
		t.Errorf("Database.Port = %d, want 5432", cfg.Database.Port)
	}
	if cfg.JWT.ExpiryHours != 24 {
		t.Errorf("JWT.ExpiryHours = %d, want 24", cfg.JWT.ExpiryHours)
	}
	if cfg.Redis.Port != 6379 {
		t.Errorf("Redis.Port = %d, want 6379", cfg.Redis.Port)
	}
	if cfg.CORS.AllowedOrigins != "*" {
		t.Errorf("CORS.AllowedOrigins = %q, want %q", cfg.CORS.AllowedOrigins, "*")
	}
	if cfg.Model.Trees != 100 || cfg.Model.Seed != 42 || cfg.Model.TestFraction != 0.2 {
		t.Errorf("Model = %+v, want 100 trees, seed 42, test fraction 0.2", cfg.Model)
	}
	if cfg.Assistant.Model != "llama3-8b-8192" || cfg.Assistant.MaxTokens != 750 {
		t.Errorf("Assistant = %+v", cfg.Assistant)
	}
	if cfg.Assistant.Timeout != 30*time.Second {
		t.Errorf("Assistant.Timeout = %v, want 30s", cfg.Assistant.Timeout)
	}
	if cfg.Dispatcher.MinTier != "Mid-Level" {
		t.Errorf("Dispatcher.MinTier = %q", cfg.Dispatcher.MinTier)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadConfigCustom(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVER_PORT", "3000")
	t.Setenv("DB_HOST", "db.prod")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("JWT_EXPIRY_HOURS", "48")
	t.Setenv("MODEL_TEST_FRACTION", "0.25")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000", cfg.Server.Port)
	}
	if cfg.Database.Host != "db.prod" {
		t.Errorf("Database.Host = %q, want %q", cfg.Database.Host, "db.prod")
	}
	if cfg.Database.Port != 5433 {
		t.Errorf("Database.Port = %d, want 5433", cfg.Database.Port)
	}
	if cfg.JWT.ExpiryHours != 48 {
		t.Errorf("JWT.ExpiryHours = %d, want 48", cfg.JWT.ExpiryHours)
	}
	if cfg.Model.TestFraction != 0.25 {
		t.Errorf("Model.TestFraction = %v, want 0.25", cfg.Model.TestFraction)
	}
}

func TestLoadConfigInvalidPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVER_PORT", "invalid")

	_, err := LoadConfig()
	if err == nil {
		t.Fatal("expected error for invalid SERVER_PORT")
	}
	if !strings.Contains(err.Error(), "SERVER_PORT") {
		t.Errorf("error should name the key, got: %v", err)
	}
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "server_port: 9090\nredis_host: redis.internal\nlog_format: text\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("REDIS_HOST", "redis.env")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090 from file", cfg.Server.Port)
	}
	if cfg.Redis.Host != "redis.env" {
		t.Errorf("Redis.Host = %q, env should override file", cfg.Redis.Host)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %q, want text", cfg.Logging.Format)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := LoadConfig(); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	base, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"empty secret", func(c *Config) { c.JWT.Secret = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"zero trees", func(c *Config) { c.Model.Trees = 0 }},
		{"test fraction one", func(c *Config) { c.Model.TestFraction = 1 }},
		{"unknown tier", func(c *Config) { c.Dispatcher.MinTier = "severe" }},
		{"archive without bucket", func(c *Config) { c.Archive.Enabled = true; c.Archive.Bucket = "" }},
		{"telegram without token", func(c *Config) { c.Telegram.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
