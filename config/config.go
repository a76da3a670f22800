package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"railway-accident-analytics/severity"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	JWT        JWTConfig
	Redis      RedisConfig
	CORS       CORSConfig
	WS         WSConfig
	Logging    LoggingConfig
	Model      ModelConfig
	Assistant  AssistantConfig
	Archive    ArchiveConfig
	MQTT       MQTTConfig
	Scorer     ScorerConfig
	Dispatcher DispatcherConfig
	Telegram   TelegramConfig
	Metrics    MetricsConfig
}

type ServerConfig struct {
	Port        int
	Mode        string
	MaxUploadMB int
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	Migrate  bool
	MaxConns int
}

func (d DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

// GetURL returns the postgres URL form used by pgx and migrations.
func (d DatabaseConfig) GetURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type JWTConfig struct {
	Secret      string
	ExpiryHours int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (r RedisConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type CORSConfig struct {
	AllowedOrigins string
}

type WSConfig struct {
	PollIntervalMS int
}

type LoggingConfig struct {
	Level  string
	Format string
}

type ModelConfig struct {
	Trees        int
	MaxDepth     int
	Seed         int64
	TestFraction float64
	Workers      int
	SnapshotDB   string
}

type AssistantConfig struct {
	APIURL     string
	APIKey     string
	Model      string
	MaxTokens  int
	Timeout    time.Duration
	RatePerSec float64
	CacheSize  int
}

type ArchiveConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
}

type ScorerConfig struct {
	Interval time.Duration
}

type DispatcherConfig struct {
	Interval time.Duration
	MinTier  string
}

type TelegramConfig struct {
	Enabled    bool
	BotToken   string
	ChatID     int64
	MaxRetries int
}

type MetricsConfig struct {
	Addr string
}

var defaults = map[string]any{
	"SERVER_PORT":          8080,
	"SERVER_MODE":          "debug",
	"SERVER_MAX_UPLOAD_MB": 32,

	"DB_HOST":      "localhost",
	"DB_PORT":      5432,
	"DB_USER":      "railway",
	"DB_PASSWORD":  "railway_dev_password",
	"DB_NAME":      "railway",
	"DB_SSLMODE":   "disable",
	"DB_MIGRATE":   false,
	"DB_MAX_CONNS": 10,

	"JWT_SECRET":       "dev-secret-change-me",
	"JWT_EXPIRY_HOURS": 24,

	"REDIS_HOST":     "localhost",
	"REDIS_PORT":     6379,
	"REDIS_PASSWORD": "",
	"REDIS_DB":       0,

	"CORS_ALLOWED_ORIGINS": "*",
	"WS_POLL_INTERVAL_MS":  1000,

	"LOG_LEVEL":  "info",
	"LOG_FORMAT": "json",

	"MODEL_TREES":         100,
	"MODEL_MAX_DEPTH":     0,
	"MODEL_SEED":          42,
	"MODEL_TEST_FRACTION": 0.2,
	"MODEL_WORKERS":       0,
	"MODEL_SNAPSHOT_DB":   "data/pipelines.db",

	"ASSISTANT_API_URL":      "https://api.groq.com/openai/v1/chat/completions",
	"ASSISTANT_API_KEY":      "",
	"ASSISTANT_MODEL":        "llama3-8b-8192",
	"ASSISTANT_MAX_TOKENS":   750,
	"ASSISTANT_TIMEOUT_SEC":  30,
	"ASSISTANT_RATE_PER_SEC": 1.0,
	"ASSISTANT_CACHE_SIZE":   256,

	"ARCHIVE_ENABLED":  false,
	"MINIO_ENDPOINT":   "localhost:9000",
	"MINIO_ACCESS_KEY": "",
	"MINIO_SECRET_KEY": "",
	"MINIO_BUCKET":     "railway-datasets",
	"MINIO_USE_SSL":    false,

	"MQTT_BROKER":    "tcp://localhost:1883",
	"MQTT_TOPIC":     "railway/accidents/+",
	"MQTT_CLIENT_ID": "railway-ingestor",

	"SCORER_INTERVAL_SEC": 300,

	"DISPATCH_INTERVAL_SEC": 60,
	"DISPATCH_MIN_TIER":     "Mid-Level",

	"TELEGRAM_ENABLED":     false,
	"TELEGRAM_BOT_TOKEN":   "",
	"TELEGRAM_CHAT_ID":     0,
	"TELEGRAM_MAX_RETRIES": 3,

	"METRICS_ADDR": ":9100",
}

// LoadConfig reads defaults, then the optional YAML file named by
// CONFIG_FILE, then the environment. Later sources win.
func LoadConfig() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	r := reader{v: v}
	cfg := &Config{
		Server: ServerConfig{
			Port:        r.int("SERVER_PORT"),
			Mode:        v.GetString("SERVER_MODE"),
			MaxUploadMB: r.int("SERVER_MAX_UPLOAD_MB"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     r.int("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			Name:     v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
			Migrate:  r.bool("DB_MIGRATE"),
			MaxConns: r.int("DB_MAX_CONNS"),
		},
		JWT: JWTConfig{
			Secret:      v.GetString("JWT_SECRET"),
			ExpiryHours: r.int("JWT_EXPIRY_HOURS"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     r.int("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       r.int("REDIS_DB"),
		},
		CORS: CORSConfig{AllowedOrigins: v.GetString("CORS_ALLOWED_ORIGINS")},
		WS:   WSConfig{PollIntervalMS: r.int("WS_POLL_INTERVAL_MS")},
		Logging: LoggingConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
		Model: ModelConfig{
			Trees:        r.int("MODEL_TREES"),
			MaxDepth:     r.int("MODEL_MAX_DEPTH"),
			Seed:         r.int64("MODEL_SEED"),
			TestFraction: r.float("MODEL_TEST_FRACTION"),
			Workers:      r.int("MODEL_WORKERS"),
			SnapshotDB:   v.GetString("MODEL_SNAPSHOT_DB"),
		},
		Assistant: AssistantConfig{
			APIURL:     v.GetString("ASSISTANT_API_URL"),
			APIKey:     v.GetString("ASSISTANT_API_KEY"),
			Model:      v.GetString("ASSISTANT_MODEL"),
			MaxTokens:  r.int("ASSISTANT_MAX_TOKENS"),
			Timeout:    time.Duration(r.int("ASSISTANT_TIMEOUT_SEC")) * time.Second,
			RatePerSec: r.float("ASSISTANT_RATE_PER_SEC"),
			CacheSize:  r.int("ASSISTANT_CACHE_SIZE"),
		},
		Archive: ArchiveConfig{
			Enabled:   r.bool("ARCHIVE_ENABLED"),
			Endpoint:  v.GetString("MINIO_ENDPOINT"),
			AccessKey: v.GetString("MINIO_ACCESS_KEY"),
			SecretKey: v.GetString("MINIO_SECRET_KEY"),
			Bucket:    v.GetString("MINIO_BUCKET"),
			UseSSL:    r.bool("MINIO_USE_SSL"),
		},
		MQTT: MQTTConfig{
			Broker:   v.GetString("MQTT_BROKER"),
			Topic:    v.GetString("MQTT_TOPIC"),
			ClientID: v.GetString("MQTT_CLIENT_ID"),
		},
		Scorer: ScorerConfig{
			Interval: time.Duration(r.int("SCORER_INTERVAL_SEC")) * time.Second,
		},
		Dispatcher: DispatcherConfig{
			Interval: time.Duration(r.int("DISPATCH_INTERVAL_SEC")) * time.Second,
			MinTier:  v.GetString("DISPATCH_MIN_TIER"),
		},
		Telegram: TelegramConfig{
			Enabled:    r.bool("TELEGRAM_ENABLED"),
			BotToken:   v.GetString("TELEGRAM_BOT_TOKEN"),
			ChatID:     r.int64("TELEGRAM_CHAT_ID"),
			MaxRetries: r.int("TELEGRAM_MAX_RETRIES"),
		},
		Metrics: MetricsConfig{Addr: v.GetString("METRICS_ADDR")},
	}
	if r.err != nil {
		return nil, r.err
	}
	return cfg, nil
}

// reader converts values with cast and keeps the first conversion error.
type reader struct {
	v   *viper.Viper
	err error
}

func (r *reader) fail(key string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func (r *reader) int(key string) int {
	n, err := cast.ToIntE(r.v.Get(key))
	if err != nil {
		r.fail(key, err)
	}
	return n
}

func (r *reader) int64(key string) int64 {
	n, err := cast.ToInt64E(r.v.Get(key))
	if err != nil {
		r.fail(key, err)
	}
	return n
}

func (r *reader) float(key string) float64 {
	f, err := cast.ToFloat64E(r.v.Get(key))
	if err != nil {
		r.fail(key, err)
	}
	return f
}

func (r *reader) bool(key string) bool {
	b, err := cast.ToBoolE(r.v.Get(key))
	if err != nil {
		r.fail(key, err)
	}
	return b
}

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "warning": true,
	"error": true, "fatal": true, "panic": true,
}

// Validate checks ranges and the secrets required by enabled features.
func (c *Config) Validate() error {
	var errs []error
	checkPort := func(name string, port int) {
		if port <= 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("invalid %s: %d", name, port))
		}
	}
	checkPort("server port", c.Server.Port)
	checkPort("database port", c.Database.Port)
	checkPort("redis port", c.Redis.Port)

	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("JWT secret is required"))
	}
	if c.JWT.ExpiryHours <= 0 {
		errs = append(errs, fmt.Errorf("invalid JWT expiry: %d hours", c.JWT.ExpiryHours))
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Errorf("invalid log level: %s", c.Logging.Level))
	}
	if f := strings.ToLower(c.Logging.Format); f != "json" && f != "text" {
		errs = append(errs, fmt.Errorf("invalid log format: %s", c.Logging.Format))
	}
	if c.Model.Trees <= 0 {
		errs = append(errs, fmt.Errorf("invalid model trees: %d", c.Model.Trees))
	}
	if c.Model.TestFraction <= 0 || c.Model.TestFraction >= 1 {
		errs = append(errs, fmt.Errorf("invalid model test fraction: %v", c.Model.TestFraction))
	}
	if _, err := severity.ParseTier(c.Dispatcher.MinTier); err != nil {
		errs = append(errs, fmt.Errorf("invalid dispatch min tier: %w", err))
	}
	if c.Archive.Enabled && (c.Archive.Endpoint == "" || c.Archive.Bucket == "") {
		errs = append(errs, errors.New("archive enabled but MINIO_ENDPOINT or MINIO_BUCKET is empty"))
	}
	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.ChatID == 0) {
		errs = append(errs, errors.New("telegram enabled but TELEGRAM_BOT_TOKEN or TELEGRAM_CHAT_ID is empty"))
	}
	return errors.Join(errs...)
}
