package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Remote     RemoteConfig     `yaml:"remote"`
	Realtime   RealtimeConfig   `yaml:"realtime"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Sync       SyncConfig       `yaml:"sync"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Exports    ExportConfig     `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

// RemoteConfig describes the REST service the queue syncs against.
type RemoteConfig struct {
	BaseURL      string `yaml:"base_url"`
	APIKey       string `yaml:"api_key"`
	BearerToken  string `yaml:"bearer_token"`
	TimeoutSec   int    `yaml:"timeout_seconds"`
	ProbeTimeout int    `yaml:"probe_timeout_seconds"`
	ProbeEvery   int    `yaml:"probe_interval_seconds"`
}

// RealtimeConfig describes the websocket push channel.
type RealtimeConfig struct {
	Enabled       bool     `yaml:"enabled"`
	URL           string   `yaml:"url"`
	Rooms         []string `yaml:"rooms"`
	ReconnectBase int      `yaml:"reconnect_base_seconds"`
	ReconnectMax  int      `yaml:"reconnect_max_seconds"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// SyncConfig carries the background queue retry policy.
type SyncConfig struct {
	MaxRetries     int     `yaml:"max_retries"`
	InitialDelayMs int     `yaml:"initial_delay_ms"`
	MaxDelayMs     int     `yaml:"max_delay_ms"`
	JitterFraction float64 `yaml:"jitter_fraction"`
	PollIntervalMs int     `yaml:"poll_interval_ms"`
	BatchSize      int     `yaml:"batch_size"`
}

// ReconcilerConfig carries the open-conversation refresh behavior.
type ReconcilerConfig struct {
	PollIntervalSec   int `yaml:"poll_interval_seconds"`
	DebounceMs        int `yaml:"debounce_ms"`
	NotFoundThreshold int `yaml:"not_found_threshold"`
	RetryDelayMs      int `yaml:"retry_delay_ms"`
	MaxRetries        int `yaml:"max_retries"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Port      int                `yaml:"port"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// TelegramConfig enables operator alerts on dead-lettered sync operations.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// Загружаем .env файл если существует
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Remote.BaseURL == "" {
		return errors.New("remote base_url is required")
	}

	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Sync.JitterFraction < 0 || c.Sync.JitterFraction > 1 {
		return fmt.Errorf("sync jitter_fraction must be within [0,1], got %v", c.Sync.JitterFraction)
	}

	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return errors.New("telegram alerts enabled but bot_token is empty")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}

	if c.Remote.TimeoutSec == 0 {
		c.Remote.TimeoutSec = 10
	}
	if c.Remote.ProbeTimeout == 0 {
		c.Remote.ProbeTimeout = 5
	}
	if c.Remote.ProbeEvery == 0 {
		c.Remote.ProbeEvery = 300
	}

	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = 5
	}
	if c.Sync.InitialDelayMs == 0 {
		c.Sync.InitialDelayMs = 1000
	}
	if c.Sync.MaxDelayMs == 0 {
		c.Sync.MaxDelayMs = 60000
	}
	if c.Sync.JitterFraction == 0 {
		c.Sync.JitterFraction = 0.2
	}
	if c.Sync.PollIntervalMs == 0 {
		c.Sync.PollIntervalMs = 2000
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = 20
	}

	if c.Reconciler.PollIntervalSec == 0 {
		c.Reconciler.PollIntervalSec = 30
	}
	if c.Reconciler.DebounceMs == 0 {
		c.Reconciler.DebounceMs = 300
	}
	if c.Reconciler.NotFoundThreshold == 0 {
		c.Reconciler.NotFoundThreshold = 3
	}
	if c.Reconciler.RetryDelayMs == 0 {
		c.Reconciler.RetryDelayMs = 500
	}
	if c.Reconciler.MaxRetries == 0 {
		c.Reconciler.MaxRetries = 3
	}

	if c.Realtime.ReconnectBase == 0 {
		c.Realtime.ReconnectBase = 1
	}
	if c.Realtime.ReconnectMax == 0 {
		c.Realtime.ReconnectMax = 300
	}
}

// RemoteTimeout returns the request timeout as a duration.
func (c RemoteConfig) RemoteTimeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}
