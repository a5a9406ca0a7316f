package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"tillsync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App          AppConfig          `yaml:"app"`
	Terminal     TerminalConfig     `yaml:"terminal"`
	Database     DatabaseConfig     `yaml:"database"`
	Remote       RemoteConfig       `yaml:"remote"`
	Sync         SyncConfig         `yaml:"sync"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Redis        RedisConfig        `yaml:"redis"`
	Backup       BackupConfig       `yaml:"backup"`
	Monitoring   MonitoringConfig   `yaml:"monitoring"`
	Logging      LoggingConfig      `yaml:"logging"`
	API          APIConfig          `yaml:"api"`
	Exports      ExportConfig       `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type TerminalConfig struct {
	ID       string `yaml:"id"`
	StoreID  string `yaml:"store_id"`
	Currency string `yaml:"currency"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RemoteConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKey      string `yaml:"api_key"`
	TimeoutSec  int    `yaml:"timeout_sec"`
	HealthPath  string `yaml:"health_path"`
	IngestPath  string `yaml:"ingest_path"`
	UserAgent   string `yaml:"user_agent"`
	TLSInsecure bool   `yaml:"tls_insecure"`
}

type SyncConfig struct {
	IntervalSec      int `yaml:"interval_sec"`
	MaxRetries       int `yaml:"max_retries"`
	BackoffBaseSec   int `yaml:"backoff_base_sec"`
	BackoffMaxSec    int `yaml:"backoff_max_sec"`
	SubmitTimeoutSec int `yaml:"submit_timeout_sec"`
	RetentionDays    int `yaml:"retention_days"`
	BatchSize        int `yaml:"batch_size"`
}

type ConnectivityConfig struct {
	ProbeIntervalSec int `yaml:"probe_interval_sec"`
	OfflineThreshold int `yaml:"offline_threshold"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
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

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env необязателен, но если есть, подхватываем перед ExpandEnv
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

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
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Remote.BaseURL == "" {
		return errors.New("remote base_url is required")
	}

	if c.Sync.BackoffBaseSec > c.Sync.BackoffMaxSec {
		return fmt.Errorf("sync backoff_base_sec %d exceeds backoff_max_sec %d",
			c.Sync.BackoffBaseSec, c.Sync.BackoffMaxSec)
	}

	if c.API.Enabled && c.API.Auth.Enabled && len(c.API.Auth.APIKeys) == 0 {
		return errors.New("api auth enabled but no api_keys configured")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.API.Port == 0 {
		c.API.Port = 8090
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}

	if c.Terminal.Currency == "" {
		c.Terminal.Currency = "EUR"
	}

	if c.Remote.TimeoutSec == 0 {
		c.Remote.TimeoutSec = models.DefaultSubmitTimeoutSec
	}
	if c.Remote.HealthPath == "" {
		c.Remote.HealthPath = "/v1/health"
	}
	if c.Remote.IngestPath == "" {
		c.Remote.IngestPath = "/v1/sales"
	}
	if c.Remote.UserAgent == "" {
		c.Remote.UserAgent = "tillsync/" + c.App.Version
	}

	if c.Sync.IntervalSec == 0 {
		c.Sync.IntervalSec = models.DefaultSyncIntervalSec
	}
	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = models.DefaultMaxRetries
	}
	if c.Sync.BackoffBaseSec == 0 {
		c.Sync.BackoffBaseSec = models.DefaultBackoffBaseSec
	}
	if c.Sync.BackoffMaxSec == 0 {
		c.Sync.BackoffMaxSec = models.DefaultBackoffMaxSec
	}
	if c.Sync.SubmitTimeoutSec == 0 {
		c.Sync.SubmitTimeoutSec = models.DefaultSubmitTimeoutSec
	}
	if c.Sync.RetentionDays == 0 {
		c.Sync.RetentionDays = models.DefaultRetentionDays
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = models.DefaultBatchSize
	}

	if c.Connectivity.ProbeIntervalSec == 0 {
		c.Connectivity.ProbeIntervalSec = models.DefaultProbeIntervalSec
	}
	if c.Connectivity.OfflineThreshold == 0 {
		c.Connectivity.OfflineThreshold = models.DefaultOfflineThreshold
	}
}

// SyncInterval возвращает интервал автоматической синхронизации
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Sync.IntervalSec) * time.Second
}

// SubmitTimeout возвращает таймаут одной отправки
func (c *Config) SubmitTimeout() time.Duration {
	return time.Duration(c.Sync.SubmitTimeoutSec) * time.Second
}

// ProbeInterval возвращает интервал проверки доступности
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.Connectivity.ProbeIntervalSec) * time.Second
}
