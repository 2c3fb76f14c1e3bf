package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"streamcast/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Queue      QueueConfig      `yaml:"queue"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Sync       SyncConfig       `yaml:"sync"`
	Platforms  []PlatformConfig `yaml:"platforms"`
	Google     GoogleConfig     `yaml:"google"`
	API        APIConfig        `yaml:"api"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Exports    ExportConfig     `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
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

// QueueConfig selects the dispatch queue backend: memory, redis or
// asynq.
type QueueConfig struct {
	Backend string `yaml:"backend"`
}

type SchedulerConfig struct {
	PollInterval        time.Duration `yaml:"poll_interval"`
	BatchSize           int           `yaml:"batch_size"`
	Workers             int           `yaml:"workers"`
	PlatformConcurrency int           `yaml:"platform_concurrency"`
	PlatformRPS         float64       `yaml:"platform_rps"`
	PublishTimeout      time.Duration `yaml:"publish_timeout"`
	Retry               RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

// SyncConfig controls the remote-mirror reconciliation engine.
type SyncConfig struct {
	Enabled        bool   `yaml:"enabled"`
	ResyncSchedule string `yaml:"resync_schedule"`
}

type PlatformConfig struct {
	Name     string `yaml:"name"`
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Token    string `yaml:"token"`
}

type GoogleConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CredentialsFile string `yaml:"credentials_file"`
	CalendarID      string `yaml:"calendar_id"`
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
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
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

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; values referenced from the yaml via ${VAR}.
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expanded := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expanded, &config); err != nil {
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

	switch c.Queue.Backend {
	case "memory", "redis", "asynq":
	default:
		return fmt.Errorf("unknown queue backend: %s", c.Queue.Backend)
	}

	if (c.Queue.Backend == "redis" || c.Queue.Backend == "asynq") && c.Redis.Address == "" {
		return fmt.Errorf("queue backend %s requires redis.address", c.Queue.Backend)
	}

	if c.Google.Enabled {
		if c.Google.CredentialsFile == "" {
			return errors.New("google.credentials_file is required when google is enabled")
		}
		if c.Google.CalendarID == "" {
			return errors.New("google.calendar_id is required when google is enabled")
		}
	}

	return ValidatePlatforms(c.Platforms)
}

func ValidatePlatforms(platforms []PlatformConfig) error {
	seen := make(map[string]bool)
	for _, p := range platforms {
		if p.Name == "" {
			return errors.New("platform with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate platform: %s", p.Name)
		}
		seen[p.Name] = true
		if p.Enabled && p.Endpoint == "" {
			return fmt.Errorf("platform %s is enabled but has no endpoint", p.Name)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Queue.Backend == "" {
		c.Queue.Backend = "memory"
	}

	if c.Scheduler.PollInterval == 0 {
		c.Scheduler.PollInterval = 5 * time.Second
	}
	if c.Scheduler.BatchSize == 0 {
		c.Scheduler.BatchSize = models.DefaultSelectorBatchSize
	}
	if c.Scheduler.Workers == 0 {
		c.Scheduler.Workers = models.DefaultWorkerCount
	}
	if c.Scheduler.PlatformConcurrency == 0 {
		c.Scheduler.PlatformConcurrency = models.DefaultPlatformConcurrency
	}
	if c.Scheduler.PlatformRPS == 0 {
		c.Scheduler.PlatformRPS = 5
	}
	if c.Scheduler.PublishTimeout == 0 {
		c.Scheduler.PublishTimeout = models.DefaultPublishTimeoutSeconds * time.Second
	}

	if c.Scheduler.Retry.MaxRetries == 0 {
		c.Scheduler.Retry.MaxRetries = models.DefaultMaxRetries
	}
	if c.Scheduler.Retry.InitialDelay == 0 {
		c.Scheduler.Retry.InitialDelay = 2 * time.Second
	}
	if c.Scheduler.Retry.MaxDelay == 0 {
		c.Scheduler.Retry.MaxDelay = time.Minute
	}
	if c.Scheduler.Retry.BackoffFactor == 0 {
		c.Scheduler.Retry.BackoffFactor = 2
	}

	if c.Sync.ResyncSchedule == "" {
		c.Sync.ResyncSchedule = "@every 10m"
	}

	if c.API.Enabled {
		if c.API.Port == 0 {
			c.API.Port = 8080
		}
		if c.API.Auth.HeaderAPIKey == "" {
			c.API.Auth.HeaderAPIKey = "x-api-key"
		}
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
