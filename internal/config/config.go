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
	App          AppConfig          `yaml:"app"`
	Logging      LoggingConfig      `yaml:"logging"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Backend      BackendConfig      `yaml:"backend"`
	Queue        QueueConfig        `yaml:"queue"`
	Breaker      BreakerConfig      `yaml:"breaker"`
	Auth         AuthConfig         `yaml:"auth"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Sync         SyncConfig         `yaml:"sync"`
	Monitoring   MonitoringConfig   `yaml:"monitoring"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
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

type BackendConfig struct {
	BaseURL        string        `yaml:"base_url"`
	HealthPath     string        `yaml:"health_path"`
	CSRFPath       string        `yaml:"csrf_path"`
	RefreshPath    string        `yaml:"refresh_path"`
	LoginPath      string        `yaml:"login_path"`
	LogoutPath     string        `yaml:"logout_path"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type QueueConfig struct {
	MaxSize    int           `yaml:"max_size"`
	MaxRetries int           `yaml:"max_retries"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

type BreakerConfig struct {
	MinVolume  int           `yaml:"min_volume"`
	Threshold  float64       `yaml:"threshold"`
	Window     time.Duration `yaml:"window"`
	MaxSamples int           `yaml:"max_samples"`
}

type AuthConfig struct {
	MaxParked      int           `yaml:"max_parked"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout"`
	RefreshLead    time.Duration `yaml:"refresh_lead"`
}

type ConnectivityConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type SyncConfig struct {
	RPS              float64 `yaml:"rps"`
	Burst            int     `yaml:"burst"`
	CleanupAfterDays int     `yaml:"cleanup_after_days"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	AdminPort         int  `yaml:"admin_port"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; a missing file is not an error.
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

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
	if c.Backend.BaseURL == "" {
		return errors.New("backend base_url is required")
	}

	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Breaker.Threshold < 0 || c.Breaker.Threshold > 1 {
		return fmt.Errorf("breaker threshold must be in [0,1], got %v", c.Breaker.Threshold)
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "synckit"
	}

	if c.Backend.HealthPath == "" {
		c.Backend.HealthPath = "/health"
	}
	if c.Backend.CSRFPath == "" {
		c.Backend.CSRFPath = "/auth/csrf"
	}
	if c.Backend.RefreshPath == "" {
		c.Backend.RefreshPath = "/auth/refresh"
	}
	if c.Backend.LoginPath == "" {
		c.Backend.LoginPath = "/auth/login"
	}
	if c.Backend.LogoutPath == "" {
		c.Backend.LogoutPath = "/auth/logout"
	}
	if c.Backend.RequestTimeout == 0 {
		c.Backend.RequestTimeout = 15 * time.Second
	}

	if c.Queue.MaxSize == 0 {
		c.Queue.MaxSize = 1000
	}
	if c.Queue.MaxRetries == 0 {
		c.Queue.MaxRetries = 5
	}
	if c.Queue.DefaultTTL == 0 {
		c.Queue.DefaultTTL = 24 * time.Hour
	}

	if c.Breaker.MinVolume == 0 {
		c.Breaker.MinVolume = 5
	}
	if c.Breaker.Threshold == 0 {
		c.Breaker.Threshold = 0.5
	}
	if c.Breaker.Window == 0 {
		c.Breaker.Window = time.Minute
	}
	if c.Breaker.MaxSamples == 0 {
		c.Breaker.MaxSamples = 100
	}

	if c.Auth.MaxParked == 0 {
		c.Auth.MaxParked = 50
	}
	if c.Auth.RefreshTimeout == 0 {
		c.Auth.RefreshTimeout = 30 * time.Second
	}
	if c.Auth.RefreshLead == 0 {
		c.Auth.RefreshLead = 5 * time.Minute
	}

	if c.Connectivity.PollInterval == 0 {
		c.Connectivity.PollInterval = 10 * time.Second
	}

	if c.Sync.RPS == 0 {
		c.Sync.RPS = 1
	}
	if c.Sync.Burst == 0 {
		c.Sync.Burst = 2
	}
	if c.Sync.CleanupAfterDays == 0 {
		c.Sync.CleanupAfterDays = 7
	}

	if c.Monitoring.AdminPort == 0 {
		c.Monitoring.AdminPort = 8090
	}
}
