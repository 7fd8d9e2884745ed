package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"slotter/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App           AppConfig           `yaml:"app"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Logging       LoggingConfig       `yaml:"logging"`
	Monitoring    MonitoringConfig    `yaml:"monitoring"`
	API           APIConfig           `yaml:"api"`
	Scheduling    SchedulingConfig    `yaml:"scheduling"`
	Escalation    EscalationConfig    `yaml:"escalation"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Providers     []models.Provider   `yaml:"providers"`
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
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
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

// SchedulingConfig tunes booking-time validation.
type SchedulingConfig struct {
	MinLeadMinutes         int `yaml:"min_lead_minutes"`
	AssumedDurationMinutes int `yaml:"assumed_duration_minutes"`
}

// EscalationConfig tunes the auto-cancel and unblock sweepers.
type EscalationConfig struct {
	SweepIntervalMinutes   int `yaml:"sweep_interval_minutes"`
	PendingTimeoutHours    int `yaml:"pending_timeout_hours"`
	StrikeWindowDays       int `yaml:"strike_window_days"`
	StrikeThreshold        int `yaml:"strike_threshold"`
	BlockDurationHours     int `yaml:"block_duration_hours"`
	UnblockIntervalMinutes int `yaml:"unblock_interval_minutes"`
}

type NotificationsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	TelegramToken string `yaml:"telegram_token"`
	QueueSize     int    `yaml:"queue_size"`
}

// Load reads the YAML config, expanding ${VAR} references from the
// environment (a .env file is honored when present).
func Load(configPath string) (*Config, error) {
	// .env is optional outside local development.
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
	if c.Escalation.StrikeThreshold < 1 {
		return errors.New("escalation strike_threshold must be at least 1")
	}
	if c.Notifications.Enabled && c.Notifications.TelegramToken == "" {
		return errors.New("notifications.telegram_token is required when notifications are enabled")
	}
	return ValidateProviders(c.Providers)
}

func ValidateProviders(providers []models.Provider) error {
	seen := make(map[int64]bool)
	for _, p := range providers {
		if p.ID == 0 {
			return fmt.Errorf("provider '%s' has invalid ID 0", p.Name)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate provider ID found: %d", p.ID)
		}
		seen[p.ID] = true
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

	if c.Scheduling.MinLeadMinutes == 0 {
		c.Scheduling.MinLeadMinutes = int(models.MinLeadTime / time.Minute)
	}
	if c.Scheduling.AssumedDurationMinutes == 0 {
		c.Scheduling.AssumedDurationMinutes = int(models.AssumedDuration / time.Minute)
	}

	if c.Escalation.SweepIntervalMinutes == 0 {
		c.Escalation.SweepIntervalMinutes = int(models.AutoCancelInterval / time.Minute)
	}
	if c.Escalation.PendingTimeoutHours == 0 {
		c.Escalation.PendingTimeoutHours = int(models.AutoCancelTimeout / time.Hour)
	}
	if c.Escalation.StrikeWindowDays == 0 {
		c.Escalation.StrikeWindowDays = int(models.StrikeWindow / (24 * time.Hour))
	}
	if c.Escalation.StrikeThreshold == 0 {
		c.Escalation.StrikeThreshold = models.StrikeThreshold
	}
	if c.Escalation.BlockDurationHours == 0 {
		c.Escalation.BlockDurationHours = int(models.BlockDuration / time.Hour)
	}
	if c.Escalation.UnblockIntervalMinutes == 0 {
		c.Escalation.UnblockIntervalMinutes = int(models.UnblockInterval / time.Minute)
	}

	if c.Notifications.QueueSize == 0 {
		c.Notifications.QueueSize = models.NotifyQueueSize
	}
}

// MinLead returns the configured minimum lead time.
func (c *SchedulingConfig) MinLead() time.Duration {
	return time.Duration(c.MinLeadMinutes) * time.Minute
}

// AssumedDuration returns the configured fallback request duration.
func (c *SchedulingConfig) AssumedDuration() time.Duration {
	return time.Duration(c.AssumedDurationMinutes) * time.Minute
}

// SweepInterval returns the auto-cancel sweep cadence.
func (c *EscalationConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}

// PendingTimeout returns the unanswered-request expiry.
func (c *EscalationConfig) PendingTimeout() time.Duration {
	return time.Duration(c.PendingTimeoutHours) * time.Hour
}

// StrikeWindow returns the trailing strike-count window.
func (c *EscalationConfig) StrikeWindow() time.Duration {
	return time.Duration(c.StrikeWindowDays) * 24 * time.Hour
}

// BlockDuration returns how long a struck service stays blocked.
func (c *EscalationConfig) BlockDuration() time.Duration {
	return time.Duration(c.BlockDurationHours) * time.Hour
}

// UnblockInterval returns the unblock sweep cadence.
func (c *EscalationConfig) UnblockInterval() time.Duration {
	return time.Duration(c.UnblockIntervalMinutes) * time.Minute
}
