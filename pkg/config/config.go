// Package config provides configuration management for corsmon.
package config

import (
	"fmt"
	"os"
	"time"
)

// Provider defines the interface for loading configuration
type Provider interface {
	LoadConfig() (*Config, error)
}

// Config is the complete corsmon configuration, read once at startup and
// immutable for the life of the process.
type Config struct {
	API       APIConfig       `yaml:"api"`
	Database  DatabaseConfig  `yaml:"database"`
	Mirror    MirrorConfig    `yaml:"mirror,omitempty"`
	Notify    NotifyConfig    `yaml:"notify"`
	HTTP      HTTPConfig      `yaml:"http"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Retention RetentionConfig `yaml:"retention"`
	Tracker   TrackerConfig   `yaml:"tracker"`
	Whitelist []string        `yaml:"whitelist,omitempty"`
	LogFile   string          `yaml:"log_file,omitempty"`
}

// APIConfig configures the remote RTK broadcast API client.
type APIConfig struct {
	BaseURL    string   `yaml:"base_url"`
	AccessKey  string   `yaml:"access_key,omitempty"`
	SecretKey  string   `yaml:"secret_key,omitempty"`
	SignMethod string   `yaml:"sign_method,omitempty"`
	Timeout    Duration `yaml:"timeout,omitempty"`
}

// DatabaseConfig configures the local SQLite sample store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// MirrorConfig configures optional secondary storage backends.
type MirrorConfig struct {
	TimescaleDB TimescaleDBConfig `yaml:"timescaledb,omitempty"`
}

// TimescaleDBConfig configures the TimescaleDB mirror engine.
type TimescaleDBConfig struct {
	ConnectionString string `yaml:"connection_string,omitempty"`
}

// NotifyConfig configures the webhook notification sink.
type NotifyConfig struct {
	WebhookURL string   `yaml:"webhook_url,omitempty"`
	Timeout    Duration `yaml:"timeout,omitempty"`
}

// HTTPConfig configures the management/report HTTP server.
type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr,omitempty"`
}

// ScheduleConfig holds the cadence of every periodic task. Each task runs on
// its own independent interval.
type ScheduleConfig struct {
	PollInterval          Duration `yaml:"poll_interval,omitempty"`
	StatusReportInterval  Duration `yaml:"status_report_interval,omitempty"`
	// StatusSummaryInterval is the cadence of the forced status overview,
	// sent even when no transitions occurred.
	StatusSummaryInterval Duration `yaml:"status_summary_interval,omitempty"`
	QualityReportInterval Duration `yaml:"quality_report_interval,omitempty"`
	RetentionInterval     Duration `yaml:"retention_interval,omitempty"`
}

// RetentionConfig bounds storage growth.
type RetentionConfig struct {
	Horizon Duration `yaml:"horizon,omitempty"`
}

// TrackerConfig makes the transition debounce policy explicit.
type TrackerConfig struct {
	// DebounceCycles is how many consecutive samples a new status must
	// persist before a transition is emitted. 1 means every edge fires.
	DebounceCycles int `yaml:"debounce_cycles,omitempty"`
	// StartupGrace suppresses alert delivery (not detection) for this long
	// after process start.
	StartupGrace Duration `yaml:"startup_grace,omitempty"`
}

// Duration wraps time.Duration with YAML unmarshalling from strings like
// "5m" or "24h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// D returns the wrapped time.Duration.
func (d Duration) D() time.Duration {
	return time.Duration(d)
}

// ApplyDefaults fills in every unset cadence and limit.
func (c *Config) ApplyDefaults() {
	if c.API.SignMethod == "" {
		c.API.SignMethod = "HmacSHA256"
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = Duration(10 * time.Second)
	}
	if c.Database.Path == "" {
		c.Database.Path = "corsmon.db"
	}
	if c.Notify.Timeout == 0 {
		c.Notify.Timeout = Duration(10 * time.Second)
	}
	if c.Schedule.PollInterval == 0 {
		c.Schedule.PollInterval = Duration(5 * time.Minute)
	}
	if c.Schedule.StatusReportInterval == 0 {
		c.Schedule.StatusReportInterval = Duration(15 * time.Minute)
	}
	if c.Schedule.StatusSummaryInterval == 0 {
		c.Schedule.StatusSummaryInterval = Duration(12 * time.Hour)
	}
	if c.Schedule.QualityReportInterval == 0 {
		c.Schedule.QualityReportInterval = Duration(time.Hour)
	}
	if c.Schedule.RetentionInterval == 0 {
		c.Schedule.RetentionInterval = Duration(24 * time.Hour)
	}
	if c.Retention.Horizon == 0 {
		c.Retention.Horizon = Duration(180 * 24 * time.Hour)
	}
	if c.Tracker.DebounceCycles == 0 {
		c.Tracker.DebounceCycles = 1
	}
	if c.Tracker.StartupGrace == 0 {
		c.Tracker.StartupGrace = Duration(10 * time.Minute)
	}
	if c.HTTP.ListenAddr == "" {
		c.HTTP.ListenAddr = ":8090"
	}
}

// ApplyEnv overlays secrets from the environment. Environment always wins
// over file values so credentials never need to live in the config file.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("CORSMON_API_ACCESS_KEY"); v != "" {
		c.API.AccessKey = v
	}
	if v := os.Getenv("CORSMON_API_SECRET_KEY"); v != "" {
		c.API.SecretKey = v
	}
	if v := os.Getenv("CORSMON_API_BASE_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("CORSMON_WEBHOOK_URL"); v != "" {
		c.Notify.WebhookURL = v
	}
}

// Validate checks that everything the monitoring engine needs is present.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.API.AccessKey == "" || c.API.SecretKey == "" {
		return fmt.Errorf("API credentials are required (api.access_key/api.secret_key or CORSMON_API_ACCESS_KEY/CORSMON_API_SECRET_KEY)")
	}
	return nil
}
