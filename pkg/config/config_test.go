package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corsmon.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
api:
  base_url: https://rtk.example.com
  access_key: ak
  secret_key: sk
  timeout: 30s
database:
  path: /var/lib/corsmon/corsmon.db
schedule:
  poll_interval: 2m
  quality_report_interval: 30m
retention:
  horizon: 4320h
tracker:
  debounce_cycles: 2
  startup_grace: 5m
whitelist:
  - HNI1
  - PYN1
`)

	cfg, err := NewYAMLProvider(path).LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.API.BaseURL != "https://rtk.example.com" {
		t.Errorf("BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.API.Timeout.D() != 30*time.Second {
		t.Errorf("API timeout = %v, want 30s", cfg.API.Timeout.D())
	}
	if cfg.Schedule.PollInterval.D() != 2*time.Minute {
		t.Errorf("poll interval = %v, want 2m", cfg.Schedule.PollInterval.D())
	}
	if cfg.Retention.Horizon.D() != 4320*time.Hour {
		t.Errorf("horizon = %v, want 4320h", cfg.Retention.Horizon.D())
	}
	if cfg.Tracker.DebounceCycles != 2 {
		t.Errorf("debounce cycles = %d, want 2", cfg.Tracker.DebounceCycles)
	}
	if len(cfg.Whitelist) != 2 || cfg.Whitelist[0] != "HNI1" {
		t.Errorf("whitelist = %v", cfg.Whitelist)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
api:
  base_url: https://rtk.example.com
  access_key: ak
  secret_key: sk
`)
	cfg, err := NewYAMLProvider(path).LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.API.SignMethod != "HmacSHA256" {
		t.Errorf("sign method = %q, want HmacSHA256", cfg.API.SignMethod)
	}
	if cfg.Schedule.PollInterval.D() != 5*time.Minute {
		t.Errorf("default poll interval = %v, want 5m", cfg.Schedule.PollInterval.D())
	}
	if cfg.Schedule.StatusReportInterval.D() != 15*time.Minute {
		t.Errorf("default status report interval = %v, want 15m", cfg.Schedule.StatusReportInterval.D())
	}
	if cfg.Schedule.StatusSummaryInterval.D() != 12*time.Hour {
		t.Errorf("default status summary interval = %v, want 12h", cfg.Schedule.StatusSummaryInterval.D())
	}
	if cfg.Retention.Horizon.D() != 180*24*time.Hour {
		t.Errorf("default horizon = %v, want 180 days", cfg.Retention.Horizon.D())
	}
	if cfg.Tracker.DebounceCycles != 1 {
		t.Errorf("default debounce cycles = %d, want 1", cfg.Tracker.DebounceCycles)
	}
	if cfg.HTTP.ListenAddr != ":8090" {
		t.Errorf("default listen addr = %q, want :8090", cfg.HTTP.ListenAddr)
	}
	if cfg.Database.Path != "corsmon.db" {
		t.Errorf("default db path = %q", cfg.Database.Path)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
api:
  base_url: https://file.example.com
  access_key: file-ak
  secret_key: file-sk
`)
	t.Setenv("CORSMON_API_ACCESS_KEY", "env-ak")
	t.Setenv("CORSMON_API_SECRET_KEY", "env-sk")
	t.Setenv("CORSMON_WEBHOOK_URL", "https://hooks.example.com/x")

	cfg, err := NewYAMLProvider(path).LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.API.AccessKey != "env-ak" || cfg.API.SecretKey != "env-sk" {
		t.Errorf("credentials = %q/%q, want env values", cfg.API.AccessKey, cfg.API.SecretKey)
	}
	if cfg.API.BaseURL != "https://file.example.com" {
		t.Errorf("base url = %q, want file value preserved", cfg.API.BaseURL)
	}
	if cfg.Notify.WebhookURL != "https://hooks.example.com/x" {
		t.Errorf("webhook url = %q", cfg.Notify.WebhookURL)
	}
}

func TestValidateRejectsMissingCredentials(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing base url", Config{API: APIConfig{AccessKey: "ak", SecretKey: "sk"}}},
		{"missing access key", Config{API: APIConfig{BaseURL: "https://x", SecretKey: "sk"}}},
		{"missing secret key", Config{API: APIConfig{BaseURL: "https://x", AccessKey: "ak"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestInvalidDuration(t *testing.T) {
	path := writeConfig(t, `
api:
  base_url: https://x
  timeout: soon
`)
	if _, err := NewYAMLProvider(path).LoadConfig(); err == nil {
		t.Fatal("expected error for unparseable duration")
	}
}
