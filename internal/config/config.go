// Package config holds the process configuration, loaded from defaults, an
// optional YAML/JSON file and HYDRA_* environment overrides.
package config

import (
	"fmt"
	"net/url"
	"time"
)

// Settings is the full runtime configuration.
type Settings struct {
	// DatabaseURL is the SQLite database path or DSN.
	DatabaseURL string `yaml:"database_url" json:"database_url"`

	// Webhook notification of the upstream catalog service.
	WebhookURL     string `yaml:"webhook_url" json:"webhook_url"`
	WebhookEnabled bool   `yaml:"webhook_enabled" json:"webhook_enabled"`
	WebhookToken   string `yaml:"webhook_token" json:"webhook_token"`

	// APIToken protects the mutating admin endpoints; read endpoints are open.
	APIToken string `yaml:"api_token" json:"api_token"`

	// Crawler behavior.
	UserAgent           string        `yaml:"user_agent" json:"user_agent"`
	MaxFilesizeAllowed  int64         `yaml:"max_filesize_allowed" json:"max_filesize_allowed"`
	SleepBetweenBatches time.Duration `yaml:"sleep_between_batches" json:"sleep_between_batches"`
	BatchSize           int           `yaml:"batch_size" json:"batch_size"`
	Concurrency         int           `yaml:"concurrency" json:"concurrency"`
	ExcludedPatterns    []string      `yaml:"excluded_patterns" json:"excluded_patterns"`
	CheckDelayDays      float64       `yaml:"check_delay_days" json:"check_delay_days"`
	RequestTimeout      time.Duration `yaml:"request_timeout" json:"request_timeout"`

	// HTTP server.
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`

	// Logging.
	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() *Settings {
	return &Settings{
		DatabaseURL:         "hydra.db",
		WebhookEnabled:      false,
		UserAgent:           "hydra-go/1.0 (crawler)",
		MaxFilesizeAllowed:  100 * 1024 * 1024,
		SleepBetweenBatches: 60 * time.Second,
		BatchSize:           100,
		Concurrency:         10,
		CheckDelayDays:      7,
		RequestTimeout:      30 * time.Second,
		ListenAddr:          ":8000",
		LogLevel:            "info",
		LogFormat:           "auto",
	}
}

// Validate checks the final configuration for values the process cannot run
// with.
func (s *Settings) Validate() error {
	if s.DatabaseURL == "" {
		return fmt.Errorf("database_url must be set")
	}
	if s.WebhookEnabled {
		if s.WebhookURL == "" {
			return fmt.Errorf("webhook_url must be set when webhook is enabled")
		}
		if _, err := url.ParseRequestURI(s.WebhookURL); err != nil {
			return fmt.Errorf("invalid webhook_url: %w", err)
		}
	}
	if s.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", s.BatchSize)
	}
	if s.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", s.Concurrency)
	}
	if s.MaxFilesizeAllowed <= 0 {
		return fmt.Errorf("max_filesize_allowed must be positive, got %d", s.MaxFilesizeAllowed)
	}
	if s.CheckDelayDays <= 0 {
		return fmt.Errorf("check_delay_days must be positive, got %g", s.CheckDelayDays)
	}
	if s.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", s.RequestTimeout)
	}
	return nil
}

// CheckDelay returns the default minimum interval between two checks of the
// same resource.
func (s *Settings) CheckDelay() time.Duration {
	return time.Duration(s.CheckDelayDays * float64(24*time.Hour))
}
