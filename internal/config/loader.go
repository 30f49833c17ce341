package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Loader assembles Settings from defaults, an optional config file and
// environment variables, in that order of precedence.
type Loader struct {
	settings    *Settings
	configPaths []string
	envPrefix   string
}

// NewLoader creates a loader with the default search paths.
func NewLoader() *Loader {
	return &Loader{
		settings:  DefaultSettings(),
		envPrefix: "HYDRA_",
		configPaths: []string{
			"/etc/hydra/hydra.yml",
			"/etc/hydra/hydra.yaml",
			"/etc/hydra/hydra.json",
			"./hydra.yml",
			"./hydra.yaml",
			"./hydra.json",
		},
	}
}

// SetConfigPath prepends a custom config path to the search list.
func (l *Loader) SetConfigPath(path string) {
	l.configPaths = append([]string{path}, l.configPaths...)
}

// Load resolves the final configuration and validates it.
func (l *Loader) Load() (*Settings, error) {
	if err := l.loadFromFile(); err != nil {
		log.Debug().Err(err).Msg("No config file loaded, using defaults")
	}
	l.loadFromEnv()

	if err := l.settings.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return l.settings, nil
}

func (l *Loader) loadFromFile() error {
	var configPath string
	for _, path := range l.configPaths {
		if _, err := os.Stat(path); err == nil {
			configPath = path
			break
		}
	}
	if configPath == "" {
		return fmt.Errorf("no config file found")
	}

	log.Info().Str("path", configPath).Msg("Loading configuration file")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(configPath)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, l.settings); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, l.settings); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
	return nil
}

func (l *Loader) loadFromEnv() {
	s := l.settings
	l.envString("DATABASE_URL", &s.DatabaseURL)
	l.envString("WEBHOOK_URL", &s.WebhookURL)
	l.envBool("WEBHOOK_ENABLED", &s.WebhookEnabled)
	l.envString("WEBHOOK_TOKEN", &s.WebhookToken)
	l.envString("API_TOKEN", &s.APIToken)
	l.envString("USER_AGENT", &s.UserAgent)
	l.envInt64("MAX_FILESIZE_ALLOWED", &s.MaxFilesizeAllowed)
	l.envDuration("SLEEP_BETWEEN_BATCHES", &s.SleepBetweenBatches)
	l.envInt("BATCH_SIZE", &s.BatchSize)
	l.envInt("CONCURRENCY", &s.Concurrency)
	l.envFloat("CHECK_DELAY_DAYS", &s.CheckDelayDays)
	l.envDuration("REQUEST_TIMEOUT", &s.RequestTimeout)
	l.envString("LISTEN_ADDR", &s.ListenAddr)
	l.envString("LOG_LEVEL", &s.LogLevel)
	l.envString("LOG_FORMAT", &s.LogFormat)

	// Comma-separated list of SQL LIKE style patterns, e.g. "http%example%".
	if val := os.Getenv(l.envPrefix + "EXCLUDED_PATTERNS"); val != "" {
		var patterns []string
		for _, p := range strings.Split(val, ",") {
			if p = strings.TrimSpace(p); p != "" {
				patterns = append(patterns, p)
			}
		}
		s.ExcludedPatterns = patterns
	}
}

func (l *Loader) envString(key string, dst *string) {
	if val := os.Getenv(l.envPrefix + key); val != "" {
		*dst = val
	}
}

func (l *Loader) envBool(key string, dst *bool) {
	if val := os.Getenv(l.envPrefix + key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func (l *Loader) envInt(key string, dst *int) {
	if val := os.Getenv(l.envPrefix + key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		}
	}
}

func (l *Loader) envInt64(key string, dst *int64) {
	if val := os.Getenv(l.envPrefix + key); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			*dst = n
		}
	}
}

func (l *Loader) envFloat(key string, dst *float64) {
	if val := os.Getenv(l.envPrefix + key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}

func (l *Loader) envDuration(key string, dst *time.Duration) {
	if val := os.Getenv(l.envPrefix + key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		} else if secs, err := strconv.ParseFloat(val, 64); err == nil {
			// Plain numbers are seconds, matching the historical env contract.
			*dst = time.Duration(secs * float64(time.Second))
		}
	}
}
