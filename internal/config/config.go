package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
)

// Config captures how beacon reaches a torrentino server and how it behaves.
type Config struct {
	BaseURL              string
	APIKey               string
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	PollInterval         time.Duration
	PageSize             int
	LogLevel             zerolog.Level
	LogFile              string
}

const (
	defaultConfigPath        = "~/.config/beacon/config.toml"
	defaultLogFile           = "~/.local/state/beacon/beacon.log"
	defaultBaseURL           = "http://127.0.0.1:3000"
	defaultReconnectInterval = 3 * time.Second
	defaultMaxReconnects     = 10
	defaultPollInterval      = 5 * time.Second
	defaultPageSize          = 50

	envBaseURL = "BEACON_BASE_URL"
	envAPIKey  = "BEACON_API_KEY"
)

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		BaseURL:              defaultBaseURL,
		ReconnectInterval:    defaultReconnectInterval,
		MaxReconnectAttempts: defaultMaxReconnects,
		PollInterval:         defaultPollInterval,
		PageSize:             defaultPageSize,
		LogLevel:             zerolog.InfoLevel,
		LogFile:              mustExpand(defaultLogFile),
	}
}

// Load locates and parses the beacon config, falling back to defaults when
// missing. BEACON_BASE_URL and BEACON_API_KEY override the file.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnv(&cfg)
			return cfg, nil
		}
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var raw struct {
		BaseURL              string `toml:"base_url"`
		APIKey               string `toml:"api_key"`
		ReconnectInterval    string `toml:"reconnect_interval"`
		MaxReconnectAttempts *int   `toml:"max_reconnect_attempts"`
		PollInterval         string `toml:"poll_interval"`
		PageSize             int    `toml:"page_size"`
		LogLevel             string `toml:"log_level"`
		LogFile              string `toml:"log_file"`
	}
	if err := toml.Unmarshal(bytes, &raw); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if v := strings.TrimSpace(raw.BaseURL); v != "" {
		cfg.BaseURL = v
	}
	cfg.APIKey = strings.TrimSpace(raw.APIKey)

	if cfg.ReconnectInterval, err = parseDuration("reconnect_interval", raw.ReconnectInterval, defaultReconnectInterval); err != nil {
		return Config{}, err
	}
	if cfg.PollInterval, err = parseDuration("poll_interval", raw.PollInterval, defaultPollInterval); err != nil {
		return Config{}, err
	}

	if raw.MaxReconnectAttempts != nil {
		if *raw.MaxReconnectAttempts < 0 {
			return Config{}, fmt.Errorf("parse config: max_reconnect_attempts must not be negative")
		}
		cfg.MaxReconnectAttempts = *raw.MaxReconnectAttempts
	}
	if raw.PageSize > 0 {
		cfg.PageSize = raw.PageSize
	}

	if v := strings.TrimSpace(raw.LogLevel); v != "" {
		level, err := zerolog.ParseLevel(strings.ToLower(v))
		if err != nil {
			return Config{}, fmt.Errorf("parse config: log_level: %w", err)
		}
		cfg.LogLevel = level
	}
	if v := strings.TrimSpace(raw.LogFile); v != "" {
		cfg.LogFile = mustExpand(v)
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(envBaseURL)); v != "" {
		cfg.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(envAPIKey)); v != "" {
		cfg.APIKey = v
	}
}

func parseDuration(field, value string, fallback time.Duration) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse config: %s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("parse config: %s must be positive", field)
	}
	return d, nil
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
