package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoad_MissingConfigFallsBackToDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(envBaseURL, "")
	t.Setenv(envAPIKey, "")

	cfg, err := Load(filepath.Join(home, "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.BaseURL != defaultBaseURL {
		t.Fatalf("BaseURL = %q, want %q", cfg.BaseURL, defaultBaseURL)
	}
	if cfg.ReconnectInterval != 3*time.Second {
		t.Fatalf("ReconnectInterval = %v, want 3s", cfg.ReconnectInterval)
	}
	if cfg.MaxReconnectAttempts != 10 {
		t.Fatalf("MaxReconnectAttempts = %d, want 10", cfg.MaxReconnectAttempts)
	}
	if cfg.PageSize != defaultPageSize {
		t.Fatalf("PageSize = %d, want %d", cfg.PageSize, defaultPageSize)
	}

	wantLog, err := expandPath(defaultLogFile)
	if err != nil {
		t.Fatalf("expandPath(defaultLogFile) returned error: %v", err)
	}
	if cfg.LogFile != wantLog {
		t.Fatalf("LogFile = %q, want %q", cfg.LogFile, wantLog)
	}
}

func TestLoad_ParsesAndTrimsConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(envBaseURL, "")
	t.Setenv(envAPIKey, "")

	path := writeConfig(t, `
base_url = "  https://torrentino.lan  "
api_key = " s3cret "
reconnect_interval = "1500ms"
max_reconnect_attempts = 0
poll_interval = "30s"
page_size = 25
log_level = "DEBUG"
log_file = "  ~/logs/beacon.log  "
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.BaseURL != "https://torrentino.lan" {
		t.Fatalf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.APIKey != "s3cret" {
		t.Fatalf("APIKey = %q, want s3cret", cfg.APIKey)
	}
	if cfg.ReconnectInterval != 1500*time.Millisecond {
		t.Fatalf("ReconnectInterval = %v, want 1.5s", cfg.ReconnectInterval)
	}
	if cfg.MaxReconnectAttempts != 0 {
		t.Fatalf("MaxReconnectAttempts = %d, want explicit 0", cfg.MaxReconnectAttempts)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Fatalf("PollInterval = %v, want 30s", cfg.PollInterval)
	}
	if cfg.PageSize != 25 {
		t.Fatalf("PageSize = %d, want 25", cfg.PageSize)
	}
	if cfg.LogLevel != zerolog.DebugLevel {
		t.Fatalf("LogLevel = %v, want debug", cfg.LogLevel)
	}
	if !strings.HasPrefix(cfg.LogFile, home) {
		t.Fatalf("LogFile = %q, want it under HOME %q", cfg.LogFile, home)
	}
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv(envBaseURL, "http://10.0.0.5:3000")
	t.Setenv(envAPIKey, "from-env")

	cfg, err := Load(writeConfig(t, `base_url = "http://ignored"
api_key = "ignored"`))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.BaseURL != "http://10.0.0.5:3000" || cfg.APIKey != "from-env" {
		t.Fatalf("env not applied: %#v", cfg)
	}
}

func TestLoad_EmptyValuesUseDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv(envBaseURL, "")

	cfg, err := Load(writeConfig(t, `
base_url = "   "
reconnect_interval = ""
page_size = 0
`))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.BaseURL != defaultBaseURL {
		t.Fatalf("BaseURL = %q, want %q", cfg.BaseURL, defaultBaseURL)
	}
	if cfg.ReconnectInterval != defaultReconnectInterval {
		t.Fatalf("ReconnectInterval = %v, want default", cfg.ReconnectInterval)
	}
	if cfg.PageSize != defaultPageSize {
		t.Fatalf("PageSize = %d, want default", cfg.PageSize)
	}
}

func TestLoad_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name, body, want string
	}{
		{"invalid toml", `base_url = [`, "parse config"},
		{"bad duration", `reconnect_interval = "soon"`, "reconnect_interval"},
		{"zero duration", `poll_interval = "0s"`, "poll_interval must be positive"},
		{"negative attempts", `max_reconnect_attempts = -1`, "max_reconnect_attempts"},
		{"bad level", `log_level = "loud"`, "log_level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatalf("Load returned nil error, want %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Load error = %q, want it to mention %q", err.Error(), tt.want)
			}
		})
	}
}

func TestExpandPath_ExpandsTildeAndReturnsAbs(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := expandPath("~/a/b")
	if err != nil {
		t.Fatalf("expandPath returned error: %v", err)
	}
	want := filepath.Join(home, "a/b")
	if got != want {
		t.Fatalf("expandPath = %q, want %q", got, want)
	}
}

func TestExpandPath_EmptyErrors(t *testing.T) {
	if _, err := expandPath("   "); err == nil {
		t.Fatalf("expandPath returned nil error, want error")
	}
}
