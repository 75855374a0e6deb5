package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/five82/beacon/internal/config"
	"github.com/five82/beacon/internal/prefs"
	"github.com/five82/beacon/internal/ui"
)

// Options configure the beacon application.
type Options struct {
	ConfigPath string
	PrefsPath  string // empty uses default ~/.config/beacon/prefs.toml
	BaseURL    string // overrides config when set
	APIKey     string // overrides config and prefs when set
}

// Settings is the merged view of config, prefs and command-line overrides.
type Settings struct {
	Config config.Config
	Prefs  prefs.Prefs
	// Credential is the API key to use: the flag, else a key saved from the
	// dashboard, else the config file or environment.
	Credential string
}

// LoadSettings reads config and prefs and applies opts' overrides.
func LoadSettings(opts Options) (Settings, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return Settings{}, fmt.Errorf("load beacon config: %w", err)
	}
	if v := strings.TrimSpace(opts.BaseURL); v != "" {
		cfg.BaseURL = v
	}

	userPrefs, _ := prefs.Load(opts.PrefsPath)

	credential := cfg.APIKey
	if userPrefs.APIKey != "" {
		credential = userPrefs.APIKey
	}
	if v := strings.TrimSpace(opts.APIKey); v != "" {
		credential = v
	}
	return Settings{Config: cfg, Prefs: userPrefs, Credential: credential}, nil
}

// Open builds a started Session from settings. Callers must Close it.
func Open(ctx context.Context, settings Settings, log zerolog.Logger) (*Session, error) {
	session, err := NewSession(SessionOptions{
		Config:     settings.Config,
		Credential: settings.Credential,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}
	if err := session.Start(ctx); err != nil {
		session.Close()
		return nil, err
	}
	return session, nil
}

// Run boots the beacon dashboard until the user quits or ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	settings, err := LoadSettings(opts)
	if err != nil {
		return err
	}

	log, logFile, err := OpenLogFile(settings.Config)
	if err != nil {
		return err
	}
	defer func() { _ = logFile.Close() }()

	session, err := Open(ctx, settings, log)
	if err != nil {
		return err
	}
	defer session.Close()

	// Theme and credential changes both rewrite the prefs file, so they
	// share one copy of it.
	userPrefs := settings.Prefs
	prefsPath := opts.PrefsPath
	return ui.Run(ui.Options{
		Control:      session,
		Health:       session.Health,
		Tickets:      session.Tickets,
		Torrents:     session.Torrents,
		Pipeline:     session.Pipeline,
		Orchestrator: session.Orchestrator,
		ThemeName:    userPrefs.Theme,
		SaveTheme: func(name string) error {
			userPrefs.Theme = name
			return prefs.Save(prefsPath, userPrefs)
		},
		SaveCredential: func(key string) error {
			userPrefs.APIKey = key
			return prefs.Save(prefsPath, userPrefs)
		},
	})
}
