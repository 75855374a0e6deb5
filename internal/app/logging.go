package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/five82/beacon/internal/config"
)

// OpenLogFile returns a JSON logger appending to cfg.LogFile. The dashboard
// owns the terminal, so this is where its logs go. Callers close the file.
func OpenLogFile(cfg config.Config) (zerolog.Logger, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
	}
	log := zerolog.New(f).Level(cfg.LogLevel).With().Timestamp().Logger()
	return log, f, nil
}

// ConsoleLogger returns a human-readable logger for headless commands.
func ConsoleLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}).
		Level(level).
		With().Timestamp().
		Logger()
}
