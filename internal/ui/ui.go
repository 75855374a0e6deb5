// Package ui renders the beacon dashboard with Bubble Tea. It only reads
// store snapshots and invokes store operations; all synchronization lives
// in the stores and the session.
package ui

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/five82/beacon/internal/state"
	"github.com/five82/beacon/internal/store"
)

// Control is the part of the session the dashboard drives directly.
type Control interface {
	Context() context.Context
	Refresh(ctx context.Context) error
	Reconnect()
	SetCredential(key string)
}

// Options configures the UI.
type Options struct {
	Control      Control
	Health       *state.Store
	Tickets      *store.Tickets
	Torrents     *store.Torrents
	Pipeline     *store.Pipeline
	Orchestrator *store.Orchestrator

	ThemeName string
	// Tick drives the clock in the header and connectivity checks.
	Tick time.Duration

	// SaveTheme and SaveCredential persist user choices. Either may be nil.
	SaveTheme      func(name string) error
	SaveCredential func(key string) error
}

// Run starts the Bubble Tea program and blocks until the user quits or the
// control's context is cancelled.
func Run(opts Options) error {
	m := New(opts)
	defer m.Close()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(opts.Control.Context()))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}
