package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines all keyboard bindings for the dashboard.
type keyMap struct {
	// Global
	Quit       key.Binding
	Help       key.Binding
	CycleTheme key.Binding
	SwitchView key.Binding
	Escape     key.Binding

	// Navigation
	Up       key.Binding
	Down     key.Binding
	Top      key.Binding
	Bottom   key.Binding
	Open     key.Binding
	LoadMore key.Binding

	// Data
	CycleFilter key.Binding
	Refresh     key.Binding
	Reconnect   key.Binding
	Credential  key.Binding
	ToggleOrch  key.Binding

	// Tickets
	Cancel  key.Binding
	Retry   key.Binding
	Approve key.Binding
	Reject  key.Binding

	// Torrents
	PauseResume key.Binding
	Recheck     key.Binding

	Delete key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() keyMap {
	return keyMap{
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c", "e"),
			key.WithHelp("e", "quit"),
		),
		Help: key.NewBinding(
			key.WithKeys("h", "?"),
			key.WithHelp("h/?", "toggle help"),
		),
		CycleTheme: key.NewBinding(
			key.WithKeys("T"),
			key.WithHelp("T", "cycle theme"),
		),
		SwitchView: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "tickets/torrents"),
		),
		Escape: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "close detail"),
		),

		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "down"),
		),
		Top: key.NewBinding(
			key.WithKeys("g", "home"),
			key.WithHelp("g", "top"),
		),
		Bottom: key.NewBinding(
			key.WithKeys("G", "end"),
			key.WithHelp("G", "bottom"),
		),
		Open: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "detail"),
		),
		LoadMore: key.NewBinding(
			key.WithKeys("m"),
			key.WithHelp("m", "load more"),
		),

		CycleFilter: key.NewBinding(
			key.WithKeys("f"),
			key.WithHelp("f", "cycle filter"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Reconnect: key.NewBinding(
			key.WithKeys("R"),
			key.WithHelp("R", "reconnect push"),
		),
		Credential: key.NewBinding(
			key.WithKeys("K"),
			key.WithHelp("K", "enter API key"),
		),
		ToggleOrch: key.NewBinding(
			key.WithKeys("o"),
			key.WithHelp("o", "start/stop orchestrator"),
		),

		Cancel: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "cancel ticket"),
		),
		Retry: key.NewBinding(
			key.WithKeys("y"),
			key.WithHelp("y", "retry ticket"),
		),
		Approve: key.NewBinding(
			key.WithKeys("a"),
			key.WithHelp("a", "approve first candidate"),
		),
		Reject: key.NewBinding(
			key.WithKeys("n"),
			key.WithHelp("n", "reject ticket"),
		),

		PauseResume: key.NewBinding(
			key.WithKeys("p"),
			key.WithHelp("p", "pause/resume torrent"),
		),
		Recheck: key.NewBinding(
			key.WithKeys("C"),
			key.WithHelp("C", "recheck torrent"),
		),

		Delete: key.NewBinding(
			key.WithKeys("D"),
			key.WithHelp("D", "delete"),
		),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.SwitchView, k.Open, k.CycleFilter, k.Refresh, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Top, k.Bottom, k.Open, k.Escape, k.LoadMore},
		{k.SwitchView, k.CycleFilter, k.Refresh, k.Reconnect, k.Credential, k.ToggleOrch},
		{k.Cancel, k.Retry, k.Approve, k.Reject, k.PauseResume, k.Recheck, k.Delete},
		{k.CycleTheme, k.Help, k.Quit},
	}
}
