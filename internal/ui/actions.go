package ui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/five82/beacon/internal/torrentino"
)

const (
	cancelReason = "cancelled from beacon"
	rejectReason = "rejected from beacon"
)

// actionCmd runs op under the session context and reports the outcome.
func (m Model) actionCmd(label string, op func(context.Context) error) tea.Cmd {
	ctx := m.opts.Control.Context()
	return func() tea.Msg {
		return actionMsg{label: label, err: op(ctx)}
	}
}

// quietCmd runs op without a flash on success; failures already show up in
// the store snapshot.
func (m Model) quietCmd(op func(context.Context) error) tea.Cmd {
	ctx := m.opts.Control.Context()
	return func() tea.Msg {
		_ = op(ctx)
		return nil
	}
}

func (m Model) fetchListCmd(v View) tea.Cmd {
	if v == ViewTorrents {
		filters := m.torrents.Filters
		return m.quietCmd(func(ctx context.Context) error {
			return m.opts.Torrents.FetchList(ctx, filters, false)
		})
	}
	filters := m.tickets.Filters
	return m.quietCmd(func(ctx context.Context) error {
		return m.opts.Tickets.FetchList(ctx, filters, false)
	})
}

func (m Model) fetchDetailCmd(v View, id string) tea.Cmd {
	if v == ViewTorrents {
		return m.quietCmd(func(ctx context.Context) error {
			return m.opts.Torrents.FetchDetail(ctx, id)
		})
	}
	return m.quietCmd(func(ctx context.Context) error {
		if err := m.opts.Tickets.FetchDetail(ctx, id); err != nil {
			return err
		}
		return m.opts.Pipeline.FetchProgress(ctx, id)
	})
}

func (m Model) loadMoreCmd() tea.Cmd {
	if m.currentView == ViewTorrents {
		if !m.torrents.HasMore() {
			return nil
		}
		return m.quietCmd(m.opts.Torrents.LoadMore)
	}
	if !m.tickets.HasMore() {
		return nil
	}
	return m.quietCmd(m.opts.Tickets.LoadMore)
}

// cycleFilterCmd advances the state filter of the current list and reloads
// it from the first page.
func (m *Model) cycleFilterCmd() tea.Cmd {
	m.closeDetail()
	m.selected[m.currentView] = 0
	if m.currentView == ViewTorrents {
		filters := m.torrents.Filters
		filters.State = nextFilter(torrentFilters, filters.State)
		m.torrents.Filters = filters
		return m.quietCmd(func(ctx context.Context) error {
			return m.opts.Torrents.FetchList(ctx, filters, false)
		})
	}
	filters := m.tickets.Filters
	filters.State = nextFilter(ticketFilters, filters.State)
	m.tickets.Filters = filters
	return m.quietCmd(func(ctx context.Context) error {
		return m.opts.Tickets.FetchList(ctx, filters, false)
	})
}

func nextFilter(cycle []string, current string) string {
	for i, f := range cycle {
		if f == current {
			return cycle[(i+1)%len(cycle)]
		}
	}
	return cycle[0]
}

func filterLabel(f string) string {
	if f == "" {
		return "all"
	}
	return f
}

func (m Model) refreshCmd() tea.Cmd {
	return m.actionCmd("Refreshed", m.opts.Control.Refresh)
}

func (m Model) toggleOrchestratorCmd() tea.Cmd {
	if !m.orchestrator.Loaded {
		return nil
	}
	if m.orchestrator.Value.Running {
		return m.actionCmd("Orchestrator stopped", m.opts.Orchestrator.Stop)
	}
	return m.actionCmd("Orchestrator started", m.opts.Orchestrator.Start)
}

func (m Model) ticketActionCmd(msg tea.KeyMsg) tea.Cmd {
	id := m.selectedID()
	if id == "" {
		return nil
	}
	short := shortID(id)
	tickets := m.opts.Tickets

	switch {
	case key.Matches(msg, m.keys.Cancel):
		return m.actionCmd("Cancelled ticket "+short, func(ctx context.Context) error {
			return tickets.Cancel(ctx, id, cancelReason)
		})
	case key.Matches(msg, m.keys.Retry):
		return m.actionCmd("Retrying ticket "+short, func(ctx context.Context) error {
			return tickets.Retry(ctx, id)
		})
	case key.Matches(msg, m.keys.Approve):
		return m.actionCmd("Approved ticket "+short, func(ctx context.Context) error {
			return tickets.Approve(ctx, id, 0)
		})
	case key.Matches(msg, m.keys.Reject):
		return m.actionCmd("Rejected ticket "+short, func(ctx context.Context) error {
			return tickets.Reject(ctx, id, rejectReason)
		})
	}
	return nil
}

func (m Model) torrentActionCmd(msg tea.KeyMsg) tea.Cmd {
	sel := m.selected[ViewTorrents]
	if sel >= len(m.torrents.Items) {
		return nil
	}
	t := m.torrents.Items[sel].Value
	torrents := m.opts.Torrents
	name := truncate(t.Name, 32)

	switch {
	case key.Matches(msg, m.keys.PauseResume):
		if t.State == torrentino.TorrentPaused {
			return m.actionCmd("Resumed "+name, func(ctx context.Context) error {
				return torrents.Resume(ctx, t.Hash)
			})
		}
		return m.actionCmd("Paused "+name, func(ctx context.Context) error {
			return torrents.Pause(ctx, t.Hash)
		})
	case key.Matches(msg, m.keys.Recheck):
		return m.actionCmd("Rechecking "+name, func(ctx context.Context) error {
			return torrents.Recheck(ctx, t.Hash)
		})
	}
	return nil
}

// submitCredentialCmd persists the key, then hands it to the session, which
// reloads everything with it.
func (m Model) submitCredentialCmd(credential string) tea.Cmd {
	save := m.opts.SaveCredential
	control := m.opts.Control
	return func() tea.Msg {
		control.SetCredential(credential)
		if save != nil {
			if err := save(credential); err != nil {
				return actionMsg{err: fmt.Errorf("save credential: %w", err)}
			}
		}
		return actionMsg{label: "API key updated"}
	}
}
