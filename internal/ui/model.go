package ui

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/five82/beacon/internal/dispatch"
	"github.com/five82/beacon/internal/state"
	"github.com/five82/beacon/internal/store"
	"github.com/five82/beacon/internal/torrentino"
)

// View represents the active list.
type View int

const (
	ViewTickets View = iota
	ViewTorrents
)

var (
	ticketFilters  = []string{"", "needs_approval", "acquiring", "downloading", "failed", "completed"}
	torrentFilters = []string{"", torrentino.TorrentDownloading, torrentino.TorrentSeeding, torrentino.TorrentPaused, torrentino.TorrentError}
)

// watcher bridges store change notifications into the Bubble Tea loop.
// It is shared by every copy of the Model.
type watcher struct {
	changes chan struct{}
	subs    []*dispatch.Subscription
}

func (w *watcher) poke(store.Change) {
	select {
	case w.changes <- struct{}{}:
	default:
	}
}

// Model is the root application state for Bubble Tea.
type Model struct {
	opts  Options
	keys  keyMap
	watch *watcher

	// UI state
	theme       Theme
	currentView View
	width       int
	height      int
	ready       bool
	showHelp    bool
	showDetail  bool
	selected    [2]int
	help        help.Model
	spinner     spinner.Model

	// Credential prompt
	prompting    bool
	authPrompted bool
	input        textinput.Model

	// pendingDelete holds the id armed by the first delete key press.
	pendingDelete string

	flash    string
	flashErr bool

	// Cached snapshots, refreshed on change and tick.
	now          time.Time
	health       state.Snapshot
	tickets      store.TicketSnapshot
	torrents     store.TorrentSnapshot
	pipeline     store.ValueSnapshot[torrentino.PipelineStatus]
	progress     []torrentino.TicketProgress
	orchestrator store.ValueSnapshot[torrentino.OrchestratorStatus]
}

// New creates a new Bubble Tea model and subscribes it to store changes.
// Callers must Close it.
func New(opts Options) Model {
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}

	input := textinput.New()
	input.Placeholder = "API key"
	input.EchoMode = textinput.EchoPassword
	input.EchoCharacter = '•'
	input.CharLimit = 256
	input.Width = 40

	m := Model{
		opts:    opts,
		keys:    DefaultKeyMap(),
		watch:   &watcher{changes: make(chan struct{}, 1)},
		theme:   GetTheme(opts.ThemeName),
		help:    help.New(),
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		input:   input,
		now:     time.Now(),
	}

	for _, r := range []interface {
		OnChange(func(store.Change)) *dispatch.Subscription
	}{opts.Tickets, opts.Torrents, opts.Pipeline, opts.Orchestrator} {
		m.watch.subs = append(m.watch.subs, r.OnChange(m.watch.poke))
	}
	m.refreshSnapshots()
	return m
}

// Close unsubscribes the model from the stores.
func (m Model) Close() {
	for _, sub := range m.watch.subs {
		sub.Unsubscribe()
	}
	m.watch.subs = nil
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		tickCmd(m.opts.Tick),
		waitForChange(m.watch.changes),
		m.spinner.Tick,
	}
	if !m.tickets.Loaded {
		cmds = append(cmds, m.fetchListCmd(ViewTickets))
	}
	if !m.torrents.Loaded {
		cmds = append(cmds, m.fetchListCmd(ViewTorrents))
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.prompting {
			return m.handlePromptKey(msg)
		}
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.ready = true
		return m, nil

	case tickMsg:
		m.now = time.Time(msg)
		m.refreshSnapshots()
		cmd := m.checkAuth()
		return m, tea.Batch(cmd, tickCmd(m.opts.Tick))

	case changedMsg:
		m.refreshSnapshots()
		return m, waitForChange(m.watch.changes)

	case actionMsg:
		m.setFlash(msg)
		m.refreshSnapshots()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	if m.prompting {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	if m.prompting {
		return m.renderPrompt()
	}
	if m.showHelp {
		return m.renderHelp()
	}
	return m.renderMain()
}

func (m *Model) refreshSnapshots() {
	m.health = m.opts.Health.Snapshot()
	m.tickets = m.opts.Tickets.Snapshot()
	m.torrents = m.opts.Torrents.Snapshot()
	m.pipeline = m.opts.Pipeline.Snapshot()
	m.progress = m.opts.Pipeline.ActiveProgress()
	m.orchestrator = m.opts.Orchestrator.Snapshot()
	m.clampSelection()
}

func (m *Model) clampSelection() {
	for _, v := range []View{ViewTickets, ViewTorrents} {
		n := m.rowCount(v)
		switch {
		case n == 0:
			m.selected[v] = 0
		case m.selected[v] >= n:
			m.selected[v] = n - 1
		}
	}
}

func (m Model) rowCount(v View) int {
	if v == ViewTorrents {
		return len(m.torrents.Items)
	}
	return len(m.tickets.Items)
}

// checkAuth opens the credential prompt once per auth failure.
func (m *Model) checkAuth() tea.Cmd {
	if m.health.Mode() != state.ModeAuthInvalid {
		m.authPrompted = false
		return nil
	}
	if m.authPrompted || m.prompting {
		return nil
	}
	m.authPrompted = true
	return m.openPrompt()
}

func (m *Model) openPrompt() tea.Cmd {
	m.prompting = true
	m.input.SetValue("")
	return m.input.Focus()
}

func (m *Model) closePrompt() {
	m.prompting = false
	m.input.Blur()
	m.input.SetValue("")
}

// handlePromptKey processes keyboard input while the credential prompt is open.
func (m Model) handlePromptKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		m.closePrompt()
		return m, nil
	case "enter":
		credential := strings.TrimSpace(m.input.Value())
		if credential == "" {
			return m, nil
		}
		m.closePrompt()
		return m, m.submitCredentialCmd(credential)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleKey processes keyboard input.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showHelp {
		// Any key closes help
		m.showHelp = false
		return m, nil
	}

	if !key.Matches(msg, m.keys.Delete) {
		m.pendingDelete = ""
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.showHelp = true
		return m, nil

	case key.Matches(msg, m.keys.CycleTheme):
		m.theme = GetTheme(NextTheme(m.theme.Name))
		if m.opts.SaveTheme != nil {
			_ = m.opts.SaveTheme(m.theme.Name)
		}
		return m, nil

	case key.Matches(msg, m.keys.SwitchView):
		m.closeDetail()
		if m.currentView == ViewTickets {
			m.currentView = ViewTorrents
		} else {
			m.currentView = ViewTickets
		}
		return m, nil

	case key.Matches(msg, m.keys.Escape):
		m.closeDetail()
		return m, nil

	case key.Matches(msg, m.keys.Up):
		m.move(-1)
		return m, m.followDetail()
	case key.Matches(msg, m.keys.Down):
		m.move(1)
		return m, m.followDetail()
	case key.Matches(msg, m.keys.Top):
		m.selected[m.currentView] = 0
		return m, m.followDetail()
	case key.Matches(msg, m.keys.Bottom):
		m.selected[m.currentView] = max(m.rowCount(m.currentView)-1, 0)
		return m, m.followDetail()

	case key.Matches(msg, m.keys.Open):
		id := m.selectedID()
		if id == "" {
			return m, nil
		}
		m.showDetail = true
		return m, m.fetchDetailCmd(m.currentView, id)

	case key.Matches(msg, m.keys.LoadMore):
		return m, m.loadMoreCmd()

	case key.Matches(msg, m.keys.CycleFilter):
		cmd := m.cycleFilterCmd()
		return m, cmd

	case key.Matches(msg, m.keys.Refresh):
		return m, m.refreshCmd()

	case key.Matches(msg, m.keys.Reconnect):
		m.opts.Control.Reconnect()
		m.flash, m.flashErr = "Reconnecting push channel", false
		return m, nil

	case key.Matches(msg, m.keys.Credential):
		cmd := m.openPrompt()
		return m, cmd

	case key.Matches(msg, m.keys.ToggleOrch):
		return m, m.toggleOrchestratorCmd()

	case key.Matches(msg, m.keys.Delete):
		return m.handleDelete()
	}

	if m.currentView == ViewTickets {
		return m, m.ticketActionCmd(msg)
	}
	return m, m.torrentActionCmd(msg)
}

func (m *Model) move(delta int) {
	n := m.rowCount(m.currentView)
	if n == 0 {
		return
	}
	sel := m.selected[m.currentView] + delta
	m.selected[m.currentView] = min(max(sel, 0), n-1)
}

// followDetail keeps an open detail pane on the selected row.
func (m Model) followDetail() tea.Cmd {
	if !m.showDetail {
		return nil
	}
	id := m.selectedID()
	if id == "" {
		return nil
	}
	return m.fetchDetailCmd(m.currentView, id)
}

func (m *Model) closeDetail() {
	if !m.showDetail {
		return
	}
	m.showDetail = false
	if m.currentView == ViewTickets {
		m.opts.Tickets.ClearDetail()
	} else {
		m.opts.Torrents.ClearDetail()
	}
}

// handleDelete requires two presses on the same row.
func (m Model) handleDelete() (tea.Model, tea.Cmd) {
	id := m.selectedID()
	if id == "" {
		return m, nil
	}
	if m.pendingDelete != id {
		m.pendingDelete = id
		m.flash, m.flashErr = "Press D again to delete "+shortID(id), false
		return m, nil
	}
	m.pendingDelete = ""
	if m.currentView == ViewTickets {
		return m, m.actionCmd("Deleted ticket "+shortID(id), func(ctx context.Context) error {
			return m.opts.Tickets.Delete(ctx, id)
		})
	}
	return m, m.actionCmd("Removed torrent "+shortID(id), func(ctx context.Context) error {
		return m.opts.Torrents.Delete(ctx, id, false)
	})
}

func (m Model) selectedID() string {
	sel := m.selected[m.currentView]
	if m.currentView == ViewTorrents {
		if sel < len(m.torrents.Items) {
			return store.TorrentID(m.torrents.Items[sel].Value)
		}
		return ""
	}
	if sel < len(m.tickets.Items) {
		return store.TicketID(m.tickets.Items[sel].Value)
	}
	return ""
}

func (m *Model) setFlash(msg actionMsg) {
	if msg.err == nil {
		m.flash, m.flashErr = msg.label, false
		return
	}
	m.flash, m.flashErr = describeActionError(msg.err), true
}

func describeActionError(err error) string {
	if errors.Is(err, store.ErrMutationPending) {
		return "Another change to this item is still in flight"
	}
	return torrentino.Describe(err)
}

// Messages

type tickMsg time.Time

type changedMsg struct{}

// actionMsg reports the outcome of a user-triggered operation.
type actionMsg struct {
	label string
	err   error
}

// Commands

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitForChange(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return changedMsg{}
	}
}
