package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/five82/beacon/internal/state"
	"github.com/five82/beacon/internal/store"
	"github.com/five82/beacon/internal/torrentino"
)

// renderMain renders the full dashboard.
func (m Model) renderMain() string {
	styles := m.theme.Styles()

	header := m.renderHeader(styles)
	tabs := m.renderTabs(styles)
	footer := m.renderFooter(styles)

	var detail string
	if m.showDetail {
		detail = m.renderDetail(styles)
	}

	used := lipgloss.Height(header) + lipgloss.Height(tabs) + lipgloss.Height(footer)
	if detail != "" {
		used += lipgloss.Height(detail)
	}
	body := m.renderList(styles, max(m.height-used, 3))

	parts := []string{header, tabs, body}
	if detail != "" {
		parts = append(parts, detail)
	}
	parts = append(parts, footer)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// renderHeader shows connectivity, orchestrator and pipeline status.
func (m Model) renderHeader(styles Styles) string {
	sep := "  "
	parts := []string{styles.Logo.Render("beacon"), m.renderMode(styles)}

	if m.orchestrator.Loaded {
		o := m.orchestrator.Value
		run := styles.WarningText.Render("stopped")
		if o.Running {
			run = styles.SuccessText.Render("running")
		}
		if m.orchestrator.Pending != "" {
			run = m.spinner.View() + " " + run
		}
		parts = append(parts, fmt.Sprintf("%s %s %s",
			styles.FaintText.Render("orchestrator"), run,
			styles.MutedText.Render(fmt.Sprintf("pending %d · approval %d · downloading %d",
				o.PendingCount, o.NeedsApprovalCount, o.DownloadingCount))))
	}

	if m.pipeline.Loaded {
		parts = append(parts, styles.FaintText.Render("pipeline")+" "+m.renderPools(styles))
	}

	if !m.health.LastUpdated.IsZero() {
		parts = append(parts, styles.FaintText.Render("updated "+formatAge(m.health.LastUpdated, m.now)))
	}

	return styles.Header.Width(max(m.width, 1)).Render(strings.Join(parts, sep))
}

func (m Model) renderMode(styles Styles) string {
	mode := m.health.Mode()
	label := mode.String()
	var style lipgloss.Style
	switch mode {
	case state.ModeLive:
		style = styles.SuccessText
	case state.ModeReconnecting:
		style = styles.WarningText
		if n := m.health.Push.Attempts; n > 0 {
			label = fmt.Sprintf("%s (attempt %d)", label, n)
		}
	case state.ModePolling:
		style = styles.WarningText
		label += " · R to reconnect"
	case state.ModeOffline, state.ModeAuthInvalid:
		style = styles.DangerText
		if mode == state.ModeAuthInvalid {
			label += " · K to enter a key"
		}
	default:
		style = styles.MutedText
		label = m.spinner.View() + " " + label
	}
	return style.Bold(true).Render(label)
}

func (m Model) renderPools(styles Styles) string {
	p := m.pipeline.Value
	if !p.Available {
		return styles.MutedText.Render("unavailable")
	}
	var pools []string
	for _, pool := range []*torrentino.PoolStatus{p.ConversionPool, p.PlacementPool} {
		if pool == nil {
			continue
		}
		pools = append(pools, fmt.Sprintf("%s %d/%d (+%d queued)",
			pool.Name, pool.ActiveJobs, pool.MaxConcurrent, pool.QueuedJobs))
	}
	if len(pools) == 0 {
		return styles.MutedText.Render(orDash(p.Message))
	}
	return styles.MutedText.Render(strings.Join(pools, " · "))
}

func (m Model) renderTabs(styles Styles) string {
	tab := func(v View, name string, total int, filter string) string {
		label := fmt.Sprintf("%s (%d) [%s]", name, total, filterLabel(filter))
		if m.currentView == v {
			return styles.Selected.Bold(true).Padding(0, 1).Render(label)
		}
		return styles.MutedText.Padding(0, 1).Render(label)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top,
		tab(ViewTickets, "Tickets", m.tickets.Total, m.tickets.Filters.State),
		" ",
		tab(ViewTorrents, "Torrents", m.torrents.Total, m.torrents.Filters.State),
	)
}

// renderList renders the current list within height rows.
func (m Model) renderList(styles Styles, height int) string {
	var (
		loaded, loading, hasMore bool
		errText                  string
		rows                     []string
		header                   string
		cursor, total            int
	)
	sel := m.selected[m.currentView]

	if m.currentView == ViewTorrents {
		s := m.torrents
		loaded, loading, hasMore, errText = s.Loaded, s.Loading, s.HasMore(), s.Err
		cursor, total = s.Cursor, s.Total
		header = torrentHeader()
		for i, e := range s.Items {
			rows = append(rows, m.torrentRow(styles, e, i == sel))
		}
	} else {
		s := m.tickets
		loaded, loading, hasMore, errText = s.Loaded, s.Loading, s.HasMore(), s.Err
		cursor, total = s.Cursor, s.Total
		header = ticketHeader()
		for i, e := range s.Items {
			rows = append(rows, m.ticketRow(styles, e, i == sel))
		}
	}

	var lines []string
	if errText != "" {
		lines = append(lines, styles.DangerText.Render("! "+errText))
	}
	switch {
	case !loaded && loading:
		lines = append(lines, m.spinner.View()+" "+styles.MutedText.Render("Loading..."))
	case loaded && len(rows) == 0:
		lines = append(lines, styles.MutedText.Render("Nothing here"))
	case len(rows) > 0:
		lines = append(lines, styles.FaintText.Bold(true).Render(header))
		room := height - len(lines) - 1
		lines = append(lines, visibleRows(rows, sel, room)...)
	}

	if hasMore {
		more := fmt.Sprintf("showing %d of %d · m to load more", cursor, total)
		if loading {
			more = m.spinner.View() + " " + more
		}
		lines = append(lines, styles.FaintText.Render(more))
	}

	return lipgloss.NewStyle().Height(height).Render(strings.Join(lines, "\n"))
}

// visibleRows returns the window of rows that keeps sel on screen.
func visibleRows(rows []string, sel, room int) []string {
	if room <= 0 {
		return nil
	}
	if len(rows) <= room {
		return rows
	}
	start := max(sel-room+1, 0)
	return rows[start : start+room]
}

func ticketHeader() string {
	return fmt.Sprintf("%-9s %-16s %4s  %-40s %s", "ID", "STATE", "PRI", "DESCRIPTION", "UPDATED")
}

func (m Model) ticketRow(styles Styles, e store.Entry[torrentino.Ticket], selected bool) string {
	t := e.Value
	stateCell := styles.StatusStyle(t.State.Type).Render(fmt.Sprintf("%-14s", truncate(t.State.Type, 14)))
	if e.Pending != "" {
		stateCell += m.spinner.View()
	}
	updated := formatAge(t.ParsedUpdatedAt(), m.now)
	text := fmt.Sprintf("%-9s %s %4d  %-40s %s",
		shortID(t.ID), padRight(stateCell, 16), t.Priority,
		truncate(t.QueryContext.Description, 40), updated)
	if selected {
		return styles.Selected.Render(text)
	}
	return styles.Text.Render(text)
}

func torrentHeader() string {
	return fmt.Sprintf("%-36s %-13s %-22s %10s %10s %8s %10s", "NAME", "STATE", "PROGRESS", "DOWN", "UP", "ETA", "SIZE")
}

func (m Model) torrentRow(styles Styles, e store.Entry[torrentino.Torrent], selected bool) string {
	t := e.Value
	stateCell := styles.StatusStyle(t.State).Render(fmt.Sprintf("%-11s", truncate(t.State, 11)))
	if e.Pending != "" {
		stateCell += m.spinner.View()
	}
	progress := progressBar(t.Progress, 14) + " " + fmt.Sprintf("%6s", formatPercent(t.Progress))
	text := fmt.Sprintf("%-36s %s %-22s %10s %10s %8s %10s",
		truncate(t.Name, 36), padRight(stateCell, 13), progress,
		formatSpeed(t.DownloadSpeed), formatSpeed(t.UploadSpeed),
		formatETA(t.ETASecs), formatBytes(t.SizeBytes))
	if selected {
		return styles.Selected.Render(text)
	}
	return styles.Text.Render(text)
}

// padRight pads styled text to width cells.
func padRight(s string, width int) string {
	if w := lipgloss.Width(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}

// renderDetail renders the detail pane for the selected item.
func (m Model) renderDetail(styles Styles) string {
	var body string
	if m.currentView == ViewTorrents {
		body = m.torrentDetail(styles)
	} else {
		body = m.ticketDetail(styles)
	}
	return styles.Pane.
		BorderForeground(lipgloss.Color(m.theme.BorderFocus)).
		Width(max(m.width-2, 10)).
		Render(body)
}

func (m Model) ticketDetail(styles Styles) string {
	s := m.tickets
	if s.Detail == nil {
		return m.spinner.View() + " " + styles.MutedText.Render("Loading ticket...")
	}
	t := *s.Detail
	lines := []string{
		styles.AccentText.Bold(true).Render(t.ID) + "  " + styles.StatusStyle(t.State.Type).Render(t.State.Type),
		field(styles, "description", t.QueryContext.Description),
		field(styles, "tags", strings.Join(t.QueryContext.Tags, ", ")),
		field(styles, "destination", t.DestPath),
		field(styles, "created", fmt.Sprintf("%s by %s", formatAge(t.ParsedCreatedAt(), m.now), orDash(t.CreatedBy))),
	}
	if len(t.State.Details) > 0 {
		keys := make([]string, 0, len(t.State.Details))
		for k := range t.State.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			value, ok := store.StateDetail[string](t, k)
			if !ok {
				value = string(t.State.Details[k])
			}
			lines = append(lines, field(styles, k, truncate(value, max(m.width-24, 20))))
		}
	}
	if e, ok := s.Lookup(t.ID, store.TicketID); ok && e.Pending != "" {
		lines = append(lines, field(styles, "pending", string(e.Pending)))
	}
	if p, ok := m.opts.Pipeline.Progress(t.ID); ok {
		lines = append(lines, field(styles, "pipeline", describeProgress(p)))
	}
	if s.DetailLoading {
		lines = append(lines, m.spinner.View()+" "+styles.FaintText.Render("refreshing"))
	}
	return strings.Join(lines, "\n")
}

func (m Model) torrentDetail(styles Styles) string {
	s := m.torrents
	if s.Detail == nil {
		return m.spinner.View() + " " + styles.MutedText.Render("Loading torrent...")
	}
	t := *s.Detail
	lines := []string{
		styles.AccentText.Bold(true).Render(t.Name) + "  " + styles.StatusStyle(t.State).Render(t.State),
		field(styles, "hash", t.Hash),
		field(styles, "progress", fmt.Sprintf("%s %s of %s", formatPercent(t.Progress), formatBytes(t.DownloadedBytes), formatBytes(t.SizeBytes))),
		field(styles, "peers", fmt.Sprintf("%d seeders · %d leechers", t.Seeders, t.Leechers)),
		field(styles, "ratio", fmt.Sprintf("%.2f (%s uploaded)", t.Ratio, formatBytes(t.UploadedBytes))),
		field(styles, "limits", fmt.Sprintf("down %s · up %s", formatLimit(t.DownloadLimit), formatLimit(t.UploadLimit))),
		field(styles, "save path", t.SavePath),
		field(styles, "category", t.Category),
	}
	if e, ok := s.Lookup(t.Hash, store.TorrentID); ok && e.Pending != "" {
		lines = append(lines, field(styles, "pending", string(e.Pending)))
	}
	if s.DetailLoading {
		lines = append(lines, m.spinner.View()+" "+styles.FaintText.Render("refreshing"))
	}
	return strings.Join(lines, "\n")
}

func field(styles Styles, label, value string) string {
	return styles.FaintText.Render(fmt.Sprintf("%-12s", label)) + " " + styles.Text.Render(orDash(value))
}

func describeProgress(p torrentino.TicketProgress) string {
	if p.Error != "" {
		return p.Phase + ": " + p.Error
	}
	if p.Progress == nil {
		return p.Phase
	}
	d := p.Progress
	return fmt.Sprintf("%s %.0f%% · file %d/%d %s", p.Phase, d.Percent, d.CurrentFile, d.TotalFiles, d.CurrentFileName)
}

func (m Model) renderFooter(styles Styles) string {
	var left string
	switch {
	case m.flash != "" && m.flashErr:
		left = styles.DangerText.Render(m.flash)
	case m.flash != "":
		left = styles.SuccessText.Render(m.flash)
	default:
		left = m.help.ShortHelpView(m.keys.ShortHelp())
	}
	if n := len(m.progress); n > 0 {
		left += "  " + styles.InfoText.Render(fmt.Sprintf("%d converting/placing", n))
	}
	return styles.Footer.Width(max(m.width, 1)).Render(left)
}

// renderHelp renders the help overlay.
func (m Model) renderHelp() string {
	styles := m.theme.Styles()
	h := m.help
	h.ShowAll = true

	content := styles.Text.Bold(true).Render("Keyboard Shortcuts") + "\n\n" + h.View(m.keys)
	return m.modal(content)
}

// renderPrompt renders the credential prompt.
func (m Model) renderPrompt() string {
	styles := m.theme.Styles()
	title := "Enter API key"
	if m.health.Mode() == state.ModeAuthInvalid {
		title = "The server rejected the API key"
	}
	content := strings.Join([]string{
		styles.WarningText.Bold(true).Render(title),
		"",
		m.input.View(),
		"",
		styles.FaintText.Render("enter to save · esc to dismiss"),
	}, "\n")
	return m.modal(content)
}

func (m Model) modal(content string) string {
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(m.theme.Accent)).
		Padding(1, 2).
		Render(content)

	return lipgloss.Place(
		m.width,
		m.height,
		lipgloss.Center,
		lipgloss.Center,
		box,
		lipgloss.WithWhitespaceChars(" "),
		lipgloss.WithWhitespaceForeground(lipgloss.Color(m.theme.Background)),
	)
}
