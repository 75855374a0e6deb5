package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/five82/beacon/internal/app"
	"github.com/five82/beacon/internal/store"
	"github.com/five82/beacon/internal/torrentino"
)

const statusTimeout = 15 * time.Second

// statusReport is the one-shot snapshot printed by `beacon status`.
type statusReport struct {
	BaseURL      string                        `json:"base_url"`
	Orchestrator torrentino.OrchestratorStatus `json:"orchestrator"`
	Pipeline     torrentino.PipelineStatus     `json:"pipeline"`
	Tickets      listSummary                   `json:"tickets"`
	Torrents     listSummary                   `json:"torrents"`
	DownloadBps  uint64                        `json:"download_bps"`
	UploadBps    uint64                        `json:"upload_bps"`
}

// listSummary counts the first page of a list by state.
type listSummary struct {
	Total   int            `json:"total"`
	Loaded  int            `json:"loaded"`
	ByState map[string]int `json:"by_state"`
}

// statusCmd returns the one-shot status subcommand.
func statusCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print a one-shot snapshot of the server",
		Long:  "Fetch orchestrator, pipeline, ticket and torrent state over REST and print a summary.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, flags)
		},
	}
	cmd.Flags().Bool("json", false, "Output in JSON format")
	return cmd
}

func runStatus(cmd *cobra.Command, flags *rootFlags) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	settings, err := app.LoadSettings(flags.options())
	if err != nil {
		return err
	}
	log := app.ConsoleLogger(cmd.ErrOrStderr(), max(settings.Config.LogLevel, zerolog.WarnLevel))

	// No Start: a snapshot needs REST only.
	session, err := app.NewSession(app.SessionOptions{
		Config:     settings.Config,
		Credential: settings.Credential,
		Logger:     log,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
	defer cancel()
	if err := session.Refresh(ctx); err != nil {
		return fmt.Errorf("fetch status: %s", torrentino.Describe(err))
	}

	report := buildReport(session)
	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printReport(cmd.OutOrStdout(), report)
	return nil
}

func buildReport(s *app.Session) statusReport {
	tickets := s.Tickets.Snapshot()
	torrents := s.Torrents.Snapshot()

	report := statusReport{
		BaseURL:      s.Client.BaseURL(),
		Orchestrator: s.Orchestrator.Snapshot().Value,
		Pipeline:     s.Pipeline.Snapshot().Value,
		Tickets:      summarize(tickets.Items, tickets.Total, func(t torrentino.Ticket) string { return t.State.Type }),
		Torrents:     summarize(torrents.Items, torrents.Total, func(t torrentino.Torrent) string { return t.State }),
	}
	for _, e := range torrents.Items {
		report.DownloadBps += e.Value.DownloadSpeed
		report.UploadBps += e.Value.UploadSpeed
	}
	return report
}

func summarize[T any](items []store.Entry[T], total int, stateOf func(T) string) listSummary {
	sum := listSummary{Total: total, Loaded: len(items), ByState: make(map[string]int)}
	for _, e := range items {
		sum.ByState[stateOf(e.Value)]++
	}
	return sum
}

func printReport(w io.Writer, r statusReport) {
	fmt.Fprintf(w, "server        %s\n", r.BaseURL)

	o := r.Orchestrator
	run := "stopped"
	if o.Running {
		run = "running"
	}
	if !o.Available {
		run = "unavailable"
	}
	fmt.Fprintf(w, "orchestrator  %s (active %d, acquiring %d, pending %d, needs approval %d, downloading %d)\n",
		run, o.ActiveDownloads, o.AcquiringCount, o.PendingCount, o.NeedsApprovalCount, o.DownloadingCount)

	p := r.Pipeline
	switch {
	case !p.Available:
		fmt.Fprintln(w, "pipeline      unavailable")
	default:
		fmt.Fprintf(w, "pipeline      converting %d, placing %d\n", len(p.ConvertingTickets), len(p.PlacingTickets))
	}

	fmt.Fprintf(w, "tickets       %d total  %s\n", r.Tickets.Total, formatCounts(r.Tickets.ByState))
	fmt.Fprintf(w, "torrents      %d total  %s\n", r.Torrents.Total, formatCounts(r.Torrents.ByState))
	fmt.Fprintf(w, "transfer      down %s/s  up %s/s\n", humanize.IBytes(r.DownloadBps), humanize.IBytes(r.UploadBps))
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}
