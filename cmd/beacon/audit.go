package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/five82/beacon/internal/app"
	"github.com/five82/beacon/internal/store"
	"github.com/five82/beacon/internal/torrentino"
)

const (
	auditTimeout      = 30 * time.Second
	defaultAuditLimit = 100
	auditDataWidth    = 80
)

// auditCmd returns the audit log query subcommand.
func auditCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the server's audit log",
		Long: `Page through audit events, newest first as the server returns them.
--from and --to accept RFC 3339 timestamps or plain dates (2006-01-02).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAudit(cmd, flags)
		},
	}
	cmd.Flags().String("ticket", "", "Only events for this ticket id")
	cmd.Flags().String("type", "", "Only events of this type")
	cmd.Flags().String("user", "", "Only events caused by this user id")
	cmd.Flags().String("from", "", "Only events at or after this time")
	cmd.Flags().String("to", "", "Only events at or before this time")
	cmd.Flags().IntP("limit", "n", defaultAuditLimit, "Maximum number of events (0 for all)")
	cmd.Flags().Bool("json", false, "Output in JSON format")
	return cmd
}

func runAudit(cmd *cobra.Command, flags *rootFlags) error {
	query, err := auditQueryFromFlags(cmd)
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	if limit < 0 {
		return fmt.Errorf("--limit must not be negative")
	}
	jsonOutput, _ := cmd.Flags().GetBool("json")

	settings, err := app.LoadSettings(flags.options())
	if err != nil {
		return err
	}
	log := app.ConsoleLogger(cmd.ErrOrStderr(), max(settings.Config.LogLevel, zerolog.WarnLevel))

	session, err := app.NewSession(app.SessionOptions{
		Config:     settings.Config,
		Credential: settings.Credential,
		Logger:     log,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), auditTimeout)
	defer cancel()
	snap, err := collectAudit(ctx, session.Audit, query, limit)
	if err != nil {
		return fmt.Errorf("query audit log: %s", torrentino.Describe(err))
	}

	events := make([]torrentino.AuditRecord, 0, len(snap.Items))
	for _, e := range snap.Items {
		if limit > 0 && len(events) == limit {
			break
		}
		events = append(events, e.Value)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Total  int                      `json:"total"`
			Events []torrentino.AuditRecord `json:"events"`
		}{Total: snap.Total, Events: events})
	}
	printAudit(cmd.OutOrStdout(), events, snap.Total, time.Now())
	return nil
}

// collectAudit loads pages until limit events are cached or the log is
// exhausted.
func collectAudit(ctx context.Context, audit *store.Audit, query torrentino.AuditQuery, limit int) (store.AuditSnapshot, error) {
	if err := audit.FetchList(ctx, query, false); err != nil {
		return store.AuditSnapshot{}, err
	}
	for {
		snap := audit.Snapshot()
		if !snap.HasMore() || (limit > 0 && len(snap.Items) >= limit) {
			return snap, nil
		}
		before := len(snap.Items)
		if err := audit.LoadMore(ctx); err != nil {
			return store.AuditSnapshot{}, err
		}
		if len(audit.Snapshot().Items) == before {
			// The server reported more than it hands out.
			return audit.Snapshot(), nil
		}
	}
}

func auditQueryFromFlags(cmd *cobra.Command) (torrentino.AuditQuery, error) {
	var q torrentino.AuditQuery
	q.TicketID, _ = cmd.Flags().GetString("ticket")
	q.EventType, _ = cmd.Flags().GetString("type")
	q.UserID, _ = cmd.Flags().GetString("user")

	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	var err error
	if q.From, err = parseAuditTime("from", from); err != nil {
		return q, err
	}
	if q.To, err = parseAuditTime("to", to); err != nil {
		return q, err
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return q, fmt.Errorf("--to is before --from")
	}
	return q, nil
}

func parseAuditTime(flag, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, value, time.Local); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("--%s: want RFC 3339 or YYYY-MM-DD, got %q", flag, value)
}

func printAudit(w io.Writer, events []torrentino.AuditRecord, total int, now time.Time) {
	if len(events) == 0 {
		fmt.Fprintln(w, "no audit events")
		return
	}
	for _, e := range events {
		when := e.Timestamp
		if ts := e.ParsedTimestamp(); !ts.IsZero() {
			when = ts.Local().Format(time.DateTime) + " (" + humanize.RelTime(ts, now, "ago", "from now") + ")"
		}
		line := fmt.Sprintf("%-6d %s  %s", e.ID, when, e.EventType)
		if e.TicketID != "" {
			line += "  ticket=" + e.TicketID
		}
		if e.UserID != "" {
			line += "  user=" + e.UserID
		}
		if data := compactData(e.Data); data != "" {
			line += "  " + data
		}
		fmt.Fprintln(w, line)
	}
	if total > len(events) {
		fmt.Fprintf(w, "showing %d of %d events\n", len(events), total)
	}
}

func compactData(raw json.RawMessage) string {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" || text == "{}" {
		return ""
	}
	runes := []rune(text)
	if len(runes) > auditDataWidth {
		return string(runes[:auditDataWidth-1]) + "…"
	}
	return text
}
