package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/five82/beacon/internal/app"
	"github.com/five82/beacon/internal/push"
)

// watchCmd returns the headless push stream subcommand.
func watchCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream push messages and connection changes",
		Long: `Connect to the push channel and print every message and connection
transition until interrupted. Logs go to stderr; with --json each message is
also written to stdout as one JSON line.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd, flags)
		},
	}
	cmd.Flags().Bool("json", false, "Write each message to stdout as a JSON line")
	return cmd
}

func runWatch(cmd *cobra.Command, flags *rootFlags) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	settings, err := app.LoadSettings(flags.options())
	if err != nil {
		return err
	}
	log := app.ConsoleLogger(cmd.ErrOrStderr(), settings.Config.LogLevel)

	session, err := app.NewSession(app.SessionOptions{
		Config:     settings.Config,
		Credential: settings.Credential,
		Logger:     log,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	out := cmd.OutOrStdout()
	session.OnMessage(func(m push.Message) {
		if jsonOutput {
			frame, err := push.Encode(m)
			if err != nil {
				log.Warn().Err(err).Msg("encode message")
				return
			}
			fmt.Fprintln(out, string(frame))
			return
		}
		logMessage(log, m)
	})
	session.OnPushStatus(func(st push.Status) {
		ev := log.Info().Str("state", st.State.String()).Int("attempts", st.Attempts)
		if st.Exhausted {
			ev = ev.Bool("exhausted", true)
		}
		if st.LastError != nil {
			ev = ev.AnErr("last_error", st.LastError)
		}
		ev.Msg("push status")
	})

	if err := session.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func logMessage(log zerolog.Logger, m push.Message) {
	if hb, ok := m.(push.Heartbeat); ok {
		log.Debug().Int64("ts", hb.Timestamp).Msg("heartbeat")
		return
	}
	ev := log.Info().Str("type", string(m.Kind()))
	switch m := m.(type) {
	case push.TicketUpdate:
		ev = ev.Str("ticket", m.TicketID).Str("state", m.State)
	case push.TicketDeleted:
		ev = ev.Str("ticket", m.TicketID)
	case push.TorrentProgress:
		ev = ev.Str("hash", m.InfoHash).Float64("pct", m.ProgressPct).Uint64("bps", m.SpeedBps)
	case push.PipelineProgress:
		ev = ev.Str("ticket", m.TicketID).Str("phase", m.Phase).Float64("pct", m.Percent)
	case push.OrchestratorStatus:
		ev = ev.Bool("running", m.Running)
	}
	ev.Msg("push message")
}
