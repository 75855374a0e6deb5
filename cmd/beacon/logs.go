package main

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/five82/beacon/internal/app"
	"github.com/five82/beacon/internal/logtail"
)

// logsCmd returns the log viewer subcommand.
func logsCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the end of the dashboard log",
		Long:  "Print the last lines of beacon's log file in human-readable form.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogs(cmd, flags)
		},
	}
	cmd.Flags().IntP("lines", "n", 200, "Number of lines to read from the end of the file")
	cmd.Flags().String("level", "debug", "Minimum level to show")
	cmd.Flags().String("component", "", "Only show entries from this component (push, store, session, ...)")
	cmd.Flags().Bool("no-color", false, "Disable colors")
	return cmd
}

func runLogs(cmd *cobra.Command, flags *rootFlags) error {
	n, _ := cmd.Flags().GetInt("lines")
	levelName, _ := cmd.Flags().GetString("level")
	component, _ := cmd.Flags().GetString("component")
	noColor, _ := cmd.Flags().GetBool("no-color")

	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(levelName)))
	if err != nil {
		return fmt.Errorf("invalid --level: %w", err)
	}

	settings, err := app.LoadSettings(flags.options())
	if err != nil {
		return err
	}
	lines, err := logtail.Read(settings.Config.LogFile, n)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "no log entries in %s\n", settings.Config.LogFile)
		return nil
	}
	return logtail.Render(cmd.OutOrStdout(), lines, logtail.Options{
		MinLevel:  level,
		Component: component,
		NoColor:   noColor,
	})
}
