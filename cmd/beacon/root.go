package main

import (
	"github.com/spf13/cobra"

	"github.com/five82/beacon/internal/app"
)

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
	prefsPath  string
	baseURL    string
	apiKey     string
}

func (f *rootFlags) options() app.Options {
	return app.Options{
		ConfigPath: f.configPath,
		PrefsPath:  f.prefsPath,
		BaseURL:    f.baseURL,
		APIKey:     f.apiKey,
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "beacon",
		Short: "Beacon - a live dashboard for torrentino",
		Long: `Beacon keeps a live view of a torrentino server's tickets, torrents and
pipeline over its push channel, falling back to polling when the channel
is down. Run without a subcommand to open the dashboard.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Run(cmd.Context(), flags.options())
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (default ~/.config/beacon/config.toml)")
	pf.StringVar(&flags.prefsPath, "prefs", "", "preferences file (default ~/.config/beacon/prefs.toml)")
	pf.StringVar(&flags.baseURL, "base-url", "", "torrentino server URL, overrides config")
	pf.StringVar(&flags.apiKey, "api-key", "", "torrentino API key, overrides config and prefs")

	cmd.AddCommand(watchCmd(flags), statusCmd(flags), auditCmd(flags), logsCmd(flags))
	return cmd
}
