// Package cli is the pushstream command line.
package cli

import (
	"github.com/spf13/cobra"
)

// DefaultConfigPath is used when --config is not given. A missing file is
// fine: defaults and environment overrides apply.
const DefaultConfigPath = "./config.json"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
}

// NewRootCommand creates the root command. Without a subcommand it runs the
// client.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	run := NewRunCommand(opts)

	cmd := &cobra.Command{
		Use:   "pushstream",
		Short: "Pushbullet push stream client",
		Long: `pushstream keeps a Pushbullet stream connection open, catches up on
missed pushes over the REST API and delivers every push exactly once to the
desktop (and optionally Telegram).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run.RunE,
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", DefaultConfigPath, "path to config file (json or yaml)")

	cmd.AddCommand(run)
	cmd.AddCommand(NewCatchUpCommand(opts))
	cmd.AddCommand(NewVersionCommand())
	return cmd
}
