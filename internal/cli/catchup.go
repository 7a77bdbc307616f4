package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"pushstream/internal/app"
)

func NewCatchUpCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "catchup",
		Short: "Fetch and deliver missed pushes once, then exit",
		Long: `Run a single reconciliation pass against the pushes endpoint, deliver
everything newer than the stored watermark and wait for the notifier to
drain before exiting.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(opts.ConfigPath)
			if err != nil {
				return WrapExitError(ExitCommandError, "startup failed", err)
			}
			res, err := a.CatchUp(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "catch-up failed", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "fetched=%d delivered=%d duplicates=%d skipped=%d watermark=%s\n",
				res.Fetched, res.Delivered, res.Duplicates, res.Skipped, res.Watermark)
			return nil
		},
	}
}
