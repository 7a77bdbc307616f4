package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X pushstream/internal/cli.Version=...".
var (
	Version = "dev"
	Commit  = ""
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			v := Version
			if Commit != "" {
				v += " (" + Commit + ")"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pushstream %s %s/%s %s\n", v, runtime.GOOS, runtime.GOARCH, runtime.Version())
		},
	}
}
