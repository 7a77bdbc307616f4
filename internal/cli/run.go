package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pushstream/internal/app"
	"pushstream/pkg/logx"
)

// StopTimeout bounds the whole shutdown sequence.
const StopTimeout = 10 * time.Second

func NewRunCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the push stream and deliver pushes until stopped",
		Long: `Connect to the push stream and deliver pushes until SIGINT or SIGTERM.

Missed pushes are fetched at startup, on every tickle and on the fetch
schedule. With stream.max_attempts set, the process exits with status 1
once that many consecutive connection attempts failed.

Example:
  pushstream run --config ~/.config/pushstream/config.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runClient(cmd.Context(), opts)
		},
	}
}

func runClient(parent context.Context, opts *RootOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	a, err := app.New(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "startup failed", err)
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	if err := a.Start(ctx); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), StopTimeout)
		defer stopCancel()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return WrapExitError(ExitFailure, "start failed", err)
	}

	reason := app.StopUnknown
	select {
	case sig := <-sigCh:
		reason = app.StopSIGTERM
		if sig == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
	case <-parent.Done():
		reason = app.StopCommandDone
	}
	a.Logger().Info("shutdown requested", logx.String("reason", string(reason)))

	fatal := a.Err()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), StopTimeout)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)

	if fatal != nil {
		return WrapExitError(ExitFailure, "stopped on fatal error", fatal)
	}
	return nil
}
