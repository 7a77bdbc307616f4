// Package systemd speaks the sd_notify protocol: readiness, status text,
// stopping, and watchdog keep-alives. Outside systemd (no NOTIFY_SOCKET)
// every call is a no-op.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"pushstream/pkg/logx"
)

type Notifier struct {
	enabled bool
	log     logx.Logger
}

func New(enabled bool, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{enabled: enabled, log: log.Component("systemd")}
}

func (n *Notifier) notify(state string) {
	if n == nil || !n.enabled {
		return
	}
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Trace("sd_notify", logx.String("state", state))
	}
}

func (n *Notifier) Ready()             { n.notify(daemon.SdNotifyReady) }
func (n *Notifier) Stopping()          { n.notify(daemon.SdNotifyStopping) }
func (n *Notifier) Status(text string) { n.notify("STATUS=" + text) }

// WatchdogInterval is half the unit's WatchdogSec, or 0 when the watchdog
// is off.
func (n *Notifier) WatchdogInterval() time.Duration {
	if n == nil || !n.enabled {
		return 0
	}
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0
	}
	return d / 2
}

// RunWatchdog sends WATCHDOG=1 at WatchdogInterval until ctx ends.
// healthy may veto a ping; nil means always healthy.
func (n *Notifier) RunWatchdog(ctx context.Context, healthy func() bool) error {
	every := n.WatchdogInterval()
	if every <= 0 {
		<-ctx.Done()
		return nil
	}
	n.log.Debug("watchdog enabled", logx.Duration("every", every))
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if healthy == nil || healthy() {
				n.notify(daemon.SdNotifyWatchdog)
			}
		}
	}
}
