package app

import (
	"context"
	"strings"

	"pushstream/internal/config"
	"pushstream/internal/eventbus"
	"pushstream/pkg/logx"
)

// validateReload rejects reloads whose live sections cannot be applied.
func (a *App) validateReload(_ context.Context, cfg *config.Config) error {
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTelegramConfig(cfg); err != nil {
		return err
	}
	return nil
}

func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(sub)
	applied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			a.applyReload(applied, next)
			applied = next
		}
	}
}

func (a *App) applyReload(prev, next *config.Config) {
	changed, attrs, restart := config.SummarizeChange(prev, next)
	if len(changed) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	if len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(restart, ",")))
	}

	for _, s := range changed {
		switch s {
		case "telegram":
			if err := a.relay.apply(next, a.logs.Logger()); err != nil {
				a.log.Warn("telegram reload failed; relay disabled", logx.Err(err))
				a.relay.set(nil)
			}
		case "notifier":
			if ncfg, err := mapNotifierConfig(next); err == nil {
				a.notif.Apply(ncfg)
			}
		}
	}
	a.notif.SetDeliverers(deliverers(next, a.relay)...)
	a.logs.Apply(mapLogConfig(next))

	fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	a.bus.Publish(eventbusConfigReloaded(changed))
}

func eventbusConfigReloaded(changed []string) eventbus.Event {
	return eventbus.Event{Type: eventbus.TypeConfigReloaded, Data: strings.Join(changed, ",")}
}
