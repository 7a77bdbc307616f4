package app

import (
	"context"
	"errors"
	"sync"

	"pushstream/internal/config"
	"pushstream/internal/notifier"
	"pushstream/internal/transport/telegram"
	"pushstream/pkg/logx"
)

var errRelayDisabled = errors.New("telegram relay disabled")

// relaySwitch holds the current Telegram relay so both the log relay and
// the notifier survive telegram being turned on or off by a reload.
type relaySwitch struct {
	mu  sync.RWMutex
	cur *telegram.Relay
}

func (s *relaySwitch) get() *telegram.Relay {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

func (s *relaySwitch) set(r *telegram.Relay) {
	s.mu.Lock()
	s.cur = r
	s.mu.Unlock()
}

func (s *relaySwitch) SendText(ctx context.Context, text string) error {
	r := s.get()
	if r == nil {
		return errRelayDisabled
	}
	return r.SendText(ctx, text)
}

// apply rebuilds the relay from cfg. A nil relay disables it.
func (s *relaySwitch) apply(cfg *config.Config, log logx.Logger) error {
	if !cfg.Telegram.Enabled {
		s.set(nil)
		return nil
	}
	tc, err := mapTelegramConfig(cfg)
	if err != nil {
		return err
	}
	r, err := telegram.New(tc, log)
	if err != nil {
		return err
	}
	s.set(r)
	return nil
}

// deliverers returns the notifier targets enabled in cfg.
func deliverers(cfg *config.Config, relay *relaySwitch) []notifier.Deliverer {
	var out []notifier.Deliverer
	if config.BoolOr(cfg.Desktop.Enabled, true) {
		out = append(out, notifier.NewDesktop(cfg.Desktop.Command, cfg.Desktop.Args...))
	}
	if r := relay.get(); r != nil {
		out = append(out, r)
	}
	return out
}
