// Package eventbus is an in-memory fanout of small internal signals
// (connection state changes, delivery outcomes, config reloads).
package eventbus

import (
	"sync"
	"time"
)

// Event types published inside pushstream.
const (
	TypeStreamState     = "stream.state"     // Data: string state name
	TypeCatchUp         = "stream.catchup"   // Data: CatchUp
	TypeNotifierSent    = "notifier.sent"    // Data: Delivery
	TypeNotifierFailed  = "notifier.failed"  // Data: Delivery
	TypeNotifierDropped = "notifier.dropped" // Data: Delivery
	TypeConfigReloaded  = "config.reloaded"  // Data: string summary
)

// CatchUp describes one finished reconciliation pass.
type CatchUp struct {
	Reason    string
	Delivered int
	Err       string
}

// Delivery describes one deliverer outcome for one event.
type Delivery struct {
	EventID   string
	Deliverer string
	Attempts  int
	Err       string
}

// Event is a lightweight signal used to decouple components.
//
// Contract:
//   - Publish never blocks.
//   - Subscribers get buffered channels; a slow subscriber drops events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]*sub{}}
}

type sub struct {
	ch    chan Event
	types map[string]struct{} // nil: everything
}

func (s *sub) wants(t string) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[t]
	return ok
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]*sub
	seq  uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sends are non-blocking, so holding the read lock is cheap and keeps
	// unsubscribe from closing a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.wants(e.Type) {
			continue
		}
		select {
		case s.ch <- e:
		default:
		}
	}
}

// Subscribe returns a channel receiving events of the given types (all
// types when none are given) and a func that closes it.
func (b *memBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &sub{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		s.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}

	b.mu.Lock()
	b.seq++
	id := b.seq
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(s.ch)
			b.mu.Unlock()
		})
	}
	return s.ch, unsub
}

// Nop is a Bus that drops everything.
type Nop struct{}

func (Nop) Publish(Event) {}
func (Nop) Subscribe(int, ...string) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}
