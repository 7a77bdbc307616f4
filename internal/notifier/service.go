package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"pushstream/internal/eventbus"
	"pushstream/internal/push"
	rtsup "pushstream/internal/runtime/supervisor"
	"pushstream/internal/storage"
	"pushstream/pkg/logx"

	"golang.org/x/time/rate"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const historyMax = 200

// Service implements push.Sink: ledger append plus queued fan-out to
// deliverers. It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log        logx.Logger
	bus        eventbus.Bus
	ledger     Ledger
	deliverers []Deliverer

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan Notification
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	hmu     sync.Mutex
	history []HistoryItem
}

// New builds a stopped service. ledger may be nil (no ledger).
func New(cfg Config, ledger Ledger, log logx.Logger, bus eventbus.Bus, deliverers ...Deliverer) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	s := &Service{
		log:    log.Component("notifier"),
		bus:    bus,
		ledger: ledger,
	}
	s.setDeliverersLocked(deliverers)
	s.applyLocked(cfg)
	return s
}

// Apply swaps limits and retry policy. Worker and queue sizes take effect
// on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		// One worker keeps notifications in arrival order.
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// SetDeliverers replaces the deliverer set; nil entries are dropped.
func (s *Service) SetDeliverers(ds ...Deliverer) {
	s.mu.Lock()
	s.setDeliverersLocked(ds)
	s.mu.Unlock()
}

func (s *Service) setDeliverersLocked(ds []Deliverer) {
	out := make([]Deliverer, 0, len(ds))
	for _, d := range ds {
		if d != nil {
			out = append(out, d)
		}
	}
	s.deliverers = out
}

// Supervisor returns the worker supervisor (nil when not running).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Start launches the workers. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan Notification, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	sup, q, workers := s.sup, s.queue, s.cfg.Workers
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("notifier.worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			if s.stopping() {
				return context.Canceled
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("notifier worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
}

func (s *Service) stopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopDone != nil
}

// Stop refuses new events and drains the queue until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q, sup := s.queue, s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.sendWG.Wait()
		close(q)
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.queue = nil
		s.sup = nil
		s.stopDone = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("notifier drain timed out", logx.Int("pending", len(q)))
		sup.Cancel()
	}
}

// Deliver records ev in the ledger and queues it for every deliverer.
// A ledger failure is logged and does not stop the notification.
func (s *Service) Deliver(ctx context.Context, ev push.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.ledger != nil {
		entry := storage.LedgerEntry{
			Timestamp: float64(ev.CreatedAt),
			Content:   ev.Content,
			Source:    ev.Source,
			EventID:   ev.ID,
		}
		if err := s.ledger.AppendLedger(ctx, entry); err != nil {
			s.log.Error("ledger append failed", logx.String("id", ev.ID), logx.Err(err))
		}
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return nil
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	select {
	case q <- notificationFor(ev):
		return nil
	default:
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeNotifierDropped, Data: eventbus.Delivery{EventID: ev.ID, Err: ErrQueueFull.Error()}})
		return ErrQueueFull
	}
}

// History returns the most recent delivery outcomes, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(it HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > historyMax {
		s.history = s.history[len(s.history)-historyMax:]
	}
	s.hmu.Unlock()
}

func (s *Service) workerLoop(ctx context.Context, q <-chan Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-q:
			if !ok {
				return
			}
			s.mu.Lock()
			ds := append([]Deliverer(nil), s.deliverers...)
			s.mu.Unlock()
			for _, d := range ds {
				s.sendWithRetry(ctx, d, n)
			}
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, d Deliverer, n Notification) {
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()

	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	attempt := 1
	for ; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := d.Send(callCtx, n)
		cancel()
		if err == nil {
			s.appendHistory(HistoryItem{At: time.Now(), EventID: n.EventID, Deliverer: d.Name()})
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeNotifierSent, Data: eventbus.Delivery{EventID: n.EventID, Deliverer: d.Name(), Attempts: attempt}})
			return
		}
		lastErr = err
		s.log.Debug("deliver attempt failed", logx.String("deliverer", d.Name()), logx.String("id", n.EventID), logx.Int("attempt", attempt), logx.Err(err))

		if attempt == maxAttempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}

	s.log.Warn("deliver failed", logx.String("deliverer", d.Name()), logx.String("id", n.EventID), logx.Int("attempts", maxAttempts), logx.Err(lastErr))
	s.appendHistory(HistoryItem{At: time.Now(), EventID: n.EventID, Deliverer: d.Name(), Err: lastErr.Error()})
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeNotifierFailed, Data: eventbus.Delivery{EventID: n.EventID, Deliverer: d.Name(), Attempts: maxAttempts, Err: lastErr.Error()}})
}

// retryDelay is base*2^(attempt-1) capped at RetryMaxDelay, plus up to 20% jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = min(d, cfg.RetryMaxDelay)
	if j := int64(d) / 5; j > 0 {
		d += time.Duration(rand.Int64N(j + 1))
	}
	return d
}
